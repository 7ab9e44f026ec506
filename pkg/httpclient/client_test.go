package httpclient

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"streamingcommunity-go/pkg/config"
	"streamingcommunity-go/pkg/logging"
)

func TestGetClientForURL(t *testing.T) {
	log := logging.Discard()

	tests := []struct {
		name          string
		cfg           *config.Config
		targetURL     string
		expectProxy   bool
		expectDefault bool
		expectUTLS    bool
	}{
		{
			name: "uses global proxy when no transport routes match",
			cfg: &config.Config{
				GlobalProxies: []string{"socks5://proxy.example.com:1080"},
			},
			targetURL:   "https://vixcloud.co/embed/1",
			expectProxy: true,
		},
		{
			name: "uses transport route when URL matches",
			cfg: &config.Config{
				GlobalProxies: []string{"socks5://global-proxy.example.com:1080"},
				TransportRoutes: []config.TransportRoute{
					{URLPattern: "vixcloud.co", Proxy: "socks5://specific-proxy.example.com:1080"},
				},
			},
			targetURL:   "https://vixcloud.co/embed/1",
			expectProxy: true,
		},
		{
			name:          "uses default client when no proxy configured",
			cfg:           &config.Config{},
			targetURL:     "https://vixcloud.co/embed/1",
			expectDefault: true,
		},
		{
			name: "uses utls client for fingerprinted domains",
			cfg: &config.Config{
				UTLSDomains: []string{"streamingunity."},
			},
			targetURL:  "https://streamingunity.to/it",
			expectUTLS: true,
		},
		{
			name: "transport route takes precedence over global proxy",
			cfg: &config.Config{
				GlobalProxies: []string{"socks5://global-proxy.example.com:1080"},
				TransportRoutes: []config.TransportRoute{
					{URLPattern: "specific-cdn.com", DisableSSL: true},
				},
			},
			targetURL: "https://specific-cdn.com/playlist/1",
		},
		{
			name: "direct route bypasses proxy",
			cfg: &config.Config{
				GlobalProxies: []string{"socks5://global-proxy.example.com:1080"},
				TransportRoutes: []config.TransportRoute{
					{URLPattern: "streamingunity.to", Direct: true},
				},
			},
			targetURL:     "https://streamingunity.to/api/search",
			expectDefault: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := New(tt.cfg, log)
			httpClient := client.getClientForURL(tt.targetURL)

			isDefaultClient := httpClient == client.defaultClient
			isUTLSClient := httpClient == client.utlsClient

			if tt.expectDefault && !isDefaultClient {
				t.Error("expected default client but got a different client")
			}
			if tt.expectUTLS && !isUTLSClient {
				t.Error("expected utls client but got a different client")
			}
			if tt.expectProxy && (isDefaultClient || isUTLSClient) {
				t.Error("expected proxy client but got a shared client")
			}
		})
	}
}

func TestGetOrCreateProxyClient_Caches(t *testing.T) {
	client := New(&config.Config{}, logging.Discard())

	a := client.getOrCreateProxyClient("http://proxy.example.com:8080", false)
	b := client.getOrCreateProxyClient("http://proxy.example.com:8080", false)
	c := client.getOrCreateProxyClient("http://proxy.example.com:8080", true)

	if a != b {
		t.Error("expected cached proxy client to be reused")
	}
	if a == c {
		t.Error("expected insecure variant to be a separate client")
	}
}

func TestDo_RequestTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer server.Close()

	client := New(&config.Config{RequestTimeout: 50 * time.Millisecond}, logging.Discard())

	req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, nil)
	_, err := client.Do(req)
	if err == nil {
		t.Fatal("expected timeout error")
	}

	var netErr net.Error
	if !errors.As(err, &netErr) || !netErr.Timeout() {
		t.Errorf("expected a timeout error, got %v", err)
	}
}

func TestUTLSClient_ReusesHTTP2Connection(t *testing.T) {
	var (
		mu     sync.Mutex
		opened int
		open   int
	)
	server := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, r.Proto)
	}))
	server.EnableHTTP2 = true
	server.Config.ConnState = func(_ net.Conn, state http.ConnState) {
		mu.Lock()
		defer mu.Unlock()
		switch state {
		case http.StateNew:
			opened++
			open++
		case http.StateClosed, http.StateHijacked:
			open--
		}
	}
	server.StartTLS()
	defer server.Close()

	pool := x509.NewCertPool()
	pool.AddCert(server.Certificate())

	client := New(&config.Config{UTLSDomains: []string{"127.0.0.1"}}, logging.Discard())
	client.utlsClient.Transport.(*utlsRoundTripper).rootCAs = pool

	for i := 0; i < 5; i++ {
		req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL+"/", nil)
		resp, err := client.Do(req)
		if err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if string(body) != "HTTP/2.0" {
			t.Fatalf("request %d: expected HTTP/2.0, got %q", i, body)
		}
	}

	mu.Lock()
	if opened != 1 {
		t.Errorf("expected one connection for five requests, server saw %d", opened)
	}
	mu.Unlock()

	client.CloseIdleConnections()

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		remaining := open
		mu.Unlock()
		if remaining == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected idle connections to be closed, %d still open", remaining)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestMergeHeaders(t *testing.T) {
	base := map[string]string{"A": "1", "B": "2"}
	merged := MergeHeaders(base, map[string]string{"B": "3", "C": "4"})

	if merged["A"] != "1" || merged["B"] != "3" || merged["C"] != "4" {
		t.Errorf("unexpected merge result: %v", merged)
	}
	if base["B"] != "2" {
		t.Error("base map must not be modified")
	}
}
