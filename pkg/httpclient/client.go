// Package httpclient provides a configurable HTTP client with proxy support.
package httpclient

import (
	"bufio"
	"context"
	"crypto/tls"
	"crypto/x509"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"streamingcommunity-go/pkg/config"
	"streamingcommunity-go/pkg/logging"

	utls "github.com/refraction-networking/utls"
	"golang.org/x/net/http2"
	"golang.org/x/net/proxy"
)

// Client wraps http.Client with proxy routing, per-call timeouts and a
// browser-like TLS fingerprint for Cloudflare-fronted hosts.
type Client struct {
	defaultClient  *http.Client
	utlsClient     *http.Client
	proxyClients   map[string]*http.Client
	routes         []config.TransportRoute
	globalProxies  []string
	utlsDomains    []string
	connectTimeout time.Duration
	requestTimeout time.Duration
	mu             sync.RWMutex
	log            *logging.Logger
}

// New creates a new HTTP client with the given configuration.
func New(cfg *config.Config, log *logging.Logger) *Client {
	c := &Client{
		proxyClients:   make(map[string]*http.Client),
		routes:         cfg.TransportRoutes,
		globalProxies:  cfg.GlobalProxies,
		utlsDomains:    cfg.UTLSDomains,
		connectTimeout: orDefault(cfg.ConnectTimeout, 10*time.Second),
		requestTimeout: orDefault(cfg.RequestTimeout, 30*time.Second),
		log:            log.WithComponent("httpclient"),
	}

	c.defaultClient = &http.Client{
		Transport: c.newTransport(),
		Timeout:   c.requestTimeout,
	}

	c.utlsClient = &http.Client{
		Transport: newUTLSRoundTripper(c.connectTimeout),
		Timeout:   c.requestTimeout,
	}

	return c
}

func orDefault(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}

// dialContext forces IPv4; several CDNs in this space publish broken AAAA records.
func (c *Client) dialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	if network == "tcp" {
		network = "tcp4"
	}
	d := &net.Dialer{
		Timeout:   c.connectTimeout,
		KeepAlive: 60 * time.Second,
	}
	return d.DialContext(ctx, network, addr)
}

func (c *Client) newTransport() *http.Transport {
	return &http.Transport{
		DialContext:           c.dialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   c.connectTimeout,
		ExpectContinueTimeout: 1 * time.Second,
		ResponseHeaderTimeout: c.requestTimeout,
	}
}

// utlsRoundTripper implements http.RoundTrip with utls and HTTP/2 support.
// HTTP/2 connections are kept per host and reused while they accept streams;
// HTTP/1.1 connections close with their response body.
type utlsRoundTripper struct {
	dialer      *net.Dialer
	h2Transport *http2.Transport
	rootCAs     *x509.CertPool

	mu      sync.Mutex
	h2Conns map[string]*http2.ClientConn
}

func newUTLSRoundTripper(connectTimeout time.Duration) *utlsRoundTripper {
	return &utlsRoundTripper{
		dialer: &net.Dialer{
			Timeout:   connectTimeout,
			KeepAlive: 60 * time.Second,
		},
		h2Transport: &http2.Transport{IdleConnTimeout: 90 * time.Second},
		h2Conns:     make(map[string]*http2.ClientConn),
	}
}

func (t *utlsRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.URL.Scheme != "https" {
		return http.DefaultTransport.RoundTrip(req)
	}

	addr := req.URL.Host
	if req.URL.Port() == "" {
		addr = net.JoinHostPort(req.URL.Hostname(), "443")
	}

	if cc := t.cachedConn(addr); cc != nil {
		resp, err := cc.RoundTrip(req)
		if err == nil || req.Context().Err() != nil || !replayable(req) {
			return resp, err
		}
		// The connection went away between the check and the request.
		t.dropConn(addr, cc)
	}

	conn, err := t.dialer.DialContext(req.Context(), "tcp4", addr)
	if err != nil {
		return nil, err
	}

	utlsConn := utls.UClient(conn, &utls.Config{ServerName: req.URL.Hostname(), RootCAs: t.rootCAs}, utls.HelloChrome_120)
	if err := utlsConn.HandshakeContext(req.Context()); err != nil {
		conn.Close()
		return nil, err
	}

	if utlsConn.ConnectionState().NegotiatedProtocol == "h2" {
		cc, err := t.h2Transport.NewClientConn(utlsConn)
		if err != nil {
			utlsConn.Close()
			return nil, err
		}
		if t.storeConn(addr, cc) {
			return cc.RoundTrip(req)
		}
		// Another request cached a connection for this host first; serve this
		// one and let the spare close once its stream is done.
		resp, err := cc.RoundTrip(req)
		go cc.Shutdown(context.Background())
		return resp, err
	}

	return t.doHTTP1Request(utlsConn, req)
}

func replayable(req *http.Request) bool {
	return req.Body == nil || req.Body == http.NoBody
}

// cachedConn returns the connection for addr if it can take another stream.
func (t *utlsRoundTripper) cachedConn(addr string) *http2.ClientConn {
	t.mu.Lock()
	defer t.mu.Unlock()
	cc, ok := t.h2Conns[addr]
	if !ok {
		return nil
	}
	if !cc.CanTakeNewRequest() {
		delete(t.h2Conns, addr)
		go cc.Shutdown(context.Background())
		return nil
	}
	return cc
}

// storeConn caches cc for addr unless a usable connection is already there.
func (t *utlsRoundTripper) storeConn(addr string, cc *http2.ClientConn) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if existing, ok := t.h2Conns[addr]; ok {
		if existing.CanTakeNewRequest() {
			return false
		}
		go existing.Shutdown(context.Background())
	}
	t.h2Conns[addr] = cc
	return true
}

func (t *utlsRoundTripper) dropConn(addr string, cc *http2.ClientConn) {
	t.mu.Lock()
	if t.h2Conns[addr] == cc {
		delete(t.h2Conns, addr)
	}
	t.mu.Unlock()
	cc.Close()
}

// CloseIdleConnections closes cached HTTP/2 connections with no open streams.
func (t *utlsRoundTripper) CloseIdleConnections() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for addr, cc := range t.h2Conns {
		if st := cc.State(); st.StreamsActive == 0 && st.StreamsPending == 0 {
			cc.Close()
			delete(t.h2Conns, addr)
		}
	}
}

func (t *utlsRoundTripper) doHTTP1Request(conn net.Conn, req *http.Request) (*http.Response, error) {
	if err := req.Write(conn); err != nil {
		conn.Close()
		return nil, err
	}

	resp, err := http.ReadResponse(bufio.NewReader(conn), req)
	if err != nil {
		conn.Close()
		return nil, err
	}

	resp.Body = &connCloser{resp.Body, conn}
	return resp, nil
}

type connCloser struct {
	io.ReadCloser
	conn net.Conn
}

func (c *connCloser) Close() error {
	c.ReadCloser.Close()
	return c.conn.Close()
}

// needsUTLS returns true if the URL requires browser-like TLS fingerprinting.
func (c *Client) needsUTLS(targetURL string) bool {
	lower := strings.ToLower(targetURL)
	for _, domain := range c.utlsDomains {
		if domain != "" && strings.Contains(lower, strings.ToLower(domain)) {
			return true
		}
	}
	return false
}

// Do executes an HTTP request, routing through proxies as configured.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	client := c.getClientForURL(req.URL.String())
	return client.Do(req)
}

// getClientForURL returns the appropriate HTTP client based on URL routing rules.
func (c *Client) getClientForURL(targetURL string) *http.Client {
	for _, route := range c.routes {
		if !strings.Contains(targetURL, route.URLPattern) {
			continue
		}
		c.log.Debug("matched transport route", "url", targetURL, "pattern", route.URLPattern, "proxy", route.Proxy, "direct", route.Direct)

		if route.Direct {
			if route.DisableSSL {
				return c.getInsecureClient()
			}
			return c.defaultClient
		}
		if route.Proxy != "" {
			return c.getOrCreateProxyClient(route.Proxy, route.DisableSSL)
		}
		if route.DisableSSL {
			return c.getInsecureClient()
		}
	}

	if len(c.globalProxies) > 0 {
		proxyURL := c.globalProxies[0]
		c.log.Debug("using global proxy", "url", targetURL, "proxy", proxyURL)
		return c.getOrCreateProxyClient(proxyURL, false)
	}

	if c.needsUTLS(targetURL) {
		c.log.Debug("using utls client", "url", targetURL)
		return c.utlsClient
	}

	return c.defaultClient
}

// getOrCreateProxyClient returns a cached proxy client or creates a new one.
func (c *Client) getOrCreateProxyClient(proxyURL string, disableSSL bool) *http.Client {
	cacheKey := proxyURL
	if disableSSL {
		cacheKey += ":insecure"
	}

	c.mu.RLock()
	if client, ok := c.proxyClients[cacheKey]; ok {
		c.mu.RUnlock()
		return client
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	if client, ok := c.proxyClients[cacheKey]; ok {
		return client
	}

	client := c.createProxyClient(proxyURL, disableSSL)
	c.proxyClients[cacheKey] = client
	c.log.Debug("created proxy client", "proxy", proxyURL, "disable_ssl", disableSSL)

	return client
}

// createProxyClient creates a new HTTP client for the given proxy.
func (c *Client) createProxyClient(proxyURL string, disableSSL bool) *http.Client {
	transport := c.newTransport()

	if disableSSL {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	if proxyURL == "" {
		return &http.Client{Transport: transport, Timeout: c.requestTimeout}
	}

	parsedURL, err := url.Parse(proxyURL)
	if err != nil {
		c.log.Error("failed to parse proxy URL", "url", proxyURL, "error", err)
		return c.defaultClient
	}

	switch parsedURL.Scheme {
	case "socks5", "socks5h":
		dialer, err := proxy.FromURL(parsedURL, &net.Dialer{Timeout: c.connectTimeout})
		if err != nil {
			c.log.Error("failed to create SOCKS5 dialer", "error", err)
			return c.defaultClient
		}
		if contextDialer, ok := dialer.(proxy.ContextDialer); ok {
			transport.DialContext = contextDialer.DialContext
		} else {
			transport.Dial = dialer.Dial
		}
	case "http", "https":
		transport.Proxy = http.ProxyURL(parsedURL)
	default:
		c.log.Warn("unsupported proxy scheme", "scheme", parsedURL.Scheme)
		return c.defaultClient
	}

	return &http.Client{Transport: transport, Timeout: c.requestTimeout}
}

// getInsecureClient returns a client that skips SSL verification.
func (c *Client) getInsecureClient() *http.Client {
	return c.getOrCreateProxyClient("", true)
}

// CloseIdleConnections closes idle connections of every client created so far.
func (c *Client) CloseIdleConnections() {
	c.defaultClient.CloseIdleConnections()
	c.utlsClient.CloseIdleConnections()

	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, client := range c.proxyClients {
		client.CloseIdleConnections()
	}
}

// MergeHeaders layers each map over the previous one into a fresh map.
func MergeHeaders(layers ...map[string]string) map[string]string {
	out := make(map[string]string)
	for _, layer := range layers {
		for k, v := range layer {
			out[k] = v
		}
	}
	return out
}
