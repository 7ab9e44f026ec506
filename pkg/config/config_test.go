package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://streamingunity.to", cfg.SiteURL)
	assert.Equal(t, "it", cfg.SiteLang)
	assert.Equal(t, "/it", cfg.BootstrapPath)
	assert.Equal(t, 10*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, 3, cfg.BootstrapAttempts)
	assert.Equal(t, 4, cfg.Concurrency)
	assert.Equal(t, "Simud.m3u", cfg.OutputFile)
	assert.Equal(t, DefaultUserAgent, cfg.UserAgent)
	assert.Equal(t, time.Second, cfg.RequestInterval)
	assert.False(t, cfg.VerifyStreams)
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	t.Setenv("SITE_URL", "https://example.org/")
	t.Setenv("CONNECT_TIMEOUT", "5")
	t.Setenv("REQUEST_TIMEOUT", "1m")
	t.Setenv("CONCURRENCY", "0")
	t.Setenv("REQUEST_INTERVAL", "250ms")
	t.Setenv("TITLES", "Black Panther, WandaVision ,")
	t.Setenv("VERIFY_STREAMS", "1")
	t.Setenv("GLOBAL_PROXY", "socks5://proxy:1080")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://example.org", cfg.SiteURL)
	assert.Equal(t, 5*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, time.Minute, cfg.RequestTimeout)
	assert.Equal(t, 1, cfg.Concurrency, "concurrency is clamped to at least one worker")
	assert.Equal(t, 250*time.Millisecond, cfg.RequestInterval)
	assert.Equal(t, []string{"Black Panther", "WandaVision"}, cfg.Titles)
	assert.True(t, cfg.VerifyStreams)
	assert.Equal(t, []string{"socks5://proxy:1080"}, cfg.GlobalProxies)
}

func TestLoad_DotEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("SITE_LANG=en\nOUTPUT_FILE=out.m3u\n"), 0o600))

	t.Setenv("ENV_FILE", path)
	t.Setenv("OUTPUT_FILE", "explicit.m3u")
	t.Cleanup(func() { os.Unsetenv("SITE_LANG") })

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "en", cfg.SiteLang)
	assert.Equal(t, "explicit.m3u", cfg.OutputFile, "process environment wins over the file")
}

func TestLoad_RequestIntervalDisabled(t *testing.T) {
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	t.Setenv("REQUEST_INTERVAL", "0")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Zero(t, cfg.RequestInterval)
}

func TestLoad_MalformedDotEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.env")
	require.NoError(t, os.WriteFile(path, []byte("SITE_LANG=en\nBAD-KEY=1\n"), 0o600))
	t.Setenv("ENV_FILE", path)

	cfg, err := Load()
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), path)
}

func TestParseTransportRoutes(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []TransportRoute
	}{
		{name: "empty", input: "", want: nil},
		{
			name:  "single route",
			input: "{URL=vixcloud, PROXY=socks5://p:1080}",
			want:  []TransportRoute{{URLPattern: "vixcloud", Proxy: "socks5://p:1080"}},
		},
		{
			name:  "multiple routes",
			input: "{URL=a.com, DISABLE_SSL=true}, {URL=b.com, DIRECT=true}",
			want: []TransportRoute{
				{URLPattern: "a.com", DisableSSL: true},
				{URLPattern: "b.com", Direct: true},
			},
		},
		{name: "route without url is dropped", input: "{PROXY=http://p}", want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, parseTransportRoutes(tt.input))
		})
	}
}
