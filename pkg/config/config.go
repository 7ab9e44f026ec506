// Package config handles application configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// DefaultUserAgent is sent when USER_AGENT is not set.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36"

// Config holds all application configuration.
type Config struct {
	// Site settings
	SiteURL       string
	SiteLang      string
	BootstrapPath string
	UserAgent     string

	// Scraping behaviour
	ConnectTimeout    time.Duration
	RequestTimeout    time.Duration
	BootstrapAttempts int
	Concurrency       int
	RequestInterval   time.Duration
	VerifyStreams     bool

	// Batch output
	OutputFile string
	Titles     []string

	// Server settings
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// Authentication
	APIPassword string

	// Proxy settings
	GlobalProxies   []string
	TransportRoutes []TransportRoute
	UTLSDomains     []string

	// Logging
	LogLevel string
	LogJSON  bool

	// FlareSolverr settings (for Cloudflare bypass)
	FlareSolverrURL     string
	FlareSolverrTimeout time.Duration
}

// TransportRoute defines URL-specific proxy routing.
type TransportRoute struct {
	URLPattern string
	Proxy      string
	DisableSSL bool
	Direct     bool // If true, bypass global proxy and connect directly
}

// Load reads configuration from environment variables with sensible defaults.
// Variables from the file named by ENV_FILE (default ".env") are applied first;
// a missing file is not an error, a malformed one is.
func Load() (*Config, error) {
	envFile := getEnvString("ENV_FILE", ".env")
	if err := loadDotEnv(envFile); err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
	}

	cfg := &Config{
		SiteURL:             strings.TrimRight(getEnvString("SITE_URL", "https://streamingunity.to"), "/"),
		SiteLang:            getEnvString("SITE_LANG", "it"),
		BootstrapPath:       getEnvString("BOOTSTRAP_PATH", "/it"),
		UserAgent:           getEnvString("USER_AGENT", DefaultUserAgent),
		ConnectTimeout:      getEnvDuration("CONNECT_TIMEOUT", 10*time.Second),
		RequestTimeout:      getEnvDuration("REQUEST_TIMEOUT", 30*time.Second),
		BootstrapAttempts:   getEnvInt("BOOTSTRAP_ATTEMPTS", 3),
		Concurrency:         getEnvInt("CONCURRENCY", 4),
		RequestInterval:     getEnvDuration("REQUEST_INTERVAL", time.Second),
		VerifyStreams:       getEnvBool("VERIFY_STREAMS", false),
		OutputFile:          getEnvString("OUTPUT_FILE", "Simud.m3u"),
		Titles:              getEnvStringSlice("TITLES", nil),
		Port:                getEnvInt("PORT", 7860),
		ReadTimeout:         getEnvDuration("READ_TIMEOUT", 30*time.Second),
		WriteTimeout:        getEnvDuration("WRITE_TIMEOUT", 120*time.Second),
		IdleTimeout:         getEnvDuration("IDLE_TIMEOUT", 60*time.Second),
		APIPassword:         os.Getenv("API_PASSWORD"),
		GlobalProxies:       getEnvStringSlice("GLOBAL_PROXIES", nil),
		UTLSDomains:         getEnvStringSlice("UTLS_DOMAINS", []string{"streamingunity.", "streamingcommunity"}),
		LogLevel:            getEnvString("LOG_LEVEL", "info"),
		LogJSON:             getEnvBool("LOG_JSON", false),
		FlareSolverrURL:     getEnvString("FLARESOLVERR_URL", ""),
		FlareSolverrTimeout: getEnvDuration("FLARESOLVERR_TIMEOUT", 60*time.Second),
	}

	cfg.TransportRoutes = parseTransportRoutes(os.Getenv("TRANSPORT_ROUTES"))

	// Legacy single proxy support
	if globalProxy := os.Getenv("GLOBAL_PROXY"); globalProxy != "" && len(cfg.GlobalProxies) == 0 {
		cfg.GlobalProxies = []string{globalProxy}
	}

	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.BootstrapAttempts < 1 {
		cfg.BootstrapAttempts = 1
	}
	if cfg.RequestInterval < 0 {
		cfg.RequestInterval = 0
	}

	return cfg, nil
}

// loadDotEnv applies variables from path without overriding ones already set.
func loadDotEnv(path string) error {
	err := godotenv.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// parseTransportRoutes parses the TRANSPORT_ROUTES env var.
// Format: {URL=pattern, PROXY=url, DISABLE_SSL=true}, {URL=pattern2}
func parseTransportRoutes(s string) []TransportRoute {
	if s == "" {
		return nil
	}

	var routes []TransportRoute
	s = strings.TrimSpace(s)

	parts := strings.Split(s, "}, {")
	for _, part := range parts {
		part = strings.Trim(part, "{} ")
		if part == "" {
			continue
		}

		route := TransportRoute{}
		for _, field := range strings.Split(part, ", ") {
			key, value, ok := strings.Cut(field, "=")
			if !ok {
				continue
			}
			value = strings.TrimSpace(value)

			switch strings.ToUpper(strings.TrimSpace(key)) {
			case "URL":
				route.URLPattern = value
			case "PROXY":
				route.Proxy = value
			case "DISABLE_SSL":
				route.DisableSSL = strings.EqualFold(value, "true")
			case "DIRECT":
				route.Direct = strings.EqualFold(value, "true")
			}
		}
		if route.URLPattern != "" {
			routes = append(routes, route)
		}
	}

	return routes
}

func getEnvString(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		return strings.EqualFold(val, "true") || val == "1"
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		// Plain integers are seconds
		if secs, err := strconv.Atoi(val); err == nil {
			return time.Duration(secs) * time.Second
		}
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

func getEnvStringSlice(key string, defaultVal []string) []string {
	if val := os.Getenv(key); val != "" {
		parts := strings.Split(val, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return defaultVal
}
