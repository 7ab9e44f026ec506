// Package app provides the main application setup and dependency injection.
package app

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"streamingcommunity-go/pkg/appctx"
	"streamingcommunity-go/pkg/config"
	"streamingcommunity-go/pkg/flaresolverr"
	"streamingcommunity-go/pkg/handlers/api"
	"streamingcommunity-go/pkg/httpclient"
	"streamingcommunity-go/pkg/interfaces"
	"streamingcommunity-go/pkg/logging"
	"streamingcommunity-go/pkg/metrics"
	"streamingcommunity-go/pkg/playlist"
	"streamingcommunity-go/pkg/server"
	"streamingcommunity-go/pkg/services"
	"streamingcommunity-go/pkg/site"
	"streamingcommunity-go/pkg/types"
	"streamingcommunity-go/pkg/urlutil"
)

// App is the main application container.
type App struct {
	Ctx        *appctx.Context
	Server     *server.Server
	HTTPClient *httpclient.Client
	Site       *site.Client
}

// New loads configuration from the environment and builds the application.
func New() (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	log := logging.New(cfg.LogLevel, cfg.LogJSON, nil)
	return NewWithConfig(cfg, log)
}

// NewWithConfig builds the application from an explicit configuration.
func NewWithConfig(cfg *config.Config, log *logging.Logger) (*App, error) {
	if !urlutil.IsAbsoluteHTTP(cfg.SiteURL) {
		return nil, fmt.Errorf("SITE_URL must be an absolute http(s) URL, got %q", cfg.SiteURL)
	}
	log.Info("initializing scscraper", "site", cfg.SiteURL, "concurrency", cfg.Concurrency, "log_level", cfg.LogLevel)

	ctx := appctx.New(cfg, log)

	m := metrics.New()
	ctx.WithMetrics(m)

	httpClient := httpclient.New(cfg, log)

	// Create FlareSolverr client if configured
	var flareClient *flaresolverr.Client
	if cfg.FlareSolverrURL != "" {
		flareClient = flaresolverr.NewClient(cfg.FlareSolverrURL, cfg.FlareSolverrTimeout, log)
		log.Info("FlareSolverr client enabled", "url", cfg.FlareSolverrURL)
	}

	siteClient := site.New(cfg, httpClient, flareClient, log)

	var prober interfaces.StreamProber
	if cfg.VerifyStreams {
		prober = playlist.NewProber(httpClient, cfg.UserAgent, log)
		log.Info("stream verification enabled")
	}

	ctx.WithStreamService(services.NewStreamService(cfg, siteClient, prober, m, log))

	srv := server.New(cfg, log)
	api.NewHandlers(ctx).RegisterRoutes(srv.Router())

	return &App{
		Ctx:        ctx,
		Server:     srv,
		HTTPClient: httpClient,
		Site:       siteClient,
	}, nil
}

// Serve runs the HTTP API until ctx is canceled.
func (a *App) Serve(ctx context.Context) error {
	a.Ctx.Log.Info("starting scscraper server", "port", a.Ctx.Config.Port)
	return a.Server.Start(ctx)
}

// RunBatch resolves titles and writes the playlist to output. A failed
// bootstrap aborts the run before anything is written.
func (a *App) RunBatch(ctx context.Context, titles []string, output string) (types.BatchResult, error) {
	result, err := a.Ctx.Streams.ResolveAll(ctx, titles)
	if err != nil {
		return result, err
	}

	streams := result.Streams()
	if err := playlist.WriteFile(output, streams); err != nil {
		return result, err
	}
	a.Ctx.Log.Info("playlist written", "path", output, "streams", len(streams), "titles", len(titles))
	return result, nil
}

// Shutdown releases application resources.
func (a *App) Shutdown() {
	a.Ctx.Log.Info("shutting down application")
	a.HTTPClient.CloseIdleConnections()
}

// LoadTitlesFile reads one title per line. Blank lines and lines starting
// with # are skipped.
func LoadTitlesFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open titles file: %w", err)
	}
	defer f.Close()

	var titles []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		titles = append(titles, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read titles file: %w", err)
	}
	return titles, nil
}
