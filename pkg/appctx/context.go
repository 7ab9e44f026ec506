// Package appctx provides the application context that holds all runtime dependencies.
package appctx

import (
	"time"

	"streamingcommunity-go/pkg/config"
	"streamingcommunity-go/pkg/logging"
	"streamingcommunity-go/pkg/metrics"
	"streamingcommunity-go/pkg/services"
)

// Context holds all application runtime dependencies.
// Pass this single struct to components instead of individual parameters.
type Context struct {
	Config    *config.Config
	Log       *logging.Logger
	Streams   *services.StreamService
	Metrics   *metrics.Metrics
	StartedAt time.Time
}

// New creates a new application context.
func New(cfg *config.Config, log *logging.Logger) *Context {
	return &Context{
		Config:    cfg,
		Log:       log,
		StartedAt: time.Now(),
	}
}

// WithStreamService sets the stream service.
func (c *Context) WithStreamService(s *services.StreamService) *Context {
	c.Streams = s
	return c
}

// WithMetrics sets the metrics collector.
func (c *Context) WithMetrics(m *metrics.Metrics) *Context {
	c.Metrics = m
	return c
}
