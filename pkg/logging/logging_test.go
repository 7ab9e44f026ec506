package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}

func TestLogger_JSONAttributes(t *testing.T) {
	var buf bytes.Buffer
	log := New("debug", true, &buf)

	log.WithComponent("search").
		WithStage("search").
		WithTitle("Black Panther").
		WithError(errors.New("boom")).
		Info("stage failed")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "stage failed", line["msg"])
	assert.Equal(t, "search", line["component"])
	assert.Equal(t, "Black Panther", line["title"])
	assert.Equal(t, "boom", line["error"])
}

func TestLogger_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	log := New("warn", false, &buf)

	log.Info("hidden")
	assert.Zero(t, buf.Len())

	log.Warn("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestFromContext(t *testing.T) {
	log := Discard()
	ctx := log.WithContext(context.Background())

	assert.Same(t, log, FromContext(ctx, Discard()))

	fallback := Discard()
	assert.Same(t, fallback, FromContext(context.Background(), fallback))
}
