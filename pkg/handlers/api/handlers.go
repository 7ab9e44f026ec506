// Package api provides the HTTP handlers of serve mode.
package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"net/http"
	"strings"
	"time"

	"streamingcommunity-go/pkg/appctx"
	"streamingcommunity-go/pkg/logging"
	"streamingcommunity-go/pkg/playlist"
	"streamingcommunity-go/pkg/site"
	"streamingcommunity-go/pkg/types"
)

// Version is reported by /api/info.
const Version = "1.0.0"

// statusClientClosedRequest is nginx's code for a client that went away.
const statusClientClosedRequest = 499

// maxTitlesPerRequest caps the titles a single playlist request may ask for.
const maxTitlesPerRequest = 50

// Handlers contains all API handlers.
type Handlers struct {
	ctx *appctx.Context
	log *logging.Logger
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(ctx *appctx.Context) *Handlers {
	return &Handlers{
		ctx: ctx,
		log: ctx.Log.WithComponent("api"),
	}
}

// RegisterRoutes registers all API routes.
func (h *Handlers) RegisterRoutes(mux *http.ServeMux) {
	// Public routes
	mux.HandleFunc("GET /{$}", h.handleIndex)
	mux.HandleFunc("GET /health", h.handleHealth)
	mux.HandleFunc("GET /api/info", h.handleAPIInfo)
	if h.ctx.Metrics != nil {
		mux.Handle("GET /metrics", h.ctx.Metrics.Handler())
	}

	// Scraper routes
	mux.HandleFunc("GET /api/search", h.handleSearch)
	mux.HandleFunc("GET /api/resolve", h.handleResolve)
	mux.HandleFunc("GET /playlist.m3u", h.handlePlaylist)
}

// handleIndex serves a short description of the endpoints.
func (h *Handlers) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, `<!DOCTYPE html>
<html lang="en">
<head><meta charset="UTF-8"><title>scscraper</title></head>
<body>
    <h1>scscraper</h1>
    <p>Mirror: %s</p>
    <ul>
        <li><code>GET /api/search?q=title</code> search results</li>
        <li><code>GET /api/resolve?q=title</code> stream URL of the first result</li>
        <li><code>GET /playlist.m3u?title=a&amp;title=b</code> M3U playlist</li>
        <li><code>GET /api/info</code> status (JSON)</li>
        <li><code>GET /metrics</code> Prometheus metrics</li>
    </ul>
</body>
</html>`, html.EscapeString(h.ctx.Config.SiteURL))
}

// handleHealth is the liveness probe.
func (h *Handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleAPIInfo returns server status as JSON.
func (h *Handlers) handleAPIInfo(w http.ResponseWriter, r *http.Request) {
	session := map[string]any{"ready": false}
	if current, ok := h.ctx.Streams.Sessions().Current(); ok {
		session = map[string]any{"ready": true, "version": current.VersionToken}
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"status":         "running",
		"version":        Version,
		"site_url":       h.ctx.Config.SiteURL,
		"site_lang":      h.ctx.Config.SiteLang,
		"concurrency":    h.ctx.Config.Concurrency,
		"verify_streams": h.ctx.Config.VerifyStreams,
		"session":        session,
		"uptime":         time.Since(h.ctx.StartedAt).Round(time.Second).String(),
	})
}

// handleSearch returns the movie and series entries for q.
func (h *Handlers) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		h.writeError(w, http.StatusBadRequest, "q parameter required")
		return
	}

	results, err := h.ctx.Streams.Search(r.Context(), query)
	if err != nil {
		h.requestLog(r).WithError(err).Warn("search failed", "query", query)
		h.writeError(w, statusFor(err), err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"query":   query,
		"results": results,
	})
}

// handleResolve runs the full pipeline for q.
func (h *Handlers) handleResolve(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		h.writeError(w, http.StatusBadRequest, "q parameter required")
		return
	}

	outcome := h.ctx.Streams.Resolve(r.Context(), query)
	h.requestLog(r).Debug("resolve finished", "query", query, "status", outcome.Status, "stage", outcome.Stage)

	status := http.StatusOK
	switch outcome.Status {
	case types.StatusMiss:
		status = http.StatusNotFound
	case types.StatusFail:
		status = http.StatusBadGateway
		if outcome.Stage == string(site.StageProbe) {
			status = http.StatusUnprocessableEntity
		}
	}

	if r.URL.Query().Get("redirect_stream") == "true" && outcome.Resolved() {
		http.Redirect(w, r, outcome.Stream.URL, http.StatusFound)
		return
	}
	h.writeJSON(w, status, outcome)
}

// handlePlaylist resolves the requested titles, or the configured ones when
// none are given, and returns them as M3U.
func (h *Handlers) handlePlaylist(w http.ResponseWriter, r *http.Request) {
	titles := cleanTitles(r.URL.Query()["title"])
	if len(titles) == 0 {
		titles = h.ctx.Config.Titles
	}
	if len(titles) == 0 {
		h.writeError(w, http.StatusBadRequest, "title parameter required")
		return
	}
	if len(titles) > maxTitlesPerRequest {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("at most %d titles per request", maxTitlesPerRequest))
		return
	}

	result, err := h.ctx.Streams.ResolveAll(r.Context(), titles)
	if err != nil {
		h.requestLog(r).WithError(err).Error("playlist request failed", "titles", len(titles))
		h.writeError(w, statusFor(err), err.Error())
		return
	}

	var buf bytes.Buffer
	if err := playlist.Write(&buf, result.Streams()); err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to render playlist")
		return
	}

	w.Header().Set("Content-Type", "audio/x-mpegurl; charset=utf-8")
	w.Header().Set("Content-Disposition", `inline; filename="playlist.m3u"`)
	w.Header().Set("X-Titles-Resolved", fmt.Sprint(result.Count(types.StatusResolved)))
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

// Helper methods

// requestLog returns the logger the logging middleware attached to r.
func (h *Handlers) requestLog(r *http.Request) *logging.Logger {
	return logging.FromContext(r.Context(), h.log)
}

func cleanTitles(raw []string) []string {
	titles := make([]string, 0, len(raw))
	for _, t := range raw {
		if t = strings.TrimSpace(t); t != "" {
			titles = append(titles, t)
		}
	}
	return titles
}

// statusFor maps a pipeline error to the status returned to API clients.
func statusFor(err error) int {
	var se *site.StageError
	switch {
	case site.IsMiss(err):
		return http.StatusNotFound
	case errors.As(err, &se) && se.Kind == site.KindTimeout:
		return http.StatusGatewayTimeout
	case errors.As(err, &se) && se.Kind == site.KindCanceled:
		return statusClientClosedRequest
	default:
		return http.StatusBadGateway
	}
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (h *Handlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
