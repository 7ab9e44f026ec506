// Package sitetest provides an in-process fake of the StreamingCommunity site
// for tests of the scraping pipeline.
package sitetest

import (
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"streamingcommunity-go/pkg/config"
)

// Version is the Inertia version the fake site hands out.
const Version = "8f3c2a1b"

// Site is a fake mirror. Fields may be changed before requests are made.
type Site struct {
	*httptest.Server

	// BootstrapStatus overrides the status of the bootstrap page when non-zero.
	BootstrapStatus int
	// BootstrapBody replaces the default bootstrap HTML when non-empty.
	BootstrapBody string
	// SearchStatus overrides the status of the search API when non-zero.
	SearchStatus int
	// SearchBody is returned by the search API for any query.
	SearchBody string
	// Titles maps "{id}-{slug}" to a detail payload.
	Titles map[string]string
	// Iframes maps the part of the request URI after /it/iframe/ to HTML.
	Iframes map[string]string
	// Players maps the player id under /embed/ to HTML.
	Players map[string]string

	mu       sync.Mutex
	hits     map[string]int
	times    map[string][]time.Time
	lastHdrs map[string]http.Header
}

// New starts a fake site and registers its shutdown with t.
func New(t testing.TB) *Site {
	s := &Site{
		SearchBody: "[]",
		Titles:     make(map[string]string),
		Iframes:    make(map[string]string),
		Players:    make(map[string]string),
		hits:       make(map[string]int),
		times:      make(map[string][]time.Time),
		lastHdrs:   make(map[string]http.Header),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /it", s.handleBootstrap)
	mux.HandleFunc("GET /api/search", s.handleSearch)
	mux.HandleFunc("GET /it/titles/{key}", s.handleTitle)
	mux.HandleFunc("GET /it/iframe/{rest...}", s.handleIframe)
	mux.HandleFunc("GET /embed/{id}", s.handlePlayer)

	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Server.Close)
	return s
}

// Config returns a configuration pointing the scraper at this site. Requests
// are not paced.
func (s *Site) Config() *config.Config {
	return &config.Config{
		SiteURL:           s.URL,
		SiteLang:          "it",
		BootstrapPath:     "/it",
		UserAgent:         "sitetest",
		ConnectTimeout:    2 * time.Second,
		RequestTimeout:    5 * time.Second,
		BootstrapAttempts: 1,
		Concurrency:       2,
	}
}

// Hits returns how often a route ("bootstrap", "search", "title", "iframe",
// "player") was requested.
func (s *Site) Hits(route string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[route]
}

// Times returns when each request to a route arrived, in arrival order.
func (s *Site) Times(route string) []time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Time(nil), s.times[route]...)
}

// LastHeaders returns the headers of the most recent request to a route.
func (s *Site) LastHeaders(route string) http.Header {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastHdrs[route]
}

func (s *Site) record(route string, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hits[route]++
	s.times[route] = append(s.times[route], time.Now())
	s.lastHdrs[route] = r.Header.Clone()
}

// AddMovie registers a movie with a working iframe and player page.
func (s *Site) AddMovie(id int64, slug, masterURL string) {
	s.Titles[fmt.Sprintf("%d-%s", id, slug)] = fmt.Sprintf(
		`{"component":"Titles/Title","props":{"title":{"id":%d,"type":"movie","name":%q}},"version":%q}`,
		id, slug, Version)
	s.Iframes[fmt.Sprintf("%d&canPlayFHD=1", id)] = IframePage(s.URL + fmt.Sprintf("/embed/%d", id))
	s.Players[fmt.Sprint(id)] = PlayerPage(PlayerScript(masterURL, "abc", "99", true))
}

// AddSeries registers a series whose loaded season has the given episodes.
func (s *Site) AddSeries(id int64, slug, masterURL string, episodeIDs ...int64) {
	episodes := make([]map[string]int64, 0, len(episodeIDs))
	for _, ep := range episodeIDs {
		episodes = append(episodes, map[string]int64{"id": ep})
	}
	epJSON, _ := json.Marshal(episodes)

	s.Titles[fmt.Sprintf("%d-%s", id, slug)] = fmt.Sprintf(
		`{"props":{"title":{"id":%d,"type":"tv","seasons":[{"number":1}]},"loadedSeason":{"number":1,"episodes":%s}}}`,
		id, epJSON)
	if len(episodeIDs) > 0 {
		s.Iframes[fmt.Sprintf("%d?episode_id=%d&canPlayFHD=1", id, episodeIDs[0])] = IframePage(s.URL + fmt.Sprintf("/embed/%d", id))
	}
	s.Players[fmt.Sprint(id)] = PlayerPage(PlayerScript(masterURL, "abc", "99", false))
}

// BootstrapPage renders a page whose #app element carries dataPage.
func BootstrapPage(dataPage string) string {
	return `<!DOCTYPE html><html><head><title>StreamingCommunity</title></head><body>` +
		`<div id="app" data-page="` + html.EscapeString(dataPage) + `"></div></body></html>`
}

// IframePage renders the intermediate page embedding the player.
func IframePage(playerURL string) string {
	return `<html><body><iframe src="` + html.EscapeString(playerURL) + `" allowfullscreen></iframe></body></html>`
}

// PlayerPage renders a player page with an unrelated script and the playlist script.
func PlayerPage(script string) string {
	return `<html><head><script src="/js/app.js"></script><script>window.dataLayer = [];</script></head>` +
		`<body><script>` + script + `</script></body></html>`
}

// PlayerScript renders the playlist script the way the player serves it.
func PlayerScript(masterURL, token, expires string, canPlayFHD bool) string {
	return fmt.Sprintf(`window.video = {id: 1, name: 'video'};
window.masterPlaylist = {
    params: {
        'token': '%s',
        'expires': '%s',
    },
    url: '%s',
}
window.canPlayFHD = %t`, token, expires, strings.ReplaceAll(masterURL, "/", `\/`), canPlayFHD)
}

func (s *Site) handleBootstrap(w http.ResponseWriter, r *http.Request) {
	s.record("bootstrap", r)
	if s.BootstrapStatus != 0 {
		w.WriteHeader(s.BootstrapStatus)
		return
	}

	http.SetCookie(w, &http.Cookie{Name: "XSRF-TOKEN", Value: "xsrf123", Path: "/"})
	http.SetCookie(w, &http.Cookie{Name: "streamingcommunity_session", Value: "sess456", Path: "/", HttpOnly: true})

	body := s.BootstrapBody
	if body == "" {
		body = BootstrapPage(fmt.Sprintf(`{"component":"Archive","props":{},"url":"/it","version":%q}`, Version))
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, body)
}

func (s *Site) handleSearch(w http.ResponseWriter, r *http.Request) {
	s.record("search", r)
	if !s.checkSession(w, r) {
		return
	}
	if s.SearchStatus != 0 {
		w.WriteHeader(s.SearchStatus)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprint(w, s.SearchBody)
}

func (s *Site) handleTitle(w http.ResponseWriter, r *http.Request) {
	s.record("title", r)
	if !s.checkSession(w, r) {
		return
	}
	body, ok := s.Titles[r.PathValue("key")]
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Inertia", "true")
	fmt.Fprint(w, body)
}

func (s *Site) handleIframe(w http.ResponseWriter, r *http.Request) {
	s.record("iframe", r)
	body, ok := s.Iframes[strings.TrimPrefix(r.URL.RequestURI(), "/it/iframe/")]
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, body)
}

func (s *Site) handlePlayer(w http.ResponseWriter, r *http.Request) {
	s.record("player", r)
	if r.Header.Get("Referer") == "" {
		http.Error(w, "missing referer", http.StatusForbidden)
		return
	}
	body, ok := s.Players[r.PathValue("id")]
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, body)
}

// checkSession mimics Inertia: a stale version token yields 409 Conflict.
func (s *Site) checkSession(w http.ResponseWriter, r *http.Request) bool {
	if r.Header.Get("X-Inertia-Version") != Version {
		w.Header().Set("X-Inertia-Location", r.URL.String())
		w.WriteHeader(http.StatusConflict)
		return false
	}
	return true
}
