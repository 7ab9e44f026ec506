package api

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streamingcommunity-go/pkg/appctx"
	"streamingcommunity-go/pkg/httpclient"
	"streamingcommunity-go/pkg/logging"
	"streamingcommunity-go/pkg/metrics"
	"streamingcommunity-go/pkg/services"
	"streamingcommunity-go/pkg/site"
	"streamingcommunity-go/pkg/site/sitetest"
	"streamingcommunity-go/pkg/types"
)

func newTestServer(t *testing.T, fake *sitetest.Site) *httptest.Server {
	t.Helper()
	log := logging.Discard()
	cfg := fake.Config()
	cfg.Titles = []string{"Black Panther"}

	scraper := site.New(cfg, httpclient.New(cfg, log), nil, log)
	m := metrics.New()

	ctx := appctx.New(cfg, log).
		WithMetrics(m).
		WithStreamService(services.NewStreamService(cfg, scraper, nil, m, log))

	mux := http.NewServeMux()
	NewHandlers(ctx).RegisterRoutes(mux)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func blackPantherSite(t *testing.T) *sitetest.Site {
	fake := sitetest.New(t)
	fake.SearchBody = `[{"id":381,"slug":"black-panther","name":"Black Panther","type":"movie"}]`
	fake.AddMovie(381, "black-panther", "https://vixcloud.co/playlist/381?b=1")
	return fake
}

func get(t *testing.T, url string) (*http.Response, string) {
	t.Helper()
	client := &http.Client{
		Timeout: 10 * time.Second,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	resp, err := client.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func TestHandlers_Health(t *testing.T) {
	srv := newTestServer(t, sitetest.New(t))

	resp, body := get(t, srv.URL+"/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, body)
}

func TestHandlers_APIInfo(t *testing.T) {
	fake := blackPantherSite(t)
	srv := newTestServer(t, fake)

	_, body := get(t, srv.URL+"/api/info")
	var info map[string]any
	require.NoError(t, json.Unmarshal([]byte(body), &info))
	assert.Equal(t, "running", info["status"])
	assert.Equal(t, fake.URL, info["site_url"])
	assert.Equal(t, map[string]any{"ready": false}, info["session"])

	get(t, srv.URL+"/api/search?q=black")

	_, body = get(t, srv.URL+"/api/info")
	require.NoError(t, json.Unmarshal([]byte(body), &info))
	assert.Equal(t, map[string]any{"ready": true, "version": sitetest.Version}, info["session"])
}

func TestHandlers_Search(t *testing.T) {
	srv := newTestServer(t, blackPantherSite(t))

	resp, body := get(t, srv.URL+"/api/search?q=Black+Panther")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var payload struct {
		Query   string               `json:"query"`
		Results []types.SearchResult `json:"results"`
	}
	require.NoError(t, json.Unmarshal([]byte(body), &payload))
	assert.Equal(t, "Black Panther", payload.Query)
	assert.Equal(t, []types.SearchResult{{Name: "Black Panther", ID: 381, Slug: "black-panther", Kind: types.KindMovie}}, payload.Results)

	resp, _ = get(t, srv.URL+"/api/search")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandlers_Resolve(t *testing.T) {
	srv := newTestServer(t, blackPantherSite(t))

	resp, body := get(t, srv.URL+"/api/resolve?q=Black+Panther")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var outcome types.TitleOutcome
	require.NoError(t, json.Unmarshal([]byte(body), &outcome))
	assert.Equal(t, types.StatusResolved, outcome.Status)
	assert.Equal(t, "https://vixcloud.co/playlist/381?b=1&token=abc&expires=99&h=1", outcome.Stream.URL)

	resp, _ = get(t, srv.URL+"/api/resolve?q=Black+Panther&redirect_stream=true")
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, outcome.Stream.URL, resp.Header.Get("Location"))
}

func TestHandlers_ResolveMiss(t *testing.T) {
	srv := newTestServer(t, sitetest.New(t))

	resp, body := get(t, srv.URL+"/api/resolve?q=Nothing")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	var outcome types.TitleOutcome
	require.NoError(t, json.Unmarshal([]byte(body), &outcome))
	assert.Equal(t, types.StatusMiss, outcome.Status)
	assert.Equal(t, "search", outcome.Stage)
}

func TestHandlers_Playlist(t *testing.T) {
	srv := newTestServer(t, blackPantherSite(t))

	resp, body := get(t, srv.URL+"/playlist.m3u?title=Black+Panther")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "audio/x-mpegurl")
	assert.Equal(t, "1", resp.Header.Get("X-Titles-Resolved"))
	assert.Equal(t, "#EXTM3U\n"+
		"#EXTINF:-1 tvg-name=\"Black Panther\",Black Panther\n"+
		"https://vixcloud.co/playlist/381?b=1&token=abc&expires=99&h=1\n", body)

	// falls back to the configured titles
	resp, body = get(t, srv.URL+"/playlist.m3u")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "Black Panther")
}

func TestHandlers_PlaylistBootstrapFailure(t *testing.T) {
	fake := sitetest.New(t)
	fake.BootstrapStatus = http.StatusServiceUnavailable
	srv := newTestServer(t, fake)

	resp, body := get(t, srv.URL+"/playlist.m3u?title=x")
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Contains(t, body, "bootstrap")
	assert.Equal(t, 0, fake.Hits("search"))
}

func TestHandlers_Metrics(t *testing.T) {
	srv := newTestServer(t, blackPantherSite(t))
	get(t, srv.URL+"/api/resolve?q=Black+Panther")

	resp, body := get(t, srv.URL+"/metrics")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `scscraper_titles_total{outcome="resolved",stage="none"} 1`)
}
