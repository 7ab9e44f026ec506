// Package interfaces defines the abstractions the scraping pipeline is built from.
// Each stage consumes the previous stage's output plus the bootstrapped session,
// so tests can swap any of them for a fake.
package interfaces

import (
	"context"
	"net/http"

	"streamingcommunity-go/pkg/types"
)

// HTTPClient abstracts HTTP operations for testability.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Bootstrapper performs the first page load and returns the session state every
// later request needs.
type Bootstrapper interface {
	Bootstrap(ctx context.Context) (types.SessionState, error)
}

// Searcher queries the site's search API.
type Searcher interface {
	Search(ctx context.Context, session types.SessionState, query string) ([]types.SearchResult, error)
}

// TitleResolver turns a search result into the iframe URL of its player.
type TitleResolver interface {
	Resolve(ctx context.Context, session types.SessionState, result types.SearchResult) (types.ResolvedFrame, error)
}

// PlaylistExtractor follows the iframe chain and composes the signed playlist URL.
type PlaylistExtractor interface {
	ExtractPlaylist(ctx context.Context, session types.SessionState, iframeURL string) (types.PlaylistResult, error)
}

// Scraper is the full site protocol.
type Scraper interface {
	Bootstrapper
	Searcher
	TitleResolver
	PlaylistExtractor
}

// StreamProber checks that a composed playlist URL actually serves a playlist.
type StreamProber interface {
	Probe(ctx context.Context, playlistURL, referer string) error
}
