// Package types defines core domain types used throughout the application.
package types

import "maps"

// Kind identifies what a title is. The values match the site's "type" field.
type Kind string

const (
	KindMovie  Kind = "movie"
	KindSeries Kind = "tv"
)

// ParseKind returns the Kind for a raw "type" value and whether it is one the
// scraper can resolve.
func ParseKind(s string) (Kind, bool) {
	switch Kind(s) {
	case KindMovie, KindSeries:
		return Kind(s), true
	}
	return "", false
}

// SessionState carries the Inertia version token and cookies obtained by the
// bootstrap request. It is never modified after construction.
type SessionState struct {
	VersionToken string
	Cookies      string
	BaseHeaders  map[string]string
}

// NewSessionState copies baseHeaders so later changes by the caller do not leak in.
func NewSessionState(version, cookies string, baseHeaders map[string]string) SessionState {
	return SessionState{
		VersionToken: version,
		Cookies:      cookies,
		BaseHeaders:  maps.Clone(baseHeaders),
	}
}

// Headers returns a fresh header map for a request made within this session.
func (s SessionState) Headers() map[string]string {
	h := make(map[string]string, len(s.BaseHeaders)+2)
	maps.Copy(h, s.BaseHeaders)
	if s.VersionToken != "" {
		h["X-Inertia-Version"] = s.VersionToken
	}
	if s.Cookies != "" {
		h["Cookie"] = s.Cookies
	}
	return h
}

// Valid reports whether the session has completed bootstrap.
func (s SessionState) Valid() bool {
	return s.VersionToken != ""
}

// SearchResult is one usable entry of a search response.
type SearchResult struct {
	Name string `json:"name"`
	ID   int64  `json:"id"`
	Slug string `json:"slug"`
	Kind Kind   `json:"type"`
}

// EpisodeRef identifies an episode of the loaded season.
type EpisodeRef struct {
	ID int64 `json:"id"`
}

// TitleDetail is the resolved record for a SearchResult.
type TitleDetail struct {
	NumericID      int64        `json:"id"`
	Kind           Kind         `json:"type"`
	SeasonEpisodes []EpisodeRef `json:"episodes,omitempty"`
}

// ResolvedFrame is the output of title resolution: the iframe page to fetch next.
type ResolvedFrame struct {
	IframeURL string      `json:"iframe_url"`
	Detail    TitleDetail `json:"detail"`
}

// PlaylistDescriptor is the masterPlaylist data embedded in the player page.
type PlaylistDescriptor struct {
	MasterURL  string `json:"master_url"`
	Token      string `json:"token"`
	Expires    string `json:"expires"`
	CanPlayFHD bool   `json:"can_play_fhd"`
}

// PlaylistResult is the output of playlist extraction.
type PlaylistResult struct {
	Descriptor PlaylistDescriptor `json:"descriptor"`
	URL        string             `json:"url"`
	// PlayerURL is the embed page the descriptor came from; the CDN expects it
	// as Referer.
	PlayerURL string `json:"player_url"`
}

// ResolvedStream maps a display name to a playable URL.
type ResolvedStream struct {
	DisplayName string `json:"display_name"`
	URL         string `json:"url"`
}

// Outcome statuses of a title pipeline.
const (
	StatusResolved = "resolved"
	StatusMiss     = "miss"
	StatusFail     = "fail"
)

// TitleOutcome is what happened to one requested title.
type TitleOutcome struct {
	Query  string         `json:"query"`
	Status string         `json:"status"`
	Stream ResolvedStream `json:"stream,omitzero"`
	Stage  string         `json:"stage,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// Resolved reports whether the title produced a stream.
func (o TitleOutcome) Resolved() bool {
	return o.Status == StatusResolved
}

// BatchResult holds one outcome per requested title, in request order.
type BatchResult struct {
	Outcomes []TitleOutcome `json:"outcomes"`
}

// Streams returns the resolved streams in request order.
func (b BatchResult) Streams() []ResolvedStream {
	streams := make([]ResolvedStream, 0, len(b.Outcomes))
	for _, o := range b.Outcomes {
		if o.Resolved() {
			streams = append(streams, o.Stream)
		}
	}
	return streams
}

// Count returns how many outcomes have the given status.
func (b BatchResult) Count(status string) int {
	n := 0
	for _, o := range b.Outcomes {
		if o.Status == status {
			n++
		}
	}
	return n
}
