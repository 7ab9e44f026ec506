package playlist

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/grafov/m3u8"

	"streamingcommunity-go/pkg/interfaces"
	"streamingcommunity-go/pkg/logging"
)

// maxPlaylistSize caps how much of a playlist response is decoded.
const maxPlaylistSize = 2 << 20

// ErrNotPlayable is returned when the URL answers but does not serve a usable
// HLS playlist.
var ErrNotPlayable = errors.New("not a playable HLS playlist")

// StatusError is returned when the playlist host answers with a non-200 status.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("playlist host returned status %d", e.StatusCode)
}

// Prober fetches composed playlist URLs and decodes them.
type Prober struct {
	client    interfaces.HTTPClient
	userAgent string
	log       *logging.Logger
}

// NewProber creates a Prober.
func NewProber(client interfaces.HTTPClient, userAgent string, log *logging.Logger) *Prober {
	return &Prober{
		client:    client,
		userAgent: userAgent,
		log:       log.WithComponent("probe"),
	}
}

// Probe fetches playlistURL with referer and checks it decodes as a master
// playlist with at least one variant, or a media playlist with segments.
func (p *Prober) Probe(ctx context.Context, playlistURL, referer string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, playlistURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", p.userAgent)
	req.Header.Set("Accept", "*/*")
	if referer != "" {
		req.Header.Set("Referer", referer)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch playlist: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &StatusError{StatusCode: resp.StatusCode}
	}

	pl, listType, err := m3u8.DecodeFrom(io.LimitReader(resp.Body, maxPlaylistSize), true)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNotPlayable, err)
	}

	switch listType {
	case m3u8.MASTER:
		master := pl.(*m3u8.MasterPlaylist)
		if len(master.Variants) == 0 {
			return fmt.Errorf("%w: master playlist has no variants", ErrNotPlayable)
		}
		p.log.WithURL(playlistURL).Debug("master playlist verified", "variants", len(master.Variants))
	case m3u8.MEDIA:
		media := pl.(*m3u8.MediaPlaylist)
		if media.Count() == 0 {
			return fmt.Errorf("%w: media playlist has no segments", ErrNotPlayable)
		}
		p.log.WithURL(playlistURL).Debug("media playlist verified", "segments", media.Count())
	}
	return nil
}
