package site

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"streamingcommunity-go/pkg/types"
	"streamingcommunity-go/pkg/urlutil"
)

type scriptPayload struct {
	MasterPlaylist *masterPlaylist `json:"masterPlaylist"`
	CanPlayFHD     *bool           `json:"canPlayFHD"`
}

type masterPlaylist struct {
	URL    *string         `json:"url"`
	Params *playlistParams `json:"params"`
}

type playlistParams struct {
	Token   *opaque `json:"token"`
	Expires *opaque `json:"expires"`
}

// opaque keeps a scalar exactly as the site sent it. The signing parameters
// show up both as strings and as bare numbers.
type opaque string

func (o *opaque) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return fmt.Errorf("empty value")
	}
	switch b[0] {
	case '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*o = opaque(s)
	case '{', '[':
		return fmt.Errorf("expected a scalar, got %s", b)
	default:
		*o = opaque(b)
	}
	return nil
}

// ParseDescriptor reads the playlist descriptor out of a transliterated player
// script.
func ParseDescriptor(data []byte) (types.PlaylistDescriptor, error) {
	var payload scriptPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return types.PlaylistDescriptor{}, fmt.Errorf("%w: %v", ErrMalformedScript, err)
	}

	mp := payload.MasterPlaylist
	if mp == nil {
		return types.PlaylistDescriptor{}, fmt.Errorf("%w: missing masterPlaylist", ErrInvalidDescriptor)
	}
	if mp.URL == nil || !urlutil.IsAbsoluteHTTP(*mp.URL) {
		return types.PlaylistDescriptor{}, fmt.Errorf("%w: masterPlaylist.url is not an absolute URL", ErrInvalidDescriptor)
	}
	if mp.Params == nil || mp.Params.Token == nil || mp.Params.Expires == nil {
		return types.PlaylistDescriptor{}, fmt.Errorf("%w: masterPlaylist.params needs token and expires", ErrInvalidDescriptor)
	}

	return types.PlaylistDescriptor{
		MasterURL:  *mp.URL,
		Token:      string(*mp.Params.Token),
		Expires:    string(*mp.Params.Expires),
		CanPlayFHD: payload.CanPlayFHD != nil && *payload.CanPlayFHD,
	}, nil
}

// ComposePlaylistURL appends the signing parameters to the master playlist URL.
// URLs carrying the site's "?b" marker sometimes arrive as "?b:1" and are
// repaired first. Token and expires are used verbatim.
func ComposePlaylistURL(d types.PlaylistDescriptor) string {
	params := "token=" + d.Token + "&expires=" + d.Expires

	u := d.MasterURL
	switch {
	case strings.Contains(u, "?b"):
		u = strings.ReplaceAll(u, "?b:1", "?b=1") + "&" + params
	case strings.Contains(u, "?"):
		u += "&" + params
	default:
		u += "?" + params
	}

	if d.CanPlayFHD {
		u += "&h=1"
	}
	return u
}
