package playlist

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streamingcommunity-go/pkg/logging"
)

const masterBody = `#EXTM3U
#EXT-X-STREAM-INF:BANDWIDTH=1200000,RESOLUTION=1280x720
https://vixcloud.co/playlist/381/720p.m3u8
#EXT-X-STREAM-INF:BANDWIDTH=4500000,RESOLUTION=1920x1080
https://vixcloud.co/playlist/381/1080p.m3u8
`

const mediaBody = `#EXTM3U
#EXT-X-VERSION:3
#EXT-X-TARGETDURATION:4
#EXT-X-MEDIA-SEQUENCE:0
#EXTINF:4.000,
seg0.ts
#EXTINF:4.000,
seg1.ts
#EXT-X-ENDLIST
`

func TestProbe(t *testing.T) {
	var gotReferer string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotReferer = r.Header.Get("Referer")
		switch r.URL.Path {
		case "/master":
			fmt.Fprint(w, masterBody)
		case "/media":
			fmt.Fprint(w, mediaBody)
		case "/empty-master":
			fmt.Fprint(w, "#EXTM3U\n#EXT-X-VERSION:3\n#EXT-X-INDEPENDENT-SEGMENTS\n")
		case "/html":
			fmt.Fprint(w, "<html>Access denied</html>")
		default:
			http.Error(w, "expired", http.StatusForbidden)
		}
	}))
	defer srv.Close()

	p := NewProber(http.DefaultClient, "test-agent", logging.Discard())
	ctx := context.Background()

	require.NoError(t, p.Probe(ctx, srv.URL+"/master?token=t", "https://vixcloud.co/embed/381"))
	assert.Equal(t, "https://vixcloud.co/embed/381", gotReferer)

	require.NoError(t, p.Probe(ctx, srv.URL+"/media", ""))

	err := p.Probe(ctx, srv.URL+"/html", "")
	assert.ErrorIs(t, err, ErrNotPlayable)

	err = p.Probe(ctx, srv.URL+"/empty-master", "")
	assert.ErrorIs(t, err, ErrNotPlayable)

	err = p.Probe(ctx, srv.URL+"/gone", "")
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusForbidden, se.StatusCode)
}
