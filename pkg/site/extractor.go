package site

import (
	"bytes"
	"context"
	"errors"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"streamingcommunity-go/pkg/httpclient"
	"streamingcommunity-go/pkg/types"
	"streamingcommunity-go/pkg/urlutil"
)

// playlistMarker identifies the inline script carrying the playlist descriptor.
const playlistMarker = "masterPlaylist"

// ExtractPlaylist follows the iframe page to the player page, reads its
// playlist script and returns the signed master playlist URL.
func (c *Client) ExtractPlaylist(ctx context.Context, session types.SessionState, iframeURL string) (types.PlaylistResult, error) {
	framePage, err := c.get(ctx, StageIframe, iframeURL, session.Headers())
	if err != nil {
		return types.PlaylistResult{}, err
	}

	playerURL, err := findPlayerURL(framePage.body, iframeURL)
	if err != nil {
		return types.PlaylistResult{}, err
	}
	c.log.Debug("found player iframe", "src", playerURL)

	headers := httpclient.MergeHeaders(session.Headers(), c.iframeHeaders())
	playerPage, err := c.get(ctx, StagePlayer, playerURL, headers)
	if err != nil {
		return types.PlaylistResult{}, err
	}

	script, err := findPlaylistScript(playerPage.body)
	if err != nil {
		return types.PlaylistResult{}, err
	}

	descriptor, err := DescriptorFromScript(script)
	if err != nil {
		return types.PlaylistResult{}, err
	}

	result := types.PlaylistResult{
		Descriptor: descriptor,
		URL:        ComposePlaylistURL(descriptor),
		PlayerURL:  playerURL,
	}
	c.log.Info("playlist URL extracted", "url", result.URL)
	return result, nil
}

// DescriptorFromScript transliterates a player script and parses its playlist
// descriptor. Errors are StageErrors at StagePlaylist.
func DescriptorFromScript(script string) (types.PlaylistDescriptor, error) {
	jsonText, err := Transliterate(script)
	if err != nil {
		return types.PlaylistDescriptor{}, stageErr(StagePlaylist, KindMalformedScript, err)
	}

	descriptor, err := ParseDescriptor([]byte(jsonText))
	if err != nil {
		kind := KindMalformedScript
		if errors.Is(err, ErrInvalidDescriptor) {
			kind = KindInvalidDescriptor
		}
		return types.PlaylistDescriptor{}, stageErr(StagePlaylist, kind, err)
	}
	return descriptor, nil
}

// findPlayerURL returns the absolute src of the first iframe on the page.
func findPlayerURL(body []byte, pageURL string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", stageErr(StageIframe, KindDecode, err)
	}

	src, ok := doc.Find("iframe").First().Attr("src")
	if !ok || strings.TrimSpace(src) == "" {
		return "", miss(StageIframe, "no iframe on page")
	}
	return urlutil.ResolveURL(src, pageURL), nil
}

// findPlaylistScript returns the text of the first inline script mentioning
// the playlist marker.
func findPlaylistScript(body []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", stageErr(StagePlayer, KindDecode, err)
	}

	var script string
	doc.Find("script").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if text := s.Text(); strings.Contains(text, playlistMarker) {
			script = text
			return false
		}
		return true
	})

	if script == "" {
		return "", miss(StagePlayer, "no script containing %s", playlistMarker)
	}
	return script, nil
}
