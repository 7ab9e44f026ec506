package site

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"

	"streamingcommunity-go/pkg/types"
)

// titlePage is the subset of the title detail payload the resolver reads.
// Every level is optional because the site changes shape without notice.
type titlePage struct {
	Props *titleProps `json:"props"`
}

type titleProps struct {
	Title        *titlePayload  `json:"title"`
	LoadedSeason *seasonPayload `json:"loadedSeason"`
}

type titlePayload struct {
	ID      *int64            `json:"id"`
	Type    *string           `json:"type"`
	Seasons []json.RawMessage `json:"seasons"`
}

type seasonPayload struct {
	Episodes []episodePayload `json:"episodes"`
}

type episodePayload struct {
	ID *int64 `json:"id"`
}

// Resolve loads a title's detail payload and builds the URL of its player
// iframe. Series resolve to the first episode of the season the site loads by
// default.
func (c *Client) Resolve(ctx context.Context, session types.SessionState, result types.SearchResult) (types.ResolvedFrame, error) {
	target := fmt.Sprintf("%s/%s/titles/%d-%s", c.siteURL, c.lang, result.ID, url.PathEscape(result.Slug))

	pg, err := c.get(ctx, StageResolve, target, session.Headers())
	if err != nil {
		return types.ResolvedFrame{}, err
	}

	detail, err := parseTitleDetail(pg.body, result.Kind)
	if err != nil {
		return types.ResolvedFrame{}, err
	}

	frame := types.ResolvedFrame{
		IframeURL: c.iframeURL(detail),
		Detail:    detail,
	}
	c.log.Debug("title resolved", "title", result.Name, "kind", detail.Kind, "iframe", frame.IframeURL)
	return frame, nil
}

// iframeURL builds the embed URL. The movie form really has no "?"; the site
// routes it that way.
func (c *Client) iframeURL(detail types.TitleDetail) string {
	if detail.Kind == types.KindSeries {
		return fmt.Sprintf("%s/%s/iframe/%d?episode_id=%d&canPlayFHD=1",
			c.siteURL, c.lang, detail.NumericID, detail.SeasonEpisodes[0].ID)
	}
	return fmt.Sprintf("%s/%s/iframe/%d&canPlayFHD=1", c.siteURL, c.lang, detail.NumericID)
}

// parseTitleDetail navigates props.title and props.loadedSeason. Shape problems
// are misses; only undecodable JSON is a failure.
func parseTitleDetail(body []byte, fallback types.Kind) (types.TitleDetail, error) {
	var pg titlePage
	if err := json.Unmarshal(body, &pg); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			field := typeErr.Field
			if field == "" {
				field = "payload"
			}
			return types.TitleDetail{}, miss(StageResolve, "field %s has unexpected type %s", field, typeErr.Value)
		}
		return types.TitleDetail{}, stageErr(StageResolve, KindDecode, err)
	}

	if pg.Props == nil {
		return types.TitleDetail{}, miss(StageResolve, "missing props")
	}
	title := pg.Props.Title
	if title == nil {
		return types.TitleDetail{}, miss(StageResolve, "missing props.title")
	}
	if title.ID == nil {
		return types.TitleDetail{}, miss(StageResolve, "missing props.title.id")
	}

	kind := fallback
	if title.Type != nil {
		kind = types.Kind(*title.Type)
	}

	detail := types.TitleDetail{NumericID: *title.ID, Kind: kind}
	if kind != types.KindSeries {
		detail.Kind = types.KindMovie
		return detail, nil
	}

	if len(title.Seasons) == 0 {
		return types.TitleDetail{}, miss(StageResolve, "no seasons")
	}
	if pg.Props.LoadedSeason == nil {
		return types.TitleDetail{}, miss(StageResolve, "missing props.loadedSeason")
	}
	episodes := pg.Props.LoadedSeason.Episodes
	if len(episodes) == 0 {
		return types.TitleDetail{}, miss(StageResolve, "no episodes")
	}
	if episodes[0].ID == nil {
		return types.TitleDetail{}, miss(StageResolve, "missing props.loadedSeason.episodes[0].id")
	}

	detail.SeasonEpisodes = make([]types.EpisodeRef, 0, len(episodes))
	for _, ep := range episodes {
		if ep.ID != nil {
			detail.SeasonEpisodes = append(detail.SeasonEpisodes, types.EpisodeRef{ID: *ep.ID})
		}
	}
	return detail, nil
}
