package site

import (
	"context"
	"errors"
	"math"
	"net/url"

	"github.com/tidwall/gjson"

	"streamingcommunity-go/pkg/logging"
	"streamingcommunity-go/pkg/types"
)

// Search queries the search API and returns the movie and series entries in
// the order the site returned them.
func (c *Client) Search(ctx context.Context, session types.SessionState, query string) ([]types.SearchResult, error) {
	target := c.siteURL + "/api/search?q=" + url.QueryEscape(query)

	pg, err := c.get(ctx, StageSearch, target, session.Headers())
	if err != nil {
		return nil, err
	}

	results, err := parseSearchResults(pg.body, c.log.With("query", query))
	if err != nil {
		return nil, err
	}

	c.log.Debug("search completed", "query", query, "results", len(results))
	return results, nil
}

// parseSearchResults filters a search response down to well-formed movie and
// series entries. Entries of other types are dropped silently; malformed
// movie/series entries are dropped with a warning.
func parseSearchResults(body []byte, log *logging.Logger) ([]types.SearchResult, error) {
	if !gjson.ValidBytes(body) {
		return nil, stageErr(StageSearch, KindDecode, errors.New("response is not valid JSON"))
	}

	root := gjson.ParseBytes(body)
	// Newer deployments wrap the list as {"data": [...]}.
	if root.IsObject() {
		root = root.Get("data")
	}
	if !root.IsArray() {
		return nil, stageErr(StageSearch, KindDecode, errors.New("expected a JSON array of results"))
	}

	entries := root.Array()
	results := make([]types.SearchResult, 0, len(entries))
	for i, entry := range entries {
		typ := entry.Get("type")
		kind, ok := types.ParseKind(typ.Str)
		if typ.Type != gjson.String || !ok {
			log.Debug("skipping search entry", "index", i, "type", typ.String())
			continue
		}

		result, reason := searchResultFrom(entry, kind)
		if reason != "" {
			log.Warn("dropping malformed search entry", "index", i, "reason", reason)
			continue
		}
		results = append(results, result)
	}

	return results, nil
}

func searchResultFrom(entry gjson.Result, kind types.Kind) (types.SearchResult, string) {
	name := entry.Get("name")
	if name.Type != gjson.String {
		return types.SearchResult{}, "name is missing or not a string"
	}

	id := entry.Get("id")
	if id.Type != gjson.Number || id.Num != math.Trunc(id.Num) {
		return types.SearchResult{}, "id is missing or not an integer"
	}

	slug := entry.Get("slug")
	if slug.Type != gjson.String || slug.Str == "" {
		return types.SearchResult{}, "slug is missing or not a string"
	}

	return types.SearchResult{
		Name: name.Str,
		ID:   id.Int(),
		Slug: slug.Str,
		Kind: kind,
	}, ""
}
