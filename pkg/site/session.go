package site

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/tidwall/gjson"

	"streamingcommunity-go/pkg/types"
)

// Bootstrap loads the SPA root page and returns the session every later call
// needs: the Inertia version token from the data-page payload and the cookies
// set by the response. Nothing is retried here.
func (c *Client) Bootstrap(ctx context.Context) (types.SessionState, error) {
	target := c.siteURL + c.bootstrapPath
	headers := c.baseHeaders()

	pg, err := c.get(ctx, StageBootstrap, target, headers)
	if err != nil {
		if c.challenged(err) {
			return c.bootstrapViaFlareSolverr(ctx, target, headers, err)
		}
		return types.SessionState{}, err
	}

	version, err := parseDataPage(pg.body)
	if err != nil {
		return types.SessionState{}, err
	}

	session := types.NewSessionState(version, cookieHeader(pg.header), headers)
	c.log.Info("session bootstrapped", "version", version, "cookies", len(pg.header.Values("Set-Cookie")))
	return session, nil
}

// challenged reports whether err looks like a Cloudflare challenge that the
// FlareSolverr fallback can get past.
func (c *Client) challenged(err error) bool {
	if !c.flare.IsConfigured() {
		return false
	}
	var se *StageError
	if !errors.As(err, &se) || se.Kind != KindHTTPStatus {
		return false
	}
	return se.StatusCode == http.StatusForbidden || se.StatusCode == http.StatusServiceUnavailable
}

func (c *Client) bootstrapViaFlareSolverr(ctx context.Context, target string, headers map[string]string, cause error) (types.SessionState, error) {
	c.log.Info("bootstrap challenged, retrying through FlareSolverr", "url", target, "cause", cause.Error())

	resp, err := c.flare.Get(ctx, target, nil)
	if err != nil {
		c.log.Warn("FlareSolverr bootstrap failed", "error", err)
		return types.SessionState{}, cause
	}

	version, err := parseDataPage([]byte(resp.Solution.Response))
	if err != nil {
		return types.SessionState{}, err
	}

	// cf_clearance is bound to the solver's user agent.
	if resp.Solution.UserAgent != "" {
		headers["User-Agent"] = resp.Solution.UserAgent
	}

	session := types.NewSessionState(version, resp.Solution.CookieHeader(), headers)
	c.log.Info("session bootstrapped via FlareSolverr", "version", version, "cookies", len(resp.Solution.Cookies))
	return session, nil
}

// parseDataPage extracts the Inertia version from the root element's data-page
// attribute.
func parseDataPage(body []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", stageErr(StageBootstrap, KindDecode, err)
	}

	sel := doc.Find("#app[data-page]").First()
	if sel.Length() == 0 {
		sel = doc.Find("[data-page]").First()
	}
	raw, ok := sel.Attr("data-page")
	if !ok || strings.TrimSpace(raw) == "" {
		return "", stageErr(StageBootstrap, KindMissingDataPage, ErrMissingDataPage)
	}

	if !gjson.Valid(raw) {
		return "", stageErr(StageBootstrap, KindDecode, errors.New("data-page is not valid JSON"))
	}

	version := gjson.Get(raw, "version")
	if version.Type != gjson.String || version.Str == "" {
		return "", stageErr(StageBootstrap, KindMissingVersion, ErrMissingVersion)
	}

	return version.Str, nil
}

// cookieHeader reduces Set-Cookie headers to a single Cookie header value.
// A cookie set twice keeps its first position and its last value.
func cookieHeader(h http.Header) string {
	cookies := (&http.Response{Header: h}).Cookies()

	order := make([]string, 0, len(cookies))
	values := make(map[string]string, len(cookies))
	for _, ck := range cookies {
		if _, seen := values[ck.Name]; !seen {
			order = append(order, ck.Name)
		}
		values[ck.Name] = ck.Value
	}

	pairs := make([]string, 0, len(order))
	for _, name := range order {
		pairs = append(pairs, name+"="+values[name])
	}
	return strings.Join(pairs, "; ")
}
