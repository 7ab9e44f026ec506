// Package site implements the StreamingCommunity site protocol: the Inertia
// bootstrap page, the search API, the title detail payload and the embedded
// player's playlist script.
//
// Every operation takes the session explicitly and returns either a value, a
// *MissError (matches ErrMiss) or a *StageError.
package site

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"streamingcommunity-go/pkg/config"
	"streamingcommunity-go/pkg/flaresolverr"
	"streamingcommunity-go/pkg/interfaces"
	"streamingcommunity-go/pkg/logging"
)

// maxBodySize caps how much of any response is read.
const maxBodySize = 8 << 20

// Client talks to one StreamingCommunity mirror.
type Client struct {
	http          interfaces.HTTPClient
	flare         *flaresolverr.Client
	siteURL       string
	lang          string
	bootstrapPath string
	userAgent     string
	pacer         *rate.Limiter
	log           *logging.Logger
}

// New creates a site client. flare may be nil.
func New(cfg *config.Config, httpClient interfaces.HTTPClient, flare *flaresolverr.Client, log *logging.Logger) *Client {
	bootstrapPath := cfg.BootstrapPath
	if !strings.HasPrefix(bootstrapPath, "/") {
		bootstrapPath = "/" + bootstrapPath
	}
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = config.DefaultUserAgent
	}
	lang := cfg.SiteLang
	if lang == "" {
		lang = "it"
	}

	// One request per interval across every pipeline sharing this client.
	var pacer *rate.Limiter
	if cfg.RequestInterval > 0 {
		pacer = rate.NewLimiter(rate.Every(cfg.RequestInterval), 1)
	}

	return &Client{
		http:          httpClient,
		flare:         flare,
		siteURL:       strings.TrimRight(cfg.SiteURL, "/"),
		lang:          lang,
		bootstrapPath: bootstrapPath,
		userAgent:     userAgent,
		pacer:         pacer,
		log:           log.WithComponent("site"),
	}
}

// SiteURL returns the mirror base URL without a trailing slash.
func (c *Client) SiteURL() string {
	return c.siteURL
}

// baseHeaders is the fixed header set every session starts from.
func (c *Client) baseHeaders() map[string]string {
	return map[string]string{
		"User-Agent":       c.userAgent,
		"Accept":           "text/html,application/xhtml+xml,application/json;q=0.9,*/*;q=0.8",
		"Accept-Language":  "it-IT,it;q=0.9,en-US;q=0.8,en;q=0.7",
		"X-Requested-With": "XMLHttpRequest",
		"X-Inertia":        "true",
	}
}

// iframeHeaders are added when loading the cross-site player page.
func (c *Client) iframeHeaders() map[string]string {
	return map[string]string{
		"Referer":        c.siteURL,
		"Sec-Fetch-Dest": "iframe",
		"Sec-Fetch-Mode": "navigate",
		"Sec-Fetch-Site": "cross-site",
	}
}

type page struct {
	body   []byte
	header http.Header
}

// paced reports whether requests of stage go through the pacer. Bootstrap has
// its own backoff and the player lives on another host.
func paced(stage Stage) bool {
	switch stage {
	case StageSearch, StageResolve, StageIframe:
		return true
	}
	return false
}

// wait blocks until the pacer admits a request for stage.
func (c *Client) wait(ctx context.Context, stage Stage) error {
	if c.pacer == nil || !paced(stage) {
		return nil
	}
	if err := c.pacer.Wait(ctx); err != nil {
		// Wait refuses early when the deadline would pass first.
		if ctx.Err() == nil {
			err = fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
		}
		return transportError(stage, err)
	}
	return nil
}

// get performs a GET and returns the body of a 200 response.
func (c *Client) get(ctx context.Context, stage Stage, target string, headers map[string]string) (*page, error) {
	if err := c.wait(ctx, stage); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, stageErr(stage, KindRequest, err)
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, transportError(stage, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, transportError(stage, fmt.Errorf("failed to read response: %w", err))
	}

	c.log.WithDuration(time.Since(start)).Debug("fetched page",
		"stage", stage,
		"url", target,
		"status", resp.StatusCode,
		"bytes", len(body),
	)

	if resp.StatusCode != http.StatusOK {
		return nil, &StageError{Stage: stage, Kind: KindHTTPStatus, StatusCode: resp.StatusCode}
	}

	return &page{body: body, header: resp.Header}, nil
}
