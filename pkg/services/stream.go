// Package services runs the scraping pipeline: session bootstrap with retry,
// the per-title search → resolve → extract chain and the concurrent batch.
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"streamingcommunity-go/pkg/config"
	"streamingcommunity-go/pkg/interfaces"
	"streamingcommunity-go/pkg/logging"
	"streamingcommunity-go/pkg/metrics"
	"streamingcommunity-go/pkg/playlist"
	"streamingcommunity-go/pkg/site"
	"streamingcommunity-go/pkg/types"
)

// StreamService resolves titles to playable stream URLs.
type StreamService struct {
	scraper     interfaces.Scraper
	prober      interfaces.StreamProber
	sessions    *SessionStore
	metrics     *metrics.Metrics
	log         *logging.Logger
	attempts    int
	concurrency int
	backoff     time.Duration
}

// NewStreamService creates a stream service. prober and m may be nil.
func NewStreamService(
	cfg *config.Config,
	scraper interfaces.Scraper,
	prober interfaces.StreamProber,
	m *metrics.Metrics,
	log *logging.Logger,
) *StreamService {
	s := &StreamService{
		scraper:     scraper,
		prober:      prober,
		metrics:     m,
		log:         log.WithComponent("stream-service"),
		attempts:    max(cfg.BootstrapAttempts, 1),
		concurrency: max(cfg.Concurrency, 1),
		backoff:     time.Second,
	}
	s.sessions = NewSessionStore(s.Bootstrap, m, log)
	return s
}

// Sessions returns the session store shared by all requests.
func (s *StreamService) Sessions() *SessionStore {
	return s.sessions
}

// Bootstrap obtains a new session, retrying with exponential backoff.
func (s *StreamService) Bootstrap(ctx context.Context) (types.SessionState, error) {
	delay := s.backoff
	var lastErr error

	for attempt := 1; attempt <= s.attempts; attempt++ {
		session, err := observe(s, site.StageBootstrap, func() (types.SessionState, error) {
			return s.scraper.Bootstrap(ctx)
		})
		s.metrics.ObserveBootstrap(err == nil)
		if err == nil {
			return session, nil
		}
		lastErr = err

		if attempt == s.attempts || ctx.Err() != nil {
			break
		}
		s.log.WithError(err).Warn("bootstrap failed, retrying",
			"attempt", attempt,
			"max_attempts", s.attempts,
			"delay", delay,
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return types.SessionState{}, fmt.Errorf("bootstrap canceled: %w", errors.Join(ctx.Err(), lastErr))
		case <-timer.C:
		}
		delay *= 2
	}

	return types.SessionState{}, fmt.Errorf("bootstrap failed after %d attempts: %w", s.attempts, lastErr)
}

// ResolveTitle runs the pipeline for one query with an explicit session. The
// first search result is used. A miss at any stage returns an error matching
// site.ErrMiss.
func (s *StreamService) ResolveTitle(ctx context.Context, session types.SessionState, query string) (types.ResolvedStream, error) {
	log := s.log.WithTitle(query)

	results, err := observe(s, site.StageSearch, func() ([]types.SearchResult, error) {
		return s.scraper.Search(ctx, session, query)
	})
	if err != nil {
		return types.ResolvedStream{}, err
	}
	if len(results) == 0 {
		return types.ResolvedStream{}, &site.MissError{Stage: site.StageSearch, Reason: "no search results"}
	}

	first := results[0]
	log.Info("found title", "name", first.Name, "type", first.Kind, "id", first.ID)

	frame, err := observe(s, site.StageResolve, func() (types.ResolvedFrame, error) {
		return s.scraper.Resolve(ctx, session, first)
	})
	if err != nil {
		return types.ResolvedStream{}, err
	}

	pl, err := observe(s, site.StagePlaylist, func() (types.PlaylistResult, error) {
		return s.scraper.ExtractPlaylist(ctx, session, frame.IframeURL)
	})
	if err != nil {
		return types.ResolvedStream{}, err
	}

	if s.prober != nil {
		_, err := observe(s, site.StageProbe, func() (struct{}, error) {
			return struct{}{}, s.prober.Probe(ctx, pl.URL, pl.PlayerURL)
		})
		if err != nil {
			return types.ResolvedStream{}, probeError(err)
		}
	}

	return types.ResolvedStream{DisplayName: first.Name, URL: pl.URL}, nil
}

// Resolve runs the pipeline for one query using the shared session and
// reports the outcome. A rejected session is refreshed once.
func (s *StreamService) Resolve(ctx context.Context, query string) types.TitleOutcome {
	done := s.metrics.TrackInflight()
	defer done()

	stream, err := withSession(ctx, s, func(session types.SessionState) (types.ResolvedStream, error) {
		return s.ResolveTitle(ctx, session, query)
	})
	return s.outcome(query, stream, err)
}

// Search queries the site with the shared session.
func (s *StreamService) Search(ctx context.Context, query string) ([]types.SearchResult, error) {
	return withSession(ctx, s, func(session types.SessionState) ([]types.SearchResult, error) {
		return s.scraper.Search(ctx, session, query)
	})
}

// ResolveAll bootstraps once and then resolves titles concurrently. Outcomes
// keep the order of titles. Only a bootstrap failure is returned as an error;
// in that case no title is searched.
func (s *StreamService) ResolveAll(ctx context.Context, titles []string) (types.BatchResult, error) {
	if _, err := s.sessions.Get(ctx); err != nil {
		s.log.WithError(err).Error("bootstrap failed, aborting batch", "titles", len(titles))
		return types.BatchResult{}, err
	}

	outcomes := make([]types.TitleOutcome, len(titles))

	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i, title := range titles {
		g.Go(func() error {
			if ctx.Err() != nil {
				outcomes[i] = s.outcome(title, types.ResolvedStream{}, ctx.Err())
				return nil
			}
			outcomes[i] = s.Resolve(ctx, title)
			return nil
		})
	}
	_ = g.Wait()

	result := types.BatchResult{Outcomes: outcomes}
	s.log.Info("batch completed",
		"titles", len(titles),
		"resolved", result.Count(types.StatusResolved),
		"missed", result.Count(types.StatusMiss),
		"failed", result.Count(types.StatusFail),
	)
	return result, ctx.Err()
}

func (s *StreamService) outcome(query string, stream types.ResolvedStream, err error) types.TitleOutcome {
	if err == nil {
		s.metrics.ObserveTitle(metrics.OutcomeResolved, "")
		s.log.Info("title resolved", "title", query, "name", stream.DisplayName, "url", stream.URL)
		return types.TitleOutcome{Query: query, Status: types.StatusResolved, Stream: stream}
	}

	stage := string(site.StageOf(err))
	o := types.TitleOutcome{Query: query, Stage: stage, Error: err.Error()}
	log := s.log.WithTitle(query).WithStage(stage)

	if site.IsMiss(err) {
		o.Status = types.StatusMiss
		s.metrics.ObserveTitle(metrics.OutcomeMiss, stage)
		log.Info("title skipped", "reason", err.Error())
	} else {
		o.Status = types.StatusFail
		s.metrics.ObserveTitle(metrics.OutcomeFail, stage)
		log.WithError(err).Warn("title failed", "transient", site.IsTransient(err))
	}
	return o
}

// withSession runs fn with the shared session. When the site rejects the
// session's version, the session is dropped and fn runs once more with a new one.
func withSession[T any](ctx context.Context, s *StreamService, fn func(types.SessionState) (T, error)) (T, error) {
	var zero T

	session, err := s.sessions.Get(ctx)
	if err != nil {
		return zero, err
	}

	v, err := fn(session)
	if !site.IsVersionConflict(err) {
		return v, err
	}

	s.log.Info("site rejected session version, bootstrapping again", "version", session.VersionToken)
	s.sessions.Invalidate(session)

	session, err = s.sessions.Get(ctx)
	if err != nil {
		return zero, err
	}
	return fn(session)
}

// observe times one stage.
func observe[T any](s *StreamService, stage site.Stage, fn func() (T, error)) (T, error) {
	start := time.Now()
	v, err := fn()
	s.metrics.ObserveStage(string(stage), time.Since(start))
	return v, err
}

// probeError maps a prober error onto the stage taxonomy.
func probeError(err error) error {
	var status *playlist.StatusError
	switch {
	case errors.As(err, &status):
		return &site.StageError{Stage: site.StageProbe, Kind: site.KindHTTPStatus, StatusCode: status.StatusCode, Err: err}
	case errors.Is(err, playlist.ErrNotPlayable):
		return &site.StageError{Stage: site.StageProbe, Kind: site.KindDecode, Err: err}
	case errors.Is(err, context.Canceled):
		return &site.StageError{Stage: site.StageProbe, Kind: site.KindCanceled, Err: err}
	case errors.Is(err, context.DeadlineExceeded):
		return &site.StageError{Stage: site.StageProbe, Kind: site.KindTimeout, Err: err}
	default:
		return &site.StageError{Stage: site.StageProbe, Kind: site.KindNetwork, Err: err}
	}
}
