package services

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"

	"streamingcommunity-go/pkg/logging"
	"streamingcommunity-go/pkg/metrics"
	"streamingcommunity-go/pkg/types"
)

// BootstrapFunc produces a fresh session.
type BootstrapFunc func(ctx context.Context) (types.SessionState, error)

// SessionStore caches the current session. Callers that arrive while a
// bootstrap is running wait for it instead of starting their own.
type SessionStore struct {
	bootstrap BootstrapFunc
	metrics   *metrics.Metrics
	log       *logging.Logger

	mu      sync.RWMutex
	current types.SessionState
	group   singleflight.Group
}

// NewSessionStore creates an empty store.
func NewSessionStore(bootstrap BootstrapFunc, m *metrics.Metrics, log *logging.Logger) *SessionStore {
	return &SessionStore{
		bootstrap: bootstrap,
		metrics:   m,
		log:       log.WithComponent("sessions"),
	}
}

// Get returns the cached session, bootstrapping one if there is none.
func (s *SessionStore) Get(ctx context.Context) (types.SessionState, error) {
	if session, ok := s.Current(); ok {
		return session, nil
	}

	ch := s.group.DoChan("bootstrap", func() (any, error) {
		if session, ok := s.Current(); ok {
			return session, nil
		}
		// Shared by every waiter, so one caller going away must not cancel it.
		session, err := s.bootstrap(context.WithoutCancel(ctx))
		if err != nil {
			return types.SessionState{}, err
		}
		s.mu.Lock()
		s.current = session
		s.mu.Unlock()
		return session, nil
	})

	select {
	case <-ctx.Done():
		return types.SessionState{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return types.SessionState{}, res.Err
		}
		return res.Val.(types.SessionState), nil
	}
}

// Invalidate drops stale if it is still the cached session.
func (s *SessionStore) Invalidate(stale types.SessionState) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.current.Valid() || s.current.VersionToken != stale.VersionToken || s.current.Cookies != stale.Cookies {
		return
	}
	s.current = types.SessionState{}
	s.metrics.IncSessionInvalidations()
	s.log.Info("session invalidated", "version", stale.VersionToken)
}

// Current returns the cached session and whether there is one.
func (s *SessionStore) Current() (types.SessionState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current, s.current.Valid()
}
