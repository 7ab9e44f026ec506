package site

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestTransportError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{name: "canceled", err: fmt.Errorf("get: %w", context.Canceled), want: KindCanceled},
		{name: "deadline", err: context.DeadlineExceeded, want: KindTimeout},
		{name: "net timeout", err: timeoutErr{}, want: KindTimeout},
		{name: "other", err: errors.New("connection refused"), want: KindNetwork},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			se := transportError(StageSearch, tt.err)
			assert.Equal(t, tt.want, se.Kind)
			assert.ErrorIs(t, se, tt.err)
		})
	}
}

func TestErrorClassification(t *testing.T) {
	m := miss(StageResolve, "no episodes")
	assert.True(t, IsMiss(m))
	assert.True(t, errors.Is(fmt.Errorf("wrapped: %w", m), ErrMiss))
	assert.False(t, IsTransient(m))
	assert.Equal(t, "resolve: no episodes", m.Error())

	status := func(code int) error {
		return &StageError{Stage: StageSearch, Kind: KindHTTPStatus, StatusCode: code}
	}
	assert.True(t, IsTransient(status(http.StatusBadGateway)))
	assert.True(t, IsTransient(status(http.StatusTooManyRequests)))
	assert.False(t, IsTransient(status(http.StatusNotFound)))
	assert.True(t, IsVersionConflict(status(http.StatusConflict)))
	assert.False(t, IsVersionConflict(status(http.StatusForbidden)))
	assert.Equal(t, "search: unexpected HTTP status 409", status(http.StatusConflict).Error())

	assert.True(t, IsTransient(stageErr(StageIframe, KindNetwork, errors.New("reset"))))
	assert.False(t, IsTransient(stageErr(StagePlaylist, KindMalformedScript, ErrMalformedScript)))
	assert.Equal(t, Stage(""), StageOf(errors.New("foreign")))
	assert.False(t, IsMiss(nil))
}
