package site

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Stage names a step of the per-title pipeline.
type Stage string

const (
	StageBootstrap Stage = "bootstrap"
	StageSearch    Stage = "search"
	StageResolve   Stage = "resolve"
	StageIframe    Stage = "iframe"
	StagePlayer    Stage = "player"
	StagePlaylist  Stage = "playlist"
	StageProbe     Stage = "probe"
)

// ErrMiss matches every MissError. A miss means the site has nothing usable for
// this title; the caller skips it and moves on.
var ErrMiss = errors.New("no stream available")

// Sentinel causes carried by StageError.
var (
	ErrMissingDataPage   = errors.New("data-page attribute not found")
	ErrMissingVersion    = errors.New("data-page has no string version")
	ErrMalformedScript   = errors.New("malformed playlist script")
	ErrInvalidDescriptor = errors.New("invalid playlist descriptor")
)

// MissError is an expected "nothing found" outcome at a given stage.
type MissError struct {
	Stage  Stage
	Reason string
}

func (e *MissError) Error() string {
	return fmt.Sprintf("%s: %s", e.Stage, e.Reason)
}

// Is makes errors.Is(err, ErrMiss) true for every MissError.
func (e *MissError) Is(target error) bool {
	return target == ErrMiss
}

func miss(stage Stage, format string, args ...any) error {
	return &MissError{Stage: stage, Reason: fmt.Sprintf(format, args...)}
}

// ErrorKind classifies a StageError.
type ErrorKind string

const (
	KindRequest           ErrorKind = "request"
	KindHTTPStatus        ErrorKind = "http_status"
	KindTimeout           ErrorKind = "timeout"
	KindNetwork           ErrorKind = "network"
	KindCanceled          ErrorKind = "canceled"
	KindDecode            ErrorKind = "decode"
	KindMissingDataPage   ErrorKind = "missing_data_page"
	KindMissingVersion    ErrorKind = "missing_version"
	KindMalformedScript   ErrorKind = "malformed_script"
	KindInvalidDescriptor ErrorKind = "invalid_descriptor"
)

// StageError is a failure of one pipeline stage.
type StageError struct {
	Stage      Stage
	Kind       ErrorKind
	StatusCode int
	Err        error
}

func (e *StageError) Error() string {
	if e.Kind == KindHTTPStatus {
		return fmt.Sprintf("%s: unexpected HTTP status %d", e.Stage, e.StatusCode)
	}
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Stage, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Stage, e.Kind, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func stageErr(stage Stage, kind ErrorKind, err error) *StageError {
	return &StageError{Stage: stage, Kind: kind, Err: err}
}

// transportError classifies an error returned by the HTTP client.
func transportError(stage Stage, err error) *StageError {
	var netErr net.Error
	switch {
	case errors.Is(err, context.Canceled):
		return stageErr(stage, KindCanceled, err)
	case errors.Is(err, context.DeadlineExceeded):
		return stageErr(stage, KindTimeout, err)
	case errors.As(err, &netErr) && netErr.Timeout():
		return stageErr(stage, KindTimeout, err)
	default:
		return stageErr(stage, KindNetwork, err)
	}
}

// IsMiss reports whether err is an expected miss rather than a failure.
func IsMiss(err error) bool {
	return errors.Is(err, ErrMiss)
}

// IsTransient reports whether retrying the same call could succeed.
func IsTransient(err error) bool {
	var se *StageError
	if !errors.As(err, &se) {
		return false
	}
	switch se.Kind {
	case KindTimeout, KindNetwork:
		return true
	case KindHTTPStatus:
		return se.StatusCode >= http.StatusInternalServerError || se.StatusCode == http.StatusTooManyRequests
	}
	return false
}

// IsVersionConflict reports whether the site rejected the Inertia version token,
// meaning the session must be bootstrapped again.
func IsVersionConflict(err error) bool {
	var se *StageError
	return errors.As(err, &se) && se.Kind == KindHTTPStatus && se.StatusCode == http.StatusConflict
}

// StageOf returns the stage an error was raised at, or "" for foreign errors.
func StageOf(err error) Stage {
	var me *MissError
	if errors.As(err, &me) {
		return me.Stage
	}
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}
