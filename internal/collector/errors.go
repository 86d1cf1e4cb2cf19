package collector

import (
	"context"
	"errors"
	"fmt"

	"panorama/internal/fetch"
)

type Kind string

const (
	KindSource     Kind = "source"
	KindNetwork    Kind = "network"
	KindHTTPStatus Kind = "http_status"
	KindParse      Kind = "parse"
	KindEmpty      Kind = "empty"
	KindWrite      Kind = "write"
)

// ErrEmptyResult marks a run whose response held no data rows. It is a
// warning: nothing is written and the previous output file is kept.
var ErrEmptyResult = errors.New("collector: empty result")

type CollectError struct {
	Kind   Kind
	Source string
	URL    string
	Err    error
}

func (e *CollectError) Error() string {
	if e.URL == "" {
		return fmt.Sprintf("collect %s: %s: %v", e.Source, e.Kind, e.Err)
	}
	return fmt.Sprintf("collect %s: %s (url=%s): %v", e.Source, e.Kind, e.URL, e.Err)
}

func (e *CollectError) Unwrap() error { return e.Err }

// Fatal reports whether the error should fail the process. Empty results are
// not fatal.
func (e *CollectError) Fatal() bool {
	return e.Kind != KindEmpty
}

func KindOf(err error) Kind {
	var collectErr *CollectError
	if errors.As(err, &collectErr) {
		return collectErr.Kind
	}
	return ""
}

func classify(err error) Kind {
	var netErr *fetch.NetworkError
	var statusErr *fetch.StatusError
	var parseErr *fetch.ParseError
	switch {
	case errors.As(err, &statusErr):
		return KindHTTPStatus
	case errors.As(err, &parseErr):
		return KindParse
	case errors.As(err, &netErr),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return KindNetwork
	default:
		return KindSource
	}
}
