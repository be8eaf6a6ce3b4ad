// Package apperr defines the error taxonomy shared by the scrape chain, the AI
// extraction engine, the orchestrator and the HTTP API.
package apperr

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies an error for propagation decisions.
type Kind string

const (
	KindUnknown         Kind = "unknown"
	KindValidation      Kind = "validation"
	KindUpstreamTimeout Kind = "upstream_timeout"
	KindUpstreamHTTP    Kind = "upstream_http"
	KindParse           Kind = "parse"
	KindRateLimit       Kind = "rate_limit"
	KindPersistence     Kind = "persistence"
)

// PreviewLimit caps the raw-text preview carried by ParseError.
const PreviewLimit = 500

// ValidationError reports malformed input. It is raised before any network I/O.
type ValidationError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
}

// UpstreamTimeout reports a third-party request that did not complete in time
// or failed at the transport level.
type UpstreamTimeout struct {
	Source string
	Err    error
}

func (e *UpstreamTimeout) Error() string {
	return fmt.Sprintf("upstream %s: transport failure: %v", e.Source, e.Err)
}

func (e *UpstreamTimeout) Unwrap() error { return e.Err }

// UpstreamHTTPError reports a non-2xx answer from a third party.
type UpstreamHTTPError struct {
	Source string
	Status int
}

func (e *UpstreamHTTPError) Error() string {
	return fmt.Sprintf("upstream %s: status %d", e.Source, e.Status)
}

// ParseError reports malformed JSON or HTML. Preview holds a truncated copy of
// the raw text for diagnostics.
type ParseError struct {
	What    string
	Preview string
	Err     error
}

// NewParseError builds a ParseError, truncating raw to PreviewLimit bytes.
func NewParseError(what, raw string, err error) *ParseError {
	return &ParseError{What: what, Preview: Truncate(raw, PreviewLimit), Err: err}
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse %s: %v (preview: %q)", e.What, e.Err, e.Preview)
	}
	return fmt.Sprintf("parse %s (preview: %q)", e.What, e.Preview)
}

func (e *ParseError) Unwrap() error { return e.Err }

// RateLimitExceeded is returned when a caller is throttled. RetryAfter is the
// earliest time the caller may try again.
type RateLimitExceeded struct {
	Key        string
	RetryAfter time.Duration
}

func (e *RateLimitExceeded) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s, retry after %s", e.Key, e.RetryAfter)
}

// PersistenceError wraps a failed store write. It is fatal to a job.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// KindOf walks the error chain and returns the first recognised kind.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var (
		ve *ValidationError
		ut *UpstreamTimeout
		uh *UpstreamHTTPError
		pe *ParseError
		rl *RateLimitExceeded
		se *PersistenceError
	)
	switch {
	case errors.As(err, &ve):
		return KindValidation
	case errors.As(err, &rl):
		return KindRateLimit
	case errors.As(err, &se):
		return KindPersistence
	case errors.As(err, &pe):
		return KindParse
	case errors.As(err, &uh):
		return KindUpstreamHTTP
	case errors.As(err, &ut):
		return KindUpstreamTimeout
	}
	return KindUnknown
}

// Truncate shortens s to at most n bytes without splitting a UTF-8 sequence.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8Start(s[cut]) {
		cut--
	}
	return s[:cut] + "…"
}

func utf8Start(b byte) bool { return b&0xC0 != 0x80 }
