package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrAmbiguousQuery      = errors.New("ambiguous query")
	ErrPlatformUnavailable = errors.New("platform unavailable")
	ErrFetchFailed         = errors.New("fetch failed")
	ErrStreamOpenFailed    = errors.New("stream open failed")
	ErrStreamError         = errors.New("stream error")
	ErrInvalidCommand      = errors.New("invalid command")
	ErrRateLimited         = errors.New("rate limited")
	ErrSessionClosed       = errors.New("session closed")
)

type ErrorKind int

const (
	KindNone ErrorKind = iota
	KindNotFound
	KindAmbiguousQuery
	KindPlatformUnavailable
	KindFetchFailed
	KindStreamOpenFailed
	KindStreamError
	KindInvalidCommand
	KindRateLimited
	KindSessionClosed
	KindTimeout
	KindInternal
)

var kindNames = map[ErrorKind]string{
	KindNone:                "none",
	KindNotFound:            "not_found",
	KindAmbiguousQuery:      "ambiguous_query",
	KindPlatformUnavailable: "platform_unavailable",
	KindFetchFailed:         "fetch_failed",
	KindStreamOpenFailed:    "stream_open_failed",
	KindStreamError:         "stream_error",
	KindInvalidCommand:      "invalid_command",
	KindRateLimited:         "rate_limited",
	KindSessionClosed:       "session_closed",
	KindTimeout:             "timeout",
	KindInternal:            "internal",
}

func (k ErrorKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

var kindSentinels = []struct {
	err  error
	kind ErrorKind
}{
	{ErrNotFound, KindNotFound},
	{ErrAmbiguousQuery, KindAmbiguousQuery},
	{ErrPlatformUnavailable, KindPlatformUnavailable},
	{ErrFetchFailed, KindFetchFailed},
	{ErrStreamOpenFailed, KindStreamOpenFailed},
	{ErrStreamError, KindStreamError},
	{ErrInvalidCommand, KindInvalidCommand},
	{ErrRateLimited, KindRateLimited},
	{ErrSessionClosed, KindSessionClosed},
}

// KindOf classifies an error into the error taxonomy.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	for _, s := range kindSentinels {
		if errors.Is(err, s.err) {
			return s.kind
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindInternal
}

// AmbiguousQueryError carries the candidates a caller must choose from.
type AmbiguousQueryError struct {
	Query      string
	Candidates []TrackDescriptor
}

func (e *AmbiguousQueryError) Error() string {
	names := make([]string, 0, len(e.Candidates))
	for i := range e.Candidates {
		names = append(names, e.Candidates[i].DisplayName())
	}
	return fmt.Sprintf("ambiguous query %q: %d candidates (%s)", e.Query, len(e.Candidates), strings.Join(names, "; "))
}

func (e *AmbiguousQueryError) Unwrap() error { return ErrAmbiguousQuery }

// permanentError marks an error that retrying cannot fix.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so Retry gives up immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was wrapped with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
