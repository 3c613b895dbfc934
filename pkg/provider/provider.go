package provider

import (
	"context"
	"errors"
	"fmt"
)

// Defaults pinned for the chat assistant.
const (
	DefaultModel     = "gpt-4o"
	DefaultMaxTokens = 500
	DefaultBaseURL   = "https://api.openai.com/v1"
)

// ErrUpstream is matched by every *Error returned from a Client.
var ErrUpstream = errors.New("upstream provider error")

// ErrorKind classifies upstream failures.
type ErrorKind string

const (
	// KindTransport covers network failures and timeouts.
	KindTransport ErrorKind = "transport"
	// KindAuth covers rejected or missing credentials.
	KindAuth ErrorKind = "auth"
	// KindQuota covers rate limiting and exhausted billing on the upstream side.
	KindQuota ErrorKind = "quota"
	// KindOther covers everything else, including malformed responses.
	KindOther ErrorKind = "other"
)

// Error wraps an upstream failure with its classification.
type Error struct {
	Kind       ErrorKind
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("provider %s error (status %d): %v", e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("provider %s error: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrUpstream.
func (e *Error) Is(target error) bool {
	return target == ErrUpstream
}

// KindOf extracts the ErrorKind from err, defaulting to KindOther.
func KindOf(err error) ErrorKind {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Kind
	}
	return KindOther
}

// Client performs a single chat completion and returns the reply text.
type Client interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// ClientFunc adapts a function to Client.
type ClientFunc func(ctx context.Context, req CompletionRequest) (string, error)

// Complete calls f.
func (f ClientFunc) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	return f(ctx, req)
}
