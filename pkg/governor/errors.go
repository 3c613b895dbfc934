package governor

import (
	"errors"
	"fmt"
	"time"

	"github.com/polisai/polis-companion/internal/governance"
	"github.com/polisai/polis-companion/pkg/provider"
)

// Kind names the reason a governed request failed.
type Kind string

const (
	// KindEmptyInput marks a missing, empty or non-string message.
	KindEmptyInput Kind = "empty_input"
	// KindTooLong marks a message longer than the configured maximum.
	KindTooLong Kind = "too_long"
	// KindRateLimited marks a request rejected by the sliding window.
	KindRateLimited Kind = "rate_limited"
	// KindProvider marks an upstream completion failure.
	KindProvider Kind = "provider"
)

// Sentinel errors matched by *Error through errors.Is.
var (
	ErrEmptyInput  = errors.New("governor: message is required")
	ErrTooLong     = errors.New("governor: message too long")
	ErrRateLimited = errors.New("governor: rate limit exceeded")
	ErrProvider    = errors.New("governor: provider failure")
)

// Error is returned by every failing Governor operation.
type Error struct {
	Kind Kind
	// Provider is set only for KindProvider.
	Provider provider.ErrorKind
	Err      error
}

func (e *Error) Error() string {
	switch {
	case e.Kind == KindProvider && e.Err != nil:
		return fmt.Sprintf("governor: provider %s failure: %v", e.Provider, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("governor: %s: %v", e.Kind, e.Err)
	default:
		return "governor: " + string(e.Kind)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel for e.Kind.
func (e *Error) Is(target error) bool {
	return target == sentinel(e.Kind)
}

func sentinel(kind Kind) error {
	switch kind {
	case KindEmptyInput:
		return ErrEmptyInput
	case KindTooLong:
		return ErrTooLong
	case KindRateLimited:
		return ErrRateLimited
	case KindProvider:
		return ErrProvider
	default:
		return nil
	}
}

// KindOf returns the Kind carried by err, or "" when err is not a governor error.
func KindOf(err error) Kind {
	var gerr *Error
	if errors.As(err, &gerr) {
		return gerr.Kind
	}
	return ""
}

// RetryAfter reports how long a rate-limited caller should wait. The second
// result is false when err is not a rate limit rejection.
func RetryAfter(err error) (time.Duration, bool) {
	var rlErr *governance.RateLimitError
	if errors.As(err, &rlErr) {
		return rlErr.RetryAfter, true
	}
	return 0, false
}

func newError(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}
