package governance

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"
)

// DefaultRequestTimeout bounds a single provider call.
const DefaultRequestTimeout = 30 * time.Second

// TimeoutConfig defines timeout behavior for upstream requests.
type TimeoutConfig struct {
	// RequestTimeout is the maximum duration for a complete request.
	RequestTimeout time.Duration
}

// DefaultTimeoutConfig returns sensible timeout defaults.
func DefaultTimeoutConfig() TimeoutConfig {
	return TimeoutConfig{RequestTimeout: DefaultRequestTimeout}
}

// TimeoutManager enforces timeout policies on requests.
type TimeoutManager struct {
	mu     sync.RWMutex
	config TimeoutConfig
}

// NewTimeoutManager creates a timeout manager with the given configuration.
func NewTimeoutManager(config TimeoutConfig) *TimeoutManager {
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = DefaultRequestTimeout
	}

	return &TimeoutManager{config: config}
}

// Config returns a copy of the current timeout configuration.
func (tm *TimeoutManager) Config() TimeoutConfig {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	return tm.config
}

// Configure updates the timeout configuration atomically.
func (tm *TimeoutManager) Configure(config TimeoutConfig) error {
	if config.RequestTimeout <= 0 {
		return fmt.Errorf("request timeout must be positive")
	}

	tm.mu.Lock()
	tm.config = config
	tm.mu.Unlock()
	return nil
}

// WithRequestTimeout creates a context with request timeout.
func (tm *TimeoutManager) WithRequestTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, tm.Config().RequestTimeout)
}

// IsTimeout reports whether err came from an exceeded deadline, either the
// context's or a network timeout.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
