package governance

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"
)

const (
	// DefaultRateLimit is the number of admissions allowed per window.
	DefaultRateLimit = 20
	// DefaultRateWindow is the trailing span over which admissions are counted.
	DefaultRateWindow = time.Minute
)

// ErrRateLimitExceeded is matched by every *RateLimitError.
var ErrRateLimitExceeded = errors.New("rate limit exceeded")

// RateWindowConfig defines sliding-window admission settings.
type RateWindowConfig struct {
	Limit  int
	Window time.Duration
}

// DefaultRateWindowConfig returns 20 admissions per trailing minute.
func DefaultRateWindowConfig() RateWindowConfig {
	return RateWindowConfig{Limit: DefaultRateLimit, Window: DefaultRateWindow}
}

func (c RateWindowConfig) normalized() RateWindowConfig {
	if c.Limit <= 0 {
		c.Limit = DefaultRateLimit
	}
	if c.Window <= 0 {
		c.Window = DefaultRateWindow
	}
	return c
}

// RateLimitError reports a rejected admission and when capacity frees up.
type RateLimitError struct {
	Limit      int
	Window     time.Duration
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded: %d requests per %s, retry after %s", e.Limit, e.Window, e.RetryAfter)
}

// Is reports whether target is ErrRateLimitExceeded.
func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimitExceeded
}

// RateWindow admits at most Limit events within any trailing Window.
// Timestamps are kept oldest first; expired ones are trimmed from the front
// on every admission attempt.
type RateWindow struct {
	mu         sync.Mutex
	limit      int
	window     time.Duration
	timestamps []time.Time
}

// NewRateWindow creates an empty window with the provided configuration.
func NewRateWindow(config RateWindowConfig) *RateWindow {
	config = config.normalized()
	return &RateWindow{
		limit:      config.Limit,
		window:     config.Window,
		timestamps: make([]time.Time, 0, config.Limit),
	}
}

// Configure updates the limit and window while preserving recorded admissions.
// When the limit shrinks below the number of live entries only the most recent
// ones are kept.
func (rw *RateWindow) Configure(config RateWindowConfig) {
	config = config.normalized()

	rw.mu.Lock()
	defer rw.mu.Unlock()

	rw.limit = config.Limit
	rw.window = config.Window
	if extra := len(rw.timestamps) - rw.limit; extra > 0 {
		rw.timestamps = append(rw.timestamps[:0], rw.timestamps[extra:]...)
	}
}

// Admit evicts expired timestamps, rejects when the window is full and
// otherwise records now. Callers must pass non-decreasing times.
func (rw *RateWindow) Admit(now time.Time) error {
	rw.mu.Lock()
	defer rw.mu.Unlock()

	rw.evict(now)

	if len(rw.timestamps) >= rw.limit {
		retryAfter := rw.timestamps[0].Add(rw.window).Sub(now)
		if retryAfter < 0 {
			retryAfter = 0
		}
		return &RateLimitError{
			Limit:      rw.limit,
			Window:     rw.window,
			RetryAfter: retryAfter,
		}
	}

	rw.timestamps = append(rw.timestamps, now)
	return nil
}

// evict drops the prefix of timestamps older than the window. Caller holds mu.
func (rw *RateWindow) evict(now time.Time) {
	keep := 0
	for keep < len(rw.timestamps) && now.Sub(rw.timestamps[keep]) > rw.window {
		keep++
	}
	if keep > 0 {
		rw.timestamps = append(rw.timestamps[:0], rw.timestamps[keep:]...)
	}
}

// Len returns the number of recorded timestamps without evicting.
func (rw *RateWindow) Len() int {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	return len(rw.timestamps)
}

// RateWindowStats exposes the current state of the window.
type RateWindowStats struct {
	Limit     int       `json:"limit"`
	Window    string    `json:"window"`
	InUse     int       `json:"inUse"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"resetAt"`
}

// Stats evicts expired entries and reports occupancy relative to now.
func (rw *RateWindow) Stats(now time.Time) RateWindowStats {
	rw.mu.Lock()
	defer rw.mu.Unlock()

	rw.evict(now)

	resetAt := now
	if len(rw.timestamps) > 0 {
		resetAt = rw.timestamps[0].Add(rw.window)
	}

	return RateWindowStats{
		Limit:     rw.limit,
		Window:    rw.window.String(),
		InUse:     len(rw.timestamps),
		Remaining: rw.limit - len(rw.timestamps),
		ResetAt:   resetAt,
	}
}

// WriteRateLimitHeaders adds rate limit status headers to the response.
func WriteRateLimitHeaders(w http.ResponseWriter, limit, remaining int, resetTime time.Time) {
	if remaining < 0 {
		remaining = 0
	}
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetTime.Unix(), 10))
}
