package ocr

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"time"
)

// Rate limiting and retry configuration for Vision API calls.
const (
	DefaultMaxCallsPerMinute = 60
	DefaultMaxAttempts       = 3
	DefaultInitialBackoff    = time.Second
	MaxBackoff               = 30 * time.Second

	rateWindow = time.Minute
)

// RateLimiter caps outbound provider calls inside a sliding window. When
// the cap is reached, Acquire blocks until the oldest call leaves the
// window. The check-then-record sequence runs under one mutex hold so
// concurrent callers cannot exceed the cap.
type RateLimiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	calls  []time.Time

	// now is swappable for tests.
	now func() time.Time
}

// NewRateLimiter returns a limiter allowing limit calls per minute.
func NewRateLimiter(limit int) *RateLimiter {
	if limit <= 0 {
		limit = DefaultMaxCallsPerMinute
	}
	return &RateLimiter{
		limit:  limit,
		window: rateWindow,
		now:    time.Now,
	}
}

// Acquire blocks until a call slot is available or ctx is cancelled. A
// successful return has already recorded the call in the window.
func (l *RateLimiter) Acquire(ctx context.Context) error {
	for {
		l.mu.Lock()
		now := l.now()
		l.prune(now)
		if len(l.calls) < l.limit {
			l.calls = append(l.calls, now)
			l.mu.Unlock()
			return nil
		}
		wait := l.calls[0].Add(l.window).Sub(now)
		l.mu.Unlock()

		if err := SleepWithContext(ctx, wait); err != nil {
			return err
		}
	}
}

// Pending returns the number of calls currently inside the window.
func (l *RateLimiter) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prune(l.now())
	return len(l.calls)
}

// prune drops call records older than the window. Caller holds the mutex.
func (l *RateLimiter) prune(now time.Time) {
	cutoff := now.Add(-l.window)
	idx := 0
	for idx < len(l.calls) && !l.calls[idx].After(cutoff) {
		idx++
	}
	if idx > 0 {
		l.calls = append(l.calls[:0], l.calls[idx:]...)
	}
}

// SleepWithContext blocks for the given duration, returning early if the
// context is cancelled.
func SleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// IsRetriable reports whether err represents a transient provider
// condition that warrants an automatic retry (rate limits, timeouts,
// connection errors, server outages). Credential and configuration
// failures are never retriable.
func IsRetriable(err error) bool {
	if err == nil {
		return false
	}
	if IsFatal(err) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	message := strings.ToLower(err.Error())
	if strings.Contains(message, "429") || strings.Contains(message, "rate limit") || strings.Contains(message, "resource exhausted") {
		return true
	}
	// Server errors are typically transient (outages, deploys, overload).
	for _, code := range []string{"500", "502", "503", "504"} {
		if strings.Contains(message, code) {
			return true
		}
	}
	transientTokens := []string{
		"timeout",
		"deadline exceeded",
		"unavailable",
		"connection reset",
		"connection refused",
		"temporary failure",
	}
	for _, token := range transientTokens {
		if strings.Contains(message, token) {
			return true
		}
	}
	return false
}

// IsFatal reports whether err is an authentication or configuration
// failure that no amount of retrying can fix.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrMissingCredentials) || errors.Is(err, ErrAuthFailed) {
		return true
	}
	message := strings.ToLower(err.Error())
	fatalTokens := []string{
		"unauthenticated",
		"permission denied",
		"invalid credentials",
		"could not find default credentials",
		"api key not valid",
		"401",
		"403",
	}
	for _, token := range fatalTokens {
		if strings.Contains(message, token) {
			return true
		}
	}
	return false
}
