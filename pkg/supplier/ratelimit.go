package supplier

import (
	"sync"
	"time"

	"github.com/facebookgo/clock"
)

// RateLimitWindow records a period during which an endpoint must not be called
type RateLimitWindow struct {
	Endpoint   string
	StartedAt  time.Time
	RetryAfter time.Duration
}

// ExpiresAt returns the instant the window stops being active
func (w RateLimitWindow) ExpiresAt() time.Time {
	return w.StartedAt.Add(w.RetryAfter)
}

// RateLimitTracker keeps at most one active rate-limit window per endpoint.
// Expired windows are purged lazily on read. State is in-memory only; after a
// restart the worst case is one extra probe request per endpoint.
type RateLimitTracker struct {
	mu      sync.Mutex
	clock   clock.Clock
	windows map[string]RateLimitWindow
}

// NewRateLimitTracker creates a tracker driven by the given clock
func NewRateLimitTracker(clk clock.Clock) *RateLimitTracker {
	return &RateLimitTracker{
		clock:   clk,
		windows: make(map[string]RateLimitWindow),
	}
}

// IsLimited reports whether an active window exists for the endpoint
func (t *RateLimitTracker) IsLimited(endpoint string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	w, ok := t.windows[endpoint]
	if !ok {
		return false
	}

	if !t.clock.Now().Before(w.ExpiresAt()) {
		delete(t.windows, endpoint)
		return false
	}

	return true
}

// Remaining returns the time until the endpoint's window expires, or zero
func (t *RateLimitTracker) Remaining(endpoint string) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	w, ok := t.windows[endpoint]
	if !ok {
		return 0
	}

	remaining := w.ExpiresAt().Sub(t.clock.Now())
	if remaining <= 0 {
		delete(t.windows, endpoint)
		return 0
	}

	return remaining
}

// RecordLimit installs or overwrites the window for the endpoint,
// starting from the tracker's current time
func (t *RateLimitTracker) RecordLimit(endpoint string, retryAfter time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.windows[endpoint] = RateLimitWindow{
		Endpoint:   endpoint,
		StartedAt:  t.clock.Now(),
		RetryAfter: retryAfter,
	}
}

// AllActive returns every active window, purging expired ones as it goes
func (t *RateLimitTracker) AllActive() []RateLimitWindow {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	active := make([]RateLimitWindow, 0, len(t.windows))

	for endpoint, w := range t.windows {
		if !now.Before(w.ExpiresAt()) {
			delete(t.windows, endpoint)
			continue
		}
		active = append(active, w)
	}

	return active
}
