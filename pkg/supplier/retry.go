package supplier

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/facebookgo/clock"
	"github.com/sirupsen/logrus"

	"github.com/shopmgr/partsync/pkg/observability"
)

// Retrier wraps supplier operations with bounded retries. Rate-limit failures
// wait exactly the server-provided interval; other retryable failures back
// off exponentially from the base delay. Auth failures stop immediately.
type Retrier struct {
	log        logrus.FieldLogger
	clock      clock.Clock
	maxRetries int
	baseDelay  time.Duration
}

// NewRetrier creates a retrier driven by the given clock
func NewRetrier(log logrus.FieldLogger, clk clock.Clock, maxRetries int, baseDelay time.Duration) *Retrier {
	if maxRetries < 1 {
		maxRetries = 1
	}

	if baseDelay <= 0 {
		baseDelay = time.Second
	}

	return &Retrier{
		log:        log.WithField("component", "retrier"),
		clock:      clk,
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
	}
}

// Do runs op up to maxRetries times. Returns nil on the first success, the
// failure unchanged when it is not retryable, and the last failure once
// attempts are exhausted.
func (r *Retrier) Do(ctx context.Context, op func() error) error {
	var lastErr error

	for attempt := 0; attempt < r.maxRetries; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}

		var callErr *CallError
		if !errors.As(lastErr, &callErr) {
			// Not a classified supplier failure; nothing to base a retry
			// decision on, so propagate as-is
			return lastErr
		}

		if !callErr.Retryable() {
			return lastErr
		}

		// No attempts remain, so there is nothing to wait for
		if attempt == r.maxRetries-1 {
			break
		}

		delay := r.baseDelay << attempt
		if callErr.RateLimited() && callErr.RetryAfter > 0 {
			// The server told us when it will accept traffic again
			delay = callErr.RetryAfter
		}

		r.log.WithFields(logrus.Fields{
			"endpoint": callErr.Endpoint,
			"class":    callErr.Class,
			"attempt":  attempt + 1,
			"delay":    delay,
		}).Debug("Retrying supplier call")

		observability.RecordRetryAttempt(string(callErr.Class))

		if err := r.sleep(ctx, delay); err != nil {
			return fmt.Errorf("retry aborted: %w", err)
		}
	}

	return lastErr
}

func (r *Retrier) sleep(ctx context.Context, d time.Duration) error {
	timer := r.clock.Timer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
