package retryutil

import (
	"context"
	"log/slog"
	"math/rand"
	"time"
)

// Policy bounds how often an operation gets reattempted. Jitter
// spreads simultaneous retries out so the portal never sees bursts.
type Policy struct {
	MaxAttempts int
	Delay       time.Duration
	Jitter      time.Duration
}

// Do runs op until it succeeds, attempts are exhausted, the error is
// not retryable or the context is cancelled. Returns the error of the
// final attempt. A nil retryable treats every error as retryable.
func (p Policy) Do(ctx context.Context, op func() error, retryable func(error) bool) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = op()
		if err == nil {
			return nil
		}
		if retryable != nil && !retryable(err) {
			return err
		}
		if attempt == attempts {
			break
		}

		delay := p.Delay
		if p.Jitter > 0 {
			delay += time.Duration(rand.Int63n(int64(p.Jitter)))
		}
		slog.WarnContext(
			ctx, "operation failed, retrying",
			"attempt", attempt,
			"max_attempts", attempts,
			"delay", delay,
			"err", err,
		)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}
