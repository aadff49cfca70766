package bankfeed

import (
	"context"
	"log/slog"
	"time"

	"bankfeed-backend/lib/retryutil"
	"bankfeed-backend/lib/timezone"
)

func (s Service) refreshWithRetry(ctx context.Context) error {
	policy := retryutil.Policy{
		MaxAttempts: 3,
		Delay:       time.Minute,
		Jitter:      time.Second * 30,
	}
	return policy.Do(ctx, func() error {
		return s.RefreshAll(ctx)
	}, IsTransient)
}

// RefreshDaemon refreshes every configured user once an hour until ctx
// is cancelled. Callers run it on its own goroutine.
func (s Service) RefreshDaemon(ctx context.Context) {
	ticker := time.NewTicker(time.Hour)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := timezone.Now()
			// the bank disappears into its batch close overnight,
			// polling it then only burns retry budget
			if now.Hour() < 6 {
				continue
			}

			ctx, cancel := context.WithTimeout(ctx, time.Minute*30)
			err := s.refreshWithRetry(ctx)
			if err != nil {
				slog.ErrorContext(ctx, "refresh statements", "err", err)
			}
			cancel()
		}
	}
}
