package orders

import (
	"context"
	"math/rand/v2"
	"time"

	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
)

// retryConflicts runs attempt until it succeeds, fails with anything other than a
// conflict, or maxAttempts is reached. Waits between attempts back off exponentially.
func (s *service) retryConflicts(ctx context.Context, attempt func(n int) error) (int, error) {
	maxAttempts := s.cfg.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	for n := 1; ; n++ {
		err := attempt(n)
		if err == nil || !pkgerrors.HasCode(err, pkgerrors.CodeConflict) || n >= maxAttempts {
			return n, err
		}

		delay := retryDelay(n, s.cfg.RetryBase, s.cfg.RetryMax)
		s.metrics.IncRetry()
		retryCtx := s.logg.WithFields(ctx, map[string]any{
			"attempt":  n,
			"delay_ms": delay.Milliseconds(),
			"error":    err.Error(),
		})
		s.logg.Warn(retryCtx, "order.retry")

		if delay <= 0 {
			continue
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return n, err
		case <-timer.C:
		}
	}
}

// retryDelay doubles base per failed attempt up to limit, then picks a point in the upper half
// of that window.
func retryDelay(attempt int, base, limit time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if limit > 0 && delay >= limit {
			break
		}
	}
	if limit > 0 && delay > limit {
		delay = limit
	}
	half := delay / 2
	if half <= 0 {
		return delay
	}
	return half + time.Duration(rand.Int64N(int64(half)+1))
}
