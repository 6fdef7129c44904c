package gateway

import (
	"context"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tradecouncil/tradecouncil/internal/errs"
)

// RetryConfig tunes retry behavior for idempotent reads.
type RetryConfig struct {
	Attempts  int           // total attempts including the first
	BaseDelay time.Duration // first backoff step
	MaxDelay  time.Duration
}

// DefaultRetryConfig matches the gateway defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{Attempts: 3, BaseDelay: 250 * time.Millisecond, MaxDelay: 5 * time.Second}
}

// Retry runs fn with exponential backoff and full jitter, retrying only
// errors marked retryable (Upstream, Timeout). Non-idempotent operations
// must not go through here.
func Retry(ctx context.Context, cfg RetryConfig, op string, fn func(ctx context.Context) error) error {
	if cfg.Attempts <= 0 {
		cfg.Attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < cfg.Attempts; attempt++ {
		if attempt > 0 {
			backoff := cfg.BaseDelay << (attempt - 1)
			if cfg.MaxDelay > 0 && backoff > cfg.MaxDelay {
				backoff = cfg.MaxDelay
			}
			// Full jitter: sleep a uniform fraction of the backoff ceiling.
			sleep := time.Duration(rand.Int63n(int64(backoff) + 1))

			log.Warn().
				Err(lastErr).
				Str("op", op).
				Int("attempt", attempt).
				Dur("sleep", sleep).
				Msg("Retrying gateway call")

			select {
			case <-ctx.Done():
				return errs.Wrap(errs.KindCanceled, op+" retry canceled", ctx.Err())
			case <-time.After(sleep):
			}
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !errs.Retryable(err) {
			return err
		}
	}
	return lastErr
}
