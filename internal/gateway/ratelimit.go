package gateway

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/tradecouncil/tradecouncil/internal/errs"
)

// Limiter is a per-provider token bucket. Acquire blocks up to the wait
// budget for a token and returns RateLimited when the budget runs out.
type Limiter struct {
	name    string
	limiter *rate.Limiter
	budget  time.Duration
}

// NewLimiter creates a token bucket refilling at perSecond with the given
// burst, blocking callers for at most budget.
func NewLimiter(name string, perSecond float64, burst int, budget time.Duration) *Limiter {
	return &Limiter{
		name:    name,
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
		budget:  budget,
	}
}

// Acquire takes one token, blocking up to the wait budget.
func (l *Limiter) Acquire(ctx context.Context) error {
	waitCtx, cancel := context.WithTimeout(ctx, l.budget)
	defer cancel()

	if err := l.limiter.Wait(waitCtx); err != nil {
		// Distinguish a caller cancel from bucket exhaustion.
		if ctx.Err() != nil {
			return errs.Wrap(errs.KindCanceled, "rate wait canceled", ctx.Err())
		}
		log.Warn().Str("provider", l.name).Dur("budget", l.budget).Msg("Rate limit budget exhausted")
		return errs.Newf(errs.KindRateLimited, "%s rate limit exceeded", l.name)
	}
	return nil
}
