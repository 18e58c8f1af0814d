package helper

import (
	"context"

	"golang.org/x/time/rate"
)

// Limiter throttles calls to a remote model API with a token bucket.
// A nil *Limiter never blocks.
type Limiter struct {
	bucket *rate.Limiter
}

// NewLimiter returns a limiter allowing rps calls per second with the given
// burst. rps <= 0 disables throttling.
func NewLimiter(rps float64, burst int) *Limiter {
	if rps <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return &Limiter{bucket: rate.NewLimiter(rate.Limit(rps), burst)}
}

// Wait blocks until a call is allowed or ctx is done
func (l *Limiter) Wait(ctx context.Context) error {
	if l == nil {
		return ctx.Err()
	}
	return l.bucket.Wait(ctx)
}
