package helper

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"regulation-rag/internal/config"
)

// RetryPolicy bounds how a blocking collaborator call is retried.
// MaxRetries counts retries after the first attempt; Timeout applies to each
// attempt separately.
type RetryPolicy struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Timeout        time.Duration
}

// NewRetryPolicy reads the resilience section of the config
func NewRetryPolicy(cfg config.ResilienceConfig) RetryPolicy {
	return RetryPolicy{
		MaxRetries:     cfg.MaxRetries,
		InitialBackoff: cfg.InitialBackoff,
		MaxBackoff:     cfg.MaxBackoff,
		Timeout:        cfg.Timeout,
	}
}

// permanentError stops Retry immediately
type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanentStatus reports whether an HTTP status means a retry cannot help
func IsPermanentStatus(code int) bool {
	return code >= 400 && code < 500 && code != http.StatusTooManyRequests && code != http.StatusRequestTimeout
}

// Backoff returns the delay before retry number attempt (0-based)
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	d := p.InitialBackoff
	if d <= 0 {
		return 0
	}
	for i := 0; i < attempt; i++ {
		d *= 2
		if p.MaxBackoff > 0 && d >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	return d
}

// Retry calls fn until it succeeds, returns a Permanent error, the parent
// context is done, or the retry budget is spent.
func Retry[T any](ctx context.Context, p RetryPolicy, op string, limiter *Limiter, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		if attempt > 0 {
			wait := p.Backoff(attempt - 1)
			log.Warn().Err(lastErr).Str("op", op).Int("attempt", attempt).Dur("backoff", wait).Msg("Retrying")
			select {
			case <-ctx.Done():
				return zero, fmt.Errorf("%s: %w", op, errors.Join(ctx.Err(), lastErr))
			case <-time.After(wait):
			}
		}

		if err := limiter.Wait(ctx); err != nil {
			return zero, fmt.Errorf("%s: rate limit wait: %w", op, err)
		}

		res, err := attemptOnce(ctx, p.Timeout, fn)
		if err == nil {
			return res, nil
		}
		lastErr = err

		var perm *permanentError
		if errors.As(err, &perm) {
			return zero, fmt.Errorf("%s: %w", op, perm.err)
		}
		if ctx.Err() != nil {
			return zero, fmt.Errorf("%s: %w", op, err)
		}
	}
	return zero, fmt.Errorf("%s: giving up after %d attempts: %w", op, p.MaxRetries+1, lastErr)
}

func attemptOnce[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(ctx)
}
