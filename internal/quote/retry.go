package quote

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"
)

// RetryConfig controls retry behavior for upstream requests.
type RetryConfig struct {
	// MaxRetries is the number of attempts after the first (0 = no retries).
	MaxRetries int

	// InitialBackoff is the delay before the first retry.
	InitialBackoff time.Duration

	// MaxBackoff caps exponential growth.
	MaxBackoff time.Duration

	// BackoffFactor multiplies the backoff after each retry (default 2.0).
	BackoffFactor float64

	// Jitter adds rand(0, backoff) to each wait.
	Jitter bool
}

// DefaultRetryConfig returns the settings used by the Alpha Vantage client.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     2,
		InitialBackoff: 250 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
		BackoffFactor:  2.0,
		Jitter:         true,
	}
}

// permanentError marks a failure that retrying cannot fix.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

func permanent(err error) error {
	return &permanentError{err: err}
}

func isRetryable(err error) bool {
	var p *permanentError
	return !errors.As(err, &p)
}

// retry calls fn until it succeeds, returns a permanent error, or the
// attempts run out. onRetry, if set, is called before each wait.
func retry[T any](
	ctx context.Context,
	cfg RetryConfig,
	onRetry func(attempt int, err error, backoff time.Duration),
	fn func() (T, error),
) (T, error) {
	var zero T
	var lastErr error

	if cfg.BackoffFactor <= 0 {
		cfg.BackoffFactor = 2.0
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 10 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 100 * time.Millisecond
	}

	backoff := cfg.InitialBackoff

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			wait := backoff
			if cfg.Jitter {
				wait += time.Duration(rand.Int63n(int64(backoff)))
			}
			if onRetry != nil {
				onRetry(attempt, lastErr, wait)
			}

			select {
			case <-ctx.Done():
				return zero, fmt.Errorf("context cancelled while retrying: %w", ctx.Err())
			case <-time.After(wait):
			}

			backoff = time.Duration(float64(backoff) * cfg.BackoffFactor)
			if backoff > cfg.MaxBackoff {
				backoff = cfg.MaxBackoff
			}
		}

		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !isRetryable(err) {
			return zero, err
		}
	}

	return zero, fmt.Errorf("failed after %d retries: %w", cfg.MaxRetries, lastErr)
}
