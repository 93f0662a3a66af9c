// Package retry retries guild gateway calls with exponential backoff and jitter.
// Operations mark their errors Retryable or Permanent; a Retryable error may
// carry the delay the gateway asked for.
package retry

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

// RetryableError marks an error worth another attempt.
type RetryableError struct {
	Err error

	// After overrides the backoff delay when positive, e.g. from Retry-After.
	After time.Duration
}

func (e *RetryableError) Error() string {
	return e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// Retryable wraps an error to indicate it should be retried.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}

// RetryAfter wraps an error that should be retried no sooner than after.
func RetryAfter(err error, after time.Duration) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err, After: after}
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var retryableErr *RetryableError
	return errors.As(err, &retryableErr)
}

// PermanentError indicates that an error should not be retried.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Permanent wraps an error to indicate it should not be retried.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent checks if an error is permanent (should not be retried).
func IsPermanent(err error) bool {
	var permanentErr *PermanentError
	return errors.As(err, &permanentErr)
}

// Config holds retry configuration.
type Config struct {
	// MaxAttempts includes the first attempt.
	// Default: 3
	MaxAttempts int

	// InitialDelay doubles after every failed attempt.
	// Default: 100ms
	InitialDelay time.Duration

	// MaxDelay caps the backoff. A requested After above it ends the retries.
	// Default: 5s
	MaxDelay time.Duration

	// JitterFactor spreads backoff delays by ±JitterFactor. Requested delays are exact.
	// Default: 0.1
	JitterFactor float64
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		JitterFactor: 0.1,
	}
}

// Option is a functional option for configuring retries.
type Option func(*Config)

// WithMaxAttempts sets the maximum number of attempts.
func WithMaxAttempts(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.MaxAttempts = n
		}
	}
}

// WithInitialDelay sets the initial delay before first retry.
func WithInitialDelay(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.InitialDelay = d
		}
	}
}

// WithMaxDelay sets the maximum delay between retries.
func WithMaxDelay(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.MaxDelay = d
		}
	}
}

// WithJitter sets the jitter factor (0.0 to 1.0).
func WithJitter(j float64) Option {
	return func(c *Config) {
		if j >= 0 && j <= 1.0 {
			c.JitterFactor = j
		}
	}
}

// Retrier manages retry operations.
type Retrier struct {
	config Config
}

// New creates a new Retrier with the given options.
func New(opts ...Option) *Retrier {
	config := DefaultConfig()
	for _, opt := range opts {
		opt(&config)
	}
	return &Retrier{config: config}
}

// Do runs operation until it succeeds, returns a non-retryable error or runs
// out of attempts. The returned error has its Retryable/Permanent wrapper removed.
func (r *Retrier) Do(ctx context.Context, operation func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return lastErr
			}
			return err
		}

		err := operation(ctx)
		if err == nil {
			return nil
		}

		var retryable *RetryableError
		switch {
		case IsPermanent(err):
			return errors.Unwrap(err)
		case !errors.As(err, &retryable):
			return err
		}
		lastErr = err
		if top, ok := err.(*RetryableError); ok {
			lastErr = top.Err
		}

		if attempt == r.config.MaxAttempts {
			return lastErr
		}

		delay, ok := r.delay(attempt, retryable.After)
		if !ok {
			return lastErr
		}

		select {
		case <-ctx.Done():
			return lastErr
		case <-time.After(delay):
		}
	}

	return lastErr
}

// delay returns the wait before attempt+1. ok is false when the requested
// delay exceeds MaxDelay.
func (r *Retrier) delay(attempt int, requested time.Duration) (time.Duration, bool) {
	if requested > 0 {
		return requested, requested <= r.config.MaxDelay
	}

	base := float64(r.config.InitialDelay) * float64(uint64(1)<<min(attempt-1, 32))
	if base > float64(r.config.MaxDelay) {
		base = float64(r.config.MaxDelay)
	}

	if r.config.JitterFactor > 0 {
		base += base * r.config.JitterFactor * (rand.Float64()*2 - 1)
	}
	if base < 0 {
		base = 0
	}
	return time.Duration(base), true
}
