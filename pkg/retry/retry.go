// Package retry provides bounded exponential-backoff retry for FTPFS's
// command executor, per spec.md §9: "Implementers may add bounded retry at
// the command-executor layer without affecting the rest of the design."
package retry

import (
	stderr "errors"
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/objectfs/ftpfs/pkg/errors"
)

// Config defines retry behavior.
type Config struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       bool

	// RetryableErrors lists additional codes to retry beyond any error
	// already marked Retryable.
	RetryableErrors []errors.ErrorCode

	// OnRetry is invoked before each wait, for logging.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultConfig returns the fallback policy New draws missing fields from:
// three attempts, capped at five seconds, matching the control-channel being a
// single long-lived connection that rarely benefits from many retries.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
		RetryableErrors: []errors.ErrorCode{
			errors.ErrCodeIO,
		},
	}
}

// Retryer executes a function under a retry policy.
type Retryer struct {
	config Config
}

// New creates a Retryer, filling in zero-valued MaxAttempts, InitialDelay,
// MaxDelay and Multiplier from DefaultConfig; Jitter and RetryableErrors are
// used as given.
func New(config Config) *Retryer {
	d := DefaultConfig()
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = d.MaxAttempts
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = d.InitialDelay
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = d.MaxDelay
	}
	if config.Multiplier <= 0 {
		config.Multiplier = d.Multiplier
	}
	return &Retryer{config: config}
}

// Do runs fn under the retry policy with a background context.
func (r *Retryer) Do(fn func() error) error {
	return r.DoWithContext(context.Background(), func(ctx context.Context) error {
		return fn()
	})
}

// DoWithContext runs fn, retrying on retryable errors until MaxAttempts is
// reached or ctx is canceled.
func (r *Retryer) DoWithContext(ctx context.Context, fn func(context.Context) error) error {
	var lastErr error

	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return fmt.Errorf("operation canceled: %w", ctx.Err())
		default:
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !r.shouldRetry(err, attempt) {
			return err
		}

		delay := r.calculateDelay(attempt)
		if r.config.OnRetry != nil {
			r.config.OnRetry(attempt, err, delay)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("operation canceled after %d attempts: %w", attempt, ctx.Err())
		case <-time.After(delay):
		}
	}

	return fmt.Errorf("max retry attempts (%d) exceeded: %w", r.config.MaxAttempts, lastErr)
}

func (r *Retryer) shouldRetry(err error, attempt int) bool {
	if attempt >= r.config.MaxAttempts {
		return false
	}

	var fe *errors.FTPFSError
	if !stderr.As(err, &fe) {
		return false
	}
	if fe.Retryable {
		return true
	}
	for _, code := range r.config.RetryableErrors {
		if fe.Code == code {
			return true
		}
	}
	return false
}

func (r *Retryer) calculateDelay(attempt int) time.Duration {
	delay := float64(r.config.InitialDelay) * math.Pow(r.config.Multiplier, float64(attempt-1))
	if delay > float64(r.config.MaxDelay) {
		delay = float64(r.config.MaxDelay)
	}
	if r.config.Jitter {
		delay += delay * 0.2 * (rand.Float64()*2 - 1)
	}
	return time.Duration(delay)
}
