package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// Config holds retry configuration
type Config struct {
	MaxRetries  int
	InitialWait time.Duration
	MaxWait     time.Duration
	Multiplier  float64
}

// DefaultConfig returns the retry policy used for archive inserts
func DefaultConfig() Config {
	return Config{
		MaxRetries:  3,
		InitialWait: 500 * time.Millisecond,
		MaxWait:     30 * time.Second,
		Multiplier:  2.0,
	}
}

type permanentError struct {
	err error
}

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying; Do returns it unwrapped
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Do executes fn with exponential backoff until it succeeds, returns a
// Permanent error, runs out of attempts, or ctx is done.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		var perm *permanentError
		if errors.As(lastErr, &perm) {
			return perm.err
		}

		// Don't wait after the last attempt
		if attempt == cfg.MaxRetries {
			break
		}

		select {
		case <-time.After(Backoff(attempt, cfg)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return lastErr
}

// Backoff returns the wait before retry number attempt+1: exponential, capped
// at MaxWait, with ±25% jitter, never below InitialWait
func Backoff(attempt int, cfg Config) time.Duration {
	backoff := float64(cfg.InitialWait) * math.Pow(cfg.Multiplier, float64(attempt))

	if backoff > float64(cfg.MaxWait) {
		backoff = float64(cfg.MaxWait)
	}

	jitter := backoff * 0.25 * (rand.Float64()*2 - 1)
	backoff += jitter

	if backoff < float64(cfg.InitialWait) {
		backoff = float64(cfg.InitialWait)
	}

	return time.Duration(backoff)
}
