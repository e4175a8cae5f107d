package vehicle

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

// RetryConfig configures retry behavior with exponential backoff.
type RetryConfig struct {
	// MaxRetries is the maximum number of retry attempts (default: 2)
	MaxRetries int

	// InitialDelay is the initial backoff delay (default: 1 second)
	InitialDelay time.Duration

	// MaxDelay is the maximum backoff delay (default: 10 seconds)
	MaxDelay time.Duration

	// Multiplier is the backoff multiplier (default: 2.0 for exponential)
	Multiplier float64
}

// DefaultRetryConfig returns sensible defaults for connection retries.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   2,
		InitialDelay: time.Second,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
	}
}

// NoRetry attempts an operation exactly once.
func NoRetry() RetryConfig {
	return RetryConfig{}
}

// RetryWithBackoffResult executes fn with exponential backoff and returns its result.
// Retries stop early when ctx is done; the returned error then wraps ctx.Err()
// so callers can tell a deadline from a transport failure.
//
// Example usage:
//
//	link, err := RetryWithBackoffResult(ctx, DefaultRetryConfig(), func() (Link, error) {
//	    return connector.Connect(ctx, target)
//	})
func RetryWithBackoffResult[T any](ctx context.Context, cfg RetryConfig, fn func() (T, error)) (T, error) {
	var result T
	var lastErr error
	delay := cfg.InitialDelay

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		// First attempt (no delay)
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return result, fmt.Errorf("retry cancelled after %d attempts: %w (last error: %w)", attempt, ctx.Err(), lastErr)
			case <-time.After(delay):
			}
		}

		res, err := fn()
		if err == nil {
			return res, nil
		}
		result = res
		lastErr = err

		// A context that expired during the attempt will fail every retry too
		if ctx.Err() != nil {
			return result, fmt.Errorf("retry cancelled after %d attempts: %w (last error: %w)", attempt+1, ctx.Err(), lastErr)
		}

		// Last attempt - don't calculate next delay
		if attempt == cfg.MaxRetries {
			break
		}

		// delay = min(InitialDelay * Multiplier^attempt, MaxDelay)
		nextDelay := time.Duration(float64(cfg.InitialDelay) * math.Pow(cfg.Multiplier, float64(attempt)))
		if cfg.MaxDelay > 0 && nextDelay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		} else {
			delay = nextDelay
		}
	}

	if cfg.MaxRetries == 0 {
		return result, lastErr
	}
	return result, fmt.Errorf("max retries (%d) exceeded: %w", cfg.MaxRetries, lastErr)
}

// ConnectWithRetry opens a link with c, retrying transport failures under cfg.
// The whole sequence, retries included, is bounded by ctx. A connect that ran
// out of time is reported as ErrConnectTimeout.
func ConnectWithRetry(ctx context.Context, c Connector, target string, cfg RetryConfig) (Link, error) {
	link, err := RetryWithBackoffResult(ctx, cfg, func() (Link, error) {
		return c.Connect(ctx, target)
	})
	if err != nil {
		if IsConnectTimeout(err) && !errors.Is(err, ErrConnectTimeout) {
			return nil, fmt.Errorf("%w: %s: %w", ErrConnectTimeout, target, err)
		}
		return nil, err
	}
	return link, nil
}
