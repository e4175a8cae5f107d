package db

import (
	"context"
	"strings"
	"time"

	"github.com/unklstewy/uav-fleet/pkg/config"
	"github.com/unklstewy/uav-fleet/pkg/log"
)

// ReconnectWithRetry attempts to reconnect to the database with exponential backoff.
// This provides resilience against temporary database outages.
//
// Parameters:
//   - ctx: Bounds the whole sequence; cancelling it stops the retries
//   - cfg: Database configuration
//   - maxRetries: Maximum number of reconnection attempts (0 = until ctx is done)
//   - initialDelay: Initial wait time between retries
//   - lg: Logger for attempt progress; may be nil
//
// Returns: Connected database or error if all retries exhausted
func ReconnectWithRetry(ctx context.Context, cfg config.DatabaseConfig, maxRetries int, initialDelay time.Duration, lg *log.Logger) (*DB, error) {
	delay := initialDelay
	attempt := 0

	for {
		attempt++

		lg.Info("Database connection attempt", "attempt", attempt, "host", cfg.Host)

		db, err := Connect(cfg)
		if err == nil {
			lg.Info("Database connected", "attempt", attempt)
			return db, nil
		}

		// Check if we've exceeded max retries
		if maxRetries > 0 && attempt >= maxRetries {
			lg.Warn("Database reconnect failed", "attempts", attempt, "error", err)
			return nil, err
		}

		lg.Warn("Database connection failed", "error", err, "retry_in", delay)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}

		// Exponential backoff with cap at 60 seconds
		delay *= 2
		if delay > 60*time.Second {
			delay = 60 * time.Second
		}
	}
}

// EnsureConnection checks if the database connection is alive and reconnects if needed.
// This should be called periodically or before critical operations.
//
// Returns: Active database connection (either original or new) and error
func EnsureConnection(ctx context.Context, db *DB, cfg config.DatabaseConfig, lg *log.Logger) (*DB, error) {
	if db == nil {
		lg.Warn("Database connection is nil, attempting to reconnect")
		return ReconnectWithRetry(ctx, cfg, 3, time.Second, lg)
	}

	pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := db.PingContext(pctx); err != nil {
		lg.Warn("Database connection lost, reconnecting", "error", err)
		db.Close()
		return ReconnectWithRetry(ctx, cfg, 3, time.Second, lg)
	}

	return db, nil
}

// HealthCheck performs a comprehensive health check on the database.
// Returns true if the database is healthy and ready for operations.
func HealthCheck(ctx context.Context, db *DB, lg *log.Logger) bool {
	if db == nil {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		lg.Warn("Health check failed", "stage", "ping", "error", err)
		return false
	}

	var result int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		lg.Warn("Health check failed", "stage", "query", "error", err)
		return false
	}

	if result != 1 {
		lg.Warn("Health check failed", "stage", "result", "result", result)
		return false
	}

	return true
}

// WithRetry executes a database operation with automatic retry on connection failures.
// Errors that are not connection failures are returned immediately.
func WithRetry(ctx context.Context, operation func() error, maxRetries int, lg *log.Logger) error {
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := operation()
		if err == nil {
			return nil
		}
		lastErr = err

		if !isConnectionError(err) {
			return err
		}

		if attempt < maxRetries {
			waitTime := time.Duration(attempt+1) * time.Second
			lg.Warn("Database operation failed",
				"attempt", attempt+1,
				"max_attempts", maxRetries+1,
				"error", err,
				"retry_in", waitTime)

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(waitTime):
			}
		}
	}

	return lastErr
}

// connErrors are error text fragments that indicate a lost connection.
var connErrors = []string{
	"connection refused",
	"broken pipe",
	"no connection",
	"connection reset",
	"bad connection",
	"eof",
	"timeout",
}

// isConnectionError reports whether err looks like a lost database connection.
func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, pattern := range connErrors {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}
