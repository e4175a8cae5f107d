package vehicle

import (
	"context"
	"errors"
	"testing"
	"time"
)

// TestRetryWithBackoffResult tests basic retry logic.
func TestRetryWithBackoffResult(t *testing.T) {
	fast := RetryConfig{
		MaxRetries:   3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}

	t.Run("Success on first attempt", func(t *testing.T) {
		attempts := 0
		got, err := RetryWithBackoffResult(context.Background(), fast, func() (int, error) {
			attempts++
			return 42, nil
		})

		if err != nil {
			t.Errorf("Expected no error, got: %v", err)
		}
		if got != 42 {
			t.Errorf("Expected 42, got %d", got)
		}
		if attempts != 1 {
			t.Errorf("Expected 1 attempt, got %d", attempts)
		}
	})

	t.Run("Success after retries", func(t *testing.T) {
		attempts := 0
		_, err := RetryWithBackoffResult(context.Background(), fast, func() (int, error) {
			attempts++
			if attempts < 3 {
				return 0, errors.New("temporary error")
			}
			return attempts, nil
		})

		if err != nil {
			t.Errorf("Expected no error, got: %v", err)
		}
		if attempts != 3 {
			t.Errorf("Expected 3 attempts, got %d", attempts)
		}
	})

	t.Run("Max retries exceeded", func(t *testing.T) {
		attempts := 0
		persistent := errors.New("persistent error")
		_, err := RetryWithBackoffResult(context.Background(), fast, func() (int, error) {
			attempts++
			return 0, persistent
		})

		if !errors.Is(err, persistent) {
			t.Errorf("Expected wrapped persistent error, got: %v", err)
		}
		// Should attempt: initial + 3 retries = 4 total
		if attempts != 4 {
			t.Errorf("Expected 4 attempts (initial + 3 retries), got %d", attempts)
		}
	})

	t.Run("No retry returns the error unwrapped", func(t *testing.T) {
		attempts := 0
		boom := errors.New("boom")
		_, err := RetryWithBackoffResult(context.Background(), NoRetry(), func() (int, error) {
			attempts++
			return 0, boom
		})

		if err != boom {
			t.Errorf("Expected boom, got: %v", err)
		}
		if attempts != 1 {
			t.Errorf("Expected 1 attempt, got %d", attempts)
		}
	})

	t.Run("Context cancellation", func(t *testing.T) {
		attempts := 0
		ctx, cancel := context.WithCancel(context.Background())
		cancel() // Cancel immediately

		_, err := RetryWithBackoffResult(ctx, DefaultRetryConfig(), func() (int, error) {
			attempts++
			return 0, errors.New("error")
		})

		if !errors.Is(err, context.Canceled) {
			t.Errorf("Expected context.Canceled error, got: %v", err)
		}
		if attempts > 1 {
			t.Errorf("Expected 1 attempt, got %d", attempts)
		}
	})
}

type stubConnector struct {
	calls int
	err   error
}

func (s *stubConnector) Name() string { return "stub" }

func (s *stubConnector) Connect(ctx context.Context, target string) (Link, error) {
	s.calls++
	if s.err != nil {
		return nil, &ConnectError{Target: target, Err: s.err}
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

// TestConnectWithRetry tests timeout classification of connect attempts.
func TestConnectWithRetry(t *testing.T) {
	t.Run("Deadline becomes ErrConnectTimeout", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		c := &stubConnector{}
		_, err := ConnectWithRetry(ctx, c, "udp:127.0.0.1:14550", DefaultRetryConfig())
		if !errors.Is(err, ErrConnectTimeout) {
			t.Fatalf("Expected ErrConnectTimeout, got %v", err)
		}
		if c.calls != 1 {
			t.Errorf("Expected 1 call after deadline, got %d", c.calls)
		}
	})

	t.Run("Transport failure is a ConnectError", func(t *testing.T) {
		c := &stubConnector{err: errors.New("refused")}
		cfg := RetryConfig{MaxRetries: 1, InitialDelay: time.Millisecond, Multiplier: 1}

		_, err := ConnectWithRetry(context.Background(), c, "tcp:10.0.0.1:5760", cfg)
		var ce *ConnectError
		if !errors.As(err, &ce) {
			t.Fatalf("Expected *ConnectError, got %v", err)
		}
		if ce.Target != "tcp:10.0.0.1:5760" {
			t.Errorf("Target = %q", ce.Target)
		}
		if c.calls != 2 {
			t.Errorf("Expected 2 calls, got %d", c.calls)
		}
	})
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{"GUIDED", ModeGuided, false},
		{"guided", ModeGuided, false},
		{" rtl ", ModeRTL, false},
		{"alt_hold", ModeAltHold, false},
		{"ACRO", ModeUnknown, true},
		{"", ModeUnknown, true},
	}

	for _, tt := range tests {
		got, err := ParseMode(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseMode(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseMode(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
