package resilience

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/itsneelabh/ordregistry/core"
)

func fastRetry() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  time.Millisecond,
		MaxDelay:      5 * time.Millisecond,
		BackoffFactor: 2.0,
		JitterEnabled: false,
	}
}

// TestRetryBasicSuccess tests successful execution on first attempt
func TestRetryBasicSuccess(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), fastRetry(), func() error {
		attempts++
		return nil
	})

	if err != nil {
		t.Errorf("Expected success, got error: %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", attempts)
	}
}

// TestRetryEventualSuccess tests success after multiple attempts
func TestRetryEventualSuccess(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), fastRetry(), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("temporary error")
		}
		return nil
	})

	if err != nil {
		t.Errorf("Expected eventual success, got error: %v", err)
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
}

// TestRetryMaxAttemptsExceeded tests failure after all retries exhausted
func TestRetryMaxAttemptsExceeded(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), fastRetry(), func() error {
		attempts++
		return errors.New("persistent error")
	})

	if !errors.Is(err, core.ErrMaxRetriesExceeded) {
		t.Errorf("Expected ErrMaxRetriesExceeded, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
}

// TestRetryStopsOnPermanentError tests that ShouldRetry short-circuits the loop
func TestRetryStopsOnPermanentError(t *testing.T) {
	cfg := RetryConfigFrom(core.ResilienceConfig{RetryAttempts: 5, RetryInitialDelay: time.Millisecond, RetryMaxDelay: time.Millisecond})

	attempts := 0
	err := Retry(context.Background(), cfg, func() error {
		attempts++
		return core.ErrInvalidResource
	})

	if !errors.Is(err, core.ErrInvalidResource) {
		t.Errorf("Expected the permanent error back, got %v", err)
	}
	if errors.Is(err, core.ErrMaxRetriesExceeded) {
		t.Error("Permanent error should not be reported as retries exhausted")
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", attempts)
	}

	attempts = 0
	_ = Retry(context.Background(), cfg, func() error {
		attempts++
		return fmt.Errorf("scan: %w", core.ErrStoreUnavailable)
	})
	if attempts != 5 {
		t.Errorf("Expected 5 attempts for a transient error, got %d", attempts)
	}
}

// TestRetryContextCancellation tests that a cancelled context stops retrying
func TestRetryContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := fastRetry()
	cfg.InitialDelay = time.Second
	cfg.MaxDelay = time.Second

	attempts := 0
	done := make(chan error, 1)
	go func() {
		done <- Retry(ctx, cfg, func() error {
			attempts++
			return errors.New("fail")
		})
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Retry did not honour cancellation")
	}
}

// TestRetryWithCircuitBreakerStopsWhenOpen tests that an open breaker ends the retry loop
func TestRetryWithCircuitBreakerStopsWhenOpen(t *testing.T) {
	cb := NewCircuitBreaker(&CircuitBreakerConfig{Name: "store", FailureThreshold: 2, SleepWindow: time.Hour})
	cfg := fastRetry()
	cfg.MaxAttempts = 5

	calls := 0
	err := RetryWithCircuitBreaker(context.Background(), cfg, cb, func() error {
		calls++
		return core.ErrStoreUnavailable
	})

	if !errors.Is(err, core.ErrCircuitOpen) {
		t.Errorf("Expected ErrCircuitOpen, got %v", err)
	}
	if calls != 2 {
		t.Errorf("Expected the breaker to stop calls after 2 failures, got %d", calls)
	}
}
