package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        10 * time.Millisecond,
		BackoffMultiplier: 2.0,
	}
}

func TestRetry_SucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), func(ctx context.Context) error {
		calls++
		return nil
	}, fastConfig(), nil)

	if err != nil {
		t.Fatalf("Expected success, got %v", err)
	}
	if calls != 1 {
		t.Errorf("Expected 1 call, got %d", calls)
	}
}

func TestRetry_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	}, fastConfig(), nil)

	if err != nil {
		t.Fatalf("Expected success, got %v", err)
	}
	if calls != 3 {
		t.Errorf("Expected 3 calls, got %d", calls)
	}
}

func TestRetry_ExhaustsAttempts(t *testing.T) {
	calls := 0
	wantErr := errors.New("always fails")
	err := Retry(context.Background(), func(ctx context.Context) error {
		calls++
		return wantErr
	}, fastConfig(), nil)

	if !errors.Is(err, wantErr) {
		t.Fatalf("Expected last error, got %v", err)
	}
	if calls != 3 {
		t.Errorf("Expected 3 calls, got %d", calls)
	}
}

func TestRetry_StopsOnNonRetryableError(t *testing.T) {
	calls := 0
	permanent := errors.New("bad credentials")
	err := Retry(context.Background(), func(ctx context.Context) error {
		calls++
		return permanent
	}, fastConfig(), func(err error) bool {
		return false
	})

	if !errors.Is(err, permanent) {
		t.Fatalf("Expected permanent error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("Expected 1 call, got %d", calls)
	}
}

func TestRetry_StopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Retry(ctx, func(ctx context.Context) error {
		calls++
		cancel()
		return errors.New("transient")
	}, &RetryConfig{
		MaxAttempts:       5,
		InitialBackoff:    time.Hour, // Would hang without cancellation
		MaxBackoff:        time.Hour,
		BackoffMultiplier: 2.0,
	}, nil)

	if err == nil {
		t.Fatal("Expected error after cancellation")
	}
	if calls != 1 {
		t.Errorf("Expected 1 call, got %d", calls)
	}
}

func TestRetry_NilConfigUsesDefaults(t *testing.T) {
	err := Retry(context.Background(), func(ctx context.Context) error {
		return nil
	}, nil, nil)
	if err != nil {
		t.Fatalf("Expected success, got %v", err)
	}
}
