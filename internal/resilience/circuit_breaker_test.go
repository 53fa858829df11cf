package resilience

import (
	"errors"
	"testing"
	"time"
)

func TestCircuitBreaker_OpensAfterMaxFailures(t *testing.T) {
	cb := NewCircuitBreaker("test", 3, time.Minute)
	failing := func() error { return errors.New("boom") }

	for i := 0; i < 3; i++ {
		if err := cb.Call(failing); err == nil {
			t.Fatalf("Call %d should have failed", i)
		}
	}

	if cb.State() != StateOpen {
		t.Fatalf("Expected open state, got %s", cb.State())
	}
	if err := cb.Call(failing); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Expected ErrCircuitOpen, got %v", err)
	}
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb := NewCircuitBreaker("test", 3, time.Minute)

	cb.Call(func() error { return errors.New("boom") })
	cb.Call(func() error { return errors.New("boom") })
	cb.Call(func() error { return nil })
	cb.Call(func() error { return errors.New("boom") })
	cb.Call(func() error { return errors.New("boom") })

	if cb.State() != StateClosed {
		t.Errorf("Expected closed state after interleaved success, got %s", cb.State())
	}
}

func TestCircuitBreaker_HalfOpenAfterResetTimeout(t *testing.T) {
	cb := NewCircuitBreaker("test", 1, 10*time.Millisecond)
	cb.Call(func() error { return errors.New("boom") })

	if cb.State() != StateOpen {
		t.Fatalf("Expected open state, got %s", cb.State())
	}

	time.Sleep(20 * time.Millisecond)

	// First call after the timeout is a probe
	if err := cb.Call(func() error { return nil }); err != nil {
		t.Fatalf("Probe call failed: %v", err)
	}
	if cb.State() != StateHalfOpen {
		t.Errorf("Expected half-open state, got %s", cb.State())
	}
}

func TestCircuitBreaker_ClosesAfterProbeSuccesses(t *testing.T) {
	cb := NewCircuitBreaker("test", 1, 10*time.Millisecond)
	cb.Call(func() error { return errors.New("boom") })
	time.Sleep(20 * time.Millisecond)

	for i := 0; i < 3; i++ {
		if err := cb.Call(func() error { return nil }); err != nil {
			t.Fatalf("Probe %d failed: %v", i, err)
		}
	}

	if cb.State() != StateClosed {
		t.Errorf("Expected closed state, got %s", cb.State())
	}
}

func TestCircuitBreaker_ProbeFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker("test", 1, 10*time.Millisecond)
	cb.Call(func() error { return errors.New("boom") })
	time.Sleep(20 * time.Millisecond)

	cb.Call(func() error { return errors.New("still down") })

	if cb.State() != StateOpen {
		t.Errorf("Expected open state after probe failure, got %s", cb.State())
	}
}

func TestCircuitBreaker_StateChangeCallback(t *testing.T) {
	cb := NewCircuitBreaker("deepgram", 1, time.Minute)

	var gotName string
	var gotFrom, gotTo CircuitState
	cb.OnStateChange(func(name string, from, to CircuitState) {
		gotName, gotFrom, gotTo = name, from, to
	})

	cb.Call(func() error { return errors.New("boom") })

	if gotName != "deepgram" || gotFrom != StateClosed || gotTo != StateOpen {
		t.Errorf("Unexpected transition %s: %s -> %s", gotName, gotFrom, gotTo)
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb := NewCircuitBreaker("test", 1, time.Hour)
	cb.Call(func() error { return errors.New("boom") })
	cb.Reset()

	if cb.State() != StateClosed {
		t.Errorf("Expected closed state after reset, got %s", cb.State())
	}
	if err := cb.Call(func() error { return nil }); err != nil {
		t.Errorf("Call after reset failed: %v", err)
	}
}
