package circuitbreaker

import (
	"errors"
	"testing"
	"time"
)

var errDown = errors.New("broker down")

func newTestBreaker(clock *time.Time) *CircuitBreaker {
	cb := NewCircuitBreaker(Config{
		FailureThreshold:    2,
		SuccessThreshold:    1,
		Timeout:             time.Second,
		HalfOpenMaxRequests: 1,
	})
	cb.now = func() time.Time { return *clock }
	return cb
}

func TestCircuitBreakerTripsAndRecovers(t *testing.T) {
	clock := time.Unix(0, 0)
	cb := newTestBreaker(&clock)
	fail := func() error { return errDown }
	ok := func() error { return nil }

	for i := 0; i < 2; i++ {
		if err := cb.Execute(fail); !errors.Is(err, errDown) {
			t.Fatalf("call %d: got %v, want %v", i, err, errDown)
		}
	}
	if cb.GetState() != StateOpen {
		t.Fatalf("state = %v, want open", cb.GetState())
	}

	called := false
	if err := cb.Execute(func() error { called = true; return nil }); !errors.Is(err, ErrCircuitBreakerOpen) {
		t.Fatalf("open breaker returned %v", err)
	}
	if called {
		t.Fatal("open breaker must not run fn")
	}

	clock = clock.Add(2 * time.Second)
	if err := cb.Execute(ok); err != nil {
		t.Fatalf("half-open probe failed: %v", err)
	}
	if cb.GetState() != StateClosed {
		t.Fatalf("state = %v, want closed", cb.GetState())
	}
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	clock := time.Unix(0, 0)
	cb := newTestBreaker(&clock)

	_ = cb.Execute(func() error { return errDown })
	_ = cb.Execute(func() error { return errDown })
	clock = clock.Add(2 * time.Second)

	if err := cb.Execute(func() error { return errDown }); !errors.Is(err, errDown) {
		t.Fatalf("probe: got %v", err)
	}
	if cb.GetState() != StateOpen {
		t.Fatalf("state = %v, want open", cb.GetState())
	}
}

func TestCircuitBreakerSuccessResetsFailures(t *testing.T) {
	clock := time.Unix(0, 0)
	cb := newTestBreaker(&clock)

	_ = cb.Execute(func() error { return errDown })
	_ = cb.Execute(func() error { return nil })
	_ = cb.Execute(func() error { return errDown })

	if cb.GetState() != StateClosed {
		t.Fatalf("state = %v, want closed after non-consecutive failures", cb.GetState())
	}
}
