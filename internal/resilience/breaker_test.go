package resilience

import (
	"errors"
	"testing"
	"time"
)

var errBoom = errors.New("boom")

// newTestBreaker returns a breaker with a controllable clock.
func newTestBreaker(maxFailures int, timeout time.Duration) (*Breaker, *time.Time) {
	b := NewBreaker(maxFailures, timeout)
	now := time.Now()
	b.now = func() time.Time { return now }
	return b, &now
}

func fail(b *Breaker) error {
	return b.Execute(func() error { return errBoom })
}

func succeed(b *Breaker) error {
	return b.Execute(func() error { return nil })
}

func TestBreakerOpensAfterMaxFailures(t *testing.T) {
	b, _ := newTestBreaker(3, time.Minute)

	for i := 0; i < 3; i++ {
		if b.Open() {
			t.Fatalf("open after %d failures", i)
		}
		if err := fail(b); !errors.Is(err, errBoom) {
			t.Fatalf("failure %d: %v", i, err)
		}
	}

	if !b.Open() {
		t.Fatal("breaker closed after reaching the failure threshold")
	}
	if err := succeed(b); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("open breaker ran the call: %v", err)
	}
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	b, _ := newTestBreaker(3, time.Minute)

	_ = fail(b)
	_ = fail(b)
	if err := succeed(b); err != nil {
		t.Fatalf("success: %v", err)
	}
	_ = fail(b)
	_ = fail(b)

	if b.Open() {
		t.Fatal("breaker opened without three consecutive failures")
	}
}

func TestBreakerHalfOpenProbeAfterTimeout(t *testing.T) {
	b, now := newTestBreaker(1, time.Minute)

	_ = fail(b)
	if !b.Open() {
		t.Fatal("breaker not open")
	}

	*now = now.Add(time.Minute)

	// First call after the timeout is the half-open probe; success closes.
	if err := succeed(b); err != nil {
		t.Fatalf("probe rejected: %v", err)
	}
	if b.Open() {
		t.Fatal("breaker still open after successful probe")
	}
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b, now := newTestBreaker(3, time.Minute)

	for i := 0; i < 3; i++ {
		_ = fail(b)
	}
	*now = now.Add(time.Minute)

	// A single failed probe reopens regardless of the threshold.
	if err := fail(b); !errors.Is(err, errBoom) {
		t.Fatalf("probe: %v", err)
	}
	if !b.Open() {
		t.Fatal("failed probe left the breaker closed")
	}
	if err := succeed(b); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("reopened breaker ran the call: %v", err)
	}
}
