package resilience

import (
	"errors"
	"testing"
	"time"
)

var errBackend = errors.New("backend down")

type testClock struct {
	t time.Time
}

func (c *testClock) now() time.Time { return c.t }

func newTestBreaker(clock *testClock) *Breaker {
	return NewBreaker("test",
		WithMaxFailures(3),
		WithCooldown(10*time.Second),
		WithProbes(2),
		WithClock(clock.now),
	)
}

func TestBreakerStaysClosedOnSuccess(t *testing.T) {
	clock := &testClock{t: time.Unix(0, 0)}
	b := newTestBreaker(clock)

	for i := 0; i < 10; i++ {
		if err := b.Do(func() error { return nil }); err != nil {
			t.Fatalf("Do returned %v on healthy backend", err)
		}
	}
	if b.State() != Closed {
		t.Fatalf("state = %v, want closed", b.State())
	}
}

func TestBreakerTripsAfterConsecutiveFailures(t *testing.T) {
	clock := &testClock{t: time.Unix(0, 0)}
	b := newTestBreaker(clock)

	for i := 0; i < 3; i++ {
		if err := b.Do(func() error { return errBackend }); !errors.Is(err, errBackend) {
			t.Fatalf("Do = %v, want backend error", err)
		}
	}
	if b.State() != Open {
		t.Fatalf("state = %v after 3 failures, want open", b.State())
	}

	called := false
	err := b.Do(func() error { called = true; return nil })
	if !errors.Is(err, ErrOpen) {
		t.Fatalf("Do while open = %v, want ErrOpen", err)
	}
	if called {
		t.Fatal("fn was called while breaker open")
	}
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	clock := &testClock{t: time.Unix(0, 0)}
	b := newTestBreaker(clock)

	b.Do(func() error { return errBackend })
	b.Do(func() error { return errBackend })
	b.Do(func() error { return nil })
	b.Do(func() error { return errBackend })
	b.Do(func() error { return errBackend })

	if b.State() != Closed {
		t.Fatalf("state = %v, want closed after interleaved success", b.State())
	}
}

func TestBreakerClosesAfterSuccessfulProbes(t *testing.T) {
	clock := &testClock{t: time.Unix(0, 0)}
	b := newTestBreaker(clock)

	for i := 0; i < 3; i++ {
		b.Do(func() error { return errBackend })
	}
	clock.t = clock.t.Add(11 * time.Second)

	if b.State() != HalfOpen {
		t.Fatalf("state = %v after cooldown, want half-open", b.State())
	}
	// Two successful probes close the breaker.
	for i := 0; i < 2; i++ {
		if err := b.Do(func() error { return nil }); err != nil {
			t.Fatalf("probe %d failed: %v", i, err)
		}
	}
	if b.State() != Closed {
		t.Fatalf("state = %v after successful probes, want closed", b.State())
	}
}

func TestBreakerReopensOnProbeFailure(t *testing.T) {
	clock := &testClock{t: time.Unix(0, 0)}
	b := newTestBreaker(clock)

	for i := 0; i < 3; i++ {
		b.Do(func() error { return errBackend })
	}
	clock.t = clock.t.Add(11 * time.Second)

	if err := b.Do(func() error { return errBackend }); !errors.Is(err, errBackend) {
		t.Fatalf("probe = %v, want backend error", err)
	}
	if b.State() != Open {
		t.Fatalf("state = %v after failed probe, want open", b.State())
	}
}

func TestBreakerReset(t *testing.T) {
	clock := &testClock{t: time.Unix(0, 0)}
	b := newTestBreaker(clock)

	for i := 0; i < 3; i++ {
		b.Do(func() error { return errBackend })
	}
	b.Reset()

	if b.State() != Closed {
		t.Fatalf("state = %v after reset, want closed", b.State())
	}
	if err := b.Do(func() error { return nil }); err != nil {
		t.Fatalf("Do after reset = %v", err)
	}
}
