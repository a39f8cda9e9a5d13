// Package resilience provides the circuit breaker that guards remote
// advisory calls, currently the moderation backend. The guardrail layer
// already fails open on individual errors; the breaker adds a second level
// that stops hammering a backend which has been failing repeatedly.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrOpen is returned by [Breaker.Do] while the breaker rejects calls.
var ErrOpen = errors.New("circuit breaker open")

// State is the operating mode of a [Breaker].
type State int

const (
	// Closed forwards all calls.
	Closed State = iota
	// Open rejects calls until the cooldown elapses.
	Open
	// HalfOpen lets a limited number of probes through to test recovery.
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	}
	return "unknown"
}

// Option is a functional option for configuring a Breaker.
type Option func(*Breaker)

// WithMaxFailures sets the consecutive-failure count that trips the breaker.
// Default: 5.
func WithMaxFailures(n int) Option {
	return func(b *Breaker) {
		if n > 0 {
			b.maxFailures = n
		}
	}
}

// WithCooldown sets how long the breaker stays open before probing.
// Default: 30s.
func WithCooldown(d time.Duration) Option {
	return func(b *Breaker) {
		if d > 0 {
			b.cooldown = d
		}
	}
}

// WithProbes sets how many half-open probes must succeed before the breaker
// closes again. Default: 3.
func WithProbes(n int) Option {
	return func(b *Breaker) {
		if n > 0 {
			b.probes = n
		}
	}
}

// WithClock replaces the time source. Used in tests.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) {
		if now != nil {
			b.now = now
		}
	}
}

// Breaker is a three-state circuit breaker.
type Breaker struct {
	name        string
	maxFailures int
	cooldown    time.Duration
	probes      int
	now         func() time.Time

	mu          sync.Mutex
	state       State
	failures    int
	trippedAt   time.Time
	probeCalls  int
	probeFailed bool
}

// NewBreaker constructs a Breaker named for log messages.
func NewBreaker(name string, opts ...Option) *Breaker {
	b := &Breaker{
		name:        name,
		maxFailures: 5,
		cooldown:    30 * time.Second,
		probes:      3,
		now:         time.Now,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Do runs fn unless the breaker is open, in which case it returns [ErrOpen]
// without calling fn. fn's error feeds the failure accounting and is returned
// unchanged.
func (b *Breaker) Do(fn func() error) error {
	probe, err := b.admit()
	if err != nil {
		return err
	}

	callErr := fn()
	b.settle(probe, callErr)
	return callErr
}

// admit decides whether the next call may proceed, transitioning open to
// half-open when the cooldown has elapsed. probe reports whether the call
// counts against the half-open budget.
func (b *Breaker) admit() (probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Open:
		if b.now().Sub(b.trippedAt) < b.cooldown {
			return false, ErrOpen
		}
		b.state = HalfOpen
		b.probeCalls = 0
		b.probeFailed = false
		slog.Info("circuit breaker probing", "name", b.name)

	case HalfOpen:
		if b.probeCalls >= b.probes {
			return false, ErrOpen
		}
	}

	if b.state == HalfOpen {
		b.probeCalls++
		return true, nil
	}
	return false, nil
}

// settle records the call outcome.
func (b *Breaker) settle(probe bool, callErr error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if callErr == nil {
		if probe {
			if !b.probeFailed && b.probeCalls >= b.probes {
				b.state = Closed
				b.failures = 0
				slog.Info("circuit breaker closed", "name", b.name)
			}
			return
		}
		b.failures = 0
		return
	}

	b.trippedAt = b.now()
	if probe {
		b.probeFailed = true
		b.state = Open
		b.failures = b.maxFailures
		slog.Warn("circuit breaker re-opened", "name", b.name)
		return
	}
	b.failures++
	if b.failures >= b.maxFailures && b.state == Closed {
		b.state = Open
		slog.Warn("circuit breaker tripped", "name", b.name, "failures", b.failures)
	}
}

// State returns the current state, reporting HalfOpen when an open breaker's
// cooldown has elapsed even though the transition happens on the next Do.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == Open && b.now().Sub(b.trippedAt) >= b.cooldown {
		return HalfOpen
	}
	return b.state
}

// Reset forces the breaker closed and clears all counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = Closed
	b.failures = 0
	b.probeCalls = 0
	b.probeFailed = false
}
