package resilience

import (
	"log"
	"sync"
	"time"
)

// BreakerState is the circuit breaker's current position.
type BreakerState string

const (
	StateClosed   BreakerState = "closed"
	StateOpen     BreakerState = "open"
	StateHalfOpen BreakerState = "half_open"
)

// Breaker is a per-dependency circuit breaker. It opens after a run of
// consecutive failures, refuses calls during the cool-down, then lets a
// single probe through in half-open before closing again.
type Breaker struct {
	name      string
	threshold int
	cooldown  time.Duration

	mu           sync.Mutex
	state        BreakerState
	failures     int
	openedAt     time.Time
	probing      bool
	onTransition func(name string, from, to BreakerState)

	now func() time.Time // test hook
}

// NewBreaker creates a closed breaker for one named dependency.
func NewBreaker(name string, threshold int, cooldown time.Duration) *Breaker {
	return &Breaker{
		name:      name,
		threshold: threshold,
		cooldown:  cooldown,
		state:     StateClosed,
		now:       time.Now,
	}
}

// OnTransition registers a callback fired on every state change (metrics).
func (b *Breaker) OnTransition(fn func(name string, from, to BreakerState)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onTransition = fn
}

// Allow reports whether a call may proceed. In half-open, only the first
// caller gets through as the probe; the rest fail fast until it resolves.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil
	case StateOpen:
		if b.now().Sub(b.openedAt) >= b.cooldown {
			b.transition(StateHalfOpen)
			b.probing = true
			return nil
		}
		return ErrCircuitOpen
	case StateHalfOpen:
		if b.probing {
			return ErrCircuitOpen
		}
		b.probing = true
		return nil
	}
	return nil
}

// Record reports the outcome of an allowed call.
func (b *Breaker) Record(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if success {
		if b.state == StateHalfOpen {
			b.transition(StateClosed)
		}
		b.failures = 0
		b.probing = false
		return
	}

	if b.state == StateHalfOpen {
		// Probe failed, back to open for another cool-down.
		b.transition(StateOpen)
		b.openedAt = b.now()
		b.probing = false
		return
	}

	b.failures++
	if b.failures >= b.threshold && b.state == StateClosed {
		b.transition(StateOpen)
		b.openedAt = b.now()
	}
}

// Skip releases an allowed call whose outcome was inconclusive (the caller
// aborted the turn), so a half-open probe slot is not leaked.
func (b *Breaker) Skip() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.probing = false
}

// State returns the current breaker state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Name returns the dependency name this breaker guards.
func (b *Breaker) Name() string { return b.name }

// transition must be called with the lock held.
func (b *Breaker) transition(to BreakerState) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	log.Printf("⚡ [BREAKER] %s: %s → %s", b.name, from, to)
	if b.onTransition != nil {
		b.onTransition(b.name, from, to)
	}
}
