package resilience

import (
	"errors"
	"testing"
	"time"
)

func TestBreakerOpensAfterThreshold(t *testing.T) {
	b := NewBreaker("test", 3, 30*time.Second)

	for i := 0; i < 2; i++ {
		if err := b.Allow(); err != nil {
			t.Fatalf("call %d: expected allow, got %v", i, err)
		}
		b.Record(false)
	}
	if got := b.State(); got != StateClosed {
		t.Fatalf("expected closed below threshold, got %s", got)
	}

	if err := b.Allow(); err != nil {
		t.Fatalf("expected allow, got %v", err)
	}
	b.Record(false)

	if got := b.State(); got != StateOpen {
		t.Fatalf("expected open after %d failures, got %s", 3, got)
	}
	if err := b.Allow(); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected fail-fast while open, got %v", err)
	}
}

func TestBreakerSuccessResetsFailureRun(t *testing.T) {
	b := NewBreaker("test", 3, 30*time.Second)

	b.Record(false)
	b.Record(false)
	b.Record(true)
	b.Record(false)
	b.Record(false)

	if got := b.State(); got != StateClosed {
		t.Fatalf("expected closed, non-consecutive failures should not open; got %s", got)
	}
}

func TestBreakerHalfOpenProbe(t *testing.T) {
	clock := time.Now()
	b := NewBreaker("test", 1, 30*time.Second)
	b.now = func() time.Time { return clock }

	b.Allow()
	b.Record(false)
	if got := b.State(); got != StateOpen {
		t.Fatalf("expected open, got %s", got)
	}

	// Still cooling down.
	clock = clock.Add(10 * time.Second)
	if err := b.Allow(); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected open during cooldown, got %v", err)
	}

	// Cooldown elapsed: exactly one probe gets through.
	clock = clock.Add(25 * time.Second)
	if err := b.Allow(); err != nil {
		t.Fatalf("expected probe allowed after cooldown, got %v", err)
	}
	if got := b.State(); got != StateHalfOpen {
		t.Fatalf("expected half_open, got %s", got)
	}
	if err := b.Allow(); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected second caller rejected during probe, got %v", err)
	}

	// Probe succeeds: closed again.
	b.Record(true)
	if got := b.State(); got != StateClosed {
		t.Fatalf("expected closed after successful probe, got %s", got)
	}
	if err := b.Allow(); err != nil {
		t.Fatalf("expected allow after close, got %v", err)
	}
}

func TestBreakerFailedProbeReopens(t *testing.T) {
	clock := time.Now()
	b := NewBreaker("test", 1, 30*time.Second)
	b.now = func() time.Time { return clock }

	b.Allow()
	b.Record(false)

	clock = clock.Add(31 * time.Second)
	if err := b.Allow(); err != nil {
		t.Fatalf("expected probe allowed, got %v", err)
	}
	b.Record(false)

	if got := b.State(); got != StateOpen {
		t.Fatalf("expected reopen after failed probe, got %s", got)
	}
	if err := b.Allow(); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected fail-fast after reopen, got %v", err)
	}
}

func TestBreakerSkipReleasesProbe(t *testing.T) {
	clock := time.Now()
	b := NewBreaker("test", 1, 30*time.Second)
	b.now = func() time.Time { return clock }

	b.Allow()
	b.Record(false)
	clock = clock.Add(31 * time.Second)

	if err := b.Allow(); err != nil {
		t.Fatalf("expected probe allowed, got %v", err)
	}
	// Caller aborted the turn: inconclusive.
	b.Skip()

	if err := b.Allow(); err != nil {
		t.Fatalf("expected probe slot free after Skip, got %v", err)
	}
}
