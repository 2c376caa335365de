package resilience

import (
	"context"
	"time"
)

// Wrapper applies the full outbound-call discipline for one dependency:
// per-attempt timeout, transient-only retry with backoff, and the
// dependency's circuit breaker. Every outbound call in the engine goes
// through a Wrapper rather than scattering this logic at call sites.
type Wrapper struct {
	breaker   *Breaker
	attempts  int
	baseDelay time.Duration
	timeout   time.Duration
}

// WrapperConfig parameterizes a Wrapper per dependency.
type WrapperConfig struct {
	Name      string
	Attempts  int
	BaseDelay time.Duration
	Timeout   time.Duration
	Threshold int
	Cooldown  time.Duration
}

// NewWrapper builds a Wrapper with its own breaker.
func NewWrapper(cfg WrapperConfig) *Wrapper {
	return &Wrapper{
		breaker:   NewBreaker(cfg.Name, cfg.Threshold, cfg.Cooldown),
		attempts:  cfg.Attempts,
		baseDelay: cfg.BaseDelay,
		timeout:   cfg.Timeout,
	}
}

// Breaker exposes the dependency's breaker (health reporting, metrics hooks).
func (w *Wrapper) Breaker() *Breaker { return w.breaker }

// Do executes fn under breaker, retry and per-attempt timeout. The returned
// retry count is the number of attempts actually made, for the audit trail.
func (w *Wrapper) Do(ctx context.Context, fn func(ctx context.Context) error) (int, error) {
	if err := w.breaker.Allow(); err != nil {
		return 0, err
	}

	attempts, err := Retry(ctx, w.breaker.Name(), w.attempts, w.baseDelay, func(ctx context.Context) error {
		attemptCtx := ctx
		if w.timeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, w.timeout)
			defer cancel()
		}
		return fn(attemptCtx)
	})

	// A turn the caller aborted says nothing about dependency health.
	if err != nil && ctx.Err() != nil {
		w.breaker.Skip()
		return attempts, err
	}

	w.breaker.Record(err == nil)
	return attempts, err
}
