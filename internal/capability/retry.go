package capability

import (
	"context"
	"math/rand"
	"time"

	"github.com/sovereign-research/orchestrator/internal/errs"
)

// RetryPolicy governs transient capability failures: up to three attempts
// with exponential backoff (base 200ms, factor 2, jitter ±25%), bounded by
// ctx's deadline. The CoT generator wraps its LanguageModel calls with this
// before classifying the error; FactStore calls are never retried.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Factor      float64
	Jitter      float64

	// sleep is overridable in tests to avoid real wall-clock waits.
	sleep func(time.Duration)
	// rng is overridable in tests for deterministic jitter.
	rng func() float64
}

// DefaultRetryPolicy returns the standard backoff parameters.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   200 * time.Millisecond,
		Factor:      2,
		Jitter:      0.25,
		sleep:       time.Sleep,
		rng:         rand.Float64,
	}
}

// Classifier tells RetryPolicy whether an error returned by a capability
// call is transient (retry), permanent (stop and let the caller roll back),
// or not a capability error at all (pass through unchanged).
type Classifier func(err error) errs.Kind

// Do invokes fn up to MaxAttempts times while classifier(err) reports
// CapabilityTransient, backing off between attempts. It never retries past
// ctx's deadline: if the context is done, the last error is returned
// immediately without sleeping further.
func (p *RetryPolicy) Do(ctx context.Context, classify Classifier, fn func(ctx context.Context) error) error {
	delay := p.BaseDelay
	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if classify(err) != errs.CapabilityTransient {
			return err
		}
		if attempt == p.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return lastErr
		default:
		}
		jittered := p.jitter(delay)
		if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < jittered {
			return lastErr
		}
		p.sleep(jittered)
		delay = time.Duration(float64(delay) * p.Factor)
	}
	return errs.Wrap(errs.CapabilityTransient, "retries exhausted", lastErr)
}

func (p *RetryPolicy) jitter(d time.Duration) time.Duration {
	spread := (p.rng()*2 - 1) * p.Jitter
	return time.Duration(float64(d) * (1 + spread))
}
