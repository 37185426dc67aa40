package migration

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/charmbracelet/log"

	"github.com/casebridge/casebridge/internal/audit"
)

// RetryPolicy wraps artifact-level operations with bounded exponential
// backoff. Only errors classified as retryable are retried; everything else
// surfaces immediately.
type RetryPolicy struct {
	Attempts  int           // retries after the first try
	BaseDelay time.Duration // doubled per attempt
	MaxDelay  time.Duration // backoff cap

	runID string
	sink  audit.Sink
	// sleep is replaceable in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRetryPolicy creates a policy with the given retry budget.
func NewRetryPolicy(attempts int, runID string, sink audit.Sink) *RetryPolicy {
	if sink == nil {
		sink = audit.NopSink{}
	}
	return &RetryPolicy{
		Attempts:  attempts,
		BaseDelay: 500 * time.Millisecond,
		MaxDelay:  30 * time.Second,
		runID:     runID,
		sink:      sink,
		sleep:     sleepCtx,
	}
}

// Execute runs op, retrying transient failures up to Attempts times. The
// returned error for an exhausted budget is a FatalError wrapping the last
// transient failure.
func (p *RetryPolicy) Execute(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 0; attempt <= p.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !isRetryable(err) {
			return err
		}
		lastErr = err

		if attempt == p.Attempts {
			break
		}

		delay := p.backoff(attempt)
		log.Warn("Retrying operation", "op", op, "attempt", attempt+1, "delay", delay, "error", err)
		_ = p.sink.Append(ctx, audit.NewEntry(p.runID, audit.LevelWarn, "retry",
			fmt.Sprintf("retrying %s (attempt %d of %d)", op, attempt+1, p.Attempts),
			err.Error()))

		if err := p.sleep(ctx, delay); err != nil {
			return err
		}
	}

	log.Error("Retry budget exhausted", "op", op, "attempts", p.Attempts, "error", lastErr)
	_ = p.sink.Append(ctx, audit.NewEntry(p.runID, audit.LevelError, "retry",
		fmt.Sprintf("retry budget exhausted for %s after %d attempts", op, p.Attempts),
		lastErr.Error()))

	return Fatal(op, "", fmt.Errorf("retries exhausted: %w", lastErr))
}

// backoff returns the delay before the next attempt: base doubled per
// attempt, capped, with up to 25% jitter.
func (p *RetryPolicy) backoff(attempt int) time.Duration {
	delay := p.BaseDelay << uint(attempt)
	if delay > p.MaxDelay || delay <= 0 {
		delay = p.MaxDelay
	}
	jitter := time.Duration(rand.Int63n(int64(delay)/4 + 1))
	return delay + jitter
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
