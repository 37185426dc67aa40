package migration

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/casebridge/casebridge/internal/audit"
	"github.com/casebridge/casebridge/internal/mapping"
)

func testPolicy(attempts int, sink audit.Sink) *RetryPolicy {
	p := NewRetryPolicy(attempts, "run-1", sink)
	p.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return p
}

func TestRetrySucceedsFirstTry(t *testing.T) {
	p := testPolicy(3, nil)
	calls := 0

	err := p.Execute(context.Background(), "fetch tc-1", func(ctx context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryTransientEventuallySucceeds(t *testing.T) {
	p := testPolicy(3, nil)
	calls := 0

	err := p.Execute(context.Background(), "fetch tc-1", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return Transient("fetch", fmt.Errorf("connection reset"))
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryExhaustionBecomesFatal(t *testing.T) {
	sink := &audit.MemorySink{}
	p := testPolicy(3, sink)
	calls := 0

	err := p.Execute(context.Background(), "write tc-1", func(ctx context.Context) error {
		calls++
		return Transient("write", fmt.Errorf("rate limited"))
	})
	require.Error(t, err)
	assert.Equal(t, 4, calls) // first try plus three retries

	var fatal *FatalError
	require.True(t, errors.As(err, &fatal))
	assert.False(t, isRetryable(err))

	// Each retry and the final exhaustion leave an audit trail.
	assert.Len(t, sink.ByLevel(audit.LevelWarn), 3)
	assert.Len(t, sink.ByLevel(audit.LevelError), 1)
}

func TestRetryNeverRetriesFieldErrors(t *testing.T) {
	p := testPolicy(5, nil)
	calls := 0

	ferr := &mapping.FieldError{ArtifactID: "tc-1", SourceID: "status", TargetID: "state", Message: "no mapping"}
	err := p.Execute(context.Background(), "migrate tc-1", func(ctx context.Context) error {
		calls++
		return ferr
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)

	var got *mapping.FieldError
	assert.True(t, errors.As(err, &got))
}

func TestRetryNeverRetriesFatal(t *testing.T) {
	p := testPolicy(5, nil)
	calls := 0

	err := p.Execute(context.Background(), "fetch tc-1", func(ctx context.Context) error {
		calls++
		return Fatal("fetch", "tc-1", fmt.Errorf("401 unauthorized"))
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryTreatsDeadlineAsTransient(t *testing.T) {
	p := testPolicy(2, nil)
	calls := 0

	err := p.Execute(context.Background(), "fetch tc-1", func(ctx context.Context) error {
		calls++
		if calls == 1 {
			return fmt.Errorf("fetch: %w", context.DeadlineExceeded)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestRetryStopsOnCancelledContext(t *testing.T) {
	p := NewRetryPolicy(5, "run-1", nil)
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0

	err := p.Execute(ctx, "fetch tc-1", func(ctx context.Context) error {
		calls++
		cancel()
		return Transient("fetch", fmt.Errorf("timeout"))
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestBackoffGrowsAndCaps(t *testing.T) {
	p := NewRetryPolicy(10, "run-1", nil)
	p.BaseDelay = 100 * time.Millisecond
	p.MaxDelay = 1 * time.Second

	prev := time.Duration(0)
	for attempt := 0; attempt < 3; attempt++ {
		d := p.backoff(attempt)
		assert.Greater(t, d, prev)
		prev = p.BaseDelay << uint(attempt)
	}

	// Far past the cap, delay stays bounded by cap plus jitter.
	d := p.backoff(20)
	assert.LessOrEqual(t, d, p.MaxDelay+p.MaxDelay/4)
	assert.GreaterOrEqual(t, d, p.MaxDelay)
}

func TestZeroAttemptsFailsImmediately(t *testing.T) {
	p := testPolicy(0, nil)
	calls := 0

	err := p.Execute(context.Background(), "fetch tc-1", func(ctx context.Context) error {
		calls++
		return Transient("fetch", fmt.Errorf("timeout"))
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}
