package migration

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/casebridge/casebridge/internal/audit"
	"github.com/casebridge/casebridge/internal/provider"
)

func newRunFixture(t *testing.T, artifacts int, cfg Config) (*Orchestrator, *provider.MemoryProvider, *provider.MemoryProvider) {
	t.Helper()

	source, target := newTestPair(artifacts)
	engine, err := NewEngine(context.Background(), source, target, testMappingSet(), cfg)
	require.NoError(t, err)

	orch := NewOrchestrator(cfg, engine)
	return orch, source, target
}

func validatedConfig(t *testing.T, cfg Config) Config {
	t.Helper()
	validated, err := cfg.Validate()
	require.NoError(t, err)
	return validated
}

func waitForProcessed(t *testing.T, orch *Orchestrator, n int) {
	t.Helper()
	deadline := time.After(10 * time.Second)
	for {
		if orch.Status().ProcessedItems >= n {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %d processed items, have %d", n, orch.Status().ProcessedItems)
		case <-time.After(time.Millisecond):
		}
	}
}

func TestRunCompletesWithFailuresUnderContinuePolicy(t *testing.T) {
	cfg := validatedConfig(t, Config{
		BatchSize:     10,
		ConcurrentOps: 2,
		RetryAttempts: 3,
		ErrorHandling: ErrorHandlingContinue,
	})

	orch, source, target := newRunFixture(t, 25, cfg)
	source.FetchHook = func(typ provider.ArtifactType, id string) error {
		if id == "tc-007" {
			return Fatal("fetch", id, fmt.Errorf("artifact gone"))
		}
		return nil
	}

	require.NoError(t, orch.Start(context.Background()))
	status := orch.Wait()

	assert.Equal(t, StateCompleted, status.State)
	assert.Equal(t, 25, status.ProcessedItems)
	assert.Equal(t, 1, status.FailedItems)
	assert.Equal(t, 1.0, status.Progress)
	require.NotNil(t, status.EndTime)

	stats := status.Statistics.Entities[provider.ArtifactTestCase]
	assert.Equal(t, 24, stats.Migrated)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 0, stats.Pending)

	assert.Len(t, target.Written(provider.ArtifactTestCase), 24)
}

func TestRunStopsDispatchUnderStopPolicy(t *testing.T) {
	cfg := validatedConfig(t, Config{
		BatchSize:     10,
		ConcurrentOps: 2,
		RetryAttempts: 0,
		ErrorHandling: ErrorHandlingStop,
	})

	orch, source, _ := newRunFixture(t, 25, cfg)
	source.FetchHook = func(typ provider.ArtifactType, id string) error {
		if id == "tc-003" {
			return Fatal("fetch", id, fmt.Errorf("artifact gone"))
		}
		return nil
	}

	require.NoError(t, orch.Start(context.Background()))
	status := orch.Wait()

	assert.Equal(t, StateFailed, status.State)
	assert.Equal(t, 1, status.FailedItems)
	// In-flight batches drain, the remaining batch never starts.
	assert.Less(t, status.ProcessedItems, 25)
	assert.GreaterOrEqual(t, status.ProcessedItems, 10)
}

func TestRunPromptAbortFailsRun(t *testing.T) {
	cfg := validatedConfig(t, Config{
		BatchSize:     10,
		ConcurrentOps: 2,
		RetryAttempts: 0,
		ErrorHandling: ErrorHandlingPrompt,
	})

	source, target := newTestPair(25)
	source.FetchHook = func(typ provider.ArtifactType, id string) error {
		if id == "tc-003" {
			return Fatal("fetch", id, fmt.Errorf("artifact gone"))
		}
		return nil
	}
	engine, err := NewEngine(context.Background(), source, target, testMappingSet(), cfg)
	require.NoError(t, err)

	prompted := make(chan error, 1)
	orch := NewOrchestrator(cfg, engine, WithDecisionFunc(func(failure error) Decision {
		prompted <- failure
		return DecisionAbort
	}))

	require.NoError(t, orch.Start(context.Background()))
	status := orch.Wait()

	assert.Equal(t, StateFailed, status.State)
	assert.Less(t, status.ProcessedItems, 25)

	select {
	case failure := <-prompted:
		assert.Contains(t, failure.Error(), "tc-003")
	default:
		t.Fatal("decision callback was never invoked")
	}
}

func TestRunPromptContinueKeepsGoing(t *testing.T) {
	cfg := validatedConfig(t, Config{
		BatchSize:     10,
		ConcurrentOps: 2,
		RetryAttempts: 0,
		ErrorHandling: ErrorHandlingPrompt,
	})

	source, target := newTestPair(25)
	source.FetchHook = func(typ provider.ArtifactType, id string) error {
		if id == "tc-003" {
			return Fatal("fetch", id, fmt.Errorf("artifact gone"))
		}
		return nil
	}
	engine, err := NewEngine(context.Background(), source, target, testMappingSet(), cfg)
	require.NoError(t, err)

	orch := NewOrchestrator(cfg, engine, WithDecisionFunc(func(error) Decision {
		return DecisionContinue
	}))

	require.NoError(t, orch.Start(context.Background()))
	status := orch.Wait()

	assert.Equal(t, StateCompleted, status.State)
	assert.Equal(t, 25, status.ProcessedItems)
	assert.Equal(t, 1, status.FailedItems)
}

func TestRunPromptTimeoutAborts(t *testing.T) {
	cfg := validatedConfig(t, Config{
		BatchSize:     10,
		ConcurrentOps: 2,
		RetryAttempts: 0,
		ErrorHandling: ErrorHandlingPrompt,
		PromptTimeout: 20 * time.Millisecond,
	})

	source, target := newTestPair(25)
	source.FetchHook = func(typ provider.ArtifactType, id string) error {
		if id == "tc-003" {
			return Fatal("fetch", id, fmt.Errorf("artifact gone"))
		}
		return nil
	}
	engine, err := NewEngine(context.Background(), source, target, testMappingSet(), cfg)
	require.NoError(t, err)

	// A decision callback that never answers. The prompt timeout must
	// settle the run as aborted.
	block := make(chan struct{})
	orch := NewOrchestrator(cfg, engine, WithDecisionFunc(func(failure error) Decision {
		<-block
		return DecisionContinue
	}))

	require.NoError(t, orch.Start(context.Background()))
	status := orch.Wait()
	close(block)

	assert.Equal(t, StateFailed, status.State)
	assert.Less(t, status.ProcessedItems, 25)
}

func TestRunPauseAndResume(t *testing.T) {
	cfg := validatedConfig(t, Config{
		BatchSize:     5,
		ConcurrentOps: 2,
		RetryAttempts: 0,
		ErrorHandling: ErrorHandlingContinue,
	})

	orch, source, _ := newRunFixture(t, 20, cfg)
	source.FetchHook = func(typ provider.ArtifactType, id string) error {
		time.Sleep(10 * time.Millisecond)
		return nil
	}

	require.NoError(t, orch.Start(context.Background()))
	waitForProcessed(t, orch, 2)

	require.NoError(t, orch.Pause())
	assert.Equal(t, StatePaused, orch.State())

	// In-flight artifacts finish, then progress stalls.
	time.Sleep(50 * time.Millisecond)
	frozen := orch.Status().ProcessedItems
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, frozen, orch.Status().ProcessedItems)
	assert.Less(t, frozen, 20)

	require.NoError(t, orch.Resume())
	status := orch.Wait()

	assert.Equal(t, StateCompleted, status.State)
	assert.Equal(t, 20, status.ProcessedItems)
	assert.Equal(t, 0, status.FailedItems)
}

func TestRunCancelStopsCooperatively(t *testing.T) {
	cfg := validatedConfig(t, Config{
		BatchSize:     5,
		ConcurrentOps: 2,
		RetryAttempts: 0,
		ErrorHandling: ErrorHandlingContinue,
	})

	orch, source, _ := newRunFixture(t, 50, cfg)
	source.FetchHook = func(typ provider.ArtifactType, id string) error {
		time.Sleep(5 * time.Millisecond)
		return nil
	}

	require.NoError(t, orch.Start(context.Background()))
	waitForProcessed(t, orch, 2)

	require.NoError(t, orch.Cancel())
	status := orch.Wait()

	assert.Equal(t, StateCancelled, status.State)
	assert.Less(t, status.ProcessedItems, 50)
	require.NotNil(t, status.EndTime)
}

func TestRunIllegalTransitions(t *testing.T) {
	cfg := validatedConfig(t, Config{
		BatchSize:     10,
		ConcurrentOps: 1,
		ErrorHandling: ErrorHandlingContinue,
	})

	orch, _, _ := newRunFixture(t, 5, cfg)

	// pending: pause and resume are illegal.
	assert.Error(t, orch.Pause())
	assert.Error(t, orch.Resume())

	require.NoError(t, orch.Start(context.Background()))
	status := orch.Wait()
	require.Equal(t, StateCompleted, status.State)

	// terminal: everything is illegal.
	assert.Error(t, orch.Start(context.Background()))
	assert.Error(t, orch.Pause())
	assert.Error(t, orch.Resume())
	assert.Error(t, orch.Cancel())
}

func TestCancelBeforeStartSettlesCancelled(t *testing.T) {
	cfg := validatedConfig(t, Config{
		BatchSize:     10,
		ConcurrentOps: 1,
		ErrorHandling: ErrorHandlingContinue,
	})

	orch, _, target := newRunFixture(t, 5, cfg)

	require.NoError(t, orch.Cancel())

	// Wait must not block on a run loop that never launched.
	status := orch.Wait()
	assert.Equal(t, StateCancelled, status.State)
	assert.Equal(t, 0, status.ProcessedItems)
	assert.Zero(t, target.WriteCalls())

	assert.Error(t, orch.Start(context.Background()))
	assert.Error(t, orch.Cancel())
}

func TestPauseDuringFinalDrainStillCompletes(t *testing.T) {
	cfg := validatedConfig(t, Config{
		BatchSize:     5,
		ConcurrentOps: 1,
		ErrorHandling: ErrorHandlingContinue,
	})

	source, target := newTestPair(5)
	entered := make(chan struct{})
	release := make(chan struct{})
	source.FetchHook = func(typ provider.ArtifactType, id string) error {
		if id == "tc-004" {
			close(entered)
			<-release
		}
		return nil
	}
	engine, err := NewEngine(context.Background(), source, target, testMappingSet(), cfg)
	require.NoError(t, err)

	orch := NewOrchestrator(cfg, engine)
	require.NoError(t, orch.Start(context.Background()))

	// Pause while the last artifact of the last batch is in flight. The
	// batch drains and the run settles as completed, not stuck in paused.
	<-entered
	require.NoError(t, orch.Pause())
	close(release)

	status := orch.Wait()
	assert.Equal(t, StateCompleted, status.State)
	assert.Equal(t, 5, status.ProcessedItems)
	assert.EqualValues(t, 5, target.WriteCalls())
}

func TestRunConcurrencyDoesNotChangeOutcome(t *testing.T) {
	final := make(map[int]Status)

	for _, workers := range []int{1, 8} {
		cfg := validatedConfig(t, Config{
			BatchSize:     7,
			ConcurrentOps: workers,
			RetryAttempts: 0,
			ErrorHandling: ErrorHandlingContinue,
		})

		orch, source, _ := newRunFixture(t, 40, cfg)
		source.FetchHook = func(typ provider.ArtifactType, id string) error {
			if id == "tc-013" || id == "tc-029" {
				return Fatal("fetch", id, fmt.Errorf("artifact gone"))
			}
			return nil
		}

		require.NoError(t, orch.Start(context.Background()))
		final[workers] = orch.Wait()
	}

	for _, workers := range []int{1, 8} {
		status := final[workers]
		assert.Equal(t, StateCompleted, status.State)
		assert.Equal(t, 40, status.ProcessedItems)
		assert.Equal(t, 2, status.FailedItems)
		assert.Equal(t, 1.0, status.Progress)
	}
}

func TestRunTestScopeLimitsSample(t *testing.T) {
	cfg := validatedConfig(t, Config{
		BatchSize:      10,
		ConcurrentOps:  2,
		Scope:          ScopeTest,
		TestSampleSize: 7,
		ErrorHandling:  ErrorHandlingContinue,
	})

	orch, _, target := newRunFixture(t, 100, cfg)

	require.NoError(t, orch.Start(context.Background()))
	status := orch.Wait()

	assert.Equal(t, StateCompleted, status.State)
	assert.Equal(t, 7, status.TotalItems)
	assert.Equal(t, 7, status.ProcessedItems)
	assert.Len(t, target.Written(provider.ArtifactTestCase), 7)
}

func TestRunSelectedScope(t *testing.T) {
	cfg := validatedConfig(t, Config{
		BatchSize:     10,
		ConcurrentOps: 2,
		Scope:         ScopeSelected,
		SelectedIDs: map[string][]string{
			string(provider.ArtifactTestCase): {"tc-002", "tc-005", "tc-011"},
		},
		ErrorHandling: ErrorHandlingContinue,
	})

	orch, _, target := newRunFixture(t, 20, cfg)

	require.NoError(t, orch.Start(context.Background()))
	status := orch.Wait()

	assert.Equal(t, StateCompleted, status.State)
	assert.Equal(t, 3, status.ProcessedItems)

	written := target.Written(provider.ArtifactTestCase)
	require.Len(t, written, 3)
	assert.Equal(t, "tc-002", written[0].ID)
	assert.Equal(t, "tc-005", written[1].ID)
	assert.Equal(t, "tc-011", written[2].ID)
}

func TestRunEmitsAuditTrail(t *testing.T) {
	cfg := validatedConfig(t, Config{
		BatchSize:     10,
		ConcurrentOps: 2,
		RetryAttempts: 0,
		ErrorHandling: ErrorHandlingContinue,
	})

	source, target := newTestPair(5)
	source.FetchHook = func(typ provider.ArtifactType, id string) error {
		if id == "tc-002" {
			return Fatal("fetch", id, fmt.Errorf("artifact gone"))
		}
		return nil
	}
	engine, err := NewEngine(context.Background(), source, target, testMappingSet(), cfg)
	require.NoError(t, err)

	sink := &audit.MemorySink{}
	orch := NewOrchestrator(cfg, engine, WithAuditSink(sink))

	require.NoError(t, orch.Start(context.Background()))
	orch.Wait()

	errors := sink.ByLevel(audit.LevelError)
	require.NotEmpty(t, errors)
	assert.Contains(t, errors[0].Message, "tc-002")
	for _, e := range sink.Entries() {
		assert.Equal(t, orch.RunID(), e.RunID)
	}
}

func TestRunResumeSkipsCompletedBatches(t *testing.T) {
	cfg := validatedConfig(t, Config{
		BatchSize:     10,
		ConcurrentOps: 2,
		ErrorHandling: ErrorHandlingContinue,
	})

	source, target := newTestPair(25)
	engine, err := NewEngine(context.Background(), source, target, testMappingSet(), cfg)
	require.NoError(t, err)

	snap := &Snapshot{
		RunID: "resumed-run",
		NextBatchIndex: map[string]int{
			string(provider.ArtifactTestCase): 1,
		},
	}
	orch := NewOrchestrator(cfg, engine, WithResume(snap))
	assert.Equal(t, "resumed-run", orch.RunID())

	require.NoError(t, orch.Start(context.Background()))
	status := orch.Wait()

	assert.Equal(t, StateCompleted, status.State)
	// Batch 0 was skipped; batches 1 and 2 ran.
	assert.Equal(t, 15, status.ProcessedItems)
	assert.Len(t, target.Written(provider.ArtifactTestCase), 15)
}

func TestSnapshotMarksContiguousPrefix(t *testing.T) {
	cfg := validatedConfig(t, Config{
		BatchSize:     10,
		ConcurrentOps: 2,
		ErrorHandling: ErrorHandlingContinue,
	})

	orch, _, _ := newRunFixture(t, 25, cfg)
	require.NoError(t, orch.Start(context.Background()))
	orch.Wait()

	snap := orch.Snapshot()
	assert.Equal(t, orch.RunID(), snap.RunID)
	assert.Equal(t, 3, snap.NextBatchIndex[string(provider.ArtifactTestCase)])
	assert.False(t, snap.SavedAt.IsZero())
}
