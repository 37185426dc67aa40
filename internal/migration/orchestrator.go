package migration

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/casebridge/casebridge/internal/audit"
	"github.com/casebridge/casebridge/internal/provider"
)

// Orchestrator drives one migration run through its state machine:
// pending → running → (paused ↔ running) → completed | failed | cancelled.
// Data-level failures never surface from Start/Pause/Resume/Cancel; callers
// observe them through Status and the audit trail.
type Orchestrator struct {
	cfg     Config
	engine  *Engine
	tracker *Tracker
	ctrl    *Controller
	sink    audit.Sink
	decide  DecisionFunc
	runID   string

	mu       sync.Mutex
	state    State
	runErr   error
	resumeAt map[provider.ArtifactType]int
	doneIdx  map[provider.ArtifactType]map[int]bool
	doneCh   chan struct{}
	started  bool
}

// Option configures an orchestrator.
type Option func(*Orchestrator)

// WithAuditSink routes audit entries to the given sink.
func WithAuditSink(s audit.Sink) Option {
	return func(o *Orchestrator) { o.sink = s }
}

// WithDecisionFunc injects the prompt callback for the prompt error-handling
// strategy.
func WithDecisionFunc(f DecisionFunc) Option {
	return func(o *Orchestrator) { o.decide = f }
}

// WithResume continues a run from a snapshot's batch indexes.
func WithResume(snap *Snapshot) Option {
	return func(o *Orchestrator) {
		o.runID = snap.RunID
		for typ, idx := range snap.NextBatchIndex {
			o.resumeAt[provider.ArtifactType(typ)] = idx
		}
	}
}

// NewOrchestrator creates an orchestrator in the pending state. The config
// must already be validated and the engine resolved.
func NewOrchestrator(cfg Config, engine *Engine, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:      cfg,
		engine:   engine,
		ctrl:     NewController(),
		sink:     audit.NopSink{},
		runID:    uuid.New().String(),
		state:    StatePending,
		resumeAt: make(map[provider.ArtifactType]int),
		doneIdx:  make(map[provider.ArtifactType]map[int]bool),
		doneCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.tracker = NewTracker(o.runID)
	return o
}

// RunID returns the run's unique identifier.
func (o *Orchestrator) RunID() string { return o.runID }

// Status returns the current status snapshot.
func (o *Orchestrator) Status() Status { return o.tracker.Status() }

// Subscribe returns a channel of status snapshots, one per update.
func (o *Orchestrator) Subscribe() <-chan Status { return o.tracker.Subscribe() }

// Start transitions pending → running and launches the run. It returns an
// error only for an illegal state transition, never for data-level failures.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.started {
		o.mu.Unlock()
		return fmt.Errorf("migration already started")
	}
	if !canTransition(o.state, StateRunning) {
		state := o.state
		o.mu.Unlock()
		return fmt.Errorf("cannot start migration in state %s", state)
	}
	o.started = true
	o.state = StateRunning
	o.mu.Unlock()

	log.Info("Starting migration", "run", o.runID, "scope", o.cfg.Scope,
		"batchSize", o.cfg.BatchSize, "workers", o.cfg.ConcurrentOps)
	o.audit(ctx, audit.LevelInfo, "orchestrator", "migration started", "")

	go o.run(ctx)
	return nil
}

// Pause requests running → paused. In-flight artifacts finish; no new
// batches start.
func (o *Orchestrator) Pause() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !canTransition(o.state, StatePaused) {
		return fmt.Errorf("cannot pause migration in state %s", o.state)
	}
	o.state = StatePaused
	o.ctrl.Pause()
	o.tracker.SetState(StatePaused)
	log.Info("Migration paused", "run", o.runID)
	return nil
}

// Resume requests paused → running. The batcher continues from the last
// unconsumed batch.
func (o *Orchestrator) Resume() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !canTransition(o.state, StateRunning) {
		return fmt.Errorf("cannot resume migration in state %s", o.state)
	}
	o.state = StateRunning
	o.ctrl.Resume()
	o.tracker.SetState(StateRunning)
	log.Info("Migration resumed", "run", o.runID)
	return nil
}

// Cancel requests cooperative cancellation from running or paused. In-flight
// artifact operations finish; no new ones start. The terminal state is set
// once workers drain.
func (o *Orchestrator) Cancel() error {
	o.mu.Lock()
	if !canTransition(o.state, StateCancelled) {
		state := o.state
		o.mu.Unlock()
		return fmt.Errorf("cannot cancel migration in state %s", state)
	}
	if !o.started {
		// The run loop never launched, so nothing will settle the terminal
		// state for us.
		o.state = StateCancelled
		o.mu.Unlock()
		o.tracker.SetState(StateCancelled)
		close(o.doneCh)
		log.Info("Migration cancelled before start", "run", o.runID)
		return nil
	}
	o.mu.Unlock()
	o.ctrl.Cancel()
	o.ctrl.Resume() // unblock paused workers so they can observe the cancel
	log.Info("Migration cancel requested", "run", o.runID)
	return nil
}

// Wait blocks until the run reaches a terminal state and returns the final
// status.
func (o *Orchestrator) Wait() Status {
	<-o.doneCh
	return o.tracker.Status()
}

// Done returns a channel closed when the run reaches a terminal state.
func (o *Orchestrator) Done() <-chan struct{} { return o.doneCh }

// run is the migration main loop: count scope, build batchers, drive the
// pool, then settle the terminal state.
func (o *Orchestrator) run(ctx context.Context) {
	defer close(o.doneCh)

	o.tracker.MarkStarted()

	batchers, err := o.prepare(ctx)
	if err != nil {
		log.Error("Failed to prepare migration", "run", o.runID, "error", err)
		o.audit(ctx, audit.LevelError, "orchestrator", "preparation failed", err.Error())
		o.finish(ctx, StateFailed)
		return
	}

	pool := &Pool{
		Engine:      o.engine,
		Tracker:     o.tracker,
		Retry:       NewRetryPolicy(o.cfg.RetryAttempts, o.runID, o.sink),
		Ctrl:        o.ctrl,
		Concurrency: o.cfg.ConcurrentOps,
		OpTimeout:   o.cfg.OperationTimeout,
		RunID:       o.runID,
		Sink:        o.sink,
		OnFailure:   o.handleFailure,
		OnBatchDone: o.markBatchDone,
	}

	_ = pool.Run(ctx, batchers)

	switch {
	case o.ctrl.Cancelled():
		o.finish(ctx, StateCancelled)
	case o.failed():
		o.finish(ctx, StateFailed)
	default:
		o.finish(ctx, StateCompleted)
	}
}

// prepare counts the scope per artifact type and builds the batchers.
// Counting prefers the provider's Count and falls back to draining a
// throwaway cursor.
func (o *Orchestrator) prepare(ctx context.Context) ([]*Batcher, error) {
	source := o.engine.Source()
	var batchers []*Batcher

	for _, typ := range o.engine.Types() {
		total, err := o.countScope(ctx, typ)
		if err != nil {
			return nil, err
		}
		o.tracker.SetTotal(typ, total)

		cursor, err := o.scopeCursor(ctx, source, typ)
		if err != nil {
			return nil, err
		}
		batchers = append(batchers, NewBatcher(cursor, typ, o.cfg.BatchSize, o.resumeAt[typ]))
	}

	return batchers, nil
}

func (o *Orchestrator) countScope(ctx context.Context, typ provider.ArtifactType) (int, error) {
	switch o.cfg.Scope {
	case ScopeSelected:
		return len(o.cfg.SelectedIDs[string(typ)]), nil
	case ScopeTest:
		total, err := o.countAll(ctx, typ)
		if err != nil {
			return 0, err
		}
		if total > o.cfg.TestSampleSize {
			total = o.cfg.TestSampleSize
		}
		return total, nil
	default:
		return o.countAll(ctx, typ)
	}
}

func (o *Orchestrator) countAll(ctx context.Context, typ provider.ArtifactType) (int, error) {
	source := o.engine.Source()
	total, err := source.Count(ctx, typ)
	if err == nil {
		return total, nil
	}
	if !errors.Is(err, provider.ErrCountUnavailable) {
		return 0, fmt.Errorf("failed to count %s: %w", typ, err)
	}

	cursor, err := source.ListIDs(ctx, typ)
	if err != nil {
		return 0, fmt.Errorf("failed to enumerate %s: %w", typ, err)
	}
	return countCursor(ctx, cursor)
}

func (o *Orchestrator) scopeCursor(ctx context.Context, source provider.Provider, typ provider.ArtifactType) (provider.IDCursor, error) {
	switch o.cfg.Scope {
	case ScopeSelected:
		return provider.NewSliceCursor(o.cfg.SelectedIDs[string(typ)]), nil
	case ScopeTest:
		cursor, err := source.ListIDs(ctx, typ)
		if err != nil {
			return nil, fmt.Errorf("failed to enumerate %s: %w", typ, err)
		}
		return newLimitCursor(cursor, o.cfg.TestSampleSize), nil
	default:
		cursor, err := source.ListIDs(ctx, typ)
		if err != nil {
			return nil, fmt.Errorf("failed to enumerate %s: %w", typ, err)
		}
		return cursor, nil
	}
}

// handleFailure applies the configured error-handling strategy to one failed
// artifact. Called from worker goroutines.
func (o *Orchestrator) handleFailure(typ provider.ArtifactType, id string, err error) {
	switch o.cfg.ErrorHandling {
	case ErrorHandlingContinue:
		// Recorded by the tracker; the run keeps going.

	case ErrorHandlingStop:
		o.escalate(err)

	case ErrorHandlingPrompt:
		if o.promptDecision(err) == DecisionAbort {
			o.escalate(err)
		}
	}
}

// escalate halts dispatch and records the run error. In-flight batches are
// allowed to drain; they are not force-killed.
func (o *Orchestrator) escalate(err error) {
	o.mu.Lock()
	if o.runErr == nil {
		o.runErr = err
	}
	o.mu.Unlock()
	o.ctrl.HaltDispatch()
	log.Error("Halting dispatch after fatal failure", "run", o.runID, "error", err)
}

// promptDecision invokes the injected decision callback, bounded by the
// prompt timeout. No callback, or a timeout, means abort.
func (o *Orchestrator) promptDecision(failure error) Decision {
	if o.decide == nil {
		return DecisionAbort
	}

	ch := make(chan Decision, 1)
	go func() { ch <- o.decide(failure) }()

	select {
	case d := <-ch:
		if d != DecisionContinue {
			return DecisionAbort
		}
		return DecisionContinue
	case <-time.After(o.cfg.PromptTimeout):
		log.Warn("Prompt decision timed out, aborting", "run", o.runID)
		return DecisionAbort
	}
}

func (o *Orchestrator) failed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.runErr != nil
}

// markBatchDone records a drained batch for checkpointing.
func (o *Orchestrator) markBatchDone(batch *Batch) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.doneIdx[batch.Type] == nil {
		o.doneIdx[batch.Type] = make(map[int]bool)
	}
	o.doneIdx[batch.Type][batch.Index] = true
}

// finish settles the terminal state exactly once.
func (o *Orchestrator) finish(ctx context.Context, terminal State) {
	o.mu.Lock()
	if o.state == StatePaused && !canTransition(StatePaused, terminal) {
		// A pause can land while the final batch drains. The work is already
		// settled, so pass back through running to keep the edges legal.
		o.state = StateRunning
	}
	o.state = terminal
	o.mu.Unlock()
	o.tracker.SetState(terminal)

	status := o.tracker.Status()
	log.Info("Migration finished", "run", o.runID, "state", terminal,
		"processed", status.ProcessedItems, "failed", status.FailedItems)
	o.audit(ctx, audit.LevelInfo, "orchestrator",
		fmt.Sprintf("migration finished in state %s", terminal),
		fmt.Sprintf("processed=%d failed=%d", status.ProcessedItems, status.FailedItems))
}

func (o *Orchestrator) audit(ctx context.Context, level audit.Level, component, message, details string) {
	_ = o.sink.Append(ctx, audit.NewEntry(o.runID, level, component, message, details))
}

// State returns the orchestrator's current lifecycle state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}
