package migration

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/casebridge/casebridge/internal/audit"
	"github.com/casebridge/casebridge/internal/provider"
)

// ErrRunCancelled is returned from blocking points when the run was
// cancelled. Workers finish their in-flight artifact and stop.
var ErrRunCancelled = errors.New("migration run cancelled")

// Controller coordinates pause, resume, cancellation and dispatch halting
// between the orchestrator and the workers. Checks happen between artifacts;
// an in-flight provider call is never interrupted by pause or cancel.
type Controller struct {
	mu     sync.Mutex
	resume chan struct{} // closed while not paused
	done   chan struct{} // closed on cancel
	once   sync.Once
	halted atomic.Bool
}

// NewController creates a controller in the running (not paused) state.
func NewController() *Controller {
	resume := make(chan struct{})
	close(resume)
	return &Controller{resume: resume, done: make(chan struct{})}
}

// Pause blocks workers at their next between-artifact check.
func (c *Controller) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.resume:
		c.resume = make(chan struct{})
	default:
		// already paused
	}
}

// Resume releases paused workers.
func (c *Controller) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.resume:
	default:
		close(c.resume)
	}
}

// Cancel stops all work cooperatively. Idempotent.
func (c *Controller) Cancel() {
	c.once.Do(func() { close(c.done) })
}

// Cancelled reports whether Cancel was called.
func (c *Controller) Cancelled() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// HaltDispatch stops new batches from being dispatched. In-flight batches
// drain to completion.
func (c *Controller) HaltDispatch() { c.halted.Store(true) }

// Halted reports whether batch dispatch is stopped.
func (c *Controller) Halted() bool { return c.halted.Load() }

// WaitReady blocks while paused and returns ErrRunCancelled once the run is
// cancelled.
func (c *Controller) WaitReady(ctx context.Context) error {
	for {
		select {
		case <-c.done:
			return ErrRunCancelled
		default:
		}

		c.mu.Lock()
		resume := c.resume
		c.mu.Unlock()

		select {
		case <-resume:
			return nil
		case <-c.done:
			return ErrRunCancelled
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Pool runs batches across at most Concurrency workers. Each batch is
// processed sequentially artifact-by-artifact; different batches run in
// parallel. A stalled artifact delays only its own batch.
type Pool struct {
	Engine      *Engine
	Tracker     *Tracker
	Retry       *RetryPolicy
	Ctrl        *Controller
	Concurrency int
	OpTimeout   time.Duration
	RunID       string
	Sink        audit.Sink

	// OnFailure applies the error-handling policy for one failed artifact.
	OnFailure func(typ provider.ArtifactType, id string, err error)
	// OnBatchDone is invoked after a batch fully drains, for checkpointing.
	OnBatchDone func(batch *Batch)
}

// Run dispatches every batch from the batchers in order, bounded by the
// concurrency limit, and blocks until all dispatched batches drain.
func (p *Pool) Run(ctx context.Context, batchers []*Batcher) error {
	g := new(errgroup.Group)
	g.SetLimit(p.Concurrency)

dispatch:
	for _, batcher := range batchers {
		for {
			if p.Ctrl.Halted() {
				break dispatch
			}
			if err := p.Ctrl.WaitReady(ctx); err != nil {
				break dispatch
			}

			batch, err := batcher.Next(ctx)
			if err != nil {
				log.Error("Failed to enumerate batch", "error", err)
				_ = p.Sink.Append(ctx, audit.NewEntry(p.RunID, audit.LevelError, "batcher",
					"batch enumeration failed", err.Error()))
				break dispatch
			}
			if batch == nil {
				continue dispatch
			}

			b := batch
			g.Go(func() error {
				p.processBatch(ctx, b)
				return nil
			})
		}
	}

	return g.Wait()
}

// processBatch migrates every artifact of one batch in order. Cancellation
// and pause are honored between artifacts only.
func (p *Pool) processBatch(ctx context.Context, batch *Batch) {
	// A batch dispatched before a halt but not yet started does not run.
	// Batches already past this point drain to completion.
	if p.Ctrl.Halted() {
		return
	}

	log.Debug("Processing batch", "type", batch.Type, "index", batch.Index, "size", len(batch.IDs))

	for _, id := range batch.IDs {
		if err := p.Ctrl.WaitReady(ctx); err != nil {
			return
		}

		start := time.Now()
		op := fmt.Sprintf("%s/%s", batch.Type, id)
		err := p.Retry.Execute(ctx, op, func(ctx context.Context) error {
			return p.Engine.MigrateArtifact(ctx, batch.Type, id, p.OpTimeout)
		})
		elapsed := time.Since(start)

		if err != nil {
			if errors.Is(err, ErrRunCancelled) || errors.Is(err, context.Canceled) {
				return
			}
			p.Tracker.RecordOutcome(batch.Type, OutcomeFailed, elapsed)
			_ = p.Sink.Append(ctx, audit.NewEntry(p.RunID, audit.LevelError, "worker",
				fmt.Sprintf("failed to migrate %s", op), err.Error()))
			if p.OnFailure != nil {
				p.OnFailure(batch.Type, id, err)
			}
			continue
		}

		p.Tracker.RecordOutcome(batch.Type, OutcomeMigrated, elapsed)
	}

	if p.OnBatchDone != nil {
		p.OnBatchDone(batch)
	}
}
