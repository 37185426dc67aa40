package migration

import (
	"sync"
	"time"

	"github.com/casebridge/casebridge/internal/provider"
)

// itemTimeWindow is how many recent per-item durations feed the remaining
// time estimate.
const itemTimeWindow = 32

// Tracker owns the MigrationStatus of one run. All mutation goes through its
// methods; workers never touch the aggregate directly. Every method is safe
// for concurrent use and no concurrent update is lost.
type Tracker struct {
	mu     sync.Mutex
	status Status

	recent    [itemTimeWindow]time.Duration
	recentPos int
	recentLen int

	subscribers []chan Status
}

// NewTracker creates a tracker in the pending state.
func NewTracker(runID string) *Tracker {
	return &Tracker{
		status: Status{
			ID:    runID,
			State: StatePending,
			Statistics: Statistics{
				Entities: make(map[provider.ArtifactType]EntityStatistics),
			},
		},
	}
}

// SetTotal registers the expected artifact count for a type. Pending starts
// equal to total so the per-type invariant holds from the first observation.
func (t *Tracker) SetTotal(typ provider.ArtifactType, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	stats := t.status.Statistics.Entities[typ]
	t.status.TotalItems += total - stats.Total
	stats.Pending += total - stats.Total
	stats.Total = total
	t.status.Statistics.Entities[typ] = stats

	t.recomputeLocked()
	t.publishLocked()
}

// MarkStarted stamps the run start time and state.
func (t *Tracker) MarkStarted() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status.State = StateRunning
	t.status.StartTime = time.Now()
	t.publishLocked()
}

// SetState moves the externally visible state, stamping EndTime on terminal
// states. Transition legality is the orchestrator's concern.
func (t *Tracker) SetState(s State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status.State = s
	if s.Terminal() && t.status.EndTime == nil {
		now := time.Now()
		t.status.EndTime = &now
	}
	t.publishLocked()
}

// RecordOutcome folds one artifact outcome into the statistics atomically.
// elapsed is the artifact's processing time and feeds the moving average
// behind EstimatedRemainingTime.
func (t *Tracker) RecordOutcome(typ provider.ArtifactType, outcome Outcome, elapsed time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	stats := t.status.Statistics.Entities[typ]
	switch outcome {
	case OutcomeMigrated:
		stats.Migrated++
		stats.Pending--
	case OutcomeFailed:
		stats.Failed++
		stats.Pending--
		t.status.FailedItems++
	case OutcomeSkipped:
		// Skipped items leave the run's scope entirely.
		stats.Total--
		stats.Pending--
		t.status.TotalItems--
	}
	t.status.Statistics.Entities[typ] = stats

	if outcome != OutcomeSkipped {
		t.status.ProcessedItems++
		t.recent[t.recentPos] = elapsed
		t.recentPos = (t.recentPos + 1) % itemTimeWindow
		if t.recentLen < itemTimeWindow {
			t.recentLen++
		}
	}

	t.recomputeLocked()
	t.publishLocked()
}

// recomputeLocked refreshes progress and the remaining-time estimate.
// Callers hold t.mu.
func (t *Tracker) recomputeLocked() {
	if t.status.TotalItems <= 0 {
		t.status.Progress = 0
	} else {
		p := float64(t.status.ProcessedItems) / float64(t.status.TotalItems)
		if p < 0 {
			p = 0
		}
		if p > 1 {
			p = 1
		}
		t.status.Progress = p
	}

	remaining := t.status.TotalItems - t.status.ProcessedItems
	if remaining <= 0 || t.recentLen == 0 {
		t.status.EstimatedRemainingTime = 0
		return
	}
	var sum time.Duration
	for i := 0; i < t.recentLen; i++ {
		sum += t.recent[i]
	}
	avg := sum / time.Duration(t.recentLen)
	t.status.EstimatedRemainingTime = avg * time.Duration(remaining)
}

// Status returns a snapshot of the current status.
func (t *Tracker) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

// Subscribe returns a channel receiving status snapshots on every update.
// Slow subscribers miss intermediate snapshots instead of blocking workers;
// the latest snapshot is always eventually delivered via Status polling.
func (t *Tracker) Subscribe() <-chan Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	ch := make(chan Status, 16)
	t.subscribers = append(t.subscribers, ch)
	return ch
}

func (t *Tracker) snapshotLocked() Status {
	snap := t.status
	snap.Statistics.Entities = make(map[provider.ArtifactType]EntityStatistics, len(t.status.Statistics.Entities))
	for k, v := range t.status.Statistics.Entities {
		snap.Statistics.Entities[k] = v
	}
	return snap
}

func (t *Tracker) publishLocked() {
	snap := t.snapshotLocked()
	for _, ch := range t.subscribers {
		select {
		case ch <- snap:
		default:
		}
	}
}
