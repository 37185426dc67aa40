package migration

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// Snapshot is the externally serializable state of a run: enough to resume
// after a process restart at batch granularity. Artifacts inside a partially
// drained batch are re-processed on resume; writes are keyed by artifact ID
// so re-processing is idempotent on the target.
type Snapshot struct {
	RunID          string         `json:"runId"`
	SavedAt        time.Time      `json:"savedAt"`
	Config         Config         `json:"config"`
	NextBatchIndex map[string]int `json:"nextBatchIndex"` // artifact type → first unfinished batch
	Status         Status         `json:"status"`
}

// Snapshot captures the orchestrator's resumable state.
func (o *Orchestrator) Snapshot() *Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()

	next := make(map[string]int)
	for typ := range o.doneIdx {
		idx := o.resumeAt[typ]
		for o.doneIdx[typ][idx] {
			idx++
		}
		next[string(typ)] = idx
	}
	for typ, idx := range o.resumeAt {
		if _, ok := next[string(typ)]; !ok {
			next[string(typ)] = idx
		}
	}

	return &Snapshot{
		RunID:          o.runID,
		SavedAt:        time.Now().UTC(),
		Config:         o.cfg,
		NextBatchIndex: next,
		Status:         o.tracker.Status(),
	}
}

// SnapshotManager persists snapshots to disk.
type SnapshotManager struct {
	path string
	mu   sync.Mutex
}

// NewSnapshotManager creates a manager writing to path.
func NewSnapshotManager(path string) *SnapshotManager {
	return &SnapshotManager{path: path}
}

// Save writes the snapshot atomically enough for a single writer.
func (m *SnapshotManager) Save(snap *Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	return os.WriteFile(m.path, data, 0o600)
}

// Load reads a snapshot from disk.
func (m *SnapshotManager) Load() (*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := os.ReadFile(m.path)
	if err != nil {
		return nil, err
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to parse snapshot: %w", err)
	}
	if snap.NextBatchIndex == nil {
		snap.NextBatchIndex = make(map[string]int)
	}
	return &snap, nil
}

// Exists reports whether a snapshot file is present.
func (m *SnapshotManager) Exists() bool {
	_, err := os.Stat(m.path)
	return err == nil
}

// Delete removes the snapshot file, ignoring a missing file.
func (m *SnapshotManager) Delete() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := os.Stat(m.path); os.IsNotExist(err) {
		return nil
	}
	return os.Remove(m.path)
}
