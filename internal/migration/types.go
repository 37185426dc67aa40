package migration

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/casebridge/casebridge/internal/provider"
)

// Scope selects which artifacts a run covers.
type Scope string

const (
	ScopeAll      Scope = "all"      // every artifact of every supported type
	ScopeSelected Scope = "selected" // an explicit ID list per artifact type
	ScopeTest     Scope = "test"     // bounded sample run
)

// ErrorHandling governs orchestrator behavior on a fatal artifact failure.
type ErrorHandling string

const (
	ErrorHandlingStop     ErrorHandling = "stop"     // stop dispatching, drain, fail the run
	ErrorHandlingContinue ErrorHandling = "continue" // record the failure and keep going
	ErrorHandlingPrompt   ErrorHandling = "prompt"   // ask the decision callback
)

// State is the orchestrator lifecycle state. Completed, failed and cancelled
// are terminal.
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StatePaused    State = "paused"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// Terminal reports whether no further transitions can leave the state.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCancelled:
		return true
	}
	return false
}

// canTransition encodes the legal state machine edges.
func canTransition(from, to State) bool {
	switch from {
	case StatePending:
		return to == StateRunning || to == StateCancelled
	case StateRunning:
		return to == StatePaused || to == StateCompleted || to == StateFailed || to == StateCancelled
	case StatePaused:
		return to == StateRunning || to == StateCancelled
	}
	return false
}

// Config is the immutable configuration of one migration run. A new run
// requires a new Config instance.
type Config struct {
	MappingPath      string              `yaml:"mapping"`
	SourceConnection string              `yaml:"sourceConnection"`
	TargetConnection string              `yaml:"targetConnection"`
	Scope            Scope               `yaml:"scope"`
	SelectedIDs      map[string][]string `yaml:"selectedIds,omitempty"` // artifact type → IDs, for selected scope
	TestSampleSize   int                 `yaml:"testSampleSize,omitempty"`
	BatchSize        int                 `yaml:"batchSize"`
	ConcurrentOps    int                 `yaml:"concurrentOperations"`
	RetryAttempts    int                 `yaml:"retryAttempts"`
	ErrorHandling    ErrorHandling       `yaml:"errorHandling"`
	OperationTimeout time.Duration       `yaml:"operationTimeout,omitempty"`
	SourceRateLimit  int                 `yaml:"sourceRateLimit,omitempty"` // requests/sec, 0 = unlimited
	TargetRateLimit  int                 `yaml:"targetRateLimit,omitempty"`
	PromptTimeout    time.Duration       `yaml:"promptTimeout,omitempty"`
}

// defaults applied by Validate for zero-valued optional knobs.
const (
	defaultTestSampleSize   = 10
	defaultOperationTimeout = 30 * time.Second
	defaultPromptTimeout    = 60 * time.Second
)

// EntityStatistics aggregates per-artifact-type counters for a run.
// Invariant per type: Total == Migrated + Failed + Pending.
type EntityStatistics struct {
	Total    int `json:"total" yaml:"total"`
	Migrated int `json:"migrated" yaml:"migrated"`
	Failed   int `json:"failed" yaml:"failed"`
	Pending  int `json:"pending" yaml:"pending"`
}

// Statistics holds the per-type entity statistics of a run.
type Statistics struct {
	Entities map[provider.ArtifactType]EntityStatistics `json:"entities" yaml:"entities"`
}

// Status is the externally observable state of one run. It is owned by the
// progress tracker; every other component reads snapshots only.
type Status struct {
	ID                     string        `json:"id" yaml:"id"`
	State                  State         `json:"state" yaml:"state"`
	Progress               float64       `json:"progress" yaml:"progress"` // 0..1
	StartTime              time.Time     `json:"startTime" yaml:"startTime"`
	EndTime                *time.Time    `json:"endTime,omitempty" yaml:"endTime,omitempty"`
	TotalItems             int           `json:"totalItems" yaml:"totalItems"`
	ProcessedItems         int           `json:"processedItems" yaml:"processedItems"`
	FailedItems            int           `json:"failedItems" yaml:"failedItems"`
	EstimatedRemainingTime time.Duration `json:"estimatedRemainingTime,omitempty" yaml:"estimatedRemainingTime,omitempty"`
	Statistics             Statistics    `json:"statistics" yaml:"statistics"`
}

// Outcome is the result of processing one artifact.
type Outcome string

const (
	OutcomeMigrated Outcome = "migrated"
	OutcomeFailed   Outcome = "failed"
	OutcomeSkipped  Outcome = "skipped"
)

// DecisionFunc is the injected callback for the prompt error-handling
// strategy. It is invoked synchronously with a bounded timeout; on timeout
// the orchestrator treats the decision as abort.
type DecisionFunc func(err error) Decision

// Decision is the prompt callback's answer.
type Decision string

const (
	DecisionContinue Decision = "continue"
	DecisionAbort    Decision = "abort"
)

// Validate checks config invariants and fills defaults. It returns the
// validated copy so the original stays untouched.
func (c Config) Validate() (Config, error) {
	if c.BatchSize < 1 {
		return c, fmt.Errorf("batchSize must be >= 1, got %d", c.BatchSize)
	}
	if c.ConcurrentOps < 1 {
		return c, fmt.Errorf("concurrentOperations must be >= 1, got %d", c.ConcurrentOps)
	}
	if c.RetryAttempts < 0 {
		return c, fmt.Errorf("retryAttempts must be >= 0, got %d", c.RetryAttempts)
	}

	switch c.Scope {
	case ScopeAll, ScopeSelected, ScopeTest:
	case "":
		c.Scope = ScopeAll
	default:
		return c, fmt.Errorf("unknown scope %q", c.Scope)
	}

	switch c.ErrorHandling {
	case ErrorHandlingStop, ErrorHandlingContinue, ErrorHandlingPrompt:
	case "":
		c.ErrorHandling = ErrorHandlingStop
	default:
		return c, fmt.Errorf("unknown errorHandling %q", c.ErrorHandling)
	}

	if c.Scope == ScopeSelected && len(c.SelectedIDs) == 0 {
		return c, fmt.Errorf("selected scope requires selectedIds")
	}
	if c.TestSampleSize <= 0 {
		c.TestSampleSize = defaultTestSampleSize
	}
	if c.OperationTimeout <= 0 {
		c.OperationTimeout = defaultOperationTimeout
	}
	if c.PromptTimeout <= 0 {
		c.PromptTimeout = defaultPromptTimeout
	}

	return c, nil
}

// LoadConfig reads a migration run config from a YAML file and validates it.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read migration config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse migration config: %w", err)
	}
	return cfg.Validate()
}
