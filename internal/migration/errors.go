package migration

import (
	"context"
	"errors"
	"fmt"

	"github.com/casebridge/casebridge/internal/mapping"
)

// TransientError marks a retryable provider failure: network timeout,
// rate-limit signal, or a 5xx-class response.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient failure in %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps an error as retryable.
func Transient(op string, err error) error {
	return &TransientError{Op: op, Err: err}
}

// FatalError marks a non-retryable failure: auth failure, artifact not found,
// or exhausted retries. It escalates to the orchestrator's error-handling
// decision.
type FatalError struct {
	Op         string
	ArtifactID string
	Err        error
}

func (e *FatalError) Error() string {
	if e.ArtifactID != "" {
		return fmt.Sprintf("fatal failure in %s for artifact %s: %v", e.Op, e.ArtifactID, e.Err)
	}
	return fmt.Sprintf("fatal failure in %s: %v", e.Op, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// Fatal wraps an error as non-retryable.
func Fatal(op, artifactID string, err error) error {
	return &FatalError{Op: op, ArtifactID: artifactID, Err: err}
}

// isRetryable classifies an error for the retry policy. Field and validation
// errors are deterministic and never retried; explicit fatals are never
// retried; exceeded operation timeouts count as transient per the
// concurrency model.
func isRetryable(err error) bool {
	var ferr *mapping.FieldError
	if errors.As(err, &ferr) {
		return false
	}
	var verr *mapping.ValidationError
	if errors.As(err, &verr) {
		return false
	}
	var fatal *FatalError
	if errors.As(err, &fatal) {
		return false
	}
	var transient *TransientError
	if errors.As(err, &transient) {
		return true
	}
	// A deadline exceeded on the per-operation context is a timeout.
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return false
}
