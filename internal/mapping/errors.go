package mapping

import (
	"fmt"
	"strings"
)

// ValidationReason identifies a distinct mapping validation failure.
type ValidationReason string

const (
	ReasonUnknownSourceField    ValidationReason = "unknown-source-field"
	ReasonUnknownTargetField    ValidationReason = "unknown-target-field"
	ReasonMissingRequired       ValidationReason = "missing-required-target"
	ReasonDuplicateTarget       ValidationReason = "duplicate-target"
	ReasonUnknownTransformation ValidationReason = "unknown-transformation"
	ReasonValueNotAllowed       ValidationReason = "value-not-allowed"
	ReasonBadTransformSpec      ValidationReason = "bad-transform-spec"
)

// ValidationIssue is one mapping validation failure, addressed by field ID.
type ValidationIssue struct {
	Reason  ValidationReason
	Field   string
	Message string
}

// ValidationError aggregates every issue found while resolving a mapping
// config. It is detected before any run starts and never retried.
type ValidationError struct {
	Issues []ValidationIssue
}

func (e *ValidationError) Error() string {
	if len(e.Issues) == 0 {
		return "mapping validation failed"
	}
	msgs := make([]string, len(e.Issues))
	for i, issue := range e.Issues {
		msgs[i] = fmt.Sprintf("%s (%s): %s", issue.Field, issue.Reason, issue.Message)
	}
	return "mapping validation failed: " + strings.Join(msgs, "; ")
}

func (e *ValidationError) add(reason ValidationReason, field, format string, args ...interface{}) {
	e.Issues = append(e.Issues, ValidationIssue{
		Reason:  reason,
		Field:   field,
		Message: fmt.Sprintf(format, args...),
	})
}

// Has reports whether the error contains an issue with the given reason.
func (e *ValidationError) Has(reason ValidationReason) bool {
	for _, issue := range e.Issues {
		if issue.Reason == reason {
			return true
		}
	}
	return false
}

// FieldError is a single field transform failure at apply time. It is
// artifact-level: it fails the artifact, never the batch, and is never
// retried because transforms are deterministic.
type FieldError struct {
	ArtifactID string
	SourceID   string
	TargetID   string
	Value      interface{}
	Message    string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("field transform %s->%s failed for artifact %s (value %v): %s",
		e.SourceID, e.TargetID, e.ArtifactID, e.Value, e.Message)
}
