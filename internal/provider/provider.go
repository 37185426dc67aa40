package provider

import (
	"context"
	"fmt"
)

// ArtifactType identifies a kind of test-management artifact.
type ArtifactType string

const (
	ArtifactTestCase      ArtifactType = "test_case"
	ArtifactTestCycle     ArtifactType = "test_cycle"
	ArtifactTestExecution ArtifactType = "test_execution"
	ArtifactAttachment    ArtifactType = "attachment"
)

// ArtifactTypes lists all artifact types in migration order.
// Cases are migrated before the cycles and executions that reference them.
var ArtifactTypes = []ArtifactType{
	ArtifactTestCase,
	ArtifactTestCycle,
	ArtifactTestExecution,
	ArtifactAttachment,
}

// Artifact is one test-management item in transit between providers.
// Fields holds the raw field values keyed by field ID.
type Artifact struct {
	ID     string
	Type   ArtifactType
	Fields map[string]interface{}
}

// Capabilities describes which artifact types a provider supports.
type Capabilities struct {
	TestCases      bool `yaml:"testCases"`
	TestCycles     bool `yaml:"testCycles"`
	TestExecutions bool `yaml:"testExecutions"`
	Attachments    bool `yaml:"attachments"`
	CustomFields   bool `yaml:"customFields"`
}

// Supports reports whether the capability set covers an artifact type.
func (c Capabilities) Supports(t ArtifactType) bool {
	switch t {
	case ArtifactTestCase:
		return c.TestCases
	case ArtifactTestCycle:
		return c.TestCycles
	case ArtifactTestExecution:
		return c.TestExecutions
	case ArtifactAttachment:
		return c.Attachments
	}
	return false
}

// Field describes one schema field of a provider artifact type. The engine
// uses fields only for mapping validation and never mutates them.
type Field struct {
	ID            string   `yaml:"id"`
	Name          string   `yaml:"name"`
	Type          string   `yaml:"type"`
	Required      bool     `yaml:"required"`
	AllowedValues []string `yaml:"allowedValues,omitempty"`
}

// IDCursor enumerates artifact IDs lazily, in source order. Next returns
// ok=false once the cursor is exhausted. Cursors are forward-only and finite.
type IDCursor interface {
	Next(ctx context.Context) (id string, ok bool, err error)
}

// Provider is the uniform handle the migration engine drives. Real clients
// (TestRail, qTest, Azure DevOps, ...) live outside the engine; it depends
// only on this interface.
type Provider interface {
	ID() string
	Name() string
	Version() string
	Capabilities() Capabilities

	// Schema returns the field schema for an artifact type.
	Schema(ctx context.Context, t ArtifactType) ([]Field, error)

	// ListIDs starts a lazy enumeration of artifact IDs of the given type.
	ListIDs(ctx context.Context, t ArtifactType) (IDCursor, error)

	// Count returns the number of artifacts of the given type, where the
	// provider can compute it without enumerating. Providers that cannot
	// return ErrCountUnavailable.
	Count(ctx context.Context, t ArtifactType) (int, error)

	Fetch(ctx context.Context, t ArtifactType, id string) (*Artifact, error)
	Write(ctx context.Context, artifact *Artifact) (string, error)
}

// ErrCountUnavailable is returned by Count when a provider cannot report a
// total without enumerating every ID.
var ErrCountUnavailable = fmt.Errorf("artifact count unavailable")

// SliceCursor adapts a fixed slice of IDs to the IDCursor interface.
type SliceCursor struct {
	ids []string
	pos int
}

// NewSliceCursor creates a cursor over a fixed ID slice.
func NewSliceCursor(ids []string) *SliceCursor {
	return &SliceCursor{ids: ids}
}

// Next returns the next ID in the slice.
func (c *SliceCursor) Next(ctx context.Context) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	if c.pos >= len(c.ids) {
		return "", false, nil
	}
	id := c.ids[c.pos]
	c.pos++
	return id, true, nil
}
