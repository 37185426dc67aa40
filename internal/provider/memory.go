package provider

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
)

// MemoryProvider is a fully functional in-process provider used by tests and
// dry runs. Artifacts live in maps keyed by type and ID. Fetch and Write can
// be overridden per instance to inject failures.
type MemoryProvider struct {
	id      string
	name    string
	version string
	caps    Capabilities

	mu        sync.RWMutex
	schemas   map[ArtifactType][]Field
	artifacts map[ArtifactType]map[string]*Artifact
	order     map[ArtifactType][]string

	// FetchHook and WriteHook, when set, run before the default behavior and
	// may return an error to simulate provider failures.
	FetchHook func(t ArtifactType, id string) error
	WriteHook func(a *Artifact) error

	fetchCalls atomic.Int64
	writeCalls atomic.Int64
	listCalls  atomic.Int64
}

// NewMemoryProvider creates an empty in-memory provider supporting all
// artifact types.
func NewMemoryProvider(id string) *MemoryProvider {
	return &MemoryProvider{
		id:      id,
		name:    "In-memory",
		version: "1.0",
		caps: Capabilities{
			TestCases:      true,
			TestCycles:     true,
			TestExecutions: true,
			Attachments:    true,
			CustomFields:   true,
		},
		schemas:   make(map[ArtifactType][]Field),
		artifacts: make(map[ArtifactType]map[string]*Artifact),
		order:     make(map[ArtifactType][]string),
	}
}

func (p *MemoryProvider) ID() string                 { return p.id }
func (p *MemoryProvider) Name() string               { return p.name }
func (p *MemoryProvider) Version() string            { return p.version }
func (p *MemoryProvider) Capabilities() Capabilities { return p.caps }

// SetSchema sets the field schema for an artifact type.
func (p *MemoryProvider) SetSchema(t ArtifactType, fields []Field) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.schemas[t] = fields
}

// Seed adds an artifact, preserving insertion order for enumeration.
func (p *MemoryProvider) Seed(a *Artifact) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.artifacts[a.Type] == nil {
		p.artifacts[a.Type] = make(map[string]*Artifact)
	}
	if _, exists := p.artifacts[a.Type][a.ID]; !exists {
		p.order[a.Type] = append(p.order[a.Type], a.ID)
	}
	p.artifacts[a.Type][a.ID] = a
}

// Schema returns the configured field schema for an artifact type.
func (p *MemoryProvider) Schema(ctx context.Context, t ArtifactType) ([]Field, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	fields, ok := p.schemas[t]
	if !ok {
		return nil, fmt.Errorf("no schema configured for %s", t)
	}
	out := make([]Field, len(fields))
	copy(out, fields)
	return out, nil
}

// ListIDs enumerates seeded artifact IDs in insertion order.
func (p *MemoryProvider) ListIDs(ctx context.Context, t ArtifactType) (IDCursor, error) {
	p.listCalls.Add(1)
	p.mu.RLock()
	defer p.mu.RUnlock()
	ids := make([]string, len(p.order[t]))
	copy(ids, p.order[t])
	return NewSliceCursor(ids), nil
}

// Count returns the number of seeded artifacts of the given type.
func (p *MemoryProvider) Count(ctx context.Context, t ArtifactType) (int, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.order[t]), nil
}

// Fetch returns a copy of the artifact so callers cannot mutate the store.
func (p *MemoryProvider) Fetch(ctx context.Context, t ArtifactType, id string) (*Artifact, error) {
	p.fetchCalls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p.FetchHook != nil {
		if err := p.FetchHook(t, id); err != nil {
			return nil, err
		}
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	a, ok := p.artifacts[t][id]
	if !ok {
		return nil, fmt.Errorf("artifact not found: %s/%s", t, id)
	}

	fields := make(map[string]interface{}, len(a.Fields))
	for k, v := range a.Fields {
		fields[k] = v
	}
	return &Artifact{ID: a.ID, Type: a.Type, Fields: fields}, nil
}

// Write stores the artifact and returns its ID in this provider.
func (p *MemoryProvider) Write(ctx context.Context, a *Artifact) (string, error) {
	p.writeCalls.Add(1)
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if p.WriteHook != nil {
		if err := p.WriteHook(a); err != nil {
			return "", err
		}
	}

	p.Seed(a)
	return a.ID, nil
}

// FetchCalls returns how many times Fetch was invoked.
func (p *MemoryProvider) FetchCalls() int64 { return p.fetchCalls.Load() }

// WriteCalls returns how many times Write was invoked.
func (p *MemoryProvider) WriteCalls() int64 { return p.writeCalls.Load() }

// ListCalls returns how many times ListIDs was invoked.
func (p *MemoryProvider) ListCalls() int64 { return p.listCalls.Load() }

// Written returns the stored artifacts of a type sorted by ID, for test
// assertions.
func (p *MemoryProvider) Written(t ArtifactType) []*Artifact {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*Artifact, 0, len(p.artifacts[t]))
	for _, a := range p.artifacts[t] {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func init() {
	RegisterFactory("memory", func(ctx context.Context, cfg ConnectionConfig) (Provider, error) {
		return NewMemoryProvider(cfg.ID), nil
	})
}
