package migration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/casebridge/casebridge/internal/mapping"
	"github.com/casebridge/casebridge/internal/provider"
)

// Engine binds a source and target provider to resolved transform plans and
// migrates one artifact at a time. Concurrency lives in the worker pool; the
// engine itself is stateless per call and safe for concurrent use.
type Engine struct {
	source provider.Provider
	target provider.Provider
	plans  map[provider.ArtifactType]*mapping.Plan
	types  []provider.ArtifactType

	limiters *Limiters
}

// NewEngine validates the mapping set against both providers' schemas and
// compiles transform plans. Validation failures surface here, before any
// artifact is listed, fetched or written.
func NewEngine(ctx context.Context, source, target provider.Provider, set *mapping.Set, cfg Config) (*Engine, error) {
	e := &Engine{
		source:   source,
		target:   target,
		plans:    make(map[provider.ArtifactType]*mapping.Plan),
		limiters: NewLimiters(cfg.SourceRateLimit, cfg.TargetRateLimit),
	}

	for _, typ := range provider.ArtifactTypes {
		mcfg, ok := set.ArtifactTypes[string(typ)]
		if !ok {
			continue
		}
		if !source.Capabilities().Supports(typ) {
			return nil, fmt.Errorf("source provider %s does not support %s", source.Name(), typ)
		}
		if !target.Capabilities().Supports(typ) {
			return nil, fmt.Errorf("target provider %s does not support %s", target.Name(), typ)
		}

		sourceSchema, err := source.Schema(ctx, typ)
		if err != nil {
			return nil, fmt.Errorf("failed to read source schema for %s: %w", typ, err)
		}
		targetSchema, err := target.Schema(ctx, typ)
		if err != nil {
			return nil, fmt.Errorf("failed to read target schema for %s: %w", typ, err)
		}

		plan, err := mapping.Resolve(mcfg, sourceSchema, targetSchema)
		if err != nil {
			return nil, err
		}

		e.plans[typ] = plan
		e.types = append(e.types, typ)
		log.Debug("Resolved transform plan", "type", typ, "steps", len(plan.Steps))
	}

	if len(e.types) == 0 {
		return nil, fmt.Errorf("mapping set covers no artifact type supported by both providers")
	}

	return e, nil
}

// Types returns the artifact types the engine migrates, in migration order.
func (e *Engine) Types() []provider.ArtifactType {
	return e.types
}

// Source returns the bound source provider.
func (e *Engine) Source() provider.Provider { return e.source }

// Target returns the bound target provider.
func (e *Engine) Target() provider.Provider { return e.target }

// MigrateArtifact moves one artifact: fetch from source, transform through
// the compiled plan, write to target. A FieldError on any field fails the
// whole artifact; provider failures keep their transient/fatal class.
func (e *Engine) MigrateArtifact(ctx context.Context, typ provider.ArtifactType, id string, opTimeout time.Duration) error {
	if err := e.limiters.WaitSource(ctx); err != nil {
		return err
	}

	fetchCtx, cancel := context.WithTimeout(ctx, opTimeout)
	artifact, err := e.source.Fetch(fetchCtx, typ, id)
	cancel()
	if err != nil {
		return classifyProviderErr("fetch", id, err)
	}

	plan := e.plans[typ]
	fields, fieldErrs := plan.Apply(artifact.ID, artifact.Fields)
	if len(fieldErrs) > 0 {
		// Deterministic transform failure: fail the artifact, never retry.
		return fieldErrs[0]
	}

	if err := e.limiters.WaitTarget(ctx); err != nil {
		return err
	}

	out := &provider.Artifact{ID: artifact.ID, Type: typ, Fields: fields}
	writeCtx, cancel := context.WithTimeout(ctx, opTimeout)
	_, err = e.target.Write(writeCtx, out)
	cancel()
	if err != nil {
		return classifyProviderErr("write", id, err)
	}

	return nil
}

// classifyProviderErr preserves an existing transient/fatal class and defaults
// unclassified provider errors to fatal (auth failures and missing artifacts
// are not retryable; providers signal retryable conditions explicitly).
func classifyProviderErr(op, artifactID string, err error) error {
	if err == nil {
		return nil
	}
	if isRetryable(err) {
		return err
	}
	var fatal *FatalError
	if errors.As(err, &fatal) {
		return err
	}
	return Fatal(op, artifactID, err)
}
