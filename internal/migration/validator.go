package migration

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/casebridge/casebridge/internal/mapping"
	"github.com/casebridge/casebridge/internal/provider"
)

// Validator runs pre-flight checks on migration configs and mapping sets
// before any artifact is touched.
type Validator struct {
	registry   *provider.Registry
	strictMode bool
}

// ValidationResult contains the results of validation
type ValidationResult struct {
	Valid    bool
	Errors   []ValidationIssue
	Warnings []ValidationIssue
}

// ValidationIssue is one validation error or warning
type ValidationIssue struct {
	Path    string
	Message string
	Field   string
}

// NewValidator creates a new pre-flight validator
func NewValidator(registry *provider.Registry, strictMode bool) *Validator {
	return &Validator{
		registry:   registry,
		strictMode: strictMode,
	}
}

// ValidateConfig checks a migration config for problems that Config.Validate
// cannot see: provider support status, scope consistency, file existence.
func (v *Validator) ValidateConfig(cfg Config) *ValidationResult {
	result := &ValidationResult{
		Valid:    true,
		Errors:   []ValidationIssue{},
		Warnings: []ValidationIssue{},
	}

	if cfg.MappingPath == "" {
		result.addError("", "Mapping file path is required", "mappingPath")
	} else if _, err := os.Stat(cfg.MappingPath); os.IsNotExist(err) {
		result.addError("", fmt.Sprintf("Mapping file does not exist: %s", cfg.MappingPath), "mappingPath")
	}

	v.validateConnection(cfg.SourceConnection, "source", result)
	v.validateConnection(cfg.TargetConnection, "target", result)

	if cfg.Scope == ScopeSelected {
		total := 0
		for _, ids := range cfg.SelectedIDs {
			total += len(ids)
		}
		if total == 0 {
			result.addError("", "Selected scope requires at least one artifact ID", "selectedIds")
		}
	}

	if cfg.ErrorHandling == ErrorHandlingPrompt && v.strictMode {
		result.addWarning("", "Prompt error handling aborts after the prompt timeout in non-interactive runs", "errorHandling")
	}

	if cfg.ConcurrentOps > 32 {
		result.addWarning("", fmt.Sprintf("High concurrency (%d) may trip provider rate limits", cfg.ConcurrentOps), "concurrentOperations")
	}

	return result
}

func (v *Validator) validateConnection(connPath, path string, result *ValidationResult) {
	if connPath == "" {
		result.addError(path, "Connection config path is required", "")
		return
	}

	conn, err := provider.LoadConnection(connPath)
	if err != nil {
		result.addError(path, err.Error(), "")
		return
	}

	info, ok := v.registry.Lookup(conn.ProviderID)
	if !ok {
		result.addError(path, fmt.Sprintf("Unknown provider: %s", conn.ProviderID), "provider")
		return
	}

	switch info.Status {
	case provider.StatusUnsupported:
		result.addError(path, fmt.Sprintf("Provider %s is not supported", info.Name), "provider")
	case provider.StatusManual:
		result.addError(path, fmt.Sprintf("Provider %s requires manual export and cannot be migrated directly", info.Name), "provider")
	case provider.StatusPartial:
		result.addWarning(path, fmt.Sprintf("Provider %s has partial support; review results carefully", info.Name), "provider")
	}
}

// ValidateSet resolves every mapping in the set against the live source and
// target schemas. Mapping validation failures become result errors; no
// artifact data is read or written.
func (v *Validator) ValidateSet(ctx context.Context, set *mapping.Set, source, target provider.Provider) *ValidationResult {
	result := &ValidationResult{
		Valid:    true,
		Errors:   []ValidationIssue{},
		Warnings: []ValidationIssue{},
	}

	if len(set.ArtifactTypes) == 0 {
		result.addError("", "Mapping set defines no artifact types", "artifactTypes")
		return result
	}

	for _, typ := range provider.ArtifactTypes {
		cfg, ok := set.ArtifactTypes[string(typ)]
		if !ok {
			continue
		}
		path := string(typ)

		if !source.Capabilities().Supports(typ) {
			result.addError(path, fmt.Sprintf("Source provider %s does not support %s", source.ID(), typ), "")
			continue
		}
		if !target.Capabilities().Supports(typ) {
			result.addError(path, fmt.Sprintf("Target provider %s does not support %s", target.ID(), typ), "")
			continue
		}

		sourceSchema, err := source.Schema(ctx, typ)
		if err != nil {
			result.addError(path, fmt.Sprintf("Failed to fetch source schema: %v", err), "")
			continue
		}
		targetSchema, err := target.Schema(ctx, typ)
		if err != nil {
			result.addError(path, fmt.Sprintf("Failed to fetch target schema: %v", err), "")
			continue
		}

		if _, err := mapping.Resolve(cfg, sourceSchema, targetSchema); err != nil {
			var verr *mapping.ValidationError
			if errors.As(err, &verr) {
				for _, issue := range verr.Issues {
					result.addError(path, issue.Message, issue.Field)
				}
			} else {
				result.addError(path, err.Error(), "")
			}
		}
	}

	return result
}

// ValidateMappingFile loads and structurally checks a mapping set file
// without connecting to any provider.
func (v *Validator) ValidateMappingFile(filePath string) (*ValidationResult, error) {
	if filePath == "" {
		return nil, fmt.Errorf("file path is empty")
	}
	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		return nil, fmt.Errorf("file does not exist: %s", filePath)
	}

	set, err := mapping.LoadSet(filePath)
	if err != nil {
		return nil, err
	}

	result := &ValidationResult{
		Valid:    true,
		Errors:   []ValidationIssue{},
		Warnings: []ValidationIssue{},
	}

	for typName, cfg := range set.ArtifactTypes {
		path := typName
		if !knownArtifactType(typName) {
			result.addError(path, fmt.Sprintf("Unknown artifact type: %s", typName), "")
			continue
		}

		seen := make(map[string]bool)
		for i, fm := range cfg.FieldMappings {
			entry := fmt.Sprintf("%s.fieldMappings[%d]", path, i)
			if fm.SourceID == "" {
				result.addError(entry, "Source field ID is required", "sourceId")
			}
			if fm.TargetID == "" {
				result.addError(entry, "Target field ID is required", "targetId")
			}
			if fm.TargetID != "" && seen[fm.TargetID] {
				result.addError(entry, fmt.Sprintf("Duplicate target field: %s", fm.TargetID), "targetId")
			}
			seen[fm.TargetID] = true
		}

		if v.strictMode && len(cfg.DefaultValues) == 0 && len(cfg.FieldMappings) < 2 {
			result.addWarning(path, "Mapping covers very few fields; target required fields may be missing", "fieldMappings")
		}
	}

	return result, nil
}

func knownArtifactType(name string) bool {
	for _, t := range provider.ArtifactTypes {
		if string(t) == name {
			return true
		}
	}
	return false
}

// Result helper methods

func (r *ValidationResult) addError(path, message, field string) {
	r.Errors = append(r.Errors, ValidationIssue{
		Path:    path,
		Message: message,
		Field:   field,
	})
	r.Valid = false
}

func (r *ValidationResult) addWarning(path, message, field string) {
	r.Warnings = append(r.Warnings, ValidationIssue{
		Path:    path,
		Message: message,
		Field:   field,
	})
}
