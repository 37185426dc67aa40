package mapping

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// FieldMapping maps one source field to one target field. Transformation is
// empty for a direct copy, or a rule spec such as "map-value:Open→New" or
// "concat:{priority}-{title}".
type FieldMapping struct {
	SourceID       string `yaml:"sourceId"`
	TargetID       string `yaml:"targetId"`
	Transformation string `yaml:"transformation,omitempty"`
}

// Config is a user-defined field mapping between two providers. The engine
// treats it as read-only input; it is owned by the user's config store.
type Config struct {
	Name             string                 `yaml:"name,omitempty"`
	SourceProviderID string                 `yaml:"sourceProviderId"`
	TargetProviderID string                 `yaml:"targetProviderId"`
	FieldMappings    []FieldMapping         `yaml:"fieldMappings"`
	DefaultValues    map[string]interface{} `yaml:"defaultValues,omitempty"`
}

// Set groups one mapping config per artifact type for a provider pair.
// Artifact types absent from the set are not migrated.
type Set struct {
	Name             string             `yaml:"name,omitempty"`
	SourceProviderID string             `yaml:"sourceProviderId"`
	TargetProviderID string             `yaml:"targetProviderId"`
	ArtifactTypes    map[string]*Config `yaml:"artifactTypes"`
}

// LoadSet reads a mapping set from a YAML file.
func LoadSet(path string) (*Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read mapping set: %w", err)
	}

	var set Set
	if err := yaml.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("failed to parse mapping set: %w", err)
	}

	if len(set.ArtifactTypes) == 0 {
		return nil, fmt.Errorf("mapping set defines no artifact types")
	}
	for typ, cfg := range set.ArtifactTypes {
		if cfg == nil || len(cfg.FieldMappings) == 0 {
			return nil, fmt.Errorf("mapping for %s has no field mappings", typ)
		}
		if cfg.SourceProviderID == "" {
			cfg.SourceProviderID = set.SourceProviderID
		}
		if cfg.TargetProviderID == "" {
			cfg.TargetProviderID = set.TargetProviderID
		}
	}

	return &set, nil
}
