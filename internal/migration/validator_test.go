package migration

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/casebridge/casebridge/internal/mapping"
	"github.com/casebridge/casebridge/internal/provider"
)

func writeTestFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

const testMappingYAML = `
name: testrail-to-qtest
sourceProviderId: testrail
targetProviderId: qtest
artifactTypes:
  test_case:
    fieldMappings:
      - sourceId: title
        targetId: name
      - sourceId: status
        targetId: state
        transformation: "map-value:Open→New,Closed→Done"
    defaultValues:
      folder: /imported
`

func TestValidateConfigPassesForValidSetup(t *testing.T) {
	mappingPath := writeTestFile(t, "mappings.yaml", testMappingYAML)
	sourcePath := writeTestFile(t, "source.yaml", "id: src\nproviderId: memory\n")
	targetPath := writeTestFile(t, "target.yaml", "id: dst\nproviderId: memory\n")

	cfg := Config{
		MappingPath:      mappingPath,
		SourceConnection: sourcePath,
		TargetConnection: targetPath,
		BatchSize:        10,
		ConcurrentOps:    2,
	}

	v := NewValidator(provider.NewRegistry(), false)
	result := v.ValidateConfig(cfg)
	assert.True(t, result.Valid, "errors: %v", result.Errors)
}

func TestValidateConfigMissingMappingFile(t *testing.T) {
	sourcePath := writeTestFile(t, "source.yaml", "id: src\nproviderId: memory\n")

	cfg := Config{
		MappingPath:      "/nonexistent/mappings.yaml",
		SourceConnection: sourcePath,
		TargetConnection: sourcePath,
		BatchSize:        10,
		ConcurrentOps:    2,
	}

	v := NewValidator(provider.NewRegistry(), false)
	result := v.ValidateConfig(cfg)
	assert.False(t, result.Valid)
}

func TestValidateConfigUnknownProvider(t *testing.T) {
	mappingPath := writeTestFile(t, "mappings.yaml", testMappingYAML)
	badConn := writeTestFile(t, "source.yaml", "id: src\nproviderId: no-such-platform\n")

	cfg := Config{
		MappingPath:      mappingPath,
		SourceConnection: badConn,
		TargetConnection: badConn,
		BatchSize:        10,
		ConcurrentOps:    2,
	}

	v := NewValidator(provider.NewRegistry(), false)
	result := v.ValidateConfig(cfg)
	assert.False(t, result.Valid)
}

func TestValidateConfigManualProviderRejected(t *testing.T) {
	mappingPath := writeTestFile(t, "mappings.yaml", testMappingYAML)
	excelConn := writeTestFile(t, "source.yaml", "id: src\nproviderId: excel\n")
	targetConn := writeTestFile(t, "target.yaml", "id: dst\nproviderId: memory\n")

	cfg := Config{
		MappingPath:      mappingPath,
		SourceConnection: excelConn,
		TargetConnection: targetConn,
		BatchSize:        10,
		ConcurrentOps:    2,
	}

	v := NewValidator(provider.NewRegistry(), false)
	result := v.ValidateConfig(cfg)
	assert.False(t, result.Valid)
}

func TestValidateConfigPartialProviderWarns(t *testing.T) {
	mappingPath := writeTestFile(t, "mappings.yaml", testMappingYAML)
	rallyConn := writeTestFile(t, "source.yaml", "id: src\nproviderId: rally\n")
	targetConn := writeTestFile(t, "target.yaml", "id: dst\nproviderId: memory\n")

	cfg := Config{
		MappingPath:      mappingPath,
		SourceConnection: rallyConn,
		TargetConnection: targetConn,
		BatchSize:        10,
		ConcurrentOps:    2,
	}

	v := NewValidator(provider.NewRegistry(), false)
	result := v.ValidateConfig(cfg)
	assert.True(t, result.Valid)
	assert.NotEmpty(t, result.Warnings)
}

func TestValidateMappingFile(t *testing.T) {
	path := writeTestFile(t, "mappings.yaml", testMappingYAML)

	v := NewValidator(provider.NewRegistry(), false)
	result, err := v.ValidateMappingFile(path)
	require.NoError(t, err)
	assert.True(t, result.Valid)
}

func TestValidateMappingFileUnknownArtifactType(t *testing.T) {
	path := writeTestFile(t, "mappings.yaml", `
sourceProviderId: testrail
targetProviderId: qtest
artifactTypes:
  test_suite:
    fieldMappings:
      - sourceId: a
        targetId: b
`)

	v := NewValidator(provider.NewRegistry(), false)
	result, err := v.ValidateMappingFile(path)
	require.NoError(t, err)
	assert.False(t, result.Valid)
}

func TestValidateMappingFileDuplicateTarget(t *testing.T) {
	path := writeTestFile(t, "mappings.yaml", `
sourceProviderId: testrail
targetProviderId: qtest
artifactTypes:
  test_case:
    fieldMappings:
      - sourceId: title
        targetId: name
      - sourceId: status
        targetId: name
`)

	v := NewValidator(provider.NewRegistry(), false)
	result, err := v.ValidateMappingFile(path)
	require.NoError(t, err)
	assert.False(t, result.Valid)
}

func TestValidateSetAgainstLiveSchemas(t *testing.T) {
	source, target := newTestPair(0)
	v := NewValidator(provider.NewRegistry(), false)

	result := v.ValidateSet(context.Background(), testMappingSet(), source, target)
	assert.True(t, result.Valid, "errors: %v", result.Errors)
}

func TestValidateSetReportsMappingIssues(t *testing.T) {
	source, target := newTestPair(0)
	set := testMappingSet()
	set.ArtifactTypes["test_case"].FieldMappings = append(
		set.ArtifactTypes["test_case"].FieldMappings,
		mapping.FieldMapping{SourceID: "vanished", TargetID: "nowhere"},
	)

	v := NewValidator(provider.NewRegistry(), false)
	result := v.ValidateSet(context.Background(), set, source, target)
	assert.False(t, result.Valid)
	assert.NotEmpty(t, result.Errors)
}
