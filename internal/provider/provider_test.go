package provider

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSliceCursor(t *testing.T) {
	cursor := NewSliceCursor([]string{"a", "b", "c"})
	ctx := context.Background()

	var got []string
	for {
		id, ok, err := cursor.Next(ctx)
		require.NoError(t, err)
		if !ok {
			break
		}
		got = append(got, id)
	}
	assert.Equal(t, []string{"a", "b", "c"}, got)

	// Exhausted cursors stay exhausted.
	_, ok, err := cursor.Next(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSliceCursorHonorsContext(t *testing.T) {
	cursor := NewSliceCursor([]string{"a"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := cursor.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCapabilitiesSupports(t *testing.T) {
	caps := Capabilities{TestCases: true, Attachments: true}

	assert.True(t, caps.Supports(ArtifactTestCase))
	assert.True(t, caps.Supports(ArtifactAttachment))
	assert.False(t, caps.Supports(ArtifactTestCycle))
	assert.False(t, caps.Supports(ArtifactTestExecution))
}

func TestMemoryProviderRoundTrip(t *testing.T) {
	p := NewMemoryProvider("mem")
	ctx := context.Background()

	p.Seed(&Artifact{
		ID:     "tc-1",
		Type:   ArtifactTestCase,
		Fields: map[string]interface{}{"title": "Login"},
	})

	a, err := p.Fetch(ctx, ArtifactTestCase, "tc-1")
	require.NoError(t, err)
	assert.Equal(t, "Login", a.Fields["title"])

	// Fetch returns a copy; mutating it does not touch the store.
	a.Fields["title"] = "Mutated"
	again, err := p.Fetch(ctx, ArtifactTestCase, "tc-1")
	require.NoError(t, err)
	assert.Equal(t, "Login", again.Fields["title"])
}

func TestMemoryProviderListPreservesInsertionOrder(t *testing.T) {
	p := NewMemoryProvider("mem")
	ctx := context.Background()

	for _, id := range []string{"z", "a", "m"} {
		p.Seed(&Artifact{ID: id, Type: ArtifactTestCase, Fields: map[string]interface{}{}})
	}

	cursor, err := p.ListIDs(ctx, ArtifactTestCase)
	require.NoError(t, err)

	var got []string
	for {
		id, ok, err := cursor.Next(ctx)
		require.NoError(t, err)
		if !ok {
			break
		}
		got = append(got, id)
	}
	assert.Equal(t, []string{"z", "a", "m"}, got)

	count, err := p.Count(ctx, ArtifactTestCase)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestMemoryProviderHooks(t *testing.T) {
	p := NewMemoryProvider("mem")
	ctx := context.Background()
	p.Seed(&Artifact{ID: "tc-1", Type: ArtifactTestCase, Fields: map[string]interface{}{}})

	p.FetchHook = func(typ ArtifactType, id string) error {
		return fmt.Errorf("injected fetch failure")
	}
	_, err := p.Fetch(ctx, ArtifactTestCase, "tc-1")
	assert.Error(t, err)
	assert.Equal(t, int64(1), p.FetchCalls())

	p.WriteHook = func(a *Artifact) error {
		return fmt.Errorf("injected write failure")
	}
	_, err = p.Write(ctx, &Artifact{ID: "tc-2", Type: ArtifactTestCase})
	assert.Error(t, err)
	assert.Equal(t, int64(1), p.WriteCalls())
}

func TestRegistryLookup(t *testing.T) {
	r := NewRegistry()

	info, ok := r.Lookup("testrail")
	require.True(t, ok)
	assert.Equal(t, StatusSupported, info.Status)

	// Naming variations normalize.
	info, ok = r.Lookup("Azure_DevOps")
	require.True(t, ok)
	assert.Equal(t, "azure-devops", info.ID)

	_, ok = r.Lookup("no-such-platform")
	assert.False(t, ok)
}

func TestRegistryByStatus(t *testing.T) {
	r := NewRegistry()

	for _, info := range r.ByStatus(StatusPartial) {
		assert.Equal(t, StatusPartial, info.Status)
	}
	assert.NotEmpty(t, r.ByStatus(StatusSupported))
	assert.NotEmpty(t, r.ByStatus(StatusPartial))
}

func TestRegistryAllSorted(t *testing.T) {
	r := NewRegistry()
	all := r.All()
	require.NotEmpty(t, all)
	for i := 1; i < len(all); i++ {
		assert.Less(t, all[i-1].ID, all[i].ID)
	}
}

func TestLoadConnection(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conn.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
id: staging
providerId: memory
params:
  seed: "42"
`), 0o600))

	cfg, err := LoadConnection(path)
	require.NoError(t, err)
	assert.Equal(t, "staging", cfg.ID)
	assert.Equal(t, "memory", cfg.ProviderID)
	assert.Equal(t, "42", cfg.Params["seed"])
}

func TestLoadConnectionRequiresProvider(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conn.yaml")
	require.NoError(t, os.WriteFile(path, []byte("id: staging\n"), 0o600))

	_, err := LoadConnection(path)
	assert.Error(t, err)
}

func TestConnectUsesRegisteredFactory(t *testing.T) {
	ctx := context.Background()

	p, err := Connect(ctx, ConnectionConfig{ID: "test", ProviderID: "memory"})
	require.NoError(t, err)
	assert.Equal(t, "test", p.ID())

	_, err = Connect(ctx, ConnectionConfig{ID: "test", ProviderID: "unregistered"})
	assert.Error(t, err)
}
