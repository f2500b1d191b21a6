package export_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/toolhive-registry-aggregator/internal/export"
	"github.com/stacklok/toolhive-registry-aggregator/internal/fsutil"
	"github.com/stacklok/toolhive-registry-aggregator/internal/registry"
	"github.com/stacklok/toolhive-registry-aggregator/internal/unified"
)

func testSnapshot(records ...*unified.Record) (*unified.Snapshot, *unified.Index) {
	s := &unified.Snapshot{
		GeneratedAt: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		TotalCount:  len(records),
		Sources:     map[string]*unified.SourceStats{"official": {Total: len(records)}},
		Servers:     records,
	}
	return s, unified.NewBuilder().Index(s)
}

func record(id string, tools ...string) *unified.Record {
	caps := registry.NewTestCapabilities(tools...)
	return &unified.Record{
		ID:                  id,
		Name:                id,
		DisplayName:         id,
		Tools:               caps,
		Prompts:             []registry.Capability{},
		Resources:           []registry.Capability{},
		ToolCount:           len(caps),
		ToolNames:           registry.CapabilityNames(caps),
		ContributingSources: []string{"official"},
		PrimarySource:       "official",
		DuplicateCount:      1,
		HasTools:            len(caps) > 0,
		HasCapabilities:     len(caps) > 0,
	}
}

func TestFileExporter_Export(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "unified")
	snapshot, index := testSnapshot(record("io.github.acme/weather", "forecast"), record("@acme/notes"))

	require.NoError(t, export.NewFileExporter(dir).Export(context.Background(), snapshot, index))

	loaded, err := export.LoadSnapshot(dir)
	require.NoError(t, err)
	require.Len(t, loaded.Servers, 2)
	assert.Equal(t, snapshot.GeneratedAt, loaded.GeneratedAt)
	assert.Equal(t, []string{"forecast"}, loaded.Servers[0].ToolNames)
	assert.Equal(t, []string{"forecast"}, registry.CapabilityNames(loaded.Servers[0].Tools))

	assert.FileExists(t, filepath.Join(dir, export.IndexFile))
	assert.FileExists(t, filepath.Join(dir, export.ServersDir, registry.SafeFileName("io.github.acme/weather")+".json"))
	assert.FileExists(t, filepath.Join(dir, export.ServersDir, registry.SafeFileName("@acme/notes")+".json"))

	var withTools struct {
		TotalCount int `json:"total_count"`
		TotalTools int `json:"total_tools"`
		Servers    []struct {
			ID string `json:"id"`
		} `json:"servers"`
	}
	require.NoError(t, fsutil.ReadJSON(filepath.Join(dir, export.WithToolsFile), &withTools))
	assert.Equal(t, 1, withTools.TotalCount)
	assert.Equal(t, 1, withTools.TotalTools)
	require.Len(t, withTools.Servers, 1)
	assert.Equal(t, "io.github.acme/weather", withTools.Servers[0].ID)
}

func TestFileExporter_RemovesStaleRecords(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	exporter := export.NewFileExporter(dir)

	first, firstIndex := testSnapshot(record("alpha"), record("bravo"))
	require.NoError(t, exporter.Export(context.Background(), first, firstIndex))

	second, secondIndex := testSnapshot(record("alpha"))
	require.NoError(t, exporter.Export(context.Background(), second, secondIndex))

	entries, err := os.ReadDir(filepath.Join(dir, export.ServersDir))
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.Equal(t, []string{"alpha.json"}, names)
}

func TestFileExporter_IsIdempotent(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	exporter := export.NewFileExporter(dir)
	snapshot, index := testSnapshot(record("alpha", "a", "b"), record("bravo"))

	require.NoError(t, exporter.Export(context.Background(), snapshot, index))
	before, err := os.ReadFile(filepath.Join(dir, export.SnapshotFile))
	require.NoError(t, err)

	require.NoError(t, exporter.Export(context.Background(), snapshot, index))
	after, err := os.ReadFile(filepath.Join(dir, export.SnapshotFile))
	require.NoError(t, err)

	assert.Equal(t, before, after)
}

func TestLoadSnapshot_Missing(t *testing.T) {
	t.Parallel()

	_, err := export.LoadSnapshot(t.TempDir())

	require.ErrorIs(t, err, export.ErrNoSnapshot)
}
