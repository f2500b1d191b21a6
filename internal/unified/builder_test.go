package unified

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/toolhive-registry-aggregator/internal/dedup"
	"github.com/stacklok/toolhive-registry-aggregator/internal/registry"
)

func group(rec *registry.SourceEntityRecord, caps registry.Capabilities, sources ...string) *dedup.Group {
	c := &dedup.Candidate{Record: rec, Capabilities: &caps}
	return &dedup.Group{
		Identity:            rec.NativeName,
		Winner:              c,
		Members:             []*dedup.Candidate{c},
		Capabilities:        caps,
		ContributingSources: sources,
		DuplicateCount:      len(sources),
	}
}

func TestBuild(t *testing.T) {
	t.Parallel()

	published := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	rec := registry.NewTestRecord("official", "io.github.acme/weather",
		registry.WithRecordVersion("1.2.0"),
		registry.WithDescription(strings.Repeat("long ", 100)),
		registry.WithRepository("https://github.com/Acme/weather.git"),
		registry.WithEndpoint(registry.TransportStreamableHTTP, "https://weather.example.com/mcp"),
		registry.WithPackage("npm", "@acme/weather"),
		registry.WithLatest(),
		registry.WithQuality(true, 42),
	)
	rec.Status = "active"
	rec.PublishedAt = &published

	caps := registry.Capabilities{
		Tools:   registry.NewTestCapabilities("forecast", "alerts"),
		Prompts: registry.NewTestCapabilities("daily"),
	}

	out := NewBuilder().Build(group(rec, caps, "official", "smithery"))

	assert.Equal(t, "io.github.acme/weather", out.ID)
	assert.Equal(t, "io.github.acme/weather", out.Name)
	assert.Equal(t, "1.2.0", out.Version)
	assert.Equal(t, rec.Description, out.Description, "full records keep the whole description")
	assert.Equal(t, "acme/weather", out.RepositoryName)
	assert.Equal(t, &published, out.PublishedAt)
	assert.Equal(t, 2, out.ToolCount)
	assert.Equal(t, 3, out.CapabilityCount)
	assert.Equal(t, []string{"forecast", "alerts"}, out.ToolNames)
	assert.NotNil(t, out.Resources)
	assert.Empty(t, out.Resources)
	assert.Equal(t, "https://weather.example.com/mcp", out.RemoteEndpoint)
	assert.Equal(t, []string{"official", "smithery"}, out.ContributingSources)
	assert.Equal(t, "official", out.PrimarySource)
	assert.Equal(t, 2, out.DuplicateCount)
	assert.True(t, out.IsLatest)
	assert.True(t, out.Verified)
	assert.Equal(t, int64(42), out.UseCount)
	assert.True(t, out.HasRemote)
	assert.True(t, out.HasCapabilities)
	assert.True(t, out.HasTools)
}

func TestBuild_DerivedFlags(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name            string
		rec             *registry.SourceEntityRecord
		caps            registry.Capabilities
		hasRemote       bool
		hasCapabilities bool
		hasTools        bool
	}{
		{
			name:      "remote without capabilities",
			rec:       registry.NewTestRecord("smithery", "@acme/notes", registry.WithEndpoint(registry.TransportHTTP, "https://notes.example.com")),
			hasRemote: true,
		},
		{
			name:            "prompts only",
			rec:             registry.NewTestRecord("official", "prompts-only"),
			caps:            registry.Capabilities{Prompts: registry.NewTestCapabilities("p")},
			hasCapabilities: true,
		},
		{
			name:            "package only with tools",
			rec:             registry.NewTestRecord("official", "local", registry.WithPackage("pypi", "local")),
			caps:            registry.Capabilities{Tools: registry.NewTestCapabilities("t")},
			hasCapabilities: true,
			hasTools:        true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			out := NewBuilder().Build(group(tt.rec, tt.caps, tt.rec.SourceID))

			assert.Equal(t, tt.hasRemote, out.HasRemote)
			assert.Equal(t, tt.hasCapabilities, out.HasCapabilities)
			assert.Equal(t, tt.hasTools, out.HasTools)
		})
	}
}

func TestBuild_DisplayNameFallback(t *testing.T) {
	t.Parallel()

	rec := registry.NewTestRecord("official", "unnamed")
	rec.DisplayName = ""

	out := NewBuilder().Build(group(rec, registry.Capabilities{}, "official"))

	assert.Equal(t, "unnamed", out.DisplayName)
	assert.Empty(t, out.RepositoryName)
}

func TestBuild_SerializesEmptyLists(t *testing.T) {
	t.Parallel()

	out := NewBuilder().Build(group(registry.NewTestRecord("official", "empty"), registry.Capabilities{}, "official"))

	data, err := json.Marshal(out)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, []any{}, decoded["tools"])
	assert.Equal(t, []any{}, decoded["prompts"])
	assert.Equal(t, []any{}, decoded["resources"])
	assert.Equal(t, []any{}, decoded["tool_names"])
	assert.Equal(t, false, decoded["has_remote"])
}

func TestIndex(t *testing.T) {
	t.Parallel()

	desc := strings.Repeat("a", 9) + "é" + "tail"
	snapshot := &Snapshot{
		GeneratedAt: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		TotalCount:  1,
		Sources:     map[string]*SourceStats{"official": {Total: 1}},
		Servers: []*Record{{
			ID: "x", Name: "x", DisplayName: "X", Description: desc,
			ToolCount: 2, ContributingSources: []string{"official"}, HasRemote: true,
		}},
	}

	idx := NewBuilder(WithDescriptionLimit(10)).Index(snapshot)

	require.Len(t, idx.Servers, 1)
	assert.Equal(t, strings.Repeat("a", 9), idx.Servers[0].Description)
	assert.Equal(t, desc, snapshot.Servers[0].Description)
	assert.Equal(t, 2, idx.Servers[0].ToolCount)
	assert.True(t, idx.Servers[0].HasRemote)
	assert.Equal(t, snapshot.GeneratedAt, idx.GeneratedAt)
	assert.Equal(t, 1, idx.Sources["official"].Total)
}

func TestSort(t *testing.T) {
	t.Parallel()

	records := []*Record{
		{ID: "b", Name: "b", ToolCount: 1},
		{ID: "a2", Name: "a", ToolCount: 1},
		{ID: "z", Name: "z", ToolCount: 5},
		{ID: "a1", Name: "a", ToolCount: 1},
		{ID: "c", Name: "c"},
	}

	Sort(records)

	ids := make([]string, 0, len(records))
	for _, r := range records {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []string{"z", "a1", "a2", "b", "c"}, ids)
}

func TestTruncate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		input    string
		limit    int
		expected string
	}{
		{name: "short", input: "hello", limit: 10, expected: "hello"},
		{name: "exact", input: "hello", limit: 5, expected: "hello"},
		{name: "ascii cut", input: "hello world", limit: 5, expected: "hello"},
		{name: "inside multibyte rune", input: "ab€cd", limit: 3, expected: "ab"},
		{name: "after multibyte rune", input: "ab€cd", limit: 5, expected: "ab€"},
		{name: "no limit", input: "hello", limit: 0, expected: "hello"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, Truncate(tt.input, tt.limit))
		})
	}
}
