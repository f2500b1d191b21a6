// Package unified defines the merged output of the pipeline and projects
// deduplication winners into it.
package unified

import (
	"time"

	"github.com/stacklok/toolhive-registry-aggregator/internal/introspection"
	"github.com/stacklok/toolhive-registry-aggregator/internal/registry"
)

// Record is the merged view of one logical server
type Record struct {
	// Identity
	ID          string `json:"id"`
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	Version     string `json:"version,omitempty"`

	// Metadata
	Description    string     `json:"description,omitempty"`
	IconURL        string     `json:"icon_url,omitempty"`
	RepositoryURL  string     `json:"repository_url,omitempty"`
	RepositoryName string     `json:"repository_name,omitempty"`
	Status         string     `json:"status,omitempty"`
	PublishedAt    *time.Time `json:"published_at,omitempty"`

	// Capabilities are never truncated
	Tools           []registry.Capability `json:"tools"`
	Prompts         []registry.Capability `json:"prompts"`
	Resources       []registry.Capability `json:"resources"`
	ToolCount       int                   `json:"tool_count"`
	CapabilityCount int                   `json:"capability_count"`
	ToolNames       []string              `json:"tool_names"`

	// Connectivity
	RemoteEndpoint string                `json:"remote_endpoint,omitempty"`
	Endpoints      []registry.Endpoint   `json:"endpoints,omitempty"`
	Packages       []registry.PackageRef `json:"packages,omitempty"`

	// Provenance
	ContributingSources []string `json:"contributing_sources"`
	PrimarySource       string   `json:"primary_source"`
	DuplicateCount      int      `json:"duplicate_count"`
	IsLatest            bool     `json:"is_latest"`

	// Quality
	Verified bool  `json:"verified"`
	UseCount int64 `json:"use_count"`

	// Derived
	HasRemote       bool `json:"has_remote"`
	HasCapabilities bool `json:"has_capabilities"`
	HasTools        bool `json:"has_tools"`
}

// SourceStats summarises the records one source contributed to a merge
type SourceStats struct {
	Total      int `json:"total"`
	WithTools  int `json:"with_tools"`
	TotalTools int `json:"total_tools"`
}

// Snapshot is the full output of one merge run
type Snapshot struct {
	GeneratedAt    time.Time               `json:"generated_at"`
	TotalCount     int                     `json:"total_count"`
	WithTools      int                     `json:"with_tools"`
	TotalTools     int                     `json:"total_tools"`
	DuplicateCount int                     `json:"duplicates_resolved"`
	Sources        map[string]*SourceStats `json:"sources"`
	Introspection  *introspection.Stats    `json:"introspection,omitempty"`
	Servers        []*Record               `json:"servers"`
}

// IndexEntry is the listing projection of a record
type IndexEntry struct {
	ID                  string   `json:"id"`
	Name                string   `json:"name"`
	DisplayName         string   `json:"display_name"`
	Description         string   `json:"description,omitempty"`
	ToolCount           int      `json:"tool_count"`
	ContributingSources []string `json:"contributing_sources"`
	HasRemote           bool     `json:"has_remote"`
}

// Index is the lightweight listing written next to the snapshot
type Index struct {
	GeneratedAt time.Time               `json:"generated_at"`
	TotalCount  int                     `json:"total_count"`
	WithTools   int                     `json:"with_tools"`
	TotalTools  int                     `json:"total_tools"`
	Sources     map[string]*SourceStats `json:"sources"`
	Servers     []IndexEntry            `json:"servers"`
}
