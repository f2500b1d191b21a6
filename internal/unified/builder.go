package unified

import (
	"sort"
	"unicode/utf8"

	"github.com/stacklok/toolhive-registry-aggregator/internal/dedup"
	"github.com/stacklok/toolhive-registry-aggregator/internal/identity"
	"github.com/stacklok/toolhive-registry-aggregator/internal/registry"
)

// DefaultDescriptionLimit bounds index descriptions, in bytes
const DefaultDescriptionLimit = 200

// Builder projects deduplication winners into unified records
type Builder interface {
	// Build projects one group. Capability lists are copied whole.
	Build(g *dedup.Group) *Record

	// Index projects records into listing entries with bounded descriptions
	Index(s *Snapshot) *Index
}

// BuilderOption configures the builder
type BuilderOption func(*builder)

// WithDescriptionLimit bounds index descriptions
func WithDescriptionLimit(n int) BuilderOption {
	return func(b *builder) {
		if n > 0 {
			b.descriptionLimit = n
		}
	}
}

type builder struct {
	descriptionLimit int
}

var _ Builder = (*builder)(nil)

// NewBuilder creates a record builder
func NewBuilder(opts ...BuilderOption) Builder {
	b := &builder{descriptionLimit: DefaultDescriptionLimit}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build implements Builder
func (*builder) Build(g *dedup.Group) *Record {
	rec := g.Winner.Record
	caps := g.Capabilities

	out := &Record{
		ID:                  rec.NativeName,
		Name:                rec.NativeName,
		DisplayName:         rec.DisplayName,
		Version:             rec.Version,
		Description:         rec.Description,
		IconURL:             rec.IconURL,
		RepositoryURL:       rec.RepositoryURL,
		RepositoryName:      identity.ExtractRepoName(rec.RepositoryURL),
		Status:              rec.Status,
		PublishedAt:         rec.PublishedAt,
		Tools:               nonNil(caps.Tools),
		Prompts:             nonNil(caps.Prompts),
		Resources:           nonNil(caps.Resources),
		ToolCount:           len(caps.Tools),
		CapabilityCount:     caps.Count(),
		ToolNames:           registry.CapabilityNames(caps.Tools),
		Endpoints:           rec.Endpoints,
		Packages:            rec.Packages,
		ContributingSources: g.ContributingSources,
		PrimarySource:       rec.SourceID,
		DuplicateCount:      g.DuplicateCount,
		IsLatest:            rec.IsLatest(),
		Verified:            rec.Quality.Verified,
		UseCount:            rec.Quality.UseCount,
	}
	if out.DisplayName == "" {
		out.DisplayName = rec.NativeName
	}
	for _, ep := range rec.Endpoints {
		if ep.URL != "" {
			out.RemoteEndpoint = ep.URL
			break
		}
	}

	out.HasRemote = out.RemoteEndpoint != ""
	out.HasCapabilities = out.CapabilityCount > 0
	out.HasTools = out.ToolCount > 0
	return out
}

// Index implements Builder
func (b *builder) Index(s *Snapshot) *Index {
	idx := &Index{
		GeneratedAt: s.GeneratedAt,
		TotalCount:  s.TotalCount,
		WithTools:   s.WithTools,
		TotalTools:  s.TotalTools,
		Sources:     s.Sources,
		Servers:     make([]IndexEntry, 0, len(s.Servers)),
	}
	for _, r := range s.Servers {
		idx.Servers = append(idx.Servers, IndexEntry{
			ID:                  r.ID,
			Name:                r.Name,
			DisplayName:         r.DisplayName,
			Description:         Truncate(r.Description, b.descriptionLimit),
			ToolCount:           r.ToolCount,
			ContributingSources: r.ContributingSources,
			HasRemote:           r.HasRemote,
		})
	}
	return idx
}

// Sort orders records by tool count (descending), then name, then id
func Sort(records []*Record) {
	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if a.ToolCount != b.ToolCount {
			return a.ToolCount > b.ToolCount
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.ID < b.ID
	})
}

// Truncate cuts s to at most n bytes without splitting a UTF-8 sequence
func Truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func nonNil(caps []registry.Capability) []registry.Capability {
	if caps == nil {
		return []registry.Capability{}
	}
	return caps
}
