// Package merge turns the stored records and introspection outcomes of every
// source into one deduplicated snapshot.
//
// A merge is a full recomputation over what is on disk. Nothing from an
// earlier merge is carried over, so a partial update of any source is always
// reflected consistently.
package merge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/toolhive-registry-aggregator/internal/dedup"
	"github.com/stacklok/toolhive-registry-aggregator/internal/export"
	"github.com/stacklok/toolhive-registry-aggregator/internal/introspection"
	"github.com/stacklok/toolhive-registry-aggregator/internal/otel"
	"github.com/stacklok/toolhive-registry-aggregator/internal/registry"
	"github.com/stacklok/toolhive-registry-aggregator/internal/storage"
	"github.com/stacklok/toolhive-registry-aggregator/internal/telemetry"
	"github.com/stacklok/toolhive-registry-aggregator/internal/unified"
	"github.com/stacklok/toolhive-registry-aggregator/internal/versions"
)

// Request selects what a merge reads
type Request struct {
	// Sources lists the sources to read, in order. Earlier sources win full
	// ties during deduplication.
	Sources []string

	// Introspection carries the stats of an introspection run that preceded
	// the merge into the snapshot
	Introspection *introspection.Stats
}

// Merger builds the unified snapshot
//
//go:generate mockgen -destination=mocks/mock_merger.go -package=mocks github.com/stacklok/toolhive-registry-aggregator/internal/merge Merger
type Merger interface {
	// Merge loads every requested source, deduplicates, builds and, when an
	// exporter is configured, exports the snapshot. Sources without stored
	// data are skipped with a warning.
	Merge(ctx context.Context, req *Request) (*unified.Snapshot, error)
}

// Option configures the merger
type Option func(*merger)

// WithEngine sets the deduplication engine
func WithEngine(engine dedup.Engine) Option {
	return func(m *merger) {
		m.engine = engine
	}
}

// WithBuilder sets the record builder
func WithBuilder(builder unified.Builder) Option {
	return func(m *merger) {
		m.builder = builder
	}
}

// WithExporter sets where snapshots are written
func WithExporter(exporter export.Exporter) Option {
	return func(m *merger) {
		m.exporter = exporter
	}
}

// WithMergeMetrics sets the merge metrics recorder
func WithMergeMetrics(metrics *telemetry.MergeMetrics) Option {
	return func(m *merger) {
		m.metrics = metrics
	}
}

// WithMergeClock overrides the clock used to stamp snapshots
func WithMergeClock(now func() time.Time) Option {
	return func(m *merger) {
		if now != nil {
			m.now = now
		}
	}
}

type merger struct {
	storageManager storage.StorageManager
	engine         dedup.Engine
	builder        unified.Builder
	exporter       export.Exporter
	metrics        *telemetry.MergeMetrics
	now            func() time.Time
}

var _ Merger = (*merger)(nil)

// NewMerger creates a merger reading from the storage manager
func NewMerger(storageManager storage.StorageManager, opts ...Option) Merger {
	m := &merger{
		storageManager: storageManager,
		engine:         dedup.NewEngine(),
		builder:        unified.NewBuilder(),
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Merge implements Merger
func (m *merger) Merge(ctx context.Context, req *Request) (*unified.Snapshot, error) {
	ctx, span := otel.StartSpan(ctx, otel.Tracer(), "merge.Merge")
	defer span.End()

	snapshot := &unified.Snapshot{
		GeneratedAt:   m.now().UTC(),
		Sources:       make(map[string]*unified.SourceStats),
		Introspection: req.Introspection,
		Servers:       []*unified.Record{},
	}

	var candidates []*dedup.Candidate
	for _, source := range req.Sources {
		loaded, stats, err := m.loadSource(ctx, source)
		if errors.Is(err, storage.ErrSourceNotFound) {
			slog.WarnContext(ctx, "Skipping source without stored data", "source", source)
			continue
		}
		if err != nil {
			otel.RecordError(span, err)
			return nil, err
		}
		snapshot.Sources[source] = stats
		candidates = append(candidates, loaded...)
		m.metrics.RecordSourceRecords(ctx, source, stats.Total)

		slog.InfoContext(ctx, "Loaded source",
			"source", source,
			"records", stats.Total,
			"with_tools", stats.WithTools,
			"tools", stats.TotalTools)
	}

	groups := m.engine.Dedupe(candidates)
	for _, g := range groups {
		rec := m.builder.Build(g)
		snapshot.Servers = append(snapshot.Servers, rec)
		snapshot.TotalTools += rec.ToolCount
		if rec.HasTools {
			snapshot.WithTools++
		}
		if g.IsDuplicate() {
			snapshot.DuplicateCount++
		}
	}
	unified.Sort(snapshot.Servers)
	snapshot.TotalCount = len(snapshot.Servers)

	folded := len(candidates) - len(groups)
	m.metrics.RecordMerge(ctx, snapshot.TotalCount, folded)
	span.SetAttributes(otel.AttrResultCount.Int(snapshot.TotalCount))
	slog.InfoContext(ctx, "Deduplicated records",
		"records", len(candidates),
		"unified", snapshot.TotalCount,
		"duplicates_resolved", snapshot.DuplicateCount)

	if m.exporter != nil {
		if err := m.exporter.Export(ctx, snapshot, m.builder.Index(snapshot)); err != nil {
			otel.RecordError(span, err)
			return snapshot, fmt.Errorf("failed to export snapshot: %w", err)
		}
	}
	return snapshot, nil
}

// loadSource reads one source's records and attaches their capabilities
func (m *merger) loadSource(ctx context.Context, source string) ([]*dedup.Candidate, *unified.SourceStats, error) {
	_, span := otel.StartSpan(ctx, otel.Tracer(), "merge.loadSource",
		trace.WithAttributes(otel.AttrSourceName.String(source)),
	)
	defer span.End()

	records, err := m.storageManager.LoadRecords(ctx, source)
	if err != nil {
		return nil, nil, err
	}
	outcomes, err := m.storageManager.LoadOutcomes(ctx, source)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load introspection outcomes of source '%s': %w", source, err)
	}

	records = markLatest(records)

	stats := &unified.SourceStats{Total: len(records)}
	candidates := make([]*dedup.Candidate, 0, len(records))
	for _, rec := range records {
		c := &dedup.Candidate{Record: rec, Capabilities: attachCapabilities(rec, outcomes[rec.Key()])}
		if tools := toolCount(c.Capabilities); tools > 0 {
			stats.WithTools++
			stats.TotalTools += tools
		}
		candidates = append(candidates, c)
	}
	return candidates, stats, nil
}

// attachCapabilities prefers capability data delivered by the source over
// probed data; a failed probe attaches nothing
func attachCapabilities(rec *registry.SourceEntityRecord, outcome *registry.IntrospectionOutcome) *registry.Capabilities {
	if rec.HasEmbeddedCapabilities() {
		return rec.Embedded
	}
	return outcome.Capabilities()
}

// markLatest flags the greatest version of every name the source never
// flagged itself. Flagged records are returned as copies.
func markLatest(records []*registry.SourceEntityRecord) []*registry.SourceEntityRecord {
	byName := make(map[string][]int)
	flagged := make(map[string]bool)
	for i, rec := range records {
		byName[rec.NativeName] = append(byName[rec.NativeName], i)
		if rec.IsLatest() {
			flagged[rec.NativeName] = true
		}
	}

	out := make([]*registry.SourceEntityRecord, len(records))
	copy(out, records)
	for name, idxs := range byName {
		if flagged[name] {
			continue
		}
		vs := make([]string, len(idxs))
		for i, idx := range idxs {
			vs[i] = records[idx].Version
		}
		best := idxs[versions.Latest(vs)]
		if records[best].Publication == registry.PublicationDeprecated {
			continue
		}
		cp := *records[best]
		cp.Publication = registry.PublicationLatest
		out[best] = &cp
	}
	return out
}

func toolCount(caps *registry.Capabilities) int {
	if caps == nil {
		return 0
	}
	return len(caps.Tools)
}
