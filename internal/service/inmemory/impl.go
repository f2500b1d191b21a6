// Package inmemory provides an in-memory implementation of the RegistryService interface
package inmemory

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/stacklok/toolhive-registry-aggregator/internal/service"
	"github.com/stacklok/toolhive-registry-aggregator/internal/status"
	"github.com/stacklok/toolhive-registry-aggregator/internal/unified"
)

// DefaultCacheDuration is how long a loaded snapshot is served before reloading
const DefaultCacheDuration = 30 * time.Second

// regSvc implements the RegistryService interface
type regSvc struct {
	mu       sync.RWMutex // Protects snapshot, byID, lastFetch
	provider service.SnapshotProvider
	progress status.ProgressStore
	sources  []string

	snapshot *unified.Snapshot
	byID     map[string]*unified.Record

	lastFetch     time.Time
	cacheDuration time.Duration
	now           func() time.Time
}

var _ service.RegistryService = (*regSvc)(nil)

// Option is a functional option for configuring the regSvc
type Option func(*regSvc)

// WithCacheDuration sets a custom cache duration for snapshot data
func WithCacheDuration(duration time.Duration) Option {
	return func(s *regSvc) {
		s.cacheDuration = duration
	}
}

// WithProgressStore sets where source sync progress is read from
func WithProgressStore(progress status.ProgressStore) Option {
	return func(s *regSvc) {
		s.progress = progress
	}
}

// WithSourceNames lists configured sources, so sources that never synced
// still show up in ListSources
func WithSourceNames(names ...string) Option {
	return func(s *regSvc) {
		s.sources = append(s.sources, names...)
	}
}

// WithClock overrides the clock driving cache expiry
func WithClock(now func() time.Time) Option {
	return func(s *regSvc) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates a new registry service over the snapshot provider.
// A missing snapshot does not fail creation; the service reports not ready
// until one appears.
func New(ctx context.Context, provider service.SnapshotProvider, opts ...Option) (service.RegistryService, error) {
	if provider == nil {
		return nil, fmt.Errorf("snapshot provider is required")
	}

	s := &regSvc{
		provider:      provider,
		cacheDuration: DefaultCacheDuration,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.loadSnapshot(ctx); err != nil {
		slog.Warn("Failed to load initial snapshot", "source", provider.GetSource(), "error", err)
	}
	return s, nil
}

// loadSnapshotLocked loads the snapshot using the configured provider.
// Caller must hold s.mu write lock.
func (s *regSvc) loadSnapshotLocked(ctx context.Context) error {
	snapshot, err := s.provider.GetSnapshot(ctx)
	s.lastFetch = s.now()
	if err != nil {
		return fmt.Errorf("failed to get snapshot: %w", err)
	}

	byID := make(map[string]*unified.Record, len(snapshot.Servers))
	for _, rec := range snapshot.Servers {
		byID[rec.ID] = rec
	}
	s.snapshot = snapshot
	s.byID = byID

	slog.Info("Loaded snapshot",
		"server_count", len(snapshot.Servers),
		"generated_at", snapshot.GeneratedAt)
	return nil
}

func (s *regSvc) loadSnapshot(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadSnapshotLocked(ctx)
}

// refreshIfNeeded reloads the snapshot once the cache has expired. A failed
// reload keeps serving the previous snapshot.
func (s *regSvc) refreshIfNeeded(ctx context.Context) {
	s.mu.RLock()
	needsRefresh := s.now().Sub(s.lastFetch) > s.cacheDuration
	s.mu.RUnlock()
	if !needsRefresh {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// Double-check after acquiring write lock
	if s.now().Sub(s.lastFetch) > s.cacheDuration {
		if err := s.loadSnapshotLocked(ctx); err != nil {
			slog.Warn("Failed to refresh snapshot", "error", err)
		}
	}
}

// current returns the snapshot being served, or nil
func (s *regSvc) current(ctx context.Context) *unified.Snapshot {
	s.refreshIfNeeded(ctx)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot
}

// CheckReadiness implements RegistryService.CheckReadiness
func (s *regSvc) CheckReadiness(ctx context.Context) error {
	s.mu.RLock()
	hasData := s.snapshot != nil
	s.mu.RUnlock()
	if hasData {
		return nil
	}
	if err := s.loadSnapshot(ctx); err != nil {
		return fmt.Errorf("%w: %w", service.ErrNotReady, err)
	}
	return nil
}

// GetInfo implements RegistryService.GetInfo
func (s *regSvc) GetInfo(ctx context.Context) (*service.SnapshotInfo, error) {
	snapshot := s.current(ctx)
	if snapshot == nil {
		return nil, service.ErrNotReady
	}
	return &service.SnapshotInfo{
		Source:             s.provider.GetSource(),
		GeneratedAt:        snapshot.GeneratedAt,
		TotalCount:         snapshot.TotalCount,
		WithTools:          snapshot.WithTools,
		TotalTools:         snapshot.TotalTools,
		DuplicatesResolved: snapshot.DuplicateCount,
		Sources:            snapshot.Sources,
		Introspection:      snapshot.Introspection,
	}, nil
}

// ListServers implements RegistryService.ListServers
func (s *regSvc) ListServers(ctx context.Context, opts ...service.Option) (*service.ServerPage, error) {
	options := &service.ListServersOptions{Limit: service.DefaultPageSize}
	for _, opt := range opts {
		if err := opt(options); err != nil {
			return nil, err
		}
	}
	cursor, err := service.DecodeCursor(options.Cursor)
	if err != nil {
		return nil, err
	}

	page := &service.ServerPage{Servers: []*unified.Record{}}
	snapshot := s.current(ctx)
	if snapshot == nil {
		return page, nil
	}

	for _, rec := range snapshot.Servers {
		if !cursor.Follows(rec) || !matches(rec, options) {
			continue
		}
		if len(page.Servers) == options.Limit {
			page.NextCursor = service.EncodeCursor(page.Servers[len(page.Servers)-1])
			break
		}
		page.Servers = append(page.Servers, rec)
	}
	page.Count = len(page.Servers)
	return page, nil
}

// GetServer implements RegistryService.GetServer
func (s *regSvc) GetServer(ctx context.Context, id string) (*unified.Record, error) {
	s.refreshIfNeeded(ctx)
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.byID[id]
	if !ok {
		return nil, service.ErrServerNotFound
	}
	return rec, nil
}

// ListSources implements RegistryService.ListSources
func (s *regSvc) ListSources(ctx context.Context) ([]service.SourceInfo, error) {
	progress := map[string]*status.SyncProgress{}
	if s.progress != nil {
		var err error
		if progress, err = s.progress.LoadAll(ctx); err != nil {
			return nil, fmt.Errorf("failed to load sync progress: %w", err)
		}
	}

	names := make(map[string]struct{})
	for _, name := range s.sources {
		names[name] = struct{}{}
	}
	for name := range progress {
		names[name] = struct{}{}
	}
	var merged map[string]*unified.SourceStats
	if snapshot := s.current(ctx); snapshot != nil {
		merged = snapshot.Sources
		for name := range merged {
			names[name] = struct{}{}
		}
	}

	out := make([]service.SourceInfo, 0, len(names))
	for name := range names {
		info := service.SourceInfo{Name: name, Merged: merged[name]}
		if p := progress[name]; p != nil {
			info.Phase = p.Phase
			info.LastSync = p.LastSync
			info.TotalRecords = p.TotalRecords
			info.Resumable = p.HasResumePoint()
			info.LastRun = p.LastRun()
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// matches applies the listing filters to one record
func matches(rec *unified.Record, options *service.ListServersOptions) bool {
	if options.ToolsOnly && !rec.HasTools {
		return false
	}
	if options.Source != "" && !slices.Contains(rec.ContributingSources, options.Source) {
		return false
	}
	if options.Search != "" && !matchesSearch(rec, options.Search) {
		return false
	}
	return true
}

// matchesSearch performs case-insensitive substring matching on record fields
func matchesSearch(rec *unified.Record, search string) bool {
	searchLower := strings.ToLower(search)
	fields := append([]string{rec.Name, rec.DisplayName, rec.Description}, rec.ToolNames...)
	for _, f := range fields {
		if strings.Contains(strings.ToLower(f), searchLower) {
			return true
		}
	}
	return false
}

