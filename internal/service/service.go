// Package service provides read access to the unified snapshot for the API
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/stacklok/toolhive-registry-aggregator/internal/introspection"
	"github.com/stacklok/toolhive-registry-aggregator/internal/status"
	"github.com/stacklok/toolhive-registry-aggregator/internal/unified"
)

const (
	// DefaultPageSize is the listing page size when the caller sets none
	DefaultPageSize = 50

	// MaxPageSize bounds the listing page size
	MaxPageSize = 500
)

var (
	// ErrServerNotFound is returned when a server is not found
	ErrServerNotFound = errors.New("server not found")
	// ErrNotReady is returned while no snapshot has been loaded
	ErrNotReady = errors.New("no snapshot loaded")
)

//go:generate mockgen -destination=mocks/mock_service.go -package=mocks -source=service.go RegistryService

// RegistryService defines the read operations served by the API
type RegistryService interface {
	// CheckReadiness checks if a snapshot is available
	CheckReadiness(ctx context.Context) error

	// GetInfo returns the totals of the current snapshot
	GetInfo(ctx context.Context) (*SnapshotInfo, error)

	// ListServers returns one page of unified records in snapshot order
	ListServers(ctx context.Context, opts ...Option) (*ServerPage, error)

	// GetServer returns a unified record by id
	GetServer(ctx context.Context, id string) (*unified.Record, error)

	// ListSources returns the sync progress and merge statistics of every known source
	ListSources(ctx context.Context) ([]SourceInfo, error)
}

// SnapshotProvider supplies the snapshot a service serves
type SnapshotProvider interface {
	// GetSnapshot loads the current snapshot
	GetSnapshot(ctx context.Context) (*unified.Snapshot, error)

	// GetSource describes where snapshots are loaded from
	GetSource() string
}

// SnapshotInfo carries the snapshot totals without the records
type SnapshotInfo struct {
	Source             string                         `json:"source"`
	GeneratedAt        time.Time                      `json:"generated_at"`
	TotalCount         int                            `json:"total_count"`
	WithTools          int                            `json:"with_tools"`
	TotalTools         int                            `json:"total_tools"`
	DuplicatesResolved int                            `json:"duplicates_resolved"`
	Sources            map[string]*unified.SourceStats `json:"sources"`
	Introspection      *introspection.Stats           `json:"introspection,omitempty"`
}

// ServerPage is one page of a server listing
type ServerPage struct {
	Servers    []*unified.Record `json:"servers"`
	NextCursor string            `json:"next_cursor,omitempty"`
	Count      int               `json:"count"`
}

// SourceInfo describes one source
type SourceInfo struct {
	Name         string               `json:"name"`
	Phase        status.SyncPhase     `json:"phase,omitempty"`
	LastSync     *time.Time           `json:"last_sync,omitempty"`
	TotalRecords int                  `json:"total_records"`
	Resumable    bool                 `json:"resumable"`
	LastRun      *status.SyncRecord   `json:"last_run,omitempty"`
	Merged       *unified.SourceStats `json:"merged,omitempty"`
}

// ListServersOptions is the options for the ListServers operation
type ListServersOptions struct {
	Cursor    string
	Limit     int
	Search    string
	Source    string
	ToolsOnly bool
}

// Option sets an option for the ListServers operation
type Option func(*ListServersOptions) error

// WithCursor sets the cursor for the ListServers operation
func WithCursor(cursor string) Option {
	return func(o *ListServersOptions) error {
		if cursor == "" {
			return fmt.Errorf("invalid cursor: %s", cursor)
		}
		o.Cursor = cursor
		return nil
	}
}

// WithLimit sets the page size for the ListServers operation
func WithLimit(limit int) Option {
	return func(o *ListServersOptions) error {
		if limit < 1 || limit > MaxPageSize {
			return fmt.Errorf("invalid limit: %d (must be between 1 and %d)", limit, MaxPageSize)
		}
		o.Limit = limit
		return nil
	}
}

// WithSearch sets a case-insensitive search over names, descriptions and tool names
func WithSearch(search string) Option {
	return func(o *ListServersOptions) error {
		if search == "" {
			return fmt.Errorf("invalid search: %s", search)
		}
		o.Search = search
		return nil
	}
}

// WithSource keeps servers the source contributed to
func WithSource(source string) Option {
	return func(o *ListServersOptions) error {
		if source == "" {
			return fmt.Errorf("invalid source: %s", source)
		}
		o.Source = source
		return nil
	}
}

// WithToolsOnly keeps servers with at least one tool
func WithToolsOnly() Option {
	return func(o *ListServersOptions) error {
		o.ToolsOnly = true
		return nil
	}
}
