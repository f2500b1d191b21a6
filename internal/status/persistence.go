// Package status provides durable per-source sync progress for the aggregator.
package status

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/stacklok/toolhive-registry-aggregator/internal/fsutil"
)

//go:generate mockgen -destination=mocks/mock_progress_store.go -package=mocks -source=persistence.go ProgressStore

const (
	// ProgressFileName is the name of the per-source progress file
	ProgressFileName = "progress.json"
)

// ProgressStore persists SyncProgress per source. Each source has a single
// writer (its fetch loop), so the store does no locking of its own.
type ProgressStore interface {
	// Load returns the stored progress for a source. It never fails: a missing
	// or unreadable file yields a zero-value progress and corruption is logged.
	Load(ctx context.Context, source string) *SyncProgress

	// Save persists progress atomically; a crash mid-write leaves the old file intact
	Save(ctx context.Context, source string, progress *SyncProgress) error

	// LoadAll returns the progress of every source with a progress file
	LoadAll(ctx context.Context) (map[string]*SyncProgress, error)
}

// fileProgressStore implements ProgressStore on the local filesystem
type fileProgressStore struct {
	basePath string
}

// NewFileProgressStore creates a file-based progress store rooted at basePath
func NewFileProgressStore(basePath string) ProgressStore {
	return &fileProgressStore{basePath: basePath}
}

func (f *fileProgressStore) path(source string) string {
	return filepath.Join(f.basePath, source, ProgressFileName)
}

// Load implements ProgressStore
func (f *fileProgressStore) Load(ctx context.Context, source string) *SyncProgress {
	var progress SyncProgress
	err := fsutil.ReadJSON(f.path(source), &progress)
	switch {
	case err == nil:
		return &progress
	case errors.Is(err, os.ErrNotExist):
		return &SyncProgress{}
	default:
		slog.WarnContext(ctx, "Sync progress unreadable, starting fresh",
			"source", source,
			"path", f.path(source),
			"error", err)
		return &SyncProgress{}
	}
}

// Save implements ProgressStore
func (f *fileProgressStore) Save(_ context.Context, source string, progress *SyncProgress) error {
	if progress == nil {
		return fmt.Errorf("progress for source '%s' cannot be nil", source)
	}
	if err := fsutil.WriteJSONAtomic(f.path(source), progress); err != nil {
		return fmt.Errorf("failed to save progress for source '%s': %w", source, err)
	}
	return nil
}

// LoadAll implements ProgressStore
func (f *fileProgressStore) LoadAll(ctx context.Context) (map[string]*SyncProgress, error) {
	result := make(map[string]*SyncProgress)

	entries, err := os.ReadDir(f.basePath)
	if err != nil {
		if os.IsNotExist(err) {
			return result, nil
		}
		return nil, fmt.Errorf("failed to read progress directory: %w", err)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, err := os.Stat(f.path(entry.Name())); err != nil {
			continue
		}
		result[entry.Name()] = f.Load(ctx, entry.Name())
	}

	return result, nil
}
