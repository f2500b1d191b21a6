// Package storage persists per-entity source records and introspection outcomes.
//
// Layout under the base directory:
//
//	sources/<source>/servers/<safe record key>.json
//	sources/<source>/introspection/<safe outcome key>.json
//	sources/<source>/.lock
//
// Every file has a single writer: the sync run that owns the source writes
// records, the introspection run writes outcomes. Writes are atomic renames,
// so readers always observe complete files.
package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/stacklok/toolhive-registry-aggregator/internal/fsutil"
	"github.com/stacklok/toolhive-registry-aggregator/internal/registry"
)

const (
	sourcesDir       = "sources"
	serversDir       = "servers"
	introspectionDir = "introspection"
	fileExt          = ".json"
)

var (
	// ErrSourceNotFound is returned when a source has never been synced
	ErrSourceNotFound = errors.New("source has no stored data")

	// ErrSourceLocked is returned when another run holds the source lock
	ErrSourceLocked = errors.New("source is locked by another run")
)

// StorageManager defines the interface for per-entity persistence
type StorageManager interface {
	// SaveRecord writes a record, superseding any earlier record with the same key
	SaveRecord(ctx context.Context, rec *registry.SourceEntityRecord) error

	// LoadRecords returns every stored record of a source in file-name order.
	// Unreadable files are logged and skipped. Returns ErrSourceNotFound when
	// the source has no directory.
	LoadRecords(ctx context.Context, source string) ([]*registry.SourceEntityRecord, error)

	// CountRecords returns the number of stored records of a source
	CountRecords(ctx context.Context, source string) (int, error)

	// SaveOutcome writes an introspection outcome, replacing the previous one
	SaveOutcome(ctx context.Context, outcome *registry.IntrospectionOutcome) error

	// LoadOutcome returns the stored outcome for one record, or nil if never attempted
	LoadOutcome(ctx context.Context, source, recordKey string) (*registry.IntrospectionOutcome, error)

	// LoadOutcomes returns all stored outcomes of a source keyed by record key
	LoadOutcomes(ctx context.Context, source string) (map[string]*registry.IntrospectionOutcome, error)

	// Lock takes the exclusive per-source run lock
	Lock(source string) (release func() error, err error)
}

// fileStorageManager implements StorageManager using the local filesystem
type fileStorageManager struct {
	basePath string
}

// NewFileStorageManager creates a new file-based storage manager
func NewFileStorageManager(basePath string) StorageManager {
	return &fileStorageManager{basePath: basePath}
}

func (f *fileStorageManager) sourceDir(source string) string {
	return filepath.Join(f.basePath, sourcesDir, source)
}

func (f *fileStorageManager) recordPath(source, key string) string {
	return filepath.Join(f.sourceDir(source), serversDir, registry.SafeFileName(key)+fileExt)
}

func (f *fileStorageManager) outcomePath(source, recordKey string) string {
	key := registry.OutcomeKey(source, recordKey)
	return filepath.Join(f.sourceDir(source), introspectionDir, registry.SafeFileName(key)+fileExt)
}

// SaveRecord implements StorageManager
func (f *fileStorageManager) SaveRecord(_ context.Context, rec *registry.SourceEntityRecord) error {
	if rec == nil || rec.SourceID == "" || rec.NativeName == "" {
		return fmt.Errorf("record must have a source and a name")
	}
	if err := fsutil.WriteJSONAtomic(f.recordPath(rec.SourceID, rec.Key()), rec); err != nil {
		return fmt.Errorf("failed to store record '%s' of source '%s': %w", rec.Key(), rec.SourceID, err)
	}
	return nil
}

// LoadRecords implements StorageManager
func (f *fileStorageManager) LoadRecords(ctx context.Context, source string) ([]*registry.SourceEntityRecord, error) {
	files, err := f.listJSON(source, serversDir)
	if err != nil {
		return nil, err
	}

	records := make([]*registry.SourceEntityRecord, 0, len(files))
	for _, path := range files {
		var rec registry.SourceEntityRecord
		if err := fsutil.ReadJSON(path, &rec); err != nil {
			slog.WarnContext(ctx, "Skipping unreadable record", "source", source, "path", path, "error", err)
			continue
		}
		if rec.NativeName == "" {
			slog.WarnContext(ctx, "Skipping record without a name", "source", source, "path", path)
			continue
		}
		rec.SourceID = source
		records = append(records, &rec)
	}
	return records, nil
}

// CountRecords implements StorageManager
func (f *fileStorageManager) CountRecords(_ context.Context, source string) (int, error) {
	files, err := f.listJSON(source, serversDir)
	if errors.Is(err, ErrSourceNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return len(files), nil
}

// SaveOutcome implements StorageManager
func (f *fileStorageManager) SaveOutcome(_ context.Context, outcome *registry.IntrospectionOutcome) error {
	if outcome == nil || outcome.SourceID == "" || outcome.NativeName == "" {
		return fmt.Errorf("outcome must have a source and a name")
	}
	recordKey := registry.RecordKey(outcome.NativeName, outcome.Version)
	if err := fsutil.WriteJSONAtomic(f.outcomePath(outcome.SourceID, recordKey), outcome); err != nil {
		return fmt.Errorf("failed to store introspection outcome '%s': %w", outcome.Key(), err)
	}
	return nil
}

// LoadOutcome implements StorageManager
func (f *fileStorageManager) LoadOutcome(_ context.Context, source, recordKey string) (*registry.IntrospectionOutcome, error) {
	var outcome registry.IntrospectionOutcome
	err := fsutil.ReadJSON(f.outcomePath(source, recordKey), &outcome)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &outcome, nil
}

// LoadOutcomes implements StorageManager
func (f *fileStorageManager) LoadOutcomes(ctx context.Context, source string) (map[string]*registry.IntrospectionOutcome, error) {
	result := make(map[string]*registry.IntrospectionOutcome)

	files, err := f.listJSON(source, introspectionDir)
	if errors.Is(err, ErrSourceNotFound) {
		return result, nil
	}
	if err != nil {
		return nil, err
	}

	for _, path := range files {
		var outcome registry.IntrospectionOutcome
		if err := fsutil.ReadJSON(path, &outcome); err != nil {
			slog.WarnContext(ctx, "Skipping unreadable introspection outcome", "source", source, "path", path, "error", err)
			continue
		}
		result[registry.RecordKey(outcome.NativeName, outcome.Version)] = &outcome
	}
	return result, nil
}

// listJSON returns the JSON files of one source subdirectory in name order
func (f *fileStorageManager) listJSON(source, sub string) ([]string, error) {
	if _, err := os.Stat(f.sourceDir(source)); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrSourceNotFound, source)
		}
		return nil, fmt.Errorf("failed to access source directory: %w", err)
	}

	dir := filepath.Join(f.sourceDir(source), sub)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", dir, err)
	}

	files := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), fileExt) {
			continue
		}
		files = append(files, filepath.Join(dir, entry.Name()))
	}
	return files, nil
}
