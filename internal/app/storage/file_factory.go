package storage

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/stacklok/toolhive-registry-aggregator/internal/export"
	"github.com/stacklok/toolhive-registry-aggregator/internal/service"
	"github.com/stacklok/toolhive-registry-aggregator/internal/service/inmemory"
	"github.com/stacklok/toolhive-registry-aggregator/internal/status"
	recordstore "github.com/stacklok/toolhive-registry-aggregator/internal/storage"
)

// FileFactory creates file-based storage components.
// All components created by this factory use the local filesystem for persistence.
type FileFactory struct {
	dataDir string

	// Shared by every component that needs it
	storageManager recordstore.StorageManager
	progressStore  status.ProgressStore
}

var _ Factory = (*FileFactory)(nil)

// NewFileFactory creates a new file-based storage factory rooted at dataDir,
// ensuring the directory exists
func NewFileFactory(dataDir string) (*FileFactory, error) {
	if dataDir == "" {
		return nil, fmt.Errorf("data directory cannot be empty")
	}

	if err := os.MkdirAll(dataDir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create data directory %s: %w", dataDir, err)
	}

	slog.Info("Creating file-based storage factory", "data_dir", dataDir)

	return &FileFactory{
		dataDir:        dataDir,
		storageManager: recordstore.NewFileStorageManager(dataDir),
		progressStore:  status.NewFileProgressStore(filepath.Join(dataDir, StateDir)),
	}, nil
}

// DataDir returns the root directory of the factory
func (f *FileFactory) DataDir() string {
	return f.dataDir
}

// CreateStorageManager implements Factory
func (f *FileFactory) CreateStorageManager() recordstore.StorageManager {
	return f.storageManager
}

// CreateProgressStore implements Factory
func (f *FileFactory) CreateProgressStore() status.ProgressStore {
	return f.progressStore
}

// CreateExporter implements Factory
func (f *FileFactory) CreateExporter() export.Exporter {
	slog.Debug("Creating file exporter")
	return export.NewFileExporter(filepath.Join(f.dataDir, ExportDir))
}

// CreateSnapshotProvider implements Factory
func (f *FileFactory) CreateSnapshotProvider() service.SnapshotProvider {
	return inmemory.NewFileSnapshotProvider(filepath.Join(f.dataDir, ExportDir))
}

// Cleanup implements Factory. File storage holds no resources.
func (*FileFactory) Cleanup() {
	slog.Debug("Cleaning up file storage factory (no-op)")
}
