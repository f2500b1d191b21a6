package inmemory

import (
	"context"
	"fmt"

	"github.com/stacklok/toolhive-registry-aggregator/internal/export"
	"github.com/stacklok/toolhive-registry-aggregator/internal/service"
	"github.com/stacklok/toolhive-registry-aggregator/internal/unified"
)

// fileSnapshotProvider loads the snapshot the exporter wrote
type fileSnapshotProvider struct {
	dir string
}

// NewFileSnapshotProvider creates a provider reading the export directory
func NewFileSnapshotProvider(dir string) service.SnapshotProvider {
	return &fileSnapshotProvider{dir: dir}
}

// GetSnapshot implements SnapshotProvider.GetSnapshot
func (p *fileSnapshotProvider) GetSnapshot(_ context.Context) (*unified.Snapshot, error) {
	return export.LoadSnapshot(p.dir)
}

// GetSource implements SnapshotProvider.GetSource
func (p *fileSnapshotProvider) GetSource() string {
	return fmt.Sprintf("file:%s", p.dir)
}
