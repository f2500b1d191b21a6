// Package export writes merged snapshots to disk and reads them back.
//
// Layout under the export directory:
//
//	snapshot.json            every unified record plus run statistics
//	index.json               listing projection with bounded descriptions
//	servers_with_tools.json  the records that expose at least one tool
//	servers/<id>.json        one file per unified record
//
// Every file is replaced atomically. Record files left over from an earlier
// merge whose server no longer exists are removed.
package export

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/toolhive-registry-aggregator/internal/fsutil"
	"github.com/stacklok/toolhive-registry-aggregator/internal/otel"
	"github.com/stacklok/toolhive-registry-aggregator/internal/registry"
	"github.com/stacklok/toolhive-registry-aggregator/internal/unified"
)

const (
	// SnapshotFile holds the full snapshot
	SnapshotFile = "snapshot.json"

	// IndexFile holds the listing projection
	IndexFile = "index.json"

	// WithToolsFile holds the records that expose tools
	WithToolsFile = "servers_with_tools.json"

	// ServersDir holds one file per record
	ServersDir = "servers"

	jsonExt = ".json"
)

// ErrNoSnapshot is returned when nothing has been exported yet
var ErrNoSnapshot = errors.New("no merged snapshot has been exported")

// Exporter persists the output of a merge run
//
//go:generate mockgen -destination=mocks/mock_exporter.go -package=mocks github.com/stacklok/toolhive-registry-aggregator/internal/export Exporter
type Exporter interface {
	Export(ctx context.Context, snapshot *unified.Snapshot, index *unified.Index) error
}

// toolsExport is the shape of servers_with_tools.json
type toolsExport struct {
	ExportedAt time.Time         `json:"exported_at"`
	TotalCount int               `json:"total_count"`
	TotalTools int               `json:"total_tools"`
	Servers    []*unified.Record `json:"servers"`
}

type fileExporter struct {
	dir string
}

var _ Exporter = (*fileExporter)(nil)

// NewFileExporter creates an exporter writing under dir
func NewFileExporter(dir string) Exporter {
	return &fileExporter{dir: dir}
}

// Export implements Exporter
func (e *fileExporter) Export(ctx context.Context, snapshot *unified.Snapshot, index *unified.Index) error {
	_, span := otel.StartSpan(ctx, otel.Tracer(), "export.Export",
		trace.WithAttributes(otel.AttrResultCount.Int(len(snapshot.Servers))),
	)
	defer span.End()

	if err := e.export(snapshot, index); err != nil {
		otel.RecordError(span, err)
		return err
	}

	slog.InfoContext(ctx, "Exported merged snapshot",
		"dir", e.dir,
		"servers", snapshot.TotalCount,
		"with_tools", snapshot.WithTools)
	return nil
}

func (e *fileExporter) export(snapshot *unified.Snapshot, index *unified.Index) error {
	serversDir := filepath.Join(e.dir, ServersDir)
	written := make(map[string]struct{}, len(snapshot.Servers))

	withTools := &toolsExport{ExportedAt: snapshot.GeneratedAt, Servers: []*unified.Record{}}
	for _, rec := range snapshot.Servers {
		name := registry.SafeFileName(rec.ID) + jsonExt
		if err := fsutil.WriteJSONAtomic(filepath.Join(serversDir, name), rec); err != nil {
			return fmt.Errorf("failed to export server '%s': %w", rec.ID, err)
		}
		written[name] = struct{}{}

		if rec.HasTools {
			withTools.Servers = append(withTools.Servers, rec)
			withTools.TotalTools += rec.ToolCount
		}
	}
	withTools.TotalCount = len(withTools.Servers)

	if err := removeStale(serversDir, written); err != nil {
		return err
	}
	if err := fsutil.WriteJSONAtomic(filepath.Join(e.dir, WithToolsFile), withTools); err != nil {
		return fmt.Errorf("failed to export servers with tools: %w", err)
	}
	if err := fsutil.WriteJSONAtomic(filepath.Join(e.dir, IndexFile), index); err != nil {
		return fmt.Errorf("failed to export index: %w", err)
	}
	// the snapshot goes last: readers take its presence as a finished export
	if err := fsutil.WriteJSONAtomic(filepath.Join(e.dir, SnapshotFile), snapshot); err != nil {
		return fmt.Errorf("failed to export snapshot: %w", err)
	}
	return nil
}

// removeStale deletes record files that the current export did not write
func removeStale(dir string, keep map[string]struct{}) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to list %s: %w", dir, err)
	}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, jsonExt) {
			continue
		}
		if _, ok := keep[name]; ok {
			continue
		}
		if err := os.Remove(filepath.Join(dir, name)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove stale export %s: %w", name, err)
		}
	}
	return nil
}

// LoadSnapshot reads the last exported snapshot from dir
func LoadSnapshot(dir string) (*unified.Snapshot, error) {
	var snapshot unified.Snapshot
	if err := fsutil.ReadJSON(filepath.Join(dir, SnapshotFile), &snapshot); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNoSnapshot
		}
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}
	return &snapshot, nil
}
