// Package storage creates the components that share the data directory.
// Records, introspection outcomes, sync progress and exports are created as a
// family so every command reads and writes the same layout.
package storage

import (
	"github.com/stacklok/toolhive-registry-aggregator/internal/export"
	"github.com/stacklok/toolhive-registry-aggregator/internal/service"
	"github.com/stacklok/toolhive-registry-aggregator/internal/status"
	recordstore "github.com/stacklok/toolhive-registry-aggregator/internal/storage"
)

const (
	// StateDir holds one progress file per source
	StateDir = "state"

	// ExportDir holds the unified snapshot and index
	ExportDir = "unified"
)

//go:generate mockgen -destination=mocks/mock_factory.go -package=mocks -source=factory.go Factory

// Factory creates storage-dependent components as a family.
//
// The factory encapsulates the creation of:
// - StorageManager: per-entity records and introspection outcomes
// - ProgressStore: per-source sync progress
// - Exporter: writes the unified snapshot
// - SnapshotProvider: reads the last exported snapshot for the API
type Factory interface {
	// CreateStorageManager returns the record and outcome store
	CreateStorageManager() recordstore.StorageManager

	// CreateProgressStore returns the sync progress store
	CreateProgressStore() status.ProgressStore

	// CreateExporter returns the snapshot exporter
	CreateExporter() export.Exporter

	// CreateSnapshotProvider returns the reader of the exported snapshot
	CreateSnapshotProvider() service.SnapshotProvider

	// Cleanup releases any resources held by this factory.
	// Should be called when the application shuts down.
	Cleanup()
}
