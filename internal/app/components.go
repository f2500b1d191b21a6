package app

import (
	"github.com/stacklok/toolhive-registry-aggregator/internal/config"
	"github.com/stacklok/toolhive-registry-aggregator/internal/introspection"
	"github.com/stacklok/toolhive-registry-aggregator/internal/merge"
	"github.com/stacklok/toolhive-registry-aggregator/internal/pipeline"
	"github.com/stacklok/toolhive-registry-aggregator/internal/service"
	"github.com/stacklok/toolhive-registry-aggregator/internal/status"
	"github.com/stacklok/toolhive-registry-aggregator/internal/storage"
	pkgsync "github.com/stacklok/toolhive-registry-aggregator/internal/sync"
	"github.com/stacklok/toolhive-registry-aggregator/internal/sync/coordinator"
)

// AppComponents groups all application components
//
//nolint:revive // This name is fine
type AppComponents struct {
	// Config is the resolved configuration
	Config *config.Config

	// Storage holds per-entity records and introspection outcomes
	Storage storage.StorageManager

	// Progress holds per-source sync progress
	Progress status.ProgressStore

	// SyncManager runs one source's sync
	SyncManager pkgsync.Manager

	// Runner probes stored records for capabilities
	Runner introspection.Runner

	// Merger builds and exports the unified snapshot
	Merger merge.Merger

	// Pipeline chains sync, introspection and merge
	Pipeline pipeline.Pipeline

	// RegistryService serves the exported snapshot (serve only)
	RegistryService service.RegistryService

	// RefreshCoordinator re-runs the pipeline in the background (serve only, optional)
	RefreshCoordinator coordinator.Coordinator
}
