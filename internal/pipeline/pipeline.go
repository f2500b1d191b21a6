// Package pipeline chains sync, introspection and merge into one run.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/toolhive-registry-aggregator/internal/config"
	"github.com/stacklok/toolhive-registry-aggregator/internal/fsutil"
	"github.com/stacklok/toolhive-registry-aggregator/internal/introspection"
	"github.com/stacklok/toolhive-registry-aggregator/internal/merge"
	"github.com/stacklok/toolhive-registry-aggregator/internal/otel"
	pkgsync "github.com/stacklok/toolhive-registry-aggregator/internal/sync"
	"github.com/stacklok/toolhive-registry-aggregator/internal/unified"
)

// Options selects what a run does
type Options struct {
	// Sources restricts the run to the named sources; empty means every enabled source
	Sources []string

	// Sync is applied to every synced source
	Sync pkgsync.Request

	// Introspection selects the records to probe. Its Sources field is ignored.
	Introspection introspection.RunOptions

	SkipSync          bool
	SkipIntrospection bool
}

// Result summarises a run
type Result struct {
	RunID         string
	Sync          []*pkgsync.Result
	Introspection *introspection.Stats
	Snapshot      *unified.Snapshot
	Duration      time.Duration
}

// Pipeline runs the stages in order
//
//go:generate mockgen -destination=mocks/mock_pipeline.go -package=mocks github.com/stacklok/toolhive-registry-aggregator/internal/pipeline Pipeline
type Pipeline interface {
	// Run syncs every selected source, probes, then merges. A failing source
	// does not stop the others; its error is returned once the merge is done.
	// A failed disk write ends the run at once. Cancellation stops the run
	// before the next stage.
	Run(ctx context.Context, opts *Options) (*Result, error)
}

type defaultPipeline struct {
	config  *config.Config
	manager pkgsync.Manager
	runner  introspection.Runner
	merger  merge.Merger
}

var _ Pipeline = (*defaultPipeline)(nil)

// New creates a pipeline over the configured sources
func New(cfg *config.Config, manager pkgsync.Manager, runner introspection.Runner, merger merge.Merger) Pipeline {
	return &defaultPipeline{
		config:  cfg,
		manager: manager,
		runner:  runner,
		merger:  merger,
	}
}

// Run implements Pipeline
func (p *defaultPipeline) Run(ctx context.Context, opts *Options) (*Result, error) {
	result := &Result{RunID: uuid.NewString()}
	ctx, span := otel.StartSpan(ctx, otel.Tracer(), "pipeline.Run",
		trace.WithAttributes(otel.AttrRunID.String(result.RunID)),
	)
	defer span.End()

	start := time.Now()
	defer func() { result.Duration = time.Since(start) }()

	sources, err := p.config.SelectSources(opts.Sources)
	if err != nil {
		return result, err
	}
	names := make([]string, len(sources))
	for i := range sources {
		names[i] = sources[i].Name
	}
	slog.InfoContext(ctx, "Pipeline run starting", "run_id", result.RunID, "sources", names)

	var sourceErrs []error
	if !opts.SkipSync {
		for i := range sources {
			if ctx.Err() != nil {
				break
			}
			req := opts.Sync
			res, err := p.manager.Sync(ctx, &sources[i], &req)
			if res != nil {
				result.Sync = append(result.Sync, res)
			}
			if errors.Is(err, fsutil.ErrWriteFailed) {
				// the data directory is unusable for every later stage
				otel.RecordError(span, err)
				return result, fmt.Errorf("aborting run: %w", err)
			}
			if err != nil {
				slog.ErrorContext(ctx, "Sync failed", "source", sources[i].Name, "error", err)
				sourceErrs = append(sourceErrs, err)
			}
		}
	}
	if err := ctx.Err(); err != nil {
		return result, err
	}

	if !opts.SkipIntrospection {
		runOpts := opts.Introspection
		runOpts.Sources = names
		stats, err := p.runner.Run(ctx, runOpts)
		result.Introspection = stats
		if err != nil {
			otel.RecordError(span, err)
			return result, fmt.Errorf("failed to introspect: %w", err)
		}
	}

	snapshot, err := p.merger.Merge(ctx, &merge.Request{Sources: names, Introspection: result.Introspection})
	result.Snapshot = snapshot
	if err != nil {
		otel.RecordError(span, err)
		return result, fmt.Errorf("failed to merge: %w", err)
	}

	slog.InfoContext(ctx, "Pipeline run finished",
		"run_id", result.RunID,
		"servers", snapshot.TotalCount,
		"with_tools", snapshot.WithTools,
		"failed_sources", len(sourceErrs))
	if err := errors.Join(sourceErrs...); err != nil {
		otel.RecordError(span, err)
		return result, err
	}
	return result, nil
}
