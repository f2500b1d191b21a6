package introspection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/stacklok/toolhive-registry-aggregator/internal/registry"
	"github.com/stacklok/toolhive-registry-aggregator/internal/storage"
	"github.com/stacklok/toolhive-registry-aggregator/internal/telemetry"
)

// DefaultConcurrency is the size of one probing batch
const DefaultConcurrency = 10

// RunOptions selects which stored records a run probes
type RunOptions struct {
	// Sources lists the sources to probe, in order
	Sources []string

	// Force re-probes records whose previous outcome succeeded
	Force bool

	// Filter is a case-insensitive regular expression matched against native names
	Filter string

	// Limit caps the number of records taken into the run; zero means no limit
	Limit int
}

// Stats summarises an introspection run
type Stats struct {
	Processed int `json:"processed"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

func (s *Stats) add(o Stats) {
	s.Processed += o.Processed
	s.Succeeded += o.Succeeded
	s.Failed += o.Failed
	s.Skipped += o.Skipped
}

// Runner probes stored records in bounded batches and persists every outcome
//
//go:generate mockgen -destination=mocks/mock_runner.go -package=mocks github.com/stacklok/toolhive-registry-aggregator/internal/introspection Runner
type Runner interface {
	// Run probes the selected records. Outcomes completed before a
	// cancellation are persisted; the returned stats cover them.
	Run(ctx context.Context, opts RunOptions) (*Stats, error)
}

// RunnerOption configures the runner
type RunnerOption func(*batchRunner)

// WithConcurrency sets the batch size
func WithConcurrency(n int) RunnerOption {
	return func(r *batchRunner) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

// WithIntrospectionMetrics sets the outcome metrics recorder
func WithIntrospectionMetrics(metrics *telemetry.IntrospectionMetrics) RunnerOption {
	return func(r *batchRunner) {
		r.metrics = metrics
	}
}

// batchRunner processes one batch at a time; all probes of a batch run
// concurrently and the next batch starts once the whole batch is done
type batchRunner struct {
	introspector   Introspector
	storageManager storage.StorageManager
	concurrency    int
	metrics        *telemetry.IntrospectionMetrics
}

var _ Runner = (*batchRunner)(nil)

// NewRunner creates a batch runner
func NewRunner(introspector Introspector, storageManager storage.StorageManager, opts ...RunnerOption) Runner {
	r := &batchRunner{
		introspector:   introspector,
		storageManager: storageManager,
		concurrency:    DefaultConcurrency,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run implements Runner
func (r *batchRunner) Run(ctx context.Context, opts RunOptions) (*Stats, error) {
	var filter *regexp.Regexp
	if opts.Filter != "" {
		var err error
		if filter, err = regexp.Compile("(?i)" + opts.Filter); err != nil {
			return nil, fmt.Errorf("invalid filter pattern: %w", err)
		}
	}

	total := &Stats{}
	remaining := opts.Limit
	for _, source := range opts.Sources {
		if ctx.Err() != nil {
			break
		}
		if opts.Limit > 0 && remaining <= 0 {
			break
		}

		stats, taken, err := r.runSource(ctx, source, opts.Force, filter, remaining)
		if stats != nil {
			total.add(*stats)
		}
		remaining -= taken
		if errors.Is(err, storage.ErrSourceNotFound) {
			slog.WarnContext(ctx, "Source has no stored records, skipping", "source", source)
			continue
		}
		if errors.Is(err, storage.ErrSourceLocked) {
			slog.WarnContext(ctx, "Source is locked by another run, skipping", "source", source)
			continue
		}
		if err != nil {
			return total, err
		}
	}

	slog.InfoContext(ctx, "Introspection finished",
		"processed", total.Processed,
		"succeeded", total.Succeeded,
		"failed", total.Failed,
		"skipped", total.Skipped)
	return total, ctx.Err()
}

// runSource probes the candidates of one source while holding its lock.
// It returns the stats and how many records were taken against the limit.
func (r *batchRunner) runSource(
	ctx context.Context,
	source string,
	force bool,
	filter *regexp.Regexp,
	limit int,
) (*Stats, int, error) {
	// loading first keeps Lock from creating a directory for an unknown source
	records, err := r.storageManager.LoadRecords(ctx, source)
	if err != nil {
		return nil, 0, err
	}

	release, err := r.storageManager.Lock(source)
	if err != nil {
		return nil, 0, err
	}
	defer func() {
		if unlockErr := release(); unlockErr != nil {
			slog.Warn("Failed to release source lock", "source", source, "error", unlockErr)
		}
	}()
	previous, err := r.storageManager.LoadOutcomes(ctx, source)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to load introspection outcomes of source '%s': %w", source, err)
	}

	candidates := selectCandidates(records, previous, force, filter)
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}
	slog.InfoContext(ctx, "Introspecting source",
		"source", source,
		"records", len(records),
		"candidates", len(candidates),
		"batch_size", r.concurrency)

	stats := &Stats{}
	for start := 0; start < len(candidates); start += r.concurrency {
		if ctx.Err() != nil {
			break
		}
		batch := candidates[start:min(start+r.concurrency, len(candidates))]
		if err := r.runBatch(ctx, batch, stats); err != nil {
			return stats, len(candidates), err
		}
	}
	return stats, len(candidates), nil
}

// selectCandidates drops records that carry capabilities inline, records
// already probed successfully (unless forced) and records outside the filter
func selectCandidates(
	records []*registry.SourceEntityRecord,
	previous map[string]*registry.IntrospectionOutcome,
	force bool,
	filter *regexp.Regexp,
) []*registry.SourceEntityRecord {
	out := make([]*registry.SourceEntityRecord, 0, len(records))
	for _, rec := range records {
		if filter != nil && !filter.MatchString(rec.NativeName) {
			continue
		}
		if rec.HasEmbeddedCapabilities() {
			continue
		}
		if prev := previous[rec.Key()]; !force && prev != nil && prev.Succeeded {
			continue
		}
		out = append(out, rec)
	}
	return out
}

// runBatch probes every record of the batch concurrently. Only a failure to
// persist an outcome aborts the batch.
func (r *batchRunner) runBatch(ctx context.Context, batch []*registry.SourceEntityRecord, stats *Stats) error {
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)

	for _, rec := range batch {
		g.Go(func() error {
			start := time.Now()
			outcome := r.introspector.Introspect(gctx, rec)
			if gctx.Err() != nil {
				// an interrupted probe says nothing about the endpoint
				return nil
			}

			if err := r.storageManager.SaveOutcome(context.WithoutCancel(gctx), outcome); err != nil {
				return err
			}
			r.metrics.RecordOutcome(gctx, rec.SourceID, string(outcome.State), time.Since(start))

			mu.Lock()
			defer mu.Unlock()
			switch {
			case outcome.State == registry.OutcomeNotApplicable:
				stats.Skipped++
			case outcome.Succeeded:
				stats.Processed++
				stats.Succeeded++
				slog.InfoContext(gctx, "Introspected server",
					"source", rec.SourceID,
					"name", rec.NativeName,
					"version", rec.Version,
					"tools", len(outcome.Tools),
					"transport", outcome.TransportUsed)
			default:
				stats.Processed++
				stats.Failed++
				slog.DebugContext(gctx, "Introspection failed",
					"source", rec.SourceID,
					"name", rec.NativeName,
					"state", outcome.State,
					"error", outcome.Error)
			}
			return nil
		})
	}
	return g.Wait()
}
