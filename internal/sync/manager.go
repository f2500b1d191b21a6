package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/toolhive-registry-aggregator/internal/config"
	"github.com/stacklok/toolhive-registry-aggregator/internal/otel"
	"github.com/stacklok/toolhive-registry-aggregator/internal/sources"
	"github.com/stacklok/toolhive-registry-aggregator/internal/status"
	"github.com/stacklok/toolhive-registry-aggregator/internal/storage"
	"github.com/stacklok/toolhive-registry-aggregator/internal/telemetry"
)

// RunMode is the mode requested by the caller. Auto is resolved against the
// stored progress before the run starts.
type RunMode string

const (
	// RunModeAuto runs incrementally when a previous run completed, fully otherwise
	RunModeAuto RunMode = "auto"

	// RunModeFull walks the whole listing
	RunModeFull RunMode = "full"

	// RunModeIncremental fetches records updated since the last completed run
	RunModeIncremental RunMode = "incremental"

	// RunModeResume continues where an interrupted or limited run stopped
	RunModeResume RunMode = "resume"
)

// ParseRunMode converts a user supplied mode name
func ParseRunMode(s string) (RunMode, error) {
	switch m := RunMode(s); m {
	case RunModeAuto, RunModeFull, RunModeIncremental, RunModeResume:
		return m, nil
	case "":
		return RunModeAuto, nil
	default:
		return "", fmt.Errorf("unknown sync mode '%s' (expected auto, full, incremental or resume)", s)
	}
}

// Request describes one sync run of one source
type Request struct {
	Mode RunMode

	// Since overrides the stored last-sync timestamp of an incremental run
	Since *time.Time

	// Limit caps the number of records fetched; zero means no limit
	Limit int
}

// Result summarises a sync run
type Result struct {
	Source       string
	RunID        string
	Mode         sources.Mode
	Fetched      int
	Skipped      int
	Filtered     int
	Pages        int
	Duration     time.Duration
	Completed    bool
	TotalRecords int
}

// Manager runs syncs of configured sources
//
//go:generate mockgen -destination=mocks/mock_manager.go -package=mocks github.com/stacklok/toolhive-registry-aggregator/internal/sync Manager
type Manager interface {
	// Sync fetches one source and persists every record page by page. Progress
	// is saved whatever the outcome. The result is returned alongside any error.
	Sync(ctx context.Context, src *config.SourceConfig, req *Request) (*Result, error)
}

// Option configures the manager
type Option func(*defaultSyncManager)

// WithSyncMetrics sets the sync metrics recorder
func WithSyncMetrics(metrics *telemetry.SyncMetrics) Option {
	return func(m *defaultSyncManager) {
		m.metrics = metrics
	}
}

// WithClock overrides the clock used to stamp runs
func WithClock(now func() time.Time) Option {
	return func(m *defaultSyncManager) {
		if now != nil {
			m.now = now
		}
	}
}

// defaultSyncManager is the default implementation of Manager
type defaultSyncManager struct {
	fetcherFactory sources.FetcherFactory
	storageManager storage.StorageManager
	progressStore  status.ProgressStore
	metrics        *telemetry.SyncMetrics
	now            func() time.Time
}

var _ Manager = (*defaultSyncManager)(nil)

// NewDefaultSyncManager creates a new sync manager
func NewDefaultSyncManager(
	fetcherFactory sources.FetcherFactory,
	storageManager storage.StorageManager,
	progressStore status.ProgressStore,
	opts ...Option,
) Manager {
	m := &defaultSyncManager{
		fetcherFactory: fetcherFactory,
		storageManager: storageManager,
		progressStore:  progressStore,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// plan is a resolved run: the fetch request plus the timestamp that becomes
// LastSync if the run completes
type plan struct {
	fetch *sources.FetchRequest
	stamp time.Time
}

// resolvePlan turns the requested mode into a concrete fetch request
func resolvePlan(source string, req *Request, progress *status.SyncProgress, startedAt time.Time) *plan {
	p := &plan{fetch: &sources.FetchRequest{Limit: req.Limit}, stamp: startedAt}

	mode := req.Mode
	if mode == RunModeResume && !progress.HasResumePoint() {
		slog.Warn("Nothing to resume, falling back to auto mode", "source", source)
		mode = RunModeAuto
	}
	if mode == RunModeAuto || mode == "" {
		mode = RunModeFull
		if progress.LastSync != nil {
			mode = RunModeIncremental
		}
	}

	switch mode {
	case RunModeResume:
		p.fetch.Mode = sources.ModeResume
		p.fetch.Start = sources.Position{Cursor: progress.Cursor, Page: progress.Page, Offset: progress.Offset}
		p.fetch.Since = progress.ResumeSince
		if progress.ResumeStartedAt != nil {
			p.stamp = *progress.ResumeStartedAt
		}
	case RunModeIncremental:
		since := req.Since
		if since == nil {
			since = progress.LastSync
		}
		if since == nil {
			slog.Warn("No previous sync to continue from, running a full sync", "source", source)
			p.fetch.Mode = sources.ModeFull
			break
		}
		p.fetch.Mode = sources.ModeIncremental
		p.fetch.Since = since
	default:
		p.fetch.Mode = sources.ModeFull
	}
	return p
}

// Sync implements Manager
func (m *defaultSyncManager) Sync(ctx context.Context, src *config.SourceConfig, req *Request) (*Result, error) {
	if src == nil {
		return nil, fmt.Errorf("source configuration cannot be nil")
	}
	if req == nil {
		req = &Request{Mode: RunModeAuto}
	}

	release, err := m.storageManager.Lock(src.Name)
	if err != nil {
		return nil, err
	}
	defer func() {
		if unlockErr := release(); unlockErr != nil {
			slog.Warn("Failed to release source lock", "source", src.Name, "error", unlockErr)
		}
	}()

	fetcher, err := m.fetcherFactory.CreateFetcher(src)
	if err != nil {
		return nil, fmt.Errorf("failed to create fetcher for source '%s': %w", src.Name, err)
	}

	startedAt := m.now().UTC()
	progress := m.progressStore.Load(ctx, src.Name)
	p := resolvePlan(src.Name, req, progress, startedAt)
	runID := uuid.NewString()

	ctx, span := otel.StartSpan(ctx, otel.Tracer(), "sync.Sync",
		trace.WithAttributes(
			otel.AttrSourceName.String(src.Name),
			otel.AttrSourceFormat.String(src.Format),
			otel.AttrSyncMode.String(string(p.fetch.Mode)),
			otel.AttrRunID.String(runID),
		),
	)
	defer span.End()

	slog.InfoContext(ctx, "Starting sync",
		"source", src.Name,
		"mode", p.fetch.Mode,
		"run_id", runID,
		"limit", req.Limit,
		"since", p.fetch.Since)

	progress.Phase = status.SyncPhaseSyncing
	if saveErr := m.progressStore.Save(ctx, src.Name, progress); saveErr != nil {
		slog.WarnContext(ctx, "Failed to persist syncing phase", "source", src.Name, "error", saveErr)
	}

	fetchResult, fetchErr := fetcher.Fetch(ctx, p.fetch, func(pageCtx context.Context, page *sources.Page) error {
		for _, rec := range page.Records {
			if err := m.storageManager.SaveRecord(pageCtx, rec); err != nil {
				return err
			}
		}
		return nil
	})
	if fetchResult == nil {
		fetchResult = &sources.FetchResult{Next: p.fetch.Start}
	}

	result := &Result{
		Source:    src.Name,
		RunID:     runID,
		Mode:      p.fetch.Mode,
		Fetched:   fetchResult.Fetched,
		Skipped:   fetchResult.Skipped,
		Filtered:  fetchResult.Filtered,
		Pages:     fetchResult.Pages,
		Duration:  m.now().UTC().Sub(startedAt),
		Completed: fetchErr == nil && fetchResult.Complete,
	}

	// the progress reached so far is durable even when the fetch failed
	saveErr := m.finish(ctx, src.Name, progress, p, fetchResult, fetchErr, result, startedAt)
	m.record(ctx, result, fetchErr == nil)

	if fetchErr != nil {
		otel.RecordError(span, fetchErr)
		slog.ErrorContext(ctx, "Sync failed",
			"source", src.Name,
			"run_id", runID,
			"fetched", result.Fetched,
			"error", fetchErr)
		return result, fmt.Errorf("failed to sync source '%s': %w", src.Name, fetchErr)
	}
	if saveErr != nil {
		otel.RecordError(span, saveErr)
		return result, saveErr
	}

	span.SetAttributes(otel.AttrResultCount.Int(result.Fetched))
	slog.InfoContext(ctx, "Sync finished",
		"source", src.Name,
		"run_id", runID,
		"completed", result.Completed,
		"fetched", result.Fetched,
		"skipped", result.Skipped,
		"filtered", result.Filtered,
		"total_records", result.TotalRecords,
		"duration", result.Duration)
	return result, nil
}

// finish folds the run into the stored progress and saves it. A cancelled
// context must not prevent the save.
func (m *defaultSyncManager) finish(
	ctx context.Context,
	source string,
	progress *status.SyncProgress,
	p *plan,
	fetchResult *sources.FetchResult,
	fetchErr error,
	result *Result,
	startedAt time.Time,
) error {
	ctx = context.WithoutCancel(ctx)

	switch {
	case result.Completed:
		progress.Phase = status.SyncPhaseComplete
		stamp := p.stamp
		progress.LastSync = &stamp
		progress.ClearResumePoint()
	default:
		progress.Phase = status.SyncPhasePartial
		if fetchErr != nil && !errors.Is(fetchErr, context.Canceled) {
			progress.Phase = status.SyncPhaseFailed
		}
		progress.Cursor = fetchResult.Next.Cursor
		progress.Page = fetchResult.Next.Page
		progress.Offset = fetchResult.Next.Offset
		if progress.HasResumePoint() {
			stamp := p.stamp
			progress.ResumeStartedAt = &stamp
			progress.ResumeSince = p.fetch.Since
		} else {
			progress.ClearResumePoint()
		}
	}

	total, err := m.storageManager.CountRecords(ctx, source)
	if err != nil {
		slog.WarnContext(ctx, "Failed to count stored records", "source", source, "error", err)
	} else {
		progress.TotalRecords = total
		result.TotalRecords = total
	}

	entry := status.SyncRecord{
		RunID:           result.RunID,
		Mode:            string(result.Mode),
		StartedAt:       startedAt,
		Fetched:         result.Fetched,
		Skipped:         result.Skipped,
		DurationSeconds: result.Duration.Seconds(),
		Completed:       result.Completed,
	}
	if fetchErr != nil {
		entry.Error = fetchErr.Error()
	}
	progress.AppendHistory(entry)

	if err := m.progressStore.Save(ctx, source, progress); err != nil {
		slog.ErrorContext(ctx, "Failed to persist sync progress", "source", source, "error", err)
		return err
	}
	return nil
}

func (m *defaultSyncManager) record(ctx context.Context, result *Result, success bool) {
	m.metrics.RecordSyncDuration(ctx, result.Source, result.Duration, success)
	m.metrics.RecordRecordsFetched(ctx, result.Source, result.Fetched)
	m.metrics.RecordRecordsSkipped(ctx, result.Source, result.Skipped)
}
