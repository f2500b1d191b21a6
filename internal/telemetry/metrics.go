// Package telemetry provides OpenTelemetry instrumentation for the registry aggregator.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	// SyncMetricsMeterName is the name used for the sync metrics meter
	SyncMetricsMeterName = "github.com/stacklok/toolhive-registry-aggregator/sync"

	// IntrospectionMetricsMeterName is the name used for the introspection metrics meter
	IntrospectionMetricsMeterName = "github.com/stacklok/toolhive-registry-aggregator/introspection"

	// MergeMetricsMeterName is the name used for the merge metrics meter
	MergeMetricsMeterName = "github.com/stacklok/toolhive-registry-aggregator/merge"
)

// SyncMetrics holds the OpenTelemetry instruments for sync runs
type SyncMetrics struct {
	syncDuration   metric.Float64Histogram
	recordsFetched metric.Int64Counter
	recordsSkipped metric.Int64Counter
}

// NewSyncMetrics creates a new SyncMetrics instance with the given meter provider.
// If provider is nil, it returns nil (no-op metrics).
func NewSyncMetrics(provider metric.MeterProvider) (*SyncMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(SyncMetricsMeterName)

	syncDuration, err := meter.Float64Histogram(
		"thv_aggr_sync_duration_seconds",
		metric.WithDescription("Duration of sync runs in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 30, 60, 120, 300, 600, 1800, 3600),
	)
	if err != nil {
		return nil, err
	}

	recordsFetched, err := meter.Int64Counter(
		"thv_aggr_sync_records_fetched",
		metric.WithDescription("Number of source records persisted by sync runs"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return nil, err
	}

	recordsSkipped, err := meter.Int64Counter(
		"thv_aggr_sync_records_skipped",
		metric.WithDescription("Number of source records skipped by filters or failed detail requests"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return nil, err
	}

	return &SyncMetrics{
		syncDuration:   syncDuration,
		recordsFetched: recordsFetched,
		recordsSkipped: recordsSkipped,
	}, nil
}

// RecordSyncDuration records the duration of a sync run for a source
func (m *SyncMetrics) RecordSyncDuration(ctx context.Context, source string, duration time.Duration, success bool) {
	if m == nil || m.syncDuration == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("source", source),
		attribute.Bool("success", success),
	}

	m.syncDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordRecordsFetched counts persisted records
func (m *SyncMetrics) RecordRecordsFetched(ctx context.Context, source string, count int) {
	if m == nil || m.recordsFetched == nil || count <= 0 {
		return
	}
	m.recordsFetched.Add(ctx, int64(count), metric.WithAttributes(attribute.String("source", source)))
}

// RecordRecordsSkipped counts skipped records
func (m *SyncMetrics) RecordRecordsSkipped(ctx context.Context, source string, count int) {
	if m == nil || m.recordsSkipped == nil || count <= 0 {
		return
	}
	m.recordsSkipped.Add(ctx, int64(count), metric.WithAttributes(attribute.String("source", source)))
}

// IntrospectionMetrics holds the OpenTelemetry instruments for capability probing
type IntrospectionMetrics struct {
	outcomes      metric.Int64Counter
	probeDuration metric.Float64Histogram
}

// NewIntrospectionMetrics creates a new IntrospectionMetrics instance.
// If provider is nil, it returns nil (no-op metrics).
func NewIntrospectionMetrics(provider metric.MeterProvider) (*IntrospectionMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(IntrospectionMetricsMeterName)

	outcomes, err := meter.Int64Counter(
		"thv_aggr_introspection_outcomes",
		metric.WithDescription("Number of introspection outcomes by terminal state"),
		metric.WithUnit("{outcome}"),
	)
	if err != nil {
		return nil, err
	}

	probeDuration, err := meter.Float64Histogram(
		"thv_aggr_introspection_probe_duration_seconds",
		metric.WithDescription("Time spent probing one entity across all of its endpoints"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120),
	)
	if err != nil {
		return nil, err
	}

	return &IntrospectionMetrics{
		outcomes:      outcomes,
		probeDuration: probeDuration,
	}, nil
}

// RecordOutcome records one entity's terminal state and how long it took to reach it
func (m *IntrospectionMetrics) RecordOutcome(ctx context.Context, source, state string, duration time.Duration) {
	if m == nil || m.outcomes == nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("source", source),
		attribute.String("state", state),
	)
	m.outcomes.Add(ctx, 1, attrs)
	m.probeDuration.Record(ctx, duration.Seconds(), attrs)
}

// MergeMetrics holds the OpenTelemetry instruments for the merge step
type MergeMetrics struct {
	sourceRecords metric.Int64Gauge
	unifiedTotal  metric.Int64Gauge
	duplicates    metric.Int64Gauge
}

// NewMergeMetrics creates a new MergeMetrics instance.
// If provider is nil, it returns nil (no-op metrics).
func NewMergeMetrics(provider metric.MeterProvider) (*MergeMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(MergeMetricsMeterName)

	sourceRecords, err := meter.Int64Gauge(
		"thv_aggr_source_records_total",
		metric.WithDescription("Number of records loaded from each source by the last merge"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return nil, err
	}

	unifiedTotal, err := meter.Int64Gauge(
		"thv_aggr_unified_servers_total",
		metric.WithDescription("Number of unified records produced by the last merge"),
		metric.WithUnit("{server}"),
	)
	if err != nil {
		return nil, err
	}

	duplicates, err := meter.Int64Gauge(
		"thv_aggr_duplicates_removed",
		metric.WithDescription("Number of records folded into another record by the last merge"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return nil, err
	}

	return &MergeMetrics{
		sourceRecords: sourceRecords,
		unifiedTotal:  unifiedTotal,
		duplicates:    duplicates,
	}, nil
}

// RecordSourceRecords records how many records a source contributed
func (m *MergeMetrics) RecordSourceRecords(ctx context.Context, source string, count int) {
	if m == nil || m.sourceRecords == nil {
		return
	}
	m.sourceRecords.Record(ctx, int64(count), metric.WithAttributes(attribute.String("source", source)))
}

// RecordMerge records the size of the unified output and the number of folded duplicates
func (m *MergeMetrics) RecordMerge(ctx context.Context, unified, duplicates int) {
	if m == nil || m.unifiedTotal == nil {
		return
	}
	m.unifiedTotal.Record(ctx, int64(unified))
	m.duplicates.Record(ctx, int64(duplicates))
}
