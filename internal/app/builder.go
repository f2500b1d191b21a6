package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/toolhive-registry-aggregator/internal/api"
	"github.com/stacklok/toolhive-registry-aggregator/internal/app/storage"
	"github.com/stacklok/toolhive-registry-aggregator/internal/config"
	"github.com/stacklok/toolhive-registry-aggregator/internal/dedup"
	"github.com/stacklok/toolhive-registry-aggregator/internal/httpclient"
	"github.com/stacklok/toolhive-registry-aggregator/internal/introspection"
	"github.com/stacklok/toolhive-registry-aggregator/internal/merge"
	"github.com/stacklok/toolhive-registry-aggregator/internal/pipeline"
	"github.com/stacklok/toolhive-registry-aggregator/internal/service"
	"github.com/stacklok/toolhive-registry-aggregator/internal/service/inmemory"
	"github.com/stacklok/toolhive-registry-aggregator/internal/sources"
	pkgsync "github.com/stacklok/toolhive-registry-aggregator/internal/sync"
	"github.com/stacklok/toolhive-registry-aggregator/internal/sync/coordinator"
	"github.com/stacklok/toolhive-registry-aggregator/internal/telemetry"
	"github.com/stacklok/toolhive-registry-aggregator/internal/unified"
)

const (
	defaultRequestTimeout = 10 * time.Second
	defaultReadTimeout    = 10 * time.Second
	defaultWriteTimeout   = 15 * time.Second
	defaultIdleTimeout    = 60 * time.Second
)

// RegistryAppOptions is a function that configures the registry app builder
type RegistryAppOptions func(*registryAppConfig) error

// registryAppConfig collects the builder inputs.
// It supports dependency injection for testing while providing sensible defaults for production
type registryAppConfig struct {
	config *config.Config

	// Optional component overrides (primarily for testing)
	fetcherFactory sources.FetcherFactory
	syncManager    pkgsync.Manager
	prober         introspection.Prober
	storageFactory storage.Factory
	clientOpts     []httpclient.Option

	// Background refresh (serve only); zero disables it
	refreshInterval time.Duration
	refreshOptions  pipeline.Options
	refreshOnStart  bool

	// HTTP server options
	address        string
	middlewares    []func(http.Handler) http.Handler
	requestTimeout time.Duration
	readTimeout    time.Duration
	writeTimeout   time.Duration
	idleTimeout    time.Duration
	cacheDuration  time.Duration

	// Telemetry components
	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider
	metricsHandler http.Handler
}

func baseConfig(opts ...RegistryAppOptions) (*registryAppConfig, error) {
	cfg := &registryAppConfig{
		requestTimeout: defaultRequestTimeout,
		readTimeout:    defaultReadTimeout,
		writeTimeout:   defaultWriteTimeout,
		idleTimeout:    defaultIdleTimeout,
		cacheDuration:  inmemory.DefaultCacheDuration,
	}

	// Apply options
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	if cfg.config == nil {
		cfg.config = config.Default()
	}
	if cfg.address == "" {
		cfg.address = cfg.config.GetAPIAddress()
	}

	return cfg, nil
}

// NewComponents builds everything the pipeline commands need: storage, sync,
// introspection, merge and the pipeline chaining them
func NewComponents(ctx context.Context, opts ...RegistryAppOptions) (*AppComponents, error) {
	cfg, err := baseConfig(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to build base configuration: %w", err)
	}
	return buildPipelineComponents(ctx, cfg)
}

// NewRegistryApp creates the serve application: the pipeline components, the
// read API over the exported snapshot and, when a refresh interval is set, a
// coordinator re-running the pipeline in the background
func NewRegistryApp(
	ctx context.Context,
	opts ...RegistryAppOptions,
) (*RegistryApp, error) {
	cfg, err := baseConfig(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to build base configuration: %w", err)
	}

	components, err := buildPipelineComponents(ctx, cfg)
	if err != nil {
		return nil, err
	}

	// Ensure cleanup happens on error
	var cleanupNeeded = true
	defer func() {
		if cleanupNeeded {
			cfg.storageFactory.Cleanup()
		}
	}()

	components.RegistryService, err = buildServiceComponents(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build service components: %w", err)
	}

	if cfg.refreshInterval > 0 {
		components.RefreshCoordinator, err = buildRefreshCoordinator(cfg, components.Pipeline)
		if err != nil {
			return nil, fmt.Errorf("failed to build refresh coordinator: %w", err)
		}
	}

	httpServer, err := buildHTTPServer(ctx, cfg, components.RegistryService)
	if err != nil {
		return nil, fmt.Errorf("failed to build HTTP server: %w", err)
	}

	// Create application context
	appCtx, cancel := context.WithCancel(ctx)

	// Cleanup is now handled by the app, not in defer
	cleanupNeeded = false

	cancelFunc := func() {
		cfg.storageFactory.Cleanup()
		cancel()
	}

	return &RegistryApp{
		config:     cfg.config,
		components: components,
		httpServer: httpServer,
		ctx:        appCtx,
		cancelFunc: cancelFunc,
	}, nil
}

// WithConfig sets the configuration
func WithConfig(c *config.Config) RegistryAppOptions {
	return func(cfg *registryAppConfig) error {
		cfg.config = c
		return nil
	}
}

// WithAddress sets the HTTP server address
func WithAddress(addr string) RegistryAppOptions {
	return func(cfg *registryAppConfig) error {
		if addr == "" {
			return fmt.Errorf("address cannot be empty")
		}

		parts := strings.SplitN(addr, ":", 2)
		if len(parts) != 2 {
			return fmt.Errorf("address is not a valid port: %s", addr)
		}
		host := parts[0]
		port := parts[1]

		if port == "" {
			return fmt.Errorf("address is not a valid port: %s", addr)
		}
		if host == "localhost" {
			host = "127.0.0.1"
		}
		if host == "" {
			host = "0.0.0.0"
		}

		if _, err := netip.ParseAddrPort(host + ":" + port); err != nil {
			return fmt.Errorf("address is not a valid port: %w", err)
		}

		cfg.address = addr
		return nil
	}
}

// WithMiddlewares sets custom HTTP middlewares
func WithMiddlewares(mw ...func(http.Handler) http.Handler) RegistryAppOptions {
	return func(cfg *registryAppConfig) error {
		cfg.middlewares = mw
		return nil
	}
}

// WithFetcherFactory allows injecting a custom fetcher factory (for testing)
func WithFetcherFactory(f sources.FetcherFactory) RegistryAppOptions {
	return func(cfg *registryAppConfig) error {
		cfg.fetcherFactory = f
		return nil
	}
}

// WithStorageFactory allows injecting a custom storage factory (for testing)
func WithStorageFactory(f storage.Factory) RegistryAppOptions {
	return func(cfg *registryAppConfig) error {
		cfg.storageFactory = f
		return nil
	}
}

// WithSyncManager allows injecting a custom sync manager (for testing)
func WithSyncManager(sm pkgsync.Manager) RegistryAppOptions {
	return func(cfg *registryAppConfig) error {
		cfg.syncManager = sm
		return nil
	}
}

// WithProber allows injecting a custom capability prober (for testing)
func WithProber(p introspection.Prober) RegistryAppOptions {
	return func(cfg *registryAppConfig) error {
		cfg.prober = p
		return nil
	}
}

// WithClientOptions adds options to every source client
func WithClientOptions(opts ...httpclient.Option) RegistryAppOptions {
	return func(cfg *registryAppConfig) error {
		cfg.clientOpts = append(cfg.clientOpts, opts...)
		return nil
	}
}

// WithRefresh re-runs the pipeline with the given options every interval while serving
func WithRefresh(interval time.Duration, opts pipeline.Options, runOnStart bool) RegistryAppOptions {
	return func(cfg *registryAppConfig) error {
		if interval < 0 {
			return fmt.Errorf("refresh interval cannot be negative: %s", interval)
		}
		cfg.refreshInterval = interval
		cfg.refreshOptions = opts
		cfg.refreshOnStart = runOnStart
		return nil
	}
}

// WithCacheDuration sets how long the API serves a loaded snapshot before reloading it
func WithCacheDuration(d time.Duration) RegistryAppOptions {
	return func(cfg *registryAppConfig) error {
		if d <= 0 {
			return fmt.Errorf("cache duration must be positive: %s", d)
		}
		cfg.cacheDuration = d
		return nil
	}
}

// WithTelemetry wires the meter and tracer providers and the Prometheus
// scrape handler of an initialised telemetry instance
func WithTelemetry(t *telemetry.Telemetry) RegistryAppOptions {
	return func(cfg *registryAppConfig) error {
		if t == nil {
			return nil
		}
		cfg.meterProvider = t.MeterProvider()
		cfg.tracerProvider = t.TracerProvider()
		cfg.metricsHandler = t.MetricsHandler()
		return nil
	}
}

// WithMeterProvider sets the OpenTelemetry meter provider for pipeline and HTTP metrics
func WithMeterProvider(mp metric.MeterProvider) RegistryAppOptions {
	return func(cfg *registryAppConfig) error {
		cfg.meterProvider = mp
		return nil
	}
}

// buildPipelineComponents builds storage, sync, introspection and merge
func buildPipelineComponents(ctx context.Context, b *registryAppConfig) (*AppComponents, error) {
	slog.InfoContext(ctx, "Initializing pipeline components", "data_dir", b.config.GetDataDir())

	if b.storageFactory == nil {
		factory, err := storage.NewFileFactory(b.config.GetDataDir())
		if err != nil {
			return nil, fmt.Errorf("failed to create storage factory: %w", err)
		}
		b.storageFactory = factory
	}

	components := &AppComponents{
		Config:   b.config,
		Storage:  b.storageFactory.CreateStorageManager(),
		Progress: b.storageFactory.CreateProgressStore(),
	}

	syncManager, err := buildSyncManager(b, components)
	if err != nil {
		return nil, fmt.Errorf("failed to build sync components: %w", err)
	}
	components.SyncManager = syncManager

	components.Runner, err = buildRunner(b, components)
	if err != nil {
		return nil, fmt.Errorf("failed to build introspection components: %w", err)
	}

	components.Merger, err = buildMerger(b, components)
	if err != nil {
		return nil, fmt.Errorf("failed to build merge components: %w", err)
	}

	components.Pipeline = pipeline.New(b.config, components.SyncManager, components.Runner, components.Merger)
	slog.InfoContext(ctx, "Pipeline components initialized successfully")
	return components, nil
}

// buildSyncManager builds the fetcher factory and sync manager
func buildSyncManager(b *registryAppConfig, c *AppComponents) (pkgsync.Manager, error) {
	if b.syncManager != nil {
		return b.syncManager, nil
	}

	if b.fetcherFactory == nil {
		clientOpts := append([]httpclient.Option{
			httpclient.WithRetryPolicy(httpclient.RetryPolicy{
				MaxAttempts: b.config.GetRetryAttempts(),
				BaseDelay:   b.config.GetRetryBaseDelay(),
			}),
			httpclient.WithRetryNotify(func(err error, delay time.Duration) {
				slog.Warn("Request failed, retrying", "error", err, "delay", delay)
			}),
		}, b.clientOpts...)
		b.fetcherFactory = sources.NewFetcherFactory(clientOpts...)
	}

	syncMetrics, err := telemetry.NewSyncMetrics(b.meterProvider)
	if err != nil {
		return nil, fmt.Errorf("failed to create sync metrics: %w", err)
	}

	return pkgsync.NewDefaultSyncManager(
		b.fetcherFactory,
		c.Storage,
		c.Progress,
		pkgsync.WithSyncMetrics(syncMetrics),
	), nil
}

// buildRunner builds the prober, introspector and batch runner
func buildRunner(b *registryAppConfig, c *AppComponents) (introspection.Runner, error) {
	if b.prober == nil {
		b.prober = introspection.NewHTTPProber(
			introspection.WithQueryTimeout(b.config.GetIntrospectionTimeout()),
			introspection.WithMaxErrorLength(b.config.GetMaxErrorLength()),
		)
	}
	introspector := introspection.NewIntrospector(b.prober,
		introspection.WithErrorLength(b.config.GetMaxErrorLength()),
	)

	metrics, err := telemetry.NewIntrospectionMetrics(b.meterProvider)
	if err != nil {
		return nil, fmt.Errorf("failed to create introspection metrics: %w", err)
	}

	return introspection.NewRunner(introspector, c.Storage,
		introspection.WithConcurrency(b.config.GetIntrospectionConcurrency()),
		introspection.WithIntrospectionMetrics(metrics),
	), nil
}

// buildMerger builds the dedup engine, record builder, exporter and merger
func buildMerger(b *registryAppConfig, c *AppComponents) (merge.Merger, error) {
	metrics, err := telemetry.NewMergeMetrics(b.meterProvider)
	if err != nil {
		return nil, fmt.Errorf("failed to create merge metrics: %w", err)
	}

	return merge.NewMerger(c.Storage,
		merge.WithEngine(dedup.NewEngine(dedup.WithSourcePriorities(b.config.SourcePriorities()))),
		merge.WithBuilder(unified.NewBuilder(unified.WithDescriptionLimit(b.config.GetDescriptionLimit()))),
		merge.WithExporter(b.storageFactory.CreateExporter()),
		merge.WithMergeMetrics(metrics),
	), nil
}

// buildServiceComponents builds the registry service over the exported snapshot
func buildServiceComponents(
	ctx context.Context,
	b *registryAppConfig,
) (service.RegistryService, error) {
	slog.InfoContext(ctx, "Initializing service components")

	provider := b.storageFactory.CreateSnapshotProvider()
	names := make([]string, 0, len(b.config.Sources))
	for _, src := range b.config.Sources {
		names = append(names, src.Name)
	}

	svc, err := inmemory.New(ctx, provider,
		inmemory.WithCacheDuration(b.cacheDuration),
		inmemory.WithProgressStore(b.storageFactory.CreateProgressStore()),
		inmemory.WithSourceNames(names...),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create registry service: %w", err)
	}

	slog.InfoContext(ctx, "Service components initialized successfully", "source", provider.GetSource())
	return svc, nil
}

// buildRefreshCoordinator builds the background pipeline re-runner
func buildRefreshCoordinator(b *registryAppConfig, p pipeline.Pipeline) (coordinator.Coordinator, error) {
	opts := []coordinator.Option{coordinator.WithRunOptions(b.refreshOptions)}
	if b.refreshOnStart {
		opts = append(opts, coordinator.WithRunOnStart())
	}
	return coordinator.New(p, b.refreshInterval, opts...)
}

// buildHTTPServer builds the HTTP server with router and middleware
//
//nolint:unparam // we prefer having a similar interface
func buildHTTPServer(
	_ context.Context,
	b *registryAppConfig,
	svc service.RegistryService,
) (*http.Server, error) {
	slog.Info("Initializing HTTP server")

	// Use default middlewares if not provided
	if b.middlewares == nil {
		b.middlewares = []func(http.Handler) http.Handler{
			middleware.RequestID,
			middleware.RealIP,
			middleware.Recoverer,
			middleware.Timeout(b.requestTimeout),
			api.LoggingMiddleware,
		}
	}

	// Metrics and tracing go first to capture all requests
	var telemetryMiddlewares []func(http.Handler) http.Handler
	if b.meterProvider != nil {
		metricsMiddleware, err := telemetry.MetricsMiddleware(b.meterProvider)
		if err != nil {
			return nil, fmt.Errorf("failed to create metrics middleware: %w", err)
		}
		telemetryMiddlewares = append(telemetryMiddlewares, metricsMiddleware)
		slog.Info("HTTP metrics middleware enabled")
	}
	if b.tracerProvider != nil {
		telemetryMiddlewares = append(telemetryMiddlewares, telemetry.TracingMiddleware(b.tracerProvider))
		slog.Info("HTTP tracing middleware enabled")
	}
	b.middlewares = append(telemetryMiddlewares, b.middlewares...)

	serverOpts := []api.ServerOption{api.WithMiddlewares(b.middlewares...)}
	if b.metricsHandler != nil {
		serverOpts = append(serverOpts, api.WithMetricsHandler(b.metricsHandler))
	}
	router := api.NewServer(svc, serverOpts...)

	server := &http.Server{
		Addr:         b.address,
		Handler:      router,
		ReadTimeout:  b.readTimeout,
		WriteTimeout: b.writeTimeout,
		IdleTimeout:  b.idleTimeout,
	}

	slog.Info("HTTP server configured", "address", b.address)
	return server, nil
}
