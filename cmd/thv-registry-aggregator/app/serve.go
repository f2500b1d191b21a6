package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	aggapp "github.com/stacklok/toolhive-registry-aggregator/internal/app"
	"github.com/stacklok/toolhive-registry-aggregator/internal/config"
)

const defaultGracefulTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the merged catalog over HTTP",
	Long: `Start the read-only API over the last exported snapshot.

Routes: /health, /readiness, /version, /v0/info, /v0/servers, /v0/servers/{id},
/v0/sources and, when Prometheus metrics are enabled, /metrics.

With --refresh-interval the full pipeline is re-run in the background and the
API picks up each new snapshot.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("address", "", "Address to listen on (default from configuration, :8080)")
	serveCmd.Flags().Duration("refresh-interval", 0, "Re-run the pipeline at this interval (0 disables background refresh)")
	serveCmd.Flags().Bool("refresh-on-start", false, "Run the pipeline once at startup when refreshing")
	serveCmd.Flags().Duration("cache-duration", 30*time.Second, "How long a loaded snapshot is served before it is reloaded")
	bindFlags(serveCmd, map[string]string{
		"address":          "serve.address",
		"refresh-interval": "serve.refresh-interval",
		"refresh-on-start": "serve.refresh-on-start",
		"cache-duration":   "serve.cache-duration",
	}, false)
	addPipelineFlags(serveCmd, "serve")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	applyConcurrency(viper.GetInt("serve.concurrency"))(cfg)
	if addr := viper.GetString("serve.address"); addr != "" {
		if cfg.API == nil {
			cfg.API = &config.APIConfig{}
		}
		cfg.API.Address = addr
	}

	refreshOpts, err := pipelineOptions("serve")
	if err != nil {
		return err
	}

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	tel, shutdown, err := initTelemetry(ctx, cfg)
	if err != nil {
		return err
	}
	defer shutdown()

	registryApp, err := aggapp.NewRegistryApp(context.WithoutCancel(ctx),
		aggapp.WithConfig(cfg),
		aggapp.WithAddress(cfg.GetAPIAddress()),
		aggapp.WithTelemetry(tel),
		aggapp.WithCacheDuration(viper.GetDuration("serve.cache-duration")),
		aggapp.WithRefresh(viper.GetDuration("serve.refresh-interval"), *refreshOpts, viper.GetBool("serve.refresh-on-start")),
	)
	if err != nil {
		return fmt.Errorf("failed to create registry app: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- registryApp.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("Received shutdown signal")
	if err := registryApp.Stop(defaultGracefulTimeout); err != nil {
		return err
	}
	return <-errCh
}
