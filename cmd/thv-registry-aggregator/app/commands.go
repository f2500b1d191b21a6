// Package app provides the CLI of the ToolHive registry aggregator.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	aggapp "github.com/stacklok/toolhive-registry-aggregator/internal/app"
	"github.com/stacklok/toolhive-registry-aggregator/internal/config"
	"github.com/stacklok/toolhive-registry-aggregator/internal/telemetry"
	"github.com/stacklok/toolhive-registry-aggregator/internal/versions"
)

const telemetryShutdownTimeout = 10 * time.Second

// zapLogger is flushed when a command finishes
var zapLogger *zap.Logger

var rootCmd = &cobra.Command{
	Use:               "thv-registry-aggregator",
	DisableAutoGenTag: true,
	SilenceUsage:      true,
	Short:             "ToolHive MCP registry aggregator",
	Long: `ToolHive registry aggregator pulls MCP server listings from several registries,
probes the servers for their tools, prompts and resources, and merges everything
into one deduplicated catalog that it can also serve over HTTP.`,
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		return setupLogging()
	},
	PersistentPostRun: func(_ *cobra.Command, _ []string) {
		if zapLogger != nil {
			_ = zapLogger.Sync()
		}
	},
	Run: func(cmd *cobra.Command, _ []string) {
		// If no subcommand is provided, print help
		if err := cmd.Help(); err != nil {
			slog.Error("Error displaying help", "error", err)
		}
	},
}

// NewRootCmd creates a new root command for the aggregator.
func NewRootCmd() *cobra.Command {
	viper.SetEnvPrefix(config.EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	// Add persistent flags
	rootCmd.PersistentFlags().String("config", "", "Path to configuration file (YAML format); defaults to the official and Smithery registries")
	rootCmd.PersistentFlags().String("data-dir", "", "Data directory, overriding the configuration file")
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug mode")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	bindFlags(rootCmd, map[string]string{
		"config":    "config",
		"data-dir":  "data-dir",
		"debug":     "debug",
		"log-level": "log-level",
	}, true)

	// Add subcommands
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(introspectCmd)
	rootCmd.AddCommand(mergeCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)

	return rootCmd
}

// bindFlags binds flags to viper keys; keys are namespaced per command so
// commands sharing a flag name keep separate values
func bindFlags(cmd *cobra.Command, keys map[string]string, persistent bool) {
	flags := cmd.Flags()
	if persistent {
		flags = cmd.PersistentFlags()
	}
	for flag, key := range keys {
		if err := viper.BindPFlag(key, flags.Lookup(flag)); err != nil {
			slog.Error("Failed to bind flag", "flag", flag, "error", err)
		}
	}
}

// setupLogging installs the zap backed slog handler as the process default
func setupLogging() error {
	logger, err := newZapLogger(viper.GetBool("debug"), parseLogLevel(viper.GetString("log-level")))
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	zapLogger = logger
	slog.SetDefault(slog.New(newLogHandler(logger)))
	return nil
}

// loadConfig loads the configuration file, if any, and applies flag overrides
func loadConfig() (*config.Config, error) {
	var opts []config.Option
	if path := viper.GetString("config"); path != "" {
		opts = append(opts, config.WithConfigPath(path))
	}
	cfg, err := config.LoadConfig(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if dir := viper.GetString("data-dir"); dir != "" {
		cfg.DataDir = dir
	}
	slog.Debug("Configuration loaded", "sources", len(cfg.Sources), "data_dir", cfg.GetDataDir())
	return cfg, nil
}

// signalContext is cancelled on SIGINT or SIGTERM so runs persist progress and stop
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// initTelemetry creates the telemetry providers; the returned function flushes them
func initTelemetry(ctx context.Context, cfg *config.Config) (*telemetry.Telemetry, func(), error) {
	tel, err := telemetry.New(ctx, telemetry.WithTelemetryConfig(cfg.Telemetry))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	return tel, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), telemetryShutdownTimeout)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			slog.Warn("Failed to shut down telemetry", "error", err)
		}
	}, nil
}

// withComponents loads configuration, initialises telemetry and builds the
// pipeline components, then calls fn under a signal-aware context
func withComponents(cmd *cobra.Command, override func(*config.Config), fn func(context.Context, *aggapp.AppComponents) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if override != nil {
		override(cfg)
	}

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	tel, shutdown, err := initTelemetry(ctx, cfg)
	if err != nil {
		return err
	}
	defer shutdown()

	components, err := aggapp.NewComponents(ctx, aggapp.WithConfig(cfg), aggapp.WithTelemetry(tel))
	if err != nil {
		return fmt.Errorf("failed to build components: %w", err)
	}
	return fn(ctx, components)
}

// printJSON writes v to stdout as indented JSON
func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	RunE: func(cmd *cobra.Command, _ []string) error {
		info := versions.GetVersionInfo()
		format, err := cmd.Flags().GetString("format")
		if err != nil {
			return fmt.Errorf("failed to read format flag: %w", err)
		}

		if format == "json" {
			return printJSON(cmd, info)
		}
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "thv-registry-aggregator %s (commit %s, built %s, %s, %s)\n",
			info.Version, info.Commit, info.BuildDate, info.GoVersion, info.Platform)
		return err
	},
}

func init() {
	versionCmd.Flags().String("format", "", "Output format (json)")
}
