package app

import (
	"context"
	"errors"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	aggapp "github.com/stacklok/toolhive-registry-aggregator/internal/app"
	"github.com/stacklok/toolhive-registry-aggregator/internal/pipeline"
	pkgsync "github.com/stacklok/toolhive-registry-aggregator/internal/sync"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Sync, introspect and merge in one go",
	Long: `Run the whole pipeline: sync every selected source, probe the stored servers,
then merge and export the unified catalog. A failing source does not stop the
others; the command reports it once the merge is done.`,
	RunE: runPipeline,
}

func init() {
	addPipelineFlags(runCmd, "run")
}

// addPipelineFlags registers the flags shared by run and serve under prefix
func addPipelineFlags(cmd *cobra.Command, prefix string) {
	cmd.Flags().StringSlice("source", nil, "Sources to process (default: every enabled source)")
	cmd.Flags().String("mode", string(pkgsync.RunModeAuto), "Sync mode (auto, full, incremental, resume)")
	cmd.Flags().String("since", "", "Updated-since timestamp (RFC 3339) for incremental syncs")
	cmd.Flags().Int("limit", 0, "Maximum number of servers to fetch per source (0 means no limit)")
	cmd.Flags().Bool("force", false, "Re-probe servers that were already introspected successfully")
	cmd.Flags().String("filter", "", "Only probe servers whose name matches this regular expression")
	cmd.Flags().Int("introspect-limit", 0, "Maximum number of servers to probe (0 means no limit)")
	cmd.Flags().Int("concurrency", 0, "Number of servers probed at once (default from configuration)")
	cmd.Flags().Bool("skip-sync", false, "Skip the sync stage")
	cmd.Flags().Bool("skip-introspection", false, "Skip the introspection stage")
	bindFlags(cmd, map[string]string{
		"source":             prefix + ".source",
		"mode":               prefix + ".mode",
		"since":              prefix + ".since",
		"limit":              prefix + ".limit",
		"force":              prefix + ".introspect.force",
		"filter":             prefix + ".introspect.filter",
		"introspect-limit":   prefix + ".introspect.limit",
		"concurrency":        prefix + ".concurrency",
		"skip-sync":          prefix + ".skip-sync",
		"skip-introspection": prefix + ".skip-introspection",
	}, false)
}

// pipelineOptions builds pipeline options from the flags bound under prefix
func pipelineOptions(prefix string) (*pipeline.Options, error) {
	syncReq, err := syncRequest(prefix)
	if err != nil {
		return nil, err
	}
	introspectOpts, err := introspectOptions(prefix + ".introspect")
	if err != nil {
		return nil, err
	}
	return &pipeline.Options{
		Sources:           viper.GetStringSlice(prefix + ".source"),
		Sync:              syncReq,
		Introspection:     introspectOpts,
		SkipSync:          viper.GetBool(prefix + ".skip-sync"),
		SkipIntrospection: viper.GetBool(prefix + ".skip-introspection"),
	}, nil
}

func runPipeline(cmd *cobra.Command, _ []string) error {
	opts, err := pipelineOptions("run")
	if err != nil {
		return err
	}

	override := applyConcurrency(viper.GetInt("run.concurrency"))
	return withComponents(cmd, override, func(ctx context.Context, c *aggapp.AppComponents) error {
		result, err := c.Pipeline.Run(ctx, opts)
		if result != nil && result.Snapshot != nil {
			if printErr := printJSON(cmd, summarize(result.Snapshot)); printErr != nil {
				err = errors.Join(err, printErr)
			}
		}
		if result != nil {
			slog.Info("Run finished", "run_id", result.RunID, "duration", result.Duration)
		}
		return err
	})
}
