package app

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/stacklok/toolhive-registry-aggregator/internal/app/storage"
	"github.com/stacklok/toolhive-registry-aggregator/internal/service"
	"github.com/stacklok/toolhive-registry-aggregator/internal/service/inmemory"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show sync progress and merge statistics per source",
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().String("format", "table", "Output format (table, json)")
}

func runStatus(cmd *cobra.Command, _ []string) error {
	format, err := cmd.Flags().GetString("format")
	if err != nil {
		return fmt.Errorf("failed to read format flag: %w", err)
	}
	if format != "table" && format != "json" {
		return fmt.Errorf("unknown format '%s' (expected table or json)", format)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	factory, err := storage.NewFileFactory(cfg.GetDataDir())
	if err != nil {
		return err
	}
	defer factory.Cleanup()

	names := make([]string, 0, len(cfg.Sources))
	for _, src := range cfg.Sources {
		names = append(names, src.Name)
	}
	svc, err := inmemory.New(cmd.Context(), factory.CreateSnapshotProvider(),
		inmemory.WithProgressStore(factory.CreateProgressStore()),
		inmemory.WithSourceNames(names...),
	)
	if err != nil {
		return err
	}

	sources, err := svc.ListSources(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to list sources: %w", err)
	}
	if format == "json" {
		return printJSON(cmd, sources)
	}
	return renderStatus(cmd.OutOrStdout(), sources)
}

// renderStatus prints one row per source
func renderStatus(w io.Writer, sources []service.SourceInfo) error {
	table := tablewriter.NewWriter(w)
	table.Header("Source", "Phase", "Last Sync", "Records", "Resumable", "Last Run", "Merged", "With Tools")

	for _, src := range sources {
		phase := string(src.Phase)
		if phase == "" {
			phase = "never synced"
		}
		lastSync := "-"
		if src.LastSync != nil {
			lastSync = src.LastSync.UTC().Format(time.RFC3339)
		}
		lastRun := "-"
		if run := src.LastRun; run != nil {
			lastRun = fmt.Sprintf("%s: %d fetched", run.Mode, run.Fetched)
			if run.Error != "" {
				lastRun += " (failed)"
			}
		}
		merged, withTools := "-", "-"
		if src.Merged != nil {
			merged = strconv.Itoa(src.Merged.Total)
			withTools = strconv.Itoa(src.Merged.WithTools)
		}

		if err := table.Append([]string{
			src.Name,
			phase,
			lastSync,
			strconv.Itoa(src.TotalRecords),
			strconv.FormatBool(src.Resumable),
			lastRun,
			merged,
			withTools,
		}); err != nil {
			return fmt.Errorf("failed to render status: %w", err)
		}
	}
	return table.Render()
}
