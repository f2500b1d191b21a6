package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	aggapp "github.com/stacklok/toolhive-registry-aggregator/internal/app"
	"github.com/stacklok/toolhive-registry-aggregator/internal/merge"
	"github.com/stacklok/toolhive-registry-aggregator/internal/unified"
)

var mergeCmd = &cobra.Command{
	Use:   "merge",
	Short: "Merge stored servers into one deduplicated catalog",
	Long: `Merge the stored servers of every source, attach introspected capabilities,
resolve duplicates and export the unified snapshot and index to the data directory.`,
	RunE: runMerge,
}

func init() {
	mergeCmd.Flags().StringSlice("source", nil, "Sources to merge (default: every enabled source)")
	bindFlags(mergeCmd, map[string]string{"source": "merge.source"}, false)
}

// snapshotSummary is the command output of a merge
type snapshotSummary struct {
	GeneratedAt        string                          `json:"generated_at"`
	TotalCount         int                             `json:"total_count"`
	WithTools          int                             `json:"with_tools"`
	TotalTools         int                             `json:"total_tools"`
	DuplicatesResolved int                             `json:"duplicates_resolved"`
	Sources            map[string]*unified.SourceStats `json:"sources"`
}

func summarize(s *unified.Snapshot) *snapshotSummary {
	return &snapshotSummary{
		GeneratedAt:        s.GeneratedAt.Format(time.RFC3339),
		TotalCount:         s.TotalCount,
		WithTools:          s.WithTools,
		TotalTools:         s.TotalTools,
		DuplicatesResolved: s.DuplicateCount,
		Sources:            s.Sources,
	}
}

func runMerge(cmd *cobra.Command, _ []string) error {
	return withComponents(cmd, nil, func(ctx context.Context, c *aggapp.AppComponents) error {
		sources, err := c.Config.SelectSources(viper.GetStringSlice("merge.source"))
		if err != nil {
			return err
		}
		names := make([]string, 0, len(sources))
		for _, src := range sources {
			names = append(names, src.Name)
		}

		snapshot, err := c.Merger.Merge(ctx, &merge.Request{Sources: names})
		if err != nil {
			return fmt.Errorf("failed to merge: %w", err)
		}
		slog.Info("Merge finished", "servers", snapshot.TotalCount, "with_tools", snapshot.WithTools)
		return printJSON(cmd, summarize(snapshot))
	})
}
