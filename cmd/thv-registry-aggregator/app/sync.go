package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	aggapp "github.com/stacklok/toolhive-registry-aggregator/internal/app"
	pkgsync "github.com/stacklok/toolhive-registry-aggregator/internal/sync"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Pull server listings from the source registries",
	Long: `Pull server listings from the configured source registries into the data directory.

Modes:
  auto         incremental when a previous sync completed, full otherwise
  full         walk the whole listing
  incremental  fetch servers updated since the last completed sync (or --since)
  resume       continue where an interrupted or limited sync stopped`,
	RunE: runSync,
}

func init() {
	syncCmd.Flags().StringSlice("source", nil, "Sources to sync (default: every enabled source)")
	syncCmd.Flags().String("mode", string(pkgsync.RunModeAuto), "Sync mode (auto, full, incremental, resume)")
	syncCmd.Flags().String("since", "", "Updated-since timestamp (RFC 3339) for incremental syncs")
	syncCmd.Flags().Int("limit", 0, "Maximum number of servers to fetch per source (0 means no limit)")
	bindFlags(syncCmd, map[string]string{
		"source": "sync.source",
		"mode":   "sync.mode",
		"since":  "sync.since",
		"limit":  "sync.limit",
	}, false)
}

// syncRequest builds a sync request from the bound flags under prefix
func syncRequest(prefix string) (pkgsync.Request, error) {
	mode, err := pkgsync.ParseRunMode(viper.GetString(prefix + ".mode"))
	if err != nil {
		return pkgsync.Request{}, err
	}
	since, err := parseSince(viper.GetString(prefix + ".since"))
	if err != nil {
		return pkgsync.Request{}, err
	}
	limit := viper.GetInt(prefix + ".limit")
	if limit < 0 {
		return pkgsync.Request{}, fmt.Errorf("limit cannot be negative: %d", limit)
	}
	return pkgsync.Request{Mode: mode, Since: since, Limit: limit}, nil
}

// parseSince parses an RFC 3339 timestamp; empty means none
func parseSince(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, fmt.Errorf("invalid --since timestamp '%s' (expected RFC 3339): %w", raw, err)
	}
	return &t, nil
}

func runSync(cmd *cobra.Command, _ []string) error {
	req, err := syncRequest("sync")
	if err != nil {
		return err
	}

	return withComponents(cmd, nil, func(ctx context.Context, c *aggapp.AppComponents) error {
		sources, err := c.Config.SelectSources(viper.GetStringSlice("sync.source"))
		if err != nil {
			return err
		}

		var errs []error
		for i := range sources {
			if ctx.Err() != nil {
				break
			}
			result, err := c.SyncManager.Sync(ctx, &sources[i], &req)
			if err != nil {
				slog.Error("Sync failed", "source", sources[i].Name, "error", err)
				errs = append(errs, err)
				continue
			}
			slog.Info("Sync finished",
				"source", result.Source,
				"mode", result.Mode,
				"fetched", result.Fetched,
				"skipped", result.Skipped,
				"filtered", result.Filtered,
				"completed", result.Completed,
				"total_records", result.TotalRecords,
				"duration", result.Duration)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		return errors.Join(errs...)
	})
}
