package app

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	aggapp "github.com/stacklok/toolhive-registry-aggregator/internal/app"
	"github.com/stacklok/toolhive-registry-aggregator/internal/config"
	"github.com/stacklok/toolhive-registry-aggregator/internal/introspection"
)

var introspectCmd = &cobra.Command{
	Use:   "introspect",
	Short: "Probe stored servers for their tools, prompts and resources",
	Long: `Probe the remote endpoints of stored servers and persist one outcome per server.

Servers that already have a successful outcome are skipped unless --force is set.
Servers whose listing already carries capabilities are never probed, and servers
that only ship packages are recorded as not applicable.`,
	RunE: runIntrospect,
}

func init() {
	introspectCmd.Flags().StringSlice("source", nil, "Sources to probe (default: every enabled source)")
	introspectCmd.Flags().Bool("force", false, "Re-probe servers that were already introspected successfully")
	introspectCmd.Flags().String("filter", "", "Only probe servers whose name matches this regular expression (case-insensitive)")
	introspectCmd.Flags().Int("limit", 0, "Maximum number of servers to probe across all sources (0 means no limit)")
	introspectCmd.Flags().Int("concurrency", 0, "Number of servers probed at once (default from configuration)")
	bindFlags(introspectCmd, map[string]string{
		"source":      "introspect.source",
		"force":       "introspect.force",
		"filter":      "introspect.filter",
		"limit":       "introspect.limit",
		"concurrency": "introspect.concurrency",
	}, false)
}

// introspectOptions builds run options from the bound flags under prefix
func introspectOptions(prefix string) (introspection.RunOptions, error) {
	limit := viper.GetInt(prefix + ".limit")
	if limit < 0 {
		return introspection.RunOptions{}, fmt.Errorf("limit cannot be negative: %d", limit)
	}
	return introspection.RunOptions{
		Force:  viper.GetBool(prefix + ".force"),
		Filter: viper.GetString(prefix + ".filter"),
		Limit:  limit,
	}, nil
}

// applyConcurrency overrides the configured batch size when n is positive
func applyConcurrency(n int) func(*config.Config) {
	return func(cfg *config.Config) {
		if n <= 0 {
			return
		}
		if cfg.Introspection == nil {
			cfg.Introspection = &config.IntrospectionConfig{}
		}
		cfg.Introspection.Concurrency = n
	}
}

func runIntrospect(cmd *cobra.Command, _ []string) error {
	opts, err := introspectOptions("introspect")
	if err != nil {
		return err
	}

	override := applyConcurrency(viper.GetInt("introspect.concurrency"))
	return withComponents(cmd, override, func(ctx context.Context, c *aggapp.AppComponents) error {
		sources, err := c.Config.SelectSources(viper.GetStringSlice("introspect.source"))
		if err != nil {
			return err
		}
		for _, src := range sources {
			opts.Sources = append(opts.Sources, src.Name)
		}

		stats, err := c.Runner.Run(ctx, opts)
		if stats != nil {
			if printErr := printJSON(cmd, stats); printErr != nil {
				return printErr
			}
		}
		return err
	})
}
