package cmd

import (
	"context"

	"github.com/Siddhant-K-code/identd/pkg/cache"
	"github.com/Siddhant-K-code/identd/pkg/profile"
	"github.com/spf13/cobra"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect the identity cache",
	Long: `The cache lives inside one engine process. From the CLI these commands
show the effective configuration and an empty cache; against a running
server use GET /v1/cache/metrics and POST /v1/cache/clear instead.

Examples:
  identd cache stats
  identd cache clear --namespace similarity`,
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache counters per namespace",
	RunE:  runCacheStats,
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Empty one namespace or the whole cache",
	RunE:  runCacheClear,
}

func init() {
	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cacheStatsCmd, cacheClearCmd)

	cacheClearCmd.Flags().String("namespace", "", "profile, similarity, context or trust (default: all)")
}

func runCacheStats(_ *cobra.Command, _ []string) error {
	return withEngine(func(_ context.Context, e *profile.Engine) error {
		return printJSON(e.GetCacheMetrics())
	})
}

func runCacheClear(cmd *cobra.Command, _ []string) error {
	raw, _ := cmd.Flags().GetString("namespace")
	var ns cache.Namespace
	if raw != "" {
		var err error
		if ns, err = cache.ParseNamespace(raw); err != nil {
			return err
		}
	}
	return withEngine(func(_ context.Context, e *profile.Engine) error {
		if err := e.ClearCache(ns); err != nil {
			return err
		}
		return printJSON(map[string]any{"cleared": ns, "metrics": e.GetCacheMetrics()})
	})
}
