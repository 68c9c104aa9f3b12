package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"lead_rating_engine/internal/rating/cache"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and maintain the rating cache",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show entry counts per namespace",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
			return printJSON(cmd.OutOrStdout(), rt.module.Cache().SizeInfo(ctx))
		})
	},
}

var cacheOut string

var cacheExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write a snapshot of every cache entry",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
			snap, err := rt.module.Cache().Export(ctx)
			if err != nil {
				return err
			}
			if cacheOut == "" {
				return printJSON(cmd.OutOrStdout(), snap)
			}
			data, err := json.MarshalIndent(snap, "", "  ")
			if err != nil {
				return err
			}
			return os.WriteFile(cacheOut, data, 0o644)
		})
	},
}

var cacheImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Load a snapshot written by cache export",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		var snap cache.Snapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			return fmt.Errorf("decode snapshot: %w", err)
		}
		return withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
			report, err := rt.module.Cache().Import(ctx, snap)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), report)
		})
	},
}

var cacheWarmupCmd = &cobra.Command{
	Use:   "warmup [leadId...]",
	Short: "Reload rule configuration and precompute results for the given leads",
	RunE: func(cmd *cobra.Command, args []string) error {
		ids := make([]uuid.UUID, 0, len(args))
		for _, raw := range args {
			id, err := uuid.Parse(raw)
			if err != nil {
				return fmt.Errorf("invalid lead id %q: %w", raw, err)
			}
			ids = append(ids, id)
		}
		return withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
			rulesReport, err := rt.module.Engine().RefreshRuleCache(ctx)
			if err != nil {
				return err
			}
			resultsReport, err := rt.module.Engine().WarmupCache(ctx, ids)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]cache.WarmupReport{
				"rules":   rulesReport,
				"results": resultsReport,
			})
		})
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear [namespace]",
	Short: "Delete cached entries, optionally of one namespace",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
			var (
				n   int64
				err error
			)
			if len(args) == 0 {
				n, err = rt.module.Cache().ClearAll(ctx)
			} else {
				ns, ok := parseNamespace(args[0])
				if !ok {
					return fmt.Errorf("unknown namespace %q", args[0])
				}
				n, err = rt.module.Cache().Clear(ctx, ns)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d entries\n", n)
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cacheStatsCmd, cacheExportCmd, cacheImportCmd, cacheWarmupCmd, cacheClearCmd)

	cacheExportCmd.Flags().StringVarP(&cacheOut, "out", "o", "", "write to file instead of stdout")
}

func parseNamespace(s string) (cache.Namespace, bool) {
	for _, ns := range cache.Namespaces() {
		if string(ns) == s {
			return ns, true
		}
	}
	return "", false
}
