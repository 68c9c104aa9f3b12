package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"lead_rating_engine/internal/rating/rules"

	"github.com/spf13/cobra"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Manage rating rules",
}

var (
	rulesFormat       string
	rulesImportFormat string
	rulesOut          string
)

var rulesExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export all rules as a JSON or YAML document",
	RunE: func(cmd *cobra.Command, _ []string) error {
		format, err := rules.ParseFormat(rulesFormat)
		if err != nil {
			return err
		}
		return withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
			data, err := rt.module.Rules().ExportDocument(ctx, format)
			if err != nil {
				return err
			}
			if rulesOut == "" {
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			return os.WriteFile(rulesOut, data, 0o644)
		})
	},
}

var rulesImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import rules from a document; existing names are skipped",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		name := rulesImportFormat
		if name == "" {
			name = formatFromExtension(args[0])
		}
		format, err := rules.ParseFormat(name)
		if err != nil {
			return err
		}
		return withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
			result, err := rt.module.Rules().ImportDocument(ctx, data, format)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), result)
		})
	},
}

var rulesResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Replace every rule with the default rule set",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
			created, err := rt.module.Rules().ResetToDefaults(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "restored %d default rules\n", len(created))
			return nil
		})
	},
}

var rulesValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the stored rule set",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
			res, err := rt.module.Rules().ValidateAll(ctx)
			if err != nil {
				return err
			}
			if err := printJSON(cmd.OutOrStdout(), res); err != nil {
				return err
			}
			if !res.Valid() {
				return fmt.Errorf("rule set has %d errors", len(res.Errors))
			}
			return nil
		})
	},
}

var rulesStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show rule counts and weight balance",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
			stats, err := rt.module.Rules().Statistics(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), stats)
		})
	},
}

func init() {
	rootCmd.AddCommand(rulesCmd)
	rulesCmd.AddCommand(rulesExportCmd, rulesImportCmd, rulesResetCmd, rulesValidateCmd, rulesStatsCmd)

	rulesExportCmd.Flags().StringVar(&rulesFormat, "format", "json", "document format (json|yaml)")
	rulesExportCmd.Flags().StringVarP(&rulesOut, "out", "o", "", "write to file instead of stdout")
	rulesImportCmd.Flags().StringVar(&rulesImportFormat, "format", "", "document format (json|yaml); defaults to the file extension")
}

func formatFromExtension(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return "yaml"
	}
	return "json"
}
