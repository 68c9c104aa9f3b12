package commands

import (
	"context"
	"fmt"

	"lead_rating_engine/internal/rating/service"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect and maintain rating history",
}

var historyPurgeDays int

var historyPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete history rows older than the retention period",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
			days := historyPurgeDays
			if days <= 0 {
				days = rt.cfg.GetHistoryRetentionDays()
			}
			deleted, err := rt.module.History().DeleteExpired(ctx, days)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d rows older than %d days\n", deleted, days)
			return nil
		})
	},
}

var historySuggestCmd = &cobra.Command{
	Use:   "suggest <leadId>",
	Short: "List rollback options for a lead",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		leadID, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid lead id: %w", err)
		}
		return withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
			suggestion, err := rt.module.History().RollbackSuggestions(ctx, leadID)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), suggestion)
		})
	},
}

var (
	rollbackReason   string
	rollbackOperator string
)

var historyRollbackCmd = &cobra.Command{
	Use:   "rollback <leadId> <historyId>",
	Short: "Restore the rating recorded by a previous history row",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		leadID, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid lead id: %w", err)
		}
		targetID, err := uuid.Parse(args[1])
		if err != nil {
			return fmt.Errorf("invalid history id: %w", err)
		}
		op, err := optionalUUID(rollbackOperator)
		if err != nil {
			return err
		}
		return withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
			row, err := rt.module.Engine().RollbackRating(ctx, service.RollbackInput{
				LeadID:     leadID,
				TargetID:   targetID,
				OperatorID: op,
				Reason:     rollbackReason,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), row)
		})
	},
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.AddCommand(historyPurgeCmd, historySuggestCmd, historyRollbackCmd)

	historyPurgeCmd.Flags().IntVar(&historyPurgeDays, "days", 0, "retention in days (default HISTORY_RETENTION_DAYS)")
	historyRollbackCmd.Flags().StringVar(&rollbackReason, "reason", "", "reason recorded on the rollback row")
	historyRollbackCmd.Flags().StringVar(&rollbackOperator, "operator", "", "operator id recorded on the rollback row")
}
