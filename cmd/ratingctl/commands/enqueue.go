package commands

import (
	"context"
	"fmt"

	"lead_rating_engine/internal/scheduler"
	"lead_rating_engine/platform/config"

	"github.com/spf13/cobra"
)

var enqueueCmd = &cobra.Command{
	Use:   "enqueue",
	Short: "Schedule background work on the task queue",
}

var enqueueRecalculateCmd = &cobra.Command{
	Use:   "recalculate [leadId...]",
	Short: "Queue a batch re-rating",
	RunE: func(cmd *cobra.Command, args []string) error {
		in, err := recalculateInput(args)
		if err != nil {
			return err
		}
		payload := scheduler.BatchRecalculatePayload{
			Condition: in.Condition,
			Reason:    string(in.Reason),
		}
		if in.OperatorID != nil {
			payload.OperatorID = in.OperatorID.String()
		}
		return withClient(cmd, func(ctx context.Context, c *scheduler.Client) (string, error) {
			return c.EnqueueBatchRecalculate(ctx, payload)
		})
	},
}

var enqueuePurgeDays int

var enqueuePurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Queue a history retention purge",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withClient(cmd, func(ctx context.Context, c *scheduler.Client) (string, error) {
			return c.EnqueueHistoryPurge(ctx, scheduler.HistoryPurgePayload{RetentionDays: enqueuePurgeDays})
		})
	},
}

var enqueueWarmupCmd = &cobra.Command{
	Use:   "warmup <leadId>...",
	Short: "Queue a cache warmup for the given leads",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, c *scheduler.Client) (string, error) {
			return c.EnqueueCacheWarmup(ctx, scheduler.CacheWarmupPayload{LeadIDs: args})
		})
	},
}

func init() {
	rootCmd.AddCommand(enqueueCmd)
	enqueueCmd.AddCommand(enqueueRecalculateCmd, enqueuePurgeCmd, enqueueWarmupCmd)

	addConditionFlags(enqueueRecalculateCmd)
	enqueueRecalculateCmd.Flags().StringVar(&recalcReason, "reason", "BATCH_RERATING", "change reason recorded in history")
	enqueueRecalculateCmd.Flags().StringVar(&recalcOperator, "operator", "", "operator id recorded in history")
	enqueuePurgeCmd.Flags().IntVar(&enqueuePurgeDays, "days", 0, "retention in days (default: worker setting)")
}

func withClient(cmd *cobra.Command, fn func(ctx context.Context, c *scheduler.Client) (string, error)) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	client, err := scheduler.NewClient(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	id, err := fn(ctx, client)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "enqueued task %s\n", id)
	return nil
}
