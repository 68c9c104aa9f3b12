package commands

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"lead_rating_engine/internal/rating/domain"
	"lead_rating_engine/internal/rating/ports"
	"lead_rating_engine/internal/rating/service"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var rateDetail bool

var rateCmd = &cobra.Command{
	Use:   "rate <leadId>",
	Short: "Calculate the rating of one lead",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		leadID, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid lead id: %w", err)
		}
		return withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
			if rateDetail {
				detail, err := rt.module.Engine().GetRatingDetail(ctx, leadID)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), detail)
			}
			result, err := rt.module.Engine().CalculateRatingByID(ctx, leadID)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), result)
		})
	},
}

var (
	recalcRatings  []string
	recalcUnrated  bool
	recalcLimit    int
	recalcReason   string
	recalcOperator string
)

var recalculateCmd = &cobra.Command{
	Use:   "recalculate [leadId...]",
	Short: "Re-rate leads by id or by condition",
	RunE: func(cmd *cobra.Command, args []string) error {
		in, err := recalculateInput(args)
		if err != nil {
			return err
		}
		return withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
			result, err := rt.module.Engine().BatchRecalculateRating(ctx, in)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), result)
		})
	},
}

var (
	adjustReason      string
	adjustDescription string
	adjustOperator    string
)

var adjustCmd = &cobra.Command{
	Use:   "adjust <leadId> <rating> <score>",
	Short: "Manually override the rating of one lead",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		in, err := adjustInput(args)
		if err != nil {
			return err
		}
		return withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
			result, err := rt.module.Engine().AdjustRating(ctx, in)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), result)
		})
	},
}

func init() {
	rootCmd.AddCommand(rateCmd, recalculateCmd, adjustCmd)

	adjustCmd.Flags().StringVar(&adjustReason, "reason", "", "adjustment reason (required)")
	adjustCmd.Flags().StringVar(&adjustDescription, "description", "", "history description (defaults to the reason)")
	adjustCmd.Flags().StringVar(&adjustOperator, "operator", "", "operator id recorded in history")

	rateCmd.Flags().BoolVar(&rateDetail, "detail", false, "include stored values and recent history")

	addConditionFlags(recalculateCmd)
	recalculateCmd.Flags().StringVar(&recalcReason, "reason", string(domain.ReasonBatchRerating), "change reason recorded in history")
	recalculateCmd.Flags().StringVar(&recalcOperator, "operator", "", "operator id recorded in history")
}

func addConditionFlags(cmd *cobra.Command) {
	cmd.Flags().StringSliceVar(&recalcRatings, "rating", nil, "only leads currently rated with these grades")
	cmd.Flags().BoolVar(&recalcUnrated, "unrated", false, "include leads that were never rated")
	cmd.Flags().IntVar(&recalcLimit, "limit", 0, "maximum number of leads (0 = no limit)")
}

func leadCondition(args []string) (ports.LeadCondition, error) {
	cond := ports.LeadCondition{Unrated: recalcUnrated, Limit: recalcLimit}
	for _, raw := range args {
		id, err := uuid.Parse(raw)
		if err != nil {
			return cond, fmt.Errorf("invalid lead id %q: %w", raw, err)
		}
		cond.LeadIDs = append(cond.LeadIDs, id)
	}
	for _, raw := range recalcRatings {
		r, ok := domain.ParseRating(raw)
		if !ok {
			return cond, fmt.Errorf("invalid rating %q", raw)
		}
		cond.Ratings = append(cond.Ratings, r)
	}
	return cond, nil
}

func recalculateInput(args []string) (service.RecalculateInput, error) {
	cond, err := leadCondition(args)
	if err != nil {
		return service.RecalculateInput{}, err
	}
	reason, ok := domain.ParseChangeReason(recalcReason)
	if !ok {
		return service.RecalculateInput{}, fmt.Errorf("invalid change reason %q", recalcReason)
	}
	op, err := optionalUUID(recalcOperator)
	if err != nil {
		return service.RecalculateInput{}, err
	}
	return service.RecalculateInput{Condition: cond, Reason: reason, OperatorID: op}, nil
}

func adjustInput(args []string) (service.AdjustInput, error) {
	leadID, err := uuid.Parse(args[0])
	if err != nil {
		return service.AdjustInput{}, fmt.Errorf("invalid lead id: %w", err)
	}
	rating, ok := domain.ParseRating(args[1])
	if !ok {
		return service.AdjustInput{}, fmt.Errorf("invalid rating %q", args[1])
	}
	score, err := strconv.ParseFloat(args[2], 64)
	if err != nil {
		return service.AdjustInput{}, fmt.Errorf("invalid score %q: %w", args[2], err)
	}
	op, err := optionalUUID(adjustOperator)
	if err != nil {
		return service.AdjustInput{}, err
	}
	return service.AdjustInput{
		LeadID:      leadID,
		Rating:      rating,
		Score:       score,
		Reason:      adjustReason,
		Description: adjustDescription,
		OperatorID:  op,
	}, nil
}

func optionalUUID(raw string) (*uuid.UUID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid id %q: %w", raw, err)
	}
	return &id, nil
}
