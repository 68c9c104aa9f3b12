package commands

import (
	"testing"

	"lead_rating_engine/internal/rating/cache"
	"lead_rating_engine/internal/rating/domain"

	"github.com/google/uuid"
)

func TestFormatFromExtension(t *testing.T) {
	cases := map[string]string{
		"rules.yaml": "yaml",
		"rules.YML":  "yaml",
		"rules.json": "json",
		"rules":      "json",
	}
	for path, want := range cases {
		if got := formatFromExtension(path); got != want {
			t.Fatalf("%s: expected %s, got %s", path, want, got)
		}
	}
}

func TestRecalculateInputParsesFlags(t *testing.T) {
	recalcRatings = []string{"c", "D"}
	recalcUnrated = true
	recalcLimit = 10
	recalcReason = "rule_change"
	recalcOperator = ""
	t.Cleanup(func() {
		recalcRatings, recalcUnrated, recalcLimit, recalcReason = nil, false, 0, string(domain.ReasonBatchRerating)
	})

	id := uuid.New()
	in, err := recalculateInput([]string{id.String()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(in.Condition.LeadIDs) != 1 || in.Condition.LeadIDs[0] != id {
		t.Fatalf("unexpected lead ids: %v", in.Condition.LeadIDs)
	}
	if len(in.Condition.Ratings) != 2 || in.Condition.Ratings[0] != domain.RatingC {
		t.Fatalf("unexpected ratings: %v", in.Condition.Ratings)
	}
	if !in.Condition.Unrated || in.Condition.Limit != 10 {
		t.Fatalf("unexpected condition: %+v", in.Condition)
	}
	if in.Reason != domain.ReasonRuleChange || in.OperatorID != nil {
		t.Fatalf("unexpected reason/operator: %s %v", in.Reason, in.OperatorID)
	}
}

func TestRecalculateInputRejectsBadValues(t *testing.T) {
	recalcReason = string(domain.ReasonBatchRerating)
	recalcRatings = []string{"Z"}
	t.Cleanup(func() { recalcRatings = nil })

	if _, err := recalculateInput(nil); err == nil {
		t.Fatal("expected error for rating Z")
	}

	recalcRatings = nil
	if _, err := recalculateInput([]string{"not-a-uuid"}); err == nil {
		t.Fatal("expected error for malformed lead id")
	}
}

func TestAdjustInputParsesArgs(t *testing.T) {
	adjustReason = "verified by phone"
	t.Cleanup(func() { adjustReason = "" })

	id := uuid.New()
	in, err := adjustInput([]string{id.String(), "b", "72.5"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if in.LeadID != id || in.Rating != domain.RatingB || in.Score != 72.5 {
		t.Fatalf("unexpected input: %+v", in)
	}
	if in.Reason != "verified by phone" || in.Description != "" {
		t.Fatalf("unexpected reason/description: %q %q", in.Reason, in.Description)
	}

	if _, err := adjustInput([]string{id.String(), "Z", "72.5"}); err == nil {
		t.Fatal("expected error for rating Z")
	}
	if _, err := adjustInput([]string{id.String(), "B", "high"}); err == nil {
		t.Fatal("expected error for non-numeric score")
	}
}

func TestParseNamespace(t *testing.T) {
	if ns, ok := parseNamespace("rule-config"); !ok || ns != cache.NamespaceRuleConfig {
		t.Fatalf("expected rule-config namespace, got %q", ns)
	}
	if _, ok := parseNamespace("sessions"); ok {
		t.Fatal("expected unknown namespace to be rejected")
	}
}

func TestRootRegistersCommandGroups(t *testing.T) {
	want := []string{"migrate", "rules", "rate", "recalculate", "adjust", "history", "cache", "enqueue"}
	for _, name := range want {
		cmd, _, err := rootCmd.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Fatalf("expected %s command to be registered", name)
		}
	}
}
