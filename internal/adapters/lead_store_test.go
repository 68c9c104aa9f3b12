package adapters

import (
	"strings"
	"testing"

	"lead_rating_engine/internal/rating/domain"
	"lead_rating_engine/internal/rating/ports"

	"github.com/google/uuid"
)

const unexpectedQueryMsg = "unexpected query: %s"

func TestLeadConditionQueryWithoutFilters(t *testing.T) {
	query, args := leadConditionQuery(ports.LeadCondition{})
	if strings.Contains(query, "WHERE") {
		t.Fatalf(unexpectedQueryMsg, query)
	}
	if len(args) != 0 {
		t.Fatalf("expected no args, got %d", len(args))
	}
}

func TestLeadConditionQueryCombinesRatingsAndUnrated(t *testing.T) {
	minScore := 40.0
	query, args := leadConditionQuery(ports.LeadCondition{
		Ratings:  []domain.Rating{domain.RatingC, domain.RatingD},
		Unrated:  true,
		MinScore: &minScore,
		Limit:    50,
	})
	if !strings.Contains(query, "(rating = ANY($1) OR rating IS NULL)") {
		t.Fatalf(unexpectedQueryMsg, query)
	}
	if !strings.Contains(query, "rating_score >= $2") {
		t.Fatalf(unexpectedQueryMsg, query)
	}
	if !strings.HasSuffix(query, "LIMIT $3") {
		t.Fatalf(unexpectedQueryMsg, query)
	}
	if len(args) != 3 {
		t.Fatalf("expected 3 args, got %d", len(args))
	}
}

func TestLeadConditionQueryMatchesIndustrySubstring(t *testing.T) {
	query, args := leadConditionQuery(ports.LeadCondition{
		LeadIDs:  []uuid.UUID{uuid.New()},
		Industry: "robotics",
	})
	if !strings.Contains(query, "industry_direction ILIKE '%' || $2 || '%'") {
		t.Fatalf(unexpectedQueryMsg, query)
	}
	if args[1] != "robotics" {
		t.Fatalf("expected industry arg, got %v", args[1])
	}
}

func TestTruncUnit(t *testing.T) {
	if unit, err := truncUnit(ports.GranularityWeek); err != nil || unit != "week" {
		t.Fatalf("expected week, got %q (%v)", unit, err)
	}
	if _, err := truncUnit("HOUR"); err == nil {
		t.Fatal("expected error for unsupported granularity")
	}
}
