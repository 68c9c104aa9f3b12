// Package scoring computes lead ratings from lead attributes and the active
// rule set. Everything here is side-effect free.
package scoring

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"lead_rating_engine/internal/rating/domain"

	"github.com/shopspring/decimal"
)

const (
	// Version tags every result and history row produced by this engine.
	// Bump it when the heuristics below change.
	Version = "v2.0.0"

	// Neutral score for dimensions whose input is unknown.
	baseScore = 50.0
)

var (
	hundred = decimal.NewFromInt(100)
	million = decimal.NewFromInt(1_000_000)
)

// Engine computes ratings. The zero value uses the wall clock.
type Engine struct {
	now func() time.Time
}

// New creates an engine. A nil clock uses time.Now.
func New(clock func() time.Time) *Engine {
	if clock == nil {
		clock = time.Now
	}
	return &Engine{now: clock}
}

func (e *Engine) clock() time.Time {
	if e == nil || e.now == nil {
		return time.Now().UTC()
	}
	return e.now().UTC()
}

// Compute rates lead against the enabled rules in rules. Disabled rules are
// ignored. With no enabled rules the score is 0 and the rating D; callers
// that require rules must check beforehand.
func (e *Engine) Compute(lead domain.Lead, rules []domain.Rule) domain.Result {
	now := e.clock()
	groups := groupEnabled(rules)

	dims := make([]domain.RuleType, 0, len(groups))
	for t := range groups {
		dims = append(dims, t)
	}
	sort.Slice(dims, func(i, j int) bool { return dims[i].Ordinal() < dims[j].Ordinal() })

	dimensionScores := make(map[domain.RuleType]float64, len(dims))
	weights := make(map[domain.RuleType]decimal.Decimal, len(dims))
	weighted := decimal.Zero
	totalWeight := decimal.Zero

	for _, t := range dims {
		score := round2(decimal.NewFromFloat(e.DimensionScore(t, lead, now)))
		weight := dimensionWeight(t, groups[t])

		dimensionScores[t], _ = score.Float64()
		weights[t] = weight
		weighted = weighted.Add(score.Mul(weight))
		totalWeight = totalWeight.Add(weight)
	}

	total := decimal.Zero
	if totalWeight.IsPositive() {
		total = weighted.Div(totalWeight)
	}
	total = round2(clampDecimal(total, decimal.Zero, hundred))

	score, _ := total.Float64()
	rating := domain.RatingFromScore(score)

	return domain.Result{
		LeadID:             lead.ID,
		Rating:             rating,
		Score:              score,
		DimensionScores:    dimensionScores,
		CalculationDetails: narrative(dims, dimensionScores, weights, total, rating, now),
		CalculatedAt:       now,
		Version:            Version,
	}
}

// DimensionScore returns the [0,100] score of one dimension.
func (e *Engine) DimensionScore(t domain.RuleType, lead domain.Lead, now time.Time) float64 {
	var score float64
	switch t {
	case domain.RuleTypeCompleteness:
		score = scoreCompleteness(lead)
	case domain.RuleTypeQualification:
		score = scoreQualification(lead)
	case domain.RuleTypeScale:
		score = scoreScale(lead)
	case domain.RuleTypeIndustryValue:
		score = scoreIndustry(lead)
	case domain.RuleTypeLocation:
		score = scoreLocation(lead)
	case domain.RuleTypeTimeliness:
		score = scoreTimeliness(lead, now)
	case domain.RuleTypeUserReputation:
		score = scoreReputation(lead)
	default:
		score = baseScore
	}
	return clampFloat(score, 0, 100)
}

func groupEnabled(rules []domain.Rule) map[domain.RuleType][]domain.Rule {
	groups := make(map[domain.RuleType][]domain.Rule)
	for _, r := range rules {
		if !r.Enabled || !r.Type.Valid() {
			continue
		}
		groups[r.Type] = append(groups[r.Type], r)
	}
	return groups
}

// dimensionWeight is the mean weight of the dimension's rules, or the
// default table entry when none are configured.
func dimensionWeight(t domain.RuleType, rules []domain.Rule) decimal.Decimal {
	if len(rules) == 0 {
		return t.DefaultWeight()
	}
	sum := decimal.Zero
	for _, r := range rules {
		sum = sum.Add(r.Weight)
	}
	return sum.Div(decimal.NewFromInt(int64(len(rules))))
}

func narrative(dims []domain.RuleType, scores map[domain.RuleType]float64, weights map[domain.RuleType]decimal.Decimal, total decimal.Decimal, rating domain.Rating, at time.Time) string {
	var b strings.Builder
	b.WriteString("Rating calculation details:\n")
	for _, t := range dims {
		fmt.Fprintf(&b, "- %s: %.2f (weight %s)\n", t.DisplayName(), scores[t], weights[t].StringFixed(2))
	}
	fmt.Fprintf(&b, "Total score: %s\n", total.StringFixed(2))
	fmt.Fprintf(&b, "Rating: %s\n", rating)
	fmt.Fprintf(&b, "Engine version: %s\n", Version)
	fmt.Fprintf(&b, "Calculated at: %s", at.Format(time.RFC3339))
	return b.String()
}

// round2 rounds half away from zero, which is half-up for the non-negative
// scores handled here.
func round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

func clampDecimal(v, min, max decimal.Decimal) decimal.Decimal {
	if v.LessThan(min) {
		return min
	}
	if v.GreaterThan(max) {
		return max
	}
	return v
}

func clampFloat(value float64, min float64, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}
