package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Rule configures one scoring dimension.
type Rule struct {
	ID           uuid.UUID         `json:"id" yaml:"id"`
	Name         string            `json:"name" yaml:"name"`
	Type         RuleType          `json:"type" yaml:"type"`
	Weight       decimal.Decimal   `json:"weight" yaml:"weight"`
	Method       CalculationMethod `json:"method" yaml:"method"`
	ConfigParams string            `json:"configParams,omitempty" yaml:"configParams,omitempty"`
	Enabled      bool              `json:"enabled" yaml:"enabled"`
	// SortOrder of 0 means unset; the store assigns max+1 on create.
	SortOrder   int       `json:"sortOrder" yaml:"sortOrder"`
	Description string    `json:"description,omitempty" yaml:"description,omitempty"`
	CreatedAt   time.Time `json:"createdAt" yaml:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt" yaml:"updatedAt"`
}

// WeightFloat is the weight as float64 for reporting.
func (r Rule) WeightFloat() float64 {
	f, _ := r.Weight.Float64()
	return f
}

// EnabledWeightSum totals the weights of enabled rules.
func EnabledWeightSum(rules []Rule) decimal.Decimal {
	sum := decimal.Zero
	for _, r := range rules {
		if r.Enabled {
			sum = sum.Add(r.Weight)
		}
	}
	return sum
}

// DefaultRules is the canonical rule set: one enabled rule per dimension with
// weights summing to 1.00.
func DefaultRules() []Rule {
	defs := []struct {
		name   string
		typ    RuleType
		method CalculationMethod
		desc   string
	}{
		{"Information completeness", RuleTypeCompleteness, MethodWeightedSum, "Scores the share of required lead fields that are filled in"},
		{"Qualification", RuleTypeQualification, MethodWeightedSum, "Scores company type and registered capital"},
		{"Company scale", RuleTypeScale, MethodWeightedSum, "Scores registered capital and planned investment tiers"},
		{"Industry value", RuleTypeIndustryValue, MethodWeightedSum, "Scores the target industry by market value"},
		{"Location", RuleTypeLocation, MethodWeightedSum, "Scores the intended region by city tier"},
		{"Timeliness", RuleTypeTimeliness, MethodWeightedSum, "Scores how recently the lead was published"},
		{"Publisher reputation", RuleTypeUserReputation, MethodWeightedSum, "Scores the reputation of the publishing user"},
	}

	rules := make([]Rule, 0, len(defs))
	for i, d := range defs {
		rules = append(rules, Rule{
			Name:         d.name,
			Type:         d.typ,
			Weight:       d.typ.DefaultWeight(),
			Method:       d.method,
			ConfigParams: ConfigTemplate(d.typ),
			Enabled:      true,
			SortOrder:    i + 1,
			Description:  d.desc,
		})
	}
	return rules
}
