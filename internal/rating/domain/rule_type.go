package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

// RuleType is a scoring dimension.
type RuleType string

const (
	RuleTypeCompleteness   RuleType = "COMPLETENESS"
	RuleTypeQualification  RuleType = "QUALIFICATION"
	RuleTypeScale          RuleType = "SCALE"
	RuleTypeIndustryValue  RuleType = "INDUSTRY_VALUE"
	RuleTypeLocation       RuleType = "LOCATION"
	RuleTypeTimeliness     RuleType = "TIMELINESS"
	RuleTypeUserReputation RuleType = "USER_REPUTATION"
)

var ruleTypeOrder = []RuleType{
	RuleTypeCompleteness,
	RuleTypeQualification,
	RuleTypeScale,
	RuleTypeIndustryValue,
	RuleTypeLocation,
	RuleTypeTimeliness,
	RuleTypeUserReputation,
}

var ruleTypeNames = map[RuleType]string{
	RuleTypeCompleteness:   "Completeness",
	RuleTypeQualification:  "Qualification",
	RuleTypeScale:          "Scale",
	RuleTypeIndustryValue:  "Industry value",
	RuleTypeLocation:       "Location",
	RuleTypeTimeliness:     "Timeliness",
	RuleTypeUserReputation: "User reputation",
}

var defaultDimensionWeights = map[RuleType]decimal.Decimal{
	RuleTypeCompleteness:   decimal.RequireFromString("0.25"),
	RuleTypeQualification:  decimal.RequireFromString("0.20"),
	RuleTypeScale:          decimal.RequireFromString("0.20"),
	RuleTypeIndustryValue:  decimal.RequireFromString("0.15"),
	RuleTypeLocation:       decimal.RequireFromString("0.10"),
	RuleTypeTimeliness:     decimal.RequireFromString("0.05"),
	RuleTypeUserReputation: decimal.RequireFromString("0.05"),
}

var fallbackDimensionWeight = decimal.RequireFromString("0.10")

// AllRuleTypes returns the dimensions in canonical order.
func AllRuleTypes() []RuleType {
	out := make([]RuleType, len(ruleTypeOrder))
	copy(out, ruleTypeOrder)
	return out
}

func ParseRuleType(s string) (RuleType, bool) {
	t := RuleType(strings.ToUpper(strings.TrimSpace(s)))
	return t, t.Valid()
}

func (t RuleType) Valid() bool {
	_, ok := ruleTypeNames[t]
	return ok
}

// DisplayName is a human label used in calculation narratives.
func (t RuleType) DisplayName() string {
	if name, ok := ruleTypeNames[t]; ok {
		return name
	}
	return string(t)
}

// Ordinal is the dimension's position in canonical order, or len+1 if unknown.
func (t RuleType) Ordinal() int {
	for i, rt := range ruleTypeOrder {
		if rt == t {
			return i + 1
		}
	}
	return len(ruleTypeOrder) + 1
}

// DefaultWeight is used when no enabled rule configures the dimension.
func (t RuleType) DefaultWeight() decimal.Decimal {
	if w, ok := defaultDimensionWeights[t]; ok {
		return w
	}
	return fallbackDimensionWeight
}

// SuitableMethods lists the calculation methods expected for the dimension.
func (t RuleType) SuitableMethods() []CalculationMethod {
	switch t {
	case RuleTypeCompleteness:
		return []CalculationMethod{MethodPercentage, MethodWeightedSum}
	case RuleTypeQualification, RuleTypeScale:
		return []CalculationMethod{MethodStepScoring, MethodWeightedSum}
	case RuleTypeIndustryValue, RuleTypeLocation:
		return []CalculationMethod{MethodConditional, MethodWeightedSum}
	case RuleTypeTimeliness:
		return []CalculationMethod{MethodStepScoring, MethodCustomFormula}
	case RuleTypeUserReputation:
		return []CalculationMethod{MethodAverage, MethodWeightedSum}
	}
	return nil
}

// Suits reports whether m is an expected method for the dimension.
func (t RuleType) Suits(m CalculationMethod) bool {
	for _, s := range t.SuitableMethods() {
		if s == m {
			return true
		}
	}
	return false
}

// CalculationMethod describes how a dimension score is derived. Advisory.
type CalculationMethod string

const (
	MethodWeightedSum   CalculationMethod = "WEIGHTED_SUM"
	MethodSimpleSum     CalculationMethod = "SIMPLE_SUM"
	MethodPercentage    CalculationMethod = "PERCENTAGE"
	MethodStepScoring   CalculationMethod = "STEP_SCORING"
	MethodConditional   CalculationMethod = "CONDITIONAL"
	MethodMaxValue      CalculationMethod = "MAX_VALUE"
	MethodMinValue      CalculationMethod = "MIN_VALUE"
	MethodAverage       CalculationMethod = "AVERAGE"
	MethodCustomFormula CalculationMethod = "CUSTOM_FORMULA"
)

var calculationMethods = []CalculationMethod{
	MethodWeightedSum,
	MethodSimpleSum,
	MethodPercentage,
	MethodStepScoring,
	MethodConditional,
	MethodMaxValue,
	MethodMinValue,
	MethodAverage,
	MethodCustomFormula,
}

func AllCalculationMethods() []CalculationMethod {
	out := make([]CalculationMethod, len(calculationMethods))
	copy(out, calculationMethods)
	return out
}

func ParseCalculationMethod(s string) (CalculationMethod, bool) {
	m := CalculationMethod(strings.ToUpper(strings.TrimSpace(s)))
	return m, m.Valid()
}

func (m CalculationMethod) Valid() bool {
	for _, known := range calculationMethods {
		if known == m {
			return true
		}
	}
	return false
}

// RequiresConfig reports whether the method is expected to carry parameters.
func (m CalculationMethod) RequiresConfig() bool {
	switch m {
	case MethodSimpleSum, MethodAverage, MethodMaxValue, MethodMinValue:
		return false
	}
	return true
}
