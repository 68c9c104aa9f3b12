package rules

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"lead_rating_engine/internal/rating/domain"
	"lead_rating_engine/platform/validator"

	playground "github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	maxNameLength        = 100
	weightSumTolerance   = "0.01"
	tagRuleType          = "ratingruletype"
	tagCalculationMethod = "calcmethod"
)

var (
	weightMin = decimal.Zero
	weightMax = decimal.NewFromInt(1)
	tolerance = decimal.RequireFromString(weightSumTolerance)
)

// RuleInput is the writable shape of a rule as received from callers and
// rule documents. Weight is a pointer so a missing weight can be reported.
type RuleInput struct {
	Name         string                   `json:"name" yaml:"name" validate:"required,max=100"`
	Type         domain.RuleType          `json:"type" yaml:"type" validate:"required,ratingruletype"`
	Weight       *decimal.Decimal         `json:"weight" yaml:"weight" validate:"required"`
	Method       domain.CalculationMethod `json:"method" yaml:"method" validate:"required,calcmethod"`
	ConfigParams string                   `json:"configParams,omitempty" yaml:"configParams,omitempty"`
	Enabled      *bool                    `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	SortOrder    int                      `json:"sortOrder,omitempty" yaml:"sortOrder,omitempty"`
	Description  string                   `json:"description,omitempty" yaml:"description,omitempty" validate:"max=500"`
}

// InputFromRule converts a stored rule back into its writable shape.
func InputFromRule(r domain.Rule) RuleInput {
	weight := r.Weight
	enabled := r.Enabled
	return RuleInput{
		Name:         r.Name,
		Type:         r.Type,
		Weight:       &weight,
		Method:       r.Method,
		ConfigParams: r.ConfigParams,
		Enabled:      &enabled,
		SortOrder:    r.SortOrder,
		Description:  r.Description,
	}
}

// ValidationResult separates blocking errors from advisory warnings and
// suggestions.
type ValidationResult struct {
	Errors      []string `json:"errors"`
	Warnings    []string `json:"warnings"`
	Suggestions []string `json:"suggestions"`
}

func (v ValidationResult) Valid() bool { return len(v.Errors) == 0 }

func (v *ValidationResult) errorf(format string, args ...any) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

func (v *ValidationResult) warnf(format string, args ...any) {
	v.Warnings = append(v.Warnings, fmt.Sprintf(format, args...))
}

func (v *ValidationResult) suggest(format string, args ...any) {
	v.Suggestions = append(v.Suggestions, fmt.Sprintf(format, args...))
}

func (v *ValidationResult) merge(prefix string, other ValidationResult) {
	for _, e := range other.Errors {
		v.Errors = append(v.Errors, prefix+e)
	}
	for _, w := range other.Warnings {
		v.Warnings = append(v.Warnings, prefix+w)
	}
	for _, s := range other.Suggestions {
		v.Suggestions = append(v.Suggestions, prefix+s)
	}
}

func newRuleValidator() *validator.Validator {
	v := validator.New()
	_ = v.RegisterValidation(tagRuleType, func(fl playground.FieldLevel) bool {
		return domain.RuleType(fl.Field().String()).Valid()
	})
	_ = v.RegisterValidation(tagCalculationMethod, func(fl playground.FieldLevel) bool {
		return domain.CalculationMethod(fl.Field().String()).Valid()
	})
	return v
}

// checkFields runs the checks that need no store access.
func (s *Service) checkFields(in RuleInput) ValidationResult {
	var res ValidationResult

	for _, msg := range validator.FieldMessages(s.val.Struct(in)) {
		res.Errors = append(res.Errors, msg)
	}

	if in.Weight != nil {
		w := *in.Weight
		switch {
		case w.LessThan(weightMin) || w.GreaterThan(weightMax):
			res.errorf("weight must be between 0 and 1, got %s", w.String())
		case w.IsZero():
			res.warnf("weight is 0; the rule will not contribute to the score")
		}
	}

	if in.SortOrder < 0 {
		res.errorf("sortOrder must be at least 1")
	}

	if in.Type.Valid() {
		if in.ConfigParams != "" {
			_, warnings, err := domain.ParseRuleConfig(in.Type, in.ConfigParams)
			if err != nil {
				res.errorf("configParams: %v", err)
			}
			res.Warnings = append(res.Warnings, warnings...)
		}
		if in.Method.Valid() && !in.Type.Suits(in.Method) {
			res.warnf("method %s is unusual for %s; expected one of %s",
				in.Method, in.Type.DisplayName(), joinMethods(in.Type.SuitableMethods()))
		}
	}

	if in.Method.Valid() && in.Method.RequiresConfig() && strings.TrimSpace(in.ConfigParams) == "" {
		res.suggest("method %s usually needs configParams; see the template for %s", in.Method, in.Type)
	}
	if strings.TrimSpace(in.Description) == "" {
		res.suggest("add a description explaining what the rule measures")
	}

	return res
}

// Validate checks in as a rule to be saved under selfID (uuid.Nil for a new
// rule), including name uniqueness.
func (s *Service) Validate(ctx context.Context, in RuleInput, selfID uuid.UUID) (ValidationResult, error) {
	in = normalizeInput(in)
	res := s.checkFields(in)
	if in.Name == "" || utf8.RuneCountInString(in.Name) > maxNameLength {
		return res, nil
	}
	exists, err := s.store.RuleNameExists(ctx, in.Name, selfID)
	if err != nil {
		return res, err
	}
	if exists {
		res.errorf("a rule named %q already exists", in.Name)
	}
	return res, nil
}

// ValidateRule validates a rule in its stored shape.
func (s *Service) ValidateRule(ctx context.Context, r domain.Rule) (ValidationResult, error) {
	return s.Validate(ctx, InputFromRule(r), r.ID)
}

// ValidateAll validates every stored rule and checks the enabled set as a
// whole: weights should sum to 1 and each dimension should have one rule.
func (s *Service) ValidateAll(ctx context.Context) (ValidationResult, error) {
	rules, err := s.store.ListRules(ctx, ruleFilterAll)
	if err != nil {
		return ValidationResult{}, err
	}
	res, err := s.ValidateSet(ctx, rules)
	if err != nil {
		return res, err
	}
	if len(rules) == 0 {
		res.warnf("no rules configured")
	}
	return res, nil
}

// ValidateSet validates rules individually and as an enabled set.
func (s *Service) ValidateSet(ctx context.Context, rules []domain.Rule) (ValidationResult, error) {
	var res ValidationResult
	for _, r := range rules {
		one, err := s.ValidateRule(ctx, r)
		if err != nil {
			return res, err
		}
		res.merge(fmt.Sprintf("rule %q: ", r.Name), one)
	}
	checkEnabledSet(&res, rules)
	return res, nil
}

func checkEnabledSet(res *ValidationResult, rules []domain.Rule) {
	enabled := 0
	perType := make(map[domain.RuleType]int)
	for _, r := range rules {
		if r.Enabled {
			enabled++
			perType[r.Type]++
		}
	}
	if enabled == 0 {
		if len(rules) > 0 {
			res.warnf("no rules are enabled")
		}
		return
	}

	sum := domain.EnabledWeightSum(rules)
	if sum.Sub(weightMax).Abs().GreaterThan(tolerance) {
		res.warnf("enabled rule weights sum to %s, expected 1.00", sum.StringFixed(2))
	}

	for _, t := range domain.AllRuleTypes() {
		switch n := perType[t]; {
		case n > 1:
			res.warnf("%d enabled rules for %s; their weights are averaged", n, t.DisplayName())
		case n == 0:
			res.suggest("no enabled rule for %s", t.DisplayName())
		}
	}
}

func joinMethods(ms []domain.CalculationMethod) string {
	parts := make([]string, len(ms))
	for i, m := range ms {
		parts[i] = string(m)
	}
	return strings.Join(parts, ", ")
}
