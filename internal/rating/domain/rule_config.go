package domain

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// RuleConfig is the typed form of a rule's configParams. Each dimension has
// its own variant.
type RuleConfig interface {
	Dimension() RuleType
	// Warnings lists suspicious but accepted settings.
	Warnings() []string
}

// CompletenessConfig lists the fields counted towards completeness.
type CompletenessConfig struct {
	RequiredFields []string `json:"requiredFields"`
	WeightPerField float64  `json:"weightPerField,omitempty"`
}

func (CompletenessConfig) Dimension() RuleType { return RuleTypeCompleteness }

func (c CompletenessConfig) Warnings() []string {
	var out []string
	if len(c.RequiredFields) == 0 {
		out = append(out, "requiredFields is empty")
	}
	if c.WeightPerField < 0 {
		out = append(out, "weightPerField is negative")
	}
	return out
}

// Step is one tier of a step table. A nil Max means unbounded.
type Step struct {
	Min   float64  `json:"min"`
	Max   *float64 `json:"max,omitempty"`
	Score float64  `json:"score"`
}

// StepConfig is used by QUALIFICATION and SCALE.
type StepConfig struct {
	Type  RuleType `json:"-"`
	Steps []Step   `json:"steps"`
}

func (c StepConfig) Dimension() RuleType { return c.Type }

func (c StepConfig) Warnings() []string {
	var out []string
	if len(c.Steps) == 0 {
		out = append(out, "steps is empty")
	}
	for i, s := range c.Steps {
		if s.Max != nil && *s.Max <= s.Min {
			out = append(out, fmt.Sprintf("steps[%d] max must be greater than min", i))
		}
		if s.Score < 0 || s.Score > 100 {
			out = append(out, fmt.Sprintf("steps[%d] score outside 0-100", i))
		}
		if i > 0 && s.Min < c.Steps[i-1].Min {
			out = append(out, fmt.Sprintf("steps[%d] is not in ascending order", i))
		}
	}
	return out
}

// ScoreTableConfig maps a keyword to a score. Used by INDUSTRY_VALUE,
// LOCATION and USER_REPUTATION under different JSON keys.
type ScoreTableConfig struct {
	Type   RuleType           `json:"-"`
	Scores map[string]float64 `json:"-"`
}

func (c ScoreTableConfig) Dimension() RuleType { return c.Type }

func (c ScoreTableConfig) Warnings() []string {
	var out []string
	if len(c.Scores) == 0 {
		out = append(out, scoreTableKey(c.Type)+" is empty")
	}
	keys := make([]string, 0, len(c.Scores))
	for k := range c.Scores {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if v := c.Scores[k]; v < 0 || v > 100 {
			out = append(out, fmt.Sprintf("%s[%s] score outside 0-100", scoreTableKey(c.Type), k))
		}
	}
	return out
}

// TimeDecay describes linear decay of freshness.
type TimeDecay struct {
	Days      int     `json:"days"`
	DecayRate float64 `json:"decayRate"`
}

type TimelinessConfig struct {
	TimeDecay TimeDecay `json:"timeDecay"`
}

func (TimelinessConfig) Dimension() RuleType { return RuleTypeTimeliness }

func (c TimelinessConfig) Warnings() []string {
	var out []string
	if c.TimeDecay.Days <= 0 {
		out = append(out, "timeDecay.days should be positive")
	}
	if c.TimeDecay.DecayRate < 0 || c.TimeDecay.DecayRate > 1 {
		out = append(out, "timeDecay.decayRate should be within 0-1")
	}
	return out
}

var configKeys = map[RuleType][]string{
	RuleTypeCompleteness:   {"requiredFields", "weightPerField"},
	RuleTypeQualification:  {"steps"},
	RuleTypeScale:          {"steps"},
	RuleTypeIndustryValue:  {"industryScores"},
	RuleTypeLocation:       {"regionScores"},
	RuleTypeTimeliness:     {"timeDecay"},
	RuleTypeUserReputation: {"reputationLevels"},
}

func scoreTableKey(t RuleType) string {
	switch t {
	case RuleTypeIndustryValue:
		return "industryScores"
	case RuleTypeLocation:
		return "regionScores"
	case RuleTypeUserReputation:
		return "reputationLevels"
	}
	return "scores"
}

// ParseRuleConfig decodes raw configParams for the dimension. An empty
// string yields (nil, nil, nil). Malformed documents are an error; unknown
// keys and odd values come back as warnings.
func ParseRuleConfig(t RuleType, raw string) (RuleConfig, []string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil, nil
	}

	var top map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &top); err != nil {
		return nil, nil, fmt.Errorf("config parameters are not a valid JSON object: %w", err)
	}

	var warnings []string
	known := configKeys[t]
	unknown := make([]string, 0)
	for k := range top {
		if !containsString(known, k) {
			unknown = append(unknown, k)
		}
	}
	sort.Strings(unknown)
	for _, k := range unknown {
		warnings = append(warnings, fmt.Sprintf("unrecognized config parameter %q for %s", k, t))
	}

	cfg, err := decodeTyped(t, raw, top)
	if err != nil {
		return nil, warnings, err
	}
	if cfg != nil {
		warnings = append(warnings, cfg.Warnings()...)
	}
	return cfg, warnings, nil
}

func decodeTyped(t RuleType, raw string, top map[string]json.RawMessage) (RuleConfig, error) {
	switch t {
	case RuleTypeCompleteness:
		var c CompletenessConfig
		if err := decodeShape(raw, &c); err != nil {
			return nil, err
		}
		return c, nil
	case RuleTypeQualification, RuleTypeScale:
		var c StepConfig
		if err := decodeShape(raw, &c); err != nil {
			return nil, err
		}
		c.Type = t
		return c, nil
	case RuleTypeIndustryValue, RuleTypeLocation, RuleTypeUserReputation:
		c := ScoreTableConfig{Type: t, Scores: map[string]float64{}}
		if body, ok := top[scoreTableKey(t)]; ok {
			if err := json.Unmarshal(body, &c.Scores); err != nil {
				return nil, fmt.Errorf("%s must map names to numbers: %w", scoreTableKey(t), err)
			}
		}
		return c, nil
	case RuleTypeTimeliness:
		var c TimelinessConfig
		if err := decodeShape(raw, &c); err != nil {
			return nil, err
		}
		return c, nil
	}
	return nil, nil
}

// decodeShape fails on type mismatches. Unknown keys are reported by the caller.
func decodeShape(raw string, dst any) error {
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return fmt.Errorf("config parameters do not match the expected shape: %w", err)
	}
	return nil
}

// ConfigTemplate returns the canonical configParams document for t.
func ConfigTemplate(t RuleType) string {
	switch t {
	case RuleTypeCompleteness:
		return `{"requiredFields":["companyName","companyType","contactPerson","contactPhone","contactEmail","description","industryDirection","intendedRegion","registeredCapital","investmentAmount"],"weightPerField":10}`
	case RuleTypeQualification:
		return `{"steps":[{"min":0,"max":1000000,"score":15},{"min":1000000,"max":10000000,"score":40},{"min":10000000,"score":50}]}`
	case RuleTypeScale:
		return `{"steps":[{"min":0,"max":1000000,"score":10},{"min":1000000,"max":10000000,"score":20},{"min":10000000,"max":50000000,"score":35},{"min":50000000,"score":50}]}`
	case RuleTypeIndustryValue:
		return `{"industryScores":{"high-tech":40,"manufacturing":25,"services":25,"traditional":10}}`
	case RuleTypeLocation:
		return `{"regionScores":{"tier-1":40,"tier-2":25,"other":10}}`
	case RuleTypeTimeliness:
		return `{"timeDecay":{"days":30,"decayRate":0.1}}`
	case RuleTypeUserReputation:
		return `{"reputationLevels":{"excellent":100,"good":80,"average":60,"poor":30}}`
	}
	return "{}"
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
