package rules

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"lead_rating_engine/internal/rating/domain"
	"lead_rating_engine/platform/apperr"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Format is a rule document encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"

	documentVersion = 1
)

// ParseFormat accepts json, yaml and yml, case-insensitively.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "json", "":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	}
	return "", apperr.Validationf("unsupported rule document format %q", s)
}

// Document is the portable form of a rule set.
type Document struct {
	Version    int         `json:"version" yaml:"version"`
	ExportedAt time.Time   `json:"exportedAt" yaml:"exportedAt"`
	Rules      []RuleInput `json:"rules" yaml:"rules"`
}

// ImportResult counts the outcome of an import. Rules whose name already
// exists are skipped, never overwritten.
type ImportResult struct {
	Total    int           `json:"total"`
	Success  int           `json:"success"`
	Failure  int           `json:"failure"`
	Skipped  int           `json:"skipped"`
	Errors   []string      `json:"errors,omitempty"`
	Warnings []string      `json:"warnings,omitempty"`
	Created  []domain.Rule `json:"created,omitempty"`
}

// Export returns every rule in display order.
func (s *Service) Export(ctx context.Context) ([]domain.Rule, error) {
	return s.List(ctx)
}

// Import creates each rule in ins independently. A failing rule is counted
// and reported; it does not stop the others.
func (s *Service) Import(ctx context.Context, ins []RuleInput) (ImportResult, error) {
	res := ImportResult{Total: len(ins)}
	seen := make(map[string]bool, len(ins))

	if err := s.invalidate(ctx); err != nil {
		return res, err
	}

	for i, in := range ins {
		in = normalizeInput(in)
		label := fmt.Sprintf("rule %d (%s)", i+1, in.Name)
		key := strings.ToLower(in.Name)

		if in.Name != "" && seen[key] {
			res.Skipped++
			continue
		}
		if in.Name != "" {
			seen[key] = true
			exists, err := s.store.RuleNameExists(ctx, in.Name, uuid.Nil)
			if err != nil {
				return res, err
			}
			if exists {
				res.Skipped++
				continue
			}
		}

		check := s.checkFields(in)
		if !check.Valid() {
			res.Failure++
			res.Errors = append(res.Errors, label+": "+strings.Join(check.Errors, "; "))
			continue
		}
		for _, w := range check.Warnings {
			res.Warnings = append(res.Warnings, label+": "+w)
		}

		var created domain.Rule
		err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
			rule := ruleFromInput(in)
			if rule.SortOrder == 0 {
				last, err := s.store.MaxSortOrder(ctx)
				if err != nil {
					return err
				}
				rule.SortOrder = last + 1
			}
			var err error
			created, err = s.store.CreateRule(ctx, rule)
			return err
		})
		if err != nil {
			res.Failure++
			res.Errors = append(res.Errors, label+": "+err.Error())
			continue
		}
		res.Success++
		res.Created = append(res.Created, created)
	}

	if res.Success > 0 {
		if err := s.invalidate(ctx); err != nil {
			s.log.WithContext(ctx).Warn("rule cache eviction after import failed", "error", err)
		}
		s.publish(ctx, ActionImported, ruleIDs(res.Created))
	}
	return res, nil
}

// ExportDocument encodes the rule set in format.
func (s *Service) ExportDocument(ctx context.Context, format Format) ([]byte, error) {
	rules, err := s.Export(ctx)
	if err != nil {
		return nil, err
	}
	doc := Document{Version: documentVersion, ExportedAt: time.Now().UTC(), Rules: make([]RuleInput, len(rules))}
	for i, r := range rules {
		doc.Rules[i] = InputFromRule(r)
	}

	switch format {
	case FormatYAML:
		return yaml.Marshal(doc)
	case FormatJSON:
		return json.MarshalIndent(doc, "", "  ")
	}
	return nil, apperr.Validationf("unsupported rule document format %q", format)
}

// ImportDocument decodes data in format and imports its rules.
func (s *Service) ImportDocument(ctx context.Context, data []byte, format Format) (ImportResult, error) {
	var doc Document
	var err error
	switch format {
	case FormatYAML:
		err = yaml.Unmarshal(data, &doc)
	case FormatJSON:
		err = json.Unmarshal(data, &doc)
	default:
		return ImportResult{}, apperr.Validationf("unsupported rule document format %q", format)
	}
	if err != nil {
		return ImportResult{}, apperr.Validationf("malformed rule document: %v", err).WithOp("rules.ImportDocument")
	}
	if doc.Version > documentVersion {
		return ImportResult{}, apperr.Validationf("rule document version %d is newer than supported version %d", doc.Version, documentVersion)
	}
	return s.Import(ctx, doc.Rules)
}
