package rules

import (
	"fmt"
	"sort"

	"github.com/fyrsmithlabs/lmaudit/internal/catalog"
	"github.com/fyrsmithlabs/lmaudit/internal/extraction"
)

// RiskLevel is the coarse classification of a compliance score.
type RiskLevel string

const (
	Compliant    RiskLevel = "Compliant"
	ModerateRisk RiskLevel = "Moderate Risk"
	HighRisk     RiskLevel = "High Risk"
)

const (
	compliantFloor = 85
	moderateFloor  = 40
)

// Classify maps a score to its band. Each band includes its lower bound.
func Classify(score int) RiskLevel {
	switch {
	case score >= compliantFloor:
		return Compliant
	case score >= moderateFloor:
		return ModerateRisk
	default:
		return HighRisk
	}
}

// ParseRiskLevel accepts the display names and their snake_case forms.
func ParseRiskLevel(s string) (RiskLevel, error) {
	switch s {
	case string(Compliant), "compliant":
		return Compliant, nil
	case string(ModerateRisk), "moderate_risk", "moderate":
		return ModerateRisk, nil
	case string(HighRisk), "high_risk", "high":
		return HighRisk, nil
	}
	return "", fmt.Errorf("unknown risk level %q", s)
}

// Score returns max(0, 100 - sum of penalties).
func Score(violations []Violation) int {
	score := 100
	for _, v := range violations {
		score -= v.Penalty
	}
	if score < 0 {
		return 0
	}
	return score
}

// RuleSet is the ordered rules of one category.
type RuleSet struct {
	Category catalog.Category `json:"category"`
	Rules    []Rule           `json:"rules"`
}

// Book is an immutable, versioned collection of rule sets. It is safe for
// concurrent use once built.
type Book struct {
	version string
	sets    map[catalog.Category]*RuleSet
}

// Result is the outcome of validating one field map.
type Result struct {
	Violations  []Violation `json:"violations"`
	Score       int         `json:"score"`
	Risk        RiskLevel   `json:"risk_level"`
	RuleVersion string      `json:"rule_version"`
}

// NewBook validates sets against the catalog and returns a Book. Every
// catalog category needs a rule set, every rule must reference a field of
// its category, codes are unique per set and penalties positive.
func NewBook(version string, sets []RuleSet) (*Book, error) {
	if version == "" {
		return nil, &ConfigError{Reason: "version is required"}
	}
	b := &Book{version: version, sets: make(map[catalog.Category]*RuleSet, len(sets))}
	for i := range sets {
		set := sets[i]
		if !set.Category.Valid() {
			return nil, &ConfigError{Category: set.Category, Reason: "unknown category"}
		}
		if _, dup := b.sets[set.Category]; dup {
			return nil, &ConfigError{Category: set.Category, Reason: "duplicate rule set"}
		}
		fields := set.Category.Fields()
		codes := make(map[string]struct{}, len(set.Rules))
		for _, r := range set.Rules {
			if err := checkRule(r, fields); err != nil {
				return nil, &ConfigError{Category: set.Category, Rule: r.Code, Reason: err.Error()}
			}
			if _, dup := codes[r.Code]; dup {
				return nil, &ConfigError{Category: set.Category, Rule: r.Code, Reason: "duplicate rule code"}
			}
			codes[r.Code] = struct{}{}
		}
		set.Rules = append([]Rule(nil), set.Rules...)
		b.sets[set.Category] = &set
	}
	for _, c := range catalog.All() {
		if _, ok := b.sets[c]; !ok {
			return nil, &ConfigError{Category: c, Reason: "missing category definition"}
		}
	}
	return b, nil
}

func checkRule(r Rule, fields catalog.FieldSet) error {
	if r.Code == "" {
		return fmt.Errorf("code is required")
	}
	if !fields.Contains(r.Field) {
		return fmt.Errorf("field %q is not in the category field set", r.Field)
	}
	if !r.Requirement.valid() {
		return fmt.Errorf("unknown requirement %q", r.Requirement)
	}
	if r.Penalty <= 0 {
		return fmt.Errorf("penalty must be > 0, got %d", r.Penalty)
	}
	if r.Message == "" {
		return fmt.Errorf("message is required")
	}
	if err := r.Validator.validate(); err != nil {
		return err
	}
	if r.Validator.MaxField != "" && !fields.Contains(r.Validator.MaxField) {
		return fmt.Errorf("max_field %q is not in the category field set", r.Validator.MaxField)
	}
	return nil
}

// Version returns the book version.
func (b *Book) Version() string {
	return b.version
}

// RuleSet returns the rule set for c.
func (b *Book) RuleSet(c catalog.Category) (*RuleSet, bool) {
	s, ok := b.sets[c]
	return s, ok
}

// Categories lists categories with a rule set, sorted.
func (b *Book) Categories() []catalog.Category {
	out := make([]catalog.Category, 0, len(b.sets))
	for c := range b.sets {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Validate runs the rule set of category against fm. Violations come back in
// rule order, so equal inputs give equal results.
func (b *Book) Validate(fm *extraction.FieldMap, category catalog.Category) (Result, error) {
	set, ok := b.sets[category]
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrNoRuleSet, category)
	}
	violations := make([]Violation, 0)
	for _, r := range set.Rules {
		if v, failed := r.evaluate(fm); failed {
			violations = append(violations, v)
		}
	}
	score := Score(violations)
	return Result{Violations: violations, Score: score, Risk: Classify(score), RuleVersion: b.version}, nil
}
