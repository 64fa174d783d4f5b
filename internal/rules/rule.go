// Package rules validates field maps against versioned, category-keyed rule
// books and scores the result.
package rules

import (
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/fyrsmithlabs/lmaudit/internal/catalog"
	"github.com/fyrsmithlabs/lmaudit/internal/extraction"
)

// Requirement says when a rule's field must be declared.
type Requirement string

const (
	Always      Requirement = "always"
	Optional    Requirement = "optional"
	IfImported  Requirement = "if_imported"
	IfAppliance Requirement = "if_appliance"
)

func (r Requirement) valid() bool {
	switch r {
	case Always, Optional, IfImported, IfAppliance:
		return true
	}
	return false
}

func (r Requirement) applies(s extraction.Signals) bool {
	switch r {
	case Always:
		return true
	case IfImported:
		return s.Imported
	case IfAppliance:
		return s.Appliance
	}
	return false
}

// ValidatorKind enumerates the closed set of validators.
type ValidatorKind string

const (
	KindPresence ValidatorKind = "presence"
	KindPattern  ValidatorKind = "pattern"
	KindRange    ValidatorKind = "range"
)

// Validator is a tagged variant. Only the fields of its Kind are meaningful.
//
// Presence has no parameters; the requirement check alone decides it.
// Pattern tests the declared text of a field, which must match Regex when
// MustMatch is set and must not match it otherwise.
// Range tests the normalized amount against Min, Max, and the amount of MaxField.
type Validator struct {
	Kind      ValidatorKind
	Regex     *regexp.Regexp
	MustMatch bool
	Min       *float64
	Max       *float64
	MaxField  catalog.Field
}

// Presence returns a presence validator.
func Presence() Validator {
	return Validator{Kind: KindPresence}
}

// Pattern returns a validator requiring the declared text to match expr.
func Pattern(expr string) Validator {
	return Validator{Kind: KindPattern, Regex: regexp.MustCompile(expr), MustMatch: true}
}

// Forbid returns a validator rejecting declared text that matches expr.
func Forbid(expr string) Validator {
	return Validator{Kind: KindPattern, Regex: regexp.MustCompile(expr)}
}

// AtMostField returns a range validator bounding the amount by another field's amount.
func AtMostField(f catalog.Field) Validator {
	return Validator{Kind: KindRange, MaxField: f}
}

// Between returns a range validator with static bounds. Either may be nil.
func Between(min, max *float64) Validator {
	return Validator{Kind: KindRange, Min: min, Max: max}
}

// check reports whether a declared entry fails the validator. Entries with
// nothing declared never fail here; missing fields are the requirement's job.
func (v Validator) check(e extraction.Entry, fm *extraction.FieldMap) bool {
	switch v.Kind {
	case KindPattern:
		text := e.Text()
		if text == "" {
			return false
		}
		return v.Regex.MatchString(text) != v.MustMatch
	case KindRange:
		if e.Amount == nil {
			return false
		}
		amount := *e.Amount
		if v.Min != nil && amount < *v.Min {
			return true
		}
		if v.Max != nil && amount > *v.Max {
			return true
		}
		if v.MaxField != "" {
			bound, ok := fm.Get(v.MaxField)
			if ok && bound.Amount != nil && amount > *bound.Amount {
				return true
			}
		}
	}
	return false
}

// MarshalJSON renders the validator with its regex as a string.
func (v Validator) MarshalJSON() ([]byte, error) {
	out := struct {
		Kind      ValidatorKind `json:"kind"`
		Regex     string        `json:"regex,omitempty"`
		MustMatch *bool         `json:"must_match,omitempty"`
		Min       *float64      `json:"min,omitempty"`
		Max       *float64      `json:"max,omitempty"`
		MaxField  catalog.Field `json:"max_field,omitempty"`
	}{Kind: v.Kind, Min: v.Min, Max: v.Max, MaxField: v.MaxField}
	if v.Kind == KindPattern && v.Regex != nil {
		out.Regex = v.Regex.String()
		out.MustMatch = &v.MustMatch
	}
	return json.Marshal(out)
}

func (v Validator) validate() error {
	switch v.Kind {
	case KindPresence:
		return nil
	case KindPattern:
		if v.Regex == nil {
			return fmt.Errorf("pattern validator needs a regex")
		}
		return nil
	case KindRange:
		if v.Min == nil && v.Max == nil && v.MaxField == "" {
			return fmt.Errorf("range validator needs min, max or max_field")
		}
		if v.Min != nil && v.Max != nil && *v.Min > *v.Max {
			return fmt.Errorf("range min %v exceeds max %v", *v.Min, *v.Max)
		}
		return nil
	}
	return fmt.Errorf("unknown validator kind %q", v.Kind)
}

// Rule binds one field to a requirement, a validator and a penalty.
type Rule struct {
	Code        string        `json:"code"`
	Field       catalog.Field `json:"field"`
	Requirement Requirement   `json:"requirement"`
	Validator   Validator     `json:"validator"`
	Penalty     int           `json:"penalty"`
	Message     string        `json:"message"`
}

// Violation is a failed rule.
type Violation struct {
	Code    string        `json:"code"`
	Field   catalog.Field `json:"field"`
	Message string        `json:"message"`
	Penalty int           `json:"penalty"`
}

func (r Rule) evaluate(fm *extraction.FieldMap) (Violation, bool) {
	entry, _ := fm.Get(r.Field)
	failed := false
	if !entry.Present() && r.Requirement.applies(fm.Signals) {
		failed = true
	} else if r.Validator.check(entry, fm) {
		failed = true
	}
	if !failed {
		return Violation{}, false
	}
	return Violation{Code: r.Code, Field: r.Field, Message: r.Message, Penalty: r.Penalty}, true
}
