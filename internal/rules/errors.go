package rules

import (
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/lmaudit/internal/catalog"
)

// ErrNoRuleSet is returned by Validate when the book has no rule set for a category.
var ErrNoRuleSet = errors.New("no rule set for category")

// ConfigError reports a malformed rule book. It is only produced while
// loading, never while validating.
type ConfigError struct {
	Source   string
	Category catalog.Category
	Rule     string
	Reason   string
}

func (e *ConfigError) Error() string {
	msg := "rule config"
	if e.Source != "" {
		msg += " " + e.Source
	}
	if e.Category != "" {
		msg += fmt.Sprintf(": category %s", e.Category)
	}
	if e.Rule != "" {
		msg += fmt.Sprintf(": rule %s", e.Rule)
	}
	return msg + ": " + e.Reason
}
