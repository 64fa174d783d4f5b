// Package report defines the audit report and the stores that persist and
// query it.
//
// Reports are immutable. A store saves each product id once; a re-audit is
// a new report with a new id.
package report

import (
	"context"
	"errors"
	"time"

	"github.com/fyrsmithlabs/lmaudit/internal/catalog"
	"github.com/fyrsmithlabs/lmaudit/internal/extraction"
	"github.com/fyrsmithlabs/lmaudit/internal/rules"
)

var (
	// ErrNotFound is returned by Get for an unknown product id.
	ErrNotFound = errors.New("report not found")

	// ErrDuplicate is returned when a product id was already saved.
	ErrDuplicate = errors.New("report already exists")

	// ErrInvalidReport rejects reports missing an id or creation time.
	ErrInvalidReport = errors.New("invalid report")
)

// EnrichmentStatus says what happened to explanation generation.
type EnrichmentStatus string

const (
	// EnrichmentSkipped means there were no violations to explain.
	EnrichmentSkipped EnrichmentStatus = "skipped"
	// EnrichmentAvailable means explanation text was generated.
	EnrichmentAvailable EnrichmentStatus = "available"
	// EnrichmentUnavailable means generation failed or is disabled.
	EnrichmentUnavailable EnrichmentStatus = "unavailable"
)

// Enrichment records the outcome of the best-effort stages.
type Enrichment struct {
	Status  EnrichmentStatus `json:"status"`
	Clauses []string         `json:"clauses,omitempty"`
	// Reasons holds one message per failed stage.
	Reasons []string `json:"reasons,omitempty"`
}

// Grounded reports whether any legal clause backed the explanation.
func (e Enrichment) Grounded() bool { return len(e.Clauses) > 0 }

// AuditReport is the result of auditing one product.
type AuditReport struct {
	ProductID           string               `json:"product_id"`
	SellerID            string               `json:"seller_id"`
	ProductName         string               `json:"product_name,omitempty"`
	SourceURL           string               `json:"source_url,omitempty"`
	Category            catalog.Category     `json:"category"`
	FieldMap            *extraction.FieldMap `json:"field_map"`
	Violations          []rules.Violation    `json:"violations"`
	ComplianceScore     int                  `json:"compliance_score"`
	RiskLevel           rules.RiskLevel      `json:"risk_level"`
	RuleVersion         string               `json:"rule_version"`
	Explanation         *string              `json:"explanation,omitempty"`
	SuggestedCorrection *string              `json:"suggested_correction,omitempty"`
	RiskSummary         *string              `json:"risk_summary,omitempty"`
	Enrichment          Enrichment           `json:"enrichment"`
	CreatedAt           time.Time            `json:"created_at"`
}

// ViolationCodes returns the violation codes in report order.
func (r *AuditReport) ViolationCodes() []string {
	out := make([]string, len(r.Violations))
	for i, v := range r.Violations {
		out[i] = v.Code
	}
	return out
}

func (r *AuditReport) validate() error {
	if r == nil || r.ProductID == "" || r.CreatedAt.IsZero() {
		return ErrInvalidReport
	}
	return nil
}

// Filter narrows Find. Zero values do not filter.
type Filter struct {
	RiskLevel rules.RiskLevel
	MinScore  *int
	MaxScore  *int
	From      time.Time
	To        time.Time
	SellerID  string
	Category  catalog.Category
	Limit     int
	Offset    int
}

// Match reports whether r passes every filter except paging.
func (f Filter) Match(r *AuditReport) bool {
	switch {
	case f.RiskLevel != "" && r.RiskLevel != f.RiskLevel:
		return false
	case f.MinScore != nil && r.ComplianceScore < *f.MinScore:
		return false
	case f.MaxScore != nil && r.ComplianceScore > *f.MaxScore:
		return false
	case !f.From.IsZero() && r.CreatedAt.Before(f.From):
		return false
	case !f.To.IsZero() && r.CreatedAt.After(f.To):
		return false
	case f.SellerID != "" && r.SellerID != f.SellerID:
		return false
	case f.Category != "" && r.Category != f.Category:
		return false
	}
	return true
}

// Store persists and queries reports. Find returns newest first.
type Store interface {
	Save(ctx context.Context, r *AuditReport) error
	Get(ctx context.Context, productID string) (*AuditReport, error)
	Find(ctx context.Context, f Filter) ([]*AuditReport, error)
	Close() error
}
