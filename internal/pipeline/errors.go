package pipeline

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/lmaudit/internal/report"
)

// Stage names a step of a product audit.
type Stage string

const (
	StageFetch    Stage = "fetch"
	StageExtract  Stage = "extract"
	StageValidate Stage = "validate"
	StageRetrieve Stage = "retrieve"
	StageGenerate Stage = "generate"
	StagePersist  Stage = "persist"
)

var (
	// ErrEnrichmentUnavailable marks a report produced without explanation text.
	ErrEnrichmentUnavailable = errors.New("enrichment unavailable")

	// ErrInvalidInput rejects product input before any stage runs.
	ErrInvalidInput = errors.New("invalid product input")
)

// AuditFailure is fatal to one product's audit.
type AuditFailure struct {
	ProductID string
	Stage     Stage
	Cause     error
}

func (e *AuditFailure) Error() string {
	return fmt.Sprintf("audit of product %s failed at %s: %v", e.ProductID, e.Stage, e.Cause)
}

func (e *AuditFailure) Unwrap() error {
	return e.Cause
}

// EnrichmentError returns ErrEnrichmentUnavailable with the recorded reasons
// when r carries no explanation because enrichment failed. It returns nil for
// enriched reports and for reports that had nothing to explain.
func EnrichmentError(r *report.AuditReport) error {
	if r == nil || r.Enrichment.Status != report.EnrichmentUnavailable {
		return nil
	}
	if len(r.Enrichment.Reasons) == 0 {
		return ErrEnrichmentUnavailable
	}
	return fmt.Errorf("%w: %s", ErrEnrichmentUnavailable, strings.Join(r.Enrichment.Reasons, "; "))
}
