package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/lmaudit/internal/catalog"
	"github.com/fyrsmithlabs/lmaudit/internal/extraction"
	"github.com/fyrsmithlabs/lmaudit/internal/report"
)

// Auditor audits single products from seller forms, page URLs and label
// images. It is the entry point shared by the HTTP API, MCP tools and bulk
// tasks.
type Auditor struct {
	pipeline *Pipeline
	sources  *Sources
}

// NewAuditor pairs a pipeline with the sources that feed it.
func NewAuditor(p *Pipeline, s *Sources) *Auditor {
	if s == nil {
		s = NewSources(nil, nil, 0, nil)
	}
	return &Auditor{pipeline: p, sources: s}
}

// AuditForm audits a product described by its seller. Unknown categories
// and field names are ErrInvalidInput.
func (a *Auditor) AuditForm(ctx context.Context, f Form) (*report.AuditReport, error) {
	in, err := FromForm(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if len(in.Sources) == 0 && len(in.Declared) == 0 {
		return nil, fmt.Errorf("%w: product text or fields are required", ErrInvalidInput)
	}
	return a.pipeline.Run(ctx, in)
}

// AuditURL assembles and audits one product page. Fetch failures are
// counted and returned like any other AuditFailure.
func (a *Auditor) AuditURL(ctx context.Context, rawURL, sellerID string, category catalog.Category) (*report.AuditReport, error) {
	in, err := a.sources.FromURL(ctx, rawURL, sellerID, category)
	return a.run(ctx, in, err)
}

// AuditImage OCRs and audits one label image.
func (a *Auditor) AuditImage(ctx context.Context, image []byte, sellerID, productName string, category catalog.Category) (*report.AuditReport, error) {
	if len(image) == 0 {
		return nil, fmt.Errorf("%w: image is empty", ErrInvalidInput)
	}
	in, err := a.sources.FromImage(ctx, image, sellerID, productName, category)
	return a.run(ctx, in, err)
}

func (a *Auditor) run(ctx context.Context, in extraction.ProductInput, err error) (*report.AuditReport, error) {
	if err != nil {
		var failure *AuditFailure
		if errors.As(err, &failure) {
			return nil, a.pipeline.fail(ctx, failure.ProductID, failure.Stage, failure.Cause)
		}
		return nil, fmt.Errorf("assembling product %s: %w", in.ProductID, err)
	}
	return a.pipeline.Run(ctx, in)
}
