package pipeline

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/lmaudit/internal/catalog"
	"github.com/fyrsmithlabs/lmaudit/internal/extraction"
	"github.com/fyrsmithlabs/lmaudit/internal/ocr"
	"github.com/fyrsmithlabs/lmaudit/internal/scraper"
)

// PageSource fetches product pages and their images.
type PageSource interface {
	Fetch(ctx context.Context, url string) (*scraper.Page, error)
	FetchImage(ctx context.Context, url string) ([]byte, error)
}

// Form is a product described directly by the seller.
type Form struct {
	SellerID    string
	ProductName string
	Category    string
	Text        string
	Fields      map[string]string
}

// FromForm turns a seller form into pipeline input. Unknown categories and
// field names are rejected.
func FromForm(f Form) (extraction.ProductInput, error) {
	in := extraction.ProductInput{
		ProductID:   uuid.NewString(),
		SellerID:    f.SellerID,
		ProductName: f.ProductName,
	}
	if strings.TrimSpace(f.Category) != "" {
		c, err := catalog.Parse(f.Category)
		if err != nil {
			return extraction.ProductInput{}, err
		}
		in.Category = c
	}
	if len(f.Fields) > 0 {
		in.Declared = make(map[catalog.Field]string, len(f.Fields))
		for name, v := range f.Fields {
			field, err := catalog.ParseField(name)
			if err != nil {
				return extraction.ProductInput{}, err
			}
			in.Declared[field] = v
		}
	}
	text := f.Text
	if f.ProductName != "" {
		text = f.ProductName + "\n" + text
	}
	if strings.TrimSpace(text) != "" {
		in.Sources = append(in.Sources, extraction.Source{Kind: extraction.SourceForm, Text: text})
	}
	return in, nil
}

// Sources assembles pipeline input from product pages and label images.
type Sources struct {
	pages     PageSource
	ocr       ocr.Reader
	maxImages int
	logger    *zap.Logger
}

// NewSources creates a Sources. A nil reader disables OCR.
func NewSources(pages PageSource, reader ocr.Reader, maxImages int, logger *zap.Logger) *Sources {
	if logger == nil {
		logger = zap.NewNop()
	}
	if reader == nil {
		reader = ocr.Disabled{}
	}
	return &Sources{pages: pages, ocr: reader, maxImages: maxImages, logger: logger}
}

// FromURL scrapes a product page and OCRs up to maxImages of its images.
// A page that cannot be fetched fails the audit; image failures only lose
// that image's text. Page text precedes OCR text.
func (s *Sources) FromURL(ctx context.Context, rawURL, sellerID string, category catalog.Category) (extraction.ProductInput, error) {
	in := extraction.ProductInput{
		ProductID: uuid.NewString(),
		SellerID:  sellerID,
		SourceURL: rawURL,
		Category:  category,
	}
	if s.pages == nil {
		return in, &AuditFailure{ProductID: in.ProductID, Stage: StageFetch, Cause: errors.New("page fetching is not configured")}
	}
	page, err := s.pages.Fetch(ctx, rawURL)
	if err != nil {
		return in, &AuditFailure{ProductID: in.ProductID, Stage: StageFetch, Cause: err}
	}
	in.ProductName = page.Title
	if text := page.Text(); text != "" {
		in.Sources = append(in.Sources, extraction.Source{Kind: extraction.SourceScraped, Text: text})
	}
	if text := ocr.ReadURLs(ctx, s.ocr, s.pages.FetchImage, page.ImageURLs, s.maxImages, s.logger); text != "" {
		in.Sources = append(in.Sources, extraction.Source{Kind: extraction.SourceOCR, Text: text})
	}
	s.logger.Debug("product page assembled",
		zap.String("url", rawURL),
		zap.Int("specs", len(page.Specs)),
		zap.Int("images", len(page.ImageURLs)),
		zap.Int("sources", len(in.Sources)),
	)
	return in, nil
}

// FromImage OCRs a single label image. Disabled OCR and unusable images fail
// the audit; any other OCR failure leaves the product without text.
func (s *Sources) FromImage(ctx context.Context, image []byte, sellerID, productName string, category catalog.Category) (extraction.ProductInput, error) {
	in := extraction.ProductInput{
		ProductID:   uuid.NewString(),
		SellerID:    sellerID,
		ProductName: productName,
		Category:    category,
	}
	res, err := s.ocr.Read(ctx, image)
	switch {
	case errors.Is(err, ocr.ErrDisabled), errors.Is(err, ocr.ErrEmptyImage):
		return in, &AuditFailure{ProductID: in.ProductID, Stage: StageExtract, Cause: err}
	case err != nil:
		s.logger.Warn("label ocr failed, auditing without image text",
			zap.String("product_id", in.ProductID),
			zap.Error(err),
		)
		return in, nil
	}
	if res.Text != "" {
		in.Sources = append(in.Sources, extraction.Source{Kind: extraction.SourceOCR, Text: res.Text})
	}
	return in, nil
}
