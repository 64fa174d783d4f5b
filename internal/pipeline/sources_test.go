package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/lmaudit/internal/catalog"
	"github.com/fyrsmithlabs/lmaudit/internal/extraction"
	"github.com/fyrsmithlabs/lmaudit/internal/ocr"
	"github.com/fyrsmithlabs/lmaudit/internal/scraper"
)

type fakePages struct {
	page    *scraper.Page
	err     error
	mu      sync.Mutex
	fetched []string
}

func (f *fakePages) Fetch(_ context.Context, url string) (*scraper.Page, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.page, nil
}

func (f *fakePages) FetchImage(_ context.Context, url string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetched = append(f.fetched, url)
	return []byte(url), nil
}

// labelReader returns the image bytes prefixed as label text.
type labelReader struct {
	err error
}

func (r labelReader) Read(_ context.Context, img []byte) (ocr.Result, error) {
	if r.err != nil {
		return ocr.Result{}, r.err
	}
	return ocr.Result{Text: "label " + string(img), Confidence: 90}, nil
}

func productPage() *scraper.Page {
	return &scraper.Page{
		URL:   "https://www.amazon.in/dp/B0TEST",
		Title: "Acme Sunflower Oil 1 L",
		Specs: []scraper.Spec{
			{Key: "Manufacturer", Value: "Acme Oils Ltd"},
			{Key: "Net Quantity", Value: "1 l"},
		},
		ImageURLs: []string{"https://img/1.jpg", "https://img/2.jpg", "https://img/3.jpg"},
	}
}

func TestFromForm(t *testing.T) {
	in, err := FromForm(Form{
		SellerID:    "s-1",
		ProductName: "Acme Atta",
		Category:    "Food",
		Text:        "MRP: 99",
		Fields:      map[string]string{"net_quantity": "5 kg", "FSSAI_LICENSE": "12345678901234"},
	})
	require.NoError(t, err)

	assert.NotEmpty(t, in.ProductID)
	assert.Equal(t, catalog.Food, in.Category)
	assert.Equal(t, "5 kg", in.Declared[catalog.NetQuantity])
	assert.Equal(t, "12345678901234", in.Declared[catalog.FSSAILicense])
	require.Len(t, in.Sources, 1)
	assert.Equal(t, extraction.SourceForm, in.Sources[0].Kind)
	assert.Equal(t, "Acme Atta\nMRP: 99", in.Sources[0].Text)

	_, err = FromForm(Form{Category: "toys"})
	assert.Error(t, err)
	_, err = FromForm(Form{Fields: map[string]string{"colour": "red"}})
	assert.Error(t, err)

	empty, err := FromForm(Form{SellerID: "s-1"})
	require.NoError(t, err)
	assert.Empty(t, empty.Sources)
	assert.Empty(t, empty.Category)
}

func TestSources_FromURL(t *testing.T) {
	pages := &fakePages{page: productPage()}
	src := NewSources(pages, labelReader{}, 2, nil)

	in, err := src.FromURL(context.Background(), "https://www.amazon.in/dp/B0TEST", "s-1", catalog.Food)
	require.NoError(t, err)

	assert.Equal(t, "Acme Sunflower Oil 1 L", in.ProductName)
	assert.Equal(t, "https://www.amazon.in/dp/B0TEST", in.SourceURL)
	assert.Equal(t, catalog.Food, in.Category)
	require.Len(t, in.Sources, 2)
	assert.Equal(t, extraction.SourceScraped, in.Sources[0].Kind)
	assert.Contains(t, in.Sources[0].Text, "Manufacturer: Acme Oils Ltd")
	assert.Equal(t, extraction.SourceOCR, in.Sources[1].Kind)
	assert.Equal(t, "label https://img/1.jpg\nlabel https://img/2.jpg", in.Sources[1].Text)
	assert.Len(t, pages.fetched, 2, "image count is capped")
}

func TestSources_FromURLWithoutOCR(t *testing.T) {
	src := NewSources(&fakePages{page: productPage()}, nil, 3, nil)

	in, err := src.FromURL(context.Background(), "https://x", "s-1", "")
	require.NoError(t, err)
	require.Len(t, in.Sources, 1)
	assert.Equal(t, extraction.SourceScraped, in.Sources[0].Kind)
}

func TestSources_FromURLFetchFailure(t *testing.T) {
	src := NewSources(&fakePages{err: errors.New("status 503")}, labelReader{}, 3, nil)

	_, err := src.FromURL(context.Background(), "https://x", "s-1", "")
	var failure *AuditFailure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, StageFetch, failure.Stage)
	assert.NotEmpty(t, failure.ProductID)

	_, err = NewSources(nil, nil, 3, nil).FromURL(context.Background(), "https://x", "s-1", "")
	require.ErrorAs(t, err, &failure)
}

func TestSources_FromImage(t *testing.T) {
	tests := []struct {
		name        string
		reader      ocr.Reader
		wantStage   Stage
		wantSources int
	}{
		{name: "read", reader: labelReader{}, wantSources: 1},
		{name: "disabled", reader: ocr.Disabled{}, wantStage: StageExtract},
		{name: "too small", reader: labelReader{err: ocr.ErrEmptyImage}, wantStage: StageExtract},
		{name: "sidecar down", reader: labelReader{err: errors.New("connection refused")}, wantSources: 0},
		{name: "low confidence", reader: labelReader{err: ocr.ErrLowConfidence}, wantSources: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := NewSources(nil, tt.reader, 3, nil)
			in, err := src.FromImage(context.Background(), []byte("Net Qty: 200 g"), "s-1", "Biscuits", catalog.Food)
			if tt.wantStage != "" {
				var failure *AuditFailure
				require.ErrorAs(t, err, &failure)
				assert.Equal(t, tt.wantStage, failure.Stage)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "Biscuits", in.ProductName)
			assert.Len(t, in.Sources, tt.wantSources)
		})
	}
}

