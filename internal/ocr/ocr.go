// Package ocr turns label images into text through an OCR sidecar.
package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"regexp"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/lmaudit/internal/config"
)

const (
	maxImageBytes  = 10 << 20
	maxReplyBytes  = 1 << 20
	minImageBytes  = 500
	batchWorkers   = 5
	requestsPerSec = 5
)

var (
	// ErrDisabled is returned when no OCR backend is configured.
	ErrDisabled = errors.New("ocr disabled")

	// ErrEmptyImage rejects zero-length or undersized payloads.
	ErrEmptyImage = errors.New("image is empty or too small")

	// ErrLowConfidence means the sidecar read the image below the configured confidence.
	ErrLowConfidence = errors.New("ocr confidence below threshold")
)

var tracer = otel.Tracer("lmaudit.ocr")

// Result is the text read from one image. Confidence is 0..100.
type Result struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// Reader extracts text from an image.
type Reader interface {
	Read(ctx context.Context, image []byte) (Result, error)
}

// Disabled is the Reader used when OCR is switched off.
type Disabled struct{}

// Read implements Reader.
func (Disabled) Read(context.Context, []byte) (Result, error) { return Result{}, ErrDisabled }

// Client calls an HTTP OCR sidecar: POST {base}/ocr with a multipart "image"
// part, answering {"text": "...", "confidence": 87.5}.
type Client struct {
	baseURL       string
	http          *http.Client
	limiter       *rate.Limiter
	minConfidence float64
	logger        *zap.Logger
}

// New returns the Reader selected by cfg.
func New(cfg config.OCRConfig, logger *zap.Logger) Reader {
	if !cfg.Enabled || cfg.BaseURL == "" {
		return Disabled{}
	}
	return NewClient(cfg, logger)
}

// NewClient returns a sidecar client.
func NewClient(cfg config.OCRConfig, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout.Duration()
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Client{
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		http:          &http.Client{Timeout: timeout},
		limiter:       rate.NewLimiter(rate.Limit(requestsPerSec), requestsPerSec),
		minConfidence: cfg.MinConfidence,
		logger:        logger,
	}
}

// Read implements Reader.
func (c *Client) Read(ctx context.Context, image []byte) (Result, error) {
	ctx, span := tracer.Start(ctx, "Client.Read")
	defer span.End()
	span.SetAttributes(attribute.Int("image.bytes", len(image)))

	if len(image) < minImageBytes {
		return Result{}, ErrEmptyImage
	}
	if len(image) > maxImageBytes {
		return Result{}, fmt.Errorf("image too large: %d bytes (max %d)", len(image), maxImageBytes)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return Result{}, fmt.Errorf("rate limiter: %w", err)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("image", "label")
	if err != nil {
		return Result{}, fmt.Errorf("building request: %w", err)
	}
	if _, err := part.Write(image); err != nil {
		return Result{}, fmt.Errorf("building request: %w", err)
	}
	if err := mw.Close(); err != nil {
		return Result{}, fmt.Errorf("building request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/ocr", &body)
	if err != nil {
		return Result{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("ocr request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))
	if err != nil {
		return Result{}, fmt.Errorf("reading ocr reply: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("ocr sidecar error (%d): %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var out Result
	if err := json.Unmarshal(data, &out); err != nil {
		return Result{}, fmt.Errorf("parsing ocr reply: %w", err)
	}
	out.Text = Clean(out.Text)
	span.SetAttributes(attribute.Float64("confidence", out.Confidence))
	if out.Confidence < c.minConfidence {
		return Result{}, fmt.Errorf("%w: %.1f < %.1f", ErrLowConfidence, out.Confidence, c.minConfidence)
	}
	return out, nil
}

var (
	blanks   = regexp.MustCompile(`[ \t]+`)
	newlines = regexp.MustCompile(`\n{2,}`)
)

// Clean collapses runs of blanks and blank lines.
func Clean(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = blanks.ReplaceAllString(text, " ")
	text = newlines.ReplaceAllString(text, "\n")
	return strings.TrimSpace(text)
}

// LoadFunc fetches image bytes for a URL.
type LoadFunc func(ctx context.Context, url string) ([]byte, error)

// ReadURLs loads and reads up to limit distinct images concurrently and joins
// the meaningful texts in URL order. Per-image failures are logged and skipped.
func ReadURLs(ctx context.Context, r Reader, load LoadFunc, urls []string, limit int, logger *zap.Logger) string {
	if logger == nil {
		logger = zap.NewNop()
	}
	if _, off := r.(Disabled); off || len(urls) == 0 {
		return ""
	}

	seen := make(map[string]struct{}, len(urls))
	var unique []string
	for _, u := range urls {
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		unique = append(unique, u)
	}
	if limit > 0 && len(unique) > limit {
		unique = unique[:limit]
	}

	texts := make([]string, len(unique))
	var g errgroup.Group
	g.SetLimit(batchWorkers)
	for i, u := range unique {
		g.Go(func() error {
			img, err := load(ctx, u)
			if err != nil {
				logger.Warn("image download failed", zap.String("url", u), zap.Error(err))
				return nil
			}
			res, err := r.Read(ctx, img)
			if err != nil {
				logger.Warn("image ocr failed", zap.String("url", u), zap.Error(err))
				return nil
			}
			if len(res.Text) > 5 {
				texts[i] = res.Text
			}
			return nil
		})
	}
	// Failures are logged per image above; Wait only joins the pool.
	_ = g.Wait()

	var kept []string
	for _, t := range texts {
		if t != "" {
			kept = append(kept, t)
		}
	}
	return strings.Join(kept, "\n")
}
