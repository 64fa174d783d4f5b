// Package scraper fetches marketplace product pages and discovers product
// URLs for category audits.
package scraper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/lmaudit/internal/config"
)

const (
	maxPageBytes   = 8 << 20
	maxImageBytes  = 10 << 20
	minImageBytes  = 500
	maxSectionText = 10000
)

// ErrNotImage is returned when an image URL answers with something else.
var ErrNotImage = errors.New("response is not an image")

var tracer = otel.Tracer("lmaudit.scraper")

// Spec is one row of a product specification table.
type Spec struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Page is the content extracted from one product page. Missing parts are
// empty, never an error.
type Page struct {
	URL         string   `json:"url"`
	Title       string   `json:"title,omitempty"`
	Description string   `json:"description,omitempty"`
	Specs       []Spec   `json:"specifications"`
	ImageURLs   []string `json:"image_urls"`
	RawText     string   `json:"raw_text"`
}

// SpecText renders the specification table as "key: value" lines.
func (p *Page) SpecText() string {
	lines := make([]string, len(p.Specs))
	for i, s := range p.Specs {
		lines[i] = s.Key + ": " + s.Value
	}
	return strings.Join(lines, "\n")
}

// Text is everything worth extracting from, title first.
func (p *Page) Text() string {
	parts := make([]string, 0, 4)
	for _, s := range []string{p.Title, p.Description, p.SpecText(), p.RawText} {
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "\n")
}

// Fetcher downloads pages and images with a shared rate limit.
type Fetcher struct {
	http      *http.Client
	limiter   *rate.Limiter
	userAgent string
	logger    *zap.Logger
}

// NewFetcher returns a Fetcher configured by cfg.
func NewFetcher(cfg config.ScraperConfig, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout.Duration()
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	limit := rate.Inf
	burst := 1
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
		if b := int(cfg.RequestsPerSecond); b > burst {
			burst = b
		}
	}
	return &Fetcher{
		http:      &http.Client{Timeout: timeout},
		limiter:   rate.NewLimiter(limit, burst),
		userAgent: cfg.UserAgent,
		logger:    logger,
	}
}

func (f *Fetcher) get(ctx context.Context, rawURL, accept string, limit int64) ([]byte, string, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, "", fmt.Errorf("rate limiter: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("creating request: %w", err)
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}
	req.Header.Set("Accept", accept)
	req.Header.Set("Accept-Language", "en-IN,en-GB;q=0.9,en-US;q=0.8,en;q=0.7")

	resp, err := f.http.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetching %s: %w", rawURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, "", fmt.Errorf("fetching %s: status %d", rawURL, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return nil, "", fmt.Errorf("reading %s: %w", rawURL, err)
	}
	return data, resp.Header.Get("Content-Type"), nil
}

// Fetch downloads and parses a product page.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Page, error) {
	ctx, span := tracer.Start(ctx, "Fetcher.Fetch")
	defer span.End()
	span.SetAttributes(attribute.String("url", rawURL))

	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid product url %q", rawURL)
	}
	body, _, err := f.get(ctx, rawURL, "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8", maxPageBytes)
	if err != nil {
		return nil, err
	}
	page, err := Parse(u, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	f.logger.Debug("page scraped",
		zap.String("url", rawURL),
		zap.Int("specs", len(page.Specs)),
		zap.Int("images", len(page.ImageURLs)))
	return page, nil
}

// FetchImage downloads an image, rejecting placeholders and HTML error pages.
func (f *Fetcher) FetchImage(ctx context.Context, rawURL string) ([]byte, error) {
	data, ctype, err := f.get(ctx, rawURL, "image/avif,image/webp,image/*,*/*;q=0.8", maxImageBytes)
	if err != nil {
		return nil, err
	}
	if !strings.Contains(strings.ToLower(ctype), "image") && len(data) < 1000 {
		return nil, fmt.Errorf("%w: %s", ErrNotImage, ctype)
	}
	if len(data) < minImageBytes {
		return nil, fmt.Errorf("%w: %d bytes", ErrNotImage, len(data))
	}
	return data, nil
}

// Parse extracts a Page from HTML served at u.
func Parse(u *url.URL, r io.Reader) (*Page, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parsing html: %w", err)
	}
	p := &pageBuilder{base: u, page: &Page{URL: u.String()}, seenSpec: map[string]bool{}, seenImg: map[string]bool{}}
	host := strings.ToLower(u.Hostname())
	switch {
	case strings.Contains(host, "amazon."):
		p.amazon(doc)
	case strings.Contains(host, "flipkart."):
		p.flipkart(doc)
	}
	p.generic(doc)
	return p.page, nil
}

type pageBuilder struct {
	base     *url.URL
	page     *Page
	seenSpec map[string]bool
	seenImg  map[string]bool
}

var (
	invisibleMarks = strings.NewReplacer("\u200e", "", "\u200f", "")
	spaces         = regexp.MustCompile(`\s+`)
	thumbSuffix    = regexp.MustCompile(`\._[A-Z0-9_,]+_\.`)
	flipkartSize   = regexp.MustCompile(`/\d+/\d+/`)
	fssaiInText    = regexp.MustCompile(`(?i)(?:FSSAI|Lic\.?|License)\s*(?:License|Lic\.?)?\s*(?:No\.?|Number)?[:\s]*(\d{14})`)
	skipImage      = []string{"sprite", "transparent", "1x1", "blank", "icon", "logo", "loading", "placeholder"}
)

func (p *pageBuilder) addSpec(key, value string) {
	key = strings.TrimSpace(strings.ReplaceAll(invisibleMarks.Replace(key), ":", ""))
	value = strings.TrimSpace(spaces.ReplaceAllString(invisibleMarks.Replace(value), " "))
	if len(key) < 2 || len(key) > 100 || value == "" || strings.Contains(key, "\n") {
		return
	}
	if p.seenSpec[key] {
		return
	}
	p.seenSpec[key] = true
	p.page.Specs = append(p.page.Specs, Spec{Key: key, Value: value})
}

func (p *pageBuilder) addImage(src string) {
	src = strings.TrimSpace(src)
	if src == "" || strings.HasPrefix(src, "data:") {
		return
	}
	lower := strings.ToLower(src)
	for _, s := range skipImage {
		if strings.Contains(lower, s) {
			return
		}
	}
	ref, err := url.Parse(src)
	if err != nil {
		return
	}
	resolved := p.base.ResolveReference(ref).String()
	if !strings.HasPrefix(resolved, "http") {
		return
	}
	key := thumbSuffix.ReplaceAllString(resolved, ".")
	if p.seenImg[key] {
		return
	}
	p.seenImg[key] = true
	p.page.ImageURLs = append(p.page.ImageURLs, resolved)
}

// tableRows adds th/td or td/td pairs of every row below root.
func (p *pageBuilder) tableRows(root *html.Node) {
	for _, row := range findAll(root, byTag(atom.Tr)) {
		cells := findAll(row, byTag(atom.Th, atom.Td))
		if len(cells) >= 2 {
			p.addSpec(text(cells[0], " "), text(cells[1], " "))
		}
	}
}

func (p *pageBuilder) amazon(doc *html.Node) {
	p.page.Title = firstNonEmpty(text(find(doc, byID("productTitle")), " "), text(find(doc, byID("title")), " "))

	for _, id := range []string{"productDetails_detailBullets_sections1", "productDetails_techSpec_section_1", "productDetails_db_sections", "prodDetails"} {
		if n := find(doc, byID(id)); n != nil {
			p.tableRows(n)
		}
	}
	if bullets := find(doc, byID("detailBullets_feature_div")); bullets != nil {
		for _, li := range findAll(bullets, byTag(atom.Li)) {
			if k, v, ok := strings.Cut(text(li, " "), ":"); ok {
				p.addSpec(k, v)
			}
		}
	}

	var features []string
	for _, id := range []string{"feature-bullets", "featurebullets_feature_div"} {
		if n := find(doc, byID(id)); n != nil {
			for _, li := range findAll(n, byTag(atom.Li)) {
				if t := text(li, " "); len(t) > 5 {
					features = append(features, "- "+t)
				}
			}
		}
	}

	price := text(find(doc, func(n *html.Node) bool { return hasClass(n, "a-price-whole") }), "")
	mrp := text(find(doc, func(n *html.Node) bool { return hasClass(n, "a-text-price") }), "")
	if mrp != "" {
		p.addSpec("MRP", mrp)
	}
	if price != "" {
		p.addSpec("Selling Price", price)
	}

	p.page.Description = firstNonEmpty(text(find(doc, byID("productDescription")), " "))

	if img := find(doc, byID("landingImage")); img != nil {
		p.addImage(attr(img, "data-old-hires"))
		p.addImage(attr(img, "src"))
	}
	for _, id := range []string{"altImages", "imageBlock", "aplus", "productDescription", "important-information"} {
		if n := find(doc, byID(id)); n != nil {
			for _, img := range findAll(n, byTag(atom.Img)) {
				p.addImage(thumbSuffix.ReplaceAllString(firstNonEmpty(attr(img, "data-old-hires"), attr(img, "src"), attr(img, "data-src")), "."))
			}
		}
	}

	if len(features) > 0 {
		p.page.RawText = "Features:\n" + strings.Join(features, "\n")
	}
	if info := text(find(doc, byID("important-information")), "\n"); info != "" {
		p.page.RawText = strings.TrimSpace(p.page.RawText + "\nImportant Information:\n" + info)
	}
}

func (p *pageBuilder) flipkart(doc *html.Node) {
	for _, div := range findAll(doc, func(n *html.Node) bool { return hasClass(n, "_1AN87F") }) {
		for _, li := range findAll(div, byTag(atom.Li)) {
			if k, v, ok := strings.Cut(text(li, " "), ":"); ok {
				p.addSpec(k, v)
			}
		}
	}
	for _, img := range findAll(doc, byTag(atom.Img)) {
		src := firstNonEmpty(attr(img, "src"), attr(img, "data-src"))
		if strings.Contains(src, "flixcart") || strings.Contains(src, "flipkart") {
			p.addImage(flipkartSize.ReplaceAllString(src, "/832/832/"))
		}
	}
}

// generic fills whatever the marketplace parsers left empty.
func (p *pageBuilder) generic(doc *html.Node) {
	p.page.Title = firstNonEmpty(
		p.page.Title,
		metaContent(doc, "property", "og:title"),
		metaContent(doc, "name", "twitter:title"),
		text(find(doc, byTag(atom.Title)), " "),
		text(find(doc, byTag(atom.H1)), " "),
	)
	p.page.Description = firstNonEmpty(
		p.page.Description,
		metaContent(doc, "name", "description"),
		metaContent(doc, "property", "og:description"),
		text(find(doc, byTag(atom.P)), " "),
	)

	for _, table := range findAll(doc, byTag(atom.Table)) {
		p.tableRows(table)
	}
	for _, li := range findAll(doc, byTag(atom.Li)) {
		if k, v, ok := strings.Cut(text(li, " "), ":"); ok {
			p.addSpec(k, v)
		}
	}
	for _, img := range findAll(doc, byTag(atom.Img)) {
		p.addImage(firstNonEmpty(attr(img, "src"), attr(img, "data-src"), attr(img, "data-original")))
	}

	body := text(find(doc, byTag(atom.Body)), "\n")
	if !p.seenSpec["FSSAI License Number"] {
		if m := fssaiInText.FindStringSubmatch(body); m != nil {
			p.addSpec("FSSAI License Number", m[1])
		}
	}
	if len(body) > maxSectionText {
		body = body[:maxSectionText]
	}
	p.page.RawText = strings.TrimSpace(p.page.RawText + "\n" + body)
}
