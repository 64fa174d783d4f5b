package scraper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/fyrsmithlabs/lmaudit/internal/catalog"
)

// Marketplace is a supported e-commerce site.
type Marketplace string

const (
	Amazon   Marketplace = "amazon.in"
	Flipkart Marketplace = "flipkart"
)

// ParseMarketplace accepts "amazon", "amazon.in", "flipkart" or "flipkart.com".
func ParseMarketplace(s string) (Marketplace, error) {
	switch m := strings.ToLower(strings.TrimSpace(s)); {
	case m == "" || strings.Contains(m, "amazon"):
		return Amazon, nil
	case strings.Contains(m, "flipkart"):
		return Flipkart, nil
	}
	return "", fmt.Errorf("unsupported marketplace %q", s)
}

// DiscoveryCategory is a search category of a bulk audit.
type DiscoveryCategory string

const (
	FoodOil       DiscoveryCategory = "food_oil"
	FoodPackaged  DiscoveryCategory = "food_packaged"
	Electronics   DiscoveryCategory = "electronics"
	Cosmetics     DiscoveryCategory = "cosmetics"
	ImportedGoods DiscoveryCategory = "imported_goods"
	Household     DiscoveryCategory = "household"
	Beverages     DiscoveryCategory = "beverages"
	Custom        DiscoveryCategory = "custom"
)

var searchKeywords = map[DiscoveryCategory][]string{
	FoodOil:       {"sunflower oil", "cooking oil", "edible oil", "mustard oil", "groundnut oil"},
	FoodPackaged:  {"packaged food", "snacks", "biscuits", "noodles", "ready to eat"},
	Electronics:   {"mobile phone", "laptop", "headphones", "charger", "power bank"},
	Cosmetics:     {"face cream", "shampoo", "soap", "lotion", "skincare"},
	ImportedGoods: {"imported", "foreign brand"},
	Household:     {"detergent", "cleaning", "kitchen appliance"},
	Beverages:     {"juice", "soft drink", "energy drink", "packaged water"},
}

var discoveryNames = map[DiscoveryCategory]string{
	FoodOil:       "Food - Edible Oil",
	FoodPackaged:  "Food - Packaged Items",
	Electronics:   "Electronics",
	Cosmetics:     "Cosmetics & Personal Care",
	ImportedGoods: "Imported Products",
	Household:     "Household Items",
	Beverages:     "Beverages",
	Custom:        "Custom Search",
}

// DiscoveryCategories lists every discovery category.
func DiscoveryCategories() []DiscoveryCategory {
	return []DiscoveryCategory{FoodOil, FoodPackaged, Electronics, Cosmetics, ImportedGoods, Household, Beverages, Custom}
}

// ParseDiscoveryCategory resolves a case-insensitive discovery category.
func ParseDiscoveryCategory(s string) (DiscoveryCategory, error) {
	d := DiscoveryCategory(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := discoveryNames[d]; !ok {
		return "", fmt.Errorf("unknown discovery category %q", s)
	}
	return d, nil
}

// Name is the display name.
func (d DiscoveryCategory) Name() string { return discoveryNames[d] }

// Keywords returns the search terms for d. Custom searches use custom alone.
func (d DiscoveryCategory) Keywords(custom string) []string {
	if d == Custom {
		if custom = strings.TrimSpace(custom); custom != "" {
			return []string{custom}
		}
		return nil
	}
	return searchKeywords[d]
}

// AuditCategory maps d to the catalog category its products are audited
// under. An empty result means detect per product.
func (d DiscoveryCategory) AuditCategory() catalog.Category {
	switch d {
	case FoodOil, FoodPackaged, Beverages:
		return catalog.Food
	case Electronics:
		return catalog.Electronics
	case Cosmetics:
		return catalog.Cosmetics
	}
	return ""
}

// ErrNoKeywords is returned for a custom search without a keyword.
var ErrNoKeywords = errors.New("no search keywords for category")

// Query describes a discovery run.
type Query struct {
	Category      DiscoveryCategory
	MaxProducts   int
	Marketplace   Marketplace
	CustomKeyword string
}

// Discoverer finds product URLs through marketplace search pages.
type Discoverer struct {
	fetcher *Fetcher
	bases   map[Marketplace]string
	logger  *zap.Logger
}

// DiscovererOption configures a Discoverer.
type DiscovererOption func(*Discoverer)

// WithSearchBase overrides the site root searched for m.
func WithSearchBase(m Marketplace, base string) DiscovererOption {
	return func(d *Discoverer) { d.bases[m] = strings.TrimRight(base, "/") }
}

// NewDiscoverer returns a Discoverer sharing f's client and rate limit.
func NewDiscoverer(f *Fetcher, logger *zap.Logger, opts ...DiscovererOption) *Discoverer {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Discoverer{
		fetcher: f,
		bases: map[Marketplace]string{
			Amazon:   "https://www.amazon.in",
			Flipkart: "https://www.flipkart.com",
		},
		logger: logger,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Discover returns up to q.MaxProducts distinct product URLs. Each keyword
// contributes at most max(2, MaxProducts/len(keywords)). Failed searches are
// skipped; an error is returned only when every search failed.
func (d *Discoverer) Discover(ctx context.Context, q Query) ([]string, error) {
	ctx, span := tracer.Start(ctx, "Discoverer.Discover")
	defer span.End()
	span.SetAttributes(attribute.String("category", string(q.Category)), attribute.String("marketplace", string(q.Marketplace)))

	keywords := q.Category.Keywords(q.CustomKeyword)
	if len(keywords) == 0 {
		return nil, ErrNoKeywords
	}
	if q.MaxProducts <= 0 {
		return nil, nil
	}
	perKeyword := q.MaxProducts / len(keywords)
	if perKeyword < 2 {
		perKeyword = 2
	}

	var (
		out     []string
		seen    = map[string]bool{}
		lastErr error
		okCount int
	)
	for _, kw := range keywords {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		urls, err := d.search(ctx, q.Marketplace, kw, perKeyword)
		if err != nil {
			d.logger.Warn("product search failed", zap.String("keyword", kw), zap.Error(err))
			lastErr = err
			continue
		}
		okCount++
		for _, u := range urls {
			if seen[u] {
				continue
			}
			seen[u] = true
			out = append(out, u)
			if len(out) >= q.MaxProducts {
				break
			}
		}
		if len(out) >= q.MaxProducts {
			break
		}
	}
	if okCount == 0 && lastErr != nil {
		return nil, fmt.Errorf("all product searches failed: %w", lastErr)
	}
	span.SetAttributes(attribute.Int("urls", len(out)))
	return out, nil
}

func (d *Discoverer) search(ctx context.Context, m Marketplace, query string, limit int) ([]string, error) {
	base, ok := d.bases[m]
	if !ok {
		return nil, fmt.Errorf("unsupported marketplace %q", m)
	}
	searchURL := base + "/s?k=" + url.QueryEscape(query)
	if m == Flipkart {
		searchURL = base + "/search?q=" + url.QueryEscape(query)
	}
	body, _, err := d.fetcher.get(ctx, searchURL, "text/html,*/*;q=0.8", maxPageBytes)
	if err != nil {
		return nil, err
	}
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parsing search page: %w", err)
	}
	root, err := url.Parse(base + "/")
	if err != nil {
		return nil, err
	}
	return productLinks(doc, root, m, limit), nil
}

// productLinks collects product page links in document order.
func productLinks(doc *html.Node, root *url.URL, m Marketplace, limit int) []string {
	var out []string
	seen := map[string]bool{}
	for _, a := range findAll(doc, byTag(atom.A)) {
		href := attr(a, "href")
		switch m {
		case Amazon:
			if !strings.Contains(href, "/dp/") && !strings.Contains(href, "/gp/product/") {
				continue
			}
			href, _, _ = strings.Cut(href, "?")
		case Flipkart:
			if !strings.Contains(href, "/p/") {
				continue
			}
		}
		ref, err := url.Parse(href)
		if err != nil {
			continue
		}
		full := root.ResolveReference(ref).String()
		if seen[full] {
			continue
		}
		seen[full] = true
		out = append(out, full)
		if len(out) >= limit {
			break
		}
	}
	return out
}
