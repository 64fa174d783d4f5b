package extraction

import (
	"github.com/fyrsmithlabs/lmaudit/internal/catalog"
)

// SourceKind tags where a piece of text came from.
type SourceKind string

const (
	SourceForm    SourceKind = "form"
	SourceOCR     SourceKind = "ocr"
	SourceScraped SourceKind = "scraped"
)

// Source is one raw text channel of a product.
type Source struct {
	Kind SourceKind `json:"kind"`
	Text string     `json:"text"`
}

// ProductInput is everything known about a product before extraction.
// Declared values come first, then Sources in order; earlier wins per field.
type ProductInput struct {
	ProductID   string                   `json:"product_id,omitempty"`
	SellerID    string                   `json:"seller_id"`
	ProductName string                   `json:"product_name,omitempty"`
	SourceURL   string                   `json:"source_url,omitempty"`
	Category    catalog.Category         `json:"category,omitempty"`
	Declared    map[catalog.Field]string `json:"declared,omitempty"`
	Sources     []Source                 `json:"sources"`
}

// Entry is one extracted field. Value is the normalized form and is nil when
// nothing usable was found. Raw keeps the text as declared, including when
// it could not be normalized.
type Entry struct {
	Value  *string    `json:"value"`
	Raw    string     `json:"raw,omitempty"`
	Source SourceKind `json:"source,omitempty"`
	Amount *float64   `json:"amount,omitempty"`
	Unit   string     `json:"unit,omitempty"`
}

// Present reports whether the entry has a non-empty normalized value.
func (e Entry) Present() bool {
	return e.Value != nil && *e.Value != ""
}

// Text returns the declared text, falling back to the normalized value.
func (e Entry) Text() string {
	if e.Raw != "" {
		return e.Raw
	}
	if e.Value != nil {
		return *e.Value
	}
	return ""
}

// Signals are product-level facts that make some declarations conditional.
type Signals struct {
	Imported  bool `json:"imported"`
	Appliance bool `json:"appliance"`
}

// FieldMap holds one entry for every field of Category.
type FieldMap struct {
	Category catalog.Category        `json:"category"`
	Fields   map[catalog.Field]Entry `json:"fields"`
	Signals  Signals                 `json:"signals"`
}

// NewFieldMap returns a map with every field of category present and null.
func NewFieldMap(category catalog.Category) *FieldMap {
	set := category.Fields()
	fm := &FieldMap{Category: category, Fields: make(map[catalog.Field]Entry, len(set))}
	for _, f := range set {
		fm.Fields[f] = Entry{}
	}
	return fm
}

// Get returns the entry for f.
func (m *FieldMap) Get(f catalog.Field) (Entry, bool) {
	e, ok := m.Fields[f]
	return e, ok
}

// Set stores a plain normalized value for f, mostly for building fixtures.
func (m *FieldMap) Set(f catalog.Field, value string, source SourceKind) {
	v := value
	m.Fields[f] = Entry{Value: &v, Raw: value, Source: source}
}

// Null clears f to a present-but-null entry.
func (m *FieldMap) Null(f catalog.Field) {
	m.Fields[f] = Entry{}
}

// Populated lists fields with a normalized value, in catalog order.
func (m *FieldMap) Populated() []catalog.Field {
	var out []catalog.Field
	for _, f := range m.Category.Fields() {
		if e := m.Fields[f]; e.Present() {
			out = append(out, f)
		}
	}
	return out
}
