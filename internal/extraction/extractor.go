package extraction

import (
	"context"
	"sort"
	"strings"

	"github.com/fyrsmithlabs/lmaudit/internal/catalog"
	"github.com/fyrsmithlabs/lmaudit/internal/logging"
	"go.uber.org/zap"
)

// Extractor extracts declaration fields from product text.
type Extractor struct {
	logger *logging.Logger
}

// New creates an Extractor. A nil logger discards output.
func New(logger *logging.Logger) *Extractor {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Extractor{logger: logger}
}

// Extract builds the field map for in and returns the category it used.
//
// An unset or unknown input category is detected from the merged text,
// falling back to generic. For each field the first source, in input order,
// that yields a normalizable value wins. Text that matched a label but could
// not be normalized is kept as Raw and the field stays null unless a later
// source supplies a usable value.
func (e *Extractor) Extract(ctx context.Context, in ProductInput) (*FieldMap, catalog.Category) {
	texts := make([]string, 0, len(in.Declared)+len(in.Sources))
	for _, f := range declaredOrder(in.Declared) {
		texts = append(texts, in.Declared[f])
	}
	for _, src := range in.Sources {
		texts = append(texts, src.Text)
	}
	merged := strings.Join(texts, "\n")

	category := in.Category
	if !category.Valid() {
		if category != "" {
			e.logger.Warn(ctx, "unknown input category, detecting", zap.String("category", string(category)))
		}
		category = catalog.Detect(merged)
	}

	fm := NewFieldMap(category)
	fm.Signals = Signals{
		Imported:  importedPattern.MatchString(merged),
		Appliance: appliancePattern.MatchString(merged),
	}

	for _, field := range category.Fields() {
		fs, ok := fieldSpecs[field]
		if !ok {
			continue
		}
		fm.Fields[field] = e.extractField(ctx, field, fs, in.Declared[field], in.Sources)
	}

	e.logger.Debug(ctx, "fields extracted",
		zap.String("category", string(category)),
		zap.Int("sources", len(in.Sources)),
		zap.Int("populated", len(fm.Populated())),
	)
	return fm, category
}

func (e *Extractor) extractField(ctx context.Context, field catalog.Field, fs fieldSpec, declared string, sources []Source) Entry {
	var degraded Entry
	if declared = strings.TrimSpace(declared); declared != "" {
		entry := normalize(fs.normalize, declared)
		entry.Source = SourceForm
		if entry.Present() {
			return entry
		}
		e.logger.Warn(ctx, "extraction degraded",
			zap.String("field", string(field)),
			zap.String("source", string(SourceForm)),
			zap.String("raw", entry.Raw),
		)
		degraded = entry
	}
	for _, src := range sources {
		captured, ok := capture(fs, src.Text)
		if !ok {
			continue
		}
		entry := normalize(fs.normalize, captured)
		entry.Source = src.Kind
		if entry.Present() {
			return entry
		}
		if entry.Raw != "" {
			e.logger.Warn(ctx, "extraction degraded",
				zap.String("field", string(field)),
				zap.String("source", string(src.Kind)),
				zap.String("raw", entry.Raw),
			)
			if degraded.Raw == "" {
				degraded = entry
			}
		}
	}
	return degraded
}

func declaredOrder(declared map[catalog.Field]string) []catalog.Field {
	out := make([]catalog.Field, 0, len(declared))
	for f := range declared {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func capture(fs fieldSpec, text string) (string, bool) {
	if text == "" {
		return "", false
	}
	for _, re := range fs.patterns {
		if m := re.FindStringSubmatch(text); m != nil && len(m) > 1 {
			return m[1], true
		}
	}
	return "", false
}
