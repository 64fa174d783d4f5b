// Package extraction turns heterogeneous product text into a normalized
// field map.
//
// Extraction is total: it never fails, and a field no source supplies stays
// null. Inputs are merged in priority order:
//   - declared values (form fields or structured "label: value" lines)
//   - sources in the order given, typically page text then OCR text
//
// The first source that yields a normalizable value wins a field. Values that
// matched a label but do not normalize are kept as Raw and logged at Warn.
//
// # Normalization
//
// Prices become "INR <amount>" with thousands separators removed. Quantities
// in kg and l are scaled to g and ml and keep their unit. Country of origin
// is title-cased.
//
// # Signals
//
// The extractor also records whether the product looks imported or is an
// appliance, for rules that only apply in those cases.
//
// # Usage
//
//	fm, category := extraction.New(logger).Extract(ctx, extraction.ProductInput{
//	    Category: catalog.Food,
//	    Sources:  []extraction.Source{{Kind: extraction.SourceScraped, Text: page.RawText}},
//	})
package extraction
