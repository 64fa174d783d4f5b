package extraction

import (
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var (
	spaceRun      = regexp.MustCompile(`\s+`)
	quantityValue = regexp.MustCompile(`(?i)(\d[\d,]*(?:\.\d+)?)\s*(kilograms?|kgs?|grams?|gms?|g|millilit(?:re|er)s?|ml|lit(?:re|er)s?|ltrs?|l|pieces|pcs|units?)\b`)
	priceValue    = regexp.MustCompile(`(\d[\d,]*(?:\.\d{1,2})?)`)
	hasDigit      = regexp.MustCompile(`\d`)
)

// unitScale maps a declared unit to its base unit and multiplier.
var unitScale = map[string]struct {
	base   string
	factor float64
}{
	"kg": {"g", 1000}, "kgs": {"g", 1000}, "kilogram": {"g", 1000}, "kilograms": {"g", 1000},
	"g": {"g", 1}, "gm": {"g", 1}, "gms": {"g", 1}, "gram": {"g", 1}, "grams": {"g", 1},
	"ml": {"ml", 1}, "millilitre": {"ml", 1}, "millilitres": {"ml", 1}, "milliliter": {"ml", 1}, "milliliters": {"ml", 1},
	"l": {"ml", 1000}, "ltr": {"ml", 1000}, "ltrs": {"ml", 1000}, "litre": {"ml", 1000}, "litres": {"ml", 1000},
	"liter": {"ml", 1000}, "liters": {"ml", 1000},
	"pcs": {"pcs", 1}, "pieces": {"pcs", 1}, "unit": {"pcs", 1}, "units": {"pcs", 1},
}

func cleanText(s string) string {
	return strings.Trim(spaceRun.ReplaceAllString(s, " "), " .,-:;|")
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// normalize turns the captured text into an Entry. A nil Value with a
// non-empty Raw means the text was found but could not be parsed.
func normalize(n normalizer, captured string) Entry {
	raw := cleanText(captured)
	entry := Entry{Raw: raw}
	if raw == "" {
		return entry
	}

	switch n {
	case normQuantity:
		m := quantityValue.FindStringSubmatch(raw)
		if m == nil {
			return entry
		}
		amount, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
		scale, ok := unitScale[strings.ToLower(m[2])]
		if err != nil || !ok {
			return entry
		}
		amount *= scale.factor
		value := formatNumber(amount) + " " + scale.base
		entry.Value, entry.Amount, entry.Unit = &value, &amount, scale.base

	case normPrice:
		m := priceValue.FindString(raw)
		if m == "" {
			return entry
		}
		amount, err := strconv.ParseFloat(strings.ReplaceAll(m, ",", ""), 64)
		if err != nil {
			return entry
		}
		value := "INR " + formatNumber(amount)
		entry.Value, entry.Amount, entry.Unit = &value, &amount, "INR"

	case normCountry:
		// A Caser keeps state between calls, so each call gets its own.
		value := cases.Title(language.English).String(strings.ToLower(raw))
		entry.Value = &value

	case normCode:
		if !hasDigit.MatchString(raw) {
			return entry
		}
		value := strings.ToUpper(raw)
		entry.Value = &value

	default:
		value := raw
		entry.Value = &value
	}
	return entry
}
