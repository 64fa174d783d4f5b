package generation

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

var (
	openFence  = regexp.MustCompile("(?i)^```(?:json)?\\s*")
	closeFence = regexp.MustCompile("\\s*```$")
)

// ParseReply decodes a model reply into an Explanation. Code fences are
// stripped; if the remainder is not JSON the first '{' to the last '}' is
// tried. Keys that are missing or blank stay nil.
func ParseReply(text string) (Explanation, error) {
	cleaned := strings.TrimSpace(text)
	cleaned = openFence.ReplaceAllString(cleaned, "")
	cleaned = closeFence.ReplaceAllString(cleaned, "")

	var payload map[string]any
	if err := json.Unmarshal([]byte(cleaned), &payload); err != nil {
		start, end := strings.Index(cleaned, "{"), strings.LastIndex(cleaned, "}")
		if start < 0 || end <= start {
			return Explanation{}, ErrMalformedReply
		}
		if err := json.Unmarshal([]byte(cleaned[start:end+1]), &payload); err != nil {
			return Explanation{}, fmt.Errorf("%w: %v", ErrMalformedReply, err)
		}
	}

	out := Explanation{
		Explanation:         section(payload["explanation"]),
		SuggestedCorrection: section(payload["suggested_correction"]),
		RiskSummary:         section(payload["risk_summary"]),
	}
	if out.Empty() {
		return Explanation{}, fmt.Errorf("%w: no expected keys", ErrMalformedReply)
	}
	return out, nil
}

// section flattens a JSON value to display text.
func section(v any) *string {
	var s string
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		s = strings.TrimSpace(t)
	case []any:
		parts := make([]string, 0, len(t))
		for _, item := range t {
			if p := strings.TrimSpace(scalar(item)); p != "" {
				parts = append(parts, p)
			}
		}
		s = strings.Join(parts, "\n")
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		lines := make([]string, 0, len(keys))
		for _, k := range keys {
			lines = append(lines, k+": "+scalar(t[k]))
		}
		s = strings.Join(lines, "\n")
	default:
		s = scalar(t)
	}
	if s == "" {
		return nil
	}
	return &s
}

func scalar(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	case []any, map[string]any:
		b, _ := json.Marshal(t)
		return string(b)
	default:
		return fmt.Sprint(t)
	}
}
