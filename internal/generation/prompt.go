package generation

import (
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/prompts"

	"github.com/fyrsmithlabs/lmaudit/internal/extraction"
	"github.com/fyrsmithlabs/lmaudit/internal/rules"
)

const promptTemplate = `{{.system}}

Product Data:
{{.product}}

Violations:
{{.violations}}

Retrieved Clauses:
{{.clauses}}

Return strict JSON with keys:
explanation, suggested_correction, risk_summary`

var userPrompt = prompts.NewPromptTemplate(promptTemplate, []string{"system", "product", "violations", "clauses"})

// RenderPrompt builds the user message for one violation batch.
func RenderPrompt(fm *extraction.FieldMap, violations []rules.Violation, clauses []string) (string, error) {
	out, err := userPrompt.Format(map[string]any{
		"system":     systemPrompt,
		"product":    productLines(fm),
		"violations": violationLines(violations),
		"clauses":    clauseLines(clauses),
	})
	if err != nil {
		return "", fmt.Errorf("rendering prompt: %w", err)
	}
	return out, nil
}

func productLines(fm *extraction.FieldMap) string {
	if fm == nil {
		return "(none)"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "category: %s\n", fm.Category)
	for _, f := range fm.Category.Fields() {
		e := fm.Fields[f]
		v := "null"
		if e.Present() {
			v = e.Text()
		}
		fmt.Fprintf(&b, "%s: %s\n", f, v)
	}
	return strings.TrimRight(b.String(), "\n")
}

func violationLines(violations []rules.Violation) string {
	if len(violations) == 0 {
		return "(none)"
	}
	lines := make([]string, len(violations))
	for i, v := range violations {
		lines[i] = fmt.Sprintf("- %s [%s] %s (penalty %d)", v.Code, v.Field, v.Message, v.Penalty)
	}
	return strings.Join(lines, "\n")
}

func clauseLines(clauses []string) string {
	if len(clauses) == 0 {
		return "(none retrieved)"
	}
	lines := make([]string, len(clauses))
	for i, c := range clauses {
		lines[i] = fmt.Sprintf("[%d] %s", i+1, strings.TrimSpace(c))
	}
	return strings.Join(lines, "\n")
}
