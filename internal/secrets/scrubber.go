// Package secrets removes credentials from text before it leaves the process.
//
// Detection uses the gitleaks default rule set plus a few patterns for the
// LLM provider keys lmaudit itself handles. Findings are replaced with
// [REDACTED:<rule>] markers.
package secrets

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	gitleaksConfig "github.com/zricethezav/gitleaks/v8/config"
	"github.com/zricethezav/gitleaks/v8/detect"
)

// Finding is one detected secret.
type Finding struct {
	RuleID string
	Secret string
}

// Result is the outcome of a scrub.
type Result struct {
	Scrubbed string
	Findings []Finding
}

// Redacted reports whether anything was replaced.
func (r Result) Redacted() bool {
	return len(r.Findings) > 0
}

// RuleIDs returns the distinct rules that fired, sorted.
func (r Result) RuleIDs() []string {
	seen := make(map[string]struct{}, len(r.Findings))
	for _, f := range r.Findings {
		seen[f.RuleID] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

var localRules = []struct {
	id      string
	pattern *regexp.Regexp
}{
	{"groq-api-key", regexp.MustCompile(`\bgsk_[A-Za-z0-9]{20,}\b`)},
	{"openai-api-key", regexp.MustCompile(`\bsk-(?:proj-)?[A-Za-z0-9_\-]{20,}`)},
	{"bearer-token", regexp.MustCompile(`(?i)\bbearer\s+[A-Za-z0-9_\-.=]{16,}`)},
}

// Scrubber detects and redacts secrets. It is safe for concurrent use.
type Scrubber struct {
	once   sync.Once
	cfg    gitleaksConfig.Config
	cfgErr error
}

// New returns a Scrubber. The gitleaks rule set is compiled on first use.
func New() *Scrubber {
	return &Scrubber{}
}

func (s *Scrubber) config() (gitleaksConfig.Config, error) {
	s.once.Do(func() {
		d, err := detect.NewDetectorDefaultConfig()
		if err != nil {
			s.cfgErr = fmt.Errorf("loading gitleaks config: %w", err)
			return
		}
		s.cfg = d.Config
	})
	return s.cfg, s.cfgErr
}

// Scrub returns content with every detected secret replaced.
func (s *Scrubber) Scrub(content string) (Result, error) {
	res := Result{Scrubbed: content}
	if content == "" {
		return res, nil
	}

	for _, r := range localRules {
		for _, m := range r.pattern.FindAllString(content, -1) {
			res.Findings = append(res.Findings, Finding{RuleID: r.id, Secret: m})
		}
	}

	cfg, err := s.config()
	if err != nil {
		return Result{}, err
	}
	// A fresh detector per call; Detector accumulates findings internally.
	for _, f := range detect.NewDetector(cfg).DetectString(content) {
		if f.Secret == "" {
			continue
		}
		res.Findings = append(res.Findings, Finding{RuleID: f.RuleID, Secret: f.Secret})
	}

	// Longest secrets first so a secret containing another is replaced whole.
	ordered := append([]Finding(nil), res.Findings...)
	sort.SliceStable(ordered, func(i, j int) bool { return len(ordered[i].Secret) > len(ordered[j].Secret) })
	for _, f := range ordered {
		res.Scrubbed = strings.ReplaceAll(res.Scrubbed, f.Secret, "[REDACTED:"+f.RuleID+"]")
	}
	return res, nil
}
