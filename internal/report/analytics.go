package report

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/fyrsmithlabs/lmaudit/internal/catalog"
	"github.com/fyrsmithlabs/lmaudit/internal/rules"
)

// ViolationCount is one row of a violation ranking.
type ViolationCount struct {
	Violation string `json:"violation"`
	Count     int    `json:"count"`
}

// Summary is the dashboard headline.
type Summary struct {
	TotalAudited         int              `json:"total_audited"`
	CompliantCount       int              `json:"compliant_count"`
	NonCompliantCount    int              `json:"non_compliant_count"`
	AverageScore         float64          `json:"average_score"`
	MostCommonViolations []ViolationCount `json:"most_common_violations"`
}

// DayStats aggregates the reports created on one UTC day.
type DayStats struct {
	Date           string  `json:"date"`
	TotalAudited   int     `json:"total_audited"`
	CompliantCount int     `json:"compliant_count"`
	AverageScore   float64 `json:"avg_compliance_score"`
}

// CategoryStats aggregates one category.
type CategoryStats struct {
	Category       catalog.Category `json:"category"`
	Total          int              `json:"total"`
	Compliant      int              `json:"compliant"`
	ModerateRisk   int              `json:"moderate_risk"`
	HighRisk       int              `json:"high_risk"`
	AverageScore   float64          `json:"avg_score"`
	ComplianceRate float64          `json:"compliance_rate"`
}

// Analytics answers dashboard queries over a Store.
type Analytics struct {
	store Store
	now   func() time.Time
}

// NewAnalytics returns Analytics over store.
func NewAnalytics(store Store) *Analytics {
	return &Analytics{store: store, now: time.Now}
}

func (a *Analytics) all(ctx context.Context) ([]*AuditReport, error) {
	return a.store.Find(ctx, Filter{})
}

// Summary counts reports and ranks the five most common violation messages.
func (a *Analytics) Summary(ctx context.Context) (Summary, error) {
	reports, err := a.all(ctx)
	if err != nil {
		return Summary{}, err
	}
	return Summarize(reports), nil
}

// RiskDistribution counts reports per band; every band is present.
func (a *Analytics) RiskDistribution(ctx context.Context) (map[rules.RiskLevel]int, error) {
	reports, err := a.all(ctx)
	if err != nil {
		return nil, err
	}
	return RiskDistribution(reports), nil
}

// ViolationTrends ranks the ten most common "field: message" pairs.
func (a *Analytics) ViolationTrends(ctx context.Context) ([]ViolationCount, error) {
	reports, err := a.all(ctx)
	if err != nil {
		return nil, err
	}
	return rank(reports, 10, func(v rules.Violation) string { return string(v.Field) + ": " + v.Message }), nil
}

// Timeline aggregates the last days days, oldest first.
func (a *Analytics) Timeline(ctx context.Context, days int) ([]DayStats, error) {
	if days <= 0 {
		days = 30
	}
	from := a.now().UTC().Add(-time.Duration(days) * 24 * time.Hour)
	reports, err := a.store.Find(ctx, Filter{From: from})
	if err != nil {
		return nil, err
	}
	return Timeline(reports), nil
}

// Categories aggregates per category, in catalog order.
func (a *Analytics) Categories(ctx context.Context) ([]CategoryStats, error) {
	reports, err := a.all(ctx)
	if err != nil {
		return nil, err
	}
	return ByCategory(reports), nil
}

// Summarize computes a Summary.
func Summarize(reports []*AuditReport) Summary {
	s := Summary{TotalAudited: len(reports)}
	total := 0
	for _, r := range reports {
		if r.RiskLevel == rules.Compliant {
			s.CompliantCount++
		}
		total += r.ComplianceScore
	}
	s.NonCompliantCount = s.TotalAudited - s.CompliantCount
	if len(reports) > 0 {
		s.AverageScore = round1(float64(total) / float64(len(reports)))
	}
	s.MostCommonViolations = rank(reports, 5, func(v rules.Violation) string { return v.Message })
	return s
}

// RiskDistribution counts reports per band.
func RiskDistribution(reports []*AuditReport) map[rules.RiskLevel]int {
	out := map[rules.RiskLevel]int{rules.Compliant: 0, rules.ModerateRisk: 0, rules.HighRisk: 0}
	for _, r := range reports {
		if _, ok := out[r.RiskLevel]; ok {
			out[r.RiskLevel]++
		}
	}
	return out
}

// Timeline groups reports per UTC day.
func Timeline(reports []*AuditReport) []DayStats {
	type acc struct {
		total, compliant, score int
	}
	days := map[string]*acc{}
	for _, r := range reports {
		key := r.CreatedAt.UTC().Format("2006-01-02")
		d, ok := days[key]
		if !ok {
			d = &acc{}
			days[key] = d
		}
		d.total++
		d.score += r.ComplianceScore
		if r.RiskLevel == rules.Compliant {
			d.compliant++
		}
	}
	keys := make([]string, 0, len(days))
	for k := range days {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]DayStats, 0, len(keys))
	for _, k := range keys {
		d := days[k]
		out = append(out, DayStats{
			Date:           k,
			TotalAudited:   d.total,
			CompliantCount: d.compliant,
			AverageScore:   round1(float64(d.score) / float64(d.total)),
		})
	}
	return out
}

// ByCategory aggregates reports per category.
func ByCategory(reports []*AuditReport) []CategoryStats {
	stats := map[catalog.Category]*CategoryStats{}
	sums := map[catalog.Category]int{}
	for _, r := range reports {
		s, ok := stats[r.Category]
		if !ok {
			s = &CategoryStats{Category: r.Category}
			stats[r.Category] = s
		}
		s.Total++
		sums[r.Category] += r.ComplianceScore
		switch r.RiskLevel {
		case rules.Compliant:
			s.Compliant++
		case rules.ModerateRisk:
			s.ModerateRisk++
		default:
			s.HighRisk++
		}
	}
	var out []CategoryStats
	for _, c := range catalog.All() {
		s, ok := stats[c]
		if !ok {
			continue
		}
		s.AverageScore = round1(float64(sums[c]) / float64(s.Total))
		s.ComplianceRate = round1(float64(s.Compliant) / float64(s.Total) * 100)
		out = append(out, *s)
	}
	return out
}

func rank(reports []*AuditReport, n int, key func(rules.Violation) string) []ViolationCount {
	counts := map[string]int{}
	for _, r := range reports {
		for _, v := range r.Violations {
			counts[key(v)]++
		}
	}
	out := make([]ViolationCount, 0, len(counts))
	for k, c := range counts {
		out = append(out, ViolationCount{Violation: k, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Violation < out[j].Violation
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

func round1(f float64) float64 {
	return math.Round(f*10) / 10
}

var csvHeader = []string{"product_id", "seller_id", "product_name", "category", "compliance_score", "risk_level", "violation_codes", "created_at"}

// WriteCSV writes reports as CSV with a header row.
func WriteCSV(w io.Writer, reports []*AuditReport) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("writing csv header: %w", err)
	}
	for _, r := range reports {
		rec := []string{
			r.ProductID,
			r.SellerID,
			r.ProductName,
			string(r.Category),
			strconv.Itoa(r.ComplianceScore),
			string(r.RiskLevel),
			strings.Join(r.ViolationCodes(), ";"),
			r.CreatedAt.UTC().Format(time.RFC3339),
		}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("writing csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}
