package report

import (
	"bytes"
	"context"
	"encoding/csv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/lmaudit/internal/catalog"
	"github.com/fyrsmithlabs/lmaudit/internal/rules"
)

func seededAnalytics(t *testing.T) *Analytics {
	t.Helper()
	s := NewMemoryStore()
	seed(t, s)
	a := NewAnalytics(s)
	a.now = func() time.Time { return base.Add(48 * time.Hour) }
	return a
}

func TestAnalytics_Summary(t *testing.T) {
	sum, err := seededAnalytics(t).Summary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, sum.TotalAudited)
	assert.Equal(t, 2, sum.CompliantCount)
	assert.Equal(t, 2, sum.NonCompliantCount)
	assert.InDelta(t, 73.8, sum.AverageScore, 1e-9)
	require.Len(t, sum.MostCommonViolations, 2)
	assert.Equal(t, ViolationCount{Violation: "FSSAI license number is not declared", Count: 2}, sum.MostCommonViolations[0])
}

func TestAnalytics_EmptyStore(t *testing.T) {
	a := NewAnalytics(NewMemoryStore())
	sum, err := a.Summary(context.Background())
	require.NoError(t, err)
	assert.Zero(t, sum.TotalAudited)
	assert.Zero(t, sum.AverageScore)

	dist, err := a.RiskDistribution(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[rules.RiskLevel]int{rules.Compliant: 0, rules.ModerateRisk: 0, rules.HighRisk: 0}, dist)
}

func TestAnalytics_DistributionAndTrends(t *testing.T) {
	a := seededAnalytics(t)
	dist, err := a.RiskDistribution(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[rules.RiskLevel]int{rules.Compliant: 2, rules.ModerateRisk: 1, rules.HighRisk: 1}, dist)

	trends, err := a.ViolationTrends(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []ViolationCount{
		{Violation: "fssai_license: FSSAI license number is not declared", Count: 2},
		{Violation: "net_quantity: Net quantity is not declared", Count: 2},
	}, trends)
}

func TestAnalytics_Timeline(t *testing.T) {
	a := seededAnalytics(t)
	days, err := a.Timeline(context.Background(), 30)
	require.NoError(t, err)
	assert.Equal(t, []DayStats{
		{Date: "2026-03-10", TotalAudited: 3, CompliantCount: 1, AverageScore: 70},
		{Date: "2026-03-11", TotalAudited: 1, CompliantCount: 1, AverageScore: 85},
	}, days)

	days, err = a.Timeline(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, days, 1)
	assert.Equal(t, "2026-03-11", days[0].Date)
}

func TestAnalytics_Categories(t *testing.T) {
	stats, err := seededAnalytics(t).Categories(context.Background())
	require.NoError(t, err)
	require.Len(t, stats, 3)
	assert.Equal(t, CategoryStats{Category: catalog.Food, Total: 2, Compliant: 1, ModerateRisk: 1, AverageScore: 90, ComplianceRate: 50}, stats[0])
	assert.Equal(t, catalog.Electronics, stats[1].Category)
	assert.Equal(t, 1, stats[1].HighRisk)
	assert.Equal(t, catalog.Generic, stats[2].Category)
}

func TestWriteCSV(t *testing.T) {
	s := NewMemoryStore()
	seed(t, s)
	reports, err := s.Find(context.Background(), Filter{SellerID: "s2"})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, reports))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, csvHeader, rows[0])
	assert.Equal(t, []string{"p4", "s2", "Product p4", "generic", "85", "Compliant", "LM-GEN-002", "2026-03-11T12:00:00Z"}, rows[1])
	assert.Equal(t, "LM-GEN-002;LM-FOOD-001", rows[2][6])
}
