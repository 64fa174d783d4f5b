package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/lmaudit/internal/catalog"
	"github.com/fyrsmithlabs/lmaudit/internal/extraction"
	"github.com/fyrsmithlabs/lmaudit/internal/ocr"
	"github.com/fyrsmithlabs/lmaudit/internal/orchestrator"
	"github.com/fyrsmithlabs/lmaudit/internal/pipeline"
	"github.com/fyrsmithlabs/lmaudit/internal/report"
	"github.com/fyrsmithlabs/lmaudit/internal/rules"
	"github.com/fyrsmithlabs/lmaudit/internal/scraper"
	"github.com/fyrsmithlabs/lmaudit/internal/services"
)

const compliantLabel = "Manufacturer: Acme Foods Pvt Ltd, Pune\nNet Qty: 500 g\nMRP: Rs. 120 (incl. of all taxes)\nCountry of Origin: India\nCustomer Care: care@acme.in"

type fakePages struct{}

func (fakePages) Fetch(_ context.Context, url string) (*scraper.Page, error) {
	if strings.Contains(url, "missing") {
		return nil, errors.New("page returned status 404")
	}
	return &scraper.Page{URL: url, Title: "Acme Sunflower Oil 1 L", RawText: compliantLabel}, nil
}

func (fakePages) FetchImage(context.Context, string) ([]byte, error) {
	return nil, errors.New("no images")
}

type echoReader struct{}

func (echoReader) Read(_ context.Context, img []byte) (ocr.Result, error) {
	return ocr.Result{Text: string(img), Confidence: 95}, nil
}

type fakeDiscoverer struct{}

func (fakeDiscoverer) Discover(_ context.Context, q scraper.Query) ([]string, error) {
	out := make([]string, q.MaxProducts)
	for i := range out {
		out[i] = "https://www.amazon.in/dp/B00" + string(rune('A'+i))
	}
	return out, nil
}

type testEnv struct {
	server *Server
	store  *report.MemoryStore
	tasks  *orchestrator.Orchestrator
}

func setupTestServer(t *testing.T) *testEnv {
	t.Helper()
	store := report.NewMemoryStore()
	p, err := pipeline.New(extraction.New(nil), rules.Static(rules.Default()), nil, nil, pipeline.WithStore(store))
	require.NoError(t, err)
	auditor := pipeline.NewAuditor(p, pipeline.NewSources(fakePages{}, echoReader{}, 3, nil))

	promReg := prometheus.NewRegistry()
	tasks := orchestrator.New(auditor, fakeDiscoverer{}, orchestrator.Config{Workers: 2},
		orchestrator.WithMetrics(orchestrator.NewMetrics(promReg)))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tasks.Close(ctx)
	})

	reg := services.NewRegistry(services.Options{
		Audits:  auditor,
		Tasks:   tasks,
		Reports: store,
		Rules:   rules.Static(rules.Default()),
		Metrics: promReg,
	})
	server, err := NewServer(reg, zap.NewNop(), nil)
	require.NoError(t, err)
	return &testEnv{server: server, store: store, tasks: tasks}
}

func (e *testEnv) do(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	switch b := body.(type) {
	case nil:
		r = httptest.NewRequest(method, target, nil)
	case string:
		r = httptest.NewRequest(method, target, strings.NewReader(b))
		r.Header.Set("Content-Type", "application/json")
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		r = httptest.NewRequest(method, target, bytes.NewReader(data))
		r.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, r)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestNewServer(t *testing.T) {
	_, err := NewServer(nil, zap.NewNop(), nil)
	assert.ErrorContains(t, err, "registry cannot be nil")

	_, err = NewServer(services.NewRegistry(services.Options{}), nil, nil)
	assert.ErrorContains(t, err, "logger is required")

	s, err := NewServer(services.NewRegistry(services.Options{}), zap.NewNop(), nil)
	require.NoError(t, err)
	assert.Equal(t, "localhost", s.config.Host)
	assert.Equal(t, 9090, s.config.Port)
}

func TestHandleHealth(t *testing.T) {
	env := setupTestServer(t)
	rec := env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decodeBody[HealthResponse](t, rec).Status)
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}

func TestHandleAudit(t *testing.T) {
	env := setupTestServer(t)

	rec := env.do(t, http.MethodPost, "/api/v1/audits", AuditRequest{
		SellerID:    "s-1",
		ProductName: "Acme Atta",
		Text:        "Net Qty: 5 kg",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rep := decodeBody[report.AuditReport](t, rec)
	assert.Equal(t, "s-1", rep.SellerID)
	assert.NotEmpty(t, rep.Violations)
	assert.Less(t, rep.ComplianceScore, 100)
	assert.Equal(t, report.EnrichmentUnavailable, rep.Enrichment.Status, "generation is disabled")

	got := env.do(t, http.MethodGet, "/api/v1/reports/"+rep.ProductID, nil)
	require.Equal(t, http.StatusOK, got.Code)
	assert.Equal(t, rep.ComplianceScore, decodeBody[report.AuditReport](t, got).ComplianceScore)
}

func TestHandleAudit_BadRequests(t *testing.T) {
	env := setupTestServer(t)
	tests := []struct {
		name string
		body any
	}{
		{name: "malformed json", body: `{"seller_id":`},
		{name: "unknown category", body: AuditRequest{Category: "toys", Text: "MRP: 10"}},
		{name: "unknown field", body: AuditRequest{Text: "MRP: 10", Fields: map[string]string{"colour": "red"}}},
		{name: "empty product", body: AuditRequest{SellerID: "s-1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/api/v1/audits", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.NotEmpty(t, decodeBody[ErrorResponse](t, rec).Error)
		})
	}
}

func TestHandleAuditURL(t *testing.T) {
	env := setupTestServer(t)

	rec := env.do(t, http.MethodPost, "/api/v1/audits/url", URLAuditRequest{URL: "https://www.amazon.in/dp/B0OK", SellerID: "s-1", Category: "food"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rep := decodeBody[report.AuditReport](t, rec)
	assert.Equal(t, catalog.Food, rep.Category)
	assert.Equal(t, "https://www.amazon.in/dp/B0OK", rep.SourceURL)

	rec = env.do(t, http.MethodPost, "/api/v1/audits/url", URLAuditRequest{URL: "https://www.amazon.in/dp/missing"})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	failure := decodeBody[ErrorResponse](t, rec)
	assert.Equal(t, "fetch", failure.Stage)
	assert.NotEmpty(t, failure.ProductID)

	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, "/api/v1/audits/url", URLAuditRequest{}).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, "/api/v1/audits/url", URLAuditRequest{URL: "https://x", Category: "toys"}).Code)
}

func TestHandleAuditImage(t *testing.T) {
	env := setupTestServer(t)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("image", "label.png")
	require.NoError(t, err)
	_, err = part.Write([]byte(compliantLabel))
	require.NoError(t, err)
	require.NoError(t, mw.WriteField("seller_id", "s-7"))
	require.NoError(t, mw.WriteField("category", "food"))
	require.NoError(t, mw.Close())

	r := httptest.NewRequest(http.MethodPost, "/api/v1/audits/image", &body)
	r.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, r)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rep := decodeBody[report.AuditReport](t, rec)
	assert.Equal(t, "s-7", rep.SellerID)
	qty, ok := rep.FieldMap.Get(catalog.NetQuantity)
	require.True(t, ok)
	assert.True(t, qty.Present())

	missing := env.do(t, http.MethodPost, "/api/v1/audits/image", nil)
	assert.Equal(t, http.StatusBadRequest, missing.Code)
}

func waitTask(t *testing.T, env *testEnv, id string) orchestrator.Task {
	t.Helper()
	var task orchestrator.Task
	require.Eventually(t, func() bool {
		rec := env.do(t, http.MethodGet, "/api/v1/tasks/"+id, nil)
		if rec.Code != http.StatusOK {
			return false
		}
		task = decodeBody[orchestrator.Task](t, rec)
		return task.State.Terminal()
	}, 5*time.Second, 10*time.Millisecond)
	return task
}

func TestTasks(t *testing.T) {
	env := setupTestServer(t)

	rec := env.do(t, http.MethodPost, "/api/v1/tasks", TaskRequest{Category: "food_oil", MaxProducts: 3, SellerID: "regulator"})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	accepted := decodeBody[TaskAccepted](t, rec)
	require.NotEmpty(t, accepted.TaskID)

	task := waitTask(t, env, accepted.TaskID)
	assert.Equal(t, orchestrator.StateCompleted, task.State)
	assert.Equal(t, 3, task.Total)
	assert.Equal(t, 3, task.Completed)
	assert.Len(t, task.Results, 3)
	assert.Equal(t, "amazon.in", task.Marketplace)

	list := decodeBody[[]orchestrator.Task](t, env.do(t, http.MethodGet, "/api/v1/tasks", nil))
	require.Len(t, list, 1)
	assert.Equal(t, accepted.TaskID, list[0].ID)

	assert.Equal(t, http.StatusConflict, env.do(t, http.MethodDelete, "/api/v1/tasks/"+accepted.TaskID, nil).Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodDelete, "/api/v1/tasks/nope", nil).Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/api/v1/tasks/nope", nil).Code)

	bad := env.do(t, http.MethodPost, "/api/v1/tasks", TaskRequest{Category: "custom", MaxProducts: 3})
	assert.Equal(t, http.StatusBadRequest, bad.Code)
	bad = env.do(t, http.MethodPost, "/api/v1/tasks", TaskRequest{Category: "food_oil", MaxProducts: 0})
	assert.Equal(t, http.StatusBadRequest, bad.Code)
}

func TestBulkAudit(t *testing.T) {
	env := setupTestServer(t)

	rec := env.do(t, http.MethodPost, "/api/v1/audits/bulk", BulkAuditRequest{
		URLs:     []string{"https://www.amazon.in/dp/B0A", "https://www.amazon.in/dp/missing"},
		SellerID: "s-1",
	})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	task := waitTask(t, env, decodeBody[TaskAccepted](t, rec).TaskID)

	assert.Equal(t, orchestrator.StateCompleted, task.State)
	assert.Equal(t, 1, task.Completed)
	assert.Equal(t, 1, task.Failed)
	require.Len(t, task.Errors, 1)
	assert.Contains(t, task.Errors[0], "missing")

	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, "/api/v1/audits/bulk", BulkAuditRequest{}).Code)
}

func seedReports(t *testing.T, store report.Store) {
	t.Helper()
	base := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	for i, r := range []struct {
		score int
		risk  rules.RiskLevel
		cat   catalog.Category
	}{
		{100, rules.Compliant, catalog.Food},
		{55, rules.ModerateRisk, catalog.Food},
		{10, rules.HighRisk, catalog.Electronics},
	} {
		require.NoError(t, store.Save(context.Background(), &report.AuditReport{
			ProductID:       "r-" + string(rune('a'+i)),
			SellerID:        "s-1",
			Category:        r.cat,
			ComplianceScore: r.score,
			RiskLevel:       r.risk,
			Violations:      []rules.Violation{},
			CreatedAt:       base.Add(time.Duration(i) * time.Hour),
		}))
	}
}

func TestFindReports(t *testing.T) {
	env := setupTestServer(t)
	seedReports(t, env.store)

	all := decodeBody[ReportsResponse](t, env.do(t, http.MethodGet, "/api/v1/reports", nil))
	require.Equal(t, 3, all.Count)
	assert.Equal(t, "r-c", all.Reports[0].ProductID, "newest first")
	assert.Equal(t, defaultPageSize, all.Limit)

	risky := decodeBody[ReportsResponse](t, env.do(t, http.MethodGet, "/api/v1/reports?max_score=60&category=food", nil))
	require.Equal(t, 1, risky.Count)
	assert.Equal(t, "r-b", risky.Reports[0].ProductID)

	byRisk := decodeBody[ReportsResponse](t, env.do(t, http.MethodGet, "/api/v1/reports?risk_level=high_risk", nil))
	require.Equal(t, 1, byRisk.Count)
	assert.Equal(t, "r-c", byRisk.Reports[0].ProductID)

	day := decodeBody[ReportsResponse](t, env.do(t, http.MethodGet, "/api/v1/reports?from=2026-03-10&to=2026-03-10", nil))
	assert.Equal(t, 3, day.Count, "a plain to-day covers the whole day")

	paged := decodeBody[ReportsResponse](t, env.do(t, http.MethodGet, "/api/v1/reports?limit=1&offset=1", nil))
	require.Equal(t, 1, paged.Count)
	assert.Equal(t, "r-b", paged.Reports[0].ProductID)

	for _, q := range []string{"risk_level=bogus", "min_score=abc", "max_score=101", "from=yesterday", "limit=0", "offset=-1", "category=toys"} {
		rec := env.do(t, http.MethodGet, "/api/v1/reports?"+q, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}

	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/api/v1/reports/unknown", nil).Code)
}

func TestExportReports(t *testing.T) {
	env := setupTestServer(t)
	seedReports(t, env.store)

	rec := env.do(t, http.MethodGet, "/api/v1/reports/export.csv?limit=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/csv")
	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	require.Len(t, lines, 4, "paging is ignored for exports")
	assert.True(t, strings.HasPrefix(lines[0], "product_id,seller_id"))
}

func TestAnalytics(t *testing.T) {
	env := setupTestServer(t)
	seedReports(t, env.store)

	summary := decodeBody[report.Summary](t, env.do(t, http.MethodGet, "/api/v1/analytics/summary", nil))
	assert.Equal(t, 3, summary.TotalAudited)
	assert.Equal(t, 1, summary.CompliantCount)
	assert.Equal(t, 2, summary.NonCompliantCount)

	dist := decodeBody[map[string]int](t, env.do(t, http.MethodGet, "/api/v1/analytics/risk-distribution", nil))
	assert.Equal(t, 1, dist[string(rules.HighRisk)])

	stats := decodeBody[[]report.CategoryStats](t, env.do(t, http.MethodGet, "/api/v1/analytics/categories", nil))
	assert.NotEmpty(t, stats)

	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/api/v1/analytics/violations", nil).Code)
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/api/v1/analytics/timeline?days=7", nil).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/api/v1/analytics/timeline?days=0", nil).Code)
}

func TestCategories(t *testing.T) {
	env := setupTestServer(t)

	cats := decodeBody[[]CategoryResponse](t, env.do(t, http.MethodGet, "/api/v1/categories", nil))
	require.Len(t, cats, len(catalog.All()))
	assert.Equal(t, catalog.Food, cats[0].ID)
	assert.NotEmpty(t, cats[0].Name)
	assert.Positive(t, cats[0].RuleCount)

	rec := env.do(t, http.MethodGet, "/api/v1/categories/food/rules", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rs := decodeBody[struct {
		Category    catalog.Category `json:"category"`
		RuleVersion string           `json:"rule_version"`
		Rules       []struct {
			Code string `json:"code"`
		} `json:"rules"`
	}](t, rec)
	assert.Equal(t, catalog.Food, rs.Category)
	assert.Equal(t, rules.Default().Version(), rs.RuleVersion)
	assert.Len(t, rs.Rules, cats[0].RuleCount)

	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/api/v1/categories/toys/rules", nil).Code)
}

func TestMetricsEndpoint(t *testing.T) {
	env := setupTestServer(t)
	rec := env.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "lmaudit_orchestrator_tasks_running")
}
