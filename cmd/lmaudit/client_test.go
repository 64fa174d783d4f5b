package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httpapi "github.com/fyrsmithlabs/lmaudit/internal/http"
	"github.com/fyrsmithlabs/lmaudit/internal/orchestrator"
	"github.com/fyrsmithlabs/lmaudit/internal/report"
	"github.com/fyrsmithlabs/lmaudit/internal/rules"
)

// fakeAPI records requests and answers with canned bodies.
type fakeAPI struct {
	t        *testing.T
	mu       sync.Mutex
	requests []*http.Request
	bodies   []string
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	f.requests = append(f.requests, r.Clone(context.Background()))
	f.bodies = append(f.bodies, string(body))
	f.mu.Unlock()

	writeJSON := func(code int, v any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(v)
	}

	switch {
	case r.URL.Path == "/health":
		writeJSON(http.StatusOK, httpapi.HealthResponse{Status: "ok"})
	case r.URL.Path == "/api/v1/audits" && r.Method == http.MethodPost:
		writeJSON(http.StatusOK, sampleReport())
	case r.URL.Path == "/api/v1/audits/url":
		writeJSON(http.StatusUnprocessableEntity, httpapi.ErrorResponse{Error: "fetch https://x/p: status 503", Stage: "fetch"})
	case r.URL.Path == "/api/v1/audits/image":
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			writeJSON(http.StatusBadRequest, httpapi.ErrorResponse{Error: err.Error()})
			return
		}
		writeJSON(http.StatusOK, sampleReport())
	case r.URL.Path == "/api/v1/tasks" && r.Method == http.MethodPost:
		writeJSON(http.StatusAccepted, httpapi.TaskAccepted{TaskID: "task-9", Status: "pending"})
	case r.URL.Path == "/api/v1/tasks" && r.Method == http.MethodGet:
		writeJSON(http.StatusOK, []orchestrator.Task{sampleTask()})
	case r.URL.Path == "/api/v1/tasks/task-9" && r.Method == http.MethodGet:
		writeJSON(http.StatusOK, sampleTask())
	case r.URL.Path == "/api/v1/tasks/task-9" && r.Method == http.MethodDelete:
		task := sampleTask()
		task.Cancelled = true
		writeJSON(http.StatusAccepted, task)
	case strings.HasPrefix(r.URL.Path, "/api/v1/tasks/"):
		writeJSON(http.StatusNotFound, httpapi.ErrorResponse{Error: "task not found"})
	case r.URL.Path == "/api/v1/reports/export.csv":
		w.Header().Set("Content-Type", "text/csv")
		_, _ = io.WriteString(w, "product_id,compliance_score\np-1,70\n")
	case r.URL.Path == "/api/v1/reports":
		writeJSON(http.StatusOK, httpapi.ReportsResponse{Reports: []*report.AuditReport{sampleReport()}, Count: 1, Limit: 50})
	case r.URL.Path == "/api/v1/reports/p-1":
		writeJSON(http.StatusOK, sampleReport())
	case r.URL.Path == "/api/v1/analytics/summary":
		writeJSON(http.StatusOK, report.Summary{TotalAudited: 4, CompliantCount: 1, NonCompliantCount: 3, AverageScore: 61.5,
			MostCommonViolations: []report.ViolationCount{{Violation: "mrp: MRP not declared", Count: 3}}})
	case r.URL.Path == "/api/v1/categories":
		writeJSON(http.StatusOK, []CategoryInfo{{ID: "food", Name: "Food", Description: "Packaged food", RuleCount: 14}})
	default:
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, "boom")
	}
}

func (f *fakeAPI) last() *http.Request {
	f.t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(f.t, f.requests)
	return f.requests[len(f.requests)-1]
}

func (f *fakeAPI) body(i int) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bodies[i]
}

func sampleReport() *report.AuditReport {
	summary := "Missing MRP declaration."
	return &report.AuditReport{
		ProductID:       "p-1",
		SellerID:        "s-1",
		Category:        "food",
		ComplianceScore: 70,
		RiskLevel:       rules.ModerateRisk,
		RuleVersion:     "2026.1",
		Violations:      []rules.Violation{{Code: "LM-FOOD-002", Field: "mrp", Message: "MRP not declared", Penalty: 30}},
		RiskSummary:     &summary,
		Enrichment:      report.Enrichment{Status: report.EnrichmentUnavailable},
		CreatedAt:       time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC),
	}
}

func sampleTask() orchestrator.Task {
	return orchestrator.Task{
		ID:        "task-9",
		State:     orchestrator.StateRunning,
		Category:  "food_oil",
		Total:     4,
		Completed: 1,
		Failed:    1,
		Results:   []*report.AuditReport{sampleReport()},
		Errors:    []string{"https://www.amazon.in/dp/X: fetch: status 503"},
		CreatedAt: time.Now().Add(-time.Minute),
	}
}

func newFakeServer(t *testing.T) (*fakeAPI, *Client) {
	t.Helper()
	api := &fakeAPI{t: t}
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	return api, NewClient(srv.URL+"/", 5*time.Second)
}

func TestClient_Audit(t *testing.T) {
	api, c := newFakeServer(t)

	rep, err := c.Audit(context.Background(), httpapi.AuditRequest{SellerID: "s-1", Text: "MRP: Rs. 99"})
	require.NoError(t, err)
	assert.Equal(t, "p-1", rep.ProductID)
	assert.Equal(t, rules.ModerateRisk, rep.RiskLevel)
	assert.Equal(t, "application/json", api.last().Header.Get("Content-Type"))
	assert.JSONEq(t, `{"seller_id":"s-1","product_name":"","category":"","text":"MRP: Rs. 99","fields":null}`, api.body(0))
}

func TestClient_APIError(t *testing.T) {
	_, c := newFakeServer(t)

	_, err := c.AuditURL(context.Background(), httpapi.URLAuditRequest{URL: "https://x/p"})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnprocessableEntity, apiErr.StatusCode)
	assert.Equal(t, "fetch", apiErr.Stage)
	assert.Contains(t, err.Error(), "(stage fetch)")

	_, err = c.Task(context.Background(), "nope")
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, "task not found", apiErr.Message)
}

func TestClient_PlainTextError(t *testing.T) {
	_, c := newFakeServer(t)
	err := c.do(context.Background(), http.MethodGet, "/unknown", nil, nil)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "boom", apiErr.Message)
}

func TestClient_AuditImage(t *testing.T) {
	api, c := newFakeServer(t)
	path := filepath.Join(t.TempDir(), "label.jpg")
	require.NoError(t, os.WriteFile(path, []byte("fake jpeg"), 0o600))

	rep, err := c.AuditImage(context.Background(), path, "s-1", "cosmetics")
	require.NoError(t, err)
	assert.Equal(t, "p-1", rep.ProductID)

	req := api.last()
	assert.True(t, strings.HasPrefix(req.Header.Get("Content-Type"), "multipart/form-data"))
	assert.Contains(t, api.body(0), `name="seller_id"`)
	assert.Contains(t, api.body(0), "fake jpeg")

	_, err = c.AuditImage(context.Background(), filepath.Join(t.TempDir(), "absent.jpg"), "s-1", "")
	assert.ErrorContains(t, err, "failed to open image")
}

func TestClient_TasksAndReports(t *testing.T) {
	api, c := newFakeServer(t)
	ctx := context.Background()

	accepted, err := c.SubmitTask(ctx, httpapi.TaskRequest{Category: "food_oil", MaxProducts: 3})
	require.NoError(t, err)
	assert.Equal(t, "task-9", accepted.TaskID)

	task, err := c.Task(ctx, "task-9")
	require.NoError(t, err)
	assert.Equal(t, orchestrator.StateRunning, task.State)
	require.Len(t, task.Results, 1)

	cancelled, err := c.CancelTask(ctx, "task-9")
	require.NoError(t, err)
	assert.True(t, cancelled.Cancelled)
	assert.Equal(t, http.MethodDelete, api.last().Method)

	page, err := c.Reports(ctx, url.Values{"risk_level": {"high_risk"}})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Count)
	assert.Equal(t, "high_risk", api.last().URL.Query().Get("risk_level"))

	var csv bytes.Buffer
	require.NoError(t, c.ExportReports(ctx, nil, &csv))
	assert.Equal(t, "product_id,compliance_score\np-1,70\n", csv.String())
}

func TestWithQuery(t *testing.T) {
	assert.Equal(t, "/api/v1/reports", withQuery("/api/v1/reports", nil))
	assert.Equal(t, "/api/v1/reports?limit=5", withQuery("/api/v1/reports", url.Values{"limit": {"5"}}))
}
