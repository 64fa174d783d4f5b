package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	httpapi "github.com/fyrsmithlabs/lmaudit/internal/http"
	"github.com/fyrsmithlabs/lmaudit/internal/orchestrator"
	"github.com/fyrsmithlabs/lmaudit/internal/report"
)

// APIError is a non-2xx response from lmauditd.
type APIError struct {
	StatusCode int
	Message    string
	Stage      string
}

func (e *APIError) Error() string {
	if e.Stage != "" {
		return fmt.Sprintf("server returned status %d: %s (stage %s)", e.StatusCode, e.Message, e.Stage)
	}
	return fmt.Sprintf("server returned status %d: %s", e.StatusCode, e.Message)
}

// Client calls the lmauditd REST API.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the server at baseURL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// CategoryInfo is the subset of a category listing the CLI prints.
type CategoryInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	RuleCount   int    `json:"rule_count"`
}

func (c *Client) Health(ctx context.Context) (httpapi.HealthResponse, error) {
	var out httpapi.HealthResponse
	err := c.do(ctx, http.MethodGet, "/health", nil, &out)
	return out, err
}

func (c *Client) Audit(ctx context.Context, req httpapi.AuditRequest) (*report.AuditReport, error) {
	var out report.AuditReport
	if err := c.do(ctx, http.MethodPost, "/api/v1/audits", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) AuditURL(ctx context.Context, req httpapi.URLAuditRequest) (*report.AuditReport, error) {
	var out report.AuditReport
	if err := c.do(ctx, http.MethodPost, "/api/v1/audits/url", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AuditImage uploads a label photo for OCR and audit.
func (c *Client) AuditImage(ctx context.Context, path, sellerID, category string) (*report.AuditReport, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image %s: %w", path, err)
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("image", filepath.Base(path))
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, fmt.Errorf("failed to read image %s: %w", path, err)
	}
	_ = mw.WriteField("seller_id", sellerID)
	if category != "" {
		_ = mw.WriteField("category", category)
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/audits/image", &body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var out report.AuditReport
	if err := c.send(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) SubmitTask(ctx context.Context, req httpapi.TaskRequest) (httpapi.TaskAccepted, error) {
	var out httpapi.TaskAccepted
	err := c.do(ctx, http.MethodPost, "/api/v1/tasks", req, &out)
	return out, err
}

func (c *Client) SubmitBulk(ctx context.Context, req httpapi.BulkAuditRequest) (httpapi.TaskAccepted, error) {
	var out httpapi.TaskAccepted
	err := c.do(ctx, http.MethodPost, "/api/v1/audits/bulk", req, &out)
	return out, err
}

// Task fetches a task snapshot. It satisfies monitor.TaskSource.
func (c *Client) Task(ctx context.Context, id string) (orchestrator.Task, error) {
	var out orchestrator.Task
	err := c.do(ctx, http.MethodGet, "/api/v1/tasks/"+url.PathEscape(id), nil, &out)
	return out, err
}

func (c *Client) Tasks(ctx context.Context) ([]orchestrator.Task, error) {
	var out []orchestrator.Task
	err := c.do(ctx, http.MethodGet, "/api/v1/tasks", nil, &out)
	return out, err
}

func (c *Client) CancelTask(ctx context.Context, id string) (orchestrator.Task, error) {
	var out orchestrator.Task
	err := c.do(ctx, http.MethodDelete, "/api/v1/tasks/"+url.PathEscape(id), nil, &out)
	return out, err
}

func (c *Client) Reports(ctx context.Context, query url.Values) (httpapi.ReportsResponse, error) {
	var out httpapi.ReportsResponse
	err := c.do(ctx, http.MethodGet, withQuery("/api/v1/reports", query), nil, &out)
	return out, err
}

func (c *Client) Report(ctx context.Context, productID string) (*report.AuditReport, error) {
	var out report.AuditReport
	if err := c.do(ctx, http.MethodGet, "/api/v1/reports/"+url.PathEscape(productID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ExportReports streams the CSV export into w.
func (c *Client) ExportReports(ctx context.Context, query url.Values, w io.Writer) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+withQuery("/api/v1/reports/export.csv", query), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request to %s: %w", req.URL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}
	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("failed to write export: %w", err)
	}
	return nil
}

func (c *Client) Summary(ctx context.Context) (report.Summary, error) {
	var out report.Summary
	err := c.do(ctx, http.MethodGet, "/api/v1/analytics/summary", nil, &out)
	return out, err
}

func (c *Client) Categories(ctx context.Context) ([]CategoryInfo, error) {
	var out []CategoryInfo
	err := c.do(ctx, http.MethodGet, "/api/v1/categories", nil, &out)
	return out, err
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.send(req, out)
}

func (c *Client) send(req *http.Request, out any) error {
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request to %s: %w", req.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// decodeError turns an error body into an APIError, falling back to the raw
// body when it is not the server's JSON error shape.
func decodeError(resp *http.Response) error {
	body, readErr := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if readErr != nil {
		return fmt.Errorf("server returned status %d (failed to read response body: %w)", resp.StatusCode, readErr)
	}
	apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}

	var parsed httpapi.ErrorResponse
	if json.Unmarshal(body, &parsed) == nil && parsed.Error != "" {
		apiErr.Message = parsed.Error
		apiErr.Stage = parsed.Stage
	} else {
		var generic struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(body, &generic) == nil && generic.Message != "" {
			apiErr.Message = generic.Message
		}
	}
	return apiErr
}

func withQuery(path string, query url.Values) string {
	if len(query) == 0 {
		return path
	}
	return path + "?" + query.Encode()
}
