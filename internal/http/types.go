package http

import (
	"github.com/fyrsmithlabs/lmaudit/internal/catalog"
	"github.com/fyrsmithlabs/lmaudit/internal/report"
	"github.com/fyrsmithlabs/lmaudit/internal/rules"
)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error     string `json:"error"`
	Stage     string `json:"stage,omitempty"`
	ProductID string `json:"product_id,omitempty"`
}

// AuditRequest is the request body for POST /api/v1/audits.
type AuditRequest struct {
	SellerID    string            `json:"seller_id"`
	ProductName string            `json:"product_name"`
	Category    string            `json:"category"`
	Text        string            `json:"text"`
	Fields      map[string]string `json:"fields"`
}

// URLAuditRequest is the request body for POST /api/v1/audits/url.
type URLAuditRequest struct {
	URL      string `json:"url"`
	SellerID string `json:"seller_id"`
	Category string `json:"category"`
}

// BulkAuditRequest is the request body for POST /api/v1/audits/bulk.
type BulkAuditRequest struct {
	URLs     []string `json:"urls"`
	SellerID string   `json:"seller_id"`
	Category string   `json:"category"`
}

// TaskRequest is the request body for POST /api/v1/tasks.
type TaskRequest struct {
	Category      string `json:"category"`
	MaxProducts   int    `json:"max_products"`
	Marketplace   string `json:"marketplace"`
	SellerID      string `json:"seller_id"`
	CustomKeyword string `json:"custom_keyword"`
}

// TaskAccepted is the 202 body returned when a task is created.
type TaskAccepted struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
}

// CategoryResponse describes one audit category.
type CategoryResponse struct {
	catalog.Info
	Fields    catalog.FieldSet `json:"fields"`
	RuleCount int              `json:"rule_count"`
}

// RulesResponse lists the rules applied to a category.
type RulesResponse struct {
	Category    catalog.Category `json:"category"`
	RuleVersion string           `json:"rule_version"`
	Rules       []rules.Rule     `json:"rules"`
}

// ReportsResponse is a page of reports.
type ReportsResponse struct {
	Reports []*report.AuditReport `json:"reports"`
	Count   int                   `json:"count"`
	Limit   int                   `json:"limit"`
	Offset  int                   `json:"offset"`
}
