package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/lmaudit/internal/catalog"
	"github.com/fyrsmithlabs/lmaudit/internal/orchestrator"
	"github.com/fyrsmithlabs/lmaudit/internal/pipeline"
	"github.com/fyrsmithlabs/lmaudit/internal/report"
	"github.com/fyrsmithlabs/lmaudit/internal/rules"
	"github.com/fyrsmithlabs/lmaudit/internal/scraper"
)

const (
	defaultFindLimit = 20
	maxFindLimit     = 200
)

// addTool registers a handler with the MCP server and the tool registry.
// Results go out both as structured content and as JSON text.
func addTool[In, Out any](s *Server, meta ToolMetadata, handle func(context.Context, In) (Out, error)) error {
	if err := s.tools.Register(&meta); err != nil {
		return err
	}
	mcp.AddTool(s.mcp, &mcp.Tool{Name: meta.Name, Description: meta.Description},
		func(ctx context.Context, _ *mcp.CallToolRequest, in In) (*mcp.CallToolResult, any, error) {
			done := s.metrics.Start(ctx, meta.Name)
			out, err := handle(ctx, in)
			done(err)
			if err != nil {
				s.logger.Debug("tool call failed", zap.String("tool", meta.Name), zap.Error(err))
				return nil, nil, err
			}
			text, err := json.Marshal(out)
			if err != nil {
				return nil, nil, fmt.Errorf("encoding %s result: %w", meta.Name, err)
			}
			return &mcp.CallToolResult{
				Content: []mcp.Content{&mcp.TextContent{Text: string(text)}},
			}, out, nil
		})
	return nil
}

func (s *Server) registerTools() error {
	regs := []func() error{
		func() error {
			return addTool(s, ToolMetadata{
				Name:        "audit_product",
				Description: "Audit one product listing against the Legal Metrology packaged commodity rules. Pass a product page url, or label text and declared fields.",
				Category:    CategoryAudit,
				Keywords:    []string{"compliance", "label", "mrp", "net quantity"},
			}, s.auditProduct)
		},
		func() error {
			return addTool(s, ToolMetadata{
				Name:        "submit_category_audit",
				Description: "Start a background bulk audit of marketplace products found by category search. Returns a task id to poll with task_status.",
				Category:    CategoryTasks,
				Keywords:    []string{"bulk", "marketplace", "discovery"},
			}, s.submitCategoryAudit)
		},
		func() error {
			return addTool(s, ToolMetadata{
				Name:        "task_status",
				Description: "Get progress and results of a bulk audit task.",
				Category:    CategoryTasks,
				Keywords:    []string{"progress", "bulk"},
			}, s.taskStatus)
		},
		func() error {
			return addTool(s, ToolMetadata{
				Name:        "get_report",
				Description: "Fetch a stored audit report by product id.",
				Category:    CategoryReports,
			}, s.getReport)
		},
		func() error {
			return addTool(s, ToolMetadata{
				Name:        "find_reports",
				Description: "List stored audit reports, newest first, filtered by risk level, seller, category or score.",
				Category:    CategoryReports,
				Keywords:    []string{"history", "violations", "risk"},
			}, s.findReports)
		},
		func() error {
			return addTool(s, ToolMetadata{
				Name:        "tool_search",
				Description: "Search the available lmaudit tools by name, description or keyword.",
				Category:    CategorySearch,
			}, s.toolSearch)
		},
	}
	for _, reg := range regs {
		if err := reg(); err != nil {
			return err
		}
	}
	return nil
}

type auditProductInput struct {
	URL         string            `json:"url,omitempty" jsonschema:"Product page URL. When set, text and fields are ignored."`
	SellerID    string            `json:"seller_id,omitempty" jsonschema:"Seller identifier recorded on the report"`
	ProductName string            `json:"product_name,omitempty" jsonschema:"Product name"`
	Category    string            `json:"category,omitempty" jsonschema:"food, electronics, cosmetics or generic. Detected from text when empty."`
	Text        string            `json:"text,omitempty" jsonschema:"Free label or listing text"`
	Fields      map[string]string `json:"fields,omitempty" jsonschema:"Declared values keyed by field name such as net_quantity or mrp_inclusive_of_taxes"`
}

func (s *Server) auditProduct(ctx context.Context, in auditProductInput) (*report.AuditReport, error) {
	if u := strings.TrimSpace(in.URL); u != "" {
		var category catalog.Category
		if strings.TrimSpace(in.Category) != "" {
			c, err := catalog.Parse(in.Category)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", pipeline.ErrInvalidInput, err)
			}
			category = c
		}
		return s.services.Audits().AuditURL(ctx, u, in.SellerID, category)
	}
	return s.services.Audits().AuditForm(ctx, pipeline.Form{
		SellerID:    in.SellerID,
		ProductName: in.ProductName,
		Category:    in.Category,
		Text:        in.Text,
		Fields:      in.Fields,
	})
}

type submitCategoryAuditInput struct {
	Category      string `json:"category" jsonschema:"Discovery category: food_oil, food_packaged, electronics, cosmetics, imported_goods, household, beverages or custom"`
	MaxProducts   int    `json:"max_products" jsonschema:"Number of products to audit"`
	Marketplace   string `json:"marketplace,omitempty" jsonschema:"amazon.in (default) or flipkart"`
	SellerID      string `json:"seller_id,omitempty" jsonschema:"Seller identifier recorded on every report"`
	CustomKeyword string `json:"custom_keyword,omitempty" jsonschema:"Search keyword, required for the custom category"`
}

type submitCategoryAuditOutput struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
}

func (s *Server) submitCategoryAudit(ctx context.Context, in submitCategoryAuditInput) (submitCategoryAuditOutput, error) {
	id, err := s.services.Tasks().Submit(ctx, orchestrator.Request{
		Category:      scraper.DiscoveryCategory(strings.ToLower(strings.TrimSpace(in.Category))),
		MaxProducts:   in.MaxProducts,
		Marketplace:   scraper.Marketplace(in.Marketplace),
		SellerID:      in.SellerID,
		CustomKeyword: in.CustomKeyword,
	})
	if err != nil {
		return submitCategoryAuditOutput{}, err
	}
	return submitCategoryAuditOutput{TaskID: id, Status: string(orchestrator.StatePending)}, nil
}

type taskStatusInput struct {
	TaskID string `json:"task_id" jsonschema:"Task id returned by submit_category_audit"`
}

func (s *Server) taskStatus(_ context.Context, in taskStatusInput) (orchestrator.Task, error) {
	return s.services.Tasks().Status(in.TaskID)
}

type getReportInput struct {
	ProductID string `json:"product_id" jsonschema:"Product id of the report"`
}

func (s *Server) getReport(ctx context.Context, in getReportInput) (*report.AuditReport, error) {
	return s.services.Reports().Get(ctx, in.ProductID)
}

type findReportsInput struct {
	RiskLevel string `json:"risk_level,omitempty" jsonschema:"compliant, moderate_risk or high_risk"`
	SellerID  string `json:"seller_id,omitempty"`
	Category  string `json:"category,omitempty"`
	MinScore  *int   `json:"min_score,omitempty" jsonschema:"Lowest compliance score, 0 to 100"`
	MaxScore  *int   `json:"max_score,omitempty" jsonschema:"Highest compliance score, 0 to 100"`
	Limit     int    `json:"limit,omitempty" jsonschema:"Maximum reports to return (default: 20)"`
}

type findReportsOutput struct {
	Reports []*report.AuditReport `json:"reports"`
	Count   int                   `json:"count"`
}

func (s *Server) findReports(ctx context.Context, in findReportsInput) (findReportsOutput, error) {
	f := report.Filter{
		SellerID: in.SellerID,
		MinScore: in.MinScore,
		MaxScore: in.MaxScore,
		Limit:    in.Limit,
	}
	switch {
	case f.Limit <= 0:
		f.Limit = defaultFindLimit
	case f.Limit > maxFindLimit:
		f.Limit = maxFindLimit
	}
	if in.RiskLevel != "" {
		level, err := rules.ParseRiskLevel(in.RiskLevel)
		if err != nil {
			return findReportsOutput{}, fmt.Errorf("%w: %v", pipeline.ErrInvalidInput, err)
		}
		f.RiskLevel = level
	}
	if in.Category != "" {
		c, err := catalog.Parse(in.Category)
		if err != nil {
			return findReportsOutput{}, fmt.Errorf("%w: %v", pipeline.ErrInvalidInput, err)
		}
		f.Category = c
	}
	reports, err := s.services.Reports().Find(ctx, f)
	if err != nil {
		return findReportsOutput{}, err
	}
	if reports == nil {
		reports = []*report.AuditReport{}
	}
	return findReportsOutput{Reports: reports, Count: len(reports)}, nil
}

type toolSearchInput struct {
	Query    string `json:"query" jsonschema:"Text or regular expression matched against tool names, descriptions and keywords"`
	Category string `json:"category,omitempty" jsonschema:"audit, tasks, reports or search"`
	Limit    int    `json:"limit,omitempty" jsonschema:"Maximum results (default: 5)"`
}

type toolSearchOutput struct {
	Query      string         `json:"query"`
	Results    []SearchResult `json:"results"`
	TotalTools int            `json:"total_tools"`
}

func (s *Server) toolSearch(_ context.Context, in toolSearchInput) (toolSearchOutput, error) {
	if strings.TrimSpace(in.Query) == "" {
		return toolSearchOutput{}, fmt.Errorf("%w: query is required", pipeline.ErrInvalidInput)
	}
	limit := in.Limit
	if limit <= 0 {
		limit = 5
	}
	results := make([]SearchResult, 0, limit)
	for _, r := range s.tools.Search(in.Query) {
		if in.Category != "" && r.Tool.Category != ToolCategory(in.Category) {
			continue
		}
		if len(results) == limit {
			break
		}
		results = append(results, r)
	}
	return toolSearchOutput{Query: in.Query, Results: results, TotalTools: s.tools.Count()}, nil
}
