package http

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/fyrsmithlabs/lmaudit/internal/catalog"
	"github.com/fyrsmithlabs/lmaudit/internal/report"
	"github.com/fyrsmithlabs/lmaudit/internal/rules"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// parseFilter reads report query parameters. Dates are RFC 3339 timestamps
// or plain days; a plain "to" day includes the whole day.
func parseFilter(c echo.Context) (report.Filter, error) {
	f := report.Filter{Limit: defaultPageSize}
	q := c.QueryParams()

	if v := q.Get("risk_level"); v != "" {
		level, err := rules.ParseRiskLevel(v)
		if err != nil {
			return f, err
		}
		f.RiskLevel = level
	}
	for _, p := range []struct {
		name string
		dst  **int
	}{{"min_score", &f.MinScore}, {"max_score", &f.MaxScore}} {
		if v := q.Get(p.name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 || n > 100 {
				return f, fmt.Errorf("%s must be an integer between 0 and 100", p.name)
			}
			*p.dst = &n
		}
	}
	if v := q.Get("from"); v != "" {
		t, _, err := parseTime(v)
		if err != nil {
			return f, fmt.Errorf("from: %w", err)
		}
		f.From = t
	}
	if v := q.Get("to"); v != "" {
		t, day, err := parseTime(v)
		if err != nil {
			return f, fmt.Errorf("to: %w", err)
		}
		if day {
			t = t.Add(24*time.Hour - time.Nanosecond)
		}
		f.To = t
	}
	f.SellerID = q.Get("seller_id")
	if v := q.Get("category"); v != "" {
		cat, err := catalog.Parse(v)
		if err != nil {
			return f, err
		}
		f.Category = cat
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxPageSize {
			return f, fmt.Errorf("limit must be between 1 and %d", maxPageSize)
		}
		f.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, fmt.Errorf("offset must be a non-negative integer")
		}
		f.Offset = n
	}
	return f, nil
}

func parseTime(v string) (t time.Time, day bool, err error) {
	if t, err = time.Parse(time.RFC3339, v); err == nil {
		return t.UTC(), false, nil
	}
	if t, err = time.Parse(time.DateOnly, v); err == nil {
		return t, true, nil
	}
	return time.Time{}, false, fmt.Errorf("invalid time %q, want RFC 3339 or YYYY-MM-DD", v)
}

func (s *Server) handleFindReports(c echo.Context) error {
	f, err := parseFilter(c)
	if err != nil {
		return badRequest(err.Error())
	}
	reports, err := s.services.Reports().Find(c.Request().Context(), f)
	if err != nil {
		return toHTTPError(err)
	}
	if reports == nil {
		reports = []*report.AuditReport{}
	}
	return c.JSON(http.StatusOK, ReportsResponse{Reports: reports, Count: len(reports), Limit: f.Limit, Offset: f.Offset})
}

func (s *Server) handleGetReport(c echo.Context) error {
	rep, err := s.services.Reports().Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, rep)
}

// handleExportReports streams matching reports as CSV. Paging parameters are
// ignored so an export covers every match.
func (s *Server) handleExportReports(c echo.Context) error {
	f, err := parseFilter(c)
	if err != nil {
		return badRequest(err.Error())
	}
	f.Limit, f.Offset = 0, 0
	reports, err := s.services.Reports().Find(c.Request().Context(), f)
	if err != nil {
		return toHTTPError(err)
	}
	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/csv; charset=utf-8")
	res.Header().Set(echo.HeaderContentDisposition, `attachment; filename="lmaudit-reports.csv"`)
	res.WriteHeader(http.StatusOK)
	return report.WriteCSV(res, reports)
}

func (s *Server) handleSummary(c echo.Context) error {
	summary, err := s.services.Analytics().Summary(c.Request().Context())
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, summary)
}

func (s *Server) handleRiskDistribution(c echo.Context) error {
	dist, err := s.services.Analytics().RiskDistribution(c.Request().Context())
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, dist)
}

func (s *Server) handleViolations(c echo.Context) error {
	trends, err := s.services.Analytics().ViolationTrends(c.Request().Context())
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, trends)
}

func (s *Server) handleTimeline(c echo.Context) error {
	days := 30
	if v := c.QueryParam("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 365 {
			return badRequest("days must be between 1 and 365")
		}
		days = n
	}
	timeline, err := s.services.Analytics().Timeline(c.Request().Context(), days)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, timeline)
}

func (s *Server) handleCategoryStats(c echo.Context) error {
	stats, err := s.services.Analytics().Categories(c.Request().Context())
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, stats)
}

func (s *Server) handleCategories(c echo.Context) error {
	book := s.services.Rules().Current()
	out := make([]CategoryResponse, 0, len(catalog.All()))
	for _, cat := range catalog.All() {
		resp := CategoryResponse{Info: cat.Info(), Fields: cat.Fields()}
		if set, ok := book.RuleSet(cat); ok {
			resp.RuleCount = len(set.Rules)
		}
		out = append(out, resp)
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleCategoryRules(c echo.Context) error {
	cat, err := catalog.Parse(strings.TrimSpace(c.Param("id")))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, ErrorResponse{Error: err.Error()})
	}
	book := s.services.Rules().Current()
	resp := RulesResponse{Category: cat, RuleVersion: book.Version(), Rules: []rules.Rule{}}
	if set, ok := book.RuleSet(cat); ok {
		resp.Rules = set.Rules
	}
	return c.JSON(http.StatusOK, resp)
}
