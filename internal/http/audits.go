package http

import (
	"io"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/lmaudit/internal/catalog"
	"github.com/fyrsmithlabs/lmaudit/internal/orchestrator"
	"github.com/fyrsmithlabs/lmaudit/internal/pipeline"
	"github.com/fyrsmithlabs/lmaudit/internal/scraper"
)

func parseCategory(s string) (catalog.Category, error) {
	if strings.TrimSpace(s) == "" {
		return "", nil
	}
	return catalog.Parse(s)
}

func (s *Server) handleAudit(c echo.Context) error {
	var req AuditRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("invalid request body")
	}
	rep, err := s.services.Audits().AuditForm(c.Request().Context(), pipeline.Form{
		SellerID:    req.SellerID,
		ProductName: req.ProductName,
		Category:    req.Category,
		Text:        req.Text,
		Fields:      req.Fields,
	})
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, rep)
}

func (s *Server) handleAuditURL(c echo.Context) error {
	var req URLAuditRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("invalid request body")
	}
	if strings.TrimSpace(req.URL) == "" {
		return badRequest("url is required")
	}
	category, err := parseCategory(req.Category)
	if err != nil {
		return badRequest(err.Error())
	}
	rep, err := s.services.Audits().AuditURL(c.Request().Context(), strings.TrimSpace(req.URL), req.SellerID, category)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, rep)
}

func (s *Server) handleAuditImage(c echo.Context) error {
	fh, err := c.FormFile("image")
	if err != nil {
		return badRequest("multipart field \"image\" is required")
	}
	if fh.Size > maxImageBytes {
		return badRequest("image exceeds 10MB")
	}
	category, err := parseCategory(c.FormValue("category"))
	if err != nil {
		return badRequest(err.Error())
	}
	f, err := fh.Open()
	if err != nil {
		return badRequest("unreadable image upload")
	}
	defer f.Close()
	image, err := io.ReadAll(io.LimitReader(f, maxImageBytes))
	if err != nil {
		return badRequest("unreadable image upload")
	}

	s.logger.Debug("label image received",
		zap.String("filename", fh.Filename),
		zap.Int("bytes", len(image)))
	rep, err := s.services.Audits().AuditImage(c.Request().Context(), image, c.FormValue("seller_id"), c.FormValue("product_name"), category)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, rep)
}

func (s *Server) handleAuditBulk(c echo.Context) error {
	var req BulkAuditRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("invalid request body")
	}
	category, err := parseCategory(req.Category)
	if err != nil {
		return badRequest(err.Error())
	}
	id, err := s.services.Tasks().SubmitURLs(c.Request().Context(), orchestrator.URLRequest{
		URLs:     req.URLs,
		SellerID: req.SellerID,
		Category: category,
	})
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusAccepted, TaskAccepted{TaskID: id, Status: string(orchestrator.StatePending)})
}

func (s *Server) handleSubmitTask(c echo.Context) error {
	var req TaskRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("invalid request body")
	}
	id, err := s.services.Tasks().Submit(c.Request().Context(), orchestrator.Request{
		Category:      scraper.DiscoveryCategory(strings.ToLower(strings.TrimSpace(req.Category))),
		MaxProducts:   req.MaxProducts,
		Marketplace:   scraper.Marketplace(req.Marketplace),
		SellerID:      req.SellerID,
		CustomKeyword: req.CustomKeyword,
	})
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusAccepted, TaskAccepted{TaskID: id, Status: string(orchestrator.StatePending)})
}

func (s *Server) handleListTasks(c echo.Context) error {
	return c.JSON(http.StatusOK, s.services.Tasks().List())
}

func (s *Server) handleGetTask(c echo.Context) error {
	task, err := s.services.Tasks().Status(c.Param("id"))
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, task)
}

func (s *Server) handleCancelTask(c echo.Context) error {
	id := c.Param("id")
	if err := s.services.Tasks().Cancel(id); err != nil {
		return toHTTPError(err)
	}
	task, err := s.services.Tasks().Status(id)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusAccepted, task)
}
