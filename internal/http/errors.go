package http

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/fyrsmithlabs/lmaudit/internal/orchestrator"
	"github.com/fyrsmithlabs/lmaudit/internal/pipeline"
	"github.com/fyrsmithlabs/lmaudit/internal/report"
)

// badRequest rejects malformed or invalid input.
func badRequest(msg string) *echo.HTTPError {
	return echo.NewHTTPError(http.StatusBadRequest, ErrorResponse{Error: msg})
}

// toHTTPError maps service errors onto status codes. Unknown errors are 500
// and their text is not exposed.
func toHTTPError(err error) *echo.HTTPError {
	var failure *pipeline.AuditFailure
	switch {
	case errors.As(err, &failure):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, ErrorResponse{
			Error:     failure.Error(),
			Stage:     string(failure.Stage),
			ProductID: failure.ProductID,
		})
	case errors.Is(err, pipeline.ErrInvalidInput), errors.Is(err, orchestrator.ErrInvalidRequest):
		return badRequest(err.Error())
	case errors.Is(err, report.ErrNotFound), errors.Is(err, orchestrator.ErrTaskNotFound):
		return echo.NewHTTPError(http.StatusNotFound, ErrorResponse{Error: err.Error()})
	case errors.Is(err, orchestrator.ErrTaskFinished):
		return echo.NewHTTPError(http.StatusConflict, ErrorResponse{Error: err.Error()})
	case errors.Is(err, orchestrator.ErrClosed):
		return echo.NewHTTPError(http.StatusServiceUnavailable, ErrorResponse{Error: err.Error()})
	}
	return echo.NewHTTPError(http.StatusInternalServerError, ErrorResponse{Error: "internal error"}).SetInternal(err)
}
