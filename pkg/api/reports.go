package api

import (
	"bytes"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/devicelab-dev/aiqa-agent/pkg/core"
	"github.com/devicelab-dev/aiqa-agent/pkg/report"
)

// ValidationRequest selects the cases of a validation run. Both empty runs
// the whole catalog.
type ValidationRequest struct {
	TestCaseIDs []string `json:"testCaseIds,omitempty"`
	Category    string   `json:"category,omitempty"`
}

// ListCases returns the validation catalog.
func (s *Server) ListCases(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"cases": s.catalog.Cases,
		"count": len(s.catalog.Cases),
	})
}

// RunValidation runs a batch of test cases and returns the report. Only
// one validation run may be in progress.
func (s *Server) RunValidation(c echo.Context) error {
	if s.harness == nil {
		return c.JSON(http.StatusNotImplemented, map[string]string{"error": "validation is not enabled"})
	}
	var req ValidationRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	cases, err := s.selectCases(req)
	if err != nil {
		return fail(c, err)
	}
	if !s.validating.CompareAndSwap(false, true) {
		return fail(c, core.ErrInvalidTransition.WithMessage("a validation run is already in progress"))
	}
	defer s.validating.Store(false)

	r, err := s.harness.Run(c.Request().Context(), cases)
	if err != nil && r == nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, r)
}

func (s *Server) selectCases(req ValidationRequest) ([]report.TestCase, error) {
	if req.Category != "" {
		cases := s.catalog.Category(req.Category)
		if len(cases) == 0 {
			return nil, core.ErrInvalidConfig.WithMessage("no test cases in category " + req.Category)
		}
		return cases, nil
	}
	return s.catalog.Select(req.TestCaseIDs...)
}

// ListReports lists stored reports, newest first.
func (s *Server) ListReports(c echo.Context) error {
	if s.store == nil {
		return c.JSON(http.StatusNotImplemented, map[string]string{"error": "report store is not enabled"})
	}
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	entries, err := s.store.List(c.Request().Context(), limit)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"reports": entries,
		"count":   len(entries),
	})
}

// GetReport exports a stored report as json (default) or html.
func (s *Server) GetReport(c echo.Context) error {
	if s.store == nil {
		return c.JSON(http.StatusNotImplemented, map[string]string{"error": "report store is not enabled"})
	}
	format, err := report.ParseFormat(c.QueryParam("format"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	r, err := s.store.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return fail(c, err)
	}

	var buf bytes.Buffer
	if err := report.Export(&buf, r, format); err != nil {
		return fail(c, err)
	}
	return c.Blob(http.StatusOK, format.ContentType(), buf.Bytes())
}
