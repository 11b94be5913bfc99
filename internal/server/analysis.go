package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/mohammad-safakhou/brandscope/internal/analysis"
	"github.com/mohammad-safakhou/brandscope/internal/store"
)

// InsightRequest selects a headline to expand.
type InsightRequest struct {
	Brand    string `json:"brand"`
	Category string `json:"category"`
	Headline string `json:"headline"`
}

// BrandRequest names a brand.
type BrandRequest struct {
	Brand string `json:"brand"`
}

// runAnalysis
//
//	@Summary	Run a brand analysis
//	@Tags		analysis
//	@Accept		json
//	@Produce	json
//	@Param		payload	body		analysis.Request	true	"Analysis request"
//	@Success	200		{object}	analysis.Report
//	@Failure	400		{object}	HTTPError
//	@Failure	409		{object}	CancelledResponse
//	@Failure	502		{object}	HTTPError
//	@Router		/api/analysis [post]
func (h *Handler) runAnalysis(c echo.Context) error {
	var req analysis.Request
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	report, err := h.Analyzer.Run(c.Request().Context(), sessionID(c), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, report)
}

func (h *Handler) loadAnalysis(c echo.Context) error {
	snap, err := h.Analyzer.Load(c.Request().Context(), sessionID(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, snap)
}

func (h *Handler) insightDetail(c echo.Context) error {
	var req InsightRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.Headline) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "headline is required")
	}
	d, err := h.Analyzer.InsightDetail(c.Request().Context(), sessionID(c), req.Brand, req.Category, req.Headline)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) swot(c echo.Context) error {
	var req BrandRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	out, err := h.Analyzer.SWOT(c.Request().Context(), sessionID(c), req.Brand)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) awareness(c echo.Context) error {
	var competitors []string
	if raw := c.QueryParam("competitors"); raw != "" {
		competitors = strings.Split(raw, ",")
	}
	out, err := h.Analyzer.Awareness(c.Request().Context(), c.QueryParam("brand"), competitors)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) history(c echo.Context) error {
	if h.History == nil {
		return c.JSON(http.StatusOK, []store.AnalysisRecord{})
	}
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	recs, err := h.History.ListAnalyses(c.Request().Context(), sessionID(c), limit)
	if err != nil {
		return err
	}
	if recs == nil {
		recs = []store.AnalysisRecord{}
	}
	return c.JSON(http.StatusOK, recs)
}

func (h *Handler) clearCache(c echo.Context) error {
	sid := sessionID(c)
	h.Gateway.ClearSession(sid)
	n := h.Gateway.CancelSession(sid)
	return c.JSON(http.StatusOK, map[string]int{"cancelled": n})
}
