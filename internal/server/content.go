package server

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/mohammad-safakhou/brandscope/internal/news"
	"github.com/mohammad-safakhou/brandscope/internal/session"
	"github.com/mohammad-safakhou/brandscope/internal/trends"
)

// TrendsRequest asks for a trends refresh. Empty fields fall back to the
// brand, category and country of the current analysis.
type TrendsRequest struct {
	Brand    string `json:"brand"`
	Category string `json:"category"`
	Country  string `json:"country"`
}

// TrendsResponse is the stored trends view.
type TrendsResponse struct {
	Brand string   `json:"brand"`
	Lines []string `json:"lines"`
}

// fallback returns v, or the session value at key when v is blank.
func (h *Handler) fallback(c echo.Context, v, key string) (string, error) {
	if v = strings.TrimSpace(v); v != "" {
		return v, nil
	}
	stored, _, err := session.Scope(h.Sessions, sessionID(c)).Lookup(c.Request().Context(), key)
	return stored, err
}

func (h *Handler) refreshNews(c echo.Context) error {
	var req BrandRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	brand, err := h.fallback(c, req.Brand, session.KeyCurrentBrand)
	if err != nil {
		return err
	}
	if brand == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "brand is required")
	}
	items, err := h.News.Refresh(c.Request().Context(), sessionID(c), brand)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) loadNews(c echo.Context) error {
	items, err := news.Load(c.Request().Context(), h.Sessions, sessionID(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) refreshTrends(c echo.Context) error {
	var req TrendsRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	var err error
	if req.Brand, err = h.fallback(c, req.Brand, session.KeyCurrentBrand); err != nil {
		return err
	}
	if req.Brand == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "brand is required")
	}
	if req.Category, err = h.fallback(c, req.Category, session.KeyCategory); err != nil {
		return err
	}
	if req.Country, err = h.fallback(c, req.Country, session.KeyCountry); err != nil {
		return err
	}
	res, err := h.Trends.Refresh(c.Request().Context(), sessionID(c), trends.Request{
		Brand:    req.Brand,
		Category: req.Category,
		Country:  req.Country,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) loadTrends(c echo.Context) error {
	brand, lines, ok, err := trends.Load(c.Request().Context(), h.Sessions, sessionID(c))
	if err != nil {
		return err
	}
	if !ok {
		return c.JSON(http.StatusOK, TrendsResponse{Lines: []string{}})
	}
	return c.JSON(http.StatusOK, TrendsResponse{Brand: brand, Lines: lines})
}
