package server

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/mohammad-safakhou/brandscope/internal/functions"
)

// invokeFunction forwards the request body to a known edge function and
// returns its JSON untouched.
func (h *Handler) invokeFunction(c echo.Context) error {
	name := c.Param("name")
	if !functions.Known(name) {
		return echo.NewHTTPError(http.StatusNotFound, "unknown function "+name)
	}
	if h.Functions == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "functions endpoint not configured")
	}
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, 1<<20))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if len(body) == 0 {
		body = []byte("{}")
	}
	if !json.Valid(body) {
		return echo.NewHTTPError(http.StatusBadRequest, "body must be JSON")
	}
	out, err := h.Functions.InvokeRaw(c.Request().Context(), name, json.RawMessage(body))
	if err != nil {
		return err
	}
	return c.JSONBlob(http.StatusOK, out)
}
