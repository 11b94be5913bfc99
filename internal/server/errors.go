package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/mohammad-safakhou/brandscope/internal/analysis"
	"github.com/mohammad-safakhou/brandscope/internal/functions"
	"github.com/mohammad-safakhou/brandscope/internal/gateway"
	"github.com/mohammad-safakhou/brandscope/internal/llm"
	"github.com/mohammad-safakhou/brandscope/internal/trends"
	"github.com/sirupsen/logrus"
)

// HTTPError is the error body.
type HTTPError struct {
	Error string `json:"error"`
}

// CancelledResponse is returned for requests superseded by a newer one.
type CancelledResponse struct {
	Cancelled bool `json:"cancelled"`
}

func isCancelled(err error) bool {
	return gateway.IsCancelled(err) || errors.Is(err, context.Canceled)
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) (int, string) {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		msg := http.StatusText(he.Code)
		if he.Message != nil {
			msg = fmt.Sprint(he.Message)
		}
		return he.Code, msg
	}
	var llmErr *llm.StatusError
	var fnErr *functions.StatusError
	switch {
	case errors.Is(err, analysis.ErrBrandRequired):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, trends.ErrRefreshInProgress):
		return http.StatusConflict, err.Error()
	case errors.Is(err, analysis.ErrFunctionsDisabled):
		return http.StatusServiceUnavailable, err.Error()
	case errors.Is(err, gateway.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, err.Error()
	case errors.Is(err, analysis.ErrInvalidState),
		errors.Is(err, gateway.ErrMalformedResponse),
		errors.Is(err, functions.ErrMalformed),
		errors.As(err, &llmErr),
		errors.As(err, &fnErr):
		return http.StatusBadGateway, err.Error()
	}
	return http.StatusInternalServerError, err.Error()
}

func errorHandler(log logrus.FieldLogger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		req := c.Request()
		entry := log.WithFields(logrus.Fields{
			"method": req.Method,
			"path":   req.URL.Path,
			"ip":     c.RealIP(),
		})
		if isCancelled(err) {
			entry.Debug("request cancelled")
			_ = c.JSON(http.StatusConflict, CancelledResponse{Cancelled: true})
			return
		}
		code, msg := statusFor(err)
		if code >= http.StatusInternalServerError {
			entry.WithError(err).WithField("status", code).Error("request failed")
		} else {
			entry.WithError(err).WithField("status", code).Debug("request rejected")
		}
		_ = c.JSON(code, HTTPError{Error: msg})
	}
}
