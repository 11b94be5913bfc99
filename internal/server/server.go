package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/mohammad-safakhou/brandscope/internal/analysis"
	"github.com/mohammad-safakhou/brandscope/internal/logging"
	"github.com/mohammad-safakhou/brandscope/internal/navguard"
	"github.com/mohammad-safakhou/brandscope/internal/news"
	"github.com/mohammad-safakhou/brandscope/internal/session"
	"github.com/mohammad-safakhou/brandscope/internal/store"
	"github.com/mohammad-safakhou/brandscope/internal/trends"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// CacheController is the part of the gateway exposed over HTTP.
type CacheController interface {
	ClearSession(sessionID string)
	CancelSession(sessionID string) int
}

// FunctionCaller forwards raw function calls.
type FunctionCaller interface {
	InvokeRaw(ctx context.Context, name string, body any) (json.RawMessage, error)
}

// History lists archived analyses.
type History interface {
	ListAnalyses(ctx context.Context, sessionID string, limit int) ([]store.AnalysisRecord, error)
}

// Handler carries the dependencies of every route. Functions and History
// may be nil.
type Handler struct {
	Analyzer      *analysis.Analyzer
	News          *news.Service
	Trends        *trends.Refresher
	Functions     FunctionCaller
	Gateway       CacheController
	Sessions      session.Store
	Tracker       *navguard.Tracker
	History       History
	Tokens        *Tokens
	SecureCookies bool
	Clock         func() time.Time
	Log           logrus.FieldLogger
}

func (h *Handler) now() time.Time {
	if h.Clock != nil {
		return h.Clock()
	}
	return time.Now()
}

// NewEcho builds the HTTP server with every route mounted.
func NewEcho(h *Handler, allowOrigins []string, metrics bool) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.HTTPErrorHandler = errorHandler(logging.OrDiscard(h.Log).WithField("component", "http"))
	if len(allowOrigins) == 0 {
		allowOrigins = []string{"*"}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     allowOrigins,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{echo.HeaderContentType, echo.HeaderAuthorization, "Cookie"},
		AllowCredentials: true,
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	if metrics {
		e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	}

	api := e.Group("/api")
	api.POST("/sessions", h.createSession)

	g := api.Group("", h.Tokens.Middleware())
	g.POST("/analysis", h.runAnalysis)
	g.GET("/analysis", h.loadAnalysis)
	g.POST("/analysis/insight", h.insightDetail)
	g.POST("/analysis/swot", h.swot)
	g.GET("/analysis/awareness", h.awareness)
	g.GET("/history", h.history)
	g.DELETE("/cache", h.clearCache)

	g.POST("/news/refresh", h.refreshNews)
	g.GET("/news", h.loadNews)
	g.POST("/trends/refresh", h.refreshTrends)
	g.GET("/trends", h.loadTrends)

	g.POST("/functions/:name", h.invokeFunction)

	nav := g.Group("/navigation")
	nav.GET("", h.navigationState)
	nav.DELETE("", h.clearNavigation)
	nav.POST("/click", h.navigationClick)
	nav.POST("/event", h.navigationEvent)
	nav.POST("/blur", h.navigationBlur)
	nav.POST("/focus", h.navigationFocus)
	nav.POST("/visibility", h.navigationVisibility)
	return e
}
