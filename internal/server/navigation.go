package server

import (
	"context"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/mohammad-safakhou/brandscope/internal/analysis"
	"github.com/mohammad-safakhou/brandscope/internal/navguard"
	"github.com/mohammad-safakhou/brandscope/internal/session"
)

// NavigationEvent reports an in-app event or an attribute change. When
// Attribute is set the event is treated as an attribute mutation.
type NavigationEvent struct {
	Name      string `json:"name"`
	URL       string `json:"url"`
	Attribute string `json:"attribute,omitempty"`
	Value     string `json:"value,omitempty"`
}

// VisibilityRequest reports a page visibility change.
type VisibilityRequest struct {
	Visible bool `json:"visible"`
}

// NavigationResponse reports what the guard did. Snapshot is set when the
// state was reloaded.
type NavigationResponse struct {
	Action   navguard.Action    `json:"action"`
	State    navguard.State     `json:"state"`
	Snapshot *analysis.Snapshot `json:"snapshot,omitempty"`
}

type guardCall func(ctx context.Context, g *navguard.Guard) (navguard.Action, error)

// withGuard runs call against a guard for the request's session and reports
// the resulting state.
func (h *Handler) withGuard(c echo.Context, call guardCall) error {
	ctx := c.Request().Context()
	sid := sessionID(c)
	var snap *analysis.Snapshot
	persist := func(ctx context.Context) error {
		sc := session.Scope(h.Sessions, sid)
		active, _, err := sc.Lookup(ctx, session.KeyActiveAnalysis)
		if err != nil || active != "true" {
			return err
		}
		return sc.Set(ctx, session.KeyAnalysisTimestamp, strconv.FormatInt(h.now().UnixMilli(), 10))
	}
	reload := func(ctx context.Context) error {
		s, err := h.Analyzer.Load(ctx, sid)
		snap = s
		return err
	}
	g := navguard.NewGuard(h.Tracker.For(sid), persist, reload, h.Log)
	action, err := call(ctx, g)
	if err != nil {
		return err
	}
	state, err := h.Tracker.State(ctx, sid)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, NavigationResponse{Action: action, State: state, Snapshot: snap})
}

func (h *Handler) navigationClick(c echo.Context) error {
	var target navguard.ClickTarget
	if err := c.Bind(&target); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return h.withGuard(c, func(ctx context.Context, g *navguard.Guard) (navguard.Action, error) {
		return g.HandleClick(ctx, target)
	})
}

func (h *Handler) navigationEvent(c echo.Context) error {
	var ev NavigationEvent
	if err := c.Bind(&ev); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return h.withGuard(c, func(ctx context.Context, g *navguard.Guard) (navguard.Action, error) {
		if ev.Attribute != "" {
			return g.HandleAttributeMutation(ctx, ev.Attribute, ev.Value, ev.URL)
		}
		return g.HandleEvent(ctx, ev.Name, ev.URL)
	})
}

func (h *Handler) navigationBlur(c echo.Context) error {
	return h.withGuard(c, func(ctx context.Context, g *navguard.Guard) (navguard.Action, error) {
		return g.OnBlur(ctx)
	})
}

func (h *Handler) navigationFocus(c echo.Context) error {
	return h.withGuard(c, func(ctx context.Context, g *navguard.Guard) (navguard.Action, error) {
		return g.OnFocus(ctx)
	})
}

func (h *Handler) navigationVisibility(c echo.Context) error {
	var req VisibilityRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return h.withGuard(c, func(ctx context.Context, g *navguard.Guard) (navguard.Action, error) {
		return g.OnVisibilityChange(ctx, req.Visible)
	})
}

func (h *Handler) navigationState(c echo.Context) error {
	state, err := h.Tracker.State(c.Request().Context(), sessionID(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, state)
}

func (h *Handler) clearNavigation(c echo.Context) error {
	if err := h.Tracker.Clear(c.Request().Context(), sessionID(c)); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}
