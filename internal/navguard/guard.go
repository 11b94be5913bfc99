package navguard

import (
	"context"
	"strings"

	"github.com/mohammad-safakhou/brandscope/internal/logging"
	"github.com/sirupsen/logrus"
)

// EventCitationClick is the in-app event fired when a citation link is opened.
const EventCitationClick = "citation-link-clicked"

// AttrCitationClick is the attribute set on the document when a citation link
// is opened.
const AttrCitationClick = "data-citation-click"

// Action is what a handler did.
type Action string

const (
	ActionNone       Action = "none"
	ActionMarked     Action = "marked"
	ActionPersisted  Action = "persisted"
	ActionReloaded   Action = "reloaded"
	ActionSuppressed Action = "suppressed"
)

// ClickTarget describes the element that received a click.
type ClickTarget struct {
	Href         string `json:"href"`
	Target       string `json:"target,omitempty"`
	Rel          string `json:"rel,omitempty"`
	CitationLink bool   `json:"citationLink,omitempty"`
}

// IsExternal reports whether following the target leaves the app.
func (c ClickTarget) IsExternal() bool {
	if c.CitationLink || strings.EqualFold(c.Target, "_blank") {
		return true
	}
	for _, r := range strings.Fields(strings.ToLower(c.Rel)) {
		if r == "external" {
			return true
		}
	}
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(c.Href)), "http")
}

// Guard applies the navigation rules for one session. Persist runs on blur
// or hide and Reload runs on focus or show, unless an episode is pending.
type Guard struct {
	nav     Navigator
	persist func(context.Context) error
	reload  func(context.Context) error
	log     logrus.FieldLogger
}

// NewGuard builds a guard. Nil callbacks are no-ops.
func NewGuard(nav Navigator, persist, reload func(context.Context) error, log logrus.FieldLogger) *Guard {
	noop := func(context.Context) error { return nil }
	if persist == nil {
		persist = noop
	}
	if reload == nil {
		reload = noop
	}
	return &Guard{nav: nav, persist: persist, reload: reload, log: logging.OrDiscard(log).WithField("component", "navguard")}
}

// HandleClick starts an episode when the click leaves the app.
func (g *Guard) HandleClick(ctx context.Context, target ClickTarget) (Action, error) {
	if !target.IsExternal() {
		return ActionNone, nil
	}
	return g.mark(ctx, target.Href)
}

// HandleEvent starts an episode on EventCitationClick.
func (g *Guard) HandleEvent(ctx context.Context, name, url string) (Action, error) {
	if name != EventCitationClick {
		return ActionNone, nil
	}
	return g.mark(ctx, url)
}

// HandleAttributeMutation starts an episode when AttrCitationClick is set to
// a non-empty, non-false value.
func (g *Guard) HandleAttributeMutation(ctx context.Context, attr, value, url string) (Action, error) {
	v := strings.ToLower(strings.TrimSpace(value))
	if attr != AttrCitationClick || v == "" || v == "false" {
		return ActionNone, nil
	}
	return g.mark(ctx, url)
}

func (g *Guard) mark(ctx context.Context, url string) (Action, error) {
	if err := g.nav.MarkExternalNavigation(ctx, url); err != nil {
		return ActionNone, err
	}
	g.log.WithField("url", url).Debug("external navigation pending")
	return ActionMarked, nil
}

// OnBlur persists state unless an episode is pending.
func (g *Guard) OnBlur(ctx context.Context) (Action, error) {
	pending, err := g.nav.IsNavigationPending(ctx)
	if err != nil {
		return ActionNone, err
	}
	if pending {
		return ActionSuppressed, nil
	}
	if err := g.persist(ctx); err != nil {
		return ActionNone, err
	}
	return ActionPersisted, nil
}

// OnFocus reloads state unless an episode is pending, in which case the
// episode is consumed and nothing is reloaded.
func (g *Guard) OnFocus(ctx context.Context) (Action, error) {
	pending, err := g.nav.IsNavigationPending(ctx)
	if err != nil {
		return ActionNone, err
	}
	if pending {
		if err := g.nav.Clear(ctx); err != nil {
			return ActionNone, err
		}
		g.log.Debug("focus after external navigation swallowed")
		return ActionSuppressed, nil
	}
	if err := g.reload(ctx); err != nil {
		return ActionNone, err
	}
	return ActionReloaded, nil
}

// OnVisibilityChange handles show and hide. Hiding behaves like blur. Showing
// reloads unless an episode is pending, and leaves the episode for the focus
// that follows.
func (g *Guard) OnVisibilityChange(ctx context.Context, visible bool) (Action, error) {
	if !visible {
		return g.OnBlur(ctx)
	}
	pending, err := g.nav.IsNavigationPending(ctx)
	if err != nil {
		return ActionNone, err
	}
	if pending {
		return ActionSuppressed, nil
	}
	if err := g.reload(ctx); err != nil {
		return ActionNone, err
	}
	return ActionReloaded, nil
}
