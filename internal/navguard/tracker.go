// Package navguard keeps a dashboard from reloading its state when the user
// follows an outbound citation link and comes back to the tab.
//
// An episode starts when a citation or external link is followed and ends when
// the first focus after it is processed or after the pending timeout. All
// state lives in the session store so an episode survives a restart.
package navguard

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/mohammad-safakhou/brandscope/internal/helpers"
	"github.com/mohammad-safakhou/brandscope/internal/session"
)

// DefaultPendingTimeout bounds how long an episode may stay pending.
const DefaultPendingTimeout = 5 * time.Minute

// Navigator is the capability the guard handlers depend on.
type Navigator interface {
	MarkExternalNavigation(ctx context.Context, url string) error
	IsNavigationPending(ctx context.Context) (bool, error)
	Clear(ctx context.Context) error
}

// State is the stored view of one session's episode.
type State struct {
	Pending  bool      `json:"pending"`
	URL      string    `json:"url,omitempty"`
	MarkedAt time.Time `json:"markedAt,omitempty"`
}

// Change is published to subscribers whenever an episode starts or ends.
type Change struct {
	SessionID string
	Pending   bool
	URL       string
	At        time.Time
}

// Tracker stores episodes for every session.
type Tracker struct {
	sessions session.Store
	timeout  time.Duration
	now      func() time.Time

	mu     sync.RWMutex
	nextID int
	subs   map[int]func(Change)
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// NewTracker creates a tracker over sessions. A non-positive timeout selects
// DefaultPendingTimeout.
func NewTracker(sessions session.Store, timeout time.Duration, opts ...Option) *Tracker {
	if timeout <= 0 {
		timeout = DefaultPendingTimeout
	}
	t := &Tracker{
		sessions: sessions,
		timeout:  timeout,
		now:      time.Now,
		subs:     make(map[int]func(Change)),
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Subscribe registers fn for every Change and returns a function that removes it.
func (t *Tracker) Subscribe(fn func(Change)) (unsubscribe func()) {
	t.mu.Lock()
	id := t.nextID
	t.nextID++
	t.subs[id] = fn
	t.mu.Unlock()
	return func() {
		t.mu.Lock()
		delete(t.subs, id)
		t.mu.Unlock()
	}
}

func (t *Tracker) publish(c Change) {
	t.mu.RLock()
	fns := make([]func(Change), 0, len(t.subs))
	for _, fn := range t.subs {
		fns = append(fns, fn)
	}
	t.mu.RUnlock()
	for _, fn := range fns {
		fn(c)
	}
}

// Mark starts an episode for sessionID.
func (t *Tracker) Mark(ctx context.Context, sessionID, url string) error {
	if canon, err := helpers.CanonicalURL(url); err == nil {
		url = canon
	}
	now := t.now()
	sc := session.Scope(t.sessions, sessionID)
	// a reader must never see the active flag without its timestamp
	err := sc.SetMany(ctx, map[string]string{
		session.KeyCitationLinkActive:    "true",
		session.KeyCitationLinkTimestamp: strconv.FormatInt(now.UnixMilli(), 10),
		session.KeyCitationLinkURL:       url,
		session.KeyCitationPreserving:    "true",
		session.KeyNoRerenderOnFocus:     "true",
		session.KeyPreventFirstRerender:  "true",
	})
	if err != nil {
		return err
	}
	t.publish(Change{SessionID: sessionID, Pending: true, URL: url, At: now})
	return nil
}

// State returns the episode for sessionID. An episode past the timeout is
// cleared and reported idle.
func (t *Tracker) State(ctx context.Context, sessionID string) (State, error) {
	values, err := t.sessions.All(ctx, sessionID)
	if err != nil {
		return State{}, err
	}
	if values[session.KeyCitationLinkActive] != "true" {
		return State{}, nil
	}
	ms, err := strconv.ParseInt(values[session.KeyCitationLinkTimestamp], 10, 64)
	if err != nil {
		// unreadable timestamp, treat as expired
		return State{}, t.Clear(ctx, sessionID)
	}
	marked := time.UnixMilli(ms)
	if t.now().Sub(marked) > t.timeout {
		return State{}, t.Clear(ctx, sessionID)
	}
	return State{Pending: true, URL: values[session.KeyCitationLinkURL], MarkedAt: marked}, nil
}

// Clear ends the episode for sessionID.
func (t *Tracker) Clear(ctx context.Context, sessionID string) error {
	if err := t.sessions.Delete(ctx, sessionID, session.NavigationKeys...); err != nil {
		return err
	}
	t.publish(Change{SessionID: sessionID, Pending: false, At: t.now()})
	return nil
}

// For binds the tracker to one session.
func (t *Tracker) For(sessionID string) Navigator {
	return sessionNavigator{t: t, id: sessionID}
}

type sessionNavigator struct {
	t  *Tracker
	id string
}

func (n sessionNavigator) MarkExternalNavigation(ctx context.Context, url string) error {
	return n.t.Mark(ctx, n.id, url)
}

func (n sessionNavigator) IsNavigationPending(ctx context.Context) (bool, error) {
	st, err := n.t.State(ctx, n.id)
	return st.Pending, err
}

func (n sessionNavigator) Clear(ctx context.Context) error {
	return n.t.Clear(ctx, n.id)
}
