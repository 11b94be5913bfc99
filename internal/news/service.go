package news

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mohammad-safakhou/brandscope/internal/gateway"
	"github.com/mohammad-safakhou/brandscope/internal/helpers"
	"github.com/mohammad-safakhou/brandscope/internal/logging"
	"github.com/mohammad-safakhou/brandscope/internal/session"
	"github.com/sirupsen/logrus"
)

// Service combines the feed and the model supplement into the session's
// currentNewsItems.
type Service struct {
	feed       Source
	supplement Source
	sessions   session.Store
	maxItems   int
	log        logrus.FieldLogger
}

// NewService wires a news service. supplement may be nil.
func NewService(feed, supplement Source, sessions session.Store, maxItems int, log logrus.FieldLogger) *Service {
	if maxItems <= 0 {
		maxItems = 20
	}
	return &Service{
		feed:       feed,
		supplement: supplement,
		sessions:   sessions,
		maxItems:   maxItems,
		log:        logging.OrDiscard(log).WithField("component", "news"),
	}
}

// Refresh fetches news for brand, dedupes it at every merge and stores the
// result in the session. It fails only when every source failed.
func (s *Service) Refresh(ctx context.Context, sessionID, brand string) ([]Item, error) {
	brand = strings.TrimSpace(brand)
	if brand == "" {
		return nil, errors.New("brand is required")
	}

	var errs []error
	var items []Item
	if s.feed != nil {
		fetched, err := s.feed.Fetch(ctx, brand)
		if err != nil {
			s.log.WithError(err).WithField("brand", brand).Warn("news feed failed")
			errs = append(errs, err)
		}
		items = Dedupe(fetched)
	}
	if s.supplement != nil {
		extra, err := s.supplement.Fetch(gateway.WithSession(ctx, sessionID), brand)
		switch {
		case gateway.IsCancelled(err):
			return nil, err
		case err != nil:
			s.log.WithError(err).WithField("brand", brand).Warn("news supplement failed")
			errs = append(errs, err)
		}
		items = Dedupe(append(items, extra...))
	}
	if len(items) == 0 && len(errs) > 0 {
		return nil, fmt.Errorf("refresh news: %w", errors.Join(errs...))
	}

	for i := range items {
		items[i].Title = helpers.SanitizeHTMLStrict(items[i].Title)
	}
	items = Dedupe(items)
	if len(items) > s.maxItems {
		items = items[:s.maxItems]
	}

	if sessionID != "" && s.sessions != nil {
		if err := session.Scope(s.sessions, sessionID).SetJSON(ctx, session.KeyCurrentNewsItems, items); err != nil {
			return items, fmt.Errorf("persist news: %w", err)
		}
	}
	return items, nil
}

// Load returns the news stored in the session, deduped on the way out.
func Load(ctx context.Context, sessions session.Store, sessionID string) ([]Item, error) {
	raw, ok, err := session.Scope(sessions, sessionID).Lookup(ctx, session.KeyCurrentNewsItems)
	if err != nil {
		return nil, err
	}
	if !ok {
		return []Item{}, nil
	}
	return DedupeJSON([]byte(raw)), nil
}
