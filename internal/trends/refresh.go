package trends

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/mohammad-safakhou/brandscope/internal/gateway"
	"github.com/mohammad-safakhou/brandscope/internal/helpers"
	"github.com/mohammad-safakhou/brandscope/internal/llm"
	"github.com/mohammad-safakhou/brandscope/internal/logging"
	"github.com/mohammad-safakhou/brandscope/internal/session"
	"github.com/sirupsen/logrus"
)

// ErrRefreshInProgress is returned when a refresh is requested while another
// one is running.
var ErrRefreshInProgress = errors.New("trend refresh already in progress")

// Sender is the part of the gateway the refresher needs.
type Sender interface {
	Send(ctx context.Context, messages []llm.Message, opts ...gateway.Option) (string, error)
}

// SnapshotArchive stores refreshed trends outside the session.
type SnapshotArchive interface {
	SaveTrendSnapshot(ctx context.Context, brand string, lines []string) error
}

// Request identifies what to refresh.
type Request struct {
	Brand    string
	Category string
	Country  string
}

// Result is one completed refresh.
type Result struct {
	Brand       string       `json:"brand"`
	Lines       []string     `json:"lines"`
	Category    CategoryInfo `json:"category"`
	Synthesized int          `json:"synthesized"`
	RefreshedAt time.Time    `json:"refreshedAt"`
}

// Refresher runs prompt, model call, parse and persist strictly in sequence
// and allows one refresh at a time.
type Refresher struct {
	sender   Sender
	sessions session.Store
	archive  SnapshotArchive
	log      logrus.FieldLogger
	running  atomic.Bool
}

// NewRefresher wires a refresher. sessions and archive may be nil.
func NewRefresher(sender Sender, sessions session.Store, archive SnapshotArchive, log logrus.FieldLogger) *Refresher {
	return &Refresher{
		sender:   sender,
		sessions: sessions,
		archive:  archive,
		log:      logging.OrDiscard(log).WithField("component", "trends"),
	}
}

// Running reports whether a refresh is in progress.
func (r *Refresher) Running() bool { return r.running.Load() }

// Refresh fetches and parses trends for req.Brand. With a sessionID the
// result is stored as currentTrends/currentTrendsBrand.
func (r *Refresher) Refresh(ctx context.Context, sessionID string, req Request) (Result, error) {
	brand := strings.TrimSpace(req.Brand)
	if brand == "" {
		return Result{}, errors.New("brand is required")
	}
	if !r.running.CompareAndSwap(false, true) {
		return Result{}, ErrRefreshInProgress
	}
	defer r.running.Store(false)

	msgs := []llm.Message{
		llm.System("You are a market research analyst. Be precise and concise."),
		llm.User(Prompt(brand, req.Category, req.Country)),
	}
	raw, err := r.sender.Send(gateway.WithSession(ctx, sessionID), msgs,
		gateway.WithCacheKey("trends:"+strings.ToLower(brand)),
		gateway.WithCache(false),
	)
	if err != nil {
		return Result{}, err
	}

	// markup is stripped before parsing so the padding still yields nine lines
	clean := strings.Join(helpers.SanitizeLines(strings.Split(raw, "\n")), "\n")
	parsed := Parse(clean, req.Category)
	res := Result{
		Brand:       brand,
		Lines:       parsed.Lines,
		Category:    ParseCategoryLine(parsed.Lines[0]),
		Synthesized: parsed.Synthesized(),
		RefreshedAt: time.Now().UTC(),
	}
	if res.Synthesized > 0 {
		r.log.WithFields(logrus.Fields{
			"brand":       brand,
			"synthesized": res.Synthesized,
			"payload":     raw,
		}).Warn("trends response incomplete, padded with placeholders")
	}

	if sessionID != "" && r.sessions != nil {
		lines, err := json.Marshal(res.Lines)
		if err != nil {
			return res, fmt.Errorf("encode trends: %w", err)
		}
		err = session.Scope(r.sessions, sessionID).SetMany(ctx, map[string]string{
			session.KeyCurrentTrends:      string(lines),
			session.KeyCurrentTrendsBrand: brand,
		})
		if err != nil {
			return res, fmt.Errorf("persist trends: %w", err)
		}
	}
	if r.archive != nil {
		if err := r.archive.SaveTrendSnapshot(ctx, brand, res.Lines); err != nil {
			r.log.WithError(err).WithField("brand", brand).Warn("archive trend snapshot failed")
		}
	}
	return res, nil
}

// Load returns the trends stored in a session. ok is false when the session
// has none.
func Load(ctx context.Context, sessions session.Store, sessionID string) (brand string, lines []string, ok bool, err error) {
	sc := session.Scope(sessions, sessionID)
	if err := sc.GetJSON(ctx, session.KeyCurrentTrends, &lines); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return "", nil, false, nil
		}
		return "", nil, false, err
	}
	brand, _, err = sc.Lookup(ctx, session.KeyCurrentTrendsBrand)
	if err != nil {
		return "", nil, false, err
	}
	return brand, lines, true, nil
}
