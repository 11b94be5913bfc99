// Package analysis orchestrates a brand analysis: the nine marketing Cs, the
// insight drill-down, SWOT and brand awareness, all persisted in the session.
package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mohammad-safakhou/brandscope/internal/functions"
	"github.com/mohammad-safakhou/brandscope/internal/gateway"
	"github.com/mohammad-safakhou/brandscope/internal/llm"
	"github.com/mohammad-safakhou/brandscope/internal/logging"
	"github.com/mohammad-safakhou/brandscope/internal/session"
	"github.com/mohammad-safakhou/brandscope/internal/store"
	"github.com/sirupsen/logrus"
)

// Gateway is the request gateway as seen by the analyzer.
type Gateway interface {
	Send(ctx context.Context, messages []llm.Message, opts ...gateway.Option) (string, error)
	ClearSession(sessionID string)
	CancelSession(sessionID string) int
}

// Functions are the edge functions the analyzer calls.
type Functions interface {
	FetchLogo(ctx context.Context, brand string) (functions.Logo, error)
	SWOTAnalysis(ctx context.Context, brand string) (functions.SWOT, error)
	FetchSearchVolume(ctx context.Context, query string) ([]int, error)
}

// Archive stores finished analyses and hands back a session's newest one.
type Archive interface {
	SaveAnalysis(ctx context.Context, rec store.AnalysisRecord) (string, error)
	LatestAnalysis(ctx context.Context, sessionID string) (store.AnalysisRecord, bool, error)
}

// Request is a top-level analysis request.
type Request struct {
	Brand       string   `json:"brand"`
	Competitors []string `json:"competitors"`
	Category    string   `json:"category"`
	Country     string   `json:"country"`
}

// Normalize trims fields and drops empty or duplicate competitors.
func (r Request) Normalize() Request {
	r.Brand = strings.TrimSpace(r.Brand)
	r.Category = strings.TrimSpace(r.Category)
	r.Country = strings.TrimSpace(r.Country)
	seen := map[string]struct{}{strings.ToLower(r.Brand): {}}
	comps := make([]string, 0, len(r.Competitors))
	for _, c := range r.Competitors {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if _, dup := seen[strings.ToLower(c)]; dup {
			continue
		}
		seen[strings.ToLower(c)] = struct{}{}
		comps = append(comps, c)
	}
	r.Competitors = comps
	return r
}

// ErrBrandRequired is returned for requests without a brand.
var ErrBrandRequired = errors.New("brand is required")

// Report is the persisted analysisData document.
type Report struct {
	Brand       string          `json:"brand"`
	Competitors []string        `json:"competitors"`
	Category    string          `json:"category"`
	Country     string          `json:"country"`
	Logo        *functions.Logo `json:"logo,omitempty"`
	MarketingCs State           `json:"marketingCs"`
	CreatedAt   time.Time       `json:"createdAt"`
	ArchiveID   string          `json:"archiveId,omitempty"`
}

// Config tunes the analyzer.
type Config struct {
	DetailStagger time.Duration
}

// Analyzer runs analyses for sessions.
type Analyzer struct {
	gw       Gateway
	fn       Functions
	sessions session.Store
	archive  Archive
	stagger  time.Duration
	log      logrus.FieldLogger
	now      func() time.Time
}

// New wires an analyzer. fn and archive may be nil; the features that need
// them then fail or are skipped.
func New(gw Gateway, fn Functions, sessions session.Store, archive Archive, cfg Config, log logrus.FieldLogger) *Analyzer {
	if cfg.DetailStagger < 0 {
		cfg.DetailStagger = 0
	}
	return &Analyzer{
		gw:       gw,
		fn:       fn,
		sessions: sessions,
		archive:  archive,
		stagger:  cfg.DetailStagger,
		log:      logging.OrDiscard(log).WithField("component", "analysis"),
		now:      time.Now,
	}
}

// Run performs a full analysis for req and stores it in the session.
func (a *Analyzer) Run(ctx context.Context, sessionID string, req Request) (*Report, error) {
	req = req.Normalize()
	if req.Brand == "" {
		return nil, ErrBrandRequired
	}

	ctx = gateway.WithSession(ctx, sessionID)
	a.gw.ClearSession(sessionID)
	if n := a.gw.CancelSession(sessionID); n > 0 {
		a.log.WithField("cancelled", n).Debug("cancelled requests from previous analysis")
	}

	sc := session.Scope(a.sessions, sessionID)
	started := a.now().UTC()
	if err := a.markSession(ctx, sc, req, started); err != nil {
		return nil, err
	}

	log := a.log.WithFields(logrus.Fields{"session": sessionID, "brand": req.Brand})
	logo := make(chan *functions.Logo, 1)
	go func() { logo <- a.fetchLogo(ctx, req.Brand, log) }()

	raw, err := a.gw.Send(ctx, []llm.Message{
		llm.System(systemPrompt),
		llm.User(analysisPrompt(req)),
	})
	if err != nil {
		return nil, err
	}
	state, err := ParseState(raw)
	if err != nil {
		log.WithError(err).WithField("payload", raw).Warn("analysis response rejected")
		return nil, err
	}

	report := &Report{
		Brand:       req.Brand,
		Competitors: req.Competitors,
		Category:    req.Category,
		Country:     req.Country,
		Logo:        <-logo,
		MarketingCs: state,
		CreatedAt:   started,
	}
	if a.archive != nil {
		payload, err := json.Marshal(report)
		if err != nil {
			return nil, fmt.Errorf("encode analysis: %w", err)
		}
		id, err := a.archive.SaveAnalysis(ctx, store.AnalysisRecord{
			SessionID:   sessionID,
			Brand:       req.Brand,
			Competitors: req.Competitors,
			Category:    req.Category,
			Country:     req.Country,
			Payload:     payload,
			CreatedAt:   started,
		})
		if err != nil {
			log.WithError(err).Warn("archive analysis failed")
		}
		report.ArchiveID = id
	}
	if err := sc.SetJSON(ctx, session.KeyAnalysisData, report); err != nil {
		return nil, fmt.Errorf("persist analysis: %w", err)
	}
	log.WithField("categories", len(state)).Info("analysis complete")
	return report, nil
}

// fetchLogo returns nil when functions are disabled or the fetch failed.
func (a *Analyzer) fetchLogo(ctx context.Context, brand string, log logrus.FieldLogger) *functions.Logo {
	if a.fn == nil {
		return nil
	}
	logo, err := a.fn.FetchLogo(ctx, brand)
	if err != nil {
		if ctx.Err() == nil {
			log.WithError(err).Warn("logo fetch failed")
		}
		return nil
	}
	return &logo
}

func (a *Analyzer) markSession(ctx context.Context, sc session.Scoped, req Request, at time.Time) error {
	comps, err := json.Marshal(req.Competitors)
	if err != nil {
		return err
	}
	err = sc.SetMany(ctx, map[string]string{
		session.KeyActiveAnalysis:     "true",
		session.KeyAnalysisTimestamp:  strconv.FormatInt(at.UnixMilli(), 10),
		session.KeyCurrentBrand:       req.Brand,
		session.KeyCurrentCompetitors: string(comps),
		session.KeyCompetitors:        strings.Join(req.Competitors, ", "),
		session.KeyCategory:           req.Category,
		session.KeyCountry:            req.Country,
	})
	if err != nil {
		return fmt.Errorf("persist analysis request: %w", err)
	}
	return nil
}

const systemPrompt = "You are a senior brand strategist. Answer with a single JSON object and no prose. Cite sources inline as [n](url)."

func analysisPrompt(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Analyse the brand %q", req.Brand)
	if req.Category != "" {
		fmt.Fprintf(&b, " in the %s category", req.Category)
	}
	if req.Country != "" {
		fmt.Fprintf(&b, " for the %s market", req.Country)
	}
	if len(req.Competitors) > 0 {
		fmt.Fprintf(&b, ", compared with %s", strings.Join(req.Competitors, ", "))
	}
	b.WriteString(".\nReturn a JSON object with exactly these keys: ")
	b.WriteString(strings.Join(CategoryKeys, ", "))
	b.WriteString(`.
Each value must be {"title": string, "topics": [{"headline": string, "insights": [string, ...]}]} with 2 to 4 topics.`)
	return b.String()
}
