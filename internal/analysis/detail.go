package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mohammad-safakhou/brandscope/internal/citation"
	"github.com/mohammad-safakhou/brandscope/internal/functions"
	"github.com/mohammad-safakhou/brandscope/internal/gateway"
	"github.com/mohammad-safakhou/brandscope/internal/llm"
	"github.com/mohammad-safakhou/brandscope/internal/news"
	"github.com/mohammad-safakhou/brandscope/internal/session"
	"github.com/mohammad-safakhou/brandscope/internal/trends"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Aspects are the sections of an insight drill-down, fetched in parallel.
var Aspects = []string{"overview", "evidence", "examples", "recommendations"}

// Section is one parsed aspect of a drill-down.
type Section struct {
	Aspect   string             `json:"aspect"`
	Segments []citation.Segment `json:"segments"`
}

// Detail is the drill-down for one headline, stored as currentBrandContent.
type Detail struct {
	Brand     string    `json:"brand"`
	Category  string    `json:"category"`
	Headline  string    `json:"headline"`
	Sections  []Section `json:"sections"`
	CreatedAt time.Time `json:"createdAt"`
}

// InsightDetail expands headline into one section per aspect. Requests are
// started stagger apart and share the caller's context, so cancelling it
// stops the whole fan-out.
func (a *Analyzer) InsightDetail(ctx context.Context, sessionID, brand, category, headline string) (*Detail, error) {
	brand, headline = strings.TrimSpace(brand), strings.TrimSpace(headline)
	if brand == "" {
		return nil, ErrBrandRequired
	}
	if headline == "" {
		return nil, errors.New("headline is required")
	}

	sections := make([]Section, len(Aspects))
	g, gctx := errgroup.WithContext(gateway.WithSession(ctx, sessionID))
	for i, aspect := range Aspects {
		i, aspect := i, aspect
		g.Go(func() error {
			if err := sleepCtx(gctx, time.Duration(i)*a.stagger); err != nil {
				return err
			}
			raw, err := a.gw.Send(gctx, []llm.Message{
				llm.System("You are a senior brand strategist. Cite sources inline as [n](url)."),
				llm.User(detailPrompt(brand, category, headline, aspect)),
			}, gateway.WithCacheKey(detailCacheKey(brand, category, headline, aspect)))
			if err != nil {
				return fmt.Errorf("%s: %w", aspect, err)
			}
			sections[i] = Section{Aspect: aspect, Segments: citation.ParseInsight(raw)}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	d := &Detail{
		Brand:     brand,
		Category:  category,
		Headline:  headline,
		Sections:  sections,
		CreatedAt: a.now().UTC(),
	}
	if err := session.Scope(a.sessions, sessionID).SetJSON(ctx, session.KeyCurrentBrandContent, d); err != nil {
		return nil, fmt.Errorf("persist detail: %w", err)
	}
	return d, nil
}

func detailCacheKey(brand, category, headline, aspect string) string {
	return strings.ToLower(strings.Join([]string{"detail", brand, category, headline, aspect}, ":"))
}

func detailPrompt(brand, category, headline, aspect string) string {
	return fmt.Sprintf("For the brand %q, marketing area %q, insight %q: write the %s in two short paragraphs. "+
		"Start each paragraph with a **bold** lead phrase.", brand, category, headline, aspect)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// ErrFunctionsDisabled is returned when no functions endpoint is configured.
var ErrFunctionsDisabled = errors.New("functions endpoint not configured")

// SWOT fetches the SWOT analysis for brand and stores it in the session.
func (a *Analyzer) SWOT(ctx context.Context, sessionID, brand string) (functions.SWOT, error) {
	brand = strings.TrimSpace(brand)
	if brand == "" {
		return functions.SWOT{}, ErrBrandRequired
	}
	if a.fn == nil {
		return functions.SWOT{}, ErrFunctionsDisabled
	}
	swot, err := a.fn.SWOTAnalysis(ctx, brand)
	if err != nil {
		return functions.SWOT{}, err
	}
	if err := session.Scope(a.sessions, sessionID).SetJSON(ctx, session.KeySWOTAnalysis, swot); err != nil {
		return functions.SWOT{}, fmt.Errorf("persist swot: %w", err)
	}
	return swot, nil
}

// Awareness is monthly search volume for a brand and its competitors.
type Awareness struct {
	Months []string         `json:"months"`
	Series map[string][]int `json:"series"`
}

// Awareness fetches search volume for every brand with at most four requests
// in flight.
func (a *Analyzer) Awareness(ctx context.Context, brand string, competitors []string) (*Awareness, error) {
	req := Request{Brand: brand, Competitors: competitors}.Normalize()
	if req.Brand == "" {
		return nil, ErrBrandRequired
	}
	if a.fn == nil {
		return nil, ErrFunctionsDisabled
	}
	names := append([]string{req.Brand}, req.Competitors...)
	series := make([][]int, len(names))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, name := range names {
		i, name := i, name
		g.Go(func() error {
			points, err := a.fn.FetchSearchVolume(gctx, name)
			if err != nil {
				return fmt.Errorf("search volume %s: %w", name, err)
			}
			series[i] = points
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := &Awareness{Months: monthLabels(a.now(), functions.SearchVolumePoints), Series: make(map[string][]int, len(names))}
	for i, name := range names {
		out.Series[name] = series[i]
	}
	return out, nil
}

// monthLabels returns n "Jan 06" labels ending with the month of now.
func monthLabels(now time.Time, n int) []string {
	first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	labels := make([]string, n)
	for i := 0; i < n; i++ {
		labels[i] = first.AddDate(0, i-n+1, 0).Format("Jan 06")
	}
	return labels
}

// Snapshot is everything a session has accumulated, as restored on reload.
type Snapshot struct {
	Report      *Report         `json:"analysis,omitempty"`
	SWOT        *functions.SWOT `json:"swot,omitempty"`
	Detail      *Detail         `json:"detail,omitempty"`
	News        []news.Item     `json:"news"`
	TrendsBrand string          `json:"trendsBrand,omitempty"`
	Trends      []string        `json:"trends,omitempty"`
	Active      bool            `json:"active"`
}

// Load restores a session. Missing keys leave their field empty and
// unreadable values are logged and skipped. Without analysisData the session's
// newest archived analysis is restored instead.
func (a *Analyzer) Load(ctx context.Context, sessionID string) (*Snapshot, error) {
	sc := session.Scope(a.sessions, sessionID)
	log := a.log.WithField("session", sessionID)
	snap := &Snapshot{}

	var report Report
	if ok, err := loadJSON(ctx, sc, session.KeyAnalysisData, &report, log); err != nil {
		return nil, err
	} else if ok {
		snap.Report = &report
	} else {
		snap.Report = a.restoreArchived(ctx, sc, log)
	}
	var swot functions.SWOT
	if ok, err := loadJSON(ctx, sc, session.KeySWOTAnalysis, &swot, log); err != nil {
		return nil, err
	} else if ok {
		snap.SWOT = &swot
	}
	var detail Detail
	if ok, err := loadJSON(ctx, sc, session.KeyCurrentBrandContent, &detail, log); err != nil {
		return nil, err
	} else if ok {
		snap.Detail = &detail
	}

	items, err := news.Load(ctx, a.sessions, sessionID)
	if err != nil {
		return nil, err
	}
	snap.News = items

	brand, lines, ok, err := trends.Load(ctx, a.sessions, sessionID)
	switch {
	case isDecodeError(err):
		log.WithError(err).Warn("discarding unreadable trends")
	case err != nil:
		return nil, err
	case ok:
		snap.TrendsBrand, snap.Trends = brand, lines
	}

	active, _, err := sc.Lookup(ctx, session.KeyActiveAnalysis)
	if err != nil {
		return nil, err
	}
	snap.Active = active == "true"
	return snap, nil
}

// restoreArchived brings back the session's newest archived analysis when the
// session store lost it, and writes it back as analysisData.
func (a *Analyzer) restoreArchived(ctx context.Context, sc session.Scoped, log logrus.FieldLogger) *Report {
	if a.archive == nil {
		return nil
	}
	rec, ok, err := a.archive.LatestAnalysis(ctx, sc.ID())
	if err != nil {
		log.WithError(err).Warn("archive lookup failed")
		return nil
	}
	if !ok {
		return nil
	}
	var report Report
	if err := json.Unmarshal(rec.Payload, &report); err != nil {
		log.WithError(err).WithField("archive_id", rec.ID).Warn("discarding unreadable archived analysis")
		return nil
	}
	if report.ArchiveID == "" {
		report.ArchiveID = rec.ID
	}
	if err := sc.SetJSON(ctx, session.KeyAnalysisData, &report); err != nil {
		log.WithError(err).Warn("restore analysis into session failed")
	}
	return &report
}

func isDecodeError(err error) bool {
	var syntax *json.SyntaxError
	var typ *json.UnmarshalTypeError
	return errors.As(err, &syntax) || errors.As(err, &typ)
}

func loadJSON(ctx context.Context, sc session.Scoped, key string, v any, log logrus.FieldLogger) (bool, error) {
	err := sc.GetJSON(ctx, key, v)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, session.ErrNotFound):
		return false, nil
	case isDecodeError(err):
		log.WithError(err).WithField("key", key).Warn("discarding unreadable session value")
		return false, nil
	default:
		return false, err
	}
}
