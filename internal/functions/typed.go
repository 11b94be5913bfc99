package functions

import (
	"context"
	"fmt"
	"strings"

	"github.com/mohammad-safakhou/brandscope/internal/llm"
)

// SearchVolumePoints is the number of monthly points fetch-search-volume returns.
const SearchVolumePoints = 24

// Logo is a brand logo inlined as a data URI.
type Logo struct {
	URL  string `json:"url"`
	Type string `json:"type"`
}

// FetchLogo resolves brand's logo.
func (c *Invoker) FetchLogo(ctx context.Context, brand string) (Logo, error) {
	var out struct {
		Logo
		Data string `json:"logo"`
	}
	if err := c.Invoke(ctx, FetchLogoFn, map[string]string{"brand": brand}, &out); err != nil {
		return Logo{}, err
	}
	logo := out.Logo
	if logo.URL == "" {
		logo.URL = out.Data
	}
	if !strings.HasPrefix(logo.URL, "data:") && !strings.HasPrefix(logo.URL, "http") {
		return Logo{}, fmt.Errorf("%w: %s: missing logo url", ErrMalformed, FetchLogoFn)
	}
	if logo.Type == "" && strings.HasPrefix(logo.URL, "data:") {
		if i := strings.IndexAny(logo.URL, ";,"); i > len("data:") {
			logo.Type = logo.URL[len("data:"):i]
		}
	}
	return logo, nil
}

// FetchSearchVolume returns SearchVolumePoints monthly search volumes for query,
// oldest first.
func (c *Invoker) FetchSearchVolume(ctx context.Context, query string) ([]int, error) {
	var out struct {
		SearchVolume []int `json:"searchVolume"`
		Data         []int `json:"data"`
	}
	if err := c.Invoke(ctx, FetchSearchVolumeFn, map[string]string{"query": query}, &out); err != nil {
		return nil, err
	}
	points := out.SearchVolume
	if points == nil {
		points = out.Data
	}
	if len(points) != SearchVolumePoints {
		return nil, fmt.Errorf("%w: %s: expected %d points, got %d", ErrMalformed, FetchSearchVolumeFn, SearchVolumePoints, len(points))
	}
	return points, nil
}

// SWOT is a four-quadrant SWOT analysis.
type SWOT struct {
	Strengths     []string `json:"strengths"`
	Weaknesses    []string `json:"weaknesses"`
	Opportunities []string `json:"opportunities"`
	Threats       []string `json:"threats"`
}

// Validate requires every quadrant to be populated.
func (s SWOT) Validate() error {
	quadrants := map[string][]string{
		"strengths":     s.Strengths,
		"weaknesses":    s.Weaknesses,
		"opportunities": s.Opportunities,
		"threats":       s.Threats,
	}
	for name, q := range quadrants {
		if len(q) == 0 {
			return fmt.Errorf("%w: swot quadrant %s is empty", ErrMalformed, name)
		}
	}
	return nil
}

// SWOTAnalysis runs the SWOT function for brand.
func (c *Invoker) SWOTAnalysis(ctx context.Context, brand string) (SWOT, error) {
	var out SWOT
	if err := c.Invoke(ctx, SWOTAnalysisFn, map[string]string{"brand": brand}, &out); err != nil {
		return SWOT{}, err
	}
	if err := out.Validate(); err != nil {
		return SWOT{}, err
	}
	return out, nil
}

// Completer sends chat completions through the perplexity function.
type Completer struct {
	inv *Invoker
}

func NewCompleter(inv *Invoker) *Completer { return &Completer{inv: inv} }

func (c *Completer) Complete(ctx context.Context, messages []llm.Message) (llm.Response, error) {
	var out llm.Response
	err := c.inv.Invoke(ctx, PerplexityFn, map[string]any{"messages": messages}, &out)
	return out, err
}
