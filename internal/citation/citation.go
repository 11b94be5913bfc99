// Package citation turns freeform model output into ordered text, citation and
// header segments. Parsing is pure: the same input always yields the same
// segments and no I/O happens.
package citation

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Kind tags a Segment.
type Kind string

const (
	KindText     Kind = "text"
	KindCitation Kind = "citation"
	KindHeader   Kind = "header"
)

// PlaceholderPrefix marks citation URLs synthesised for numbers without a source.
const PlaceholderPrefix = "https://example.com/citation/"

// Segment is one piece of rendered output. Content is set for text and header
// segments, Number and URL for citations.
type Segment struct {
	Type    Kind   `json:"type"`
	Content string `json:"content,omitempty"`
	Number  int    `json:"number,omitempty"`
	URL     string `json:"url,omitempty"`
}

// Text builds a text segment.
func Text(s string) Segment { return Segment{Type: KindText, Content: s} }

// Header builds a header segment.
func Header(s string) Segment { return Segment{Type: KindHeader, Content: s} }

// Cite builds a citation segment.
func Cite(n int, url string) Segment { return Segment{Type: KindCitation, Number: n, URL: url} }

// PlaceholderURL returns the synthetic URL used for citation n.
func PlaceholderURL(n int) string { return fmt.Sprintf("%s%d", PlaceholderPrefix, n) }

// IsPlaceholderURL reports whether url has no real source behind it; renderers
// should not offer a link for it.
func IsPlaceholderURL(url string) bool { return strings.HasPrefix(url, PlaceholderPrefix) }

// Strategy is one way of reading citations out of text. TryParse returns nil
// when the text does not have the shape the strategy understands.
type Strategy interface {
	Name() string
	TryParse(text string) []Segment
}

// Parser tries its strategies in order and falls back to a single text segment.
type Parser struct {
	strategies []Strategy
}

// NewParser builds a parser over an explicit strategy list.
func NewParser(strategies ...Strategy) *Parser {
	return &Parser{strategies: strategies}
}

// DefaultStrategies is the production chain: inline [n](url) citations, a
// separate sources block, bare [n] markers matched to nearby URLs, then bare URLs.
func DefaultStrategies() []Strategy {
	return []Strategy{Inline{}, SourcesBlock{}, NearbyURL{}, BareURL{}}
}

var defaultParser = NewParser(DefaultStrategies()...)

// Parse runs the default strategy chain over text.
func Parse(text string) []Segment { return defaultParser.Parse(text) }

// Parse returns the segments of the first strategy that matches.
func (p *Parser) Parse(text string) []Segment {
	segs, _ := p.ParseWithStrategy(text)
	return segs
}

// ParseWithStrategy is Parse that also reports which strategy matched
// ("plain" when none did).
func (p *Parser) ParseWithStrategy(text string) ([]Segment, string) {
	if strings.TrimSpace(text) == "" {
		return nil, "plain"
	}
	for _, s := range p.strategies {
		if segs := s.TryParse(text); segs != nil {
			return compact(segs), s.Name()
		}
	}
	return compact([]Segment{Text(text)}), "plain"
}

var boldRe = regexp.MustCompile(`\*\*([^*\n]+)\*\*`)

// ParseInsight lifts **bold** markers into header segments and parses the
// text around them for citations.
func ParseInsight(text string) []Segment {
	var out []Segment
	last := 0
	for _, m := range boldRe.FindAllStringSubmatchIndex(text, -1) {
		out = append(out, Parse(text[last:m[0]])...)
		out = append(out, Header(strings.TrimSpace(text[m[2]:m[3]])))
		last = m[1]
	}
	out = append(out, Parse(text[last:])...)
	return compact(out)
}

// Render writes segments back out as markdown-ish text: citations as [n](url)
// and headers as **header**.
func Render(segs []Segment) string {
	var b strings.Builder
	for _, s := range segs {
		switch s.Type {
		case KindCitation:
			fmt.Fprintf(&b, "[%d](%s)", s.Number, s.URL)
		case KindHeader:
			b.WriteString("**" + s.Content + "**")
		default:
			b.WriteString(s.Content)
		}
	}
	return b.String()
}

// Citations lists the distinct citations with a real URL, in first-seen order.
func Citations(segs []Segment) []Segment {
	seen := make(map[string]struct{})
	var out []Segment
	for _, s := range segs {
		if s.Type != KindCitation || IsPlaceholderURL(s.URL) {
			continue
		}
		key := strconv.Itoa(s.Number) + "|" + s.URL
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, s)
	}
	return out
}

// compact drops empty and whitespace-only text segments.
func compact(segs []Segment) []Segment {
	out := segs[:0:0]
	for _, s := range segs {
		if s.Type == KindText && strings.TrimSpace(s.Content) == "" {
			continue
		}
		out = append(out, s)
	}
	return out
}
