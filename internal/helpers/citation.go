package helpers

import (
	"fmt"
	"strings"

	"github.com/mohammad-safakhou/brandscope/internal/citation"
)

// FormatCitations renders one footnote per distinct real citation:
// [n] domain <url>.
func FormatCitations(segs []citation.Segment) []string {
	cites := citation.Citations(segs)
	if len(cites) == 0 {
		return nil
	}
	out := make([]string, 0, len(cites))
	for _, c := range cites {
		line := fmt.Sprintf("[%d]", c.Number)
		if d := Domain(c.URL); d != "" {
			line += " " + d
		}
		out = append(out, line+" <"+c.URL+">")
	}
	return out
}

// PlainWithMarkers flattens segments for terminals: citations become [n],
// headers get their own line.
func PlainWithMarkers(segs []citation.Segment) string {
	var b strings.Builder
	for _, s := range segs {
		switch s.Type {
		case citation.KindCitation:
			fmt.Fprintf(&b, "[%d]", s.Number)
		case citation.KindHeader:
			if b.Len() > 0 {
				b.WriteString("\n")
			}
			b.WriteString(strings.ToUpper(s.Content))
			b.WriteString("\n")
		default:
			b.WriteString(s.Content)
		}
	}
	return strings.TrimSpace(b.String())
}
