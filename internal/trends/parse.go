// Package trends parses the category header and trend list the model returns
// for a brand and keeps the result in the session.
package trends

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// LineCount is the fixed size of a parsed trends response: the category line
// followed by TrendCount trends.
const (
	LineCount  = 9
	TrendCount = LineCount - 1
)

// PlaceholderTrend pads responses with fewer than TrendCount usable trends.
const PlaceholderTrend = "Additional trend insight unavailable for this period."

// CategoryInfo is the parsed category header.
type CategoryInfo struct {
	Primary string   `json:"primary"`
	Related []string `json:"related"`
}

var (
	primaryRe  = regexp.MustCompile(`(?i)\bCATEGORY:\s*(.*?)\s*(?:\.|\bRELATED\b|$)`)
	relatedRe  = regexp.MustCompile(`(?i)\bRELATED CATEGORIES:\s*([^.\n]*)`)
	bulletRe   = regexp.MustCompile(`^\s*(?:[-*•]+|\d+[.)])\s*`)
	primaryTag = regexp.MustCompile(`(?i)PRIMARY\s+CATEGORY`)
	categoryRe = regexp.MustCompile(`(?i)\bCATEGORY:`)
)

// ParseCategoryLine reads "CATEGORY: x. RELATED CATEGORIES: a, b". Anything it
// cannot read yields an empty primary and no related categories.
func ParseCategoryLine(line string) CategoryInfo {
	info := CategoryInfo{Related: []string{}}
	line = primaryTag.ReplaceAllString(line, "CATEGORY")
	if m := primaryRe.FindStringSubmatch(line); m != nil {
		info.Primary = strings.TrimSpace(m[1])
	}
	if m := relatedRe.FindStringSubmatch(line); m != nil {
		for _, part := range strings.Split(m[1], ",") {
			if p := strings.TrimSpace(part); p != "" {
				info.Related = append(info.Related, p)
			}
		}
	}
	return info
}

// FormatCategoryLine is the inverse of ParseCategoryLine.
func FormatCategoryLine(info CategoryInfo) string {
	line := "CATEGORY: " + info.Primary + "."
	if len(info.Related) > 0 {
		line += " RELATED CATEGORIES: " + strings.Join(info.Related, ", ")
	}
	return line
}

// DefaultCategoryLine is used when the model omitted the category header.
func DefaultCategoryLine(category string) string {
	if strings.TrimSpace(category) == "" {
		category = "General Consumer Market"
	}
	return FormatCategoryLine(CategoryInfo{
		Primary: category,
		Related: []string{"Consumer Behavior", "Market Trends", "Industry Analysis"},
	})
}

// Parsed is a normalised trends response.
type Parsed struct {
	Lines []string
	// CategorySynthesized is set when line 0 came from DefaultCategoryLine.
	CategorySynthesized bool
	// Padded counts placeholder trends.
	Padded int
}

// Synthesized is the number of lines the model did not provide.
func (p Parsed) Synthesized() int {
	n := p.Padded
	if p.CategorySynthesized {
		n++
	}
	return n
}

// ParseTrendsResponse normalises raw model output into exactly LineCount lines.
func ParseTrendsResponse(raw string) []string {
	return Parse(raw, "").Lines
}

// Parse is ParseTrendsResponse with a category to fall back on and a report of
// how much of the output was synthesised.
func Parse(raw, category string) Parsed {
	var (
		catLine string
		trends  []string
	)
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(bulletRe.ReplaceAllString(line, ""))
		line = strings.TrimSpace(strings.ReplaceAll(line, "**", ""))
		if line == "" {
			continue
		}
		line = primaryTag.ReplaceAllString(line, "CATEGORY")
		if catLine == "" && categoryRe.MatchString(line) {
			catLine = line
			continue
		}
		if isHeaderLike(line) {
			continue
		}
		trends = append(trends, line)
	}

	out := Parsed{Lines: make([]string, 0, LineCount)}
	if catLine == "" || ParseCategoryLine(catLine).Primary == "" {
		catLine = DefaultCategoryLine(category)
		out.CategorySynthesized = true
	}
	out.Lines = append(out.Lines, catLine)

	if len(trends) > TrendCount {
		trends = trends[:TrendCount]
	}
	out.Lines = append(out.Lines, trends...)
	for len(out.Lines) < LineCount {
		out.Lines = append(out.Lines, PlaceholderTrend)
		out.Padded++
	}
	return out
}

// isHeaderLike rejects section titles: all-caps lines and anything shorter
// than ten characters.
func isHeaderLike(line string) bool {
	if utf8.RuneCountInString(line) < 10 {
		return true
	}
	hasLetter := false
	for _, r := range line {
		if unicode.IsLetter(r) {
			hasLetter = true
			if unicode.IsLower(r) {
				return false
			}
		}
	}
	return hasLetter
}

// Prompt builds the trends request for brand.
func Prompt(brand, category, country string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Identify the primary market category for the brand %q", brand)
	if category != "" {
		fmt.Fprintf(&b, " (the user describes it as %q)", category)
	}
	if country != "" {
		fmt.Fprintf(&b, " in %s", country)
	}
	b.WriteString(".\nStart with one line in the form: CATEGORY: <primary category>. RELATED CATEGORIES: <comma separated list>\n")
	fmt.Fprintf(&b, "Then list exactly %d current market trends for that category, one per line, each a complete sentence.", TrendCount)
	return b.String()
}
