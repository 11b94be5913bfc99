package citation

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

var (
	inlineRe     = regexp.MustCompile(`\[(\d+)\]\((https?://[^\s)]+)\)`)
	numberRe     = regexp.MustCompile(`\[(\d+)\]`)
	urlRe        = regexp.MustCompile(`https?://[^\s<>"'\])]+`)
	linkOrURLRe  = regexp.MustCompile(`\[([^\]\n]+)\]\((https?://[^\s)]+)\)|https?://[^\s<>"'\])]+`)
	paragraphRe  = regexp.MustCompile(`\n[ \t]*\n`)
	sourcesRe    = regexp.MustCompile(`(?i)^\s*(?:#+\s*)?(?:\*\*)?(?:sources|references|citations)\b`)
	sourcePairRe = regexp.MustCompile(`\[(\d+)\][:\s-]*\(?<?(https?://[^\s)>\]]+)`)
	numberedRe   = regexp.MustCompile(`(?m)^\s*(\d+)[.)]\s+[^\n]*?(https?://[^\s)>\]]+)`)
)

// citeNumber parses a citation marker; markers too large for an int are not
// citations.
func citeNumber(s string) (int, bool) {
	n, err := strconv.Atoi(s)
	return n, err == nil
}

// trimURL strips sentence punctuation the URL pattern swallows.
func trimURL(u string) string { return strings.TrimRight(u, ".,;:!?") }

// findURLs returns the [start,end) spans of every URL in text.
func findURLs(text string) [][2]int {
	var spans [][2]int
	for _, m := range urlRe.FindAllStringIndex(text, -1) {
		u := trimURL(text[m[0]:m[1]])
		spans = append(spans, [2]int{m[0], m[0] + len(u)})
	}
	return spans
}

// Inline reads [n](url) citations.
type Inline struct{}

func (Inline) Name() string { return "inline" }

func (Inline) TryParse(text string) []Segment {
	ms := inlineRe.FindAllStringSubmatchIndex(text, -1)
	if len(ms) == 0 {
		return nil
	}
	out := make([]Segment, 0, 2*len(ms)+1)
	last := 0
	for _, m := range ms {
		n, ok := citeNumber(text[m[2]:m[3]])
		if !ok {
			continue
		}
		out = append(out, Text(text[last:m[0]]), Cite(n, text[m[4]:m[5]]))
		last = m[1]
	}
	if last == 0 {
		return nil
	}
	return append(out, Text(text[last:]))
}

// NearbyURL reads bare [n] markers and attaches each to the closest URL in
// the text. A following URL is preferred; a preceding one counts ten times
// its distance. Numbers with no URL at all get a placeholder.
type NearbyURL struct{}

func (NearbyURL) Name() string { return "nearby-url" }

func (NearbyURL) TryParse(text string) []Segment {
	ms := numberRe.FindAllStringSubmatchIndex(text, -1)
	if len(ms) == 0 {
		return nil
	}
	urls := findURLs(text)
	out := make([]Segment, 0, 2*len(ms)+1)
	last := 0
	for _, m := range ms {
		n, ok := citeNumber(text[m[2]:m[3]])
		if !ok {
			continue
		}
		out = append(out, Text(text[last:m[0]]), Cite(n, nearestURL(text, urls, m[0], m[1], n)))
		last = m[1]
	}
	if last == 0 {
		return nil
	}
	return append(out, Text(text[last:]))
}

func nearestURL(text string, urls [][2]int, start, end, n int) string {
	best, bestDist := -1, math.MaxInt
	for i, u := range urls {
		var d int
		switch {
		case u[0] >= end:
			d = u[0] - end
		case u[1] <= start:
			d = (start - u[1]) * 10
		default:
			continue
		}
		if d < bestDist {
			best, bestDist = i, d
		}
	}
	if best < 0 {
		return PlaceholderURL(n)
	}
	return text[urls[best][0]:urls[best][1]]
}

// SourcesBlock reads [n] markers whose URLs are listed in a separate
// paragraph, either one introduced by a Sources/References marker or one made
// of [n] url pairs with no bold text.
type SourcesBlock struct{}

func (SourcesBlock) Name() string { return "sources-block" }

func (SourcesBlock) TryParse(text string) []Segment {
	paras := paragraphRe.Split(text, -1)
	if len(paras) < 2 {
		return nil
	}

	from, to := -1, -1
	for i := len(paras) - 1; i >= 0; i-- {
		p := paras[i]
		if sourcesRe.MatchString(p) {
			// a marker owns every paragraph after it
			from, to = i, len(paras)
			break
		}
		if from < 0 && sourcePairRe.MatchString(p) && !strings.Contains(p, "**") {
			from, to = i, i+1
		}
	}
	if from <= 0 {
		return nil
	}

	sources := make(map[int]string)
	for _, p := range paras[from:to] {
		for _, m := range sourcePairRe.FindAllStringSubmatch(p, -1) {
			addSource(sources, m[1], m[2])
		}
		for _, m := range numberedRe.FindAllStringSubmatch(p, -1) {
			addSource(sources, m[1], m[2])
		}
	}
	if len(sources) == 0 {
		return nil
	}

	content := strings.Join(append(append([]string{}, paras[:from]...), paras[to:]...), "\n\n")
	var out []Segment
	last, resolved := 0, 0
	for _, m := range numberRe.FindAllStringSubmatchIndex(content, -1) {
		n, ok := citeNumber(content[m[2]:m[3]])
		if !ok {
			continue
		}
		url, ok := sources[n]
		if !ok {
			continue
		}
		out = append(out, Text(content[last:m[0]]), Cite(n, url))
		last = m[1]
		resolved++
	}
	if resolved == 0 {
		return nil
	}
	return append(out, Text(content[last:]))
}

func addSource(sources map[int]string, number, url string) {
	n, ok := citeNumber(number)
	if !ok {
		return
	}
	if _, ok := sources[n]; ok {
		return
	}
	sources[n] = trimURL(url)
}

// BareURL numbers every URL in document order. Repeated URLs keep their first
// number and markdown links keep their label as text.
type BareURL struct{}

func (BareURL) Name() string { return "bare-url" }

func (BareURL) TryParse(text string) []Segment {
	ms := linkOrURLRe.FindAllStringSubmatchIndex(text, -1)
	if len(ms) == 0 {
		return nil
	}
	numbers := make(map[string]int)
	var out []Segment
	last := 0
	for _, m := range ms {
		var label, url string
		end := m[1]
		if m[2] >= 0 {
			label, url = text[m[2]:m[3]], text[m[4]:m[5]]
		} else {
			url = trimURL(text[m[0]:m[1]])
			end = m[0] + len(url)
		}
		n, ok := numbers[url]
		if !ok {
			n = len(numbers) + 1
			numbers[url] = n
		}
		out = append(out, Text(text[last:m[0]]+label), Cite(n, url))
		last = end
	}
	return append(out, Text(text[last:]))
}
