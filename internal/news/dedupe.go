// Package news fetches brand news, removes near-duplicates and keeps the
// current list in the session.
package news

import (
	"encoding/json"
	"strings"
	"unicode"
	"unicode/utf8"
)

// DateLayout is the display format of Item.Date (e.g. 05-Mar-25).
const DateLayout = "02-Jan-06"

// Item is one news entry.
type Item struct {
	Title  string `json:"title"`
	URL    string `json:"url"`
	Date   string `json:"date,omitempty"`
	Source string `json:"source,omitempty"`
}

// overlapThreshold is how many significant title words an item may share with
// earlier titles before it counts as a duplicate.
const overlapThreshold = 3

var stopwords = map[string]struct{}{
	"about": {}, "above": {}, "after": {}, "again": {}, "against": {}, "among": {},
	"around": {}, "because": {}, "before": {}, "being": {}, "below": {}, "between": {},
	"could": {}, "during": {}, "every": {}, "first": {}, "other": {}, "report": {},
	"reports": {}, "says": {}, "should": {}, "since": {}, "still": {}, "their": {},
	"there": {}, "these": {}, "those": {}, "through": {}, "today": {}, "under": {},
	"until": {}, "where": {}, "which": {}, "while": {}, "would": {}, "years": {},
}

// NormalizeURL lowercases u and drops its query string and trailing slash.
func NormalizeURL(u string) string {
	u = strings.ToLower(strings.TrimSpace(u))
	if i := strings.IndexByte(u, '?'); i >= 0 {
		u = u[:i]
	}
	return strings.TrimRight(u, "/")
}

// SignificantWords returns the distinct lowercase words of title longer than
// four characters that are not stopwords.
func SignificantWords(title string) []string {
	fields := strings.FieldsFunc(strings.ToLower(title), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]struct{}, len(fields))
	var out []string
	for _, w := range fields {
		if utf8.RuneCountInString(w) <= 4 {
			continue
		}
		if _, stop := stopwords[w]; stop {
			continue
		}
		if _, dup := seen[w]; dup {
			continue
		}
		seen[w] = struct{}{}
		out = append(out, w)
	}
	return out
}

// Dedupe keeps the first of any items sharing a normalised URL or sharing
// three or more significant title words with the titles already kept. Items
// without a title or URL are dropped. Order is preserved.
func Dedupe(items []Item) []Item {
	out := make([]Item, 0, len(items))
	urls := make(map[string]struct{}, len(items))
	pool := make(map[string]struct{})
	for _, it := range items {
		if strings.TrimSpace(it.Title) == "" || strings.TrimSpace(it.URL) == "" {
			continue
		}
		nu := NormalizeURL(it.URL)
		if _, dup := urls[nu]; dup {
			continue
		}
		words := SignificantWords(it.Title)
		shared := 0
		for _, w := range words {
			if _, ok := pool[w]; ok {
				shared++
			}
		}
		if shared >= overlapThreshold {
			continue
		}
		urls[nu] = struct{}{}
		for _, w := range words {
			pool[w] = struct{}{}
		}
		out = append(out, it)
	}
	return out
}

// DedupeJSON decodes a JSON array of items and dedupes it. Input that is not
// an array yields no items and undecodable elements are skipped.
func DedupeJSON(raw []byte) []Item {
	var elems []json.RawMessage
	if err := json.Unmarshal(raw, &elems); err != nil {
		return []Item{}
	}
	items := make([]Item, 0, len(elems))
	for _, e := range elems {
		var it Item
		if err := json.Unmarshal(e, &it); err != nil {
			continue
		}
		items = append(items, it)
	}
	return Dedupe(items)
}
