package news

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/mohammad-safakhou/brandscope/internal/helpers"
)

// DefaultFeedURL is the Google News RSS search endpoint.
const DefaultFeedURL = "https://news.google.com/rss/search"

// Source returns news items for a search query.
type Source interface {
	Fetch(ctx context.Context, query string) ([]Item, error)
}

// Fetcher reads a news search RSS feed.
type Fetcher struct {
	feedURL  string
	language string
	parser   *gofeed.Parser
	now      func() time.Time
}

// NewFetcher creates a fetcher for feedURL (DefaultFeedURL when empty).
func NewFetcher(feedURL, language string, timeout time.Duration) *Fetcher {
	if feedURL == "" {
		feedURL = DefaultFeedURL
	}
	if language == "" {
		language = "en"
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	p := gofeed.NewParser()
	p.Client = &http.Client{Timeout: timeout}
	p.UserAgent = "brandscope/1.0"
	return &Fetcher{feedURL: feedURL, language: language, parser: p, now: time.Now}
}

// SearchURL returns the feed URL for query.
func (f *Fetcher) SearchURL(query string) string {
	q := url.Values{}
	q.Set("q", query)
	q.Set("hl", f.language)
	sep := "?"
	if strings.Contains(f.feedURL, "?") {
		sep = "&"
	}
	return f.feedURL + sep + q.Encode()
}

// Fetch downloads and parses the feed for query. Titles are reduced to plain
// text and the result is deduplicated.
func (f *Fetcher) Fetch(ctx context.Context, query string) ([]Item, error) {
	feedURL := f.SearchURL(query)
	feed, err := f.parser.ParseURLWithContext(feedURL, ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", feedURL, err)
	}

	items := make([]Item, 0, len(feed.Items))
	for _, entry := range feed.Items {
		published := f.now()
		if entry.PublishedParsed != nil {
			published = *entry.PublishedParsed
		} else if entry.UpdatedParsed != nil {
			published = *entry.UpdatedParsed
		}
		source := ""
		if entry.Author != nil {
			source = entry.Author.Name
		}
		items = append(items, Item{
			Title:  helpers.SanitizeHTMLStrict(entry.Title),
			URL:    strings.TrimSpace(entry.Link),
			Date:   published.Format(DateLayout),
			Source: source,
		})
	}
	return Dedupe(items), nil
}
