package news

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/mohammad-safakhou/brandscope/internal/gateway"
	"github.com/mohammad-safakhou/brandscope/internal/llm"
	"github.com/mohammad-safakhou/brandscope/internal/session"
)

func TestNormalizeURL(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"https://Example.com/News/Story/":          "https://example.com/news/story",
		"https://example.com/news/story?utm=1&x=2": "https://example.com/news/story",
		"  https://example.com/  ":                 "https://example.com",
	}
	for in, want := range cases {
		if got := NormalizeURL(in); got != want {
			t.Fatalf("NormalizeURL(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSignificantWords(t *testing.T) {
	t.Parallel()
	got := SignificantWords("Nike's Quarterly Revenue beats estimates; revenue about to climb")
	want := []string{"quarterly", "revenue", "beats", "estimates", "climb"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestDedupeByURL(t *testing.T) {
	t.Parallel()
	items := []Item{
		{Title: "Nike opens flagship store", URL: "https://a.com/story/"},
		{Title: "Totally different headline here", URL: "https://A.com/story?ref=x"},
	}
	got := Dedupe(items)
	if len(got) != 1 || got[0].Title != "Nike opens flagship store" {
		t.Fatalf("expected first item to win, got %+v", got)
	}
}

func TestDedupeByTitleOverlap(t *testing.T) {
	t.Parallel()
	items := []Item{
		{Title: "Nike reports record quarterly revenue growth", URL: "https://a.com/1"},
		{Title: "Record quarterly revenue for Nike", URL: "https://b.com/2"},
		{Title: "Adidas revenue slips on weaker quarterly demand", URL: "https://c.com/3"},
	}
	got := Dedupe(items)
	if len(got) != 2 {
		t.Fatalf("expected 2 items, got %+v", got)
	}
	if got[0].URL != "https://a.com/1" || got[1].URL != "https://c.com/3" {
		t.Fatalf("unexpected survivors %+v", got)
	}
}

func TestDedupeSkipsIncompleteItems(t *testing.T) {
	t.Parallel()
	got := Dedupe([]Item{{Title: "No url"}, {URL: "https://a.com"}, {Title: "Kept headline", URL: "https://b.com"}})
	if len(got) != 1 || got[0].URL != "https://b.com" {
		t.Fatalf("unexpected result %+v", got)
	}
}

func TestDedupeJSONTolerantOfMalformedInput(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		in   string
		want int
	}{
		{"not json", "definitely not json", 0},
		{"object", `{"title":"x","url":"y"}`, 0},
		{"empty", ``, 0},
		{"bad element", `[{"title":"Nike stock rallies","url":"https://a.com"}, 42, {"title": 7}]`, 1},
		{"good", `[{"title":"Nike stock rallies","url":"https://a.com","date":"01-Mar-25"},{"title":"Puma hires new chief","url":"https://b.com"}]`, 2},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := DedupeJSON([]byte(tc.in))
			if got == nil || len(got) != tc.want {
				t.Fatalf("expected %d items, got %#v", tc.want, got)
			}
		})
	}
}

const rssFixture = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0"><channel><title>News</title>
<item><title>Nike unveils &lt;b&gt;new&lt;/b&gt; running shoe</title><link>https://news.example.com/nike-shoe</link><pubDate>Wed, 05 Mar 2025 10:00:00 GMT</pubDate></item>
<item><title>Nike unveils new running shoe lineup</title><link>https://news.example.com/nike-shoe/?utm_source=rss</link><pubDate>Wed, 05 Mar 2025 11:00:00 GMT</pubDate></item>
<item><title>Adidas signs sprint champion</title><link>https://news.example.com/adidas</link><pubDate>Thu, 06 Mar 2025 09:00:00 GMT</pubDate></item>
</channel></rss>`

func TestFetcherParsesFeed(t *testing.T) {
	t.Parallel()
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("q")
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = w.Write([]byte(rssFixture))
	}))
	defer srv.Close()

	f := NewFetcher(srv.URL, "en", time.Second)
	items, err := f.Fetch(context.Background(), "Nike")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if gotQuery != "Nike" {
		t.Fatalf("unexpected query %q", gotQuery)
	}
	if len(items) != 2 {
		t.Fatalf("expected duplicates removed, got %+v", items)
	}
	if items[0].Title != "Nike unveils new running shoe" {
		t.Fatalf("expected sanitised title, got %q", items[0].Title)
	}
	if items[0].Date != "05-Mar-25" || items[1].Date != "06-Mar-25" {
		t.Fatalf("unexpected dates %q %q", items[0].Date, items[1].Date)
	}
}

func TestFetcherSurfacesHTTPErrors(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()
	if _, err := NewFetcher(srv.URL, "", time.Second).Fetch(context.Background(), "Nike"); err == nil {
		t.Fatalf("expected error")
	}
}

type sourceFunc func(ctx context.Context, query string) ([]Item, error)

func (f sourceFunc) Fetch(ctx context.Context, query string) ([]Item, error) { return f(ctx, query) }

func TestServiceRefreshCombinesAndPersists(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	feed := sourceFunc(func(context.Context, string) ([]Item, error) {
		return []Item{
			{Title: "Nike posts record quarterly revenue", URL: "https://a.com/1", Date: "01-Mar-25"},
		}, nil
	})
	supp := sourceFunc(func(context.Context, string) ([]Item, error) {
		return []Item{
			{Title: "Record quarterly revenue at Nike", URL: "https://b.com/2"},
			{Title: "Nike <script>x</script>partners with <i>NBA</i>", URL: "https://c.com/3"},
		}, nil
	})
	store := session.NewMemoryStore(time.Minute)
	svc := NewService(feed, supp, store, 10, nil)

	items, err := svc.Refresh(ctx, "sess", "Nike")
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected combined deduped items, got %+v", items)
	}
	if strings.Contains(items[1].Title, "<") {
		t.Fatalf("expected sanitised title, got %q", items[1].Title)
	}
	stored, err := Load(ctx, store, "sess")
	if err != nil || !reflect.DeepEqual(stored, items) {
		t.Fatalf("Load: %+v %v", stored, err)
	}
}

func TestServiceRefreshFailsWhenAllSourcesFail(t *testing.T) {
	t.Parallel()
	boom := sourceFunc(func(context.Context, string) ([]Item, error) { return nil, errors.New("down") })
	svc := NewService(boom, boom, nil, 0, nil)
	if _, err := svc.Refresh(context.Background(), "", "Nike"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestServiceRefreshScopesSupplementToSession(t *testing.T) {
	t.Parallel()
	var got string
	supp := sourceFunc(func(ctx context.Context, _ string) ([]Item, error) {
		got = gateway.SessionFrom(ctx)
		return nil, nil
	})
	if _, err := NewService(nil, supp, nil, 0, nil).Refresh(context.Background(), "sess-1", "Nike"); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if got != "sess-1" {
		t.Fatalf("expected supplement scoped to sess-1, got %q", got)
	}
}

func TestServiceRefreshToleratesFeedFailure(t *testing.T) {
	t.Parallel()
	boom := sourceFunc(func(context.Context, string) ([]Item, error) { return nil, errors.New("down") })
	ok := sourceFunc(func(context.Context, string) ([]Item, error) {
		return []Item{{Title: "Nike expands in India", URL: "https://a.com"}}, nil
	})
	items, err := NewService(boom, ok, nil, 0, nil).Refresh(context.Background(), "", "Nike")
	if err != nil || len(items) != 1 {
		t.Fatalf("expected supplemental items, got %+v %v", items, err)
	}
}

type stubSender string

func (s stubSender) Send(context.Context, []llm.Message, ...gateway.Option) (string, error) {
	return string(s), nil
}

func TestSupplementerParsesModelJSON(t *testing.T) {
	t.Parallel()
	reply := "Here you go:\n```json\n[{\"title\":\"Nike launches app\",\"url\":\"https://a.com\",\"date\":\"02-Mar-25\"}]\n```"
	items, err := NewSupplementer(stubSender(reply)).Fetch(context.Background(), "Nike")
	if err != nil || len(items) != 1 || items[0].Date != "02-Mar-25" {
		t.Fatalf("unexpected items %+v %v", items, err)
	}
	items, err = NewSupplementer(stubSender("no news found")).Fetch(context.Background(), "Nike")
	if err != nil || len(items) != 0 {
		t.Fatalf("expected no items, got %+v %v", items, err)
	}
}

func TestLoadMissing(t *testing.T) {
	t.Parallel()
	items, err := Load(context.Background(), session.NewMemoryStore(time.Minute), "none")
	if err != nil || len(items) != 0 {
		t.Fatalf("expected empty list, got %+v %v", items, err)
	}
}
