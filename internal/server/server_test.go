package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/mohammad-safakhou/brandscope/internal/analysis"
	"github.com/mohammad-safakhou/brandscope/internal/gateway"
	"github.com/mohammad-safakhou/brandscope/internal/llm"
	"github.com/mohammad-safakhou/brandscope/internal/logging"
	"github.com/mohammad-safakhou/brandscope/internal/navguard"
	"github.com/mohammad-safakhou/brandscope/internal/news"
	"github.com/mohammad-safakhou/brandscope/internal/session"
	"github.com/mohammad-safakhou/brandscope/internal/trends"
)

func stateJSON() string {
	var parts []string
	for _, k := range analysis.CategoryKeys {
		parts = append(parts, fmt.Sprintf(`%q: {"topics": [{"headline": "%s", "insights": ["ok"]}]}`, k, k))
	}
	return "{" + strings.Join(parts, ",") + "}"
}

// fakeModel answers analysis prompts with a valid state and trends prompts
// with a short list.
func fakeModel(ctx context.Context, msgs []llm.Message) (llm.Response, error) {
	last := msgs[len(msgs)-1].Content
	text := "Nothing to add."
	switch {
	case strings.Contains(last, "JSON object with exactly these keys"):
		text = stateJSON()
	case strings.Contains(strings.ToLower(last), "trend"):
		text = "CATEGORY: Sportswear. RELATED: Running, Fitness\n1. Running shoes are selling out fast\n2. Athleisure keeps growing strongly"
	case strings.Contains(last, "JSON array"):
		text = `[{"title": "Nike launches new running shoe line", "url": "https://news.example.com/a", "date": "01-Mar-24", "source": "Example"}]`
	}
	return llm.Response{Choices: []llm.Choice{{Message: llm.Message{Role: "assistant", Content: text}}}}, nil
}

type fakeCaller struct {
	name string
	body json.RawMessage
}

func (f *fakeCaller) InvokeRaw(ctx context.Context, name string, body any) (json.RawMessage, error) {
	f.name = name
	f.body, _ = body.(json.RawMessage)
	return json.RawMessage(`{"url":"data:image/png;base64,AA=="}`), nil
}

type testServer struct {
	e        *echo.Echo
	h        *Handler
	sessions session.Store
	caller   *fakeCaller
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	sessions := session.NewMemoryStore(time.Hour)
	gw := gateway.New(llm.CompleterFunc(fakeModel), gateway.Config{Timeout: time.Second, BackoffBase: time.Millisecond}, nil)
	caller := &fakeCaller{}
	h := &Handler{
		Analyzer:  analysis.New(gw, nil, sessions, nil, analysis.Config{}, nil),
		News:      news.NewService(nil, news.NewSupplementer(gw), sessions, 10, nil),
		Trends:    trends.NewRefresher(gw, sessions, nil, nil),
		Functions: caller,
		Gateway:   gw,
		Sessions:  sessions,
		Tracker:   navguard.NewTracker(sessions, time.Minute),
		Tokens:    NewTokens([]byte("test-secret"), time.Hour),
	}
	return &testServer{e: NewEcho(h, nil, false), h: h, sessions: sessions, caller: caller}
}

func (s *testServer) do(t *testing.T, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) session(t *testing.T) SessionResponse {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/sessions", "", "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("create session: status %d", rec.Code)
	}
	var resp SessionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	if resp.SessionID == "" || resp.Token == "" {
		t.Fatalf("unexpected session response %+v", resp)
	}
	return resp
}

func TestRoutesRequireSession(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/api/analysis", "", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", rec.Code)
	}
	rec = s.do(t, http.MethodGet, "/api/analysis", "not-a-token", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for a bad token got %d", rec.Code)
	}
}

func TestSessionCookieIsAccepted(t *testing.T) {
	s := newTestServer(t)
	sess := s.session(t)
	req := httptest.NewRequest(http.MethodGet, "/api/navigation", nil)
	req.AddCookie(&http.Cookie{Name: sessionCookie, Value: sess.Token})
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestAnalysisRoundTrip(t *testing.T) {
	s := newTestServer(t)
	sess := s.session(t)

	rec := s.do(t, http.MethodPost, "/api/analysis", sess.Token, `{"brand":"Nike","competitors":["Adidas"],"category":"Sportswear","country":"US"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("run analysis: status %d: %s", rec.Code, rec.Body.String())
	}
	var report analysis.Report
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if len(report.MarketingCs) != len(analysis.CategoryKeys) {
		t.Fatalf("expected %d categories got %d", len(analysis.CategoryKeys), len(report.MarketingCs))
	}

	rec = s.do(t, http.MethodGet, "/api/analysis", sess.Token, "")
	var snap analysis.Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if snap.Report == nil || snap.Report.Brand != "Nike" || !snap.Active {
		t.Fatalf("unexpected snapshot %+v", snap)
	}

	other := s.session(t)
	rec = s.do(t, http.MethodGet, "/api/analysis", other.Token, "")
	snap = analysis.Snapshot{}
	_ = json.Unmarshal(rec.Body.Bytes(), &snap)
	if snap.Report != nil {
		t.Fatalf("sessions must not share state")
	}
}

func TestAnalysisRequiresBrand(t *testing.T) {
	s := newTestServer(t)
	sess := s.session(t)
	rec := s.do(t, http.MethodPost, "/api/analysis", sess.Token, `{"brand":"  "}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rec.Code)
	}
}

func TestTrendsRefreshFallsBackToSessionBrand(t *testing.T) {
	s := newTestServer(t)
	sess := s.session(t)
	ctx := context.Background()
	_ = s.sessions.Set(ctx, sess.SessionID, session.KeyCurrentBrand, "Nike")

	rec := s.do(t, http.MethodPost, "/api/trends/refresh", sess.Token, `{}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("refresh trends: status %d: %s", rec.Code, rec.Body.String())
	}
	var res trends.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if res.Brand != "Nike" || len(res.Lines) != trends.LineCount {
		t.Fatalf("unexpected result %+v", res)
	}

	rec = s.do(t, http.MethodGet, "/api/trends", sess.Token, "")
	var stored TrendsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &stored); err != nil {
		t.Fatalf("decode trends: %v", err)
	}
	if stored.Brand != "Nike" || len(stored.Lines) != trends.LineCount {
		t.Fatalf("unexpected stored trends %+v", stored)
	}
}

func TestNewsRefreshAndLoad(t *testing.T) {
	s := newTestServer(t)
	sess := s.session(t)
	rec := s.do(t, http.MethodPost, "/api/news/refresh", sess.Token, `{"brand":"Nike"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("refresh news: status %d: %s", rec.Code, rec.Body.String())
	}
	rec = s.do(t, http.MethodGet, "/api/news", sess.Token, "")
	var items []news.Item
	if err := json.Unmarshal(rec.Body.Bytes(), &items); err != nil {
		t.Fatalf("decode news: %v", err)
	}
	if len(items) != 1 || items[0].URL != "https://news.example.com/a" {
		t.Fatalf("unexpected news %+v", items)
	}
}

func TestFunctionPassthrough(t *testing.T) {
	s := newTestServer(t)
	sess := s.session(t)

	rec := s.do(t, http.MethodPost, "/api/functions/drop-tables", sess.Token, `{}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", rec.Code)
	}
	rec = s.do(t, http.MethodPost, "/api/functions/fetch-logo", sess.Token, `{"brand":"Nike"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rec.Code, rec.Body.String())
	}
	if s.caller.name != "fetch-logo" || string(s.caller.body) != `{"brand":"Nike"}` {
		t.Fatalf("unexpected forwarded call %q %s", s.caller.name, s.caller.body)
	}
	if !strings.Contains(rec.Body.String(), "data:image/png") {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}
}

func TestNavigationSwallowsFocusAfterCitationClick(t *testing.T) {
	s := newTestServer(t)
	sess := s.session(t)

	rec := s.do(t, http.MethodPost, "/api/navigation/click", sess.Token, `{"href":"https://nike.com/report","citationLink":true}`)
	var resp NavigationResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Action != navguard.ActionMarked || !resp.State.Pending {
		t.Fatalf("expected pending episode, got %+v", resp)
	}

	steps := []struct {
		path string
		body string
		want navguard.Action
	}{
		{"/api/navigation/blur", "", navguard.ActionSuppressed},
		{"/api/navigation/visibility", `{"visible":true}`, navguard.ActionSuppressed},
		{"/api/navigation/focus", "", navguard.ActionSuppressed},
		{"/api/navigation/focus", "", navguard.ActionReloaded},
	}
	for i, step := range steps {
		rec := s.do(t, http.MethodPost, step.path, sess.Token, step.body)
		resp = NavigationResponse{}
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("step %d: decode: %v", i, err)
		}
		if resp.Action != step.want {
			t.Fatalf("step %d %s: expected %s got %s", i, step.path, step.want, resp.Action)
		}
	}
	if resp.Snapshot == nil {
		t.Fatalf("reload must return the session snapshot")
	}
}

func TestNavigationAttributeEventAndClear(t *testing.T) {
	s := newTestServer(t)
	sess := s.session(t)
	rec := s.do(t, http.MethodPost, "/api/navigation/event", sess.Token, `{"attribute":"data-citation-click","value":"true","url":"https://a.com"}`)
	var resp NavigationResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Action != navguard.ActionMarked {
		t.Fatalf("expected marked, got %+v", resp)
	}
	if rec := s.do(t, http.MethodDelete, "/api/navigation", sess.Token, ""); rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 got %d", rec.Code)
	}
	rec = s.do(t, http.MethodGet, "/api/navigation", sess.Token, "")
	var state navguard.State
	_ = json.Unmarshal(rec.Body.Bytes(), &state)
	if state.Pending {
		t.Fatalf("expected cleared episode")
	}
}

func TestClearCacheAndHistory(t *testing.T) {
	s := newTestServer(t)
	sess := s.session(t)
	rec := s.do(t, http.MethodDelete, "/api/cache", sess.Token, "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"cancelled":0`) {
		t.Fatalf("unexpected clear cache response %d %s", rec.Code, rec.Body.String())
	}
	rec = s.do(t, http.MethodGet, "/api/history", sess.Token, "")
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Fatalf("expected empty history, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestErrorHandlerMapsCancellation(t *testing.T) {
	e := echo.New()
	handle := errorHandler(logging.Discard())
	cases := []struct {
		err  error
		code int
		body string
	}{
		{fmt.Errorf("overview: %w", gateway.ErrCancelled), http.StatusConflict, `{"cancelled":true}`},
		{gateway.ErrTimeout, http.StatusGatewayTimeout, ""},
		{analysis.ErrInvalidState, http.StatusBadGateway, ""},
		{&llm.StatusError{Code: 500, Body: "boom"}, http.StatusBadGateway, ""},
		{trends.ErrRefreshInProgress, http.StatusConflict, ""},
		{echo.NewHTTPError(http.StatusTeapot, "short and stout"), http.StatusTeapot, `{"error":"short and stout"}`},
		{errors.New("boom"), http.StatusInternalServerError, ""},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
		handle(tc.err, c)
		if rec.Code != tc.code {
			t.Fatalf("%v: expected %d got %d", tc.err, tc.code, rec.Code)
		}
		if tc.body != "" && strings.TrimSpace(rec.Body.String()) != tc.body {
			t.Fatalf("%v: unexpected body %s", tc.err, rec.Body.String())
		}
	}
}

func TestTokensRejectForeignSecret(t *testing.T) {
	a := NewTokens([]byte("one"), time.Hour)
	b := NewTokens([]byte("two"), time.Hour)
	tok, _, err := a.Issue("sid")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if sid, err := a.Verify(tok); err != nil || sid != "sid" {
		t.Fatalf("Verify: %q %v", sid, err)
	}
	if _, err := b.Verify(tok); err == nil {
		t.Fatalf("expected foreign token to be rejected")
	}
	expired := NewTokens([]byte("one"), time.Hour)
	expired.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	old, _, _ := expired.Issue("sid")
	if _, err := a.Verify(old); err == nil {
		t.Fatalf("expected expired token to be rejected")
	}
}
