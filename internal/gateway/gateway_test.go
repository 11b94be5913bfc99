package gateway

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mohammad-safakhou/brandscope/internal/llm"
)

func reply(s string) llm.Response {
	return llm.Response{Choices: []llm.Choice{{Message: llm.Message{Role: "assistant", Content: s}}}}
}

func fastConfig() Config {
	return Config{Timeout: time.Second, MaxRetries: 0, BackoffBase: time.Millisecond, BackoffLimit: 4 * time.Millisecond}
}

func TestSendCachesIdenticalRequests(t *testing.T) {
	t.Parallel()
	var calls int32
	up := llm.CompleterFunc(func(ctx context.Context, msgs []llm.Message) (llm.Response, error) {
		n := atomic.AddInt32(&calls, 1)
		if n > 1 {
			return reply("second"), nil
		}
		return reply("first"), nil
	})
	g := New(up, fastConfig(), nil)
	msgs := []llm.Message{llm.System("sys"), llm.User("Tell me about Nike")}

	a, err := g.Send(context.Background(), msgs)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	b, err := g.Send(context.Background(), msgs)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if a != "first" || b != "first" {
		t.Fatalf("expected cached response, got %q then %q", a, b)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected one upstream call, got %d", got)
	}
}

func TestSendWithoutCacheCallsUpstream(t *testing.T) {
	t.Parallel()
	var calls int32
	up := llm.CompleterFunc(func(ctx context.Context, msgs []llm.Message) (llm.Response, error) {
		atomic.AddInt32(&calls, 1)
		return reply("ok"), nil
	})
	g := New(up, fastConfig(), nil)
	msgs := []llm.Message{llm.User("q")}
	for i := 0; i < 2; i++ {
		if _, err := g.Send(context.Background(), msgs, WithCache(false)); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Fatalf("expected two upstream calls, got %d", got)
	}
}

func TestExplicitCacheKeySharesEntry(t *testing.T) {
	t.Parallel()
	var calls int32
	up := llm.CompleterFunc(func(ctx context.Context, msgs []llm.Message) (llm.Response, error) {
		atomic.AddInt32(&calls, 1)
		return reply(msgs[0].Content), nil
	})
	g := New(up, fastConfig(), nil)
	a, _ := g.Send(context.Background(), []llm.Message{llm.User("one")}, WithCacheKey("trends:nike"))
	b, _ := g.Send(context.Background(), []llm.Message{llm.User("two")}, WithCacheKey("trends:nike"))
	if a != "one" || b != "one" {
		t.Fatalf("expected shared cache entry, got %q and %q", a, b)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected one upstream call, got %d", got)
	}
}

func TestCacheEntriesExpire(t *testing.T) {
	t.Parallel()
	var calls int32
	up := llm.CompleterFunc(func(ctx context.Context, msgs []llm.Message) (llm.Response, error) {
		atomic.AddInt32(&calls, 1)
		return reply("ok"), nil
	})
	cfg := fastConfig()
	cfg.CacheTTL = 20 * time.Millisecond
	g := New(up, cfg, nil)
	msgs := []llm.Message{llm.User("q")}
	if _, err := g.Send(context.Background(), msgs); err != nil {
		t.Fatalf("Send: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	key, _ := Key(msgs, "")
	if _, ok := g.Cached("", key); ok {
		t.Fatalf("expected entry to be expired")
	}
	if _, err := g.Send(context.Background(), msgs); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Fatalf("expected a fresh upstream call after expiry, got %d calls", got)
	}
}

func TestClearCache(t *testing.T) {
	t.Parallel()
	var calls int32
	up := llm.CompleterFunc(func(ctx context.Context, msgs []llm.Message) (llm.Response, error) {
		atomic.AddInt32(&calls, 1)
		return reply("ok"), nil
	})
	g := New(up, fastConfig(), nil)
	msgs := []llm.Message{llm.User("q")}
	_, _ = g.Send(context.Background(), msgs)
	g.ClearCache()
	_, _ = g.Send(context.Background(), msgs)
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Fatalf("expected cache to be cleared, got %d calls", got)
	}
}

func TestNewerRequestCancelsPrevious(t *testing.T) {
	t.Parallel()
	started := make(chan int32, 2)
	release := make(chan struct{})
	var calls int32
	up := llm.CompleterFunc(func(ctx context.Context, msgs []llm.Message) (llm.Response, error) {
		n := atomic.AddInt32(&calls, 1)
		started <- n
		if n == 1 {
			<-ctx.Done()
			return llm.Response{}, ctx.Err()
		}
		<-release
		return reply("second"), nil
	})
	g := New(up, fastConfig(), nil)

	firstErr := make(chan error, 1)
	go func() {
		_, err := g.Send(context.Background(), []llm.Message{llm.User("a")}, WithCacheKey("k"))
		firstErr <- err
	}()
	<-started

	type res struct {
		text string
		err  error
	}
	second := make(chan res, 1)
	go func() {
		text, err := g.Send(context.Background(), []llm.Message{llm.User("b")}, WithCacheKey("k"))
		second <- res{text, err}
	}()

	select {
	case err := <-firstErr:
		if !IsCancelled(err) {
			t.Fatalf("expected first request to be cancelled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("first request was not cancelled")
	}

	<-started
	close(release)
	r := <-second
	if r.err != nil || r.text != "second" {
		t.Fatalf("expected second request to resolve, got %q, %v", r.text, r.err)
	}
}

func TestCancelAll(t *testing.T) {
	t.Parallel()
	started := make(chan struct{}, 1)
	up := llm.CompleterFunc(func(ctx context.Context, msgs []llm.Message) (llm.Response, error) {
		started <- struct{}{}
		<-ctx.Done()
		return llm.Response{}, ctx.Err()
	})
	g := New(up, fastConfig(), nil)
	errCh := make(chan error, 1)
	go func() {
		_, err := g.Send(context.Background(), []llm.Message{llm.User("a")})
		errCh <- err
	}()
	<-started
	if n := g.CancelAll(); n != 1 {
		t.Fatalf("expected one cancelled request, got %d", n)
	}
	if err := <-errCh; !errors.Is(err, ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
	if g.InFlight() != 0 {
		t.Fatalf("expected no tracked requests")
	}
}

func TestSendTimesOut(t *testing.T) {
	t.Parallel()
	block := make(chan struct{})
	t.Cleanup(func() { close(block) })
	up := llm.CompleterFunc(func(ctx context.Context, msgs []llm.Message) (llm.Response, error) {
		<-block
		return reply("late"), nil
	})
	g := New(up, fastConfig(), nil)
	_, err := g.Send(context.Background(), []llm.Message{llm.User("q")}, WithTimeout(20*time.Millisecond))
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if IsCancelled(err) {
		t.Fatalf("timeout must not be reported as cancellation")
	}
}

func TestSendRetriesTransientFailures(t *testing.T) {
	t.Parallel()
	var calls int32
	up := llm.CompleterFunc(func(ctx context.Context, msgs []llm.Message) (llm.Response, error) {
		if atomic.AddInt32(&calls, 1) < 3 {
			return llm.Response{}, errors.New("connection reset")
		}
		return reply("finally"), nil
	})
	g := New(up, fastConfig(), nil)
	got, err := g.Send(context.Background(), []llm.Message{llm.User("q")}, WithMaxRetries(2))
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if n := atomic.LoadInt32(&calls); got != "finally" || n != 3 {
		t.Fatalf("expected success on third attempt, got %q after %d calls", got, n)
	}
}

func TestSendSurfacesErrorAfterRetries(t *testing.T) {
	t.Parallel()
	var calls int32
	up := llm.CompleterFunc(func(ctx context.Context, msgs []llm.Message) (llm.Response, error) {
		atomic.AddInt32(&calls, 1)
		return llm.Response{}, errors.New("boom")
	})
	g := New(up, fastConfig(), nil)
	_, err := g.Send(context.Background(), []llm.Message{llm.User("q")}, WithMaxRetries(1))
	if err == nil {
		t.Fatalf("expected error")
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Fatalf("expected 2 attempts, got %d", got)
	}
}

func TestMalformedResponseIsNotRetried(t *testing.T) {
	t.Parallel()
	var calls int32
	up := llm.CompleterFunc(func(ctx context.Context, msgs []llm.Message) (llm.Response, error) {
		atomic.AddInt32(&calls, 1)
		return llm.Response{}, nil
	})
	g := New(up, fastConfig(), nil)
	_, err := g.Send(context.Background(), []llm.Message{llm.User("q")}, WithMaxRetries(3))
	if !errors.Is(err, ErrMalformedResponse) {
		t.Fatalf("expected ErrMalformedResponse, got %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("malformed responses must not be retried, got %d calls", got)
	}
	key, _ := Key([]llm.Message{llm.User("q")}, "")
	if _, ok := g.Cached("", key); ok {
		t.Fatalf("malformed response must not be cached")
	}
}

func TestSessionsDoNotSupersedeEachOther(t *testing.T) {
	t.Parallel()
	started := make(chan struct{}, 2)
	release := make(chan struct{})
	up := llm.CompleterFunc(func(ctx context.Context, msgs []llm.Message) (llm.Response, error) {
		started <- struct{}{}
		select {
		case <-release:
			return reply(msgs[0].Content), nil
		case <-ctx.Done():
			return llm.Response{}, ctx.Err()
		}
	})
	g := New(up, fastConfig(), nil)

	type res struct {
		text string
		err  error
	}
	results := make(chan res, 2)
	for _, sid := range []string{"alice", "bob"} {
		ctx := WithSession(context.Background(), sid)
		go func() {
			text, err := g.Send(ctx, []llm.Message{llm.User("same brand")}, WithCacheKey("trends:nike"))
			results <- res{text, err}
		}()
		<-started
	}
	if n := g.InFlight(); n != 2 {
		t.Fatalf("expected both sessions in flight, got %d", n)
	}
	close(release)
	for i := 0; i < 2; i++ {
		if r := <-results; r.err != nil {
			t.Fatalf("request %d: %v", i, r.err)
		}
	}
}

func TestCancelSessionLeavesOtherSessions(t *testing.T) {
	t.Parallel()
	started := make(chan struct{}, 2)
	release := make(chan struct{})
	up := llm.CompleterFunc(func(ctx context.Context, msgs []llm.Message) (llm.Response, error) {
		started <- struct{}{}
		select {
		case <-release:
			return reply("ok"), nil
		case <-ctx.Done():
			return llm.Response{}, ctx.Err()
		}
	})
	g := New(up, fastConfig(), nil)

	aliceErr := make(chan error, 1)
	bobErr := make(chan error, 1)
	go func() {
		_, err := g.Send(WithSession(context.Background(), "alice"), []llm.Message{llm.User("a")})
		aliceErr <- err
	}()
	<-started
	go func() {
		_, err := g.Send(WithSession(context.Background(), "bob"), []llm.Message{llm.User("b")})
		bobErr <- err
	}()
	<-started

	if n := g.CancelSession("bob"); n != 1 {
		t.Fatalf("expected one cancelled request, got %d", n)
	}
	if err := <-bobErr; !IsCancelled(err) {
		t.Fatalf("expected bob's request cancelled, got %v", err)
	}
	close(release)
	if err := <-aliceErr; err != nil {
		t.Fatalf("alice's request must survive, got %v", err)
	}
}

func TestClearSessionKeepsOtherSessions(t *testing.T) {
	t.Parallel()
	var calls int32
	up := llm.CompleterFunc(func(ctx context.Context, msgs []llm.Message) (llm.Response, error) {
		atomic.AddInt32(&calls, 1)
		return reply("ok"), nil
	})
	g := New(up, fastConfig(), nil)
	msgs := []llm.Message{llm.User("q")}
	key, _ := Key(msgs, "")
	for _, sid := range []string{"alice", "bob"} {
		if _, err := g.Send(WithSession(context.Background(), sid), msgs); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Fatalf("sessions must not share cache entries, got %d calls", got)
	}
	g.ClearSession("bob")
	if _, ok := g.Cached("bob", key); ok {
		t.Fatalf("expected bob's entry to be cleared")
	}
	if _, ok := g.Cached("alice", key); !ok {
		t.Fatalf("expected alice's entry to survive")
	}
}

func TestSupersededAnswerIsNotCached(t *testing.T) {
	t.Parallel()
	var g *Gateway
	up := llm.CompleterFunc(func(ctx context.Context, msgs []llm.Message) (llm.Response, error) {
		// answers even though the request was cancelled meanwhile
		g.CancelAll()
		return reply("stale"), nil
	})
	g = New(up, fastConfig(), nil)
	msgs := []llm.Message{llm.User("q")}
	_, err := g.Send(context.Background(), msgs)
	if !IsCancelled(err) {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
	key, _ := Key(msgs, "")
	if _, ok := g.Cached("", key); ok {
		t.Fatalf("superseded answer must not be cached")
	}
}
