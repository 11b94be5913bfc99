package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/mohammad-safakhou/brandscope/internal/llm"
	"github.com/mohammad-safakhou/brandscope/internal/logging"
	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
)

var (
	// ErrCancelled is returned to a caller whose request was superseded or
	// aborted through CancelSession or CancelAll. It is not a user-facing failure.
	ErrCancelled = errors.New("request was cancelled")
	// ErrTimeout is returned when an attempt outlives Options.Timeout.
	ErrTimeout = errors.New("request timed out")
	// ErrMalformedResponse is returned when the upstream answered without a
	// textual payload. It is never retried.
	ErrMalformedResponse = errors.New("malformed model response")
)

// IsCancelled reports whether err stems from a cancelled request.
func IsCancelled(err error) bool { return errors.Is(err, ErrCancelled) }

// Config holds gateway-wide defaults.
type Config struct {
	Timeout      time.Duration
	MaxRetries   int
	CacheTTL     time.Duration
	BackoffBase  time.Duration
	BackoffLimit time.Duration
}

func (c Config) normalize() Config {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = 10 * time.Minute
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = time.Second
	}
	if c.BackoffLimit < c.BackoffBase {
		c.BackoffLimit = 8 * c.BackoffBase
	}
	return c
}

// Entry is a cached model response.
type Entry struct {
	Content   string
	Timestamp time.Time
}

// Gateway wraps a Completer with caching, timeouts, retries and cancellation
// of superseded requests. It is safe for concurrent use.
type Gateway struct {
	upstream llm.Completer
	cfg      Config
	cache    *cache.Cache
	log      logrus.FieldLogger

	mu       sync.Mutex
	seq      uint64
	inflight map[string]map[uint64]context.CancelCauseFunc
}

// New creates a gateway in front of upstream.
func New(upstream llm.Completer, cfg Config, log logrus.FieldLogger) *Gateway {
	cfg = cfg.normalize()
	return &Gateway{
		upstream: upstream,
		cfg:      cfg,
		// no janitor: expired entries are dropped on lookup
		cache:    cache.New(cfg.CacheTTL, 0),
		log:      logging.OrDiscard(log).WithField("component", "gateway"),
		inflight: make(map[string]map[uint64]context.CancelCauseFunc),
	}
}

// Key derives the request key: the explicit override when set, otherwise the
// JSON serialisation of the message list.
func Key(messages []llm.Message, override string) (string, error) {
	if override != "" {
		return override, nil
	}
	b, err := json.Marshal(messages)
	if err != nil {
		return "", fmt.Errorf("serialize messages: %w", err)
	}
	return string(b), nil
}

// Send issues messages upstream according to opts and returns the textual
// payload. Caching and cancellation are scoped to the session bound to ctx
// with WithSession.
func (g *Gateway) Send(ctx context.Context, messages []llm.Message, opts ...Option) (string, error) {
	o := DefaultOptions(g.cfg)
	for _, opt := range opts {
		opt(&o)
	}
	if len(messages) == 0 {
		return "", errors.New("no messages to send")
	}

	reqKey, err := Key(messages, o.CacheKey)
	if err != nil {
		return "", err
	}
	key := scopedKey(SessionFrom(ctx), reqKey)
	if o.CancelPrevious {
		if n := g.cancelKey(key); n > 0 {
			g.log.WithField("superseded", n).Debug("cancelled in-flight request for key")
		}
	}
	if o.UseCache {
		if e, ok := g.cached(key); ok {
			requestsTotal.WithLabelValues("cache_hit").Inc()
			return e.Content, nil
		}
	}

	callCtx, cancel := context.WithCancelCause(ctx)
	id := g.track(key, cancel)
	defer func() {
		g.untrack(key, id)
		cancel(nil)
	}()

	start := time.Now()
	content, err := g.retry(callCtx, messages, o)
	upstreamSeconds.Observe(time.Since(start).Seconds())
	if err == nil && callCtx.Err() != nil {
		// superseded while an upstream that ignores ctx was answering
		err = context.Cause(callCtx)
	}
	if err != nil {
		return "", g.classify(ctx, callCtx, err)
	}

	requestsTotal.WithLabelValues("success").Inc()
	g.cache.Set(key, Entry{Content: content, Timestamp: time.Now()}, cache.DefaultExpiration)
	return content, nil
}

// Cached returns the non-expired cache entry of sessionID for key, where key
// is what Key derives for the request.
func (g *Gateway) Cached(sessionID, key string) (Entry, bool) {
	return g.cached(scopedKey(sessionID, key))
}

func (g *Gateway) cached(key string) (Entry, bool) {
	v, ok := g.cache.Get(key)
	if !ok {
		g.cache.Delete(key)
		return Entry{}, false
	}
	e, ok := v.(Entry)
	return e, ok
}

// ClearCache drops every cached response of every session.
func (g *Gateway) ClearCache() {
	g.cache.Flush()
}

// ClearSession drops the cached responses of sessionID.
func (g *Gateway) ClearSession(sessionID string) {
	for key := range g.cache.Items() {
		if inScope(key, sessionID) {
			g.cache.Delete(key)
		}
	}
}

// CancelSession aborts the in-flight requests of sessionID and returns how
// many were cancelled.
func (g *Gateway) CancelSession(sessionID string) int {
	return g.cancelWhere(func(key string) bool { return inScope(key, sessionID) })
}

// CancelAll aborts every tracked in-flight request of every session. It is
// meant for shutdown.
func (g *Gateway) CancelAll() int {
	return g.cancelWhere(func(string) bool { return true })
}

func (g *Gateway) cancelWhere(match func(key string) bool) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for key, calls := range g.inflight {
		if !match(key) {
			continue
		}
		for _, cancel := range calls {
			cancel(ErrCancelled)
			n++
		}
		delete(g.inflight, key)
	}
	if n > 0 {
		cancellationsTotal.Add(float64(n))
	}
	return n
}

// InFlight returns the number of tracked requests.
func (g *Gateway) InFlight() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, calls := range g.inflight {
		n += len(calls)
	}
	return n
}

func (g *Gateway) track(key string, cancel context.CancelCauseFunc) uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq++
	calls := g.inflight[key]
	if calls == nil {
		calls = make(map[uint64]context.CancelCauseFunc)
		g.inflight[key] = calls
	}
	calls[g.seq] = cancel
	return g.seq
}

func (g *Gateway) untrack(key string, id uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	calls := g.inflight[key]
	delete(calls, id)
	if len(calls) == 0 {
		delete(g.inflight, key)
	}
}

func (g *Gateway) cancelKey(key string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	calls := g.inflight[key]
	for _, cancel := range calls {
		cancel(ErrCancelled)
	}
	delete(g.inflight, key)
	if len(calls) > 0 {
		cancellationsTotal.Add(float64(len(calls)))
	}
	return len(calls)
}

func (g *Gateway) retry(ctx context.Context, messages []llm.Message, o Options) (string, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = g.cfg.BackoffBase
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = g.cfg.BackoffLimit
	b.MaxElapsedTime = 0
	b.Reset()

	retries := o.MaxRetries
	if retries < 0 {
		retries = 0
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx)

	var content string
	op := func() error {
		text, err := g.attempt(ctx, messages, o.Timeout)
		if err != nil {
			if errors.Is(err, ErrMalformedResponse) || ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		content = text
		return nil
	}
	notify := func(err error, wait time.Duration) {
		retriesTotal.Inc()
		g.log.WithError(err).WithField("wait", wait).Warn("model request failed, retrying")
	}
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		return "", err
	}
	return content, nil
}

type result struct {
	resp llm.Response
	err  error
}

// attempt races one upstream call against the timeout.
func (g *Gateway) attempt(ctx context.Context, messages []llm.Message, timeout time.Duration) (string, error) {
	actx, cancel := context.WithTimeoutCause(ctx, timeout, ErrTimeout)
	defer cancel()

	ch := make(chan result, 1)
	go func() {
		resp, err := g.upstream.Complete(actx, messages)
		ch <- result{resp: resp, err: err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			if ctx.Err() == nil && errors.Is(context.Cause(actx), ErrTimeout) {
				return "", fmt.Errorf("%w after %s", ErrTimeout, timeout)
			}
			return "", fmt.Errorf("model request failed: %w", r.err)
		}
		text := r.resp.Text()
		if strings.TrimSpace(text) == "" {
			raw, _ := json.Marshal(r.resp)
			g.log.WithField("payload", string(raw)).Warn("model response without content")
			return "", fmt.Errorf("%w: missing choices[0].message.content", ErrMalformedResponse)
		}
		return text, nil
	case <-actx.Done():
		if ctx.Err() == nil {
			return "", fmt.Errorf("%w after %s", ErrTimeout, timeout)
		}
		return "", context.Cause(ctx)
	}
}

// classify maps the terminal error of a Send to the public taxonomy.
func (g *Gateway) classify(parent, callCtx context.Context, err error) error {
	if callCtx.Err() != nil && parent.Err() == nil && errors.Is(context.Cause(callCtx), ErrCancelled) {
		requestsTotal.WithLabelValues("cancelled").Inc()
		return ErrCancelled
	}
	if parent.Err() != nil {
		requestsTotal.WithLabelValues("cancelled").Inc()
		return fmt.Errorf("%w: %v", ErrCancelled, parent.Err())
	}
	switch {
	case errors.Is(err, ErrTimeout):
		requestsTotal.WithLabelValues("timeout").Inc()
	case errors.Is(err, ErrMalformedResponse):
		requestsTotal.WithLabelValues("malformed").Inc()
	default:
		requestsTotal.WithLabelValues("error").Inc()
	}
	return err
}
