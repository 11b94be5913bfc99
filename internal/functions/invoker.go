// Package functions calls the hosted edge functions the dashboard relies on
// (logo fetch, search volume, SWOT and the model proxy).
package functions

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/mohammad-safakhou/brandscope/internal/logging"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Function names.
const (
	FetchLogoFn         = "fetch-logo"
	FetchSearchVolumeFn = "fetch-search-volume"
	PerplexityFn        = "perplexity"
	SWOTAnalysisFn      = "swat-analysis"
)

// Known reports whether name is a function the service may proxy.
func Known(name string) bool {
	switch name {
	case FetchLogoFn, FetchSearchVolumeFn, PerplexityFn, SWOTAnalysisFn:
		return true
	}
	return false
}

// ErrMalformed is returned when a function answers with an unexpected shape.
var ErrMalformed = errors.New("malformed function response")

// StatusError is a non-2xx function response.
type StatusError struct {
	Function string
	Code     int
	Body     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("function %s returned status %d: %s", e.Function, e.Code, e.Body)
}

// Retryable reports whether the status is worth another attempt.
func (e *StatusError) Retryable() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

// Config configures an Invoker.
type Config struct {
	BaseURL       string
	APIKey        string
	Timeout       time.Duration
	MaxRetries    int
	RatePerSecond float64
	Burst         int
	BackoffBase   time.Duration
}

// Invoker posts JSON to {base}/functions/v1/{name}.
type Invoker struct {
	baseURL string
	apiKey  string
	client  *http.Client
	limiter *rate.Limiter
	retries int
	backoff time.Duration
	log     logrus.FieldLogger
}

func NewInvoker(cfg Config, log logrus.FieldLogger) *Invoker {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 300 * time.Millisecond
	}
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	return &Invoker{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(limit, cfg.Burst),
		retries: cfg.MaxRetries,
		backoff: cfg.BackoffBase,
		log:     logging.OrDiscard(log).WithField("component", "functions"),
	}
}

// Invoke calls name with body and decodes the JSON answer into out (when non-nil).
// Transport errors, 429 and 5xx answers are retried with exponential backoff.
func (c *Invoker) Invoke(ctx context.Context, name string, body, out any) error {
	raw, err := c.InvokeRaw(ctx, name, body)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		c.log.WithField("function", name).WithField("payload", string(raw)).Warn("undecodable function response")
		return fmt.Errorf("%w: %s: %v", ErrMalformed, name, err)
	}
	return nil
}

// InvokeRaw is Invoke without decoding.
func (c *Invoker) InvokeRaw(ctx context.Context, name string, body any) (json.RawMessage, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal %s request: %w", name, err)
	}
	url := c.baseURL + "/functions/v1/" + name

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.backoff
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.retries)), ctx)

	var raw []byte
	op := func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
			req.Header.Set("apikey", c.apiKey)
		}
		resp, err := c.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		defer resp.Body.Close()
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			if len(data) > 4096 {
				data = data[:4096]
			}
			serr := &StatusError{Function: name, Code: resp.StatusCode, Body: string(data)}
			if !serr.Retryable() {
				return backoff.Permanent(serr)
			}
			return serr
		}
		raw = data
		return nil
	}
	notify := func(err error, wait time.Duration) {
		c.log.WithError(err).WithFields(logrus.Fields{"function": name, "wait": wait}).Warn("function call failed, retrying")
	}
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		return nil, err
	}
	return raw, nil
}
