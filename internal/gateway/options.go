package gateway

import "time"

// Options control a single Send. Unset options fall back to the gateway Config;
// caching and cancellation of superseded requests are on by default.
type Options struct {
	Timeout        time.Duration
	MaxRetries     int
	UseCache       bool
	CacheKey       string
	CancelPrevious bool
}

// DefaultOptions returns the per-request defaults for a gateway built from cfg.
func DefaultOptions(cfg Config) Options {
	cfg = cfg.normalize()
	return Options{
		Timeout:        cfg.Timeout,
		MaxRetries:     cfg.MaxRetries,
		UseCache:       true,
		CancelPrevious: true,
	}
}

// Option mutates Options.
type Option func(*Options)

// WithTimeout bounds each attempt.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) {
		if d > 0 {
			o.Timeout = d
		}
	}
}

// WithMaxRetries sets how many times a failed attempt is retried.
func WithMaxRetries(n int) Option {
	return func(o *Options) {
		if n >= 0 {
			o.MaxRetries = n
		}
	}
}

// WithCache toggles the response cache for this request.
func WithCache(enabled bool) Option {
	return func(o *Options) { o.UseCache = enabled }
}

// WithCacheKey overrides the derived request key.
func WithCacheKey(key string) Option {
	return func(o *Options) { o.CacheKey = key }
}

// WithCancelPrevious toggles cancellation of in-flight requests sharing the key.
func WithCancelPrevious(enabled bool) Option {
	return func(o *Options) { o.CancelPrevious = enabled }
}
