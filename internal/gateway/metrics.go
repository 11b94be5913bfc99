package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "brandscope",
		Subsystem: "gateway",
		Name:      "requests_total",
		Help:      "Model requests by outcome (cache_hit, success, error, timeout, malformed, cancelled).",
	}, []string{"outcome"})

	retriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "brandscope",
		Subsystem: "gateway",
		Name:      "retries_total",
		Help:      "Retried model request attempts.",
	})

	cancellationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "brandscope",
		Subsystem: "gateway",
		Name:      "cancellations_total",
		Help:      "In-flight requests cancelled by a newer request or an explicit cancel.",
	})

	upstreamSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "brandscope",
		Subsystem: "gateway",
		Name:      "upstream_seconds",
		Help:      "Time spent waiting on the model, retries included.",
		Buckets:   prometheus.ExponentialBuckets(0.25, 2, 8),
	})
)
