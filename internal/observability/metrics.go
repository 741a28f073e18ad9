package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "rag_gateway"

// Metrics holds the Prometheus collectors for the query pipeline
type Metrics struct {
	queriesTotal        *prometheus.CounterVec
	rateLimitRejections *prometheus.CounterVec
	providerRequests    *prometheus.CounterVec
	providerLatency     *prometheus.HistogramVec
	fallbacksTotal      prometheus.Counter
	rerankDegraded      *prometheus.CounterVec
	retrievalResults    prometheus.Histogram
	toolCalls           *prometheus.CounterVec
	usageDropped        prometheus.Counter
}

// NewMetrics registers all collectors on reg. Pass prometheus.NewRegistry()
// in tests to avoid duplicate registration on the default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		queriesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "queries_total",
				Help:      "Total number of handled queries by outcome",
			},
			[]string{"status"},
		),
		rateLimitRejections: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limit_rejections_total",
				Help:      "Queries rejected by the per-tenant rate limiter",
			},
			[]string{"plan"},
		),
		providerRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_requests_total",
				Help:      "Generation provider calls by outcome",
			},
			[]string{"provider", "model", "status"},
		),
		providerLatency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "provider_request_duration_seconds",
				Help:      "Generation provider call latency",
				Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32},
			},
			[]string{"provider"},
		),
		fallbacksTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_fallbacks_total",
			Help:      "Queries rerouted to the secondary provider after retries were exhausted",
		}),
		rerankDegraded: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rerank_degraded_total",
				Help:      "Rerank calls answered with the distance-derived similarity proxy",
			},
			[]string{"reason"},
		),
		retrievalResults: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retrieval_results",
			Help:      "Number of results returned per retrieval",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13},
		}),
		toolCalls: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tool_calls_total",
				Help:      "Tool calls executed by the agent loop",
			},
			[]string{"tool"},
		),
		usageDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "usage_records_dropped_total",
			Help:      "Usage records dropped because the buffer was full",
		}),
	}
}

func (m *Metrics) RecordQuery(status string) {
	if m == nil {
		return
	}
	m.queriesTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) RecordRateLimitRejection(plan string) {
	if m == nil {
		return
	}
	m.rateLimitRejections.WithLabelValues(plan).Inc()
}

func (m *Metrics) RecordProviderRequest(provider, model, status string, latency time.Duration) {
	if m == nil {
		return
	}
	m.providerRequests.WithLabelValues(provider, model, status).Inc()
	m.providerLatency.WithLabelValues(provider).Observe(latency.Seconds())
}

func (m *Metrics) RecordFallback() {
	if m == nil {
		return
	}
	m.fallbacksTotal.Inc()
}

func (m *Metrics) RecordRerankDegraded(reason string) {
	if m == nil {
		return
	}
	m.rerankDegraded.WithLabelValues(reason).Inc()
}

func (m *Metrics) RecordRetrievalResults(n int) {
	if m == nil {
		return
	}
	m.retrievalResults.Observe(float64(n))
}

func (m *Metrics) RecordToolCall(tool string) {
	if m == nil {
		return
	}
	m.toolCalls.WithLabelValues(tool).Inc()
}

func (m *Metrics) RecordUsageDropped() {
	if m == nil {
		return
	}
	m.usageDropped.Inc()
}
