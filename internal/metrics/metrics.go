// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Chat request outcomes.
const (
	OutcomeAnswered     = "answered"
	OutcomeFallback     = "fallback"
	OutcomeNoIndex      = "no_index"
	OutcomeEmbedFailed  = "embedding_failed"
	OutcomeUnauthorized = "unauthorized"
	OutcomeBadRequest   = "bad_request"
	OutcomeError        = "error"
)

// Registry is the registry served by Handler. It is separate from the
// default registry so tests can gather it without global state from other
// packages.
var Registry = prometheus.NewRegistry()

var (
	chatRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rolechat_chat_requests_total",
			Help: "Total number of chat requests by role and outcome",
		},
		[]string{"role", "outcome"},
	)
	providerErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rolechat_provider_errors_total",
			Help: "Total number of embedding and generation provider errors by operation and kind",
		},
		[]string{"op", "kind"},
	)
	answerDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rolechat_answer_duration_seconds",
			Help:    "Time spent producing an answer, from query embedding to generation",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~100s
		},
	)
	indexLoads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rolechat_index_loads_total",
			Help: "Total number of role index loads by role and result",
		},
		[]string{"role", "result"},
	)
	ingestChunks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rolechat_ingest_chunks_total",
			Help: "Total number of chunks indexed by role",
		},
		[]string{"role"},
	)
)

func init() {
	Registry.MustRegister(
		chatRequests, providerErrors, answerDuration, indexLoads, ingestChunks,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// Handler serves the registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

func ChatRequest(role, outcome string) {
	chatRequests.WithLabelValues(role, outcome).Inc()
}

func ProviderError(op, kind string) {
	providerErrors.WithLabelValues(op, kind).Inc()
}

func ObserveAnswer(d time.Duration) {
	answerDuration.Observe(d.Seconds())
}

// IndexLoad records a role index load; result is "ok" or a short failure
// reason such as "not_found".
func IndexLoad(role, result string) {
	indexLoads.WithLabelValues(role, result).Inc()
}

func IngestChunks(role string, n int) {
	ingestChunks.WithLabelValues(role).Add(float64(n))
}
