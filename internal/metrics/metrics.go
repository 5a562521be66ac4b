// Package metrics exposes Prometheus counters and histograms for request
// volume, latency and token throughput, labelled by anonymized user.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	TokenTypeInput  = "input"
	TokenTypeOutput = "output"
)

type Metrics struct {
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	llmTokens       *prometheus.CounterVec
	inferenceTokens *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "llm_requests_total",
			Help: "Total LLM proxy requests.",
		}, []string{"user", "model", "endpoint", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "llm_request_duration_seconds",
			Help:    "LLM request duration in seconds.",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"user", "model", "endpoint"}),
		llmTokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "llm_tokens_total",
			Help: "Total tokens processed, by direction.",
		}, []string{"user", "model", "type"}),
		inferenceTokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "inference_tokens_total",
			Help: "Total inference tokens processed, by direction.",
		}, []string{"user", "model", "type"}),
	}

	m.registry.MustRegister(m.requestsTotal, m.requestDuration, m.llmTokens, m.inferenceTokens)

	return m
}

// ObserveRequest records one completed request.
func (m *Metrics) ObserveRequest(user, model, endpoint string, status int, duration time.Duration) {
	m.requestsTotal.WithLabelValues(user, model, endpoint, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(user, model, endpoint).Observe(duration.Seconds())
}

// ObserveTokens records the token usage of one request. Both token families
// carry the same values; dashboards keyed on either name keep working.
func (m *Metrics) ObserveTokens(user, model string, inputTokens, outputTokens int) {
	for _, vec := range []*prometheus.CounterVec{m.llmTokens, m.inferenceTokens} {
		vec.WithLabelValues(user, model, TokenTypeInput).Add(float64(inputTokens))
		vec.WithLabelValues(user, model, TokenTypeOutput).Add(float64(outputTokens))
	}
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
