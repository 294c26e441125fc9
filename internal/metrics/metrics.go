// Package metrics holds the Prometheus collectors shared by the exchange client,
// the acquisition machine and the analysis dispatcher.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	exchangeRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tsa_exchange_requests_total",
		Help: "Exchange REST requests by endpoint and HTTP status (0 = transport failure)",
	}, []string{"endpoint", "status"})

	exchangeLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tsa_exchange_request_duration_seconds",
		Help:    "Exchange REST request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint"})

	modelTokens = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tsa_model_tokens_total",
		Help: "Tokens reported by the model per call kind",
	}, []string{"kind"})

	modelCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tsa_model_calls_total",
		Help: "Model calls per kind and outcome",
	}, []string{"kind", "outcome"})

	acquisitionTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tsa_acquisition_transitions_total",
		Help: "Acquisition phase transitions",
	}, []string{"from", "to"})

	httpRequests = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tsa_http_request_duration_seconds",
		Help:    "API request latency by route and status",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})
)

// ObserveExchangeRequest records one exchange round trip
func ObserveExchangeRequest(endpoint string, status int, d time.Duration) {
	exchangeRequests.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()
	exchangeLatency.WithLabelValues(endpoint).Observe(d.Seconds())
}

// ObserveModelCall records a model call outcome and, on success, its token usage
func ObserveModelCall(kind string, tokens int, err error) {
	if err != nil {
		modelCalls.WithLabelValues(kind, "error").Inc()
		return
	}
	modelCalls.WithLabelValues(kind, "ok").Inc()
	modelTokens.WithLabelValues(kind).Add(float64(tokens))
}

// ObserveTransition records an acquisition phase change
func ObserveTransition(from, to string) {
	acquisitionTransitions.WithLabelValues(from, to).Inc()
}

// ObserveHTTPRequest records one API request
func ObserveHTTPRequest(method, route string, status int, d time.Duration) {
	httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Observe(d.Seconds())
}
