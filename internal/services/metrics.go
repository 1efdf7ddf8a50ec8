package services

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// RecommendationMetrics instruments the facade and the mixed aggregator.
type RecommendationMetrics struct {
	requests         *prometheus.CounterVec
	requestLatency   *prometheus.HistogramVec
	strategyLatency  *prometheus.HistogramVec
	strategyFailures *prometheus.CounterVec
}

// NewRecommendationMetrics registers the collectors with reg. Pass
// prometheus.DefaultRegisterer in production and a fresh registry in tests.
func NewRecommendationMetrics(reg prometheus.Registerer) *RecommendationMetrics {
	factory := promauto.With(reg)

	return &RecommendationMetrics{
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "recommendation_requests_total",
			Help: "Recommendation operations by outcome",
		}, []string{"operation", "status"}),
		requestLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "recommendation_request_duration_seconds",
			Help:    "Recommendation operation latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		strategyLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "recommendation_strategy_duration_seconds",
			Help:    "Latency of each strategy inside a mixed request",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 1.5, 2.5},
		}, []string{"strategy"}),
		strategyFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "recommendation_strategy_failures_total",
			Help: "Strategies that failed or timed out inside a mixed request",
		}, []string{"strategy"}),
	}
}

func (m *RecommendationMetrics) observeRequest(operation string, start time.Time, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = string(KindOf(err))
		if status == "" {
			status = "error"
		}
	}
	m.requests.WithLabelValues(operation, status).Inc()
	m.requestLatency.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

func (m *RecommendationMetrics) observeStrategy(strategy string, latency time.Duration, err error) {
	if m == nil {
		return
	}
	m.strategyLatency.WithLabelValues(strategy).Observe(latency.Seconds())
	if err != nil {
		m.strategyFailures.WithLabelValues(strategy).Inc()
	}
}
