// Package metrics exports Prometheus metrics for mocksmith: HTTP traffic,
// generation pipeline behavior, quota rejections, and websocket load.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once     sync.Once
	instance *Metrics
)

// Metrics holds all Prometheus metric collectors.
type Metrics struct {
	// HTTP
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	// Generation pipeline
	GenerationRequestsTotal  *prometheus.CounterVec
	GenerationDuration       *prometheus.HistogramVec
	GenerationAttemptsTotal  *prometheus.CounterVec
	GenerationFallbacksTotal *prometheus.CounterVec
	GenerationExhaustedTotal prometheus.Counter
	PlanningFailuresTotal    prometheus.Counter
	TokensUsedTotal          *prometheus.CounterVec
	GenerationCostTotal      *prometheus.CounterVec
	ScreensGeneratedTotal    prometheus.Counter

	// Quotas and billing
	QuotaRejectionsTotal *prometheus.CounterVec
	WebhookEventsTotal   *prometheus.CounterVec

	// Figma exports
	ExportsTotal   *prometheus.CounterVec
	ExportDuration prometheus.Histogram

	// WebSocket
	WSConnectionsActive prometheus.Gauge
	WSMessagesSent      prometheus.Counter
}

// Get returns the singleton metrics instance, registering collectors on
// first use.
func Get() *Metrics {
	once.Do(func() {
		instance = newMetrics()
	})
	return instance
}

func newMetrics() *Metrics {
	return &Metrics{
		HTTPRequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "mocksmith_http_requests_total",
			Help: "Total HTTP requests by endpoint, method and status",
		}, []string{"endpoint", "method", "status"}),
		HTTPRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mocksmith_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"endpoint", "method"}),
		HTTPRequestsInFlight: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "mocksmith_http_requests_in_flight",
			Help: "HTTP requests currently being served",
		}),

		GenerationRequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "mocksmith_generation_requests_total",
			Help: "Generation requests by mode and outcome",
		}, []string{"mode", "outcome"}),
		GenerationDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mocksmith_generation_duration_seconds",
			Help:    "End-to-end pipeline latency by final model",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 30, 60, 90, 120},
		}, []string{"model", "provider"}),
		GenerationAttemptsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "mocksmith_generation_attempts_total",
			Help: "Individual model calls by model, provider and result",
		}, []string{"model", "provider", "result"}),
		GenerationFallbacksTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "mocksmith_generation_fallbacks_total",
			Help: "Chain advances by the model being abandoned",
		}, []string{"from_model"}),
		GenerationExhaustedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mocksmith_generation_exhausted_total",
			Help: "Requests that failed every model in the chain",
		}),
		PlanningFailuresTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mocksmith_planning_failures_total",
			Help: "Planning-stage failures (non-fatal, builder proceeds)",
		}),
		TokensUsedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "mocksmith_tokens_used_total",
			Help: "Tokens consumed by model and token kind",
		}, []string{"model", "kind"}),
		GenerationCostTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "mocksmith_generation_cost_dollars_total",
			Help: "Estimated provider spend in dollars",
		}, []string{"model", "provider"}),
		ScreensGeneratedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mocksmith_screens_generated_total",
			Help: "Mockup screens parsed out of builder responses",
		}),

		QuotaRejectionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "mocksmith_quota_rejections_total",
			Help: "Requests rejected by quota middleware",
		}, []string{"usage_type", "plan"}),
		WebhookEventsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "mocksmith_stripe_webhook_events_total",
			Help: "Stripe webhook events by type and result",
		}, []string{"event_type", "result"}),

		ExportsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "mocksmith_figma_exports_total",
			Help: "Figma export bundles by result",
		}, []string{"result"}),
		ExportDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "mocksmith_figma_export_duration_seconds",
			Help:    "Export bundle build and upload latency",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),

		WSConnectionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "mocksmith_websocket_connections_active",
			Help: "Open websocket connections",
		}),
		WSMessagesSent: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mocksmith_websocket_messages_sent_total",
			Help: "Messages pushed to websocket clients",
		}),
	}
}

// RecordHTTPRequest records one completed HTTP request.
func (m *Metrics) RecordHTTPRequest(endpoint, method, status string, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(endpoint, method, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(endpoint, method).Observe(duration.Seconds())
}

// RecordGeneration records a finished pipeline run.
func (m *Metrics) RecordGeneration(mode, outcome, model, provider string, duration time.Duration, promptTokens, completionTokens int, cost float64) {
	m.GenerationRequestsTotal.WithLabelValues(mode, outcome).Inc()
	if model != "" {
		m.GenerationDuration.WithLabelValues(model, provider).Observe(duration.Seconds())
		m.TokensUsedTotal.WithLabelValues(model, "prompt").Add(float64(promptTokens))
		m.TokensUsedTotal.WithLabelValues(model, "completion").Add(float64(completionTokens))
		m.GenerationCostTotal.WithLabelValues(model, provider).Add(cost)
	}
}

// RecordPipelineEvent bumps attempt/fallback/exhaustion counters from
// pipeline progress events.
func (m *Metrics) RecordPipelineEvent(eventType, model, provider string) {
	switch eventType {
	case "attempt":
		m.GenerationAttemptsTotal.WithLabelValues(model, provider, "issued").Inc()
	case "fallback":
		m.GenerationFallbacksTotal.WithLabelValues(model).Inc()
	case "exhausted":
		m.GenerationExhaustedTotal.Inc()
	}
}
