// Package metrics exposes Prometheus instrumentation for the registration
// pipeline, the interview state machine, LLM calls and HTTP handlers.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector. All methods are safe on a nil receiver.
type Metrics struct {
	StageLatency     *prometheus.HistogramVec
	Registrations    *prometheus.CounterVec
	SummaryFallbacks *prometheus.CounterVec
	LLMRequests      *prometheus.CounterVec
	LLMLatency       *prometheus.HistogramVec
	Transitions      *prometheus.CounterVec
	HTTPRequests     *prometheus.CounterVec
	HTTPLatency      *prometheus.HistogramVec

	gatherer prometheus.Gatherer
}

// New registers all collectors with reg. A nil reg uses a fresh registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &Metrics{
		StageLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "interviewd_pipeline_stage_duration_seconds",
			Help:    "Duration of registration pipeline stages",
			Buckets: []float64{0.001, 0.005, 0.025, 0.1, 0.5, 1, 5, 15, 60, 300},
		}, []string{"stage"}), // validate, summarize, questions, persist

		Registrations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "interviewd_registrations_total",
			Help: "Registration pipeline runs by outcome",
		}, []string{"outcome"}),

		SummaryFallbacks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "interviewd_summary_fallbacks_total",
			Help: "Resume summaries produced by local compaction instead of the model",
		}, []string{"reason"}),

		LLMRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "interviewd_llm_requests_total",
			Help: "LLM chat calls by backend and outcome",
		}, []string{"backend", "outcome"}),

		LLMLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "interviewd_llm_request_duration_seconds",
			Help:    "Duration of LLM chat calls",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"backend"}),

		Transitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "interviewd_interview_transitions_total",
			Help: "Registration status transitions made by the interview flow",
		}, []string{"from", "to"}),

		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "interviewd_http_requests_total",
			Help: "HTTP requests by method, route pattern and status code",
		}, []string{"method", "route", "code"}),

		HTTPLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "interviewd_http_request_duration_seconds",
			Help:    "HTTP request duration by route pattern",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),

		gatherer: reg,
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// ObserveStage records the duration of one pipeline stage.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m != nil {
		m.StageLatency.WithLabelValues(stage).Observe(d.Seconds())
	}
}

// ObserveRegistration counts a finished pipeline run.
func (m *Metrics) ObserveRegistration(outcome string) {
	if m != nil {
		m.Registrations.WithLabelValues(outcome).Inc()
	}
}

// ObserveSummaryFallback counts a summary produced without the model.
func (m *Metrics) ObserveSummaryFallback(reason string) {
	if m != nil {
		m.SummaryFallbacks.WithLabelValues(reason).Inc()
	}
}

// ObserveLLMCall records one chat call.
func (m *Metrics) ObserveLLMCall(backend, outcome string, d time.Duration) {
	if m != nil {
		m.LLMRequests.WithLabelValues(backend, outcome).Inc()
		m.LLMLatency.WithLabelValues(backend).Observe(d.Seconds())
	}
}

// ObserveTransition counts a status change.
func (m *Metrics) ObserveTransition(from, to string) {
	if m != nil {
		m.Transitions.WithLabelValues(from, to).Inc()
	}
}

// ObserveHTTP records one handled request. route is the matched pattern,
// not the raw path.
func (m *Metrics) ObserveHTTP(method, route string, code int, d time.Duration) {
	if m != nil {
		m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
		m.HTTPLatency.WithLabelValues(route).Observe(d.Seconds())
	}
}
