package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveRegistration("created")
	m.ObserveRegistration("created")
	m.ObserveRegistration("duplicate_id")
	m.ObserveSummaryFallback("error")
	m.ObserveTransition("processing", "in_progress")
	m.ObserveLLMCall("openai", "timeout", 2*time.Second)

	out := scrape(t, m)
	assert.Contains(t, out, `interviewd_registrations_total{outcome="created"} 2`)
	assert.Contains(t, out, `interviewd_registrations_total{outcome="duplicate_id"} 1`)
	assert.Contains(t, out, `interviewd_summary_fallbacks_total{reason="error"} 1`)
	assert.Contains(t, out, `interviewd_interview_transitions_total{from="processing",to="in_progress"} 1`)
	assert.Contains(t, out, `interviewd_llm_requests_total{backend="openai",outcome="timeout"} 1`)
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveStage("validate", time.Millisecond)
		m.ObserveRegistration("created")
		m.ObserveSummaryFallback("empty")
		m.ObserveLLMCall("ollama", "ok", time.Millisecond)
		m.ObserveTransition("a", "b")
		m.ObserveHTTP("GET", "/api/health", 200, time.Millisecond)
	})
}

func TestHandlerExposesHistograms(t *testing.T) {
	m := New(nil)
	m.ObserveStage("persist", 10*time.Millisecond)
	m.ObserveHTTP("POST", "/api/interview/answer", 200, time.Millisecond)

	out := scrape(t, m)
	assert.Contains(t, out, `interviewd_pipeline_stage_duration_seconds_count{stage="persist"} 1`)
	assert.Contains(t, out, `interviewd_http_requests_total{code="200",method="POST",route="/api/interview/answer"} 1`)
}
