package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/kalambet/interviewd/internal/config"
	"github.com/kalambet/interviewd/internal/engine"
	"github.com/kalambet/interviewd/internal/interview"
	"github.com/kalambet/interviewd/internal/metrics"
	"github.com/kalambet/interviewd/internal/nlu"
	"github.com/kalambet/interviewd/internal/pipeline"
	"github.com/kalambet/interviewd/internal/resume"
	"github.com/kalambet/interviewd/internal/storage"
)

const (
	testAdminUser     = "admin"
	testAdminPassword = "correct horse"
	testJWTSecret     = "test-jwt-secret"
)

type stubEngine struct {
	models []string
	reply  string
	err    error
}

func (s *stubEngine) Chat(context.Context, engine.Request) (string, error) { return s.reply, s.err }
func (s *stubEngine) IsRunning(context.Context) bool                     { return s.err == nil }
func (s *stubEngine) ListModels(context.Context) ([]string, error)       { return s.models, s.err }
func (s *stubEngine) HasModel(context.Context, string) bool              { return s.err == nil }
func (s *stubEngine) Backend() string                                    { return "stub" }
func (s *stubEngine) Model() string                                      { return "stub-model" }

type testEnv struct {
	handler http.Handler
	store   *storage.Store
	deps    AppDeps
}

func setupRouter(t *testing.T, edit func(d *AppDeps)) testEnv {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	hash, err := bcrypt.GenerateFromPassword([]byte(testAdminPassword), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}

	m := metrics.New(nil)
	deps := AppDeps{
		Store:      store,
		Pipeline:   pipeline.New(store, resume.NewSummarizer(nil, 0, m), m),
		Interview:  interview.NewService(store, m),
		Classifier: nlu.NewClassifier(nil),
		Metrics:    m,
		Admin: config.AdminConfig{
			Username:     testAdminUser,
			PasswordHash: string(hash),
			JWTSecret:    testJWTSecret,
			TokenTTL:     "1h",
		},
	}
	if edit != nil {
		edit(&deps)
	}
	return testEnv{handler: NewRouter(deps), store: store, deps: deps}
}

func (e testEnv) do(t *testing.T, method, url, body string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, url, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		req.Header[k] = v
	}
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("response is not JSON: %v (%s)", err, rr.Body.String())
	}
	return body
}

func TestHealth(t *testing.T) {
	env := setupRouter(t, nil)

	rr := env.do(t, http.MethodGet, "/api/health", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	body := decodeBody(t, rr)
	if body["status"] != "OK" || body["message"] != "Server is running" {
		t.Errorf("body = %v", body)
	}
	if _, err := time.Parse(time.RFC3339Nano, body["timestamp"].(string)); err != nil {
		t.Errorf("timestamp %v: %v", body["timestamp"], err)
	}
}

func TestErrorBodyShape(t *testing.T) {
	env := setupRouter(t, nil)

	rr := env.do(t, http.MethodPost, "/api/registrations", "{not json", nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
	body := decodeBody(t, rr)
	if body["success"] != false {
		t.Errorf("success = %v, want false", body["success"])
	}
	errObj, ok := body["error"].(map[string]any)
	if !ok || errObj["type"] != "invalid_request_error" || errObj["message"] != body["message"] {
		t.Errorf("error = %v", body["error"])
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := setupRouter(t, nil)

	env.do(t, http.MethodGet, "/api/health", "", nil)
	env.do(t, http.MethodGet, "/api/interview/session/nope", "", nil)

	rr := env.do(t, http.MethodGet, "/metrics", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	text := rr.Body.String()
	for _, want := range []string{
		`interviewd_http_requests_total{code="200",method="GET",route="/api/health"} 1`,
		`route="/api/interview/session/{token}"`,
	} {
		if !strings.Contains(text, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestSubmitRateLimited(t *testing.T) {
	env := setupRouter(t, func(d *AppDeps) {
		d.SubmitLimiter = NewClientLimiter(0.001, 1)
	})

	first := env.do(t, http.MethodPost, "/api/registrations", `{"name":"A","email":"a@example.com","registrationId":"R1"}`, nil)
	if first.Code != http.StatusCreated {
		t.Fatalf("first status = %d; body = %s", first.Code, first.Body.String())
	}
	second := env.do(t, http.MethodPost, "/api/registrations", `{"name":"B","email":"b@example.com","registrationId":"R2"}`, nil)
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("second status = %d, want 429", second.Code)
	}
	if second.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After header")
	}

	// Interview routes are not throttled.
	rr := env.do(t, http.MethodGet, "/api/health", "", nil)
	if rr.Code != http.StatusOK {
		t.Errorf("health status = %d", rr.Code)
	}
}

func TestClientLimiter_PerAddress(t *testing.T) {
	l := NewClientLimiter(0.001, 2)
	if !l.Allow("10.0.0.1") || !l.Allow("10.0.0.1") {
		t.Fatal("burst of 2 should be allowed")
	}
	if l.Allow("10.0.0.1") {
		t.Error("third request should be throttled")
	}
	if !l.Allow("10.0.0.2") {
		t.Error("other address should have its own bucket")
	}
}

func TestClientLimiter_SweepsIdle(t *testing.T) {
	l := NewClientLimiter(1, 1)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	l.Allow("10.0.0.1")
	now = now.Add(idleLimiterTTL + time.Second)
	l.Allow("10.0.0.2")

	if _, ok := l.buckets["10.0.0.1"]; ok {
		t.Error("idle bucket was not swept")
	}
	if len(l.buckets) != 1 {
		t.Errorf("buckets = %d, want 1", len(l.buckets))
	}
}

func TestClientLimiter_KeepsFreshBucket(t *testing.T) {
	l := NewClientLimiter(0.001, 1)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	if !l.Allow("10.0.0.1") {
		t.Fatal("first request should be allowed")
	}
	if _, ok := l.buckets["10.0.0.1"]; !ok {
		t.Fatal("new bucket was swept on insert")
	}
	if l.Allow("10.0.0.1") {
		t.Error("second request should be throttled")
	}
}

func TestParseIntParam(t *testing.T) {
	tests := []struct {
		query string
		want  int
	}{
		{"", 100},
		{"limit=5", 5},
		{"limit=-1", 100},
		{"limit=abc", 100},
		{"limit=5000", 1000},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/x?"+tt.query, nil)
		if got := parseIntParam(req, "limit", 100, 1000); got != tt.want {
			t.Errorf("parseIntParam(%q) = %d, want %d", tt.query, got, tt.want)
		}
	}
}

func TestYesNo(t *testing.T) {
	env := setupRouter(t, nil)

	rr := env.do(t, http.MethodPost, "/api/nlu/yesno", `{"text":"yes"}`, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	if body["success"] != true || body["label"] != "yes" || body["confidence"] != 0.9 {
		t.Errorf("body = %v", body)
	}
}

func TestYesNo_EmptyText(t *testing.T) {
	env := setupRouter(t, nil)

	for _, payload := range []string{`{"text":"   "}`, `{}`, ""} {
		rr := env.do(t, http.MethodPost, "/api/nlu/yesno", payload, nil)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("payload %q: status = %d, want 400", payload, rr.Code)
			continue
		}
		if msg := decodeBody(t, rr)["message"]; msg != "text is required" {
			t.Errorf("payload %q: message = %v", payload, msg)
		}
	}
}

func TestLLMPing_NoEngine(t *testing.T) {
	env := setupRouter(t, nil)

	rr := env.do(t, http.MethodGet, "/api/llm/ping", "", nil)
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rr.Code)
	}
	body := decodeBody(t, rr)
	if body["ok"] != false || body["error"] == "" {
		t.Errorf("body = %v", body)
	}
}

func TestLLMPing_ListsModels(t *testing.T) {
	env := setupRouter(t, func(d *AppDeps) {
		d.Engine = &stubEngine{models: []string{"phi-3"}, reply: "pong\n"}
	})

	rr := env.do(t, http.MethodGet, "/api/llm/ping", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	if body["ok"] != true || body["backend"] != "stub" {
		t.Errorf("body = %v", body)
	}

	rr = env.do(t, http.MethodPost, "/api/llm/test", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("test status = %d", rr.Code)
	}
	if got := decodeBody(t, rr)["content"]; got != "pong" {
		t.Errorf("content = %v, want pong", got)
	}
}

func TestLLMPing_Unreachable(t *testing.T) {
	env := setupRouter(t, func(d *AppDeps) {
		d.Engine = &stubEngine{err: io.ErrUnexpectedEOF}
	})

	rr := env.do(t, http.MethodGet, "/api/llm/ping", "", nil)
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rr.Code)
	}
	if !bytes.Contains(rr.Body.Bytes(), []byte(io.ErrUnexpectedEOF.Error())) {
		t.Errorf("body = %s", rr.Body.String())
	}
}
