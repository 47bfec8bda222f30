package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"github.com/kalambet/interviewd/internal/config"
	"github.com/kalambet/interviewd/internal/engine"
	"github.com/kalambet/interviewd/internal/interview"
	"github.com/kalambet/interviewd/internal/metrics"
	"github.com/kalambet/interviewd/internal/nlu"
	"github.com/kalambet/interviewd/internal/pipeline"
	"github.com/kalambet/interviewd/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

const defaultUploadLimit = 10 << 20 // 10MB

var validate = validator.New(validator.WithRequiredStructEnabled())

// AppDeps holds everything the HTTP handlers need.
type AppDeps struct {
	Store      storage.Repository
	Pipeline   *pipeline.Pipeline
	Interview  *interview.Service
	Classifier *nlu.Classifier
	Engine     engine.Engine   // optional; LLM routes answer 500 when nil
	Metrics    *metrics.Metrics // optional
	Admin      config.AdminConfig

	// UploadLimit caps the resume upload in bytes. Zero means 10MB.
	UploadLimit int64
	// SubmitLimiter throttles registration submissions. Nil disables it.
	SubmitLimiter *ClientLimiter
}

func (d AppDeps) uploadLimit() int64 {
	if d.UploadLimit <= 0 {
		return defaultUploadLimit
	}
	return d.UploadLimit
}

// NewRouter returns the full HTTP API.
func NewRouter(deps AppDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(slog.Default()))
	if deps.Metrics != nil {
		r.Use(instrument(deps.Metrics))
		r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", handleHealth)

		r.Group(func(r chi.Router) {
			if deps.SubmitLimiter != nil {
				r.Use(deps.SubmitLimiter.Middleware)
			}
			r.Post("/submit-interview-form", handleSubmitForm(deps))
			r.Post("/registrations", handleSubmitJSON(deps))
		})

		r.Route("/interview", func(r chi.Router) {
			r.Post("/start", handleInterviewStart(deps))
			r.Get("/session/{token}", handleInterviewSession(deps))
			r.Post("/answer", handleInterviewAnswer(deps))
			r.Get("/next-question/{registrationId}", handleNextQuestion(deps))
			r.Post("/complete", handleInterviewComplete(deps))
		})

		r.Post("/admin/login", handleAdminLogin(deps))
		r.Group(func(r chi.Router) {
			r.Use(AdminAuth(deps.Admin.JWTSecret))
			r.Get("/registrations", handleListRegistrations(deps))
			r.Get("/registrations/{id}", handleGetRegistration(deps))
			r.Patch("/registrations/{id}/status", handleUpdateStatus(deps))
		})

		r.Get("/llm/ping", handleLLMPing(deps))
		r.Post("/llm/test", handleLLMTest(deps))
		r.Post("/nlu/yesno", handleYesNo(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "OK",
		"message":   "Server is running",
		"timestamp": time.Now().UTC(),
	})
}

// requestLogger logs one line per request at debug level, and at warn for
// server errors.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)

			level := slog.LevelDebug
			if ww.Status() >= http.StatusInternalServerError {
				level = slog.LevelWarn
			}
			logger.Log(r.Context(), level, "http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}

// instrument records request counts and latencies labelled by the chi
// route pattern, so path parameters do not explode the label space.
func instrument(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)

			route := "unmatched"
			if rc := chi.RouteContext(r.Context()); rc != nil {
				if p := rc.RoutePattern(); p != "" {
					route = p
				}
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			m.ObserveHTTP(r.Method, route, status, time.Since(start))
		})
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	writeJSON(w, code, map[string]any{
		"success": false,
		"message": msg,
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
