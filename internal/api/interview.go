package api

import (
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/interviewd/internal/interview"
	"github.com/kalambet/interviewd/internal/storage"
)

type lookupRequest struct {
	RegistrationID string `json:"registrationId"`
	SessionToken   string `json:"sessionToken"`
}

func (l lookupRequest) lookup() interview.Lookup {
	return interview.Lookup{Token: l.SessionToken, RegistrationID: l.RegistrationID}
}

type answerRequest struct {
	lookupRequest
	Answer        string          `json:"answer"`
	QuestionIndex json.RawMessage `json:"questionIndex"`
	QuestionText  string          `json:"questionText"`
}

// questionIndex returns the client-supplied index when it is an integral
// JSON number. Anything else falls back to the session's current question.
func questionIndex(raw json.RawMessage) *int {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var f float64
	if json.Unmarshal(raw, &f) != nil || f != math.Trunc(f) {
		return nil
	}
	// Out-of-range values still reach the service and fail as invalid.
	f = math.Max(math.Min(f, math.MaxInt32), math.MinInt32)
	i := int(f)
	return &i
}

// decodeOptional decodes a JSON body, treating an empty body as the zero
// value.
func decodeOptional(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// interviewError maps interview errors to responses.
func interviewError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, interview.ErrSessionExpired):
		httpError(w, http.StatusNotFound, "not_found", "Session not found or expired")
	case errors.Is(err, interview.ErrNotFound), errors.Is(err, storage.ErrNotFound):
		httpError(w, http.StatusNotFound, "not_found", "Registration not found")
	case errors.Is(err, interview.ErrInvalidIndex):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "Invalid question index")
	default:
		httpError(w, http.StatusInternalServerError, "api_error", "Internal server error: %v", err)
	}
}

func handleInterviewStart(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req lookupRequest
		if err := decodeOptional(w, r, &req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		res, err := deps.Interview.Start(r.Context(), req.lookup())
		if err != nil {
			interviewError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"message": "Interview start recorded",
			"data": map[string]any{
				"registrationId": res.RegistrationID,
				"startedAt":      res.StartedAt,
				"status":         res.Status,
			},
		})
	}
}

type sessionResponse struct {
	storage.Registration
	CurrentQuestion *storage.QuestionAnswer `json:"currentQuestion"`
}

func handleInterviewSession(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		view, err := deps.Interview.Session(r.Context(), chi.URLParam(r, "token"))
		if err != nil {
			if errors.Is(err, interview.ErrNotFound) {
				err = interview.ErrSessionExpired
			}
			interviewError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, sessionResponse{
			Registration:    view.Registration,
			CurrentQuestion: view.CurrentQuestion,
		})
	}
}

func handleInterviewAnswer(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req answerRequest
		if err := decodeOptional(w, r, &req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		next, err := deps.Interview.Answer(r.Context(), interview.AnswerRequest{
			Lookup:        req.lookup(),
			Answer:        req.Answer,
			QuestionIndex: questionIndex(req.QuestionIndex),
			QuestionText:  req.QuestionText,
		})
		if err != nil {
			interviewError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success":           true,
			"nextQuestionIndex": next,
		})
	}
}

func handleNextQuestion(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q, err := deps.Interview.NextQuestion(r.Context(), chi.URLParam(r, "registrationId"))
		if err != nil {
			interviewError(w, err)
			return
		}
		if q.Completed {
			writeJSON(w, http.StatusOK, map[string]any{
				"interviewCompleted": true,
				"message":            "Interview completed successfully",
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"questionId":     q.ID,
			"question":       q.Text,
			"isLastQuestion": q.IsLast,
		})
	}
}

func handleInterviewComplete(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req lookupRequest
		if err := decodeOptional(w, r, &req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		res, err := deps.Interview.Complete(r.Context(), req.lookup())
		if err != nil {
			interviewError(w, err)
			return
		}

		msg := "Interview marked as completed"
		if res.AlreadyCompleted {
			msg = "Interview already completed"
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"message": msg,
			"data": map[string]any{
				"registrationId": res.RegistrationID,
				"startedAt":      optionalTime(res.StartedAt),
				"completedAt":    optionalTime(res.CompletedAt),
				"status":         res.Status,
			},
		})
	}
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
