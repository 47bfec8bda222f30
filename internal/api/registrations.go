package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/interviewd/internal/extract"
	"github.com/kalambet/interviewd/internal/pipeline"
	"github.com/kalambet/interviewd/internal/storage"
)

// multipartOverhead leaves room for the text fields and part headers on
// top of the file itself.
const multipartOverhead = 1 << 20

const defaultListLimit = 100

type submitData struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	Email          string         `json:"email"`
	RegistrationID string         `json:"registrationId"`
	SubmittedAt    time.Time      `json:"submittedAt"`
	Status         storage.Status `json:"status"`
	SessionToken   string         `json:"sessionToken"`
	Summary        string         `json:"summary"`
}

func handleSubmitForm(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := deps.uploadLimit()
		r.Body = http.MaxBytesReader(w, r.Body, limit+multipartOverhead)
		defer r.Body.Close()

		// Keep the whole upload in memory; resumes are never written to disk.
		if err := r.ParseMultipartForm(limit + multipartOverhead); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large") {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "File size too large. Maximum size is %dMB.", limit>>20)
				return
			}
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid multipart form: %v", err)
			return
		}
		defer r.MultipartForm.RemoveAll()

		in := pipeline.Input{
			Name:           r.FormValue("name"),
			Email:          r.FormValue("email"),
			RegistrationID: r.FormValue("registrationId"),
		}
		if strings.TrimSpace(in.Name) == "" || strings.TrimSpace(in.Email) == "" || strings.TrimSpace(in.RegistrationID) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "All fields are required: name, email, registrationId")
			return
		}

		file, header, err := r.FormFile("resume")
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "Resume file (.docx) is required")
			return
		}
		defer file.Close()

		if header.Size > limit {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "File size too large. Maximum size is %dMB.", limit>>20)
			return
		}
		data, err := io.ReadAll(io.LimitReader(file, limit))
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "failed to read resume file: %v", err)
			return
		}

		text, err := extract.Text(header.Filename, data)
		if err != nil {
			slog.Warn("resume extraction failed", "registration_id", in.RegistrationID, "file", header.Filename, "error", err)
			httpError(w, http.StatusBadRequest, "invalid_request_error", "Error extracting text from resume file")
			return
		}
		in.ExtractedText = text

		submitRegistration(w, r, deps, in)
	}
}

// handleSubmitJSON accepts a registration whose resume text was already
// extracted by the caller.
func handleSubmitJSON(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, deps.uploadLimit())
		defer r.Body.Close()

		var in pipeline.Input
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		submitRegistration(w, r, deps, in)
	}
}

func submitRegistration(w http.ResponseWriter, r *http.Request, deps AppDeps, in pipeline.Input) {
	st := deps.Pipeline.Run(r.Context(), in)
	if f := st.Failure; f != nil {
		code, errType := failureStatus(f)
		httpError(w, code, errType, "%s", f.Message)
		return
	}

	reg := st.Registration
	writeJSON(w, http.StatusCreated, map[string]any{
		"success": true,
		"message": "Registration submitted successfully",
		"data": submitData{
			ID:             reg.ID,
			Name:           reg.Name,
			Email:          reg.Email,
			RegistrationID: reg.RegistrationID,
			SubmittedAt:    reg.SubmittedAt,
			Status:         reg.Status,
			SessionToken:   reg.SessionToken,
			Summary:        reg.Resume.Summary,
		},
	})
}

func failureStatus(f *pipeline.Failure) (int, string) {
	switch {
	case f.Conflict():
		return http.StatusConflict, "conflict_error"
	case f.Kind == pipeline.FailureMissingFields, f.Kind == pipeline.FailureInvalidEmail:
		return http.StatusBadRequest, "invalid_request_error"
	default:
		return http.StatusInternalServerError, "api_error"
	}
}

func handleListRegistrations(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", defaultListLimit, 1000)

		regs, err := deps.Store.ListRegistrations(r.Context(), limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list registrations: %v", err)
			return
		}

		out := make([]storage.Registration, len(regs))
		for i, reg := range regs {
			out[i] = reg.Sanitized()
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": out})
	}
}

func handleGetRegistration(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		reg, err := deps.Store.GetRegistration(r.Context(), id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "Registration not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get registration: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": reg.Sanitized()})
	}
}

type statusRequest struct {
	Status storage.Status `json:"status" validate:"required,oneof=pending processing in_progress completed interviewed"`
}

func handleUpdateStatus(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req statusRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || validate.Struct(req) != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "Valid status is required: pending, processing, in_progress, completed, or interviewed")
			return
		}

		reg, err := deps.Store.UpdateStatus(r.Context(), chi.URLParam(r, "id"), req.Status)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "Registration not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to update status: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"message": "Status updated successfully",
			"data":    reg.Sanitized(),
		})
	}
}
