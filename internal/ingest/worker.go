// Package ingest runs background jobs over stored registrations. Its one
// job type retries the resume summary for registrations that were saved
// with the local fallback because the model was unavailable.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/interviewd/internal/resume"
	"github.com/kalambet/interviewd/internal/storage"
)

// JobResumeSummary is the job type that re-summarizes a resume.
const JobResumeSummary = "resume_summary"

const maxUpdateAttempts = 3

// JobStore abstracts the job queue and registration operations the worker needs.
type JobStore interface {
	ClaimNextJob(ctx context.Context, types []string) (*storage.Job, error)
	CompleteJob(ctx context.Context, id string) error
	FailJob(ctx context.Context, id string, errMsg string) error
	GetRegistration(ctx context.Context, id string) (storage.Registration, error)
	UpdateRegistration(ctx context.Context, r storage.Registration) (storage.Registration, error)
}

// Summarizer produces a resume summary, reporting whether it fell back.
type Summarizer interface {
	Summarize(ctx context.Context, text string) resume.Summary
}

type summaryPayload struct {
	RegistrationID string `json:"registration_id"`
}

// NewResumeSummaryJob builds a resume_summary job for the registration with
// internal id id.
func NewResumeSummaryJob(id string) (storage.Job, error) {
	payload, err := json.Marshal(summaryPayload{RegistrationID: id})
	if err != nil {
		return storage.Job{}, fmt.Errorf("encoding payload: %w", err)
	}
	return storage.Job{
		ID:          uuid.New().String(),
		Type:        JobResumeSummary,
		PayloadJSON: string(payload),
		// The first retry waits a little so a briefly restarting model
		// server has a chance to come back.
		RunAfter: time.Now().Add(30 * time.Second),
	}, nil
}

// errStillFallback marks an attempt where the model was still unusable.
var errStillFallback = errors.New("model unavailable, summary still fallback")

// Worker processes resume_summary jobs from the job queue.
type Worker struct {
	store      JobStore
	summarizer Summarizer
	poll       time.Duration
	logger     *slog.Logger
}

// NewWorker creates a Worker with the given dependencies.
// If pollInterval is <= 0, it defaults to 2s.
func NewWorker(store JobStore, summarizer Summarizer, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	return &Worker{
		store:      store,
		summarizer: summarizer,
		poll:       pollInterval,
		logger:     slog.Default(),
	}
}

// Run polls for jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single resume_summary job.
// Returns true if a job was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob(ctx, []string{JobResumeSummary})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if err := w.processJob(ctx, job); err != nil {
		w.logger.Warn("job failed", "job_id", job.ID, "error", err)
		if failErr := w.store.FailJob(ctx, job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	if err := w.store.CompleteJob(ctx, job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

func (w *Worker) processJob(ctx context.Context, job *storage.Job) error {
	var payload summaryPayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		return fmt.Errorf("parsing payload: %w", err)
	}

	reg, err := w.store.GetRegistration(ctx, payload.RegistrationID)
	if err != nil {
		return fmt.Errorf("loading registration %s: %w", payload.RegistrationID, err)
	}

	sum := w.summarizer.Summarize(ctx, reg.Resume.ExtractedText)
	if sum.Fallback {
		return errStillFallback
	}

	var updateErr error
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		reg.Resume.Summary = sum.Text
		_, updateErr = w.store.UpdateRegistration(ctx, reg)
		if !errors.Is(updateErr, storage.ErrStale) {
			break
		}
		if reg, err = w.store.GetRegistration(ctx, payload.RegistrationID); err != nil {
			return fmt.Errorf("reloading registration %s: %w", payload.RegistrationID, err)
		}
	}
	if updateErr != nil {
		return fmt.Errorf("updating summary: %w", updateErr)
	}

	w.logger.Info("resume summary refreshed", "id", reg.ID, "registration_id", reg.RegistrationID)
	return nil
}
