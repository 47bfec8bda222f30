// Package pipeline turns a submitted registration form into a persisted,
// summarized record by running a fixed sequence of stages.
package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/kalambet/interviewd/internal/resume"
	"github.com/kalambet/interviewd/internal/storage"
)

// Input is the raw form data for one registration.
type Input struct {
	Name           string `json:"name" validate:"required"`
	Email          string `json:"email" validate:"required,email"`
	RegistrationID string `json:"registrationId" validate:"required"`
	ExtractedText  string `json:"extractedText"`
}

// FailureKind classifies why a run did not produce a registration.
type FailureKind string

const (
	FailureMissingFields  FailureKind = "missing_fields"
	FailureInvalidEmail   FailureKind = "invalid_email"
	FailureDuplicateID    FailureKind = "duplicate_id"
	FailureDuplicateEmail FailureKind = "duplicate_email"
	FailureConflict       FailureKind = "conflict"
	FailurePersistence    FailureKind = "persistence"
	FailureInternal       FailureKind = "internal"
)

// Failure is the terminal error of a run.
type Failure struct {
	Kind    FailureKind
	Message string
}

func (f *Failure) Error() string { return f.Message }

// Conflict reports whether the failure is a uniqueness violation.
func (f *Failure) Conflict() bool {
	switch f.Kind {
	case FailureDuplicateID, FailureDuplicateEmail, FailureConflict:
		return true
	}
	return false
}

// State is the working record threaded through the stages. Stages receive
// it by value and return the next version; slices are never shared with
// the previous state.
type State struct {
	Input           Input
	ValidationOK    bool
	SummaryText     string
	SummaryFallback bool
	Questions       []string
	SessionToken    string
	Registration    *storage.Registration
	Failure         *Failure
}

// Stage is one step of the pipeline.
type Stage struct {
	Name string
	Run  func(ctx context.Context, st State) State
}

// Store is the subset of the registration store the pipeline needs.
type Store interface {
	GetByRegistrationID(ctx context.Context, registrationID string) (storage.Registration, error)
	GetByEmail(ctx context.Context, email string) (storage.Registration, error)
	CreateRegistration(ctx context.Context, r storage.Registration) error
	EnqueueJob(ctx context.Context, job storage.Job) error
}

// Summarizer produces a non-empty summary for any text.
type Summarizer interface {
	Summarize(ctx context.Context, text string) resume.Summary
}

// Observer records stage timings and run outcomes.
type Observer interface {
	ObserveStage(stage string, d time.Duration)
	ObserveRegistration(outcome string)
}

// Pipeline runs Validate, Summarize, Questions and Persist in that order.
type Pipeline struct {
	store      Store
	summarizer Summarizer
	obs        Observer
	validate   *validator.Validate
	now        func() time.Time
	newToken   func() (string, error)
	stages     []Stage
	logger     *slog.Logger
}

// New creates a Pipeline. obs may be nil.
func New(store Store, summarizer Summarizer, obs Observer) *Pipeline {
	p := &Pipeline{
		store:      store,
		summarizer: summarizer,
		obs:        obs,
		validate:   validator.New(validator.WithRequiredStructEnabled()),
		now:        func() time.Time { return time.Now().UTC() },
		newToken:   NewSessionToken,
		logger:     slog.Default(),
	}
	p.stages = []Stage{
		{Name: "validate", Run: p.validateStage},
		{Name: "summarize", Run: p.summarizeStage},
		{Name: "questions", Run: p.questionsStage},
		{Name: "persist", Run: p.persistStage},
	}
	return p
}

// Run executes every stage once in order and returns the final state.
// A failed run has Failure set and no Registration; Run itself never
// returns an error.
func (p *Pipeline) Run(ctx context.Context, in Input) State {
	st := State{Input: in}
	for _, stage := range p.stages {
		start := time.Now()
		st = stage.Run(ctx, st)
		elapsed := time.Since(start)
		if p.obs != nil {
			p.obs.ObserveStage(stage.Name, elapsed)
		}
		p.logger.Debug("pipeline stage done",
			"stage", stage.Name,
			"registration_id", st.Input.RegistrationID,
			"duration_ms", elapsed.Milliseconds(),
			"ok", st.Failure == nil,
		)
	}

	outcome := "created"
	if st.Failure != nil {
		outcome = string(st.Failure.Kind)
	}
	if p.obs != nil {
		p.obs.ObserveRegistration(outcome)
	}
	return st
}
