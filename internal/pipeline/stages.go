package pipeline

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/kalambet/interviewd/internal/ingest"
	"github.com/kalambet/interviewd/internal/questions"
	"github.com/kalambet/interviewd/internal/storage"
)

const tokenPrefix = "session_"

// NewSessionToken returns "session_" followed by 128 random bits in hex.
func NewSessionToken() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("generating session token: %w", err)
	}
	return tokenPrefix + hex.EncodeToString(b[:]), nil
}

// Normalize trims every identifying field and lower-cases the email.
func Normalize(in Input) Input {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.RegistrationID = strings.TrimSpace(in.RegistrationID)
	return in
}

func fail(st State, kind FailureKind, msg string) State {
	st.ValidationOK = false
	st.Failure = &Failure{Kind: kind, Message: msg}
	return st
}

// validateStage checks required fields and the uniqueness of the
// registration id and email. It never writes to the store.
func (p *Pipeline) validateStage(ctx context.Context, st State) State {
	st.Input = Normalize(st.Input)

	if err := p.validate.Struct(st.Input); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fail(st, FailureInternal, err.Error())
		}
		for _, fe := range verrs {
			if fe.Tag() == "required" {
				return fail(st, FailureMissingFields, "Missing required fields")
			}
		}
		return fail(st, FailureInvalidEmail, "Invalid email address")
	}

	_, err := p.store.GetByRegistrationID(ctx, st.Input.RegistrationID)
	switch {
	case err == nil:
		return fail(st, FailureDuplicateID, "Registration ID already exists")
	case !errors.Is(err, storage.ErrNotFound):
		p.logger.Error("validate: registration id lookup failed", "error", err)
		return fail(st, FailureInternal, "Registration lookup failed")
	}

	_, err = p.store.GetByEmail(ctx, st.Input.Email)
	switch {
	case err == nil:
		return fail(st, FailureDuplicateEmail, "Email already registered")
	case !errors.Is(err, storage.ErrNotFound):
		p.logger.Error("validate: email lookup failed", "error", err)
		return fail(st, FailureInternal, "Registration lookup failed")
	}

	token, err := p.newToken()
	if err != nil {
		return fail(st, FailureInternal, err.Error())
	}
	st.SessionToken = token
	st.ValidationOK = true
	return st
}

func (p *Pipeline) summarizeStage(ctx context.Context, st State) State {
	if !st.ValidationOK {
		return st
	}
	sum := p.summarizer.Summarize(ctx, st.Input.ExtractedText)
	st.SummaryText = sum.Text
	st.SummaryFallback = sum.Fallback
	return st
}

func (p *Pipeline) questionsStage(_ context.Context, st State) State {
	if !st.ValidationOK {
		return st
	}
	st.Questions = questions.Catalog()
	return st
}

// persistStage inserts the finished registration. Uniqueness is decided
// by the store's insert, not by the earlier lookups.
func (p *Pipeline) persistStage(ctx context.Context, st State) State {
	if !st.ValidationOK {
		return st
	}
	if st.SessionToken == "" {
		token, err := p.newToken()
		if err != nil {
			return fail(st, FailureInternal, err.Error())
		}
		st.SessionToken = token
	}

	qs := make([]storage.QuestionAnswer, len(st.Questions))
	for i, q := range st.Questions {
		qs[i] = storage.QuestionAnswer{Question: q}
	}

	reg := storage.Registration{
		ID:             uuid.New().String(),
		RegistrationID: st.Input.RegistrationID,
		SessionToken:   st.SessionToken,
		Name:           st.Input.Name,
		Email:          st.Input.Email,
		Resume: storage.ResumeData{
			ExtractedText: st.Input.ExtractedText,
			Summary:       st.SummaryText,
		},
		Interview: storage.InterviewData{
			Questions:            qs,
			CurrentQuestionIndex: -1,
		},
		Status:      storage.StatusProcessing,
		SubmittedAt: p.now(),
		Version:     1,
	}

	if err := p.store.CreateRegistration(ctx, reg); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return fail(st, FailureConflict, conflictMessage(err))
		}
		p.logger.Error("persist: create registration failed",
			"registration_id", reg.RegistrationID, "error", err)
		return fail(st, FailurePersistence, "Failed to save registration")
	}

	if st.SummaryFallback && strings.TrimSpace(reg.Resume.ExtractedText) != "" {
		p.enqueueResummary(ctx, reg.ID)
	}

	st.Registration = &reg
	return st
}

func (p *Pipeline) enqueueResummary(ctx context.Context, id string) {
	job, err := ingest.NewResumeSummaryJob(id)
	if err == nil {
		err = p.store.EnqueueJob(ctx, job)
	}
	if err != nil {
		p.logger.Warn("persist: could not schedule summary retry", "id", id, "error", err)
	}
}

func conflictMessage(err error) string {
	var ce *storage.ConflictError
	if errors.As(err, &ce) {
		switch ce.Field {
		case "registration_id":
			return "Registration ID already exists"
		case "email":
			return "Email already registered"
		}
	}
	return "Registration already exists"
}
