package interview

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kalambet/interviewd/internal/questions"
	"github.com/kalambet/interviewd/internal/storage"
)

// MaxQuestionIndex bounds the index an answer may target.
const MaxQuestionIndex = 100

// maxWriteAttempts bounds the reload-and-retry loop on version conflicts.
const maxWriteAttempts = 5

// Observer is told about every status change.
type Observer interface {
	ObserveTransition(from, to string)
}

// Service implements the interview operations on top of a Store.
type Service struct {
	store    Store
	resolver *Resolver
	obs      Observer
	now      func() time.Time
	logger   *slog.Logger
}

// NewService creates a Service. obs may be nil.
func NewService(store Store, obs Observer) *Service {
	return &Service{
		store:    store,
		resolver: NewResolver(store),
		obs:      obs,
		now:      func() time.Time { return time.Now().UTC() },
		logger:   slog.Default(),
	}
}

// Resolver returns the resolver used by the service.
func (s *Service) Resolver() *Resolver { return s.resolver }

// StartResult is returned by Start.
type StartResult struct {
	RegistrationID string
	StartedAt      time.Time
	Status         storage.Status
}

// Start records the interview start. Calling it again returns the
// original StartedAt without writing.
func (s *Service) Start(ctx context.Context, l Lookup) (StartResult, error) {
	reg, err := s.mutate(ctx, l, func(r *storage.Registration) (bool, error) {
		return begin(r, s.now()), nil
	})
	if err != nil {
		return StartResult{}, err
	}
	return StartResult{
		RegistrationID: reg.RegistrationID,
		StartedAt:      *reg.Interview.StartedAt,
		Status:         reg.Status,
	}, nil
}

// AnswerRequest carries one submitted answer. A nil QuestionIndex answers
// the current question.
type AnswerRequest struct {
	Lookup        Lookup
	Answer        string
	QuestionIndex *int
	QuestionText  string
}

// Answer stores the answer at the target index and returns the index of
// the next question. Answering the same index again overwrites it.
func (s *Service) Answer(ctx context.Context, req AnswerRequest) (int, error) {
	var idx int
	_, err := s.mutate(ctx, req.Lookup, func(r *storage.Registration) (bool, error) {
		idx = r.Interview.CurrentQuestionIndex
		if req.QuestionIndex != nil {
			idx = *req.QuestionIndex
		}
		if idx < 0 || idx > MaxQuestionIndex {
			return false, ErrInvalidIndex
		}

		for i := len(r.Interview.Questions); i <= idx; i++ {
			label := fmt.Sprintf("Question %d", i+1)
			if i == idx && req.QuestionText != "" {
				label = req.QuestionText
			}
			r.Interview.Questions = append(r.Interview.Questions, storage.QuestionAnswer{Question: label})
		}
		if r.Interview.CurrentQuestionIndex < idx {
			r.Interview.CurrentQuestionIndex = idx
		}

		now := s.now()
		promote(r, now)
		q := &r.Interview.Questions[idx]
		q.Answer = req.Answer
		q.IsAnswered = true
		q.Timestamp = &now
		return true, nil
	})
	if err != nil {
		return 0, err
	}
	return idx + 1, nil
}

// Question is the result of NextQuestion. When Completed is set the other
// fields are empty.
type Question struct {
	Completed bool
	ID        int
	Text      string
	IsLast    bool
}

// NextQuestion moves the interview to the question after the current one,
// or completes it when the catalog is exhausted. A completed interview is
// returned as-is without writing.
func (s *Service) NextQuestion(ctx context.Context, registrationID string) (Question, error) {
	var out Question
	_, err := s.mutate(ctx, ByRegistrationID(registrationID), func(r *storage.Registration) (bool, error) {
		out = Question{}
		if r.Interview.IsCompleted {
			out.Completed = true
			return false, nil
		}

		now := s.now()
		next := r.Interview.CurrentQuestionIndex + 1
		if next >= questions.Len() {
			finish(r, now)
			out.Completed = true
			return true, nil
		}

		for i := len(r.Interview.Questions); i <= next; i++ {
			text, _ := questions.At(i)
			r.Interview.Questions = append(r.Interview.Questions, storage.QuestionAnswer{Question: text})
		}
		r.Interview.CurrentQuestionIndex = next
		promote(r, now)

		out.ID = next
		out.Text = r.Interview.Questions[next].Question
		out.IsLast = next == questions.Len()-1
		return true, nil
	})
	if err != nil {
		return Question{}, err
	}
	return out, nil
}

// CompleteResult is returned by Complete.
type CompleteResult struct {
	RegistrationID   string
	StartedAt        time.Time
	CompletedAt      time.Time
	Status           storage.Status
	AlreadyCompleted bool
}

// Complete marks the interview completed. A second call returns the stored
// completion data unchanged.
func (s *Service) Complete(ctx context.Context, l Lookup) (CompleteResult, error) {
	var already bool
	reg, err := s.mutate(ctx, l, func(r *storage.Registration) (bool, error) {
		already = r.Interview.IsCompleted
		return finish(r, s.now()), nil
	})
	if err != nil {
		return CompleteResult{}, err
	}

	res := CompleteResult{
		RegistrationID:   reg.RegistrationID,
		Status:           reg.Status,
		AlreadyCompleted: already,
	}
	if reg.Interview.StartedAt != nil {
		res.StartedAt = *reg.Interview.StartedAt
	}
	if reg.Interview.CompletedAt != nil {
		res.CompletedAt = *reg.Interview.CompletedAt
	}
	return res, nil
}

// SessionView is a sanitized registration plus its current question.
type SessionView struct {
	Registration    storage.Registration
	CurrentQuestion *storage.QuestionAnswer
}

var resumable = map[storage.Status]bool{
	storage.StatusProcessing: true,
	storage.StatusInProgress: true,
	storage.StatusCompleted:  true,
}

// Session returns the interview state for a token or registration id.
func (s *Service) Session(ctx context.Context, tokenOrID string) (SessionView, error) {
	if tokenOrID == "" {
		return SessionView{}, ErrNotFound
	}
	reg, err := s.resolver.Resolve(ctx, ByEither(tokenOrID))
	if err != nil {
		return SessionView{}, err
	}
	if !resumable[reg.Status] {
		return SessionView{}, ErrSessionExpired
	}

	view := SessionView{Registration: reg.Sanitized()}
	if i := reg.Interview.CurrentQuestionIndex; i >= 0 && i < len(reg.Interview.Questions) {
		q := view.Registration.Interview.Questions[i]
		view.CurrentQuestion = &q
	}
	return view, nil
}

// mutate resolves l and applies fn to a copy of the registration. When fn
// reports a change the copy is written with a version check; a lost race
// reloads the record and runs fn again.
func (s *Service) mutate(ctx context.Context, l Lookup, fn func(r *storage.Registration) (bool, error)) (storage.Registration, error) {
	if l.IsZero() {
		return storage.Registration{}, ErrNotFound
	}
	reg, err := s.resolver.Resolve(ctx, l)
	if err != nil {
		return storage.Registration{}, err
	}

	for attempt := 1; ; attempt++ {
		next := reg.Clone()
		changed, err := fn(&next)
		if err != nil {
			return storage.Registration{}, err
		}
		if !changed {
			return next, nil
		}

		updated, err := s.store.UpdateRegistration(ctx, next)
		if err == nil {
			if reg.Status != updated.Status && s.obs != nil {
				s.obs.ObserveTransition(string(reg.Status), string(updated.Status))
			}
			return updated, nil
		}
		if errors.Is(err, storage.ErrNotFound) {
			return storage.Registration{}, ErrNotFound
		}
		if !errors.Is(err, storage.ErrStale) {
			return storage.Registration{}, fmt.Errorf("updating registration %s: %w", reg.ID, err)
		}
		if attempt >= maxWriteAttempts {
			return storage.Registration{}, fmt.Errorf("updating registration %s after %d attempts: %w", reg.ID, attempt, err)
		}

		s.logger.Debug("registration changed concurrently, retrying", "id", reg.ID, "attempt", attempt)
		if reg, err = s.store.GetRegistration(ctx, reg.ID); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return storage.Registration{}, ErrNotFound
			}
			return storage.Registration{}, err
		}
	}
}
