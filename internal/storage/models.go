package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when an insert or update would violate a
// uniqueness constraint. Use errors.As with *ConflictError to learn which.
var ErrConflict = errors.New("conflict")

// ErrStale is returned by compare-and-swap updates when the stored version
// no longer matches the version the caller read.
var ErrStale = errors.New("stale version")

// ConflictError names the unique field that was violated.
type ConflictError struct {
	Field string // "registration_id", "email", "session_token" or "" when unknown
}

func (e *ConflictError) Error() string {
	if e.Field == "" {
		return "conflict: unique constraint violated"
	}
	return "conflict: duplicate " + e.Field
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// Status is the lifecycle position of a registration.
type Status string

const (
	StatusPending     Status = "pending"
	StatusProcessing  Status = "processing"
	StatusInProgress  Status = "in_progress"
	StatusCompleted   Status = "completed"
	StatusInterviewed Status = "interviewed"
)

var statusRank = map[Status]int{
	StatusPending:     0,
	StatusProcessing:  1,
	StatusInProgress:  2,
	StatusCompleted:   3,
	StatusInterviewed: 4,
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	_, ok := statusRank[s]
	return ok
}

// Rank orders statuses along the lifecycle. Unknown statuses rank -1.
func (s Status) Rank() int {
	r, ok := statusRank[s]
	if !ok {
		return -1
	}
	return r
}

type QuestionAnswer struct {
	Question   string     `json:"question"`
	Answer     string     `json:"answer"`
	IsAnswered bool       `json:"isAnswered"`
	Timestamp  *time.Time `json:"timestamp"`
}

type ResumeData struct {
	ExtractedText string `json:"extractedText,omitempty"`
	Summary       string `json:"summary"`
}

type InterviewData struct {
	Questions            []QuestionAnswer `json:"questions"`
	CurrentQuestionIndex int              `json:"currentQuestionIndex"`
	IsCompleted          bool             `json:"isCompleted"`
	StartedAt            *time.Time       `json:"startedAt"`
	CompletedAt          *time.Time       `json:"completedAt"`
}

// Registration is a candidate's persisted record. Version is the
// optimistic-concurrency counter bumped by every update.
type Registration struct {
	ID             string        `json:"id"`
	RegistrationID string        `json:"registrationId"`
	SessionToken   string        `json:"sessionToken,omitempty"`
	Name           string        `json:"name"`
	Email          string        `json:"email"`
	Resume         ResumeData    `json:"resumeData"`
	Interview      InterviewData `json:"interviewData"`
	Status         Status        `json:"status"`
	SubmittedAt    time.Time     `json:"submittedAt"`
	Version        int64         `json:"-"`
}

// Clone returns a deep copy so callers can mutate questions and timestamps
// without aliasing the original.
func (r Registration) Clone() Registration {
	out := r
	if r.Interview.Questions != nil {
		out.Interview.Questions = make([]QuestionAnswer, len(r.Interview.Questions))
		for i, q := range r.Interview.Questions {
			q.Timestamp = cloneTime(q.Timestamp)
			out.Interview.Questions[i] = q
		}
	}
	out.Interview.StartedAt = cloneTime(r.Interview.StartedAt)
	out.Interview.CompletedAt = cloneTime(r.Interview.CompletedAt)
	return out
}

// Sanitized returns a copy safe for read paths: the extracted resume text
// is dropped.
func (r Registration) Sanitized() Registration {
	out := r.Clone()
	out.Resume.ExtractedText = ""
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}
