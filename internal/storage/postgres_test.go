package storage

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/google/uuid"
)

// openTestPGStore connects to INTERVIEWD_TEST_DATABASE_URL and skips the
// test when it is unset. Each test truncates the tables it touches.
func openTestPGStore(t *testing.T) *PGStore {
	t.Helper()
	url := os.Getenv("INTERVIEWD_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("INTERVIEWD_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	s, err := OpenPostgres(ctx, url)
	if err != nil {
		t.Fatalf("OpenPostgres: %v", err)
	}
	if _, err := s.pool.Exec(ctx, `TRUNCATE registrations, jobs`); err != nil {
		t.Fatalf("truncating: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPGCreateGetUpdate(t *testing.T) {
	s := openTestPGStore(t)
	ctx := context.Background()

	r := testRegistration(1)
	r.ID = uuid.NewString()
	if err := s.CreateRegistration(ctx, r); err != nil {
		t.Fatalf("CreateRegistration: %v", err)
	}

	dup := testRegistration(2)
	dup.ID = uuid.NewString()
	dup.Email = r.Email
	err := s.CreateRegistration(ctx, dup)
	var ce *ConflictError
	if !errors.As(err, &ce) || ce.Field != "email" {
		t.Fatalf("duplicate email error = %v, want email conflict", err)
	}

	got, err := s.GetBySessionToken(ctx, r.SessionToken)
	if err != nil {
		t.Fatalf("GetBySessionToken: %v", err)
	}
	if got.Version != 1 || len(got.Interview.Questions) != 2 {
		t.Errorf("got %+v", got)
	}

	got.Interview.CurrentQuestionIndex = 1
	updated, err := s.UpdateRegistration(ctx, got)
	if err != nil {
		t.Fatalf("UpdateRegistration: %v", err)
	}
	if updated.Version != 2 {
		t.Errorf("Version = %d, want 2", updated.Version)
	}
	if _, err := s.UpdateRegistration(ctx, got); !errors.Is(err, ErrStale) {
		t.Errorf("stale update error = %v, want ErrStale", err)
	}
}

func TestPGJobQueue(t *testing.T) {
	s := openTestPGStore(t)
	ctx := context.Background()

	if err := s.EnqueueJob(ctx, Job{ID: "job-1", Type: "resume_summary", PayloadJSON: "{}"}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	job, err := s.ClaimNextJob(ctx, []string{"resume_summary"})
	if err != nil || job == nil {
		t.Fatalf("ClaimNextJob = %v, %v", job, err)
	}
	if err := s.CompleteJob(ctx, job.ID); err != nil {
		t.Fatalf("CompleteJob: %v", err)
	}
	got, err := s.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Status != "completed" {
		t.Errorf("Status = %q", got.Status)
	}
}
