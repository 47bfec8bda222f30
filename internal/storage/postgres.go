package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// pgUniqueViolation is the SQLSTATE for unique_violation.
const pgUniqueViolation = "23505"

var pgSchema = []string{
	`CREATE TABLE IF NOT EXISTS registrations (
		id                     TEXT PRIMARY KEY,
		registration_id        TEXT NOT NULL UNIQUE,
		session_token          TEXT UNIQUE,
		name                   TEXT NOT NULL,
		email                  TEXT NOT NULL UNIQUE,
		extracted_text         TEXT NOT NULL,
		summary                TEXT NOT NULL,
		questions              JSONB NOT NULL DEFAULT '[]'::jsonb,
		current_question_index INTEGER NOT NULL DEFAULT -1,
		is_completed           BOOLEAN NOT NULL DEFAULT FALSE,
		started_at             TIMESTAMPTZ,
		completed_at           TIMESTAMPTZ,
		status                 TEXT NOT NULL DEFAULT 'pending'
			CHECK (status IN ('pending', 'processing', 'in_progress', 'completed', 'interviewed')),
		submitted_at           TIMESTAMPTZ NOT NULL,
		version                BIGINT NOT NULL DEFAULT 1
	)`,
	`CREATE INDEX IF NOT EXISTS idx_registrations_submitted ON registrations(submitted_at DESC)`,
	`CREATE TABLE IF NOT EXISTS jobs (
		id           TEXT PRIMARY KEY,
		type         TEXT NOT NULL,
		payload_json TEXT NOT NULL,
		status       TEXT NOT NULL DEFAULT 'pending',
		attempts     INTEGER NOT NULL DEFAULT 0,
		max_attempts INTEGER NOT NULL DEFAULT 3,
		run_after    TIMESTAMPTZ NOT NULL,
		created_at   TIMESTAMPTZ NOT NULL,
		updated_at   TIMESTAMPTZ NOT NULL,
		last_error   TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_status_run_after ON jobs(status, run_after)`,
}

const pgRegistrationColumns = `id, registration_id, session_token, name, email, extracted_text, summary,
	questions, current_question_index, is_completed, started_at, completed_at, status, submitted_at, version`

const pgJobColumns = `id, type, payload_json, status, attempts, max_attempts, run_after, created_at, updated_at, last_error`

// PGStore is the Postgres implementation of the registration store, used
// when several interviewd processes share one database.
type PGStore struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to databaseURL and creates the schema if missing.
func OpenPostgres(ctx context.Context, databaseURL string) (*PGStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	for _, stmt := range pgSchema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			pool.Close()
			return nil, fmt.Errorf("applying schema: %w", err)
		}
	}
	return &PGStore{pool: pool}, nil
}

func (s *PGStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PGStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PGStore) CreateRegistration(ctx context.Context, r Registration) error {
	questions, err := encodeQuestions(r.Interview.Questions)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO registrations (`+pgRegistrationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, 1)`,
		r.ID, r.RegistrationID, optionalString(r.SessionToken), r.Name, r.Email,
		r.Resume.ExtractedText, r.Resume.Summary, []byte(questions),
		r.Interview.CurrentQuestionIndex, r.Interview.IsCompleted,
		r.Interview.StartedAt, r.Interview.CompletedAt,
		string(r.Status), r.SubmittedAt.UTC(),
	)
	return pgConflict(err)
}

func (s *PGStore) GetRegistration(ctx context.Context, id string) (Registration, error) {
	return s.getBy(ctx, "id", id)
}

func (s *PGStore) GetByRegistrationID(ctx context.Context, registrationID string) (Registration, error) {
	return s.getBy(ctx, "registration_id", registrationID)
}

func (s *PGStore) GetBySessionToken(ctx context.Context, token string) (Registration, error) {
	return s.getBy(ctx, "session_token", token)
}

func (s *PGStore) GetByEmail(ctx context.Context, email string) (Registration, error) {
	return s.getBy(ctx, "email", email)
}

func (s *PGStore) getBy(ctx context.Context, column, value string) (Registration, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+pgRegistrationColumns+` FROM registrations WHERE `+column+` = $1`, value)
	r, err := scanPGRegistration(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Registration{}, ErrNotFound
	}
	return r, err
}

func (s *PGStore) ListRegistrations(ctx context.Context, limit int) ([]Registration, error) {
	query := `SELECT ` + pgRegistrationColumns + ` FROM registrations ORDER BY submitted_at DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing registrations: %w", err)
	}
	defer rows.Close()

	var results []Registration
	for rows.Next() {
		r, err := scanPGRegistration(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

func (s *PGStore) UpdateRegistration(ctx context.Context, r Registration) (Registration, error) {
	questions, err := encodeQuestions(r.Interview.Questions)
	if err != nil {
		return Registration{}, err
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE registrations SET
			session_token = $1, summary = $2, questions = $3, current_question_index = $4,
			is_completed = $5, started_at = $6, completed_at = $7, status = $8, version = version + 1
		WHERE id = $9 AND version = $10`,
		optionalString(r.SessionToken), r.Resume.Summary, []byte(questions), r.Interview.CurrentQuestionIndex,
		r.Interview.IsCompleted, r.Interview.StartedAt, r.Interview.CompletedAt,
		string(r.Status), r.ID, r.Version,
	)
	if err != nil {
		return Registration{}, pgConflict(err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetRegistration(ctx, r.ID); err != nil {
			return Registration{}, err
		}
		return Registration{}, ErrStale
	}
	out := r.Clone()
	out.Version++
	return out, nil
}

func (s *PGStore) UpdateStatus(ctx context.Context, id string, status Status) (Registration, error) {
	if !status.Valid() {
		return Registration{}, fmt.Errorf("invalid status %q", status)
	}
	row := s.pool.QueryRow(ctx,
		`UPDATE registrations SET status = $1, version = version + 1 WHERE id = $2 RETURNING `+pgRegistrationColumns,
		string(status), id)
	r, err := scanPGRegistration(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Registration{}, ErrNotFound
	}
	return r, err
}

func (s *PGStore) SetSessionToken(ctx context.Context, id, token string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE registrations SET session_token = $1, version = version + 1 WHERE id = $2 AND session_token IS NULL`,
		token, id)
	if err != nil {
		return false, pgConflict(err)
	}
	return tag.RowsAffected() == 1, nil
}

// --- Jobs ---

func (s *PGStore) EnqueueJob(ctx context.Context, job Job) error {
	now := time.Now().UTC()
	runAfter := now
	if !job.RunAfter.IsZero() {
		runAfter = job.RunAfter.UTC()
	}
	maxAttempts := job.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = 3
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO jobs (id, type, payload_json, status, attempts, max_attempts, run_after, created_at, updated_at)
		VALUES ($1, $2, $3, 'pending', 0, $4, $5, $6, $6)`,
		job.ID, job.Type, job.PayloadJSON, maxAttempts, runAfter, now,
	)
	return err
}

// ClaimNextJob uses SKIP LOCKED so several workers can poll the same table.
func (s *PGStore) ClaimNextJob(ctx context.Context, types []string) (*Job, error) {
	if len(types) == 0 {
		return nil, nil
	}
	row := s.pool.QueryRow(ctx, `
		UPDATE jobs SET status = 'running', updated_at = now()
		WHERE id = (
			SELECT id FROM jobs
			WHERE status = 'pending' AND run_after <= now() AND type = ANY($1)
			ORDER BY run_after ASC, created_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+pgJobColumns, types)
	j, err := scanPGJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claiming job: %w", err)
	}
	return &j, nil
}

func (s *PGStore) CompleteJob(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE jobs SET status = 'completed', updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGStore) FailJob(ctx context.Context, id string, errMsg string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning fail transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var attempts, maxAttempts int
	err = tx.QueryRow(ctx, `SELECT attempts, max_attempts FROM jobs WHERE id = $1 FOR UPDATE`, id).Scan(&attempts, &maxAttempts)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	attempts++
	if attempts >= maxAttempts {
		_, err = tx.Exec(ctx, `UPDATE jobs SET status = 'failed', attempts = $1, last_error = $2, updated_at = $3 WHERE id = $4`,
			attempts, errMsg, now, id)
	} else {
		_, err = tx.Exec(ctx, `UPDATE jobs SET status = 'pending', attempts = $1, last_error = $2, run_after = $3, updated_at = $4 WHERE id = $5`,
			attempts, errMsg, now.Add(jobBackoff(attempts)), now, id)
	}
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PGStore) GetJob(ctx context.Context, id string) (Job, error) {
	j, err := scanPGJob(s.pool.QueryRow(ctx, `SELECT `+pgJobColumns+` FROM jobs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Job{}, ErrNotFound
	}
	return j, err
}

func scanPGRegistration(row pgx.Row) (Registration, error) {
	var (
		r         Registration
		token     *string
		questions []byte
		status    string
	)
	err := row.Scan(&r.ID, &r.RegistrationID, &token, &r.Name, &r.Email,
		&r.Resume.ExtractedText, &r.Resume.Summary, &questions,
		&r.Interview.CurrentQuestionIndex, &r.Interview.IsCompleted,
		&r.Interview.StartedAt, &r.Interview.CompletedAt, &status, &r.SubmittedAt, &r.Version)
	if err != nil {
		return Registration{}, err
	}
	if token != nil {
		r.SessionToken = *token
	}
	r.Status = Status(status)
	if err := json.Unmarshal(questions, &r.Interview.Questions); err != nil {
		return Registration{}, fmt.Errorf("decoding questions for %s: %w", r.ID, err)
	}
	return r, nil
}

func scanPGJob(row pgx.Row) (Job, error) {
	var j Job
	var lastError *string
	err := row.Scan(&j.ID, &j.Type, &j.PayloadJSON, &j.Status, &j.Attempts, &j.MaxAttempts,
		&j.RunAfter, &j.CreatedAt, &j.UpdatedAt, &lastError)
	if err != nil {
		return Job{}, err
	}
	if lastError != nil {
		j.LastError = *lastError
	}
	return j, nil
}

// pgConflict maps unique_violation to *ConflictError, naming the column
// from the constraint (Postgres names them <table>_<column>_key).
func pgConflict(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return &ConflictError{Field: conflictField(pgErr.ConstraintName)}
	}
	return err
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
