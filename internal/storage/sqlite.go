package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// timeLayout is fixed width so that TEXT columns sort chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const registrationColumns = `id, registration_id, session_token, name, email, extracted_text, summary,
	questions_json, current_question_index, is_completed, started_at, completed_at, status, submitted_at, version`

// Store wraps a SQLite database holding registrations and the job queue.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending migrations.
// Pass ":memory:" as dataDir for an in-memory database (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "interviewd.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying database handle.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// --- Registrations ---

// CreateRegistration inserts r. Uniqueness of registration id, email and
// session token is enforced by the schema, so two concurrent inserts for the
// same candidate yield exactly one *ConflictError.
func (s *Store) CreateRegistration(ctx context.Context, r Registration) error {
	questions, err := encodeQuestions(r.Interview.Questions)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO registrations (`+registrationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)`,
		r.ID, r.RegistrationID, nullString(r.SessionToken), r.Name, r.Email,
		r.Resume.ExtractedText, r.Resume.Summary, questions,
		r.Interview.CurrentQuestionIndex, r.Interview.IsCompleted,
		formatTimePtr(r.Interview.StartedAt), formatTimePtr(r.Interview.CompletedAt),
		string(r.Status), formatTime(r.SubmittedAt),
	)
	return sqliteConflict(err)
}

func (s *Store) GetRegistration(ctx context.Context, id string) (Registration, error) {
	return s.getBy(ctx, "id", id)
}

func (s *Store) GetByRegistrationID(ctx context.Context, registrationID string) (Registration, error) {
	return s.getBy(ctx, "registration_id", registrationID)
}

func (s *Store) GetBySessionToken(ctx context.Context, token string) (Registration, error) {
	return s.getBy(ctx, "session_token", token)
}

func (s *Store) GetByEmail(ctx context.Context, email string) (Registration, error) {
	return s.getBy(ctx, "email", email)
}

func (s *Store) getBy(ctx context.Context, column, value string) (Registration, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+registrationColumns+` FROM registrations WHERE `+column+` = ?`, value)
	r, err := scanRegistration(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Registration{}, ErrNotFound
	}
	return r, err
}

// ListRegistrations returns registrations newest first. limit <= 0 means all.
func (s *Store) ListRegistrations(ctx context.Context, limit int) ([]Registration, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+registrationColumns+` FROM registrations ORDER BY submitted_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Registration
	for rows.Next() {
		r, err := scanRegistration(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// UpdateRegistration writes the mutable fields of r if the stored version
// still equals r.Version. It returns the record with its new version, or
// ErrStale when another writer got there first.
func (s *Store) UpdateRegistration(ctx context.Context, r Registration) (Registration, error) {
	questions, err := encodeQuestions(r.Interview.Questions)
	if err != nil {
		return Registration{}, err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE registrations SET
			session_token = ?, summary = ?, questions_json = ?, current_question_index = ?,
			is_completed = ?, started_at = ?, completed_at = ?, status = ?, version = version + 1
		WHERE id = ? AND version = ?`,
		nullString(r.SessionToken), r.Resume.Summary, questions, r.Interview.CurrentQuestionIndex,
		r.Interview.IsCompleted, formatTimePtr(r.Interview.StartedAt), formatTimePtr(r.Interview.CompletedAt),
		string(r.Status), r.ID, r.Version,
	)
	if err != nil {
		return Registration{}, sqliteConflict(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Registration{}, err
	}
	if n == 0 {
		if _, err := s.GetRegistration(ctx, r.ID); err != nil {
			return Registration{}, err
		}
		return Registration{}, ErrStale
	}
	out := r.Clone()
	out.Version++
	return out, nil
}

// UpdateStatus overwrites the status of a registration regardless of its
// current version.
func (s *Store) UpdateStatus(ctx context.Context, id string, status Status) (Registration, error) {
	if !status.Valid() {
		return Registration{}, fmt.Errorf("invalid status %q", status)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE registrations SET status = ?, version = version + 1 WHERE id = ?`, string(status), id)
	if err != nil {
		return Registration{}, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Registration{}, err
	}
	if n == 0 {
		return Registration{}, ErrNotFound
	}
	return s.GetRegistration(ctx, id)
}

// SetSessionToken assigns token only when the registration has none yet.
// It reports whether the token was written.
func (s *Store) SetSessionToken(ctx context.Context, id, token string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE registrations SET session_token = ?, version = version + 1 WHERE id = ? AND session_token IS NULL`,
		token, id)
	if err != nil {
		return false, sqliteConflict(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRegistration(row rowScanner) (Registration, error) {
	var (
		r                      Registration
		token                  sql.NullString
		questions              string
		startedAt, completedAt sql.NullString
		status, submittedAt    string
	)
	err := row.Scan(&r.ID, &r.RegistrationID, &token, &r.Name, &r.Email,
		&r.Resume.ExtractedText, &r.Resume.Summary, &questions,
		&r.Interview.CurrentQuestionIndex, &r.Interview.IsCompleted,
		&startedAt, &completedAt, &status, &submittedAt, &r.Version)
	if err != nil {
		return Registration{}, err
	}
	r.SessionToken = token.String
	r.Status = Status(status)
	if err := json.Unmarshal([]byte(questions), &r.Interview.Questions); err != nil {
		return Registration{}, fmt.Errorf("decoding questions for %s: %w", r.ID, err)
	}
	if r.SubmittedAt, err = time.Parse(timeLayout, submittedAt); err != nil {
		return Registration{}, fmt.Errorf("parsing submitted_at: %w", err)
	}
	if r.Interview.StartedAt, err = parseNullTime(startedAt); err != nil {
		return Registration{}, fmt.Errorf("parsing started_at: %w", err)
	}
	if r.Interview.CompletedAt, err = parseNullTime(completedAt); err != nil {
		return Registration{}, fmt.Errorf("parsing completed_at: %w", err)
	}
	return r, nil
}

func encodeQuestions(qs []QuestionAnswer) (string, error) {
	if qs == nil {
		qs = []QuestionAnswer{}
	}
	b, err := json.Marshal(qs)
	if err != nil {
		return "", fmt.Errorf("encoding questions: %w", err)
	}
	return string(b), nil
}

// sqliteConflict maps SQLite unique violations to *ConflictError.
func sqliteConflict(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if !strings.Contains(msg, "UNIQUE constraint failed") {
		return err
	}
	return &ConflictError{Field: conflictField(msg)}
}

func conflictField(msg string) string {
	for _, f := range []string{"registration_id", "session_token", "email"} {
		if strings.Contains(msg, f) {
			return f
		}
	}
	return ""
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := time.Parse(timeLayout, s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
