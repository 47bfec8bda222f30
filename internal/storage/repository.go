package storage

import "context"

// Repository is the registration store contract shared by the SQLite and
// Postgres implementations.
type Repository interface {
	CreateRegistration(ctx context.Context, r Registration) error
	GetRegistration(ctx context.Context, id string) (Registration, error)
	GetByRegistrationID(ctx context.Context, registrationID string) (Registration, error)
	GetBySessionToken(ctx context.Context, token string) (Registration, error)
	GetByEmail(ctx context.Context, email string) (Registration, error)
	ListRegistrations(ctx context.Context, limit int) ([]Registration, error)
	UpdateRegistration(ctx context.Context, r Registration) (Registration, error)
	UpdateStatus(ctx context.Context, id string, status Status) (Registration, error)
	SetSessionToken(ctx context.Context, id, token string) (bool, error)

	EnqueueJob(ctx context.Context, job Job) error
	ClaimNextJob(ctx context.Context, types []string) (*Job, error)
	CompleteJob(ctx context.Context, id string) error
	FailJob(ctx context.Context, id string, errMsg string) error
	GetJob(ctx context.Context, id string) (Job, error)

	Ping(ctx context.Context) error
	Close() error
}

var (
	_ Repository = (*Store)(nil)
	_ Repository = (*PGStore)(nil)
)
