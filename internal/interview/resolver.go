// Package interview drives a candidate through the interview once the
// registration exists: session lookup, start, answers, next question and
// completion.
package interview

import (
	"context"
	"errors"
	"log/slog"

	"github.com/kalambet/interviewd/internal/storage"
)

var (
	// ErrNotFound is returned when no registration matches a lookup.
	ErrNotFound = errors.New("registration not found")
	// ErrSessionExpired is returned by Session for registrations whose
	// status no longer allows the interview to be resumed.
	ErrSessionExpired = errors.New("session not found or expired")
	// ErrInvalidIndex is returned by Answer for an out-of-range question index.
	ErrInvalidIndex = errors.New("invalid question index")
)

// Store is the subset of the registration store used by this package.
type Store interface {
	GetRegistration(ctx context.Context, id string) (storage.Registration, error)
	GetBySessionToken(ctx context.Context, token string) (storage.Registration, error)
	GetByRegistrationID(ctx context.Context, registrationID string) (storage.Registration, error)
	SetSessionToken(ctx context.Context, id, token string) (bool, error)
	UpdateRegistration(ctx context.Context, r storage.Registration) (storage.Registration, error)
}

// Lookup identifies a registration by session token, registration id, or
// both. The token is always tried first.
type Lookup struct {
	Token          string
	RegistrationID string
}

// ByToken looks up by session token only.
func ByToken(token string) Lookup { return Lookup{Token: token} }

// ByRegistrationID looks up by registration id only.
func ByRegistrationID(id string) Lookup { return Lookup{RegistrationID: id} }

// ByEither treats v as a token and, failing that, as a registration id.
func ByEither(v string) Lookup { return Lookup{Token: v, RegistrationID: v} }

// IsZero reports whether the lookup carries no identifier.
func (l Lookup) IsZero() bool { return l.Token == "" && l.RegistrationID == "" }

// Resolver locates the registration a Lookup refers to.
type Resolver struct {
	store  Store
	logger *slog.Logger
}

func NewResolver(store Store) *Resolver {
	return &Resolver{store: store, logger: slog.Default()}
}

// Resolve returns the registration matching l. A registration found by id
// that has no session token gets the id written as its token; a token is
// never replaced once set.
func (r *Resolver) Resolve(ctx context.Context, l Lookup) (storage.Registration, error) {
	if l.Token != "" {
		reg, err := r.store.GetBySessionToken(ctx, l.Token)
		if err == nil {
			return reg, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return storage.Registration{}, err
		}
	}

	if l.RegistrationID == "" {
		return storage.Registration{}, ErrNotFound
	}
	reg, err := r.store.GetByRegistrationID(ctx, l.RegistrationID)
	if errors.Is(err, storage.ErrNotFound) {
		return storage.Registration{}, ErrNotFound
	}
	if err != nil {
		return storage.Registration{}, err
	}
	if reg.SessionToken != "" {
		return reg, nil
	}

	if _, err := r.store.SetSessionToken(ctx, reg.ID, l.RegistrationID); err != nil {
		// The registration is still usable without a token.
		r.logger.Warn("session token backfill failed", "id", reg.ID, "error", err)
		return reg, nil
	}
	// The backfill bumped the version; reload so later writes are not stale.
	return r.store.GetRegistration(ctx, reg.ID)
}
