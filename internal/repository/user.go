package repository

import (
	"context"

	"github.com/google/uuid"

	"pollpass/internal/domain"
)

// UserRepository is the durable store of users and their public-key
// credentials.
type UserRepository interface {
	Init(ctx context.Context) error
	// LookupUserID resolves a username to a user id. Absence is reported as
	// ErrNotFound and is a normal result, not a failure.
	LookupUserID(ctx context.Context, username string) (uuid.UUID, error)
	// CreateUser inserts a user record. ErrAlreadyExists is returned when
	// either the id or the username is taken; ceremony callers tolerate it
	// because a user may already exist when a second device registers.
	CreateUser(ctx context.Context, id uuid.UUID, username string) error
	GetUser(ctx context.Context, id uuid.UUID) (*domain.User, error)
	// ListCredentials returns every credential owned by the user. An empty
	// slice is valid and drives the "no credentials" failure upstream.
	ListCredentials(ctx context.Context, userID uuid.UUID) ([]domain.Credential, error)
	// AddCredential appends a credential. It never overwrites: a duplicate
	// credential id yields ErrAlreadyExists.
	AddCredential(ctx context.Context, cred *domain.Credential) error
	// ReplaceCredentials persists the user's whole credential set as a single
	// atomic unit, used to advance signature counters after authentication.
	ReplaceCredentials(ctx context.Context, userID uuid.UUID, creds []domain.Credential) error
}
