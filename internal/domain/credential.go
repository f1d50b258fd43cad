package domain

import (
	"time"

	"github.com/google/uuid"
)

// Credential is one public-key credential bound to exactly one user. Data
// holds the full verifier-owned credential record as JSON; the repository
// stores and returns it whole and never edits it piecemeal. SignCount mirrors
// the monotonic signature counter inside Data for clone detection.
type Credential struct {
	ID         string // base64url credential id, unique across the system
	UserID     uuid.UUID
	Data       []byte
	SignCount  uint32
	CreatedAt  time.Time
	UpdatedAt  time.Time
	LastUsedAt *time.Time
}

// CredentialUpdate is the outcome of a verified authentication: the full
// refreshed credential record plus the advanced signature counter for the
// one credential the authenticator used.
type CredentialUpdate struct {
	ID           string
	Data         []byte
	SignCount    uint32
	CloneWarning bool
}
