package domain

import (
	"time"

	"github.com/google/uuid"
)

// CeremonyKind tags in-flight ceremony state so a registration start can
// never be finished as an authentication, or vice versa.
type CeremonyKind string

const (
	CeremonyRegistration   CeremonyKind = "registration"
	CeremonyAuthentication CeremonyKind = "authentication"
)

// CeremonyState is the ephemeral record of one in-progress ceremony. State
// holds the verifier's opaque session (challenge, allowed credentials) and is
// only ever interpreted by the verifier that produced it. A state is consumed
// by exactly one finish call or reclaimed once ExpiresAt passes.
type CeremonyState struct {
	Kind      CeremonyKind
	UserID    uuid.UUID
	Username  string
	State     []byte
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Expired reports whether the state is past its deadline at the given time.
func (s CeremonyState) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// CeremonyChallenge is what a start operation hands back to the client: the
// public options for the authenticator plus the opaque ceremony id the client
// must return to finish. The options look the same whether or not the
// username already existed.
type CeremonyChallenge struct {
	CeremonyID string
	Options    []byte
}
