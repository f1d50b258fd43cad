package domain

import "github.com/google/uuid"

// Identity is the verified outcome of an identity token: who the bearer is.
type Identity struct {
	UserID   uuid.UUID
	Username string
}

// IdentityToken is issued after a ceremony completes successfully and proves
// that authentication to the rest of the application.
type IdentityToken struct {
	AccessToken string
	TokenType   string
	ExpiresIn   int64 // seconds until expiry
	UserID      uuid.UUID
	Username    string
}
