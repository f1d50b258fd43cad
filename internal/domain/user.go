package domain

import (
	"time"

	"github.com/google/uuid"
)

// User represents an account identified by a stable id and a unique username.
// The record only exists once a registration ceremony has completed; a user id
// minted at ceremony start is discarded if the ceremony never finishes.
type User struct {
	ID        uuid.UUID
	Username  string
	CreatedAt time.Time
}
