package repository

import (
	"context"
	"time"

	"pollpass/internal/domain"
)

// CeremonyStore holds in-flight ceremony state between start and finish.
// A key identifies one caller's ceremony of one kind: saving under a key the
// caller already used replaces the earlier state, so a restarted ceremony
// invalidates the stale challenge. The returned token is what the client
// round-trips to finish; for server-side stores it is simply the key.
type CeremonyStore interface {
	Save(ctx context.Context, key string, state domain.CeremonyState) (token string, err error)
	// Consume atomically fetches and removes the state for a token. Absent,
	// expired, replaced, or already-consumed states all yield ErrNotFound;
	// when two finishes race on one token, exactly one succeeds.
	Consume(ctx context.Context, token string) (*domain.CeremonyState, error)
	// DeleteExpired reclaims states whose deadline passed before now.
	DeleteExpired(ctx context.Context, now time.Time) error
}
