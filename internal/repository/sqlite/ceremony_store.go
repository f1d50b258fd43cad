package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"pollpass/internal/domain"
	"pollpass/internal/repository"
)

const createCeremoniesSchema = `
CREATE TABLE IF NOT EXISTS ceremonies (
	key TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	user_id TEXT NOT NULL,
	username TEXT NOT NULL,
	state_json BLOB NOT NULL,
	created_at DATETIME NOT NULL,
	expires_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_ceremonies_expires_at ON ceremonies(expires_at);
`

// CeremonyStore keeps in-flight ceremony state server-side. The token handed
// to the client is the storage key itself, so restarting a ceremony under the
// same key overwrites the stale row.
type CeremonyStore struct {
	db *sql.DB
}

func NewCeremonyStore(db *sql.DB) *CeremonyStore {
	return &CeremonyStore{db: db}
}

func (s *CeremonyStore) Init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, createCeremoniesSchema); err != nil {
		return fmt.Errorf("create ceremonies table: %w", err)
	}
	return nil
}

func (s *CeremonyStore) Save(ctx context.Context, key string, state domain.CeremonyState) (string, error) {
	if key == "" {
		return "", errors.New("ceremony key is required")
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO ceremonies (key, kind, user_id, username, state_json, created_at, expires_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(key) DO UPDATE SET
	kind=excluded.kind,
	user_id=excluded.user_id,
	username=excluded.username,
	state_json=excluded.state_json,
	created_at=excluded.created_at,
	expires_at=excluded.expires_at`,
		key,
		string(state.Kind),
		state.UserID.String(),
		state.Username,
		state.State,
		state.CreatedAt,
		state.ExpiresAt,
	)
	if err != nil {
		return "", fmt.Errorf("save ceremony: %w", err)
	}
	return key, nil
}

func (s *CeremonyStore) Consume(ctx context.Context, token string) (*domain.CeremonyState, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() // safe no-op on commit

	state, err := scanCeremony(tx.QueryRowContext(ctx, `
SELECT kind, user_id, username, state_json, created_at, expires_at
FROM ceremonies
WHERE key = ?`, token))
	if err != nil {
		return nil, err
	}

	// The delete is the single-use gate: if a concurrent finish already
	// consumed this row inside its own transaction, zero rows are affected
	// here and this caller observes the ceremony as gone.
	res, err := tx.ExecContext(ctx, `DELETE FROM ceremonies WHERE key = ?`, token)
	if err != nil {
		return nil, fmt.Errorf("delete ceremony: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("ceremony rows affected: %w", err)
	}
	if affected != 1 {
		return nil, repository.ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	if state.Expired(time.Now().UTC()) {
		return nil, repository.ErrNotFound
	}
	return state, nil
}

func (s *CeremonyStore) DeleteExpired(ctx context.Context, now time.Time) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM ceremonies WHERE expires_at < ?`, now); err != nil {
		return fmt.Errorf("delete expired ceremonies: %w", err)
	}
	return nil
}

func scanCeremony(row *sql.Row) (*domain.CeremonyState, error) {
	var (
		kind    string
		rawUser string
		state   domain.CeremonyState
	)
	if err := row.Scan(&kind, &rawUser, &state.Username, &state.State, &state.CreatedAt, &state.ExpiresAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan ceremony: %w", err)
	}
	userID, err := uuid.Parse(rawUser)
	if err != nil {
		return nil, fmt.Errorf("parse ceremony user id: %w", err)
	}
	state.Kind = domain.CeremonyKind(kind)
	state.UserID = userID
	return &state, nil
}
