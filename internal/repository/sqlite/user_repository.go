package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"pollpass/internal/domain"
	"pollpass/internal/repository"
)

const createUsersSchema = `
CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	username TEXT NOT NULL UNIQUE,
	created_at DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS credentials (
	credential_id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	credential_json BLOB NOT NULL,
	sign_count INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL,
	last_used_at DATETIME NULL,
	FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_credentials_user_id ON credentials(user_id);
`

type UserRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) repository.UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) Init(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, createUsersSchema); err != nil {
		return fmt.Errorf("create users schema: %w", err)
	}
	return nil
}

func (r *UserRepository) LookupUserID(ctx context.Context, username string) (uuid.UUID, error) {
	var raw string
	err := r.db.QueryRowContext(ctx, `SELECT id FROM users WHERE username = ?`, username).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return uuid.Nil, repository.ErrNotFound
		}
		return uuid.Nil, fmt.Errorf("lookup user id: %w", err)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("parse user id: %w", err)
	}
	return id, nil
}

func (r *UserRepository) CreateUser(ctx context.Context, id uuid.UUID, username string) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO users (id, username, created_at)
VALUES (?, ?, ?)`,
		id.String(),
		username,
		time.Now().UTC(),
	)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "unique") {
			return repository.ErrAlreadyExists
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (r *UserRepository) GetUser(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	var (
		raw       string
		username  string
		createdAt time.Time
	)
	err := r.db.QueryRowContext(ctx, `
SELECT id, username, created_at
FROM users
WHERE id = ?`, id.String()).Scan(&raw, &username, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	parsed, err := uuid.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse user id: %w", err)
	}
	return &domain.User{ID: parsed, Username: username, CreatedAt: createdAt}, nil
}

func (r *UserRepository) ListCredentials(ctx context.Context, userID uuid.UUID) ([]domain.Credential, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT credential_id, user_id, credential_json, sign_count, created_at, updated_at, last_used_at
FROM credentials
WHERE user_id = ?
ORDER BY created_at ASC`, userID.String())
	if err != nil {
		return nil, fmt.Errorf("query credentials: %w", err)
	}
	defer rows.Close()

	var creds []domain.Credential
	for rows.Next() {
		cred, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		creds = append(creds, *cred)
	}
	return creds, rows.Err()
}

func (r *UserRepository) AddCredential(ctx context.Context, cred *domain.Credential) error {
	now := time.Now().UTC()
	if cred.CreatedAt.IsZero() {
		cred.CreatedAt = now
	}
	cred.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, `
INSERT INTO credentials (credential_id, user_id, credential_json, sign_count, created_at, updated_at, last_used_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
		cred.ID,
		cred.UserID.String(),
		cred.Data,
		cred.SignCount,
		cred.CreatedAt,
		cred.UpdatedAt,
		nullableTime(cred.LastUsedAt),
	)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "unique") {
			return repository.ErrAlreadyExists
		}
		return fmt.Errorf("insert credential: %w", err)
	}
	return nil
}

func (r *UserRepository) ReplaceCredentials(ctx context.Context, userID uuid.UUID, creds []domain.Credential) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() // safe no-op on commit

	if _, err := tx.ExecContext(ctx, `DELETE FROM credentials WHERE user_id=?`, userID.String()); err != nil {
		return fmt.Errorf("delete credentials: %w", err)
	}

	now := time.Now().UTC()
	for _, cred := range creds {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO credentials (credential_id, user_id, credential_json, sign_count, created_at, updated_at, last_used_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
			cred.ID,
			userID.String(),
			cred.Data,
			cred.SignCount,
			cred.CreatedAt,
			now,
			nullableTime(cred.LastUsedAt),
		); err != nil {
			return fmt.Errorf("insert credential: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func scanCredential(rows *sql.Rows) (*domain.Credential, error) {
	var (
		cred     domain.Credential
		rawUser  string
		lastUsed sql.NullTime
	)
	if err := rows.Scan(
		&cred.ID,
		&rawUser,
		&cred.Data,
		&cred.SignCount,
		&cred.CreatedAt,
		&cred.UpdatedAt,
		&lastUsed,
	); err != nil {
		return nil, fmt.Errorf("scan credential: %w", err)
	}
	userID, err := uuid.Parse(rawUser)
	if err != nil {
		return nil, fmt.Errorf("parse credential user id: %w", err)
	}
	cred.UserID = userID
	if lastUsed.Valid {
		value := lastUsed.Time
		cred.LastUsedAt = &value
	}
	return &cred, nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
