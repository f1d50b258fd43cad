package sqlite

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pollpass/internal/domain"
	"pollpass/internal/repository"
)

func testDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func testUserRepo(t *testing.T) repository.UserRepository {
	t.Helper()
	repo := NewUserRepository(testDB(t))
	require.NoError(t, repo.Init(context.Background()))
	return repo
}

func TestUserRepositoryCreateAndLookup(t *testing.T) {
	repo := testUserRepo(t)
	ctx := context.Background()
	id := uuid.New()

	_, err := repo.LookupUserID(ctx, "alice")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	require.NoError(t, repo.CreateUser(ctx, id, "alice"))

	got, err := repo.LookupUserID(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, id, got)

	user, err := repo.GetUser(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "alice", user.Username)
	assert.False(t, user.CreatedAt.IsZero())
}

func TestUserRepositoryDuplicateUsername(t *testing.T) {
	repo := testUserRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.CreateUser(ctx, uuid.New(), "alice"))
	err := repo.CreateUser(ctx, uuid.New(), "alice")
	assert.ErrorIs(t, err, repository.ErrAlreadyExists)
}

func TestUserRepositoryCredentials(t *testing.T) {
	repo := testUserRepo(t)
	ctx := context.Background()
	userID := uuid.New()
	require.NoError(t, repo.CreateUser(ctx, userID, "alice"))

	creds, err := repo.ListCredentials(ctx, userID)
	require.NoError(t, err)
	assert.Empty(t, creds)

	cred := &domain.Credential{
		ID:     "cred-1",
		UserID: userID,
		Data:   []byte(`{"id":"abc"}`),
	}
	require.NoError(t, repo.AddCredential(ctx, cred))

	err = repo.AddCredential(ctx, &domain.Credential{ID: "cred-1", UserID: userID, Data: []byte(`{}`)})
	assert.ErrorIs(t, err, repository.ErrAlreadyExists)

	require.NoError(t, repo.AddCredential(ctx, &domain.Credential{
		ID:     "cred-2",
		UserID: userID,
		Data:   []byte(`{"id":"def"}`),
	}))

	creds, err = repo.ListCredentials(ctx, userID)
	require.NoError(t, err)
	require.Len(t, creds, 2)
	assert.Equal(t, []byte(`{"id":"abc"}`), creds[0].Data)
	assert.Nil(t, creds[0].LastUsedAt)
}

func TestUserRepositoryReplaceCredentials(t *testing.T) {
	repo := testUserRepo(t)
	ctx := context.Background()
	userID := uuid.New()
	require.NoError(t, repo.CreateUser(ctx, userID, "alice"))

	require.NoError(t, repo.AddCredential(ctx, &domain.Credential{ID: "cred-1", UserID: userID, Data: []byte(`{}`)}))
	require.NoError(t, repo.AddCredential(ctx, &domain.Credential{ID: "cred-2", UserID: userID, Data: []byte(`{}`)}))

	creds, err := repo.ListCredentials(ctx, userID)
	require.NoError(t, err)
	require.Len(t, creds, 2)

	used := time.Now().UTC()
	for i := range creds {
		if creds[i].ID == "cred-2" {
			creds[i].SignCount = 7
			creds[i].LastUsedAt = &used
		}
	}
	require.NoError(t, repo.ReplaceCredentials(ctx, userID, creds))

	replaced, err := repo.ListCredentials(ctx, userID)
	require.NoError(t, err)
	require.Len(t, replaced, 2)
	for _, cred := range replaced {
		switch cred.ID {
		case "cred-1":
			assert.Equal(t, uint32(0), cred.SignCount)
			assert.Nil(t, cred.LastUsedAt)
		case "cred-2":
			assert.Equal(t, uint32(7), cred.SignCount)
			require.NotNil(t, cred.LastUsedAt)
			assert.WithinDuration(t, used, *cred.LastUsedAt, time.Second)
		}
	}
}
