package service

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pollpass/internal/domain"
)

func TestTokenServiceRoundTrip(t *testing.T) {
	svc := NewTokenService("test-secret", time.Hour)
	user := domain.User{ID: uuid.New(), Username: "alice"}

	token, err := svc.Issue(user)
	require.NoError(t, err)
	assert.Equal(t, "Bearer", token.TokenType)
	assert.Equal(t, int64(3600), token.ExpiresIn)
	assert.Equal(t, user.ID, token.UserID)
	assert.Equal(t, "alice", token.Username)

	identity, err := svc.Verify(token.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, user.ID, identity.UserID)
	assert.Equal(t, "alice", identity.Username)
}

func TestTokenServiceRejectsTampering(t *testing.T) {
	svc := NewTokenService("test-secret", time.Hour)
	token, err := svc.Issue(domain.User{ID: uuid.New(), Username: "alice"})
	require.NoError(t, err)

	_, err = svc.Verify(token.AccessToken + "x")
	assert.ErrorIs(t, err, ErrInvalidToken)

	other := NewTokenService("different-secret", time.Hour)
	_, err = other.Verify(token.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenServiceRejectsExpired(t *testing.T) {
	issuedAt := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	svc := &tokenService{
		secret: []byte("test-secret"),
		ttl:    time.Hour,
		now:    func() time.Time { return issuedAt },
	}
	user := domain.User{ID: uuid.New(), Username: "alice"}

	token, err := svc.Issue(user)
	require.NoError(t, err)

	// Still valid just before the deadline.
	svc.now = func() time.Time { return issuedAt.Add(59 * time.Minute) }
	_, err = svc.Verify(token.AccessToken)
	require.NoError(t, err)

	svc.now = func() time.Time { return issuedAt.Add(2 * time.Hour) }
	_, err = svc.Verify(token.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenServiceRejectsGarbage(t *testing.T) {
	svc := NewTokenService("test-secret", time.Hour)

	_, err := svc.Verify("")
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = svc.Verify("not.a.jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
