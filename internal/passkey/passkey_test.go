package passkey

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pollpass/internal/domain"
)

func testVerifier(t *testing.T) Verifier {
	t.Helper()
	verifier, err := NewVerifier(Config{
		RPID:          "localhost",
		RPDisplayName: "Pollpass",
		RPOrigins:     []string{"http://localhost:3000"},
		CeremonyTTL:   5 * time.Minute,
	})
	require.NoError(t, err)
	return verifier
}

func TestNewVerifierRejectsIncompleteConfig(t *testing.T) {
	_, err := NewVerifier(Config{})
	assert.Error(t, err)
}

func TestBeginRegistrationProducesChallengeAndState(t *testing.T) {
	verifier := testVerifier(t)
	user := domain.User{ID: uuid.New(), Username: "alice"}

	options, state, err := verifier.BeginRegistration(user, nil)
	require.NoError(t, err)
	require.NotEmpty(t, state)

	var creation struct {
		PublicKey struct {
			Challenge string `json:"challenge"`
			User      struct {
				Name string `json:"name"`
			} `json:"user"`
		} `json:"publicKey"`
	}
	require.NoError(t, json.Unmarshal(options, &creation))
	assert.NotEmpty(t, creation.PublicKey.Challenge)
	assert.Equal(t, "alice", creation.PublicKey.User.Name)
}

func TestBeginRegistrationChallengesDiffer(t *testing.T) {
	verifier := testVerifier(t)
	user := domain.User{ID: uuid.New(), Username: "alice"}

	_, first, err := verifier.BeginRegistration(user, nil)
	require.NoError(t, err)
	_, second, err := verifier.BeginRegistration(user, nil)
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
}

func TestFinishRegistrationRejectsGarbage(t *testing.T) {
	verifier := testVerifier(t)
	user := domain.User{ID: uuid.New(), Username: "alice"}

	_, state, err := verifier.BeginRegistration(user, nil)
	require.NoError(t, err)

	_, err = verifier.FinishRegistration(user, state, []byte(`not json`))
	assert.Error(t, err)

	_, err = verifier.FinishRegistration(user, []byte(`broken state`), []byte(`{}`))
	assert.Error(t, err)
}

func TestBeginAuthenticationNeedsCredentials(t *testing.T) {
	verifier := testVerifier(t)
	user := domain.User{ID: uuid.New(), Username: "alice"}

	// go-webauthn refuses to begin a login for a user with no credentials;
	// the orchestration layer screens this out first.
	_, _, err := verifier.BeginAuthentication(user, nil)
	assert.Error(t, err)
}

func TestBeginRegistrationRejectsUndecodableStoredCredential(t *testing.T) {
	verifier := testVerifier(t)
	user := domain.User{ID: uuid.New(), Username: "alice"}

	_, _, err := verifier.BeginRegistration(user, []domain.Credential{
		{ID: "cred-1", UserID: user.ID, Data: []byte("corrupt")},
	})
	assert.Error(t, err)
}
