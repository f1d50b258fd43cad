// Package passkey wraps the WebAuthn library behind a small verifier
// interface so ceremony orchestration never handles attestation or COSE
// parsing directly.
package passkey

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"

	"pollpass/internal/domain"
)

// Config controls the relying-party settings for WebAuthn ceremonies.
type Config struct {
	RPID          string
	RPDisplayName string
	RPOrigins     []string
	CeremonyTTL   time.Duration
}

// Verifier performs the cryptographic half of a ceremony: producing options
// bound to a challenge and validating the client's response against the
// opaque state produced at start.
type Verifier interface {
	BeginRegistration(user domain.User, exclude []domain.Credential) (options json.RawMessage, state []byte, err error)
	FinishRegistration(user domain.User, state, response []byte) (*domain.Credential, error)
	BeginAuthentication(user domain.User, allow []domain.Credential) (options json.RawMessage, state []byte, err error)
	FinishAuthentication(user domain.User, allow []domain.Credential, state, response []byte) (*domain.CredentialUpdate, error)
}

type webauthnVerifier struct {
	wa *webauthn.WebAuthn
}

// NewVerifier builds a Verifier backed by go-webauthn.
func NewVerifier(cfg Config) (Verifier, error) {
	wa, err := webauthn.New(&webauthn.Config{
		RPID:          cfg.RPID,
		RPDisplayName: cfg.RPDisplayName,
		RPOrigins:     cfg.RPOrigins,
	})
	if err != nil {
		return nil, fmt.Errorf("webauthn config: %w", err)
	}
	return &webauthnVerifier{wa: wa}, nil
}

func (v *webauthnVerifier) BeginRegistration(user domain.User, exclude []domain.Credential) (json.RawMessage, []byte, error) {
	waUser, err := newWebauthnUser(user, exclude)
	if err != nil {
		return nil, nil, err
	}

	var opts []webauthn.RegistrationOption
	if len(waUser.credentials) > 0 {
		opts = append(opts, webauthn.WithExclusions(webauthn.Credentials(waUser.credentials).CredentialDescriptors()))
	}

	creation, session, err := v.wa.BeginRegistration(waUser, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("begin registration: %w", err)
	}
	return encodeCeremony(creation, session)
}

func (v *webauthnVerifier) FinishRegistration(user domain.User, state, response []byte) (*domain.Credential, error) {
	waUser, err := newWebauthnUser(user, nil)
	if err != nil {
		return nil, err
	}
	session, err := decodeSession(state)
	if err != nil {
		return nil, err
	}
	parsed, err := protocol.ParseCredentialCreationResponseBytes(response)
	if err != nil {
		return nil, fmt.Errorf("parse credential response: %w", err)
	}

	credential, err := v.wa.CreateCredential(waUser, *session, parsed)
	if err != nil {
		return nil, fmt.Errorf("validate credential response: %w", err)
	}

	data, err := json.Marshal(credential)
	if err != nil {
		return nil, fmt.Errorf("encode credential: %w", err)
	}
	return &domain.Credential{
		ID:        encodeCredentialID(credential.ID),
		UserID:    user.ID,
		Data:      data,
		SignCount: credential.Authenticator.SignCount,
	}, nil
}

func (v *webauthnVerifier) BeginAuthentication(user domain.User, allow []domain.Credential) (json.RawMessage, []byte, error) {
	waUser, err := newWebauthnUser(user, allow)
	if err != nil {
		return nil, nil, err
	}

	assertion, session, err := v.wa.BeginLogin(waUser)
	if err != nil {
		return nil, nil, fmt.Errorf("begin authentication: %w", err)
	}
	return encodeCeremony(assertion, session)
}

func (v *webauthnVerifier) FinishAuthentication(user domain.User, allow []domain.Credential, state, response []byte) (*domain.CredentialUpdate, error) {
	waUser, err := newWebauthnUser(user, allow)
	if err != nil {
		return nil, err
	}
	session, err := decodeSession(state)
	if err != nil {
		return nil, err
	}
	parsed, err := protocol.ParseCredentialRequestResponseBytes(response)
	if err != nil {
		return nil, fmt.Errorf("parse assertion response: %w", err)
	}

	credential, err := v.wa.ValidateLogin(waUser, *session, parsed)
	if err != nil {
		return nil, fmt.Errorf("validate assertion: %w", err)
	}

	data, err := json.Marshal(credential)
	if err != nil {
		return nil, fmt.Errorf("encode credential: %w", err)
	}
	return &domain.CredentialUpdate{
		ID:           encodeCredentialID(credential.ID),
		Data:         data,
		SignCount:    credential.Authenticator.SignCount,
		CloneWarning: credential.Authenticator.CloneWarning,
	}, nil
}

// webauthnUser adapts a domain user and their stored credentials to the
// webauthn.User contract.
type webauthnUser struct {
	user        domain.User
	credentials []webauthn.Credential
}

func newWebauthnUser(user domain.User, stored []domain.Credential) (*webauthnUser, error) {
	credentials, err := decodeStoredCredentials(stored)
	if err != nil {
		return nil, err
	}
	return &webauthnUser{user: user, credentials: credentials}, nil
}

func (u *webauthnUser) WebAuthnID() []byte {
	return []byte(u.user.ID.String())
}

func (u *webauthnUser) WebAuthnName() string {
	return u.user.Username
}

func (u *webauthnUser) WebAuthnDisplayName() string {
	return u.user.Username
}

func (u *webauthnUser) WebAuthnIcon() string {
	return ""
}

func (u *webauthnUser) WebAuthnCredentials() []webauthn.Credential {
	return u.credentials
}

func decodeStoredCredentials(records []domain.Credential) ([]webauthn.Credential, error) {
	if len(records) == 0 {
		return nil, nil
	}
	credentials := make([]webauthn.Credential, 0, len(records))
	for _, record := range records {
		var credential webauthn.Credential
		if err := json.Unmarshal(record.Data, &credential); err != nil {
			return nil, fmt.Errorf("decode credential %s: %w", record.ID, err)
		}
		credentials = append(credentials, credential)
	}
	return credentials, nil
}

func encodeCeremony(options any, session *webauthn.SessionData) (json.RawMessage, []byte, error) {
	optionsJSON, err := json.Marshal(options)
	if err != nil {
		return nil, nil, fmt.Errorf("encode ceremony options: %w", err)
	}
	state, err := json.Marshal(session)
	if err != nil {
		return nil, nil, fmt.Errorf("encode ceremony session: %w", err)
	}
	return optionsJSON, state, nil
}

func decodeSession(state []byte) (*webauthn.SessionData, error) {
	var session webauthn.SessionData
	if err := json.Unmarshal(state, &session); err != nil {
		return nil, fmt.Errorf("decode ceremony session: %w", err)
	}
	return &session, nil
}

func encodeCredentialID(raw []byte) string {
	return base64.RawURLEncoding.EncodeToString(raw)
}
