// Package stateless implements a ceremony store whose state rides with the
// client instead of a server table. The token handed out at start is the
// ceremony state itself, HMAC-signed; the server re-verifies the signature on
// finish and never trusts identity fields from the client copy without it.
// Single-use and replace-on-restart are enforced with an in-process nonce
// ledger, so a token can be consumed at most once per process even though the
// state bytes live client-side.
package stateless

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"pollpass/internal/domain"
	"pollpass/internal/repository"
)

type envelope struct {
	Key   string               `json:"key"`
	Nonce string               `json:"nonce"`
	State domain.CeremonyState `json:"state"`
}

type issued struct {
	nonce   string
	expires time.Time
}

// Store signs ceremony state into an opaque client-held token.
type Store struct {
	secret []byte

	mu     sync.Mutex
	latest map[string]issued    // ceremony key -> most recently issued nonce
	used   map[string]time.Time // consumed nonce -> expiry, kept until swept
}

func New(secret []byte) (*Store, error) {
	if len(secret) < 32 {
		return nil, errors.New("ceremony secret must be at least 32 bytes")
	}
	return &Store{
		secret: secret,
		latest: make(map[string]issued),
		used:   make(map[string]time.Time),
	}, nil
}

func (s *Store) Save(_ context.Context, key string, state domain.CeremonyState) (string, error) {
	if key == "" {
		return "", errors.New("ceremony key is required")
	}

	env := envelope{Key: key, Nonce: uuid.NewString(), State: state}
	payload, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("encode ceremony state: %w", err)
	}

	s.mu.Lock()
	s.latest[key] = issued{nonce: env.Nonce, expires: state.ExpiresAt}
	s.mu.Unlock()

	return base64.RawURLEncoding.EncodeToString(payload) + "." + s.sign(payload), nil
}

func (s *Store) Consume(_ context.Context, token string) (*domain.CeremonyState, error) {
	encoded, mac, ok := strings.Cut(token, ".")
	if !ok {
		return nil, repository.ErrNotFound
	}
	payload, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, repository.ErrNotFound
	}
	if !hmac.Equal([]byte(mac), []byte(s.sign(payload))) {
		return nil, repository.ErrNotFound
	}

	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, repository.ErrNotFound
	}
	if env.State.Expired(time.Now().UTC()) {
		return nil, repository.ErrNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, consumed := s.used[env.Nonce]; consumed {
		return nil, repository.ErrNotFound
	}
	current, ok := s.latest[env.Key]
	if !ok || current.nonce != env.Nonce {
		// A newer start for the same key superseded this token.
		return nil, repository.ErrNotFound
	}
	s.used[env.Nonce] = env.State.ExpiresAt
	delete(s.latest, env.Key)

	state := env.State
	return &state, nil
}

func (s *Store) DeleteExpired(_ context.Context, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for nonce, expires := range s.used {
		if now.After(expires) {
			delete(s.used, nonce)
		}
	}
	for key, entry := range s.latest {
		if now.After(entry.expires) {
			delete(s.latest, key)
		}
	}
	return nil
}

func (s *Store) sign(payload []byte) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(payload)
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
