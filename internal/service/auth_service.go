package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"pollpass/internal/domain"
	"pollpass/internal/passkey"
	"pollpass/internal/repository"
)

var (
	// ErrUserNotFound indicates the username has no account. Surfaced by
	// authentication only; registration deliberately never reveals whether a
	// username exists.
	ErrUserNotFound = errors.New("user not found")
	// ErrUserHasNoCredentials indicates the account exists but owns no
	// passkeys; the caller should register instead.
	ErrUserHasNoCredentials = errors.New("user has no credentials")
	// ErrCeremonyExpired covers every way an in-flight ceremony can be
	// unusable: never started, expired, replaced by a newer start, or already
	// consumed. The caller must restart from the start operation.
	ErrCeremonyExpired = errors.New("corrupt or expired ceremony")
	// ErrVerificationFailed indicates the authenticator response did not
	// validate against the stored ceremony state.
	ErrVerificationFailed = errors.New("ceremony verification failed")
)

// AuthService drives the registration and authentication ceremonies: it owns
// the ephemeral ceremony state, coordinates the verifier and the credential
// store, and hands successful results to the token issuer. Every failure is
// terminal for its ceremony and leaves no partial state behind.
type AuthService interface {
	StartRegistration(ctx context.Context, ceremonyKey, username string) (*domain.CeremonyChallenge, error)
	FinishRegistration(ctx context.Context, ceremonyID string, response []byte) (*domain.IdentityToken, error)
	StartAuthentication(ctx context.Context, ceremonyKey, username string) (*domain.CeremonyChallenge, error)
	FinishAuthentication(ctx context.Context, ceremonyID string, response []byte) (*domain.IdentityToken, error)
	// CurrentUser resolves a verified identity back to its stored account.
	CurrentUser(ctx context.Context, userID uuid.UUID) (*domain.User, error)
}

type authService struct {
	users      repository.UserRepository
	ceremonies repository.CeremonyStore
	verifier   passkey.Verifier
	tokens     TokenService
	ttl        time.Duration
	logger     *logrus.Logger
	now        func() time.Time

	// userLocks serializes the credential read-modify-write of concurrent
	// finish-authentication calls for the same user, so two counter updates
	// can never silently drop one another.
	userLocks sync.Map // uuid.UUID -> *sync.Mutex
}

func NewAuthService(
	users repository.UserRepository,
	ceremonies repository.CeremonyStore,
	verifier passkey.Verifier,
	tokens TokenService,
	ceremonyTTL time.Duration,
	logger *logrus.Logger,
) AuthService {
	return &authService{
		users:      users,
		ceremonies: ceremonies,
		verifier:   verifier,
		tokens:     tokens,
		ttl:        ceremonyTTL,
		logger:     logger,
		now:        time.Now,
	}
}

func (s *authService) StartRegistration(ctx context.Context, ceremonyKey, username string) (*domain.CeremonyChallenge, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, errors.New("username is required")
	}
	if ceremonyKey == "" {
		return nil, errors.New("ceremony key is required")
	}

	// Reuse the existing id so a second device lands on the same account;
	// otherwise mint a throwaway id without creating the user. Either way the
	// response shape is the same, so the start does not reveal whether the
	// username is taken.
	userID, err := s.users.LookupUserID(ctx, username)
	known := true
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("lookup user: %w", err)
		}
		userID = uuid.New()
		known = false
	}

	var exclude []domain.Credential
	if known {
		if exclude, err = s.users.ListCredentials(ctx, userID); err != nil {
			return nil, fmt.Errorf("list credentials: %w", err)
		}
	}

	user := domain.User{ID: userID, Username: username}
	options, verifierState, err := s.verifier.BeginRegistration(user, exclude)
	if err != nil {
		return nil, fmt.Errorf("begin registration: %w", err)
	}

	token, err := s.saveState(ctx, domain.CeremonyRegistration, ceremonyKey, user, verifierState)
	if err != nil {
		return nil, err
	}

	s.logger.WithField("username", username).Info("registration ceremony started")
	return &domain.CeremonyChallenge{CeremonyID: token, Options: options}, nil
}

func (s *authService) FinishRegistration(ctx context.Context, ceremonyID string, response []byte) (*domain.IdentityToken, error) {
	state, err := s.consumeState(ctx, ceremonyID, domain.CeremonyRegistration)
	if err != nil {
		return nil, err
	}

	user := domain.User{ID: state.UserID, Username: state.Username}
	credential, err := s.verifier.FinishRegistration(user, state.State, response)
	if err != nil {
		s.logger.WithField("username", state.Username).WithError(err).Warn("registration verification failed")
		return nil, ErrVerificationFailed
	}

	if err := s.users.CreateUser(ctx, state.UserID, state.Username); err != nil && !errors.Is(err, repository.ErrAlreadyExists) {
		return nil, fmt.Errorf("create user: %w", err)
	}
	if err := s.users.AddCredential(ctx, credential); err != nil {
		return nil, fmt.Errorf("add credential: %w", err)
	}

	s.logger.WithField("username", state.Username).Info("registration ceremony completed")
	return s.tokens.Issue(user)
}

func (s *authService) StartAuthentication(ctx context.Context, ceremonyKey, username string) (*domain.CeremonyChallenge, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, errors.New("username is required")
	}
	if ceremonyKey == "" {
		return nil, errors.New("ceremony key is required")
	}

	userID, err := s.users.LookupUserID(ctx, username)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}

	allow, err := s.users.ListCredentials(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	if len(allow) == 0 {
		return nil, ErrUserHasNoCredentials
	}

	user := domain.User{ID: userID, Username: username}
	options, verifierState, err := s.verifier.BeginAuthentication(user, allow)
	if err != nil {
		return nil, fmt.Errorf("begin authentication: %w", err)
	}

	token, err := s.saveState(ctx, domain.CeremonyAuthentication, ceremonyKey, user, verifierState)
	if err != nil {
		return nil, err
	}

	s.logger.WithField("username", username).Info("authentication ceremony started")
	return &domain.CeremonyChallenge{CeremonyID: token, Options: options}, nil
}

func (s *authService) FinishAuthentication(ctx context.Context, ceremonyID string, response []byte) (*domain.IdentityToken, error) {
	state, err := s.consumeState(ctx, ceremonyID, domain.CeremonyAuthentication)
	if err != nil {
		return nil, err
	}
	user := domain.User{ID: state.UserID, Username: state.Username}

	unlock := s.lockUser(state.UserID)
	defer unlock()

	creds, err := s.users.ListCredentials(ctx, state.UserID)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}

	update, err := s.verifier.FinishAuthentication(user, creds, state.State, response)
	if err != nil {
		s.logger.WithField("username", state.Username).WithError(err).Warn("authentication verification failed")
		return nil, ErrVerificationFailed
	}
	if update.CloneWarning {
		s.logger.WithFields(logrus.Fields{
			"username":      state.Username,
			"credential_id": update.ID,
		}).Warn("credential counter did not advance; possible cloned authenticator")
	}

	if err := s.applyCredentialUpdate(creds, update); err != nil {
		return nil, err
	}
	if err := s.users.ReplaceCredentials(ctx, state.UserID, creds); err != nil {
		return nil, fmt.Errorf("replace credentials: %w", err)
	}

	s.logger.WithField("username", state.Username).Info("authentication ceremony completed")
	return s.tokens.Issue(user)
}

func (s *authService) CurrentUser(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

// applyCredentialUpdate advances the counter of the one credential the
// authenticator used, leaving every other credential untouched.
func (s *authService) applyCredentialUpdate(creds []domain.Credential, update *domain.CredentialUpdate) error {
	for i := range creds {
		if creds[i].ID != update.ID {
			continue
		}
		now := s.now().UTC()
		creds[i].Data = update.Data
		creds[i].SignCount = update.SignCount
		creds[i].LastUsedAt = &now
		return nil
	}
	return fmt.Errorf("credential %s not in user's credential set", update.ID)
}

func (s *authService) saveState(ctx context.Context, kind domain.CeremonyKind, ceremonyKey string, user domain.User, verifierState []byte) (string, error) {
	now := s.now().UTC()
	state := domain.CeremonyState{
		Kind:      kind,
		UserID:    user.ID,
		Username:  user.Username,
		State:     verifierState,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
	// Namespacing by kind keeps one caller's registration and authentication
	// ceremonies from clobbering each other while still letting a repeated
	// start of the same kind replace its predecessor.
	token, err := s.ceremonies.Save(ctx, string(kind)+":"+ceremonyKey, state)
	if err != nil {
		return "", fmt.Errorf("save ceremony state: %w", err)
	}
	return token, nil
}

func (s *authService) consumeState(ctx context.Context, ceremonyID string, kind domain.CeremonyKind) (*domain.CeremonyState, error) {
	if ceremonyID == "" {
		return nil, ErrCeremonyExpired
	}
	state, err := s.ceremonies.Consume(ctx, ceremonyID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrCeremonyExpired
		}
		return nil, fmt.Errorf("consume ceremony state: %w", err)
	}
	if state.Kind != kind || state.Expired(s.now().UTC()) {
		return nil, ErrCeremonyExpired
	}
	return state, nil
}

func (s *authService) lockUser(id uuid.UUID) func() {
	value, _ := s.userLocks.LoadOrStore(id, &sync.Mutex{})
	mu := value.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}
