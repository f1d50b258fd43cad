package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pollpass/internal/domain"
	"pollpass/internal/live"
	"pollpass/internal/service"
)

type stubAuthService struct {
	start  func(ctx context.Context, ceremonyKey, username string) (*domain.CeremonyChallenge, error)
	finish func(ctx context.Context, ceremonyID string, response []byte) (*domain.IdentityToken, error)
}

func (s *stubAuthService) StartRegistration(ctx context.Context, key, username string) (*domain.CeremonyChallenge, error) {
	return s.start(ctx, key, username)
}

func (s *stubAuthService) FinishRegistration(ctx context.Context, id string, response []byte) (*domain.IdentityToken, error) {
	return s.finish(ctx, id, response)
}

func (s *stubAuthService) StartAuthentication(ctx context.Context, key, username string) (*domain.CeremonyChallenge, error) {
	return s.start(ctx, key, username)
}

func (s *stubAuthService) FinishAuthentication(ctx context.Context, id string, response []byte) (*domain.IdentityToken, error) {
	return s.finish(ctx, id, response)
}

func (s *stubAuthService) CurrentUser(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	return &domain.User{ID: userID, Username: "alice"}, nil
}

type stubTokenService struct {
	identity *domain.Identity
}

func (s *stubTokenService) Issue(user domain.User) (*domain.IdentityToken, error) {
	return &domain.IdentityToken{AccessToken: "stub", TokenType: "Bearer", UserID: user.ID, Username: user.Username}, nil
}

func (s *stubTokenService) Verify(token string) (*domain.Identity, error) {
	if token == "good" && s.identity != nil {
		return s.identity, nil
	}
	return nil, service.ErrInvalidToken
}

type stubPollService struct {
	poll     *domain.Poll
	voted    bool
	castErr  error
	closeErr error
}

func (s *stubPollService) CreatePoll(ctx context.Context, creatorID uuid.UUID, title, description string, options []string) (*domain.Poll, error) {
	return s.poll, nil
}

func (s *stubPollService) GetPoll(ctx context.Context, id uuid.UUID) (*domain.Poll, error) {
	if s.poll == nil || s.poll.ID != id {
		return nil, service.ErrPollNotFound
	}
	return s.poll, nil
}

func (s *stubPollService) ListPolls(ctx context.Context) ([]domain.Poll, error) {
	if s.poll == nil {
		return nil, nil
	}
	return []domain.Poll{*s.poll}, nil
}

func (s *stubPollService) HasVoted(ctx context.Context, pollID, userID uuid.UUID) (bool, error) {
	return s.voted, nil
}

func (s *stubPollService) CastVote(ctx context.Context, pollID, optionID, userID uuid.UUID) (int64, error) {
	if s.castErr != nil {
		return 0, s.castErr
	}
	return 1, nil
}

func (s *stubPollService) ClosePoll(ctx context.Context, pollID, userID uuid.UUID) error {
	return s.closeErr
}

func (s *stubPollService) RestartPoll(ctx context.Context, pollID, userID uuid.UUID) error {
	return s.closeErr
}

func newTestRouter(t *testing.T, auth service.AuthService, tokens service.TokenService, polls service.PollService) (*gin.Engine, *live.Broadcaster) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	broadcaster := live.NewBroadcaster()

	router := gin.New()
	NewHandler(auth, tokens, polls, broadcaster, logger).RegisterRoutes(router)
	return router, broadcaster
}

func doJSON(router *gin.Engine, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestStartRegistrationSetsCeremonyCookie(t *testing.T) {
	auth := &stubAuthService{
		start: func(ctx context.Context, key, username string) (*domain.CeremonyChallenge, error) {
			assert.NotEmpty(t, key)
			assert.Equal(t, "alice", username)
			return &domain.CeremonyChallenge{CeremonyID: "cid", Options: []byte(`{"challenge":"x"}`)}, nil
		},
	}
	router, _ := newTestRouter(t, auth, &stubTokenService{}, &stubPollService{})

	rec := doJSON(router, http.MethodPost, "/api/register_start/alice", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ceremonyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "cid", resp.CeremonyID)
	assert.JSONEq(t, `{"challenge":"x"}`, string(resp.PublicKey))

	var found bool
	for _, cookie := range rec.Result().Cookies() {
		if cookie.Name == ceremonyCookie {
			found = true
			assert.NotEmpty(t, cookie.Value)
			assert.True(t, cookie.HttpOnly)
		}
	}
	assert.True(t, found, "ceremony cookie not set")
}

func TestCeremonyFailuresShareOneBody(t *testing.T) {
	// A forged response and a stale ceremony must be indistinguishable to the
	// caller.
	bodies := make(map[string]string)
	for name, failure := range map[string]error{
		"verification": service.ErrVerificationFailed,
		"expired":      service.ErrCeremonyExpired,
	} {
		auth := &stubAuthService{
			finish: func(ctx context.Context, id string, response []byte) (*domain.IdentityToken, error) {
				return nil, failure
			},
		}
		router, _ := newTestRouter(t, auth, &stubTokenService{}, &stubPollService{})

		rec := doJSON(router, http.MethodPost, "/api/login_finish", gin.H{
			"ceremony_id": "cid",
			"credential":  gin.H{"id": "x"},
		}, nil)
		require.Equal(t, http.StatusBadRequest, rec.Code, name)
		bodies[name] = rec.Body.String()
	}
	assert.Equal(t, bodies["verification"], bodies["expired"])
}

func TestStartAuthenticationUnknownUserIs404(t *testing.T) {
	auth := &stubAuthService{
		start: func(ctx context.Context, key, username string) (*domain.CeremonyChallenge, error) {
			return nil, service.ErrUserNotFound
		},
	}
	router, _ := newTestRouter(t, auth, &stubTokenService{}, &stubPollService{})

	rec := doJSON(router, http.MethodPost, "/api/login_start/nobody", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "user_not_found")
}

func TestStoreFailureIs500(t *testing.T) {
	auth := &stubAuthService{
		start: func(ctx context.Context, key, username string) (*domain.CeremonyChallenge, error) {
			return nil, errors.New("disk on fire")
		},
	}
	router, _ := newTestRouter(t, auth, &stubTokenService{}, &stubPollService{})

	rec := doJSON(router, http.MethodPost, "/api/register_start/alice", nil, nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "store_unavailable")
	assert.NotContains(t, rec.Body.String(), "disk on fire")
}

func TestCurrentUserEndpoint(t *testing.T) {
	identity := &domain.Identity{UserID: uuid.New(), Username: "alice"}
	router, _ := newTestRouter(t, &stubAuthService{}, &stubTokenService{identity: identity}, &stubPollService{})

	rec := doJSON(router, http.MethodGet, "/api/me", nil, map[string]string{"Authorization": "Bearer good"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), identity.UserID.String())
	assert.Contains(t, rec.Body.String(), "alice")
}

func TestPollRoutesRequireBearerToken(t *testing.T) {
	router, _ := newTestRouter(t, &stubAuthService{}, &stubTokenService{}, &stubPollService{})

	rec := doJSON(router, http.MethodGet, "/api/polls", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(router, http.MethodGet, "/api/polls", nil, map[string]string{"Authorization": "Bearer forged"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCastVotePublishesUpdate(t *testing.T) {
	identity := &domain.Identity{UserID: uuid.New(), Username: "alice"}
	pollID := uuid.New()
	optionID := uuid.New()
	polls := &stubPollService{
		poll: &domain.Poll{
			ID:      pollID,
			Options: []domain.PollOption{{ID: optionID, PollID: pollID, Text: "pizza"}},
		},
	}
	router, broadcaster := newTestRouter(t, &stubAuthService{}, &stubTokenService{identity: identity}, polls)

	events, cancel := broadcaster.Subscribe()
	defer cancel()

	rec := doJSON(router, http.MethodPost, "/api/polls/"+pollID.String()+"/vote", gin.H{
		"option_id": optionID.String(),
	}, map[string]string{"Authorization": "Bearer good"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	select {
	case event := <-events:
		assert.Equal(t, live.EventVoteUpdate, event.Kind)
		assert.Equal(t, pollID, event.PollID)
		assert.Equal(t, optionID, event.OptionID)
		assert.Equal(t, int64(1), event.Votes)
	default:
		t.Fatal("no vote event published")
	}
}

func TestCastVoteConflicts(t *testing.T) {
	identity := &domain.Identity{UserID: uuid.New(), Username: "alice"}
	pollID := uuid.New()
	polls := &stubPollService{castErr: service.ErrAlreadyVoted}
	router, _ := newTestRouter(t, &stubAuthService{}, &stubTokenService{identity: identity}, polls)

	rec := doJSON(router, http.MethodPost, "/api/polls/"+pollID.String()+"/vote", gin.H{
		"option_id": uuid.NewString(),
	}, map[string]string{"Authorization": "Bearer good"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "already_voted")
}

func TestClosePollByNonCreatorIsForbidden(t *testing.T) {
	identity := &domain.Identity{UserID: uuid.New(), Username: "mallory"}
	polls := &stubPollService{closeErr: service.ErrNotCreator}
	router, _ := newTestRouter(t, &stubAuthService{}, &stubTokenService{identity: identity}, polls)

	rec := doJSON(router, http.MethodPost, "/api/polls/"+uuid.NewString()+"/close", nil,
		map[string]string{"Authorization": "Bearer good"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestGetPollIncludesTally(t *testing.T) {
	identity := &domain.Identity{UserID: uuid.New(), Username: "alice"}
	pollID := uuid.New()
	polls := &stubPollService{
		poll: &domain.Poll{
			ID:    pollID,
			Title: "Lunch?",
			Options: []domain.PollOption{
				{ID: uuid.New(), PollID: pollID, Text: "pizza", Votes: 2},
				{ID: uuid.New(), PollID: pollID, Text: "sushi", Votes: 1},
			},
		},
		voted: true,
	}
	router, _ := newTestRouter(t, &stubAuthService{}, &stubTokenService{identity: identity}, polls)

	rec := doJSON(router, http.MethodGet, "/api/polls/"+pollID.String(), nil,
		map[string]string{"Authorization": "Bearer good"})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp pollResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, int64(3), resp.TotalVotes)
	assert.True(t, resp.UserVoted)
	assert.Len(t, resp.Options, 2)
}
