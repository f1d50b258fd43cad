package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"pollpass/internal/domain"
	"pollpass/internal/live"
	"pollpass/internal/service"
)

// ceremonyCookie carries the caller's ceremony key between starts so a
// restarted ceremony replaces its predecessor instead of piling up state.
const ceremonyCookie = "ceremony_key"

const identityKey = "identity"

// Handler wires HTTP routes to domain services.
type Handler struct {
	auth        service.AuthService
	tokens      service.TokenService
	polls       service.PollService
	broadcaster *live.Broadcaster
	logger      *logrus.Logger
}

func NewHandler(auth service.AuthService, tokens service.TokenService, polls service.PollService, broadcaster *live.Broadcaster, logger *logrus.Logger) *Handler {
	return &Handler{
		auth:        auth,
		tokens:      tokens,
		polls:       polls,
		broadcaster: broadcaster,
		logger:      logger,
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.Use(corsMiddleware())

	api := router.Group("/api")
	{
		api.POST("/register_start/:username", h.startRegistration)
		api.POST("/register_finish", h.finishRegistration)
		api.POST("/login_start/:username", h.startAuthentication)
		api.POST("/login_finish", h.finishAuthentication)

		api.GET("/polls/sse", h.allPollsSSE)
		api.GET("/polls/:id/sse", h.pollUpdatesSSE)

		authed := api.Group("", h.requireAuth())
		{
			authed.GET("/me", h.currentUser)
			authed.POST("/polls", h.createPoll)
			authed.GET("/polls", h.listPolls)
			authed.GET("/polls/:id", h.getPoll)
			authed.POST("/polls/:id/vote", h.castVote)
			authed.POST("/polls/:id/close", h.closePoll)
			authed.POST("/polls/:id/restart", h.restartPoll)
		}

		api.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"ok": "ok"})
		})
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// requireAuth admits only requests carrying a valid bearer identity token.
func (h *Handler) requireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody("unauthorized", "missing bearer token"))
			return
		}
		identity, err := h.tokens.Verify(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody("unauthorized", "invalid token"))
			return
		}
		c.Set(identityKey, identity)
		c.Next()
	}
}

func currentIdentity(c *gin.Context) *domain.Identity {
	value, ok := c.Get(identityKey)
	if !ok {
		return nil
	}
	identity, ok := value.(*domain.Identity)
	if !ok {
		return nil
	}
	return identity
}

type ceremonyResponse struct {
	CeremonyID string          `json:"ceremony_id"`
	PublicKey  json.RawMessage `json:"public_key"`
}

type finishRequest struct {
	CeremonyID string          `json:"ceremony_id" binding:"required"`
	Credential json.RawMessage `json:"credential" binding:"required"`
}

type authResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
	UserID      string `json:"user_id"`
	Username    string `json:"username"`
}

func (h *Handler) startRegistration(c *gin.Context) {
	challenge, err := h.auth.StartRegistration(c.Request.Context(), h.ceremonyKey(c), c.Param("username"))
	if err != nil {
		h.renderCeremonyError(c, err)
		return
	}
	c.JSON(http.StatusOK, ceremonyResponse{CeremonyID: challenge.CeremonyID, PublicKey: challenge.Options})
}

func (h *Handler) finishRegistration(c *gin.Context) {
	var req finishRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody("invalid_request", err.Error()))
		return
	}

	token, err := h.auth.FinishRegistration(c.Request.Context(), req.CeremonyID, req.Credential)
	if err != nil {
		h.renderCeremonyError(c, err)
		return
	}
	c.JSON(http.StatusOK, tokenToResponse(token))
}

func (h *Handler) startAuthentication(c *gin.Context) {
	challenge, err := h.auth.StartAuthentication(c.Request.Context(), h.ceremonyKey(c), c.Param("username"))
	if err != nil {
		h.renderCeremonyError(c, err)
		return
	}
	c.JSON(http.StatusOK, ceremonyResponse{CeremonyID: challenge.CeremonyID, PublicKey: challenge.Options})
}

func (h *Handler) finishAuthentication(c *gin.Context) {
	var req finishRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody("invalid_request", err.Error()))
		return
	}

	token, err := h.auth.FinishAuthentication(c.Request.Context(), req.CeremonyID, req.Credential)
	if err != nil {
		h.renderCeremonyError(c, err)
		return
	}
	c.JSON(http.StatusOK, tokenToResponse(token))
}

func (h *Handler) currentUser(c *gin.Context) {
	identity := currentIdentity(c)
	if identity == nil {
		c.JSON(http.StatusUnauthorized, errorBody("unauthorized", "missing identity"))
		return
	}

	user, err := h.auth.CurrentUser(c.Request.Context(), identity.UserID)
	if err != nil {
		h.renderCeremonyError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"user_id":    user.ID.String(),
		"username":   user.Username,
		"created_at": user.CreatedAt.Format(time.RFC3339),
	})
}

// ceremonyKey returns the caller's ceremony key, minting and setting the
// cookie on first use so later starts from the same client reuse it.
func (h *Handler) ceremonyKey(c *gin.Context) string {
	if key, err := c.Cookie(ceremonyCookie); err == nil && key != "" {
		return key
	}
	key := uuid.NewString()
	c.SetCookie(ceremonyCookie, key, 3600, "/", "", false, true)
	return key
}

// renderCeremonyError maps ceremony failures to responses. Verification
// failures and missing/expired state deliberately share one generic body so
// the response never explains why a credential did not validate.
func (h *Handler) renderCeremonyError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrUserNotFound):
		c.JSON(http.StatusNotFound, errorBody("user_not_found", "user not found"))
	case errors.Is(err, service.ErrUserHasNoCredentials):
		c.JSON(http.StatusBadRequest, errorBody("user_has_no_credentials", "no credentials registered; register first"))
	case errors.Is(err, service.ErrVerificationFailed), errors.Is(err, service.ErrCeremonyExpired):
		c.JSON(http.StatusBadRequest, errorBody("ceremony_failed", "ceremony failed; restart from the start step"))
	default:
		h.logger.WithError(err).Error("ceremony store failure")
		c.JSON(http.StatusInternalServerError, errorBody("store_unavailable", "temporary failure; restart the ceremony"))
	}
}

func tokenToResponse(token *domain.IdentityToken) authResponse {
	return authResponse{
		AccessToken: token.AccessToken,
		TokenType:   token.TokenType,
		ExpiresIn:   token.ExpiresIn,
		UserID:      token.UserID.String(),
		Username:    token.Username,
	}
}

func errorBody(kind, message string) gin.H {
	return gin.H{"error": kind, "message": message}
}
