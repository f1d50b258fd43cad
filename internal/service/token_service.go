package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"pollpass/internal/domain"
)

// ErrInvalidToken is returned for forged, malformed, or expired identity
// tokens. Verification never degrades to best effort.
var ErrInvalidToken = errors.New("invalid token")

// TokenService issues and verifies the identity credential produced after a
// successful ceremony. Tokens are self-verifying: no store lookup is needed.
type TokenService interface {
	Issue(user domain.User) (*domain.IdentityToken, error)
	Verify(token string) (*domain.Identity, error)
}

type tokenClaims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

type tokenService struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewTokenService(secret string, ttl time.Duration) TokenService {
	return &tokenService{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

func (s *tokenService) Issue(user domain.User) (*domain.IdentityToken, error) {
	now := s.now().UTC()
	claims := tokenClaims{
		Username: user.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}

	return &domain.IdentityToken{
		AccessToken: signed,
		TokenType:   "Bearer",
		ExpiresIn:   int64(s.ttl.Seconds()),
		UserID:      user.ID,
		Username:    user.Username,
	}, nil
}

func (s *tokenService) Verify(token string) (*domain.Identity, error) {
	var claims tokenClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(func() time.Time { return s.now() }))
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil || claims.Username == "" {
		return nil, ErrInvalidToken
	}
	return &domain.Identity{UserID: userID, Username: claims.Username}, nil
}
