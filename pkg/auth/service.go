package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/fieldtrace-io/fieldtrace-engine/pkg/models"
)

// Service issues and validates session tokens. Tokens are HS256 JWTs; an
// optional token cache (Redis) records issued token ids so sessions can be
// revoked before expiry. Without a cache, a valid signature is sufficient.
type Service interface {
	// IssueToken creates a session token for the user.
	IssueToken(ctx context.Context, user *models.User) (string, error)

	// ValidateToken verifies the token and returns its claims.
	ValidateToken(ctx context.Context, token string) (*Claims, error)

	// ValidateRequest extracts and verifies the bearer token from r.
	ValidateRequest(r *http.Request) (*Claims, error)

	// RevokeToken invalidates the session identified by the token. A no-op
	// without a token cache.
	RevokeToken(ctx context.Context, token string) error
}

type service struct {
	secret []byte
	ttl    time.Duration
	cache  TokenCache // nil when Redis is not configured
}

// NewService creates an auth service signing with secret. cache may be nil.
func NewService(secret string, ttl time.Duration, cache TokenCache) Service {
	return &service{secret: []byte(secret), ttl: ttl, cache: cache}
}

func (s *service) IssueToken(ctx context.Context, user *models.User) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID:   user.ID,
		Username: user.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign session token: %w", err)
	}

	if s.cache != nil {
		if err := s.cache.Put(ctx, claims.ID, user.ID, s.ttl); err != nil {
			return "", fmt.Errorf("failed to record session: %w", err)
		}
	}
	return token, nil
}

func (s *service) ValidateToken(ctx context.Context, token string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid session token: %w", err)
	}
	if !parsed.Valid {
		return nil, fmt.Errorf("invalid session token")
	}

	if s.cache != nil {
		live, err := s.cache.Has(ctx, claims.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to check session: %w", err)
		}
		if !live {
			return nil, fmt.Errorf("session revoked or expired")
		}
	}
	return claims, nil
}

func (s *service) ValidateRequest(r *http.Request) (*Claims, error) {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		return nil, fmt.Errorf("missing bearer token")
	}
	return s.ValidateToken(r.Context(), token)
}

func (s *service) RevokeToken(ctx context.Context, token string) error {
	if s.cache == nil {
		return nil
	}
	claims, err := s.ValidateToken(ctx, token)
	if err != nil {
		return err
	}
	return s.cache.Delete(ctx, claims.ID)
}
