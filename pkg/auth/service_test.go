package auth

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldtrace-io/fieldtrace-engine/pkg/models"
)

func testUser() *models.User {
	return &models.User{ID: 66, Username: "participant-66"}
}

func TestService_IssueAndValidate(t *testing.T) {
	svc := NewService("secret", time.Hour, nil)

	token, err := svc.IssueToken(context.Background(), testUser())
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := svc.ValidateToken(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, int64(66), claims.UserID)
	assert.Equal(t, "participant-66", claims.Username)
	assert.NotEmpty(t, claims.ID, "token id must be set for revocation")
}

func TestService_RejectsWrongSignature(t *testing.T) {
	issuer := NewService("secret-a", time.Hour, nil)
	verifier := NewService("secret-b", time.Hour, nil)

	token, err := issuer.IssueToken(context.Background(), testUser())
	require.NoError(t, err)

	_, err = verifier.ValidateToken(context.Background(), token)
	assert.Error(t, err)
}

func TestService_RejectsExpiredToken(t *testing.T) {
	svc := NewService("secret", -time.Minute, nil)

	token, err := svc.IssueToken(context.Background(), testUser())
	require.NoError(t, err)

	_, err = svc.ValidateToken(context.Background(), token)
	assert.Error(t, err)
}

func TestService_ValidateRequest(t *testing.T) {
	svc := NewService("secret", time.Hour, nil)
	token, err := svc.IssueToken(context.Background(), testUser())
	require.NoError(t, err)

	r, _ := http.NewRequest(http.MethodGet, "/api/users/me", nil)
	r.Header.Set("Authorization", "Bearer "+token)

	claims, err := svc.ValidateRequest(r)
	require.NoError(t, err)
	assert.Equal(t, int64(66), claims.UserID)

	// Missing and malformed headers both fail.
	bare, _ := http.NewRequest(http.MethodGet, "/", nil)
	_, err = svc.ValidateRequest(bare)
	assert.Error(t, err)

	bad, _ := http.NewRequest(http.MethodGet, "/", nil)
	bad.Header.Set("Authorization", token)
	_, err = svc.ValidateRequest(bad)
	assert.Error(t, err)
}

// memTokenCache is an in-memory TokenCache for revocation tests.
type memTokenCache struct {
	mu     sync.Mutex
	tokens map[string]int64
}

func newMemTokenCache() *memTokenCache {
	return &memTokenCache{tokens: make(map[string]int64)}
}

func (c *memTokenCache) Put(ctx context.Context, tokenID string, userID int64, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens[tokenID] = userID
	return nil
}

func (c *memTokenCache) Has(ctx context.Context, tokenID string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.tokens[tokenID]
	return ok, nil
}

func (c *memTokenCache) Delete(ctx context.Context, tokenID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.tokens, tokenID)
	return nil
}

func TestService_RevokeToken(t *testing.T) {
	cache := newMemTokenCache()
	svc := NewService("secret", time.Hour, cache)

	token, err := svc.IssueToken(context.Background(), testUser())
	require.NoError(t, err)

	_, err = svc.ValidateToken(context.Background(), token)
	require.NoError(t, err)

	require.NoError(t, svc.RevokeToken(context.Background(), token))

	_, err = svc.ValidateToken(context.Background(), token)
	assert.Error(t, err, "a revoked session must not validate")
}

func TestNewRedisTokenCache_NilClient(t *testing.T) {
	assert.Nil(t, NewRedisTokenCache(nil))
}
