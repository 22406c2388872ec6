package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RevocationList invalidates tokens before they expire, e.g. on logout
type RevocationList interface {
	// Revoke blocks the token id for ttl, normally its remaining lifetime
	Revoke(ctx context.Context, jti string, ttl time.Duration) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

const revocationKeyPrefix = "token:revoked:"

// RedisRevocationList implements RevocationList using Redis
type RedisRevocationList struct {
	client *redis.Client
}

// NewRedisRevocationListWithClient creates a revocation list with an existing Redis client
func NewRedisRevocationListWithClient(client *redis.Client) *RedisRevocationList {
	return &RedisRevocationList{client: client}
}

// Revoke adds the token id with a TTL. A non-positive ttl is a no-op.
func (r *RedisRevocationList) Revoke(ctx context.Context, jti string, ttl time.Duration) error {
	if jti == "" || ttl <= 0 {
		return nil
	}
	if err := r.client.Set(ctx, revocationKeyPrefix+jti, "1", ttl).Err(); err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}
	return nil
}

// IsRevoked checks if a token id is on the list
func (r *RedisRevocationList) IsRevoked(ctx context.Context, jti string) (bool, error) {
	if jti == "" {
		return false, nil
	}
	exists, err := r.client.Exists(ctx, revocationKeyPrefix+jti).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check token revocation: %w", err)
	}
	return exists > 0, nil
}

var _ RevocationList = (*RedisRevocationList)(nil)

// InMemoryRevocationList keeps revoked ids in process memory.
// WARNING: This should not be used in production with multiple instances
type InMemoryRevocationList struct {
	mu      sync.Mutex
	revoked map[string]time.Time // jti -> expiration time
	now     func() time.Time
}

// NewInMemoryRevocationList creates a new in-memory revocation list
func NewInMemoryRevocationList() *InMemoryRevocationList {
	return &InMemoryRevocationList{
		revoked: make(map[string]time.Time),
		now:     time.Now,
	}
}

func (r *InMemoryRevocationList) Revoke(_ context.Context, jti string, ttl time.Duration) error {
	if jti == "" || ttl <= 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.revoked[jti] = r.now().Add(ttl)
	return nil
}

func (r *InMemoryRevocationList) IsRevoked(_ context.Context, jti string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	expiration, exists := r.revoked[jti]
	if !exists {
		return false, nil
	}
	if !r.now().Before(expiration) {
		delete(r.revoked, jti)
		return false, nil
	}
	return true, nil
}

var _ RevocationList = (*InMemoryRevocationList)(nil)

// Verifier combines signature checks with the revocation list
type Verifier struct {
	tokens  *JWTService
	revoked RevocationList
}

// NewVerifier creates a verifier. revoked may be nil.
func NewVerifier(tokens *JWTService, revoked RevocationList) *Verifier {
	return &Verifier{tokens: tokens, revoked: revoked}
}

// Verify returns the identity behind a token that is valid and not revoked
func (v *Verifier) Verify(ctx context.Context, token string) (*Identity, error) {
	identity, err := v.tokens.ValidateAccessToken(token)
	if err != nil {
		return nil, err
	}
	if v.revoked != nil {
		revoked, err := v.revoked.IsRevoked(ctx, identity.TokenID)
		if err != nil {
			return nil, err
		}
		if revoked {
			return nil, ErrTokenRevoked
		}
	}
	return identity, nil
}

// Revoke blocks the identity's token for the rest of its lifetime
func (v *Verifier) Revoke(ctx context.Context, identity *Identity) error {
	if v.revoked == nil || identity == nil {
		return nil
	}
	return v.revoked.Revoke(ctx, identity.TokenID, identity.RemainingTTL())
}
