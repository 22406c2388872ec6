package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/campus/messaging/internal/infrastructure/config"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Common errors
var (
	ErrInvalidToken     = errors.New("invalid token")
	ErrExpiredToken     = errors.New("token has expired")
	ErrInvalidClaims    = errors.New("invalid token claims")
	ErrTokenNotYetValid = errors.New("token is not yet valid")
	ErrMissingUserID    = errors.New("missing userId in claims")
	ErrTokenRevoked     = errors.New("token has been revoked")
)

// defaultDisplayName is used in push notifications when the token carries no name
const defaultDisplayName = "Someone"

// Claims are the claims issued by the campus auth service
type Claims struct {
	jwt.RegisteredClaims
	UserID string `json:"userId"`
	Email  string `json:"email,omitempty"`
	Name   string `json:"name,omitempty"`
}

// Identity is the authenticated caller
type Identity struct {
	UserID uuid.UUID
	Email  string
	Name   string
	// TokenID and ExpiresAt let a logout revoke the token for its remaining lifetime
	TokenID   string
	ExpiresAt time.Time
}

// DisplayName returns the name shown to other users
func (i Identity) DisplayName() string {
	if name := strings.TrimSpace(i.Name); name != "" {
		return name
	}
	return defaultDisplayName
}

// RemainingTTL returns the time until the token expires, zero when expired or unbounded
func (i Identity) RemainingTTL() time.Duration {
	if i.ExpiresAt.IsZero() {
		return 0
	}
	remaining := time.Until(i.ExpiresAt)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// JWTService verifies access tokens. Tokens are issued elsewhere;
// GenerateAccessToken exists for tooling and tests.
type JWTService struct {
	secret     []byte
	expiration time.Duration
	issuer     string
}

// NewJWTService creates a new JWT service
func NewJWTService(cfg config.JWTConfig) *JWTService {
	return &JWTService{
		secret:     []byte(cfg.Secret),
		expiration: cfg.AccessTokenExpiration,
		issuer:     cfg.Issuer,
	}
}

// GenerateTokenInput contains input for token generation
type GenerateTokenInput struct {
	UserID uuid.UUID
	Email  string
	Name   string
}

// GenerateAccessToken signs an HS256 access token
func (s *JWTService) GenerateAccessToken(input GenerateTokenInput) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(s.expiration)

	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Issuer:    s.issuer,
			Subject:   input.UserID.String(),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			NotBefore: jwt.NewNumericDate(now),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		UserID: input.UserID.String(),
		Email:  input.Email,
		Name:   input.Name,
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, expiresAt, nil
}

// ValidateAccessToken validates an access token and returns the caller's identity
func (s *JWTService) ValidateAccessToken(tokenString string) (*Identity, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		if errors.Is(err, jwt.ErrTokenNotValidYet) {
			return nil, ErrTokenNotYetValid
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidClaims
	}

	rawID := claims.UserID
	if rawID == "" {
		rawID = claims.Subject
	}
	if rawID == "" {
		return nil, ErrMissingUserID
	}
	userID, err := uuid.Parse(rawID)
	if err != nil {
		return nil, ErrInvalidClaims
	}

	identity := &Identity{
		UserID:  userID,
		Email:   claims.Email,
		Name:    claims.Name,
		TokenID: claims.ID,
	}
	if claims.ExpiresAt != nil {
		identity.ExpiresAt = claims.ExpiresAt.Time
	}
	return identity, nil
}

// GetAccessTokenExpiration returns the access token expiration duration
func (s *JWTService) GetAccessTokenExpiration() time.Duration {
	return s.expiration
}
