package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/campus/messaging/internal/infrastructure/auth"
	"github.com/campus/messaging/internal/infrastructure/logger"
	"github.com/campus/messaging/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// JWT context keys
const (
	JWTIdentityKey = "jwt_identity"
	JWTUserIDKey   = "jwt_user_id"
	AuthHeaderKey  = "Authorization"
	BearerPrefix   = "Bearer "
)

// TokenVerifier turns a bearer token into the caller's identity
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*auth.Identity, error)
}

// JWTMiddlewareConfig holds configuration for JWT middleware
type JWTMiddlewareConfig struct {
	// Verifier is required for token validation
	Verifier TokenVerifier
	// SkipPaths are paths that don't require authentication
	SkipPaths []string
	// Logger for middleware logging
	Logger *zap.Logger
}

// DefaultJWTConfig returns default JWT middleware configuration
func DefaultJWTConfig(verifier TokenVerifier) JWTMiddlewareConfig {
	return JWTMiddlewareConfig{
		Verifier: verifier,
		SkipPaths: []string{
			"/health",
			"/api/v1/health",
		},
	}
}

// JWTAuthMiddleware creates JWT authentication middleware
func JWTAuthMiddleware(verifier TokenVerifier) gin.HandlerFunc {
	return JWTAuthMiddlewareWithConfig(DefaultJWTConfig(verifier))
}

// JWTAuthMiddlewareWithConfig creates JWT authentication middleware with custom config
func JWTAuthMiddlewareWithConfig(cfg JWTMiddlewareConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		for _, skipPath := range cfg.SkipPaths {
			if path == skipPath {
				c.Next()
				return
			}
		}

		authHeader := c.GetHeader(AuthHeaderKey)
		if authHeader == "" {
			handleAuthError(c, cfg, auth.ErrInvalidToken, "Missing authorization header")
			return
		}
		if !strings.HasPrefix(authHeader, BearerPrefix) {
			handleAuthError(c, cfg, auth.ErrInvalidToken, "Invalid authorization header format")
			return
		}
		tokenString := strings.TrimSpace(strings.TrimPrefix(authHeader, BearerPrefix))
		if tokenString == "" {
			handleAuthError(c, cfg, auth.ErrInvalidToken, "Missing token")
			return
		}

		identity, err := cfg.Verifier.Verify(c.Request.Context(), tokenString)
		if err != nil {
			handleAuthError(c, cfg, err, "Token validation failed")
			return
		}

		SetIdentity(c, identity)

		if cfg.Logger != nil {
			cfg.Logger.Debug("JWT authentication successful",
				logger.UserID(identity.UserID))
		}

		c.Next()
	}
}

// SetIdentity stores the caller in the gin and request contexts
func SetIdentity(c *gin.Context, identity *auth.Identity) {
	c.Set(JWTIdentityKey, identity)
	c.Set(JWTUserIDKey, identity.UserID.String())

	ctx := c.Request.Context()
	ctx, _ = logger.WithUserID(ctx, logger.FromContext(ctx), identity.UserID.String())
	c.Request = c.Request.WithContext(ctx)
}

// handleAuthError handles authentication errors
func handleAuthError(c *gin.Context, cfg JWTMiddlewareConfig, err error, message string) {
	if cfg.Logger != nil {
		cfg.Logger.Warn("JWT authentication failed",
			zap.Error(err),
			zap.String("message", message),
			zap.String("path", c.Request.URL.Path),
		)
	}

	code, text := AuthErrorInfo(err)
	c.AbortWithStatusJSON(http.StatusUnauthorized, dto.NewErrorResponseWithRequestID(code, text, GetRequestID(c)))
}

// AuthErrorInfo maps a verification error to an API code and message
func AuthErrorInfo(err error) (string, string) {
	switch {
	case errors.Is(err, auth.ErrExpiredToken):
		return dto.ErrCodeTokenExpired, "Token has expired"
	case errors.Is(err, auth.ErrTokenRevoked):
		return dto.ErrCodeTokenInvalid, "Token has been revoked"
	case errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrInvalidClaims),
		errors.Is(err, auth.ErrMissingUserID),
		errors.Is(err, auth.ErrTokenNotYetValid):
		return dto.ErrCodeTokenInvalid, "Invalid token"
	default:
		return dto.ErrCodeUnauthorized, "Authentication required"
	}
}

// GetIdentity retrieves the caller from gin.Context
func GetIdentity(c *gin.Context) *auth.Identity {
	if v, exists := c.Get(JWTIdentityKey); exists {
		if identity, ok := v.(*auth.Identity); ok {
			return identity
		}
	}
	return nil
}

// GetJWTUserID retrieves the user ID from JWT claims in context
func GetJWTUserID(c *gin.Context) uuid.UUID {
	if identity := GetIdentity(c); identity != nil {
		return identity.UserID
	}
	return uuid.Nil
}
