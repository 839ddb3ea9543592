package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apperrors "callrelay-backend/pkg/errors"
	"callrelay-backend/pkg/jwt"
	"callrelay-backend/pkg/logger"
	"callrelay-backend/pkg/response"
)

// RevocationChecker reports whether a token id has been revoked
type RevocationChecker interface {
	IsTokenRevoked(ctx context.Context, tokenID string) (bool, error)
}

// Authenticator validates connection and API tokens
type Authenticator struct {
	jwt        *jwt.JWTManager
	revocation RevocationChecker
}

// NewAuthenticator creates an Authenticator. revocation may be nil.
func NewAuthenticator(jwtManager *jwt.JWTManager, revocation RevocationChecker) *Authenticator {
	return &Authenticator{jwt: jwtManager, revocation: revocation}
}

// Authenticate validates the token signature, expiry and audience, then
// checks revocation. A revocation lookup failure is logged and the token
// is accepted.
func (a *Authenticator) Authenticate(ctx context.Context, token string) (*jwt.Claims, error) {
	if token == "" {
		return nil, apperrors.MissingFieldError("token")
	}

	claims, err := a.jwt.ValidateToken(token)
	if err != nil {
		return nil, apperrors.InvalidTokenError("Invalid token")
	}

	if a.revocation != nil && claims.ID != "" {
		revoked, err := a.revocation.IsTokenRevoked(ctx, claims.ID)
		if err != nil {
			logger.Warn("Token revocation check failed, allowing token",
				zap.String("user_id", claims.UserID.String()),
				zap.Error(err))
		} else if revoked {
			return nil, apperrors.InvalidTokenError("Token revoked")
		}
	}

	return claims, nil
}

// AuthMiddleware validates the Bearer token and sets user_id, username,
// role, token_id and token_expires_at in the Gin context
func AuthMiddleware(auth *Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			response.Unauthorized(c, "Authorization header required")
			c.Abort()
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			response.Unauthorized(c, "Invalid authorization header format")
			c.Abort()
			return
		}

		claims, err := auth.Authenticate(c.Request.Context(), parts[1])
		if err != nil {
			response.Error(c, http.StatusUnauthorized, string(apperrors.GetAppError(err).Code), apperrors.GetAppError(err).Message)
			c.Abort()
			return
		}

		c.Set("user_id", claims.UserID)
		c.Set("username", claims.Username)
		c.Set("role", claims.Role)
		c.Set("token_id", claims.ID)
		if claims.ExpiresAt != nil {
			c.Set("token_expires_at", claims.ExpiresAt.Time)
		}
		c.Next()
	}
}
