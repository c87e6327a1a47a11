// Package middleware contains HTTP middleware functions for request processing
package middleware

import (
	"errors"
	"strings"

	"github.com/amirphl/event-rsvp-engine/app/dto"
	"github.com/amirphl/event-rsvp-engine/app/services"
	"github.com/gofiber/fiber/v3"
)

// AuthMiddleware handles JWT token validation for operator endpoints
type AuthMiddleware struct {
	tokenService services.TokenService
}

// NewAuthMiddleware creates a new authentication middleware
func NewAuthMiddleware(tokenService services.TokenService) *AuthMiddleware {
	return &AuthMiddleware{
		tokenService: tokenService,
	}
}

func unauthorized(c fiber.Ctx, message, code string) error {
	return c.Status(fiber.StatusUnauthorized).JSON(dto.APIResponse{
		Success: false,
		Message: message,
		Error:   dto.ErrorDetail{Code: code},
	})
}

// Authenticate validates the bearer access token and stores the operator id in locals
func (m *AuthMiddleware) Authenticate() fiber.Handler {
	return func(c fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return unauthorized(c, "Authorization header is required", "MISSING_AUTHORIZATION_HEADER")
		}
		if !strings.HasPrefix(authHeader, "Bearer ") {
			return unauthorized(c, "Invalid authorization header format. Expected 'Bearer <token>'", "INVALID_AUTHORIZATION_FORMAT")
		}

		token := strings.TrimPrefix(authHeader, "Bearer ")
		if token == "" {
			return unauthorized(c, "Access token is required", "MISSING_ACCESS_TOKEN")
		}

		// Validation already checks for revocation
		claims, err := m.tokenService.ValidateOperatorToken(token)
		if err != nil {
			switch {
			case errors.Is(err, services.ErrTokenExpired):
				return unauthorized(c, "Access token has expired", "TOKEN_EXPIRED")
			case errors.Is(err, services.ErrTokenInvalid):
				return unauthorized(c, "Invalid access token", "TOKEN_INVALID")
			case errors.Is(err, services.ErrTokenRevoked):
				return unauthorized(c, "Access token has been revoked", "TOKEN_REVOKED")
			default:
				return unauthorized(c, "Token validation failed", "TOKEN_VALIDATION_FAILED")
			}
		}
		if claims.TokenType != "access" {
			return unauthorized(c, "Refresh tokens cannot be used for API access", "TOKEN_INVALID")
		}

		c.Locals("operator_id", claims.OperatorID)
		c.Locals("token_id", claims.TokenID)
		c.Locals("token_claims", claims)

		if requestID := c.Get("X-Request-ID"); requestID != "" {
			c.Locals("request_id", requestID)
		}

		return c.Next()
	}
}
