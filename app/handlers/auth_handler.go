package handlers

import (
	"errors"
	"strings"

	"github.com/amirphl/event-rsvp-engine/app/dto"
	"github.com/amirphl/event-rsvp-engine/app/services"
	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"
)

// AuthHandler rotates and revokes operator tokens
type AuthHandler struct {
	baseHandler
	tokenService services.TokenService
}

// NewAuthHandler creates a new authentication handler
func NewAuthHandler(tokenService services.TokenService, log zerolog.Logger) *AuthHandler {
	return &AuthHandler{
		baseHandler:  newBaseHandler(log, "auth_handler"),
		tokenService: tokenService,
	}
}

// RefreshToken exchanges a refresh token for a new token pair
// @Summary Refresh operator token
// @Tags Auth
// @Accept json
// @Produce json
// @Param request body dto.OperatorTokenRefreshRequest true "Refresh token"
// @Success 200 {object} dto.APIResponse{data=dto.OperatorTokenResponse}
// @Failure 401 {object} dto.APIResponse "Invalid or revoked refresh token"
// @Router /api/v1/auth/refresh [post]
func (h *AuthHandler) RefreshToken(c fiber.Ctx) error {
	var req dto.OperatorTokenRefreshRequest
	if err := c.Bind().JSON(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}
	if ok, err := h.validate(c, &req); !ok {
		return err
	}

	access, refresh, err := h.tokenService.RefreshToken(req.RefreshToken)
	if err != nil {
		if errors.Is(err, services.ErrTokenExpired) {
			return h.ErrorResponse(c, fiber.StatusUnauthorized, "Refresh token has expired", "TOKEN_EXPIRED", nil)
		}
		if errors.Is(err, services.ErrTokenRevoked) {
			return h.ErrorResponse(c, fiber.StatusUnauthorized, "Refresh token has been revoked", "TOKEN_REVOKED", nil)
		}
		h.log.Debug().Err(err).Msg("refresh rejected")
		return h.ErrorResponse(c, fiber.StatusUnauthorized, "Invalid refresh token", "TOKEN_INVALID", nil)
	}

	return h.SuccessResponse(c, fiber.StatusOK, "Token refreshed", dto.OperatorTokenResponse{
		Message:      "Token refreshed",
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
	})
}

// Logout revokes the presented access token
// @Summary Logout
// @Tags Auth
// @Produce json
// @Success 200 {object} dto.APIResponse
// @Router /api/v1/auth/logout [post]
func (h *AuthHandler) Logout(c fiber.Ctx) error {
	token := strings.TrimPrefix(c.Get("Authorization"), "Bearer ")
	if token == "" {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Access token is required", "MISSING_ACCESS_TOKEN", nil)
	}

	ctx, cancel := createRequestContext(c, "/api/v1/auth/logout")
	defer cancel()

	if err := h.tokenService.RevokeToken(ctx, token); err != nil {
		h.log.Error().Err(err).Msg("failed to revoke token")
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Logout failed", "LOGOUT_FAILED", nil)
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Logged out", nil)
}
