package handlers

import (
	"encoding/json"
	"time"

	"github.com/amirphl/event-rsvp-engine/app/dto"
	businessflow "github.com/amirphl/event-rsvp-engine/business_flow"
	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"
)

// Inbound processing may wait on the contact lock, the oracle and a reply send
const webhookTimeout = 2 * time.Minute

// WebhookHandler receives WhatsApp Cloud API callbacks
type WebhookHandler struct {
	baseHandler
	flow businessflow.WebhookFlow
}

// NewWebhookHandler creates a new webhook handler
func NewWebhookHandler(flow businessflow.WebhookFlow, log zerolog.Logger) *WebhookHandler {
	return &WebhookHandler{
		baseHandler: newBaseHandler(log, "webhook_handler"),
		flow:        flow,
	}
}

// Verify answers the subscription handshake
// @Summary Webhook verification
// @Tags Webhook
// @Produce text/plain
// @Param hub.mode query string true "subscribe"
// @Param hub.verify_token query string true "Verify token"
// @Param hub.challenge query string true "Challenge to echo"
// @Success 200 {string} string "Challenge"
// @Failure 403 {string} string "Forbidden"
// @Router /webhook [get]
func (h *WebhookHandler) Verify(c fiber.Ctx) error {
	mode := c.Query("hub.mode")
	token := c.Query("hub.verify_token")
	challenge := c.Query("hub.challenge")
	if mode == "" || token == "" || challenge == "" {
		return c.Status(fiber.StatusBadRequest).SendString("missing parameters")
	}

	echo, err := h.flow.VerifySubscription(mode, token, challenge)
	if err != nil {
		h.log.Warn().Str("mode", mode).Msg("webhook verification rejected")
		return c.Status(fiber.StatusForbidden).SendString("forbidden")
	}
	return c.Status(fiber.StatusOK).SendString(echo)
}

// Receive processes a notification batch of messages and statuses
// @Summary Webhook notification
// @Tags Webhook
// @Accept json
// @Produce json
// @Success 200 {object} dto.APIResponse{data=dto.WebhookResult}
// @Failure 401 {object} dto.APIResponse "Invalid signature"
// @Router /webhook [post]
func (h *WebhookHandler) Receive(c fiber.Ctx) error {
	body := c.Body()
	if err := h.flow.VerifySignature(body, c.Get("X-Hub-Signature-256")); err != nil {
		h.log.Warn().Str("ip", c.IP()).Msg("webhook signature mismatch")
		return h.ErrorResponse(c, fiber.StatusUnauthorized, "Invalid signature", "INVALID_SIGNATURE", nil)
	}

	var payload dto.WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid payload", "INVALID_PAYLOAD", err.Error())
	}

	ctx, cancel := createRequestContextWithTimeout(c, "/webhook", webhookTimeout)
	defer cancel()

	result, err := h.flow.HandleNotification(ctx, &payload)
	if err != nil {
		return h.flowError(c, err, "Failed to process webhook", "WEBHOOK_FAILED")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Processed", result)
}
