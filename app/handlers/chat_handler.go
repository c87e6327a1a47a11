package handlers

import (
	"github.com/amirphl/event-rsvp-engine/app/dto"
	businessflow "github.com/amirphl/event-rsvp-engine/business_flow"
	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"
)

// ChatHandlerInterface defines the contract for operator chat handlers
type ChatHandlerInterface interface {
	ListConversations(c fiber.Ctx) error
	GetConversation(c fiber.Ctx) error
	ListChatMessages(c fiber.Ctx) error
	SendAdminMessage(c fiber.Ctx) error
	ResumeAutomation(c fiber.Ctx) error
}

// ChatHandler exposes conversations and the manual takeover controls
type ChatHandler struct {
	baseHandler
	chatFlow businessflow.ChatFlow
}

// NewChatHandler creates a new chat handler
func NewChatHandler(chatFlow businessflow.ChatFlow, log zerolog.Logger) *ChatHandler {
	return &ChatHandler{
		baseHandler: newBaseHandler(log, "chat_handler"),
		chatFlow:    chatFlow,
	}
}

// ListConversations pages through conversations, most recently active first
// @Summary List Conversations
// @Tags Chats
// @Produce json
// @Param mode query string false "AUTO or MANUAL"
// @Param state query string false "Conversation state"
// @Success 200 {object} dto.APIResponse{data=dto.ListConversationsResponse}
// @Router /api/v1/chats [get]
func (h *ChatHandler) ListConversations(c fiber.Ctx) error {
	page, limit := pageParams(c)

	ctx, cancel := createRequestContext(c, "/api/v1/chats")
	defer cancel()

	result, err := h.chatFlow.ListConversations(ctx, &dto.ListConversationsRequest{
		Page:  page,
		Limit: limit,
		Mode:  optionalQuery(c, "mode"),
		State: optionalQuery(c, "state"),
	})
	if err != nil {
		return h.flowError(c, err, "Failed to list conversations", "LIST_CONVERSATIONS_FAILED")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Conversations retrieved successfully", result)
}

// GetConversation returns a contact's conversation with uploads and itineraries
// @Summary Get Conversation
// @Tags Chats
// @Produce json
// @Param contact_id path int true "Contact ID"
// @Success 200 {object} dto.APIResponse{data=dto.GetConversationResponse}
// @Router /api/v1/chats/{contact_id} [get]
func (h *ChatHandler) GetConversation(c fiber.Ctx) error {
	contactID, ok := pathID(c, "contact_id")
	if !ok {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid contact id", "INVALID_CONTACT_ID", nil)
	}

	ctx, cancel := createRequestContext(c, "/api/v1/chats/{contact_id}")
	defer cancel()

	result, err := h.chatFlow.GetConversation(ctx, contactID)
	if err != nil {
		return h.flowError(c, err, "Failed to get conversation", "GET_CONVERSATION_FAILED")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Conversation retrieved successfully", result)
}

// ListChatMessages pages through a contact's transcript
// @Summary List Chat Messages
// @Tags Chats
// @Produce json
// @Param contact_id path int true "Contact ID"
// @Success 200 {object} dto.APIResponse{data=dto.ListChatMessagesResponse}
// @Router /api/v1/chats/{contact_id}/messages [get]
func (h *ChatHandler) ListChatMessages(c fiber.Ctx) error {
	contactID, ok := pathID(c, "contact_id")
	if !ok {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid contact id", "INVALID_CONTACT_ID", nil)
	}
	page, limit := pageParams(c)

	ctx, cancel := createRequestContext(c, "/api/v1/chats/{contact_id}/messages")
	defer cancel()

	result, err := h.chatFlow.ListChatMessages(ctx, &dto.ListChatMessagesRequest{
		ContactID: contactID,
		Page:      page,
		Limit:     limit,
	})
	if err != nil {
		return h.flowError(c, err, "Failed to list chat messages", "LIST_CHAT_MESSAGES_FAILED")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Chat messages retrieved successfully", result)
}

// SendAdminMessage sends a free-form operator message and takes the conversation over
// @Summary Send Admin Message
// @Tags Chats
// @Accept json
// @Produce json
// @Param contact_id path int true "Contact ID"
// @Param request body dto.SendAdminMessageRequest true "Message"
// @Success 200 {object} dto.APIResponse{data=dto.SendAdminMessageResponse}
// @Failure 409 {object} dto.APIResponse "MESSAGING_WINDOW_EXPIRED"
// @Router /api/v1/chats/{contact_id}/messages [post]
func (h *ChatHandler) SendAdminMessage(c fiber.Ctx) error {
	contactID, ok := pathID(c, "contact_id")
	if !ok {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid contact id", "INVALID_CONTACT_ID", nil)
	}

	var req dto.SendAdminMessageRequest
	if err := c.Bind().JSON(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}
	if ok, err := h.validate(c, &req); !ok {
		return err
	}

	opID, ok := operatorID(c)
	if !ok {
		return h.ErrorResponse(c, fiber.StatusUnauthorized, "Operator ID not found in context", "MISSING_OPERATOR_ID", nil)
	}
	req.ContactID = contactID
	req.OperatorID = opID

	ctx, cancel := createRequestContext(c, "/api/v1/chats/{contact_id}/messages")
	defer cancel()

	result, err := h.chatFlow.SendAdminMessage(ctx, &req, clientMetadata(c))
	if err != nil {
		return h.flowError(c, err, "Failed to send message", "SEND_MESSAGE_FAILED")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Message sent successfully", result)
}

// ResumeAutomation hands a conversation back to automated replies
// @Summary Resume Automation
// @Tags Chats
// @Produce json
// @Param contact_id path int true "Contact ID"
// @Success 200 {object} dto.APIResponse{data=dto.ResumeAutomationResponse}
// @Failure 409 {object} dto.APIResponse "Already automated"
// @Router /api/v1/chats/{contact_id}/resume [post]
func (h *ChatHandler) ResumeAutomation(c fiber.Ctx) error {
	contactID, ok := pathID(c, "contact_id")
	if !ok {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid contact id", "INVALID_CONTACT_ID", nil)
	}
	opID, _ := operatorID(c)

	ctx, cancel := createRequestContext(c, "/api/v1/chats/{contact_id}/resume")
	defer cancel()

	result, err := h.chatFlow.ResumeAutomation(ctx, &dto.ResumeAutomationRequest{
		ContactID:  contactID,
		OperatorID: opID,
	}, clientMetadata(c))
	if err != nil {
		return h.flowError(c, err, "Failed to resume automation", "RESUME_AUTOMATION_FAILED")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Automation resumed", result)
}
