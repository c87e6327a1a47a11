package businessflow

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/amirphl/event-rsvp-engine/app/dto"
	"github.com/amirphl/event-rsvp-engine/app/services"
	"github.com/amirphl/event-rsvp-engine/models"
	"github.com/amirphl/event-rsvp-engine/repository"
	"github.com/amirphl/event-rsvp-engine/utils"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// Transcript notices for operator takeover
const (
	ManualTakeoverNotice = "You are now chatting with a team member. Automated replies are temporarily paused."
	AutomationResumed    = "Automated replies have been resumed."
)

const conversationEntity = "conversation"

// ChatFlow is the operator side of a contact's conversation
type ChatFlow interface {
	ListConversations(ctx context.Context, req *dto.ListConversationsRequest) (*dto.ListConversationsResponse, error)
	GetConversation(ctx context.Context, contactID uint) (*dto.GetConversationResponse, error)
	ListChatMessages(ctx context.Context, req *dto.ListChatMessagesRequest) (*dto.ListChatMessagesResponse, error)
	SendAdminMessage(ctx context.Context, req *dto.SendAdminMessageRequest, metadata *ClientMetadata) (*dto.SendAdminMessageResponse, error)
	ResumeAutomation(ctx context.Context, req *dto.ResumeAutomationRequest, metadata *ClientMetadata) (*dto.ResumeAutomationResponse, error)
}

// ChatFlowImpl implements ChatFlow
type ChatFlowImpl struct {
	contactRepo      repository.ContactRepository
	conversationRepo repository.ConversationRepository
	chatRepo         repository.ChatMessageRepository
	outboundRepo     repository.WhatsAppMessageRepository
	uploadRepo       repository.UploadRepository
	itineraryRepo    repository.TravelItineraryRepository
	auditRepo        repository.AuditLogRepository
	transport        services.WhatsAppClient
	locker           services.ContactLocker
	cache            services.ConversationCache
	db               *gorm.DB
	log              zerolog.Logger
	now              func() time.Time
}

// NewChatFlow creates a new chat flow
func NewChatFlow(
	contactRepo repository.ContactRepository,
	conversationRepo repository.ConversationRepository,
	chatRepo repository.ChatMessageRepository,
	outboundRepo repository.WhatsAppMessageRepository,
	uploadRepo repository.UploadRepository,
	itineraryRepo repository.TravelItineraryRepository,
	auditRepo repository.AuditLogRepository,
	transport services.WhatsAppClient,
	locker services.ContactLocker,
	cache services.ConversationCache,
	db *gorm.DB,
	log zerolog.Logger,
) ChatFlow {
	if cache == nil {
		cache = services.NoopConversationCache{}
	}
	return &ChatFlowImpl{
		contactRepo:      contactRepo,
		conversationRepo: conversationRepo,
		chatRepo:         chatRepo,
		outboundRepo:     outboundRepo,
		uploadRepo:       uploadRepo,
		itineraryRepo:    itineraryRepo,
		auditRepo:        auditRepo,
		transport:        transport,
		locker:           locker,
		cache:            cache,
		db:               db,
		log:              log.With().Str("component", "chat").Logger(),
		now:              utils.UTCNow,
	}
}

// ListConversations returns conversations with the most recently active first
func (s *ChatFlowImpl) ListConversations(ctx context.Context, req *dto.ListConversationsRequest) (*dto.ListConversationsResponse, error) {
	if req == nil {
		req = &dto.ListConversationsRequest{}
	}
	page, limit, err := normalizePage(req.Page, req.Limit)
	if err != nil {
		return nil, NewBusinessError("LIST_CONVERSATIONS_VALIDATION_FAILED", "Invalid pagination", err)
	}

	var filter models.ConversationFilter
	if req.Mode != nil && *req.Mode != "" {
		mode := models.ConversationMode(strings.ToUpper(*req.Mode))
		if !mode.Valid() {
			return nil, NewBusinessError("LIST_CONVERSATIONS_VALIDATION_FAILED", "Invalid mode filter", ErrInvalidStatus)
		}
		filter.Mode = &mode
	}
	if req.State != nil && *req.State != "" {
		state := models.ConversationState(*req.State)
		if !state.Valid() {
			return nil, NewBusinessError("LIST_CONVERSATIONS_VALIDATION_FAILED", "Invalid state filter", ErrInvalidStateName)
		}
		filter.State = &state
	}

	total, err := s.conversationRepo.Count(ctx, filter)
	if err != nil {
		return nil, NewBusinessError("LIST_CONVERSATIONS_FAILED", "Failed to count conversations", err)
	}
	rows, err := s.conversationRepo.ByFilter(ctx, filter, "COALESCE(last_message_at, created_at) DESC, id DESC", limit, (page-1)*limit)
	if err != nil {
		return nil, NewBusinessError("LIST_CONVERSATIONS_FAILED", "Failed to list conversations", err)
	}

	now := s.now()
	items := make([]dto.ConversationDTO, 0, len(rows))
	for _, conv := range rows {
		items = append(items, ToConversationDTO(conv, nil, now))
	}
	return &dto.ListConversationsResponse{
		Message:    "Conversations retrieved successfully",
		Items:      items,
		Pagination: paginationInfo(total, page, limit),
	}, nil
}

// GetConversation returns a conversation with its uploads and itineraries
func (s *ChatFlowImpl) GetConversation(ctx context.Context, contactID uint) (*dto.GetConversationResponse, error) {
	contact, err := s.loadContact(ctx, contactID)
	if err != nil {
		return nil, NewBusinessError("GET_CONVERSATION_FAILED", "Failed to get conversation", err)
	}

	conv, ok := s.cache.Get(ctx, contactID)
	if !ok {
		conv, err = s.conversationRepo.ByContactID(ctx, contactID)
		if err != nil {
			return nil, NewBusinessError("GET_CONVERSATION_FAILED", "Failed to get conversation", err)
		}
		if conv == nil {
			return nil, NewBusinessError("GET_CONVERSATION_FAILED", "Conversation not found", ErrConversationNotFound)
		}
		s.cache.Set(ctx, conv)
	}

	uploads, err := s.uploadRepo.ListByContact(ctx, contactID)
	if err != nil {
		return nil, NewBusinessError("GET_CONVERSATION_FAILED", "Failed to list uploads", err)
	}
	itineraries, err := s.itineraryRepo.ByFilter(ctx, models.TravelItineraryFilter{ContactID: &contactID}, "person_name ASC", 0, 0)
	if err != nil {
		return nil, NewBusinessError("GET_CONVERSATION_FAILED", "Failed to list itineraries", err)
	}

	out := ToConversationDTO(conv, contact, s.now())
	for _, u := range uploads {
		out.Uploads = append(out.Uploads, ToUploadDTO(u))
	}
	for _, it := range itineraries {
		out.Itineraries = append(out.Itineraries, ToTravelItineraryDTO(it))
	}
	return &dto.GetConversationResponse{
		Message:      "Conversation retrieved successfully",
		Conversation: out,
	}, nil
}

// ListChatMessages returns a page of a contact's transcript
func (s *ChatFlowImpl) ListChatMessages(ctx context.Context, req *dto.ListChatMessagesRequest) (*dto.ListChatMessagesResponse, error) {
	page, limit, err := normalizePage(req.Page, req.Limit)
	if err != nil {
		return nil, NewBusinessError("LIST_CHAT_MESSAGES_VALIDATION_FAILED", "Invalid pagination", err)
	}
	if _, err := s.loadContact(ctx, req.ContactID); err != nil {
		return nil, NewBusinessError("LIST_CHAT_MESSAGES_FAILED", "Failed to get contact", err)
	}

	total, err := s.chatRepo.Count(ctx, models.ChatMessageFilter{ContactID: &req.ContactID})
	if err != nil {
		return nil, NewBusinessError("LIST_CHAT_MESSAGES_FAILED", "Failed to count messages", err)
	}
	rows, err := s.chatRepo.ListByContact(ctx, req.ContactID, limit, (page-1)*limit)
	if err != nil {
		return nil, NewBusinessError("LIST_CHAT_MESSAGES_FAILED", "Failed to list messages", err)
	}

	items := make([]dto.ChatMessageDTO, 0, len(rows))
	for _, m := range rows {
		items = append(items, ToChatMessageDTO(m))
	}
	return &dto.ListChatMessagesResponse{
		Message:    "Messages retrieved successfully",
		Items:      items,
		Pagination: paginationInfo(total, page, limit),
	}, nil
}

// SendAdminMessage sends free-form operator text to a contact. The first operator message
// takes the conversation over from automation and tells the contact once.
func (s *ChatFlowImpl) SendAdminMessage(ctx context.Context, req *dto.SendAdminMessageRequest, metadata *ClientMetadata) (*dto.SendAdminMessageResponse, error) {
	text := strings.TrimSpace(req.Message)
	if text == "" {
		return nil, NewBusinessError("SEND_ADMIN_MESSAGE_VALIDATION_FAILED", "Message is required", ErrMessageRequired)
	}

	contact, err := s.loadContact(ctx, req.ContactID)
	if err != nil {
		return nil, NewBusinessError("SEND_ADMIN_MESSAGE_FAILED", "Failed to get contact", err)
	}

	unlock, err := s.locker.Lock(ctx, contact.ID)
	if err != nil {
		return nil, NewBusinessError("CONTACT_BUSY", "Contact is busy", errors.Join(ErrContactBusy, err))
	}
	defer unlock()
	defer s.cache.Invalidate(context.Background(), contact.ID)

	conv, err := s.conversationRepo.GetOrCreate(ctx, contact.ID)
	if err != nil {
		return nil, NewBusinessError("SEND_ADMIN_MESSAGE_FAILED", "Failed to load conversation", err)
	}

	now := s.now()
	if !conv.WithinMessagingWindow(now) {
		return nil, NewBusinessError(CodeMessagingWindowExpired, "The contact has not written in the last 24 hours; send a template instead", ErrMessagingWindowExpired)
	}

	if !conv.IsManual() {
		switched, err := s.conversationRepo.SwitchMode(ctx, contact.ID, models.ConversationModeAuto, models.ConversationModeManual, map[string]any{
			"manual_activated_by": req.OperatorID,
			"manual_activated_at": now,
		})
		if err != nil {
			return nil, NewBusinessError("SEND_ADMIN_MESSAGE_FAILED", "Failed to take over conversation", err)
		}
		if switched {
			_ = createAuditLog(ctx, s.auditRepo, auditEntry{
				operatorID:  req.OperatorID,
				action:      models.AuditActionManualTakeover,
				entityType:  conversationEntity,
				entityID:    contact.ID,
				description: "Operator took over conversation",
				success:     true,
			}, metadata)
		}
		conv.Mode = models.ConversationModeManual
	}

	if !conv.UserNotified {
		if _, err := s.send(ctx, contact, models.SenderSystem, nil, ManualTakeoverNotice); err != nil {
			s.log.Warn().Err(err).Uint("contact_id", contact.ID).Msg("failed to send takeover notice")
		} else if err := s.conversationRepo.MarkUserNotified(ctx, contact.ID); err != nil {
			s.log.Warn().Err(err).Uint("contact_id", contact.ID).Msg("failed to mark contact notified")
		}
	}

	msg, err := s.send(ctx, contact, models.SenderAdmin, utils.ToPtr(req.OperatorID), text)
	if err != nil {
		return nil, NewBusinessError(services.ErrorCode(err), "Failed to send message", err)
	}

	return &dto.SendAdminMessageResponse{
		Message:           "Message sent successfully",
		ChatMessage:       ToChatMessageDTO(msg),
		ProviderMessageID: *msg.ProviderMessageID,
		Mode:              string(conv.Mode),
	}, nil
}

// ResumeAutomation hands a manual conversation back to automated replies
func (s *ChatFlowImpl) ResumeAutomation(ctx context.Context, req *dto.ResumeAutomationRequest, metadata *ClientMetadata) (*dto.ResumeAutomationResponse, error) {
	contact, err := s.loadContact(ctx, req.ContactID)
	if err != nil {
		return nil, NewBusinessError("RESUME_AUTOMATION_FAILED", "Failed to get contact", err)
	}

	unlock, err := s.locker.Lock(ctx, contact.ID)
	if err != nil {
		return nil, NewBusinessError("CONTACT_BUSY", "Contact is busy", errors.Join(ErrContactBusy, err))
	}
	defer unlock()
	defer s.cache.Invalidate(context.Background(), contact.ID)

	now := s.now()
	err = repository.WithTransaction(ctx, s.db, func(txCtx context.Context) error {
		switched, err := s.conversationRepo.SwitchMode(txCtx, contact.ID, models.ConversationModeManual, models.ConversationModeAuto, map[string]any{
			"manual_activated_by": nil,
			"manual_activated_at": nil,
			"user_notified":       false,
		})
		if err != nil {
			return err
		}
		if !switched {
			return ErrAlreadyAutomated
		}

		if err := s.chatRepo.Save(txCtx, &models.ChatMessage{
			ContactID:   contact.ID,
			SenderType:  models.SenderSystem,
			MessageType: models.ChatMessageText,
			Body:        AutomationResumed,
			CreatedAt:   now,
		}); err != nil {
			return err
		}
		return s.conversationRepo.TouchLastMessage(txCtx, contact.ID, now, AutomationResumed, false)
	})

	_ = createAuditLog(ctx, s.auditRepo, auditEntry{
		operatorID:  req.OperatorID,
		action:      models.AuditActionAutomationResumed,
		entityType:  conversationEntity,
		entityID:    contact.ID,
		description: "Operator resumed automated replies",
		success:     err == nil,
		err:         err,
	}, metadata)
	if err != nil {
		return nil, NewBusinessError("RESUME_AUTOMATION_FAILED", "Failed to resume automation", err)
	}

	return &dto.ResumeAutomationResponse{
		Message: "Automated replies resumed",
		Mode:    string(models.ConversationModeAuto),
	}, nil
}

// send delivers text and records it in the transcript and the outbound log
func (s *ChatFlowImpl) send(ctx context.Context, contact *models.Contact, sender string, senderID *uint, text string) (*models.ChatMessage, error) {
	providerID, err := s.transport.SendText(ctx, contact.PhoneNumber, text)
	if err != nil {
		return nil, err
	}

	now := s.now()
	msg := &models.ChatMessage{
		ContactID:         contact.ID,
		SenderType:        sender,
		SenderID:          senderID,
		MessageType:       models.ChatMessageText,
		Body:              text,
		ProviderMessageID: &providerID,
		CreatedAt:         now,
	}
	err = repository.WithTransaction(ctx, s.db, func(txCtx context.Context) error {
		if err := s.chatRepo.Save(txCtx, msg); err != nil {
			return err
		}
		if err := s.outboundRepo.Save(txCtx, &models.WhatsAppMessage{
			ProviderMessageID: providerID,
			ContactID:         &contact.ID,
			ToPhone:           contact.PhoneNumber,
			MessageType:       models.ChatMessageText,
			Body:              &text,
			SentAt:            &now,
		}); err != nil {
			return err
		}
		return s.conversationRepo.TouchLastMessage(txCtx, contact.ID, now, text, false)
	})
	if err != nil {
		// Delivered already; a missing transcript row must not turn into a resend
		s.log.Error().Err(err).Uint("contact_id", contact.ID).Msg("failed to record sent message")
	}
	return msg, nil
}

func (s *ChatFlowImpl) loadContact(ctx context.Context, id uint) (*models.Contact, error) {
	if id == 0 {
		return nil, ErrContactNotFound
	}
	contact, err := s.contactRepo.ByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if contact == nil {
		return nil, ErrContactNotFound
	}
	return contact, nil
}
