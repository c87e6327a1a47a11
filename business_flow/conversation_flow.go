package businessflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/amirphl/event-rsvp-engine/app/metrics"
	"github.com/amirphl/event-rsvp-engine/app/services"
	"github.com/amirphl/event-rsvp-engine/config"
	"github.com/amirphl/event-rsvp-engine/models"
	"github.com/amirphl/event-rsvp-engine/repository"
	"github.com/amirphl/event-rsvp-engine/utils"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// Replies used when the oracle gives nothing usable
const (
	FallbackReply       = "Sorry, I'm having trouble processing that. Could you repeat?"
	UnderstandingReply  = "Sorry, I didn't understand. Could you rephrase?"
	defaultHistorySize  = 10
	defaultLockTimeout  = 90 * time.Second
	inboundMediaPreview = "[%s]"
)

// Control tokens sent to the oracle for quick-reply buttons
const (
	ControlWrongRSVP  = "__WRONG_RSVP__"
	ControlChangeRSVP = "__CHANGE_RSVP__"
	ControlAddDocSelf = "__ADD_DOC_SELF__"
)

var buttonControlTokens = map[string]string{
	"wrong_response": ControlWrongRSVP,
	"change_mind":    ControlChangeRSVP,
	"add_doc_self":   ControlAddDocSelf,
}

// InboundEvent is one normalized user message
type InboundEvent struct {
	ProviderMessageID string
	MessageType       string
	Text              string
	Media             *InboundMedia
	ReceivedAt        time.Time
}

// InboundMedia is downloaded media attached to an inbound message
type InboundMedia struct {
	ProviderMediaID string
	Data            []byte
	MimeType        string
	FileName        string
	Caption         string
}

// OutboundReply reports what the contact was told
type OutboundReply struct {
	Text              string
	ProviderMessageID string
	State             models.ConversationState
	// Suppressed is set when a human operator owns the conversation
	Suppressed bool
	// Degraded is set when the turn fell back to the generic reply
	Degraded  bool
	SendError error
}

// ConversationFlow drives a contact through the RSVP dialogue
type ConversationFlow interface {
	Advance(ctx context.Context, contact *models.Contact, event InboundEvent) (*OutboundReply, error)
}

// ConversationFlowImpl implements ConversationFlow
type ConversationFlowImpl struct {
	conversationRepo repository.ConversationRepository
	groupRepo        repository.ContactGroupRepository
	uploadRepo       repository.UploadRepository
	itineraryRepo    repository.TravelItineraryRepository
	chatRepo         repository.ChatMessageRepository
	outboundRepo     repository.WhatsAppMessageRepository
	oracle           services.DecisionOracle
	extractor        services.ExtractionService
	mediaStore       services.MediaStore
	transport        services.WhatsAppClient
	locker           services.ContactLocker
	cache            services.ConversationCache
	config           *config.ConversationConfig
	db               *gorm.DB
	log              zerolog.Logger
}

// NewConversationFlow creates a new conversation flow. extractor may be nil when extraction is disabled.
func NewConversationFlow(
	conversationRepo repository.ConversationRepository,
	groupRepo repository.ContactGroupRepository,
	uploadRepo repository.UploadRepository,
	itineraryRepo repository.TravelItineraryRepository,
	chatRepo repository.ChatMessageRepository,
	outboundRepo repository.WhatsAppMessageRepository,
	oracle services.DecisionOracle,
	extractor services.ExtractionService,
	mediaStore services.MediaStore,
	transport services.WhatsAppClient,
	locker services.ContactLocker,
	cache services.ConversationCache,
	cfg *config.ConversationConfig,
	db *gorm.DB,
	log zerolog.Logger,
) ConversationFlow {
	if cache == nil {
		cache = services.NoopConversationCache{}
	}
	return &ConversationFlowImpl{
		conversationRepo: conversationRepo,
		groupRepo:        groupRepo,
		uploadRepo:       uploadRepo,
		itineraryRepo:    itineraryRepo,
		chatRepo:         chatRepo,
		outboundRepo:     outboundRepo,
		oracle:           oracle,
		extractor:        extractor,
		mediaStore:       mediaStore,
		transport:        transport,
		locker:           locker,
		cache:            cache,
		config:           cfg,
		db:               db,
		log:              log.With().Str("component", "conversation").Logger(),
	}
}

// turn carries everything gathered for one Advance call
type turn struct {
	contact   *models.Contact
	conv      *models.Conversation
	eventCtx  *services.EventContext
	event     InboundEvent
	text      string
	stored    *services.StoredMedia
	extracted models.ExtractedFields
}

// Advance processes one inbound event for contact. Calls for the same contact are serialized.
// A provider message id that was already recorded yields ErrDuplicateInbound and no reply.
func (s *ConversationFlowImpl) Advance(ctx context.Context, contact *models.Contact, event InboundEvent) (*OutboundReply, error) {
	if contact == nil {
		return nil, ErrContactNotFound
	}
	if event.ReceivedAt.IsZero() {
		event.ReceivedAt = utils.UTCNow()
	}

	lockCtx, cancel := context.WithTimeout(ctx, s.lockTimeout())
	unlock, err := s.locker.Lock(lockCtx, contact.ID)
	cancel()
	if err != nil {
		s.fallback(ctx, contact)
		return nil, NewBusinessError("CONTACT_BUSY", "Another message from this contact is still being processed", errors.Join(ErrContactBusy, err))
	}
	defer unlock()
	defer s.cache.Invalidate(context.Background(), contact.ID)

	if event.ProviderMessageID != "" {
		seen, err := s.chatRepo.Exists(ctx, models.ChatMessageFilter{
			ContactID:         &contact.ID,
			SenderType:        utils.ToPtr(models.SenderUser),
			ProviderMessageID: &event.ProviderMessageID,
		})
		if err != nil {
			s.log.Warn().Err(err).Uint("contact_id", contact.ID).Msg("failed to check for duplicate delivery")
		} else if seen {
			return nil, ErrDuplicateInbound
		}
	}

	conv, err := s.conversationRepo.GetOrCreate(ctx, contact.ID)
	if err != nil {
		s.fallback(ctx, contact)
		return nil, NewBusinessError("CONVERSATION_LOAD_FAILED", "Failed to load conversation", err)
	}

	t := &turn{
		contact:  contact,
		conv:     conv,
		event:    event,
		text:     inboundText(event),
		eventCtx: s.eventContext(ctx, contact),
	}

	history, err := s.chatRepo.ListRecent(ctx, contact.ID, s.historySize())
	if err != nil {
		s.log.Warn().Err(err).Uint("contact_id", contact.ID).Msg("failed to load chat history")
	}

	// Media is stored before anything else looks at it
	if event.Media != nil && len(event.Media.Data) > 0 {
		stored, err := s.mediaStore.Save(ctx, mediaKind(event.MessageType), event.Media.Data, event.Media.MimeType)
		if err != nil {
			s.log.Error().Err(err).Uint("contact_id", contact.ID).Msg("failed to store inbound media")
		} else {
			t.stored = stored
		}
	}

	if err := s.recordInbound(ctx, t); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrDuplicateInbound
		}
		s.fallback(ctx, contact)
		return nil, NewBusinessError("CHAT_RECORD_FAILED", "Failed to record inbound message", err)
	}

	if conv.IsManual() {
		s.log.Debug().Uint("contact_id", contact.ID).Msg("conversation is manual, skipping automated reply")
		return &OutboundReply{State: conv.State, Suppressed: true}, nil
	}

	if t.stored != nil && conv.State.ExpectsUpload() {
		t.extracted = s.extract(ctx, t)
	}

	uploads, err := s.uploadRepo.ListByContact(ctx, contact.ID)
	if err != nil {
		s.log.Warn().Err(err).Uint("contact_id", contact.ID).Msg("failed to list uploads")
	}

	decision, err := s.oracle.Decide(ctx, s.buildDecisionRequest(t, uploads, history))
	if err != nil {
		s.log.Error().Err(err).Uint("contact_id", contact.ID).Str("state", conv.State.String()).Msg("oracle decision failed")
		return s.degrade(ctx, t), nil
	}

	next := s.harden(t, decision)

	if err := s.applyDecision(ctx, t, decision, next); err != nil {
		s.log.Error().Err(err).Uint("contact_id", contact.ID).Msg("failed to apply decision")
		return s.degrade(ctx, t), nil
	}
	metrics.ConversationTransitionsTotal.WithLabelValues(next.String()).Inc()

	reply := s.reply(ctx, t, addressReply(decision.Reply, contact.FullName))
	reply.State = next
	return reply, nil
}

func (s *ConversationFlowImpl) lockTimeout() time.Duration {
	if s.config != nil && s.config.LockTimeout > 0 {
		return s.config.LockTimeout
	}
	return defaultLockTimeout
}

// eventContext loads what the contact's group says about the event; nil when there is nothing
func (s *ConversationFlowImpl) eventContext(ctx context.Context, contact *models.Contact) *services.EventContext {
	group := contact.Group
	if group == nil && s.groupRepo != nil && contact.GroupID != 0 {
		g, err := s.groupRepo.ByID(ctx, contact.GroupID)
		if err != nil {
			s.log.Warn().Err(err).Uint("contact_id", contact.ID).Msg("failed to load contact group")
		}
		group = g
	}
	if group == nil {
		return nil
	}

	ec := &services.EventContext{
		Name:        strings.TrimSpace(deref(group.EventName)),
		Description: strings.TrimSpace(deref(group.Description)),
		Info:        strings.TrimSpace(deref(group.EventInfo)),
	}
	if ec.IsEmpty() {
		return nil
	}
	return ec
}

func (s *ConversationFlowImpl) historySize() int {
	if s.config != nil && s.config.HistorySize > 0 {
		return s.config.HistorySize
	}
	return defaultHistorySize
}

func mediaKind(messageType string) string {
	switch messageType {
	case models.ChatMessageImage, models.ChatMessageDocument, models.ChatMessageVideo:
		return messageType + "s"
	}
	return "media"
}

// inboundText maps an event to the text the oracle sees
func inboundText(event InboundEvent) string {
	text := strings.TrimSpace(event.Text)
	if event.MessageType == models.ChatMessageButton {
		if token, ok := buttonControlTokens[strings.ToLower(text)]; ok {
			return token
		}
	}
	if text == "" && event.Media != nil {
		text = strings.TrimSpace(event.Media.Caption)
	}
	return text
}

func (s *ConversationFlowImpl) recordInbound(ctx context.Context, t *turn) error {
	msgType := t.event.MessageType
	if msgType == "" {
		msgType = models.ChatMessageText
	}
	body := t.text
	if body == "" && msgType != models.ChatMessageText {
		body = fmt.Sprintf(inboundMediaPreview, msgType)
	}

	msg := &models.ChatMessage{
		ContactID:   t.contact.ID,
		SenderType:  models.SenderUser,
		MessageType: msgType,
		Body:        body,
		CreatedAt:   t.event.ReceivedAt,
	}
	if t.stored != nil {
		msg.MediaRef = &t.stored.Ref
	}
	if t.event.ProviderMessageID != "" {
		msg.ProviderMessageID = &t.event.ProviderMessageID
	}

	return repository.WithTransaction(ctx, s.db, func(txCtx context.Context) error {
		if err := s.chatRepo.Save(txCtx, msg); err != nil {
			return err
		}
		if err := s.conversationRepo.TouchLastMessage(txCtx, t.contact.ID, t.event.ReceivedAt, body, true); err != nil {
			return err
		}
		t.conv.LastInboundAt = &t.event.ReceivedAt
		return nil
	})
}

// extract runs document extraction; failure degrades to no structured data
func (s *ConversationFlowImpl) extract(ctx context.Context, t *turn) models.ExtractedFields {
	if s.extractor == nil {
		return nil
	}
	scratch := t.conv.CurrentDocument
	input := services.ExtractionInput{
		Data:     t.event.Media.Data,
		MimeType: t.stored.MimeType,
		FileName: t.event.Media.FileName,
	}
	if scratch != nil {
		input.TransportType = scratch.TransportType
		input.Direction = models.InferDirection(scratch.Type)
	}
	if input.FileName == "" {
		input.FileName = t.stored.Ref[strings.LastIndex(t.stored.Ref, "/")+1:]
	}

	fields, err := s.extractor.Extract(ctx, input)
	if err != nil {
		s.log.Warn().Err(err).Uint("contact_id", t.contact.ID).Msg("document extraction failed, continuing without it")
		return nil
	}
	return fields
}

func (s *ConversationFlowImpl) buildDecisionRequest(t *turn, uploads []*models.Upload, history []*models.ChatMessage) services.DecisionRequest {
	conv := t.conv
	req := services.DecisionRequest{
		State:           conv.State,
		UserMessage:     t.text,
		ParticipantName: t.contact.FullName,
		RSVPStatus:      conv.RSVPStatus,
		GuestCount:      conv.GuestCount,
		Notes:           conv.Notes,
		ProofUploaded:   conv.ProofUploaded,
		ExtractedFields: t.extracted,
		MediaReceived:   t.stored != nil,
		Event:           t.eventCtx,
	}
	if !conv.CurrentDocument.IsEmpty() {
		scratch := *conv.CurrentDocument
		req.Scratch = &scratch
	}
	for _, u := range uploads {
		req.UploadedDocuments = append(req.UploadedDocuments, services.UploadedDocument{
			DocumentType: u.DocumentType,
			PersonName:   u.PersonName,
			Role:         u.Role,
		})
	}
	for _, h := range history {
		req.History = append(req.History, services.HistoryLine{Sender: h.SenderType, Body: h.Body})
	}
	return req
}

// harden validates the oracle's proposal and fills in what it forgot. It returns the state to move to.
func (s *ConversationFlowImpl) harden(t *turn, d *services.Decision) models.ConversationState {
	if strings.TrimSpace(d.Reply) == "" {
		d.Reply = UnderstandingReply
	}

	next := models.ConversationState(strings.TrimSpace(d.NextState))
	if !next.Valid() {
		s.log.Warn().Str("proposed", d.NextState).Str("state", t.conv.State.String()).Msg("oracle proposed an unknown state, staying put")
		next = t.conv.State
	}

	if t.stored != nil && t.conv.State.ExpectsUpload() && d.Actions.SaveUpload == nil {
		d.Actions.SaveUpload = s.defaultSaveUpload(t)
	}

	if d.Actions.Fields.NumberOfGuests != nil && *d.Actions.Fields.NumberOfGuests < 0 {
		d.Actions.Fields.NumberOfGuests = nil
	}
	return next
}

func (s *ConversationFlowImpl) defaultSaveUpload(t *turn) *services.SaveUploadAction {
	scratch := t.conv.CurrentDocument
	if scratch == nil {
		scratch = &models.DocumentScratch{}
	}

	action := &services.SaveUploadAction{
		DocumentType: scratch.Type,
		Role:         scratch.Role,
		PersonName:   scratch.Name,
	}
	if t.conv.State.IsIDUpload() {
		action.DocumentType = models.DocumentTypeIDProof
	}
	if action.DocumentType == "" {
		action.DocumentType = models.DocumentTypeTravel
	}
	if action.Role == "" {
		action.Role = models.RoleSelf
	}
	if action.PersonName == "" {
		action.PersonName = t.contact.FullName
	}
	return action
}

// applyDecision writes the turn's side effects atomically: scratch, upload and itinerary,
// RSVP fields, then state.
func (s *ConversationFlowImpl) applyDecision(ctx context.Context, t *turn, d *services.Decision, next models.ConversationState) error {
	conv := *t.conv
	current := t.conv.State
	scratch := mergeScratch(t.conv.CurrentDocument, d.Actions.CacheUpdate, current)

	return repository.WithTransaction(ctx, s.db, func(txCtx context.Context) error {
		if d.Actions.SaveUpload != nil && t.stored != nil {
			proof, err := s.saveUpload(txCtx, t, d.Actions.SaveUpload, scratch)
			if err != nil {
				return err
			}
			if proof {
				conv.ProofUploaded = true
			}
		}

		if next.ClearsScratch() && scratch.HasManualTravel() {
			if err := s.saveManualTravel(txCtx, t, scratch); err != nil {
				return err
			}
		}

		f := d.Actions.Fields
		if f.RSVPStatus != nil {
			conv.RSVPStatus = f.RSVPStatus
		}
		if f.NumberOfGuests != nil {
			conv.GuestCount = f.NumberOfGuests
		}
		if f.Notes != nil {
			conv.Notes = f.Notes
		}
		if f.ProofUploaded != nil && *f.ProofUploaded {
			conv.ProofUploaded = true
		}

		conv.State = next
		if next.ClearsScratch() || scratch.IsEmpty() {
			conv.CurrentDocument = nil
		} else {
			conv.CurrentDocument = scratch
		}

		if err := s.conversationRepo.Update(txCtx, &conv); err != nil {
			return err
		}
		*t.conv = conv
		return nil
	})
}

// mergeScratch applies the oracle's scratch writes. While documents are being collected
// for a named person, that name and role stay pinned.
func mergeScratch(prev *models.DocumentScratch, u *services.CacheUpdate, state models.ConversationState) *models.DocumentScratch {
	out := &models.DocumentScratch{}
	if prev != nil {
		*out = *prev
	}
	if u == nil {
		return out
	}

	pinned := state.InDocumentSubflow() && out.Name != ""
	if u.CurrentDocName != "" && !pinned {
		out.Name = u.CurrentDocName
	}
	if u.CurrentDocRole != "" && (!pinned || out.Role == "" || state == models.StateAwaitingDocRole) {
		out.Role = u.CurrentDocRole
	}
	if u.CurrentDocType != "" {
		out.Type = u.CurrentDocType
	}
	if u.TransportType != "" {
		out.TransportType = u.TransportType
	}
	if u.TravelDirection != "" {
		out.TravelDirection = u.TravelDirection
	}
	if u.ArrivalDate != "" {
		out.ArrivalDate = u.ArrivalDate
	}
	if u.ArrivalTime != "" {
		out.ArrivalTime = u.ArrivalTime
	}
	if u.ReturnDate != "" {
		out.ReturnDate = u.ReturnDate
	}
	if u.ReturnTime != "" {
		out.ReturnTime = u.ReturnTime
	}
	return out
}

// saveUpload stores the upload row and, when the document's direction is known and extraction
// produced data, the itinerary leg. It reports whether the upload was an identity document.
func (s *ConversationFlowImpl) saveUpload(ctx context.Context, t *turn, a *services.SaveUploadAction, scratch *models.DocumentScratch) (bool, error) {
	docType := strings.TrimSpace(a.DocumentType)
	if docType == "" {
		docType = models.DocumentTypeTravel
	}
	role := strings.TrimSpace(a.Role)
	if role == "" {
		role = scratch.Role
	}
	if role == "" {
		role = models.RoleSelf
	}
	person := strings.TrimSpace(a.PersonName)
	if person == "" {
		person = scratch.Name
	}
	if person == "" {
		person = t.contact.FullName
	}

	upload := &models.Upload{
		ContactID:       t.contact.ID,
		PersonName:      person,
		DocumentType:    docType,
		Role:            role,
		StorageRef:      t.stored.Ref,
		MimeType:        t.stored.MimeType,
		ExtractedFields: t.extracted,
	}
	if t.event.Media.ProviderMediaID != "" {
		upload.ProviderMediaID = &t.event.Media.ProviderMediaID
	}
	if err := s.uploadRepo.Save(ctx, upload); err != nil {
		return false, fmt.Errorf("failed to save upload: %w", err)
	}

	isID := t.conv.State.IsIDUpload() || strings.EqualFold(docType, models.DocumentTypeIDProof)

	direction := models.InferDirection(docType)
	if len(t.extracted) > 0 && direction != "" {
		leg := models.TravelLeg{
			Direction:   direction,
			Date:        t.extracted[models.ExtractedDate],
			Time:        t.extracted[models.ExtractedTime],
			TransportNo: t.extracted[models.ExtractedTransportNumber],
			From:        t.extracted[models.ExtractedFromLocation],
			To:          t.extracted[models.ExtractedToLocation],
			UploadID:    &upload.ID,
		}
		if _, err := s.itineraryRepo.UpsertLeg(ctx, t.contact.ID, person, leg, models.ItinerarySourceDocument, t.extracted); err != nil {
			return false, err
		}
	}
	return isID, nil
}

// saveManualTravel persists dates typed in by the contact when the document sub-flow ends
func (s *ConversationFlowImpl) saveManualTravel(ctx context.Context, t *turn, scratch *models.DocumentScratch) error {
	person := scratch.Name
	if person == "" {
		person = t.contact.FullName
	}
	legs := []models.TravelLeg{
		{Direction: models.TravelDirectionArrival, Date: scratch.ArrivalDate, Time: scratch.ArrivalTime},
		{Direction: models.TravelDirectionReturn, Date: scratch.ReturnDate, Time: scratch.ReturnTime},
	}
	for _, leg := range legs {
		if leg.Date == "" {
			continue
		}
		if _, err := s.itineraryRepo.UpsertLeg(ctx, t.contact.ID, person, leg, models.ItinerarySourceManual, nil); err != nil {
			return err
		}
	}
	return nil
}

// fallback tells the contact to retry when the turn could not start; it is best effort
func (s *ConversationFlowImpl) fallback(ctx context.Context, contact *models.Contact) {
	s.reply(ctx, &turn{contact: contact}, FallbackReply)
}

// degrade answers with the generic reply and leaves the conversation untouched
func (s *ConversationFlowImpl) degrade(ctx context.Context, t *turn) *OutboundReply {
	reply := s.reply(ctx, t, FallbackReply)
	reply.State = t.conv.State
	reply.Degraded = true
	return reply
}

// reply sends text to the contact and records it in the transcript
func (s *ConversationFlowImpl) reply(ctx context.Context, t *turn, text string) *OutboundReply {
	out := &OutboundReply{Text: text}

	providerID, err := s.transport.SendText(ctx, t.contact.PhoneNumber, text)
	if err != nil {
		s.log.Error().Err(err).Uint("contact_id", t.contact.ID).Msg("failed to send reply")
		out.SendError = err
	} else {
		out.ProviderMessageID = providerID
	}

	now := utils.UTCNow()
	msg := &models.ChatMessage{
		ContactID:   t.contact.ID,
		SenderType:  models.SenderAssistant,
		MessageType: models.ChatMessageText,
		Body:        text,
		CreatedAt:   now,
	}
	if providerID != "" {
		msg.ProviderMessageID = &providerID
	}

	err = repository.WithTransaction(ctx, s.db, func(txCtx context.Context) error {
		if err := s.chatRepo.Save(txCtx, msg); err != nil {
			return err
		}
		if providerID != "" {
			if err := s.outboundRepo.Save(txCtx, &models.WhatsAppMessage{
				ProviderMessageID: providerID,
				ContactID:         &t.contact.ID,
				ToPhone:           t.contact.PhoneNumber,
				MessageType:       models.ChatMessageText,
				Body:              &text,
				SentAt:            &now,
			}); err != nil {
				return err
			}
		}
		return s.conversationRepo.TouchLastMessage(txCtx, t.contact.ID, now, text, false)
	})
	if err != nil {
		s.log.Error().Err(err).Uint("contact_id", t.contact.ID).Msg("failed to record reply")
	}
	return out
}

// addressReply prefixes the contact's first name unless the reply already mentions it
func addressReply(reply, fullName string) string {
	name := strings.TrimSpace(fullName)
	if i := strings.IndexByte(name, ' '); i > 0 {
		name = name[:i]
	}
	if name == "" || strings.Contains(strings.ToLower(reply), strings.ToLower(name)) {
		return reply
	}
	return name + ", " + reply
}
