// Package businessflow contains the business logic for the application.
package businessflow

import (
	"context"
	"encoding/json"
	"time"

	"github.com/amirphl/event-rsvp-engine/app/dto"
	"github.com/amirphl/event-rsvp-engine/models"
	"github.com/amirphl/event-rsvp-engine/repository"
	"github.com/amirphl/event-rsvp-engine/utils"
)

const RequestIDKey = "X-Request-ID"

// ClientMetadata holds caller information for audit logging
type ClientMetadata struct {
	IPAddress  string            `json:"ip_address"`
	UserAgent  string            `json:"user_agent"`
	RequestID  string            `json:"request_id,omitempty"`
	Additional map[string]string `json:"additional,omitempty"`
}

// NewClientMetadata creates a new ClientMetadata instance with basic information
func NewClientMetadata(ipAddress, userAgent string) *ClientMetadata {
	return &ClientMetadata{
		IPAddress:  ipAddress,
		UserAgent:  userAgent,
		Additional: make(map[string]string),
	}
}

// AddAdditional adds additional custom information to the metadata
func (cm *ClientMetadata) AddAdditional(key, value string) {
	if cm.Additional == nil {
		cm.Additional = make(map[string]string)
	}
	cm.Additional[key] = value
}

// SetRequestID sets the request ID
func (cm *ClientMetadata) SetRequestID(requestID string) {
	cm.RequestID = requestID
}

// auditEntry is one operator action to record
type auditEntry struct {
	operatorID  uint
	action      string
	entityType  string
	entityID    uint
	description string
	success     bool
	err         error
	extra       map[string]any
}

// createAuditLog stores an audit row; failures to audit never fail the caller's operation
func createAuditLog(ctx context.Context, repo repository.AuditLogRepository, entry auditEntry, metadata *ClientMetadata) error {
	audit := &models.AuditLog{
		Action:      entry.action,
		Description: &entry.description,
		Success:     utils.ToPtr(entry.success),
	}
	if entry.operatorID != 0 {
		audit.OperatorID = utils.ToPtr(entry.operatorID)
	}
	if entry.entityType != "" {
		audit.EntityType = utils.ToPtr(entry.entityType)
	}
	if entry.entityID != 0 {
		audit.EntityID = utils.ToPtr(entry.entityID)
	}
	if entry.err != nil {
		audit.ErrorMessage = utils.ToPtr(entry.err.Error())
	}

	if metadata != nil {
		audit.IPAddress = &metadata.IPAddress
		audit.UserAgent = &metadata.UserAgent
		if metadata.RequestID != "" {
			audit.RequestID = &metadata.RequestID
		}
	}

	// Extract request ID from context if available
	if audit.RequestID == nil {
		if requestID, ok := ctx.Value(utils.RequestIDKey).(string); ok && requestID != "" {
			audit.RequestID = &requestID
		}
	}

	if len(entry.extra) > 0 {
		if raw, err := json.Marshal(entry.extra); err == nil {
			audit.Metadata = raw
		}
	}

	return repo.Save(ctx, audit)
}

// normalizePage validates paging input, applying defaults for zero values
func normalizePage(page, limit int) (int, int, error) {
	if page == 0 {
		page = 1
	}
	if limit == 0 {
		limit = 20
	}
	if page < 1 {
		return 0, 0, ErrInvalidPage
	}
	if limit < 1 || limit > 100 {
		return 0, 0, ErrInvalidPageSize
	}
	return page, limit, nil
}

func paginationInfo(total int64, page, limit int) dto.PaginationInfo {
	totalPages := int((total + int64(limit) - 1) / int64(limit))
	return dto.PaginationInfo{
		Total:      total,
		Page:       page,
		Limit:      limit,
		TotalPages: totalPages,
	}
}

// ToCampaignDTO converts a campaign model to its API view
func ToCampaignDTO(c *models.Campaign) dto.CampaignDTO {
	out := dto.CampaignDTO{
		ID:               c.ID,
		UUID:             c.UUID.String(),
		Name:             c.Name,
		Description:      c.Description,
		GroupID:          c.GroupID,
		TemplateName:     c.TemplateName,
		TemplateLanguage: c.TemplateLanguage,
		TemplateBody:     c.TemplateBody,
		TemplateParams:   []string(c.TemplateParams),
		Status:           c.Status.String(),
		ScheduledAt:      c.ScheduledAt,
		StartedAt:        c.StartedAt,
		CompletedAt:      c.CompletedAt,
		TotalRecipients:  c.TotalRecipients,
		MessagesSent:     c.MessagesSent,
		MessagesFailed:   c.MessagesFailed,
		ErrorMessage:     c.ErrorMessage,
		CreatedAt:        c.CreatedAt,
		UpdatedAt:        c.UpdatedAt,
	}
	if out.TemplateParams == nil {
		out.TemplateParams = []string{}
	}
	if c.Group != nil {
		out.GroupName = c.Group.Name
	}
	return out
}

func ToCampaignStatsDTO(s models.CampaignMessageStats) dto.CampaignStatsDTO {
	return dto.CampaignStatsDTO{
		Pending:   s.Pending,
		Sent:      s.Sent,
		Delivered: s.Delivered,
		Read:      s.Read,
		Failed:    s.Failed,
		Retryable: s.Retryable,
	}
}

func ToCampaignMessageDTO(m *models.CampaignMessage) dto.CampaignMessageDTO {
	out := dto.CampaignMessageDTO{
		ID:                m.ID,
		ContactID:         m.ContactID,
		PhoneNumber:       m.PhoneNumber,
		Status:            m.Status.String(),
		RetryCount:        m.RetryCount,
		ErrorCode:         m.ErrorCode,
		ErrorMessage:      m.ErrorMessage,
		ProviderMessageID: m.ProviderMessageID,
		SentAt:            m.SentAt,
		DeliveredAt:       m.DeliveredAt,
		ReadAt:            m.ReadAt,
		FailedAt:          m.FailedAt,
	}
	if m.Contact != nil {
		out.ContactName = m.Contact.FullName
	}
	return out
}

// ToConversationDTO converts a conversation to the operator view
func ToConversationDTO(conv *models.Conversation, contact *models.Contact, now time.Time) dto.ConversationDTO {
	out := dto.ConversationDTO{
		ContactID:          conv.ContactID,
		State:              conv.State.String(),
		Mode:               string(conv.Mode),
		RSVPStatus:         conv.RSVPStatus,
		GuestCount:         conv.GuestCount,
		Notes:              conv.Notes,
		ProofUploaded:      conv.ProofUploaded,
		UserNotified:       conv.UserNotified,
		WithinWindow:       conv.WithinMessagingWindow(now),
		LastInboundAt:      conv.LastInboundAt,
		LastMessageAt:      conv.LastMessageAt,
		LastMessagePreview: conv.LastMessagePreview,
		ManualActivatedBy:  conv.ManualActivatedBy,
		ManualActivatedAt:  conv.ManualActivatedAt,
		UpdatedAt:          conv.UpdatedAt,
	}
	if contact == nil {
		contact = conv.Contact
	}
	if contact != nil {
		out.ContactUUID = contact.UUID.String()
		out.ContactName = contact.FullName
		out.PhoneNumber = contact.PhoneNumber
	}
	if !conv.CurrentDocument.IsEmpty() {
		d := conv.CurrentDocument
		out.CurrentDocument = &dto.DocumentScratchDTO{
			Name:            d.Name,
			Role:            d.Role,
			Type:            d.Type,
			TravelDirection: d.TravelDirection,
			TransportType:   d.TransportType,
		}
	}
	return out
}

func ToChatMessageDTO(m *models.ChatMessage) dto.ChatMessageDTO {
	return dto.ChatMessageDTO{
		ID:                m.ID,
		SenderType:        m.SenderType,
		SenderID:          m.SenderID,
		MessageType:       m.MessageType,
		Body:              m.Body,
		MediaRef:          m.MediaRef,
		ProviderMessageID: m.ProviderMessageID,
		CampaignID:        m.CampaignID,
		CreatedAt:         m.CreatedAt,
	}
}

func ToUploadDTO(u *models.Upload) dto.UploadDTO {
	return dto.UploadDTO{
		ID:              u.ID,
		UUID:            u.UUID.String(),
		PersonName:      u.PersonName,
		DocumentType:    u.DocumentType,
		Role:            u.Role,
		StorageRef:      u.StorageRef,
		MimeType:        u.MimeType,
		ExtractedFields: map[string]string(u.ExtractedFields),
		CreatedAt:       u.CreatedAt,
	}
}

func ToTravelItineraryDTO(t *models.TravelItinerary) dto.TravelItineraryDTO {
	out := dto.TravelItineraryDTO{
		ContactID:        t.ContactID,
		PersonName:       t.PersonName,
		ArrivalDate:      t.ArrivalDate,
		ArrivalTime:      t.ArrivalTime,
		ArrivalTransport: t.ArrivalTransportNo,
		ArrivalFrom:      t.ArrivalFrom,
		ArrivalTo:        t.ArrivalTo,
		ReturnDate:       t.ReturnDate,
		ReturnTime:       t.ReturnTime,
		ReturnTransport:  t.ReturnTransportNo,
		ReturnFrom:       t.ReturnFrom,
		ReturnTo:         t.ReturnTo,
		Source:           t.Source,
	}
	if t.Contact != nil {
		out.ContactName = t.Contact.FullName
		out.PhoneNumber = t.Contact.PhoneNumber
	}
	return out
}

func ToGroupDTO(g *models.ContactGroup, contactCount int64) dto.GroupDTO {
	return dto.GroupDTO{
		ID:           g.ID,
		UUID:         g.UUID.String(),
		Name:         g.Name,
		EventName:    g.EventName,
		Description:  g.Description,
		EventInfo:    g.EventInfo,
		ContactCount: contactCount,
		CreatedAt:    g.CreatedAt,
	}
}

func ToContactDTO(c *models.Contact) dto.ContactDTO {
	return dto.ContactDTO{
		ID:          c.ID,
		UUID:        c.UUID.String(),
		GroupID:     c.GroupID,
		FullName:    c.FullName,
		PhoneNumber: c.PhoneNumber,
		Email:       c.Email,
		CreatedAt:   c.CreatedAt,
	}
}
