package models

import (
	"time"

	"github.com/amirphl/event-rsvp-engine/utils"
	"gorm.io/gorm"
)

// WhatsAppMessage records an outbound provider message and its delivery progress
type WhatsAppMessage struct {
	ID                uint          `gorm:"primaryKey" json:"id"`
	ProviderMessageID string        `gorm:"size:255;not null;uniqueIndex:uk_whatsapp_messages_provider_message_id" json:"provider_message_id"`
	ContactID         *uint         `gorm:"index:idx_whatsapp_messages_contact_id" json:"contact_id,omitempty"`
	CampaignMessageID *uint         `json:"campaign_message_id,omitempty"`
	ToPhone           string        `gorm:"size:32;not null" json:"to_phone"`
	MessageType       string        `gorm:"size:16;not null" json:"message_type"`
	TemplateName      *string       `gorm:"size:255" json:"template_name,omitempty"`
	Body              *string       `gorm:"type:text" json:"body,omitempty"`
	Status            MessageStatus `gorm:"size:16;not null" json:"status"`
	SentAt            *time.Time    `json:"sent_at,omitempty"`
	DeliveredAt       *time.Time    `json:"delivered_at,omitempty"`
	ReadAt            *time.Time    `json:"read_at,omitempty"`
	FailedAt          *time.Time    `json:"failed_at,omitempty"`
	ErrorCode         *string       `gorm:"size:64" json:"error_code,omitempty"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
}

func (WhatsAppMessage) TableName() string {
	return "whatsapp_messages"
}

func (m *WhatsAppMessage) BeforeCreate(tx *gorm.DB) error {
	if m.Status == "" {
		m.Status = MessageStatusSent
	}
	now := utils.UTCNow()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now
	return nil
}

// StatusUpdate is a normalized delivery-status callback
type StatusUpdate struct {
	ProviderMessageID string
	Status            MessageStatus
	Timestamp         time.Time
	RecipientID       string
	ErrorCode         *string
}

// TimestampColumn returns the column stamped when a message reaches status
func TimestampColumn(status MessageStatus) string {
	switch status {
	case MessageStatusSent:
		return "sent_at"
	case MessageStatusDelivered:
		return "delivered_at"
	case MessageStatusRead:
		return "read_at"
	case MessageStatusFailed:
		return "failed_at"
	}
	return ""
}

// WhatsAppMessageFilter represents filter criteria for provider message queries
type WhatsAppMessageFilter struct {
	ProviderMessageID *string
	ContactID         *uint
	Status            *MessageStatus
}
