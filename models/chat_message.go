package models

import (
	"time"

	"github.com/amirphl/event-rsvp-engine/utils"
	"gorm.io/gorm"
)

// Chat transcript sender types
const (
	SenderUser      = "user"
	SenderAssistant = "assistant"
	SenderAdmin     = "admin"
	SenderSystem    = "system"
)

// Chat transcript message types
const (
	ChatMessageText     = "text"
	ChatMessageTemplate = "template"
	ChatMessageImage    = "image"
	ChatMessageDocument = "document"
	ChatMessageVideo    = "video"
	ChatMessageButton   = "button"
)

// ChatMessage is one entry of a contact's chat transcript
type ChatMessage struct {
	ID                uint      `gorm:"primaryKey" json:"id"`
	ContactID         uint      `gorm:"not null;index:idx_chat_messages_contact_created,priority:1;uniqueIndex:uk_chat_messages_provider_sender,priority:1" json:"contact_id"`
	Contact           *Contact  `gorm:"foreignKey:ContactID;references:ID;constraint:OnDelete:CASCADE" json:"-"`
	SenderType        string    `gorm:"size:16;not null;uniqueIndex:uk_chat_messages_provider_sender,priority:3" json:"sender_type"`
	SenderID          *uint     `json:"sender_id,omitempty"`
	MessageType       string    `gorm:"size:16;not null" json:"message_type"`
	Body              string    `gorm:"type:text" json:"body"`
	MediaRef          *string   `gorm:"size:1024" json:"media_ref,omitempty"`
	ProviderMessageID *string   `gorm:"size:255;index:idx_chat_messages_provider_message_id;uniqueIndex:uk_chat_messages_provider_sender,priority:2" json:"provider_message_id,omitempty"`
	CampaignID        *uint     `json:"campaign_id,omitempty"`
	CreatedAt         time.Time `gorm:"index:idx_chat_messages_contact_created,priority:2" json:"created_at"`
}

func (ChatMessage) TableName() string {
	return "chat_messages"
}

func (m *ChatMessage) BeforeCreate(tx *gorm.DB) error {
	if m.MessageType == "" {
		m.MessageType = ChatMessageText
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = utils.UTCNow()
	}
	return nil
}

// ChatMessageFilter represents filter criteria for transcript queries
type ChatMessageFilter struct {
	ContactID         *uint
	SenderType        *string
	CampaignID        *uint
	ProviderMessageID *string
}
