package models

import (
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/amirphl/event-rsvp-engine/utils"
	"gorm.io/gorm"
)

// MessageStatus is the delivery status of an outbound message
type MessageStatus string

const (
	MessageStatusPending   MessageStatus = "pending"
	MessageStatusSent      MessageStatus = "sent"
	MessageStatusDelivered MessageStatus = "delivered"
	MessageStatusRead      MessageStatus = "read"
	MessageStatusFailed    MessageStatus = "failed"
)

func (s MessageStatus) String() string {
	return string(s)
}

func (s MessageStatus) Valid() bool {
	switch s {
	case MessageStatusPending, MessageStatusSent, MessageStatusDelivered,
		MessageStatusRead, MessageStatusFailed:
		return true
	}
	return false
}

// rank orders the successful delivery progression; failed has no rank.
func (s MessageStatus) rank() int {
	switch s {
	case MessageStatusPending:
		return 0
	case MessageStatusSent:
		return 1
	case MessageStatusDelivered:
		return 2
	case MessageStatusRead:
		return 3
	}
	return -1
}

// Advances reports whether moving from s to next is forward progress.
// Failed is reachable only before delivery was confirmed.
func (s MessageStatus) Advances(next MessageStatus) bool {
	if next == MessageStatusFailed {
		return s == MessageStatusPending || s == MessageStatusSent
	}
	if s == MessageStatusFailed {
		return false
	}
	return next.rank() > s.rank()
}

// StatusesBefore returns the statuses from which next is forward progress
func StatusesBefore(next MessageStatus) []MessageStatus {
	var out []MessageStatus
	for _, s := range []MessageStatus{MessageStatusPending, MessageStatusSent, MessageStatusDelivered, MessageStatusRead, MessageStatusFailed} {
		if s.Advances(next) {
			out = append(out, s)
		}
	}
	return out
}

func (s *MessageStatus) Scan(value any) error {
	if value == nil {
		*s = ""
		return nil
	}
	switch v := value.(type) {
	case string:
		*s = MessageStatus(v)
	case []byte:
		*s = MessageStatus(string(v))
	default:
		return fmt.Errorf("cannot scan %T into MessageStatus", value)
	}
	return nil
}

func (s MessageStatus) Value() (driver.Value, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid MessageStatus: %s", s)
	}
	return string(s), nil
}

// CampaignMessage is one recipient's delivery record within a campaign
type CampaignMessage struct {
	ID                uint          `gorm:"primaryKey" json:"id"`
	CampaignID        uint          `gorm:"not null;uniqueIndex:uk_campaign_messages_campaign_contact,priority:1;index:idx_campaign_messages_campaign_status,priority:1" json:"campaign_id"`
	Campaign          *Campaign     `gorm:"foreignKey:CampaignID;references:ID;constraint:OnDelete:CASCADE" json:"-"`
	ContactID         uint          `gorm:"not null;uniqueIndex:uk_campaign_messages_campaign_contact,priority:2" json:"contact_id"`
	Contact           *Contact      `gorm:"foreignKey:ContactID;references:ID;constraint:OnDelete:CASCADE" json:"contact,omitempty"`
	PhoneNumber       string        `gorm:"size:32;not null" json:"phone_number"`
	Status            MessageStatus `gorm:"size:16;not null;index:idx_campaign_messages_campaign_status,priority:2" json:"status"`
	RetryCount        int           `gorm:"not null;default:0" json:"retry_count"`
	ErrorCode         *string       `gorm:"size:64" json:"error_code,omitempty"`
	ErrorMessage      *string       `gorm:"type:text" json:"error_message,omitempty"`
	ProviderMessageID *string       `gorm:"size:255;index:idx_campaign_messages_provider_message_id" json:"provider_message_id,omitempty"`
	SentAt            *time.Time    `json:"sent_at,omitempty"`
	DeliveredAt       *time.Time    `json:"delivered_at,omitempty"`
	ReadAt            *time.Time    `json:"read_at,omitempty"`
	FailedAt          *time.Time    `json:"failed_at,omitempty"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
}

func (CampaignMessage) TableName() string {
	return "campaign_messages"
}

func (m *CampaignMessage) BeforeCreate(tx *gorm.DB) error {
	if m.Status == "" {
		m.Status = MessageStatusPending
	}
	now := utils.UTCNow()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now
	return nil
}

// IsRetryable reports whether the message may be reset to pending
func (m *CampaignMessage) IsRetryable() bool {
	return m.Status == MessageStatusFailed && m.RetryCount < utils.MaxMessageRetries
}

// CampaignMessageFilter represents filter criteria for campaign message queries
type CampaignMessageFilter struct {
	ID                *uint
	CampaignID        *uint
	ContactID         *uint
	Status            *MessageStatus
	ProviderMessageID *string
}

// CampaignMessageStats is the per-status breakdown of a campaign's messages
type CampaignMessageStats struct {
	Pending   int64 `json:"pending"`
	Sent      int64 `json:"sent"`
	Delivered int64 `json:"delivered"`
	Read      int64 `json:"read"`
	Failed    int64 `json:"failed"`
	Retryable int64 `json:"retryable"`
}
