package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/amirphl/event-rsvp-engine/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// CampaignStatus represents the status of a campaign
type CampaignStatus string

const (
	CampaignStatusScheduled  CampaignStatus = "scheduled"
	CampaignStatusProcessing CampaignStatus = "processing"
	CampaignStatusCompleted  CampaignStatus = "completed"
	CampaignStatusCancelled  CampaignStatus = "cancelled"
	CampaignStatusFailed     CampaignStatus = "failed"
)

// String returns the string representation of the status
func (s CampaignStatus) String() string {
	return string(s)
}

// Valid checks if the status is valid
func (s CampaignStatus) Valid() bool {
	switch s {
	case CampaignStatusScheduled, CampaignStatusProcessing,
		CampaignStatusCompleted, CampaignStatusCancelled,
		CampaignStatusFailed:
		return true
	default:
		return false
	}
}

// Scan implements the sql.Scanner interface for CampaignStatus
func (s *CampaignStatus) Scan(value any) error {
	if value == nil {
		*s = ""
		return nil
	}

	switch v := value.(type) {
	case string:
		*s = CampaignStatus(v)
	case []byte:
		*s = CampaignStatus(string(v))
	default:
		return fmt.Errorf("cannot scan %T into CampaignStatus", value)
	}

	return nil
}

// Value implements the driver.Valuer interface for CampaignStatus
func (s CampaignStatus) Value() (driver.Value, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid CampaignStatus: %s", s)
	}
	return string(s), nil
}

// TemplateParams are the positional body parameters of a message template
type TemplateParams []string

// Value implements the driver.Valuer interface for TemplateParams
func (p TemplateParams) Value() (driver.Value, error) {
	if p == nil {
		p = TemplateParams{}
	}
	b, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements the sql.Scanner interface for TemplateParams
func (p *TemplateParams) Scan(value any) error {
	if value == nil {
		*p = TemplateParams{}
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into TemplateParams", value)
	}
	if len(bytes) == 0 {
		*p = TemplateParams{}
		return nil
	}

	return json.Unmarshal(bytes, p)
}

// Campaign is a scheduled template broadcast to a contact group
type Campaign struct {
	ID               uint           `gorm:"primaryKey" json:"id"`
	UUID             uuid.UUID      `gorm:"type:uuid;not null;uniqueIndex:uk_campaigns_uuid" json:"uuid"`
	Name             string         `gorm:"size:255;not null" json:"name"`
	Description      *string        `gorm:"type:text" json:"description,omitempty"`
	GroupID          uint           `gorm:"not null;index:idx_campaigns_group_id" json:"group_id"`
	Group            *ContactGroup  `gorm:"foreignKey:GroupID;references:ID" json:"group,omitempty"`
	CreatedBy        *uint          `json:"created_by,omitempty"`
	TemplateName     string         `gorm:"size:255;not null" json:"template_name"`
	TemplateLanguage string         `gorm:"size:16;not null" json:"template_language"`
	TemplateBody     *string        `gorm:"type:text" json:"template_body,omitempty"`
	TemplateParams   TemplateParams `gorm:"type:text" json:"template_params"`
	Status           CampaignStatus `gorm:"size:32;not null;index:idx_campaigns_status_scheduled_at,priority:1" json:"status"`
	ScheduledAt      time.Time      `gorm:"not null;index:idx_campaigns_status_scheduled_at,priority:2" json:"scheduled_at"`
	StartedAt        *time.Time     `json:"started_at,omitempty"`
	CompletedAt      *time.Time     `json:"completed_at,omitempty"`
	TotalRecipients  int            `gorm:"not null;default:0" json:"total_recipients"`
	MessagesSent     int            `gorm:"not null;default:0" json:"messages_sent"`
	MessagesFailed   int            `gorm:"not null;default:0" json:"messages_failed"`
	ErrorMessage     *string        `gorm:"type:text" json:"error_message,omitempty"`
	CreatedAt        time.Time      `gorm:"index:idx_campaigns_created_at" json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// TableName returns the table name for the model
func (Campaign) TableName() string {
	return "campaigns"
}

// BeforeCreate is called before creating a new record
func (c *Campaign) BeforeCreate(tx *gorm.DB) error {
	if c.UUID == uuid.Nil {
		c.UUID = uuid.New()
	}
	if c.Status == "" {
		c.Status = CampaignStatusScheduled
	}
	if c.TemplateLanguage == "" {
		c.TemplateLanguage = "en"
	}
	now := utils.UTCNow()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	return nil
}

// BeforeUpdate is called before updating a record
func (c *Campaign) BeforeUpdate(tx *gorm.DB) error {
	c.UpdatedAt = utils.UTCNow()
	return nil
}

// IsEditable checks if the campaign can be rescheduled
func (c *Campaign) IsEditable() bool {
	return c.Status == CampaignStatusScheduled
}

// IsCancellable checks if the campaign can be cancelled
func (c *Campaign) IsCancellable() bool {
	return c.Status == CampaignStatusScheduled || c.Status == CampaignStatusProcessing
}

// IsDeletable checks if the campaign can be deleted
func (c *Campaign) IsDeletable() bool {
	return c.Status != CampaignStatusProcessing
}

// IsRetryable checks if failed messages of the campaign may be retried
func (c *Campaign) IsRetryable() bool {
	return c.Status == CampaignStatusCompleted || c.Status == CampaignStatusFailed
}

// CanTransitionTo checks if the campaign can transition to the given status
func (c *Campaign) CanTransitionTo(newStatus CampaignStatus) bool {
	switch c.Status {
	case CampaignStatusScheduled:
		return newStatus == CampaignStatusProcessing ||
			newStatus == CampaignStatusCancelled
	case CampaignStatusProcessing:
		return newStatus == CampaignStatusCompleted ||
			newStatus == CampaignStatusFailed ||
			newStatus == CampaignStatusCancelled
	case CampaignStatusCompleted, CampaignStatusFailed:
		return newStatus == CampaignStatusScheduled
	default:
		return false
	}
}

// CampaignFilter represents filter criteria for campaigns
type CampaignFilter struct {
	ID              *uint           `json:"id,omitempty"`
	UUID            *uuid.UUID      `json:"uuid,omitempty"`
	GroupID         *uint           `json:"group_id,omitempty"`
	Status          *CampaignStatus `json:"status,omitempty"`
	Name            *string         `json:"name,omitempty"`
	ScheduledBefore *time.Time      `json:"scheduled_before,omitempty"`
	ScheduledAfter  *time.Time      `json:"scheduled_after,omitempty"`
	CreatedAfter    *time.Time      `json:"created_after,omitempty"`
	CreatedBefore   *time.Time      `json:"created_before,omitempty"`
}
