package models

import (
	"encoding/json"
	"time"

	"github.com/amirphl/event-rsvp-engine/utils"
	"gorm.io/gorm"
)

type AuditLog struct {
	ID           uint            `gorm:"primaryKey" json:"id"`
	OperatorID   *uint           `gorm:"index:idx_audit_operator_id" json:"operator_id,omitempty"`
	Action       string          `gorm:"size:64;not null;index:idx_audit_action" json:"action"`
	EntityType   *string         `gorm:"size:64" json:"entity_type,omitempty"`
	EntityID     *uint           `json:"entity_id,omitempty"`
	Description  *string         `gorm:"type:text" json:"description,omitempty"`
	IPAddress    *string         `gorm:"size:64;index:idx_audit_ip_address" json:"ip_address,omitempty"`
	UserAgent    *string         `gorm:"type:text" json:"user_agent,omitempty"`
	RequestID    *string         `gorm:"size:255;index:idx_audit_request_id" json:"request_id,omitempty"`
	Metadata     json.RawMessage `gorm:"type:text" json:"metadata,omitempty"`
	Success      *bool           `gorm:"default:true;index:idx_audit_success" json:"success"`
	ErrorMessage *string         `gorm:"type:text" json:"error_message,omitempty"`
	CreatedAt    time.Time       `gorm:"index:idx_audit_created_at" json:"created_at"`
}

func (AuditLog) TableName() string {
	return "audit_log"
}

// Audit action constants
const (
	AuditActionCampaignCreated     = "campaign_created"
	AuditActionCampaignRescheduled = "campaign_rescheduled"
	AuditActionCampaignCancelled   = "campaign_cancelled"
	AuditActionCampaignDeleted     = "campaign_deleted"
	AuditActionCampaignRetried     = "campaign_retried"
	AuditActionManualTakeover      = "manual_takeover"
	AuditActionAutomationResumed   = "automation_resumed"
	AuditActionContactsImported    = "contacts_imported"
	AuditActionContactsDeleted     = "contacts_deleted"
)

// AuditLogFilter represents filter criteria for audit log queries
type AuditLogFilter struct {
	ID            *uint
	OperatorID    *uint
	Action        *string
	Success       *bool
	RequestID     *string
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
}

func (a *AuditLog) IsFailed() bool {
	return a.Success != nil && !*a.Success
}

func (a *AuditLog) BeforeCreate(tx *gorm.DB) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = utils.UTCNow()
	}
	return nil
}
