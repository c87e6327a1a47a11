package dto

import (
	"time"
)

// CreateCampaignRequest represents the request to schedule a template broadcast to a group
type CreateCampaignRequest struct {
	OperatorID       uint       `json:"-"`
	Name             string     `json:"name" validate:"required,max=255"`
	Description      *string    `json:"description,omitempty"`
	GroupID          uint       `json:"group_id" validate:"required"`
	TemplateName     string     `json:"template_name" validate:"required,max=255"`
	TemplateLanguage string     `json:"template_language,omitempty" validate:"omitempty,max=16"`
	TemplateBody     *string    `json:"template_body,omitempty"`
	TemplateParams   []string   `json:"template_params,omitempty"`
	ScheduledAt      *time.Time `json:"scheduled_at" validate:"required"`
}

// CampaignDTO is the public view of a campaign
type CampaignDTO struct {
	ID               uint       `json:"id"`
	UUID             string     `json:"uuid"`
	Name             string     `json:"name"`
	Description      *string    `json:"description,omitempty"`
	GroupID          uint       `json:"group_id"`
	GroupName        string     `json:"group_name,omitempty"`
	TemplateName     string     `json:"template_name"`
	TemplateLanguage string     `json:"template_language"`
	TemplateBody     *string    `json:"template_body,omitempty"`
	TemplateParams   []string   `json:"template_params"`
	Status           string     `json:"status"`
	ScheduledAt      time.Time  `json:"scheduled_at"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	TotalRecipients  int        `json:"total_recipients"`
	MessagesSent     int        `json:"messages_sent"`
	MessagesFailed   int        `json:"messages_failed"`
	ErrorMessage     *string    `json:"error_message,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// CampaignStatsDTO is the per-status message breakdown of a campaign
type CampaignStatsDTO struct {
	Pending   int64 `json:"pending"`
	Sent      int64 `json:"sent"`
	Delivered int64 `json:"delivered"`
	Read      int64 `json:"read"`
	Failed    int64 `json:"failed"`
	Retryable int64 `json:"retryable"`
}

// CreateCampaignResponse represents the response to create a new campaign
type CreateCampaignResponse struct {
	Message  string      `json:"message"`
	Campaign CampaignDTO `json:"campaign"`
}

// GetCampaignResponse represents a campaign with its delivery breakdown
type GetCampaignResponse struct {
	Message  string           `json:"message"`
	Campaign CampaignDTO      `json:"campaign"`
	Stats    CampaignStatsDTO `json:"stats"`
}

// ListCampaignsRequest represents a paginated list request
type ListCampaignsRequest struct {
	Page    int     `json:"page"`
	Limit   int     `json:"limit"`
	OrderBy string  `json:"orderby"` // newest, oldest, scheduled
	Status  *string `json:"status,omitempty"`
	GroupID *uint   `json:"group_id,omitempty"`
	Name    *string `json:"name,omitempty"`
}

// ListCampaignsResponse represents a paginated list of campaigns
type ListCampaignsResponse struct {
	Message    string         `json:"message"`
	Items      []CampaignDTO  `json:"items"`
	Pagination PaginationInfo `json:"pagination"`
}

// RescheduleCampaignRequest moves a scheduled campaign to another future time
type RescheduleCampaignRequest struct {
	CampaignID  uint       `json:"-"`
	OperatorID  uint       `json:"-"`
	ScheduledAt *time.Time `json:"scheduled_at" validate:"required"`
}

// CampaignActionRequest identifies the campaign an operator acts on
type CampaignActionRequest struct {
	CampaignID uint `json:"-"`
	OperatorID uint `json:"-"`
}

// CampaignActionResponse is returned by reschedule and cancel
type CampaignActionResponse struct {
	Message  string      `json:"message"`
	Campaign CampaignDTO `json:"campaign"`
}

// DeleteCampaignResponse is returned after a campaign was removed
type DeleteCampaignResponse struct {
	Message string `json:"message"`
}

// RetryCampaignResponse reports how many failed messages were queued again
type RetryCampaignResponse struct {
	Message         string    `json:"message"`
	RetriedMessages int64     `json:"retried_messages"`
	ScheduledAt     time.Time `json:"scheduled_at"`
}

// CampaignMessageDTO is one recipient's delivery record
type CampaignMessageDTO struct {
	ID                uint       `json:"id"`
	ContactID         uint       `json:"contact_id"`
	ContactName       string     `json:"contact_name,omitempty"`
	PhoneNumber       string     `json:"phone_number"`
	Status            string     `json:"status"`
	RetryCount        int        `json:"retry_count"`
	ErrorCode         *string    `json:"error_code,omitempty"`
	ErrorMessage      *string    `json:"error_message,omitempty"`
	ProviderMessageID *string    `json:"provider_message_id,omitempty"`
	SentAt            *time.Time `json:"sent_at,omitempty"`
	DeliveredAt       *time.Time `json:"delivered_at,omitempty"`
	ReadAt            *time.Time `json:"read_at,omitempty"`
	FailedAt          *time.Time `json:"failed_at,omitempty"`
}

// ListCampaignMessagesRequest pages through a campaign's recipients
type ListCampaignMessagesRequest struct {
	CampaignID uint    `json:"-"`
	Page       int     `json:"page"`
	Limit      int     `json:"limit"`
	Status     *string `json:"status,omitempty"`
}

// ListCampaignMessagesResponse represents a page of recipients
type ListCampaignMessagesResponse struct {
	Message    string               `json:"message"`
	Items      []CampaignMessageDTO `json:"items"`
	Pagination PaginationInfo       `json:"pagination"`
}
