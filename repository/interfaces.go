// Package repository provides data access layer implementations and interfaces for database operations
package repository

import (
	"context"
	"time"

	"github.com/amirphl/event-rsvp-engine/models"
)

// RepositoryContext key for transaction in context
type contextKey string

const TxContextKey contextKey = "tx"

type Repository[T any, F any] interface {
	ByID(ctx context.Context, id uint) (*T, error)
	ByFilter(ctx context.Context, filter F, orderBy string, limit, offset int) ([]*T, error)
	Save(ctx context.Context, entity *T) error
	SaveBatch(ctx context.Context, entities []*T) error
	Count(ctx context.Context, filter F) (int64, error)
	Exists(ctx context.Context, filter F) (bool, error)
}

// ContactGroupRepository defines operations for contact groups
type ContactGroupRepository interface {
	Repository[models.ContactGroup, models.ContactGroupFilter]
	ByUUID(ctx context.Context, uuid string) (*models.ContactGroup, error)
	Delete(ctx context.Context, id uint) error
}

// ContactRepository defines operations for contacts
type ContactRepository interface {
	Repository[models.Contact, models.ContactFilter]
	ByUUID(ctx context.Context, uuid string) (*models.Contact, error)
	ByPhone(ctx context.Context, phone string) (*models.Contact, error)
	ListByGroup(ctx context.Context, groupID uint) ([]*models.Contact, error)
	CountByGroup(ctx context.Context, groupID uint) (int64, error)
	DeleteByGroup(ctx context.Context, groupID uint) (int64, error)
}

// ConversationRepository defines operations for conversations
type ConversationRepository interface {
	Repository[models.Conversation, models.ConversationFilter]
	ByContactID(ctx context.Context, contactID uint) (*models.Conversation, error)
	GetOrCreate(ctx context.Context, contactID uint) (*models.Conversation, error)
	Update(ctx context.Context, conversation *models.Conversation) error
	SwitchMode(ctx context.Context, contactID uint, from, to models.ConversationMode, updates map[string]any) (bool, error)
	MarkUserNotified(ctx context.Context, contactID uint) error
	TouchLastMessage(ctx context.Context, contactID uint, at time.Time, preview string, inbound bool) error
}

// UploadRepository defines operations for uploaded documents
type UploadRepository interface {
	Repository[models.Upload, models.UploadFilter]
	ListByContact(ctx context.Context, contactID uint) ([]*models.Upload, error)
	UpdateExtractedFields(ctx context.Context, id uint, fields models.ExtractedFields) error
}

// TravelItineraryRepository defines operations for travel itineraries
type TravelItineraryRepository interface {
	Repository[models.TravelItinerary, models.TravelItineraryFilter]
	ByContactAndPerson(ctx context.Context, contactID uint, personName string) (*models.TravelItinerary, error)
	UpsertLeg(ctx context.Context, contactID uint, personName string, leg models.TravelLeg, source string, extracted models.ExtractedFields) (*models.TravelItinerary, error)
	ListByGroup(ctx context.Context, groupID uint) ([]*models.TravelItinerary, error)
}

// CampaignRepository defines operations for campaigns
type CampaignRepository interface {
	Repository[models.Campaign, models.CampaignFilter]
	ByUUID(ctx context.Context, uuid string) (*models.Campaign, error)
	ListDue(ctx context.Context, now time.Time, limit int) ([]*models.Campaign, error)
	TransitionStatus(ctx context.Context, id uint, from []models.CampaignStatus, to models.CampaignStatus, updates map[string]any) (bool, error)
	UpdateIfStatus(ctx context.Context, id uint, status models.CampaignStatus, updates map[string]any) (bool, error)
	Delete(ctx context.Context, id uint) error
}

// CampaignMessageRepository defines operations for per-recipient campaign messages
type CampaignMessageRepository interface {
	Repository[models.CampaignMessage, models.CampaignMessageFilter]
	ListPending(ctx context.Context, campaignID uint) ([]*models.CampaignMessage, error)
	MarkSent(ctx context.Context, id uint, providerMessageID string, at time.Time) (bool, error)
	MarkFailed(ctx context.Context, id uint, code, message string, at time.Time) (bool, error)
	CountRetryable(ctx context.Context, campaignID uint) (int64, error)
	ResetRetryable(ctx context.Context, campaignID uint) (int64, error)
	StatsByCampaign(ctx context.Context, campaignID uint) (models.CampaignMessageStats, error)
	ApplyStatus(ctx context.Context, update models.StatusUpdate) (bool, error)
	DeleteByCampaign(ctx context.Context, campaignID uint) error
}

// ChatMessageRepository defines operations for chat transcripts
type ChatMessageRepository interface {
	Repository[models.ChatMessage, models.ChatMessageFilter]
	ListByContact(ctx context.Context, contactID uint, limit, offset int) ([]*models.ChatMessage, error)
	ListRecent(ctx context.Context, contactID uint, limit int) ([]*models.ChatMessage, error)
}

// WhatsAppMessageRepository defines operations for the outbound provider message log
type WhatsAppMessageRepository interface {
	Repository[models.WhatsAppMessage, models.WhatsAppMessageFilter]
	ByProviderMessageID(ctx context.Context, providerMessageID string) (*models.WhatsAppMessage, error)
	ApplyStatus(ctx context.Context, update models.StatusUpdate) (bool, error)
}

// AuditLogRepository defines operations for audit logs
type AuditLogRepository interface {
	Repository[models.AuditLog, models.AuditLogFilter]
	ListByOperator(ctx context.Context, operatorID uint, limit, offset int) ([]*models.AuditLog, error)
	ListByAction(ctx context.Context, action string, limit, offset int) ([]*models.AuditLog, error)
}
