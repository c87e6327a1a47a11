package repository

import (
	"context"
	"slices"

	"github.com/amirphl/event-rsvp-engine/models"
	"gorm.io/gorm"
)

// ChatMessageRepositoryImpl implements the ChatMessageRepository interface
type ChatMessageRepositoryImpl struct {
	*BaseRepository[models.ChatMessage, models.ChatMessageFilter]
}

// NewChatMessageRepository creates a new chat message repository
func NewChatMessageRepository(db *gorm.DB) ChatMessageRepository {
	return &ChatMessageRepositoryImpl{
		BaseRepository: NewBaseRepository[models.ChatMessage, models.ChatMessageFilter](db),
	}
}

// ListByContact retrieves a contact's transcript in chronological order
func (r *ChatMessageRepositoryImpl) ListByContact(ctx context.Context, contactID uint, limit, offset int) ([]*models.ChatMessage, error) {
	return r.ByFilter(ctx, models.ChatMessageFilter{ContactID: &contactID}, "created_at ASC, id ASC", limit, offset)
}

// ListRecent retrieves the last limit transcript entries in chronological order
func (r *ChatMessageRepositoryImpl) ListRecent(ctx context.Context, contactID uint, limit int) ([]*models.ChatMessage, error) {
	msgs, err := r.ByFilter(ctx, models.ChatMessageFilter{ContactID: &contactID}, "created_at DESC, id DESC", limit, 0)
	if err != nil {
		return nil, err
	}
	slices.Reverse(msgs)
	return msgs, nil
}

// ByFilter retrieves chat messages based on filter criteria
func (r *ChatMessageRepositoryImpl) ByFilter(ctx context.Context, filter models.ChatMessageFilter, orderBy string, limit, offset int) ([]*models.ChatMessage, error) {
	var msgs []*models.ChatMessage
	query := paginate(r.applyFilter(r.getDB(ctx), filter), orderBy, limit, offset)
	if err := query.Find(&msgs).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}

// Count returns the number of chat messages matching the filter
func (r *ChatMessageRepositoryImpl) Count(ctx context.Context, filter models.ChatMessageFilter) (int64, error) {
	var count int64
	err := r.applyFilter(r.getDB(ctx).Model(&models.ChatMessage{}), filter).Count(&count).Error
	return count, err
}

// Exists checks if any chat message matching the filter exists
func (r *ChatMessageRepositoryImpl) Exists(ctx context.Context, filter models.ChatMessageFilter) (bool, error) {
	count, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *ChatMessageRepositoryImpl) applyFilter(db *gorm.DB, filter models.ChatMessageFilter) *gorm.DB {
	if filter.ContactID != nil {
		db = db.Where("contact_id = ?", *filter.ContactID)
	}
	if filter.SenderType != nil {
		db = db.Where("sender_type = ?", *filter.SenderType)
	}
	if filter.CampaignID != nil {
		db = db.Where("campaign_id = ?", *filter.CampaignID)
	}
	if filter.ProviderMessageID != nil {
		db = db.Where("provider_message_id = ?", *filter.ProviderMessageID)
	}
	return db
}
