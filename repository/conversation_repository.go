package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/amirphl/event-rsvp-engine/models"
	"github.com/amirphl/event-rsvp-engine/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ConversationRepositoryImpl implements the ConversationRepository interface
type ConversationRepositoryImpl struct {
	*BaseRepository[models.Conversation, models.ConversationFilter]
}

// NewConversationRepository creates a new conversation repository
func NewConversationRepository(db *gorm.DB) ConversationRepository {
	return &ConversationRepositoryImpl{
		BaseRepository: NewBaseRepository[models.Conversation, models.ConversationFilter](db),
	}
}

// ByContactID retrieves the conversation of a contact
func (r *ConversationRepositoryImpl) ByContactID(ctx context.Context, contactID uint) (*models.Conversation, error) {
	var conv models.Conversation
	err := r.getDB(ctx).Where("contact_id = ?", contactID).First(&conv).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &conv, nil
}

// GetOrCreate returns the contact's conversation, creating it in awaiting_rsvp when missing.
// Concurrent callers converge on the same row through the unique contact index.
func (r *ConversationRepositoryImpl) GetOrCreate(ctx context.Context, contactID uint) (*models.Conversation, error) {
	conv, err := r.ByContactID(ctx, contactID)
	if err != nil || conv != nil {
		return conv, err
	}

	err = r.write(ctx, func(db *gorm.DB) error {
		fresh := &models.Conversation{ContactID: contactID}
		return db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "contact_id"}},
			DoNothing: true,
		}).Create(fresh).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create conversation for contact %d: %w", contactID, err)
	}

	return r.ByContactID(ctx, contactID)
}

// SwitchMode changes the conversation mode only when it is currently from
func (r *ConversationRepositoryImpl) SwitchMode(ctx context.Context, contactID uint, from, to models.ConversationMode, updates map[string]any) (bool, error) {
	var affected int64
	err := r.write(ctx, func(db *gorm.DB) error {
		values := map[string]any{}
		for k, v := range updates {
			values[k] = v
		}
		values["mode"] = to
		values["updated_at"] = utils.UTCNow()

		res := db.Model(&models.Conversation{}).
			Where("contact_id = ? AND mode = ?", contactID, from).
			Updates(values)
		affected = res.RowsAffected
		return res.Error
	})
	return affected > 0, err
}

// MarkUserNotified records that the contact was told a human took over
func (r *ConversationRepositoryImpl) MarkUserNotified(ctx context.Context, contactID uint) error {
	return r.write(ctx, func(db *gorm.DB) error {
		return db.Model(&models.Conversation{}).
			Where("contact_id = ?", contactID).
			Updates(map[string]any{"user_notified": true, "updated_at": utils.UTCNow()}).Error
	})
}

// TouchLastMessage updates the thread preview; inbound messages also reopen the messaging window
func (r *ConversationRepositoryImpl) TouchLastMessage(ctx context.Context, contactID uint, at time.Time, preview string, inbound bool) error {
	if len(preview) > 255 {
		preview = preview[:255]
	}
	values := map[string]any{
		"last_message_at":      at,
		"last_message_preview": preview,
		"updated_at":           utils.UTCNow(),
	}
	if inbound {
		values["last_inbound_at"] = at
	}
	return r.write(ctx, func(db *gorm.DB) error {
		return db.Model(&models.Conversation{}).Where("contact_id = ?", contactID).Updates(values).Error
	})
}

// ByFilter retrieves conversations based on filter criteria
func (r *ConversationRepositoryImpl) ByFilter(ctx context.Context, filter models.ConversationFilter, orderBy string, limit, offset int) ([]*models.Conversation, error) {
	var convs []*models.Conversation
	query := paginate(r.applyFilter(r.getDB(ctx), filter), orderBy, limit, offset)
	if err := query.Preload("Contact").Find(&convs).Error; err != nil {
		return nil, err
	}
	return convs, nil
}

// Count returns the number of conversations matching the filter
func (r *ConversationRepositoryImpl) Count(ctx context.Context, filter models.ConversationFilter) (int64, error) {
	var count int64
	err := r.applyFilter(r.getDB(ctx).Model(&models.Conversation{}), filter).Count(&count).Error
	return count, err
}

// Exists checks if any conversation matching the filter exists
func (r *ConversationRepositoryImpl) Exists(ctx context.Context, filter models.ConversationFilter) (bool, error) {
	count, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *ConversationRepositoryImpl) applyFilter(db *gorm.DB, filter models.ConversationFilter) *gorm.DB {
	if filter.ID != nil {
		db = db.Where("id = ?", *filter.ID)
	}
	if filter.ContactID != nil {
		db = db.Where("contact_id = ?", *filter.ContactID)
	}
	if filter.State != nil {
		db = db.Where("state = ?", *filter.State)
	}
	if filter.Mode != nil {
		db = db.Where("mode = ?", *filter.Mode)
	}
	return db
}
