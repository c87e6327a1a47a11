package repository

import (
	"context"
	"errors"

	"github.com/amirphl/event-rsvp-engine/models"
	"github.com/amirphl/event-rsvp-engine/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// WhatsAppMessageRepositoryImpl implements the WhatsAppMessageRepository interface
type WhatsAppMessageRepositoryImpl struct {
	*BaseRepository[models.WhatsAppMessage, models.WhatsAppMessageFilter]
}

// NewWhatsAppMessageRepository creates a new provider message repository
func NewWhatsAppMessageRepository(db *gorm.DB) WhatsAppMessageRepository {
	return &WhatsAppMessageRepositoryImpl{
		BaseRepository: NewBaseRepository[models.WhatsAppMessage, models.WhatsAppMessageFilter](db),
	}
}

// ByProviderMessageID retrieves a message by the id the provider assigned to it
func (r *WhatsAppMessageRepositoryImpl) ByProviderMessageID(ctx context.Context, providerMessageID string) (*models.WhatsAppMessage, error) {
	var msg models.WhatsAppMessage
	err := r.getDB(ctx).Where("provider_message_id = ?", providerMessageID).First(&msg).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &msg, nil
}

// ApplyStatus upserts a delivery status by provider message id. A status is applied only
// when it moves the message forward, so replaying a callback leaves the row unchanged.
func (r *WhatsAppMessageRepositoryImpl) ApplyStatus(ctx context.Context, update models.StatusUpdate) (bool, error) {
	from := models.StatusesBefore(update.Status)
	col := models.TimestampColumn(update.Status)
	if len(from) == 0 || col == "" {
		return false, nil
	}

	var applied bool
	err := r.write(ctx, func(db *gorm.DB) error {
		values := map[string]any{
			"status":     update.Status,
			col:          update.Timestamp,
			"updated_at": utils.UTCNow(),
		}
		if update.ErrorCode != nil {
			values["error_code"] = *update.ErrorCode
		}
		res := db.Model(&models.WhatsAppMessage{}).
			Where("provider_message_id = ? AND status IN ?", update.ProviderMessageID, from).
			Updates(values)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected > 0 {
			applied = true
			return nil
		}

		// Unknown id: record it once so later callbacks have a row to advance.
		row := &models.WhatsAppMessage{
			ProviderMessageID: update.ProviderMessageID,
			ToPhone:           update.RecipientID,
			MessageType:       models.ChatMessageText,
			Status:            update.Status,
			ErrorCode:         update.ErrorCode,
		}
		switch update.Status {
		case models.MessageStatusSent:
			row.SentAt = &update.Timestamp
		case models.MessageStatusDelivered:
			row.DeliveredAt = &update.Timestamp
		case models.MessageStatusRead:
			row.ReadAt = &update.Timestamp
		case models.MessageStatusFailed:
			row.FailedAt = &update.Timestamp
		}
		res = db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "provider_message_id"}},
			DoNothing: true,
		}).Create(row)
		applied = res.RowsAffected > 0
		return res.Error
	})
	return applied, err
}

// ByFilter retrieves provider messages based on filter criteria
func (r *WhatsAppMessageRepositoryImpl) ByFilter(ctx context.Context, filter models.WhatsAppMessageFilter, orderBy string, limit, offset int) ([]*models.WhatsAppMessage, error) {
	var msgs []*models.WhatsAppMessage
	query := paginate(r.applyFilter(r.getDB(ctx), filter), orderBy, limit, offset)
	if err := query.Find(&msgs).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}

// Count returns the number of provider messages matching the filter
func (r *WhatsAppMessageRepositoryImpl) Count(ctx context.Context, filter models.WhatsAppMessageFilter) (int64, error) {
	var count int64
	err := r.applyFilter(r.getDB(ctx).Model(&models.WhatsAppMessage{}), filter).Count(&count).Error
	return count, err
}

// Exists checks if any provider message matching the filter exists
func (r *WhatsAppMessageRepositoryImpl) Exists(ctx context.Context, filter models.WhatsAppMessageFilter) (bool, error) {
	count, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *WhatsAppMessageRepositoryImpl) applyFilter(db *gorm.DB, filter models.WhatsAppMessageFilter) *gorm.DB {
	if filter.ProviderMessageID != nil {
		db = db.Where("provider_message_id = ?", *filter.ProviderMessageID)
	}
	if filter.ContactID != nil {
		db = db.Where("contact_id = ?", *filter.ContactID)
	}
	if filter.Status != nil {
		db = db.Where("status = ?", *filter.Status)
	}
	return db
}
