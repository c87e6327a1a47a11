package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/amirphl/event-rsvp-engine/models"
	"github.com/amirphl/event-rsvp-engine/utils"
	"gorm.io/gorm"
)

// CampaignMessageRepositoryImpl implements the CampaignMessageRepository interface
type CampaignMessageRepositoryImpl struct {
	*BaseRepository[models.CampaignMessage, models.CampaignMessageFilter]
}

// NewCampaignMessageRepository creates a new campaign message repository
func NewCampaignMessageRepository(db *gorm.DB) CampaignMessageRepository {
	return &CampaignMessageRepositoryImpl{
		BaseRepository: NewBaseRepository[models.CampaignMessage, models.CampaignMessageFilter](db),
	}
}

// ListPending retrieves the pending messages of a campaign in creation order
func (r *CampaignMessageRepositoryImpl) ListPending(ctx context.Context, campaignID uint) ([]*models.CampaignMessage, error) {
	status := models.MessageStatusPending
	return r.ByFilter(ctx, models.CampaignMessageFilter{CampaignID: &campaignID, Status: &status}, "id ASC", 0, 0)
}

// MarkSent records a successful send of a pending message
func (r *CampaignMessageRepositoryImpl) MarkSent(ctx context.Context, id uint, providerMessageID string, at time.Time) (bool, error) {
	return r.transition(ctx, id, []models.MessageStatus{models.MessageStatusPending}, map[string]any{
		"status":              models.MessageStatusSent,
		"provider_message_id": providerMessageID,
		"sent_at":             at,
		"error_code":          nil,
		"error_message":       nil,
	})
}

// MarkFailed records a failed send of a pending message
func (r *CampaignMessageRepositoryImpl) MarkFailed(ctx context.Context, id uint, code, message string, at time.Time) (bool, error) {
	return r.transition(ctx, id, []models.MessageStatus{models.MessageStatusPending}, map[string]any{
		"status":        models.MessageStatusFailed,
		"error_code":    code,
		"error_message": message,
		"failed_at":     at,
	})
}

func (r *CampaignMessageRepositoryImpl) transition(ctx context.Context, id uint, from []models.MessageStatus, values map[string]any) (bool, error) {
	values["updated_at"] = utils.UTCNow()

	var affected int64
	err := r.write(ctx, func(db *gorm.DB) error {
		res := db.Model(&models.CampaignMessage{}).
			Where("id = ? AND status IN ?", id, from).
			Updates(values)
		affected = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return false, fmt.Errorf("failed to update campaign message %d: %w", id, err)
	}
	return affected > 0, nil
}

// CountRetryable counts failed messages that are still below the retry cap
func (r *CampaignMessageRepositoryImpl) CountRetryable(ctx context.Context, campaignID uint) (int64, error) {
	var count int64
	err := r.getDB(ctx).Model(&models.CampaignMessage{}).
		Where("campaign_id = ? AND status = ? AND retry_count < ?", campaignID, models.MessageStatusFailed, utils.MaxMessageRetries).
		Count(&count).Error
	return count, err
}

// ResetRetryable moves every retryable failed message back to pending and bumps its retry count.
// Messages at the retry cap are left failed.
func (r *CampaignMessageRepositoryImpl) ResetRetryable(ctx context.Context, campaignID uint) (int64, error) {
	var affected int64
	err := r.write(ctx, func(db *gorm.DB) error {
		res := db.Model(&models.CampaignMessage{}).
			Where("campaign_id = ? AND status = ? AND retry_count < ?", campaignID, models.MessageStatusFailed, utils.MaxMessageRetries).
			Updates(map[string]any{
				"status":        models.MessageStatusPending,
				"retry_count":   gorm.Expr("retry_count + 1"),
				"error_code":    nil,
				"error_message": nil,
				"failed_at":     nil,
				"updated_at":    utils.UTCNow(),
			})
		affected = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return 0, fmt.Errorf("failed to reset retryable messages of campaign %d: %w", campaignID, err)
	}
	return affected, nil
}

// StatsByCampaign returns the per-status message breakdown of a campaign
func (r *CampaignMessageRepositoryImpl) StatsByCampaign(ctx context.Context, campaignID uint) (models.CampaignMessageStats, error) {
	type row struct {
		Status models.MessageStatus
		Count  int64
	}
	var rows []row
	var stats models.CampaignMessageStats

	db := r.getDB(ctx)
	if err := db.Model(&models.CampaignMessage{}).
		Select("status, COUNT(*) AS count").
		Where("campaign_id = ?", campaignID).
		Group("status").
		Scan(&rows).Error; err != nil {
		return stats, err
	}
	for _, rw := range rows {
		switch rw.Status {
		case models.MessageStatusPending:
			stats.Pending = rw.Count
		case models.MessageStatusSent:
			stats.Sent = rw.Count
		case models.MessageStatusDelivered:
			stats.Delivered = rw.Count
		case models.MessageStatusRead:
			stats.Read = rw.Count
		case models.MessageStatusFailed:
			stats.Failed = rw.Count
		}
	}

	retryable, err := r.CountRetryable(ctx, campaignID)
	if err != nil {
		return stats, err
	}
	stats.Retryable = retryable
	return stats, nil
}

// ApplyStatus advances the message carrying the provider id; replays and regressions are no-ops
func (r *CampaignMessageRepositoryImpl) ApplyStatus(ctx context.Context, update models.StatusUpdate) (bool, error) {
	from := models.StatusesBefore(update.Status)
	col := models.TimestampColumn(update.Status)
	if len(from) == 0 || col == "" {
		return false, nil
	}

	values := map[string]any{
		"status":     update.Status,
		col:          update.Timestamp,
		"updated_at": utils.UTCNow(),
	}
	if update.ErrorCode != nil {
		values["error_code"] = *update.ErrorCode
	}

	var affected int64
	err := r.write(ctx, func(db *gorm.DB) error {
		res := db.Model(&models.CampaignMessage{}).
			Where("provider_message_id = ? AND status IN ?", update.ProviderMessageID, from).
			Updates(values)
		affected = res.RowsAffected
		return res.Error
	})
	return affected > 0, err
}

// DeleteByCampaign removes every message of a campaign
func (r *CampaignMessageRepositoryImpl) DeleteByCampaign(ctx context.Context, campaignID uint) error {
	return r.write(ctx, func(db *gorm.DB) error {
		return db.Where("campaign_id = ?", campaignID).Delete(&models.CampaignMessage{}).Error
	})
}

// ByFilter retrieves campaign messages based on filter criteria
func (r *CampaignMessageRepositoryImpl) ByFilter(ctx context.Context, filter models.CampaignMessageFilter, orderBy string, limit, offset int) ([]*models.CampaignMessage, error) {
	var msgs []*models.CampaignMessage
	query := paginate(r.applyFilter(r.getDB(ctx), filter), orderBy, limit, offset)
	if err := query.Preload("Contact").Find(&msgs).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}

// Count returns the number of campaign messages matching the filter
func (r *CampaignMessageRepositoryImpl) Count(ctx context.Context, filter models.CampaignMessageFilter) (int64, error) {
	var count int64
	err := r.applyFilter(r.getDB(ctx).Model(&models.CampaignMessage{}), filter).Count(&count).Error
	return count, err
}

// Exists checks if any campaign message matching the filter exists
func (r *CampaignMessageRepositoryImpl) Exists(ctx context.Context, filter models.CampaignMessageFilter) (bool, error) {
	count, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *CampaignMessageRepositoryImpl) applyFilter(db *gorm.DB, filter models.CampaignMessageFilter) *gorm.DB {
	if filter.ID != nil {
		db = db.Where("id = ?", *filter.ID)
	}
	if filter.CampaignID != nil {
		db = db.Where("campaign_id = ?", *filter.CampaignID)
	}
	if filter.ContactID != nil {
		db = db.Where("contact_id = ?", *filter.ContactID)
	}
	if filter.Status != nil {
		db = db.Where("status = ?", *filter.Status)
	}
	if filter.ProviderMessageID != nil {
		db = db.Where("provider_message_id = ?", *filter.ProviderMessageID)
	}
	return db
}
