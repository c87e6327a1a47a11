package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/amirphl/event-rsvp-engine/models"
	"github.com/amirphl/event-rsvp-engine/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// CampaignRepositoryImpl implements the CampaignRepository interface
type CampaignRepositoryImpl struct {
	*BaseRepository[models.Campaign, models.CampaignFilter]
}

// NewCampaignRepository creates a new campaign repository
func NewCampaignRepository(db *gorm.DB) CampaignRepository {
	return &CampaignRepositoryImpl{
		BaseRepository: NewBaseRepository[models.Campaign, models.CampaignFilter](db),
	}
}

// ByID retrieves a campaign by ID
func (r *CampaignRepositoryImpl) ByID(ctx context.Context, id uint) (*models.Campaign, error) {
	var campaign models.Campaign
	err := r.getDB(ctx).Preload("Group").Last(&campaign, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &campaign, nil
}

// ByUUID retrieves a campaign by UUID
func (r *CampaignRepositoryImpl) ByUUID(ctx context.Context, id string) (*models.Campaign, error) {
	parsedUUID, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("invalid campaign uuid: %w", err)
	}

	campaigns, err := r.ByFilter(ctx, models.CampaignFilter{UUID: &parsedUUID}, "", 1, 0)
	if err != nil {
		return nil, err
	}
	if len(campaigns) == 0 {
		return nil, nil
	}
	return campaigns[0], nil
}

// ListDue retrieves scheduled campaigns whose time has come, oldest first
func (r *CampaignRepositoryImpl) ListDue(ctx context.Context, now time.Time, limit int) ([]*models.Campaign, error) {
	status := models.CampaignStatusScheduled
	filter := models.CampaignFilter{Status: &status, ScheduledBefore: &now}
	return r.ByFilter(ctx, filter, "scheduled_at ASC, id ASC", limit, 0)
}

// TransitionStatus moves a campaign to status `to` only if it is currently in one of `from`.
// It reports whether this call performed the transition.
func (r *CampaignRepositoryImpl) TransitionStatus(ctx context.Context, id uint, from []models.CampaignStatus, to models.CampaignStatus, updates map[string]any) (bool, error) {
	if len(from) == 0 {
		return false, fmt.Errorf("transition to %s needs at least one source status", to)
	}

	values := make(map[string]any, len(updates)+2)
	for k, v := range updates {
		values[k] = v
	}
	values["status"] = to
	values["updated_at"] = utils.UTCNow()

	var affected int64
	err := r.write(ctx, func(db *gorm.DB) error {
		res := db.Model(&models.Campaign{}).
			Where("id = ? AND status IN ?", id, from).
			Updates(values)
		affected = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return false, fmt.Errorf("failed to move campaign %d to %s: %w", id, to, err)
	}
	return affected > 0, nil
}

// UpdateIfStatus applies updates only while the campaign is in the given status
func (r *CampaignRepositoryImpl) UpdateIfStatus(ctx context.Context, id uint, status models.CampaignStatus, updates map[string]any) (bool, error) {
	values := make(map[string]any, len(updates)+1)
	for k, v := range updates {
		values[k] = v
	}
	values["updated_at"] = utils.UTCNow()

	var affected int64
	err := r.write(ctx, func(db *gorm.DB) error {
		res := db.Model(&models.Campaign{}).
			Where("id = ? AND status = ?", id, status).
			Updates(values)
		affected = res.RowsAffected
		return res.Error
	})
	return affected > 0, err
}

// ByFilter retrieves campaigns based on filter criteria
func (r *CampaignRepositoryImpl) ByFilter(ctx context.Context, filter models.CampaignFilter, orderBy string, limit, offset int) ([]*models.Campaign, error) {
	db := r.getDB(ctx)

	var campaigns []*models.Campaign
	query := paginate(r.applyFilter(db, filter), orderBy, limit, offset)

	err := query.Preload("Group").Find(&campaigns).Error
	if err != nil {
		return nil, err
	}

	return campaigns, nil
}

// Count returns the number of campaigns matching the filter
func (r *CampaignRepositoryImpl) Count(ctx context.Context, filter models.CampaignFilter) (int64, error) {
	db := r.getDB(ctx)

	var count int64
	query := r.applyFilter(db.Model(&models.Campaign{}), filter)

	err := query.Count(&count).Error
	if err != nil {
		return 0, err
	}

	return count, nil
}

// Exists checks if any campaign matching the filter exists
func (r *CampaignRepositoryImpl) Exists(ctx context.Context, filter models.CampaignFilter) (bool, error) {
	count, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}

	return count > 0, nil
}

// applyFilter applies filter conditions to the GORM query
func (r *CampaignRepositoryImpl) applyFilter(db *gorm.DB, filter models.CampaignFilter) *gorm.DB {
	if filter.ID != nil {
		db = db.Where("id = ?", *filter.ID)
	}
	if filter.UUID != nil {
		db = db.Where("uuid = ?", *filter.UUID)
	}
	if filter.GroupID != nil {
		db = db.Where("group_id = ?", *filter.GroupID)
	}
	if filter.Status != nil {
		db = db.Where("status = ?", *filter.Status)
	}
	if filter.Name != nil {
		db = db.Where("LOWER(name) LIKE ?", "%"+toLower(*filter.Name)+"%")
	}
	if filter.ScheduledBefore != nil {
		db = db.Where("scheduled_at <= ?", *filter.ScheduledBefore)
	}
	if filter.ScheduledAfter != nil {
		db = db.Where("scheduled_at > ?", *filter.ScheduledAfter)
	}
	if filter.CreatedAfter != nil {
		db = db.Where("created_at >= ?", *filter.CreatedAfter)
	}
	if filter.CreatedBefore != nil {
		db = db.Where("created_at < ?", *filter.CreatedBefore)
	}

	return db
}
