package repository

import (
	"context"
	"fmt"

	"github.com/amirphl/event-rsvp-engine/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ContactGroupRepositoryImpl implements the ContactGroupRepository interface
type ContactGroupRepositoryImpl struct {
	*BaseRepository[models.ContactGroup, models.ContactGroupFilter]
}

// NewContactGroupRepository creates a new contact group repository
func NewContactGroupRepository(db *gorm.DB) ContactGroupRepository {
	return &ContactGroupRepositoryImpl{
		BaseRepository: NewBaseRepository[models.ContactGroup, models.ContactGroupFilter](db),
	}
}

// ByUUID retrieves a group by UUID
func (r *ContactGroupRepositoryImpl) ByUUID(ctx context.Context, id string) (*models.ContactGroup, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("invalid group uuid: %w", err)
	}
	groups, err := r.ByFilter(ctx, models.ContactGroupFilter{UUID: &parsed}, "", 1, 0)
	if err != nil {
		return nil, err
	}
	if len(groups) == 0 {
		return nil, nil
	}
	return groups[0], nil
}

// ByFilter retrieves groups based on filter criteria
func (r *ContactGroupRepositoryImpl) ByFilter(ctx context.Context, filter models.ContactGroupFilter, orderBy string, limit, offset int) ([]*models.ContactGroup, error) {
	var groups []*models.ContactGroup
	query := paginate(r.applyFilter(r.getDB(ctx), filter), orderBy, limit, offset)
	if err := query.Find(&groups).Error; err != nil {
		return nil, err
	}
	return groups, nil
}

// Count returns the number of groups matching the filter
func (r *ContactGroupRepositoryImpl) Count(ctx context.Context, filter models.ContactGroupFilter) (int64, error) {
	var count int64
	err := r.applyFilter(r.getDB(ctx).Model(&models.ContactGroup{}), filter).Count(&count).Error
	return count, err
}

// Exists checks if any group matching the filter exists
func (r *ContactGroupRepositoryImpl) Exists(ctx context.Context, filter models.ContactGroupFilter) (bool, error) {
	count, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *ContactGroupRepositoryImpl) applyFilter(db *gorm.DB, filter models.ContactGroupFilter) *gorm.DB {
	if filter.ID != nil {
		db = db.Where("id = ?", *filter.ID)
	}
	if filter.UUID != nil {
		db = db.Where("uuid = ?", *filter.UUID)
	}
	if filter.Name != nil {
		db = db.Where("name = ?", *filter.Name)
	}
	return db
}
