package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/amirphl/event-rsvp-engine/models"
	"github.com/amirphl/event-rsvp-engine/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ContactRepositoryImpl implements the ContactRepository interface
type ContactRepositoryImpl struct {
	*BaseRepository[models.Contact, models.ContactFilter]
}

// NewContactRepository creates a new contact repository
func NewContactRepository(db *gorm.DB) ContactRepository {
	return &ContactRepositoryImpl{
		BaseRepository: NewBaseRepository[models.Contact, models.ContactFilter](db),
	}
}

// ByUUID retrieves a contact by UUID
func (r *ContactRepositoryImpl) ByUUID(ctx context.Context, id string) (*models.Contact, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("invalid contact uuid: %w", err)
	}
	contacts, err := r.ByFilter(ctx, models.ContactFilter{UUID: &parsed}, "", 1, 0)
	if err != nil {
		return nil, err
	}
	if len(contacts) == 0 {
		return nil, nil
	}
	return contacts[0], nil
}

// ByPhone resolves a sender number to the most recently imported matching contact.
// Numbers are compared on their trailing digits so country-code formatting differences match.
func (r *ContactRepositoryImpl) ByPhone(ctx context.Context, phone string) (*models.Contact, error) {
	suffix := utils.PhoneSuffix(phone)
	if suffix == "" {
		return nil, nil
	}

	var contact models.Contact
	err := r.getDB(ctx).
		Where("phone_suffix = ?", suffix).
		Order("created_at DESC, id DESC").
		First(&contact).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &contact, nil
}

// ListByGroup retrieves every contact of a group in import order
func (r *ContactRepositoryImpl) ListByGroup(ctx context.Context, groupID uint) ([]*models.Contact, error) {
	return r.ByFilter(ctx, models.ContactFilter{GroupID: &groupID}, "id ASC", 0, 0)
}

// CountByGroup counts the contacts of a group
func (r *ContactRepositoryImpl) CountByGroup(ctx context.Context, groupID uint) (int64, error) {
	return r.Count(ctx, models.ContactFilter{GroupID: &groupID})
}

// DeleteByGroup removes a group's contacts together with their conversations,
// transcripts, uploads, itineraries and campaign messages
func (r *ContactRepositoryImpl) DeleteByGroup(ctx context.Context, groupID uint) (int64, error) {
	var deleted int64
	err := r.write(ctx, func(db *gorm.DB) error {
		ids := db.Model(&models.Contact{}).Select("id").Where("group_id = ?", groupID)

		dependents := []any{
			&models.ChatMessage{},
			&models.Upload{},
			&models.TravelItinerary{},
			&models.Conversation{},
			&models.CampaignMessage{},
		}
		for _, model := range dependents {
			if err := db.Where("contact_id IN (?)", ids).Delete(model).Error; err != nil {
				return fmt.Errorf("failed to delete %T rows for group %d: %w", model, groupID, err)
			}
		}

		res := db.Where("group_id = ?", groupID).Delete(&models.Contact{})
		if res.Error != nil {
			return fmt.Errorf("failed to delete contacts for group %d: %w", groupID, res.Error)
		}
		deleted = res.RowsAffected
		return nil
	})
	return deleted, err
}

// ByFilter retrieves contacts based on filter criteria
func (r *ContactRepositoryImpl) ByFilter(ctx context.Context, filter models.ContactFilter, orderBy string, limit, offset int) ([]*models.Contact, error) {
	var contacts []*models.Contact
	query := paginate(r.applyFilter(r.getDB(ctx), filter), orderBy, limit, offset)
	if err := query.Find(&contacts).Error; err != nil {
		return nil, err
	}
	return contacts, nil
}

// Count returns the number of contacts matching the filter
func (r *ContactRepositoryImpl) Count(ctx context.Context, filter models.ContactFilter) (int64, error) {
	var count int64
	err := r.applyFilter(r.getDB(ctx).Model(&models.Contact{}), filter).Count(&count).Error
	return count, err
}

// Exists checks if any contact matching the filter exists
func (r *ContactRepositoryImpl) Exists(ctx context.Context, filter models.ContactFilter) (bool, error) {
	count, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// applyFilter applies filter conditions to the GORM query
func (r *ContactRepositoryImpl) applyFilter(db *gorm.DB, filter models.ContactFilter) *gorm.DB {
	if filter.ID != nil {
		db = db.Where("id = ?", *filter.ID)
	}
	if filter.UUID != nil {
		db = db.Where("uuid = ?", *filter.UUID)
	}
	if filter.GroupID != nil {
		db = db.Where("group_id = ?", *filter.GroupID)
	}
	if filter.PhoneNumber != nil {
		db = db.Where("phone_number = ?", *filter.PhoneNumber)
	}
	if filter.PhoneSuffix != nil {
		db = db.Where("phone_suffix = ?", *filter.PhoneSuffix)
	}
	return db
}
