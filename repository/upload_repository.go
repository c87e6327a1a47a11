package repository

import (
	"context"

	"github.com/amirphl/event-rsvp-engine/models"
	"github.com/amirphl/event-rsvp-engine/utils"
	"gorm.io/gorm"
)

// UploadRepositoryImpl implements the UploadRepository interface
type UploadRepositoryImpl struct {
	*BaseRepository[models.Upload, models.UploadFilter]
}

// NewUploadRepository creates a new upload repository
func NewUploadRepository(db *gorm.DB) UploadRepository {
	return &UploadRepositoryImpl{
		BaseRepository: NewBaseRepository[models.Upload, models.UploadFilter](db),
	}
}

// ListByContact retrieves a contact's uploads oldest first
func (r *UploadRepositoryImpl) ListByContact(ctx context.Context, contactID uint) ([]*models.Upload, error) {
	return r.ByFilter(ctx, models.UploadFilter{ContactID: &contactID}, "id ASC", 0, 0)
}

// UpdateExtractedFields enriches an upload with extraction output; nothing else is mutable
func (r *UploadRepositoryImpl) UpdateExtractedFields(ctx context.Context, id uint, fields models.ExtractedFields) error {
	return r.write(ctx, func(db *gorm.DB) error {
		return db.Model(&models.Upload{}).
			Where("id = ?", id).
			Updates(map[string]any{
				"extracted_fields": fields,
				"updated_at":       utils.UTCNow(),
			}).Error
	})
}

// ByFilter retrieves uploads based on filter criteria
func (r *UploadRepositoryImpl) ByFilter(ctx context.Context, filter models.UploadFilter, orderBy string, limit, offset int) ([]*models.Upload, error) {
	var uploads []*models.Upload
	query := paginate(r.applyFilter(r.getDB(ctx), filter), orderBy, limit, offset)
	if err := query.Find(&uploads).Error; err != nil {
		return nil, err
	}
	return uploads, nil
}

// Count returns the number of uploads matching the filter
func (r *UploadRepositoryImpl) Count(ctx context.Context, filter models.UploadFilter) (int64, error) {
	var count int64
	err := r.applyFilter(r.getDB(ctx).Model(&models.Upload{}), filter).Count(&count).Error
	return count, err
}

// Exists checks if any upload matching the filter exists
func (r *UploadRepositoryImpl) Exists(ctx context.Context, filter models.UploadFilter) (bool, error) {
	count, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *UploadRepositoryImpl) applyFilter(db *gorm.DB, filter models.UploadFilter) *gorm.DB {
	if filter.ID != nil {
		db = db.Where("id = ?", *filter.ID)
	}
	if filter.ContactID != nil {
		db = db.Where("contact_id = ?", *filter.ContactID)
	}
	if filter.PersonName != nil {
		db = db.Where("person_name = ?", *filter.PersonName)
	}
	if filter.DocumentType != nil {
		db = db.Where("document_type = ?", *filter.DocumentType)
	}
	return db
}
