package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/amirphl/event-rsvp-engine/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TravelItineraryRepositoryImpl implements the TravelItineraryRepository interface
type TravelItineraryRepositoryImpl struct {
	*BaseRepository[models.TravelItinerary, models.TravelItineraryFilter]
}

// NewTravelItineraryRepository creates a new travel itinerary repository
func NewTravelItineraryRepository(db *gorm.DB) TravelItineraryRepository {
	return &TravelItineraryRepositoryImpl{
		BaseRepository: NewBaseRepository[models.TravelItinerary, models.TravelItineraryFilter](db),
	}
}

// ByContactAndPerson retrieves the itinerary of one attendee
func (r *TravelItineraryRepositoryImpl) ByContactAndPerson(ctx context.Context, contactID uint, personName string) (*models.TravelItinerary, error) {
	var it models.TravelItinerary
	err := r.getDB(ctx).
		Where("contact_id = ? AND person_name = ?", contactID, personName).
		First(&it).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &it, nil
}

// UpsertLeg writes one direction of an attendee's itinerary. The row is created on first
// use and updated in place afterwards; columns of the opposite direction are never touched.
func (r *TravelItineraryRepositoryImpl) UpsertLeg(ctx context.Context, contactID uint, personName string, leg models.TravelLeg, source string, extracted models.ExtractedFields) (*models.TravelItinerary, error) {
	row := &models.TravelItinerary{
		ContactID:           contactID,
		PersonName:          personName,
		Source:              source,
		LastExtractedFields: extracted,
	}

	var prefix string
	switch leg.Direction {
	case models.TravelDirectionArrival:
		prefix = "arrival_"
		row.ArrivalDate = optional(leg.Date)
		row.ArrivalTime = optional(leg.Time)
		row.ArrivalTransportNo = optional(leg.TransportNo)
		row.ArrivalFrom = optional(leg.From)
		row.ArrivalTo = optional(leg.To)
		row.ArrivalUploadID = leg.UploadID
	case models.TravelDirectionReturn:
		prefix = "return_"
		row.ReturnDate = optional(leg.Date)
		row.ReturnTime = optional(leg.Time)
		row.ReturnTransportNo = optional(leg.TransportNo)
		row.ReturnFrom = optional(leg.From)
		row.ReturnTo = optional(leg.To)
		row.ReturnUploadID = leg.UploadID
	default:
		return nil, fmt.Errorf("unknown travel direction %q", leg.Direction)
	}

	columns := []string{"source", "updated_at", prefix + "date"}
	if extracted != nil {
		columns = append(columns, "last_extracted_fields")
	}
	for col, val := range map[string]string{
		"time":         leg.Time,
		"transport_no": leg.TransportNo,
		"from":         leg.From,
		"to":           leg.To,
	} {
		if val != "" {
			columns = append(columns, prefix+col)
		}
	}
	if leg.UploadID != nil {
		columns = append(columns, prefix+"upload_id")
	}

	err := r.write(ctx, func(db *gorm.DB) error {
		return db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "contact_id"}, {Name: "person_name"}},
			DoUpdates: clause.AssignmentColumns(columns),
		}).Create(row).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upsert %s itinerary for %q: %w", leg.Direction, personName, err)
	}

	return r.ByContactAndPerson(ctx, contactID, personName)
}

// ListByGroup retrieves the itineraries of every contact in a group
func (r *TravelItineraryRepositoryImpl) ListByGroup(ctx context.Context, groupID uint) ([]*models.TravelItinerary, error) {
	return r.ByFilter(ctx, models.TravelItineraryFilter{GroupID: &groupID}, "travel_itineraries.contact_id ASC, travel_itineraries.person_name ASC", 0, 0)
}

// ByFilter retrieves itineraries based on filter criteria
func (r *TravelItineraryRepositoryImpl) ByFilter(ctx context.Context, filter models.TravelItineraryFilter, orderBy string, limit, offset int) ([]*models.TravelItinerary, error) {
	var rows []*models.TravelItinerary
	query := paginate(r.applyFilter(r.getDB(ctx), filter), orderBy, limit, offset)
	if err := query.Preload("Contact").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// Count returns the number of itineraries matching the filter
func (r *TravelItineraryRepositoryImpl) Count(ctx context.Context, filter models.TravelItineraryFilter) (int64, error) {
	var count int64
	err := r.applyFilter(r.getDB(ctx).Model(&models.TravelItinerary{}), filter).Count(&count).Error
	return count, err
}

// Exists checks if any itinerary matching the filter exists
func (r *TravelItineraryRepositoryImpl) Exists(ctx context.Context, filter models.TravelItineraryFilter) (bool, error) {
	count, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *TravelItineraryRepositoryImpl) applyFilter(db *gorm.DB, filter models.TravelItineraryFilter) *gorm.DB {
	if filter.ID != nil {
		db = db.Where("travel_itineraries.id = ?", *filter.ID)
	}
	if filter.ContactID != nil {
		db = db.Where("travel_itineraries.contact_id = ?", *filter.ContactID)
	}
	if filter.PersonName != nil {
		db = db.Where("travel_itineraries.person_name = ?", *filter.PersonName)
	}
	if filter.GroupID != nil {
		db = db.Joins("JOIN contacts ON contacts.id = travel_itineraries.contact_id").
			Where("contacts.group_id = ?", *filter.GroupID)
	}
	return db
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
