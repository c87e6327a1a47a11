package models

import (
	"time"

	"github.com/amirphl/event-rsvp-engine/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Itinerary directions
const (
	TravelDirectionArrival = "arrival"
	TravelDirectionReturn  = "return"
)

// Itinerary sources
const (
	ItinerarySourceDocument = "document"
	ItinerarySourceManual   = "manual"
)

// TravelItinerary holds one attendee's arrival and return legs.
// There is at most one row per (contact, person name).
type TravelItinerary struct {
	ID                  uint            `gorm:"primaryKey" json:"id"`
	UUID                uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex:uk_travel_itineraries_uuid" json:"uuid"`
	ContactID           uint            `gorm:"not null;uniqueIndex:uk_travel_itineraries_contact_person,priority:1" json:"contact_id"`
	Contact             *Contact        `gorm:"foreignKey:ContactID;references:ID;constraint:OnDelete:CASCADE" json:"contact,omitempty"`
	PersonName          string          `gorm:"size:255;not null;uniqueIndex:uk_travel_itineraries_contact_person,priority:2" json:"person_name"`
	ArrivalDate         *string         `gorm:"size:32" json:"arrival_date,omitempty"`
	ArrivalTime         *string         `gorm:"size:32" json:"arrival_time,omitempty"`
	ArrivalTransportNo  *string         `gorm:"size:64" json:"arrival_transport_no,omitempty"`
	ArrivalFrom         *string         `gorm:"size:255" json:"arrival_from,omitempty"`
	ArrivalTo           *string         `gorm:"size:255" json:"arrival_to,omitempty"`
	ArrivalUploadID     *uint           `json:"arrival_upload_id,omitempty"`
	ReturnDate          *string         `gorm:"size:32" json:"return_date,omitempty"`
	ReturnTime          *string         `gorm:"size:32" json:"return_time,omitempty"`
	ReturnTransportNo   *string         `gorm:"size:64" json:"return_transport_no,omitempty"`
	ReturnFrom          *string         `gorm:"size:255" json:"return_from,omitempty"`
	ReturnTo            *string         `gorm:"size:255" json:"return_to,omitempty"`
	ReturnUploadID      *uint           `json:"return_upload_id,omitempty"`
	Source              string          `gorm:"size:32;not null" json:"source"`
	LastExtractedFields ExtractedFields `gorm:"type:text" json:"last_extracted_fields,omitempty"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

func (TravelItinerary) TableName() string {
	return "travel_itineraries"
}

func (t *TravelItinerary) BeforeCreate(tx *gorm.DB) error {
	if t.UUID == uuid.Nil {
		t.UUID = uuid.New()
	}
	if t.Source == "" {
		t.Source = ItinerarySourceDocument
	}
	now := utils.UTCNow()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	return nil
}

// HasArrival reports whether the arrival leg is populated
func (t *TravelItinerary) HasArrival() bool {
	return t.ArrivalDate != nil && *t.ArrivalDate != ""
}

// HasReturn reports whether the return leg is populated
func (t *TravelItinerary) HasReturn() bool {
	return t.ReturnDate != nil && *t.ReturnDate != ""
}

// TravelLeg is one direction of an itinerary as written by an upsert
type TravelLeg struct {
	Direction   string
	Date        string
	Time        string
	TransportNo string
	From        string
	To          string
	UploadID    *uint
}

// TravelItineraryFilter represents filter criteria for itinerary queries
type TravelItineraryFilter struct {
	ID         *uint
	ContactID  *uint
	GroupID    *uint
	PersonName *string
}
