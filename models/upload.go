package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/amirphl/event-rsvp-engine/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Well-known extracted field names
const (
	ExtractedDate            = "date"
	ExtractedTime            = "time"
	ExtractedFromLocation    = "fromLocation"
	ExtractedToLocation      = "toLocation"
	ExtractedTransportNumber = "transportNumber"
	ExtractedPNR             = "pnr"
	ExtractedPassengerName   = "passengerName"
)

// Default document types and roles
const (
	DocumentTypeIDProof = "ID Proof"
	DocumentTypeTravel  = "Travel Document"
	RoleSelf            = "Self"
)

// ExtractedFields is the flat field map produced by document extraction
type ExtractedFields map[string]string

func (f ExtractedFields) Value() (driver.Value, error) {
	if f == nil {
		return nil, nil
	}
	b, err := json.Marshal(f)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (f *ExtractedFields) Scan(value any) error {
	if value == nil {
		*f = nil
		return nil
	}
	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into ExtractedFields", value)
	}
	if len(raw) == 0 {
		*f = nil
		return nil
	}
	return json.Unmarshal(raw, f)
}

// Upload is a document received from a contact during document collection
type Upload struct {
	ID              uint            `gorm:"primaryKey" json:"id"`
	UUID            uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex:uk_uploads_uuid" json:"uuid"`
	ContactID       uint            `gorm:"not null;index:idx_uploads_contact_id" json:"contact_id"`
	Contact         *Contact        `gorm:"foreignKey:ContactID;references:ID;constraint:OnDelete:CASCADE" json:"contact,omitempty"`
	PersonName      string          `gorm:"size:255;not null" json:"person_name"`
	DocumentType    string          `gorm:"size:128;not null" json:"document_type"`
	Role            string          `gorm:"size:128;not null" json:"role"`
	StorageRef      string          `gorm:"size:1024;not null" json:"storage_ref"`
	MimeType        string          `gorm:"size:128" json:"mime_type"`
	ProviderMediaID *string         `gorm:"size:255" json:"provider_media_id,omitempty"`
	ExtractedFields ExtractedFields `gorm:"type:text" json:"extracted_fields,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

func (Upload) TableName() string {
	return "uploads"
}

func (u *Upload) BeforeCreate(tx *gorm.DB) error {
	if u.UUID == uuid.Nil {
		u.UUID = uuid.New()
	}
	now := utils.UTCNow()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now
	return nil
}

// InferDirection returns the travel direction encoded in the document type,
// e.g. "Flight Ticket - Arrival". It returns "" when none can be inferred.
func InferDirection(documentType string) string {
	t := strings.ToLower(documentType)
	switch {
	case strings.Contains(t, "arrival"):
		return TravelDirectionArrival
	case strings.Contains(t, "return"), strings.Contains(t, "departure"):
		return TravelDirectionReturn
	}
	return ""
}

// UploadFilter represents filter criteria for upload queries
type UploadFilter struct {
	ID           *uint
	ContactID    *uint
	PersonName   *string
	DocumentType *string
}
