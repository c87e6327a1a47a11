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

// ConversationState is a step of the RSVP dialogue
type ConversationState string

const (
	StateAwaitingRSVP                   ConversationState = "awaiting_rsvp"
	StateAwaitingGuestCount             ConversationState = "awaiting_guest_count"
	StateAwaitingNotes                  ConversationState = "awaiting_notes"
	StateShowingSummary                 ConversationState = "showing_summary"
	StateAwaitingDocPersonName          ConversationState = "awaiting_doc_person_name"
	StateAwaitingDocRole                ConversationState = "awaiting_doc_role"
	StateAwaitingDocUpload              ConversationState = "awaiting_doc_upload"
	StateAwaitingIDProof                ConversationState = "awaiting_id_proof"
	StateAwaitingTravelDocsChoice       ConversationState = "awaiting_travel_docs_choice"
	StateAwaitingTravelDocType          ConversationState = "awaiting_travel_doc_type"
	StateAwaitingTravelDocDirection     ConversationState = "awaiting_travel_doc_direction"
	StateAwaitingTravelDocUpload        ConversationState = "awaiting_travel_doc_upload"
	StateAwaitingArrivalManualDate      ConversationState = "awaiting_arrival_manual_date"
	StateAwaitingArrivalManualTime      ConversationState = "awaiting_arrival_manual_time"
	StateAwaitingReturnChoice           ConversationState = "awaiting_return_choice"
	StateAwaitingReturnManualDate       ConversationState = "awaiting_return_manual_date"
	StateAwaitingReturnManualTime       ConversationState = "awaiting_return_manual_time"
	StateAwaitingMoreAttendees          ConversationState = "awaiting_more_attendees"
	StateAwaitingAdditionalAttendeeName ConversationState = "awaiting_additional_attendee_name"
	StateConfirmRSVPUpdate              ConversationState = "confirm_rsvp_update"
	StateCompleted                      ConversationState = "completed"
)

// ConversationStates lists every state in dialogue order
var ConversationStates = []ConversationState{
	StateAwaitingRSVP,
	StateAwaitingGuestCount,
	StateAwaitingNotes,
	StateShowingSummary,
	StateAwaitingDocPersonName,
	StateAwaitingDocRole,
	StateAwaitingDocUpload,
	StateAwaitingIDProof,
	StateAwaitingTravelDocsChoice,
	StateAwaitingTravelDocType,
	StateAwaitingTravelDocDirection,
	StateAwaitingTravelDocUpload,
	StateAwaitingArrivalManualDate,
	StateAwaitingArrivalManualTime,
	StateAwaitingReturnChoice,
	StateAwaitingReturnManualDate,
	StateAwaitingReturnManualTime,
	StateAwaitingMoreAttendees,
	StateAwaitingAdditionalAttendeeName,
	StateConfirmRSVPUpdate,
	StateCompleted,
}

func (s ConversationState) String() string {
	return string(s)
}

// Valid checks if the state belongs to the fixed state set
func (s ConversationState) Valid() bool {
	for _, st := range ConversationStates {
		if st == s {
			return true
		}
	}
	return false
}

// ExpectsUpload reports whether media received in this state is stored as an Upload
func (s ConversationState) ExpectsUpload() bool {
	switch s {
	case StateAwaitingIDProof, StateAwaitingDocUpload, StateAwaitingTravelDocUpload:
		return true
	}
	return false
}

// IsIDUpload reports whether uploads in this state are identity documents
func (s ConversationState) IsIDUpload() bool {
	return s == StateAwaitingIDProof || s == StateAwaitingDocUpload
}

// InDocumentSubflow reports whether the state collects documents for the person
// already named in the scratch
func (s ConversationState) InDocumentSubflow() bool {
	switch s {
	case StateAwaitingDocRole, StateAwaitingDocUpload, StateAwaitingIDProof,
		StateAwaitingTravelDocsChoice, StateAwaitingTravelDocType,
		StateAwaitingTravelDocDirection, StateAwaitingTravelDocUpload,
		StateAwaitingArrivalManualDate, StateAwaitingArrivalManualTime,
		StateAwaitingReturnChoice, StateAwaitingReturnManualDate,
		StateAwaitingReturnManualTime:
		return true
	}
	return false
}

// ClearsScratch reports whether entering this state ends the document sub-flow
func (s ConversationState) ClearsScratch() bool {
	switch s {
	case StateAwaitingMoreAttendees, StateCompleted, StateAwaitingRSVP:
		return true
	}
	return false
}

func (s *ConversationState) Scan(value any) error {
	if value == nil {
		*s = ""
		return nil
	}
	switch v := value.(type) {
	case string:
		*s = ConversationState(v)
	case []byte:
		*s = ConversationState(string(v))
	default:
		return fmt.Errorf("cannot scan %T into ConversationState", value)
	}
	return nil
}

func (s ConversationState) Value() (driver.Value, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid ConversationState: %s", s)
	}
	return string(s), nil
}

// ConversationMode selects between oracle-driven replies and a human operator
type ConversationMode string

const (
	ConversationModeAuto   ConversationMode = "AUTO"
	ConversationModeManual ConversationMode = "MANUAL"
)

func (m ConversationMode) Valid() bool {
	return m == ConversationModeAuto || m == ConversationModeManual
}

func (m *ConversationMode) Scan(value any) error {
	if value == nil {
		*m = ""
		return nil
	}
	switch v := value.(type) {
	case string:
		*m = ConversationMode(v)
	case []byte:
		*m = ConversationMode(string(v))
	default:
		return fmt.Errorf("cannot scan %T into ConversationMode", value)
	}
	return nil
}

func (m ConversationMode) Value() (driver.Value, error) {
	if !m.Valid() {
		return nil, fmt.Errorf("invalid ConversationMode: %s", m)
	}
	return string(m), nil
}

// Travel directions carried in the document scratch
const (
	TravelDirectionBoth        = "both"
	TravelDirectionArrivalOnly = "arrival_only"
	TravelDirectionReturnOnly  = "return_only"
)

// DocumentScratch tracks whose document is currently being collected
type DocumentScratch struct {
	Name            string `json:"name,omitempty"`
	Role            string `json:"role,omitempty"`
	Type            string `json:"type,omitempty"`
	TravelDirection string `json:"travel_direction,omitempty"`
	TransportType   string `json:"transport_type,omitempty"`
	ArrivalDate     string `json:"arrival_date,omitempty"`
	ArrivalTime     string `json:"arrival_time,omitempty"`
	ReturnDate      string `json:"return_date,omitempty"`
	ReturnTime      string `json:"return_time,omitempty"`
}

// IsEmpty reports whether no scratch field is set
func (d *DocumentScratch) IsEmpty() bool {
	return d == nil || *d == (DocumentScratch{})
}

// HasManualTravel reports whether manually entered travel dates are present
func (d *DocumentScratch) HasManualTravel() bool {
	if d == nil {
		return false
	}
	return d.ArrivalDate != "" || d.ReturnDate != ""
}

func (d DocumentScratch) Value() (driver.Value, error) {
	b, err := json.Marshal(d)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (d *DocumentScratch) Scan(value any) error {
	if value == nil {
		*d = DocumentScratch{}
		return nil
	}
	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into DocumentScratch", value)
	}
	if len(strings.TrimSpace(string(raw))) == 0 {
		*d = DocumentScratch{}
		return nil
	}
	return json.Unmarshal(raw, d)
}

// Conversation is the per-contact dialogue state; exactly one exists per contact
type Conversation struct {
	ID                 uint              `gorm:"primaryKey" json:"id"`
	UUID               uuid.UUID         `gorm:"type:uuid;not null;uniqueIndex:uk_conversations_uuid" json:"uuid"`
	ContactID          uint              `gorm:"not null;uniqueIndex:uk_conversations_contact_id" json:"contact_id"`
	Contact            *Contact          `gorm:"foreignKey:ContactID;references:ID;constraint:OnDelete:CASCADE" json:"contact,omitempty"`
	State              ConversationState `gorm:"size:64;not null;index:idx_conversations_state" json:"state"`
	Mode               ConversationMode  `gorm:"size:16;not null" json:"mode"`
	CurrentDocument    *DocumentScratch  `gorm:"type:text" json:"current_document,omitempty"`
	RSVPStatus         *string           `gorm:"size:32" json:"rsvp_status,omitempty"`
	GuestCount         *int              `json:"guest_count,omitempty"`
	Notes              *string           `gorm:"type:text" json:"notes,omitempty"`
	ProofUploaded      bool              `gorm:"not null;default:false" json:"proof_uploaded"`
	ManualActivatedBy  *uint             `json:"manual_activated_by,omitempty"`
	ManualActivatedAt  *time.Time        `json:"manual_activated_at,omitempty"`
	UserNotified       bool              `gorm:"not null;default:false" json:"user_notified"`
	LastInboundAt      *time.Time        `gorm:"index:idx_conversations_last_inbound_at" json:"last_inbound_at,omitempty"`
	LastMessageAt      *time.Time        `json:"last_message_at,omitempty"`
	LastMessagePreview *string           `gorm:"size:255" json:"last_message_preview,omitempty"`
	CreatedAt          time.Time         `json:"created_at"`
	UpdatedAt          time.Time         `json:"updated_at"`
}

func (Conversation) TableName() string {
	return "conversations"
}

func (c *Conversation) BeforeCreate(tx *gorm.DB) error {
	if c.UUID == uuid.Nil {
		c.UUID = uuid.New()
	}
	if c.State == "" {
		c.State = StateAwaitingRSVP
	}
	if c.Mode == "" {
		c.Mode = ConversationModeAuto
	}
	now := utils.UTCNow()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	return nil
}

func (c *Conversation) BeforeUpdate(tx *gorm.DB) error {
	c.UpdatedAt = utils.UTCNow()
	return nil
}

// IsManual reports whether a human operator has taken over the conversation
func (c *Conversation) IsManual() bool {
	return c.Mode == ConversationModeManual
}

// WithinMessagingWindow reports whether free-form messages may still be sent
func (c *Conversation) WithinMessagingWindow(now time.Time) bool {
	return utils.WithinWindow(c.LastInboundAt, utils.MessagingWindow, now)
}

// ConversationFilter represents filter criteria for conversation queries
type ConversationFilter struct {
	ID        *uint
	ContactID *uint
	State     *ConversationState
	Mode      *ConversationMode
}
