package dto

import (
	"time"
)

// ConversationDTO is the operator view of a contact's conversation
type ConversationDTO struct {
	ContactID          uint                 `json:"contact_id"`
	ContactUUID        string               `json:"contact_uuid"`
	ContactName        string               `json:"contact_name"`
	PhoneNumber        string               `json:"phone_number"`
	State              string               `json:"state"`
	Mode               string               `json:"mode"`
	RSVPStatus         *string              `json:"rsvp_status,omitempty"`
	GuestCount         *int                 `json:"guest_count,omitempty"`
	Notes              *string              `json:"notes,omitempty"`
	ProofUploaded      bool                 `json:"proof_uploaded"`
	CurrentDocument    *DocumentScratchDTO  `json:"current_document,omitempty"`
	UserNotified       bool                 `json:"user_notified"`
	WithinWindow       bool                 `json:"within_messaging_window"`
	LastInboundAt      *time.Time           `json:"last_inbound_at,omitempty"`
	LastMessageAt      *time.Time           `json:"last_message_at,omitempty"`
	LastMessagePreview *string              `json:"last_message_preview,omitempty"`
	ManualActivatedBy  *uint                `json:"manual_activated_by,omitempty"`
	ManualActivatedAt  *time.Time           `json:"manual_activated_at,omitempty"`
	Uploads            []UploadDTO          `json:"uploads,omitempty"`
	Itineraries        []TravelItineraryDTO `json:"itineraries,omitempty"`
	UpdatedAt          time.Time            `json:"updated_at"`
}

// DocumentScratchDTO mirrors the in-progress document collection fields
type DocumentScratchDTO struct {
	Name            string `json:"name,omitempty"`
	Role            string `json:"role,omitempty"`
	Type            string `json:"type,omitempty"`
	TravelDirection string `json:"travel_direction,omitempty"`
	TransportType   string `json:"transport_type,omitempty"`
}

// UploadDTO is a document received from a contact
type UploadDTO struct {
	ID              uint              `json:"id"`
	UUID            string            `json:"uuid"`
	PersonName      string            `json:"person_name"`
	DocumentType    string            `json:"document_type"`
	Role            string            `json:"role"`
	StorageRef      string            `json:"storage_ref"`
	MimeType        string            `json:"mime_type"`
	ExtractedFields map[string]string `json:"extracted_fields,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
}

// TravelItineraryDTO is one attendee's arrival and return legs
type TravelItineraryDTO struct {
	ContactID        uint    `json:"contact_id"`
	ContactName      string  `json:"contact_name,omitempty"`
	PhoneNumber      string  `json:"phone_number,omitempty"`
	PersonName       string  `json:"person_name"`
	ArrivalDate      *string `json:"arrival_date,omitempty"`
	ArrivalTime      *string `json:"arrival_time,omitempty"`
	ArrivalTransport *string `json:"arrival_transport_no,omitempty"`
	ArrivalFrom      *string `json:"arrival_from,omitempty"`
	ArrivalTo        *string `json:"arrival_to,omitempty"`
	ReturnDate       *string `json:"return_date,omitempty"`
	ReturnTime       *string `json:"return_time,omitempty"`
	ReturnTransport  *string `json:"return_transport_no,omitempty"`
	ReturnFrom       *string `json:"return_from,omitempty"`
	ReturnTo         *string `json:"return_to,omitempty"`
	Source           string  `json:"source"`
}

// ChatMessageDTO is one transcript entry
type ChatMessageDTO struct {
	ID                uint      `json:"id"`
	SenderType        string    `json:"sender_type"`
	SenderID          *uint     `json:"sender_id,omitempty"`
	MessageType       string    `json:"message_type"`
	Body              string    `json:"body"`
	MediaRef          *string   `json:"media_ref,omitempty"`
	ProviderMessageID *string   `json:"provider_message_id,omitempty"`
	CampaignID        *uint     `json:"campaign_id,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

// ListConversationsRequest pages through conversations
type ListConversationsRequest struct {
	Page  int     `json:"page"`
	Limit int     `json:"limit"`
	Mode  *string `json:"mode,omitempty"`
	State *string `json:"state,omitempty"`
}

// ListConversationsResponse represents a page of conversations
type ListConversationsResponse struct {
	Message    string            `json:"message"`
	Items      []ConversationDTO `json:"items"`
	Pagination PaginationInfo    `json:"pagination"`
}

// GetConversationResponse is a single conversation with its documents
type GetConversationResponse struct {
	Message      string          `json:"message"`
	Conversation ConversationDTO `json:"conversation"`
}

// ListChatMessagesRequest pages through a contact's transcript in chronological order
type ListChatMessagesRequest struct {
	ContactID uint `json:"-"`
	Page      int  `json:"page"`
	Limit     int  `json:"limit"`
}

// ListChatMessagesResponse represents a page of transcript entries
type ListChatMessagesResponse struct {
	Message    string           `json:"message"`
	Items      []ChatMessageDTO `json:"items"`
	Pagination PaginationInfo   `json:"pagination"`
}

// SendAdminMessageRequest is a free-form operator message to a contact
type SendAdminMessageRequest struct {
	ContactID  uint   `json:"-"`
	OperatorID uint   `json:"-"`
	Message    string `json:"message" validate:"required,max=4096"`
}

// SendAdminMessageResponse reports the sent message and the resulting mode
type SendAdminMessageResponse struct {
	Message           string         `json:"message"`
	ChatMessage       ChatMessageDTO `json:"chat_message"`
	ProviderMessageID string         `json:"provider_message_id"`
	Mode              string         `json:"mode"`
}

// ResumeAutomationRequest hands a conversation back to automated replies
type ResumeAutomationRequest struct {
	ContactID  uint `json:"-"`
	OperatorID uint `json:"-"`
}

// ResumeAutomationResponse reports the resulting mode
type ResumeAutomationResponse struct {
	Message string `json:"message"`
	Mode    string `json:"mode"`
}
