package dto

import (
	"time"
)

// CreateGroupRequest creates a contact group
type CreateGroupRequest struct {
	OperatorID  uint    `json:"-"`
	Name        string  `json:"name" validate:"required,max=255"`
	EventName   *string `json:"event_name,omitempty" validate:"omitempty,max=255"`
	Description *string `json:"description,omitempty"`
	// EventInfo is what guests may ask about: venue, dates, dress code
	EventInfo *string `json:"event_info,omitempty" validate:"omitempty,max=8000"`
}

// GroupDTO is the public view of a contact group
type GroupDTO struct {
	ID           uint      `json:"id"`
	UUID         string    `json:"uuid"`
	Name         string    `json:"name"`
	EventName    *string   `json:"event_name,omitempty"`
	Description  *string   `json:"description,omitempty"`
	EventInfo    *string   `json:"event_info,omitempty"`
	ContactCount int64     `json:"contact_count"`
	CreatedAt    time.Time `json:"created_at"`
}

// CreateGroupResponse represents the created group
type CreateGroupResponse struct {
	Message string   `json:"message"`
	Group   GroupDTO `json:"group"`
}

// ListGroupsResponse lists every group
type ListGroupsResponse struct {
	Message string     `json:"message"`
	Items   []GroupDTO `json:"items"`
}

// ContactDTO is the public view of a contact
type ContactDTO struct {
	ID          uint      `json:"id"`
	UUID        string    `json:"uuid"`
	GroupID     uint      `json:"group_id"`
	FullName    string    `json:"full_name"`
	PhoneNumber string    `json:"phone_number"`
	Email       *string   `json:"email,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// ListContactsRequest pages through a group's contacts
type ListContactsRequest struct {
	GroupID uint `json:"-"`
	Page    int  `json:"page"`
	Limit   int  `json:"limit"`
}

// ListContactsResponse represents a page of contacts
type ListContactsResponse struct {
	Message    string         `json:"message"`
	Items      []ContactDTO   `json:"items"`
	Pagination PaginationInfo `json:"pagination"`
}

// ImportContactsRequest carries an uploaded CSV or XLSX contact sheet
type ImportContactsRequest struct {
	OperatorID uint
	GroupID    uint
	FileName   string
	Data       []byte
}

// ImportContactsResponse summarizes an import
type ImportContactsResponse struct {
	Message  string   `json:"message"`
	Imported int      `json:"imported"`
	Skipped  int      `json:"skipped"`
	Invalid  int      `json:"invalid"`
	Errors   []string `json:"errors,omitempty"`
}

// DeleteGroupContactsRequest removes a group's contacts and everything hanging off them
type DeleteGroupContactsRequest struct {
	OperatorID  uint
	GroupID     uint
	DeleteGroup bool
}

// DeleteGroupContactsResponse reports how many contacts were removed
type DeleteGroupContactsResponse struct {
	Message string `json:"message"`
	Deleted int64  `json:"deleted"`
}

// ItineraryExport is a rendered XLSX workbook
type ItineraryExport struct {
	FileName string
	Content  []byte
}
