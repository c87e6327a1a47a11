// Package models contains domain entities for the RSVP conversation and campaign delivery engine
package models

import (
	"time"

	"github.com/amirphl/event-rsvp-engine/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ContactGroup is a recipient list, usually the guest list of one event
type ContactGroup struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	UUID        uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:uk_contact_groups_uuid" json:"uuid"`
	Name        string    `gorm:"size:255;not null" json:"name"`
	EventName   *string   `gorm:"size:255" json:"event_name,omitempty"`
	Description *string   `gorm:"type:text" json:"description,omitempty"`
	EventInfo   *string   `gorm:"type:text" json:"event_info,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (ContactGroup) TableName() string {
	return "contact_groups"
}

func (g *ContactGroup) BeforeCreate(tx *gorm.DB) error {
	if g.UUID == uuid.Nil {
		g.UUID = uuid.New()
	}
	now := utils.UTCNow()
	if g.CreatedAt.IsZero() {
		g.CreatedAt = now
	}
	g.UpdatedAt = now
	return nil
}

// Contact is a phone-number-identified recipient within a group
type Contact struct {
	ID          uint          `gorm:"primaryKey" json:"id"`
	UUID        uuid.UUID     `gorm:"type:uuid;not null;uniqueIndex:uk_contacts_uuid" json:"uuid"`
	GroupID     uint          `gorm:"not null;uniqueIndex:uk_contacts_group_phone,priority:1;index:idx_contacts_group_id" json:"group_id"`
	Group       *ContactGroup `gorm:"foreignKey:GroupID;references:ID;constraint:OnDelete:CASCADE" json:"group,omitempty"`
	FullName    string        `gorm:"size:255;not null" json:"full_name"`
	PhoneNumber string        `gorm:"size:32;not null;uniqueIndex:uk_contacts_group_phone,priority:2" json:"phone_number"`
	PhoneSuffix string        `gorm:"size:16;not null;index:idx_contacts_phone_suffix" json:"-"`
	Email       *string       `gorm:"size:255" json:"email,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

func (Contact) TableName() string {
	return "contacts"
}

func (c *Contact) BeforeCreate(tx *gorm.DB) error {
	if c.UUID == uuid.Nil {
		c.UUID = uuid.New()
	}
	c.PhoneSuffix = utils.PhoneSuffix(c.PhoneNumber)
	now := utils.UTCNow()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	return nil
}

// ContactFilter represents filter criteria for contact queries
type ContactFilter struct {
	ID          *uint
	UUID        *uuid.UUID
	GroupID     *uint
	PhoneNumber *string
	PhoneSuffix *string
}

// ContactGroupFilter represents filter criteria for contact group queries
type ContactGroupFilter struct {
	ID   *uint
	UUID *uuid.UUID
	Name *string
}
