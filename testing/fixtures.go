package testing

import (
	"context"
	"fmt"
	"time"

	"github.com/amirphl/event-rsvp-engine/models"
	"github.com/amirphl/event-rsvp-engine/utils"
)

// TestFixtures provides helper methods for creating test data
type TestFixtures struct {
	DB  *TestDB
	seq int
}

// NewTestFixtures creates a new test fixtures instance
func NewTestFixtures(db *TestDB) *TestFixtures {
	return &TestFixtures{DB: db}
}

// CreateGroup creates a contact group
func (tf *TestFixtures) CreateGroup(name string) (*models.ContactGroup, error) {
	group := &models.ContactGroup{Name: name}
	if err := tf.DB.DB.Create(group).Error; err != nil {
		return nil, fmt.Errorf("failed to create group %s: %w", name, err)
	}
	return group, nil
}

// CreateContact creates a contact in the group; an empty phone gets a unique generated number
func (tf *TestFixtures) CreateContact(groupID uint, fullName, phone string) (*models.Contact, error) {
	if phone == "" {
		tf.seq++
		phone = fmt.Sprintf("91987654%04d", tf.seq)
	}
	contact := &models.Contact{
		GroupID:     groupID,
		FullName:    fullName,
		PhoneNumber: phone,
	}
	if err := tf.DB.DB.Create(contact).Error; err != nil {
		return nil, fmt.Errorf("failed to create contact %s: %w", fullName, err)
	}
	return contact, nil
}

// CreateConversation creates a conversation for the contact in the given state
func (tf *TestFixtures) CreateConversation(contactID uint, state models.ConversationState, scratch *models.DocumentScratch) (*models.Conversation, error) {
	conv := &models.Conversation{
		ContactID:       contactID,
		State:           state,
		Mode:            models.ConversationModeAuto,
		CurrentDocument: scratch,
		LastInboundAt:   utils.UTCNowPtr(),
	}
	if err := tf.DB.DB.Create(conv).Error; err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	return conv, nil
}

// CreateCampaign creates a campaign over the group with one message per contact
func (tf *TestFixtures) CreateCampaign(groupID uint, status models.CampaignStatus, scheduledAt time.Time, contacts []*models.Contact) (*models.Campaign, []*models.CampaignMessage, error) {
	campaign := &models.Campaign{
		Name:            "Save the date",
		GroupID:         groupID,
		TemplateName:    "wedding_invite",
		TemplateBody:    utils.ToPtr("You are invited!"),
		TemplateParams:  models.TemplateParams{"Guest"},
		Status:          status,
		ScheduledAt:     scheduledAt,
		TotalRecipients: len(contacts),
	}
	if err := tf.DB.DB.Create(campaign).Error; err != nil {
		return nil, nil, fmt.Errorf("failed to create campaign: %w", err)
	}

	msgs := make([]*models.CampaignMessage, 0, len(contacts))
	for _, c := range contacts {
		msgs = append(msgs, &models.CampaignMessage{
			CampaignID:  campaign.ID,
			ContactID:   c.ID,
			PhoneNumber: c.PhoneNumber,
			Status:      models.MessageStatusPending,
		})
	}
	if len(msgs) > 0 {
		if err := tf.DB.DB.Create(&msgs).Error; err != nil {
			return nil, nil, fmt.Errorf("failed to create campaign messages: %w", err)
		}
	}
	return campaign, msgs, nil
}

// SetMessageState overwrites a campaign message's status and retry count
func (tf *TestFixtures) SetMessageState(ctx context.Context, id uint, status models.MessageStatus, retryCount int) error {
	return tf.DB.DB.WithContext(ctx).Model(&models.CampaignMessage{}).
		Where("id = ?", id).
		Updates(map[string]any{"status": status, "retry_count": retryCount}).Error
}

// ReloadCampaign reads the campaign straight from the database
func (tf *TestFixtures) ReloadCampaign(id uint) (*models.Campaign, error) {
	var c models.Campaign
	err := tf.DB.DB.First(&c, id).Error
	return &c, err
}

// ReloadMessage reads the campaign message straight from the database
func (tf *TestFixtures) ReloadMessage(id uint) (*models.CampaignMessage, error) {
	var m models.CampaignMessage
	err := tf.DB.DB.First(&m, id).Error
	return &m, err
}
