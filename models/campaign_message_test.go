package models_test

import (
	"testing"

	"github.com/amirphl/event-rsvp-engine/models"
	"github.com/stretchr/testify/assert"
)

func TestMessageStatusAdvances(t *testing.T) {
	cases := []struct {
		from, to models.MessageStatus
		want     bool
	}{
		{models.MessageStatusPending, models.MessageStatusSent, true},
		{models.MessageStatusSent, models.MessageStatusDelivered, true},
		{models.MessageStatusSent, models.MessageStatusRead, true},
		{models.MessageStatusDelivered, models.MessageStatusRead, true},
		{models.MessageStatusRead, models.MessageStatusDelivered, false},
		{models.MessageStatusDelivered, models.MessageStatusDelivered, false},
		{models.MessageStatusPending, models.MessageStatusFailed, true},
		{models.MessageStatusSent, models.MessageStatusFailed, true},
		{models.MessageStatusDelivered, models.MessageStatusFailed, false},
		{models.MessageStatusFailed, models.MessageStatusSent, false},
		{models.MessageStatusFailed, models.MessageStatusRead, false},
	}
	for _, tc := range cases {
		t.Run(string(tc.from)+"->"+string(tc.to), func(t *testing.T) {
			assert.Equal(t, tc.want, tc.from.Advances(tc.to))
		})
	}
}

func TestStatusesBefore(t *testing.T) {
	assert.ElementsMatch(t,
		[]models.MessageStatus{models.MessageStatusPending, models.MessageStatusSent, models.MessageStatusDelivered},
		models.StatusesBefore(models.MessageStatusRead))
	assert.ElementsMatch(t,
		[]models.MessageStatus{models.MessageStatusPending, models.MessageStatusSent},
		models.StatusesBefore(models.MessageStatusFailed))
	assert.Empty(t, models.StatusesBefore(models.MessageStatusPending))
}

func TestCampaignMessageIsRetryable(t *testing.T) {
	assert.True(t, (&models.CampaignMessage{Status: models.MessageStatusFailed, RetryCount: 0}).IsRetryable())
	assert.True(t, (&models.CampaignMessage{Status: models.MessageStatusFailed, RetryCount: 2}).IsRetryable())
	assert.False(t, (&models.CampaignMessage{Status: models.MessageStatusFailed, RetryCount: 3}).IsRetryable())
	assert.False(t, (&models.CampaignMessage{Status: models.MessageStatusSent}).IsRetryable())
}

func TestTimestampColumn(t *testing.T) {
	assert.Equal(t, "sent_at", models.TimestampColumn(models.MessageStatusSent))
	assert.Equal(t, "read_at", models.TimestampColumn(models.MessageStatusRead))
	assert.Equal(t, "", models.TimestampColumn(models.MessageStatusPending))
}
