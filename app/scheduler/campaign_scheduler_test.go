package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/amirphl/event-rsvp-engine/app/dto"
	"github.com/amirphl/event-rsvp-engine/app/services"
	businessflow "github.com/amirphl/event-rsvp-engine/business_flow"
	"github.com/amirphl/event-rsvp-engine/config"
	"github.com/amirphl/event-rsvp-engine/models"
	"github.com/amirphl/event-rsvp-engine/repository"
	testingutil "github.com/amirphl/event-rsvp-engine/testing"
	"github.com/amirphl/event-rsvp-engine/utils"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type schedulerEnv struct {
	fixtures  *testingutil.TestFixtures
	scheduler *CampaignScheduler
	transport *services.MockWhatsAppClient
	contacts  []*models.Contact
	group     *models.ContactGroup
}

func newSchedulerEnv(t *testing.T, testDB *testingutil.TestDB) *schedulerEnv {
	t.Helper()
	fixtures := testingutil.NewTestFixtures(testDB)
	transport := services.NewMockWhatsAppClient()

	sched := NewCampaignScheduler(
		repository.NewCampaignRepository(testDB.DB),
		repository.NewCampaignMessageRepository(testDB.DB),
		repository.NewConversationRepository(testDB.DB),
		repository.NewChatMessageRepository(testDB.DB),
		repository.NewWhatsAppMessageRepository(testDB.DB),
		transport,
		testDB.DB,
		config.SchedulerConfig{Interval: time.Minute, BatchSize: 5, SendTimeout: time.Second},
		zerolog.Nop(),
	)
	sched.sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }

	group, err := fixtures.CreateGroup("Reception")
	require.NoError(t, err)
	var contacts []*models.Contact
	for _, name := range []string{"Anil Kumar", "Bina Shah", "Chetan Rao"} {
		c, err := fixtures.CreateContact(group.ID, name, "")
		require.NoError(t, err)
		contacts = append(contacts, c)
	}

	return &schedulerEnv{
		fixtures:  fixtures,
		scheduler: sched,
		transport: transport,
		contacts:  contacts,
		group:     group,
	}
}

func TestRunOnceSendsDueCampaign(t *testing.T) {
	err := testingutil.TestWithDB(func(testDB *testingutil.TestDB) error {
		env := newSchedulerEnv(t, testDB)
		ctx := testingutil.CreateTestContext()

		env.transport.FailFor[env.contacts[1].PhoneNumber] = &services.TransportError{Code: "131026", Message: "undeliverable"}
		campaign, msgs, err := env.fixtures.CreateCampaign(env.group.ID, models.CampaignStatusScheduled, utils.UTCNow().Add(-time.Minute), env.contacts)
		require.NoError(t, err)
		notYet, _, err := env.fixtures.CreateCampaign(env.group.ID, models.CampaignStatusScheduled, utils.UTCNow().Add(time.Hour), env.contacts)
		require.NoError(t, err)

		assert.True(t, env.scheduler.RunOnce(ctx))

		reloaded, err := env.fixtures.ReloadCampaign(campaign.ID)
		require.NoError(t, err)
		assert.Equal(t, models.CampaignStatusCompleted, reloaded.Status)
		assert.Equal(t, 2, reloaded.MessagesSent)
		assert.Equal(t, 1, reloaded.MessagesFailed)
		assert.NotNil(t, reloaded.StartedAt)
		assert.NotNil(t, reloaded.CompletedAt)

		first, err := env.fixtures.ReloadMessage(msgs[0].ID)
		require.NoError(t, err)
		assert.Equal(t, models.MessageStatusSent, first.Status)
		require.NotNil(t, first.ProviderMessageID)

		second, err := env.fixtures.ReloadMessage(msgs[1].ID)
		require.NoError(t, err)
		assert.Equal(t, models.MessageStatusFailed, second.Status)
		require.NotNil(t, second.ErrorCode)
		assert.Equal(t, "131026", *second.ErrorCode)

		sent := env.transport.GetSentMessages()
		require.Len(t, sent, 2)
		assert.Equal(t, "template", sent[0].Type)
		assert.Equal(t, "wedding_invite", sent[0].Template.Name)

		// The transcript carries the rendered template and a conversation now exists.
		var chats []models.ChatMessage
		require.NoError(t, testDB.DB.Where("campaign_id = ?", campaign.ID).Find(&chats).Error)
		require.Len(t, chats, 2)
		assert.Equal(t, "You are invited!", chats[0].Body)
		var convs int64
		require.NoError(t, testDB.DB.Model(&models.Conversation{}).Count(&convs).Error)
		assert.Equal(t, int64(2), convs)

		later, err := env.fixtures.ReloadCampaign(notYet.ID)
		require.NoError(t, err)
		assert.Equal(t, models.CampaignStatusScheduled, later.Status)
		return nil
	})
	require.NoError(t, err)
}

func TestRunOnceIsSingleFlight(t *testing.T) {
	err := testingutil.TestWithDB(func(testDB *testingutil.TestDB) error {
		env := newSchedulerEnv(t, testDB)
		campaign, _, err := env.fixtures.CreateCampaign(env.group.ID, models.CampaignStatusScheduled, utils.UTCNow().Add(-time.Minute), env.contacts)
		require.NoError(t, err)

		env.scheduler.running.Store(true)
		assert.False(t, env.scheduler.RunOnce(testingutil.CreateTestContext()))
		env.scheduler.running.Store(false)

		reloaded, err := env.fixtures.ReloadCampaign(campaign.ID)
		require.NoError(t, err)
		assert.Equal(t, models.CampaignStatusScheduled, reloaded.Status)
		assert.Empty(t, env.transport.GetSentMessages())
		return nil
	})
	require.NoError(t, err)
}

func TestRunOnceStopsWhenCampaignCancelled(t *testing.T) {
	err := testingutil.TestWithDB(func(testDB *testingutil.TestDB) error {
		env := newSchedulerEnv(t, testDB)
		campaign, msgs, err := env.fixtures.CreateCampaign(env.group.ID, models.CampaignStatusScheduled, utils.UTCNow().Add(-time.Minute), env.contacts)
		require.NoError(t, err)

		env.scheduler.sleep = func(ctx context.Context, d time.Duration) error {
			return testDB.DB.Model(&models.Campaign{}).Where("id = ?", campaign.ID).
				Update("status", models.CampaignStatusCancelled).Error
		}

		assert.True(t, env.scheduler.RunOnce(testingutil.CreateTestContext()))

		reloaded, err := env.fixtures.ReloadCampaign(campaign.ID)
		require.NoError(t, err)
		assert.Equal(t, models.CampaignStatusCancelled, reloaded.Status)
		assert.Len(t, env.transport.GetSentMessages(), 1)

		last, err := env.fixtures.ReloadMessage(msgs[2].ID)
		require.NoError(t, err)
		assert.Equal(t, models.MessageStatusPending, last.Status)
		return nil
	})
	require.NoError(t, err)
}

func TestRunOnceFailsCampaignOnPanic(t *testing.T) {
	err := testingutil.TestWithDB(func(testDB *testingutil.TestDB) error {
		env := newSchedulerEnv(t, testDB)
		campaign, _, err := env.fixtures.CreateCampaign(env.group.ID, models.CampaignStatusScheduled, utils.UTCNow().Add(-time.Minute), env.contacts)
		require.NoError(t, err)

		env.scheduler.sleep = func(ctx context.Context, d time.Duration) error {
			panic("throttle exploded")
		}

		assert.True(t, env.scheduler.RunOnce(testingutil.CreateTestContext()))

		reloaded, err := env.fixtures.ReloadCampaign(campaign.ID)
		require.NoError(t, err)
		assert.Equal(t, models.CampaignStatusFailed, reloaded.Status)
		require.NotNil(t, reloaded.ErrorMessage)
		assert.Contains(t, *reloaded.ErrorMessage, "throttle exploded")
		assert.False(t, env.scheduler.running.Load())
		return nil
	})
	require.NoError(t, err)
}

func TestRunOnceAfterRetryKeepsTotalsAcrossRuns(t *testing.T) {
	err := testingutil.TestWithDB(func(testDB *testingutil.TestDB) error {
		env := newSchedulerEnv(t, testDB)
		ctx := testingutil.CreateTestContext()

		env.transport.FailFor[env.contacts[1].PhoneNumber] = &services.TransportError{Code: "131026", Message: "undeliverable"}
		campaign, _, err := env.fixtures.CreateCampaign(env.group.ID, models.CampaignStatusScheduled, utils.UTCNow().Add(-time.Minute), env.contacts)
		require.NoError(t, err)

		require.True(t, env.scheduler.RunOnce(ctx))
		first, err := env.fixtures.ReloadCampaign(campaign.ID)
		require.NoError(t, err)
		require.Equal(t, models.CampaignStatusCompleted, first.Status)
		assert.Equal(t, 2, first.MessagesSent)
		assert.Equal(t, 1, first.MessagesFailed)

		flow := businessflow.NewCampaignFlow(
			repository.NewCampaignRepository(testDB.DB),
			repository.NewCampaignMessageRepository(testDB.DB),
			repository.NewContactGroupRepository(testDB.DB),
			repository.NewContactRepository(testDB.DB),
			repository.NewAuditLogRepository(testDB.DB),
			testDB.DB,
		)
		resp, err := flow.RetryCampaign(ctx, &dto.CampaignActionRequest{CampaignID: campaign.ID}, nil)
		require.NoError(t, err)
		assert.Equal(t, int64(1), resp.RetriedMessages)

		delete(env.transport.FailFor, env.contacts[1].PhoneNumber)
		env.scheduler.now = func() time.Time { return utils.UTCNow().Add(time.Hour) }
		require.True(t, env.scheduler.RunOnce(ctx))

		second, err := env.fixtures.ReloadCampaign(campaign.ID)
		require.NoError(t, err)
		assert.Equal(t, models.CampaignStatusCompleted, second.Status)
		assert.Equal(t, 3, second.MessagesSent)
		assert.Equal(t, 0, second.MessagesFailed)
		assert.Len(t, env.transport.GetSentMessages(), 3)
		return nil
	})
	require.NoError(t, err)
}

func TestRunOnceRecordsSendTimeout(t *testing.T) {
	err := testingutil.TestWithDB(func(testDB *testingutil.TestDB) error {
		env := newSchedulerEnv(t, testDB)
		env.scheduler.cfg.SendTimeout = 20 * time.Millisecond
		env.transport.DelayFor[env.contacts[1].PhoneNumber] = time.Minute

		campaign, msgs, err := env.fixtures.CreateCampaign(env.group.ID, models.CampaignStatusScheduled, utils.UTCNow().Add(-time.Minute), env.contacts)
		require.NoError(t, err)

		assert.True(t, env.scheduler.RunOnce(testingutil.CreateTestContext()))

		reloaded, err := env.fixtures.ReloadCampaign(campaign.ID)
		require.NoError(t, err)
		assert.Equal(t, models.CampaignStatusCompleted, reloaded.Status)
		assert.Equal(t, 2, reloaded.MessagesSent)
		assert.Equal(t, 1, reloaded.MessagesFailed)

		slow, err := env.fixtures.ReloadMessage(msgs[1].ID)
		require.NoError(t, err)
		assert.Equal(t, models.MessageStatusFailed, slow.Status)
		require.NotNil(t, slow.ErrorCode)
		assert.Equal(t, "SEND_TIMEOUT", *slow.ErrorCode)

		last, err := env.fixtures.ReloadMessage(msgs[2].ID)
		require.NoError(t, err)
		assert.Equal(t, models.MessageStatusSent, last.Status)
		return nil
	})
	require.NoError(t, err)
}

func TestRunOnceCompletesCampaignWithNothingPending(t *testing.T) {
	err := testingutil.TestWithDB(func(testDB *testingutil.TestDB) error {
		env := newSchedulerEnv(t, testDB)
		campaign, _, err := env.fixtures.CreateCampaign(env.group.ID, models.CampaignStatusScheduled, utils.UTCNow().Add(-time.Minute), nil)
		require.NoError(t, err)

		assert.True(t, env.scheduler.RunOnce(testingutil.CreateTestContext()))

		reloaded, err := env.fixtures.ReloadCampaign(campaign.ID)
		require.NoError(t, err)
		assert.Equal(t, models.CampaignStatusCompleted, reloaded.Status)
		assert.Equal(t, 0, reloaded.MessagesSent)
		assert.Equal(t, 0, reloaded.MessagesFailed)
		assert.NotNil(t, reloaded.CompletedAt)
		assert.Empty(t, env.transport.GetSentMessages())
		return nil
	})
	require.NoError(t, err)
}

// brokenTranscript fails every transcript write
type brokenTranscript struct {
	repository.ChatMessageRepository
}

func (brokenTranscript) Save(ctx context.Context, m *models.ChatMessage) error {
	return errors.New("chat_messages unavailable")
}

func TestRunOnceKeepsGoingWhenTranscriptWriteFails(t *testing.T) {
	err := testingutil.TestWithDB(func(testDB *testingutil.TestDB) error {
		env := newSchedulerEnv(t, testDB)
		env.scheduler.chatRepo = brokenTranscript{env.scheduler.chatRepo}

		campaign, msgs, err := env.fixtures.CreateCampaign(env.group.ID, models.CampaignStatusScheduled, utils.UTCNow().Add(-time.Minute), env.contacts)
		require.NoError(t, err)

		assert.True(t, env.scheduler.RunOnce(testingutil.CreateTestContext()))

		reloaded, err := env.fixtures.ReloadCampaign(campaign.ID)
		require.NoError(t, err)
		assert.Equal(t, models.CampaignStatusCompleted, reloaded.Status)
		assert.Equal(t, 3, reloaded.MessagesSent)
		assert.Nil(t, reloaded.ErrorMessage)

		for _, m := range msgs {
			row, err := env.fixtures.ReloadMessage(m.ID)
			require.NoError(t, err)
			assert.Equal(t, models.MessageStatusSent, row.Status)
			assert.NotNil(t, row.ProviderMessageID)
		}
		assert.Len(t, env.transport.GetSentMessages(), 3)

		var chats int64
		require.NoError(t, testDB.DB.Model(&models.ChatMessage{}).Count(&chats).Error)
		assert.Zero(t, chats)
		return nil
	})
	require.NoError(t, err)
}

func TestRenderHelpers(t *testing.T) {
	contact := &models.Contact{FullName: "Divya", PhoneNumber: "919800000001"}
	params := renderParams(models.TemplateParams{"{{name}}", "Call {{phone}}"}, contact)
	assert.Equal(t, []string{"Divya", "Call 919800000001"}, params)

	body := "Dear {{1}}, please call {{2}}"
	c := &models.Campaign{TemplateName: "invite", TemplateBody: &body}
	assert.Equal(t, "Dear Divya, please call Call 919800000001", renderTemplateBody(c, params))

	c.TemplateBody = nil
	assert.Equal(t, "Template: invite", renderTemplateBody(c, params))
}
