package businessflow_test

import (
	"testing"
	"time"

	"github.com/amirphl/event-rsvp-engine/app/dto"
	businessflow "github.com/amirphl/event-rsvp-engine/business_flow"
	"github.com/amirphl/event-rsvp-engine/models"
	testingutil "github.com/amirphl/event-rsvp-engine/testing"
	"github.com/amirphl/event-rsvp-engine/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seedGroup creates a group with n contacts
func seedGroup(t *testing.T, env *flowEnv, name string, n int) (*models.ContactGroup, []*models.Contact) {
	t.Helper()
	group, err := env.fixtures.CreateGroup(name)
	require.NoError(t, err)
	contacts := make([]*models.Contact, 0, n)
	for i := 0; i < n; i++ {
		c, err := env.fixtures.CreateContact(group.ID, "Guest", "")
		require.NoError(t, err)
		contacts = append(contacts, c)
	}
	return group, contacts
}

func TestCampaignFlow_CreateCampaign(t *testing.T) {
	ctx := testingutil.CreateTestContext()
	metadata := businessflow.NewClientMetadata("127.0.0.1", "test-agent")

	t.Run("queues one pending message per contact", func(t *testing.T) {
		withFlowEnv(t, func(env *flowEnv) {
			group, _ := seedGroup(t, env, "Cousins", 3)

			resp, err := env.campaign.CreateCampaign(ctx, &dto.CreateCampaignRequest{
				OperatorID:     7,
				Name:           "  Save the date ",
				GroupID:        group.ID,
				TemplateName:   "wedding_invite",
				TemplateParams: []string{"{{name}}"},
				ScheduledAt:    utils.ToPtr(utils.UTCNow().Add(time.Hour)),
			}, metadata)
			require.NoError(t, err)
			assert.Equal(t, "Save the date", resp.Campaign.Name)
			assert.Equal(t, string(models.CampaignStatusScheduled), resp.Campaign.Status)
			assert.Equal(t, 3, resp.Campaign.TotalRecipients)
			assert.NotEmpty(t, resp.Campaign.UUID)

			stats, err := env.messages.StatsByCampaign(ctx, resp.Campaign.ID)
			require.NoError(t, err)
			assert.Equal(t, int64(3), stats.Pending)

			logs, err := env.audits.ListByAction(ctx, models.AuditActionCampaignCreated, 10, 0)
			require.NoError(t, err)
			require.Len(t, logs, 1)
			require.NotNil(t, logs[0].OperatorID)
			assert.Equal(t, uint(7), *logs[0].OperatorID)
			require.NotNil(t, logs[0].IPAddress)
			assert.Equal(t, "127.0.0.1", *logs[0].IPAddress)
		})
	})

	t.Run("validation", func(t *testing.T) {
		withFlowEnv(t, func(env *flowEnv) {
			group, _ := seedGroup(t, env, "Friends", 1)
			empty, _ := seedGroup(t, env, "Empty", 0)
			future := utils.ToPtr(utils.UTCNow().Add(time.Hour))

			cases := []struct {
				name string
				req  *dto.CreateCampaignRequest
				want error
			}{
				{"missing name", &dto.CreateCampaignRequest{GroupID: group.ID, TemplateName: "t", ScheduledAt: future}, businessflow.ErrCampaignNameRequired},
				{"missing group", &dto.CreateCampaignRequest{Name: "n", TemplateName: "t", ScheduledAt: future}, businessflow.ErrCampaignGroupRequired},
				{"missing template", &dto.CreateCampaignRequest{Name: "n", GroupID: group.ID, ScheduledAt: future}, businessflow.ErrCampaignTemplateRequired},
				{"missing schedule", &dto.CreateCampaignRequest{Name: "n", GroupID: group.ID, TemplateName: "t"}, businessflow.ErrScheduleTimeNotPresent},
				{"past schedule", &dto.CreateCampaignRequest{Name: "n", GroupID: group.ID, TemplateName: "t", ScheduledAt: utils.ToPtr(utils.UTCNow().Add(-time.Minute))}, businessflow.ErrScheduleTimeInPast},
				{"unknown group", &dto.CreateCampaignRequest{Name: "n", GroupID: 9999, TemplateName: "t", ScheduledAt: future}, businessflow.ErrGroupNotFound},
				{"group without contacts", &dto.CreateCampaignRequest{Name: "n", GroupID: empty.ID, TemplateName: "t", ScheduledAt: future}, businessflow.ErrCampaignNoRecipients},
			}
			for _, tc := range cases {
				t.Run(tc.name, func(t *testing.T) {
					_, err := env.campaign.CreateCampaign(ctx, tc.req, nil)
					assert.ErrorIs(t, err, tc.want)
				})
			}

			count, err := env.campaigns.Count(ctx, models.CampaignFilter{})
			require.NoError(t, err)
			assert.Zero(t, count)
		})
	})
}

func TestCampaignFlow_RetryCampaign(t *testing.T) {
	ctx := testingutil.CreateTestContext()

	t.Run("requeues failed messages below the retry cap", func(t *testing.T) {
		withFlowEnv(t, func(env *flowEnv) {
			group, contacts := seedGroup(t, env, "Retry", 3)
			campaign, msgs, err := env.fixtures.CreateCampaign(group.ID, models.CampaignStatusCompleted, utils.UTCNow().Add(-time.Hour), contacts)
			require.NoError(t, err)
			require.NoError(t, env.fixtures.SetMessageState(ctx, msgs[0].ID, models.MessageStatusFailed, 0))
			require.NoError(t, env.fixtures.SetMessageState(ctx, msgs[1].ID, models.MessageStatusFailed, utils.MaxMessageRetries))
			require.NoError(t, env.fixtures.SetMessageState(ctx, msgs[2].ID, models.MessageStatusDelivered, 0))
			require.NoError(t, env.db.DB.Model(&models.Campaign{}).Where("id = ?", campaign.ID).
				Updates(map[string]any{"messages_failed": 2, "messages_sent": 1}).Error)

			before := utils.UTCNow()
			resp, err := env.campaign.RetryCampaign(ctx, &dto.CampaignActionRequest{CampaignID: campaign.ID, OperatorID: 1}, nil)
			require.NoError(t, err)
			assert.Equal(t, int64(1), resp.RetriedMessages)
			assert.WithinDuration(t, before.Add(utils.CampaignRetryDelay), resp.ScheduledAt, 5*time.Second)

			reloaded, err := env.fixtures.ReloadCampaign(campaign.ID)
			require.NoError(t, err)
			assert.Equal(t, models.CampaignStatusScheduled, reloaded.Status)
			assert.Zero(t, reloaded.MessagesFailed)
			assert.Equal(t, 1, reloaded.MessagesSent)
			assert.Nil(t, reloaded.CompletedAt)

			requeued, err := env.fixtures.ReloadMessage(msgs[0].ID)
			require.NoError(t, err)
			assert.Equal(t, models.MessageStatusPending, requeued.Status)
			assert.Equal(t, 1, requeued.RetryCount)

			capped, err := env.fixtures.ReloadMessage(msgs[1].ID)
			require.NoError(t, err)
			assert.Equal(t, models.MessageStatusFailed, capped.Status)

			logs, err := env.audits.ListByAction(ctx, models.AuditActionCampaignRetried, 10, 0)
			require.NoError(t, err)
			require.Len(t, logs, 1)
			require.NotNil(t, logs[0].Success)
			assert.True(t, *logs[0].Success)
		})
	})

	t.Run("nothing eligible leaves the campaign alone", func(t *testing.T) {
		withFlowEnv(t, func(env *flowEnv) {
			group, contacts := seedGroup(t, env, "Capped", 1)
			campaign, msgs, err := env.fixtures.CreateCampaign(group.ID, models.CampaignStatusFailed, utils.UTCNow().Add(-time.Hour), contacts)
			require.NoError(t, err)
			require.NoError(t, env.fixtures.SetMessageState(ctx, msgs[0].ID, models.MessageStatusFailed, utils.MaxMessageRetries))

			_, err = env.campaign.RetryCampaign(ctx, &dto.CampaignActionRequest{CampaignID: campaign.ID}, nil)
			require.Error(t, err)
			assert.ErrorIs(t, err, businessflow.ErrNoEligibleMessages)
			assert.Equal(t, businessflow.CodeNoEligibleMessages, businessflow.ErrorCode(err))

			reloaded, err := env.fixtures.ReloadCampaign(campaign.ID)
			require.NoError(t, err)
			assert.Equal(t, models.CampaignStatusFailed, reloaded.Status)
		})
	})

	t.Run("status preconditions", func(t *testing.T) {
		withFlowEnv(t, func(env *flowEnv) {
			group, contacts := seedGroup(t, env, "States", 1)
			cases := []struct {
				status models.CampaignStatus
				want   error
			}{
				{models.CampaignStatusScheduled, businessflow.ErrCampaignAlreadyScheduled},
				{models.CampaignStatusProcessing, businessflow.ErrCampaignAlreadyProcessing},
				{models.CampaignStatusCancelled, businessflow.ErrCampaignRetryNotAllowed},
			}
			for _, tc := range cases {
				t.Run(string(tc.status), func(t *testing.T) {
					campaign, _, err := env.fixtures.CreateCampaign(group.ID, tc.status, utils.UTCNow().Add(time.Hour), contacts)
					require.NoError(t, err)

					_, err = env.campaign.RetryCampaign(ctx, &dto.CampaignActionRequest{CampaignID: campaign.ID}, nil)
					assert.ErrorIs(t, err, tc.want)
					assert.Equal(t, businessflow.CodeCampaignRetryNotAllowed, businessflow.ErrorCode(err))
					assert.True(t, businessflow.IsPreconditionError(err))
				})
			}

			_, err := env.campaign.RetryCampaign(ctx, &dto.CampaignActionRequest{CampaignID: 4242}, nil)
			assert.True(t, businessflow.IsCampaignNotFound(err))
		})
	})
}

func TestCampaignFlow_Lifecycle(t *testing.T) {
	ctx := testingutil.CreateTestContext()

	t.Run("reschedule only while scheduled", func(t *testing.T) {
		withFlowEnv(t, func(env *flowEnv) {
			group, contacts := seedGroup(t, env, "Reschedule", 1)
			scheduled, _, err := env.fixtures.CreateCampaign(group.ID, models.CampaignStatusScheduled, utils.UTCNow().Add(time.Hour), contacts)
			require.NoError(t, err)
			completed, _, err := env.fixtures.CreateCampaign(group.ID, models.CampaignStatusCompleted, utils.UTCNow().Add(-time.Hour), contacts)
			require.NoError(t, err)

			later := utils.UTCNow().Add(48 * time.Hour).Truncate(time.Second)
			resp, err := env.campaign.RescheduleCampaign(ctx, &dto.RescheduleCampaignRequest{CampaignID: scheduled.ID, ScheduledAt: &later}, nil)
			require.NoError(t, err)
			assert.True(t, later.Equal(resp.Campaign.ScheduledAt))

			_, err = env.campaign.RescheduleCampaign(ctx, &dto.RescheduleCampaignRequest{CampaignID: completed.ID, ScheduledAt: &later}, nil)
			assert.ErrorIs(t, err, businessflow.ErrCampaignNotEditable)

			past := utils.UTCNow().Add(-time.Hour)
			_, err = env.campaign.RescheduleCampaign(ctx, &dto.RescheduleCampaignRequest{CampaignID: scheduled.ID, ScheduledAt: &past}, nil)
			assert.ErrorIs(t, err, businessflow.ErrScheduleTimeInPast)
		})
	})

	t.Run("cancel stops scheduled and processing campaigns", func(t *testing.T) {
		withFlowEnv(t, func(env *flowEnv) {
			group, contacts := seedGroup(t, env, "Cancel", 1)
			processing, _, err := env.fixtures.CreateCampaign(group.ID, models.CampaignStatusProcessing, utils.UTCNow(), contacts)
			require.NoError(t, err)

			resp, err := env.campaign.CancelCampaign(ctx, &dto.CampaignActionRequest{CampaignID: processing.ID}, nil)
			require.NoError(t, err)
			assert.Equal(t, string(models.CampaignStatusCancelled), resp.Campaign.Status)
			assert.NotNil(t, resp.Campaign.CompletedAt)

			_, err = env.campaign.CancelCampaign(ctx, &dto.CampaignActionRequest{CampaignID: processing.ID}, nil)
			assert.ErrorIs(t, err, businessflow.ErrCampaignNotCancellable)
		})
	})

	t.Run("delete removes the campaign and its messages", func(t *testing.T) {
		withFlowEnv(t, func(env *flowEnv) {
			group, contacts := seedGroup(t, env, "Delete", 2)
			done, _, err := env.fixtures.CreateCampaign(group.ID, models.CampaignStatusCompleted, utils.UTCNow().Add(-time.Hour), contacts)
			require.NoError(t, err)
			running, _, err := env.fixtures.CreateCampaign(group.ID, models.CampaignStatusProcessing, utils.UTCNow(), contacts)
			require.NoError(t, err)

			_, err = env.campaign.DeleteCampaign(ctx, &dto.CampaignActionRequest{CampaignID: done.ID}, nil)
			require.NoError(t, err)

			gone, err := env.campaigns.ByID(ctx, done.ID)
			require.NoError(t, err)
			assert.Nil(t, gone)
			count, err := env.messages.Count(ctx, models.CampaignMessageFilter{CampaignID: &done.ID})
			require.NoError(t, err)
			assert.Zero(t, count)

			_, err = env.campaign.DeleteCampaign(ctx, &dto.CampaignActionRequest{CampaignID: running.ID}, nil)
			assert.ErrorIs(t, err, businessflow.ErrCampaignNotDeletable)
			still, err := env.fixtures.ReloadCampaign(running.ID)
			require.NoError(t, err)
			assert.Equal(t, models.CampaignStatusProcessing, still.Status)
		})
	})

	t.Run("get and list", func(t *testing.T) {
		withFlowEnv(t, func(env *flowEnv) {
			group, contacts := seedGroup(t, env, "Stats", 3)
			campaign, msgs, err := env.fixtures.CreateCampaign(group.ID, models.CampaignStatusCompleted, utils.UTCNow().Add(-time.Hour), contacts)
			require.NoError(t, err)
			require.NoError(t, env.fixtures.SetMessageState(ctx, msgs[0].ID, models.MessageStatusRead, 0))
			require.NoError(t, env.fixtures.SetMessageState(ctx, msgs[1].ID, models.MessageStatusFailed, 1))

			got, err := env.campaign.GetCampaign(ctx, campaign.ID)
			require.NoError(t, err)
			assert.Equal(t, campaign.UUID.String(), got.Campaign.UUID)
			assert.Equal(t, int64(1), got.Stats.Read)
			assert.Equal(t, int64(1), got.Stats.Failed)
			assert.Equal(t, int64(1), got.Stats.Pending)
			assert.Equal(t, int64(1), got.Stats.Retryable)

			_, err = env.campaign.GetCampaign(ctx, 999)
			assert.ErrorIs(t, err, businessflow.ErrCampaignNotFound)

			list, err := env.campaign.ListCampaigns(ctx, &dto.ListCampaignsRequest{Page: 1, Limit: 10, Status: utils.ToPtr("completed")})
			require.NoError(t, err)
			require.Len(t, list.Items, 1)
			assert.Equal(t, campaign.ID, list.Items[0].ID)

			_, err = env.campaign.ListCampaigns(ctx, &dto.ListCampaignsRequest{Page: 1, Limit: 10, Status: utils.ToPtr("exploded")})
			assert.ErrorIs(t, err, businessflow.ErrInvalidStatus)

			failed, err := env.campaign.ListCampaignMessages(ctx, &dto.ListCampaignMessagesRequest{
				CampaignID: campaign.ID, Page: 1, Limit: 10, Status: utils.ToPtr("failed"),
			})
			require.NoError(t, err)
			require.Len(t, failed.Items, 1)
			assert.Equal(t, msgs[1].ID, failed.Items[0].ID)
			assert.Equal(t, 1, failed.Items[0].RetryCount)
		})
	})
}
