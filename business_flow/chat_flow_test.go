package businessflow_test

import (
	"testing"
	"time"

	"github.com/amirphl/event-rsvp-engine/app/dto"
	"github.com/amirphl/event-rsvp-engine/app/services"
	businessflow "github.com/amirphl/event-rsvp-engine/business_flow"
	"github.com/amirphl/event-rsvp-engine/models"
	testingutil "github.com/amirphl/event-rsvp-engine/testing"
	"github.com/amirphl/event-rsvp-engine/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChatFlow_SendAdminMessage(t *testing.T) {
	ctx := testingutil.CreateTestContext()

	t.Run("first message takes over and notifies the contact once", func(t *testing.T) {
		withFlowEnv(t, func(env *flowEnv) {
			group, err := env.fixtures.CreateGroup("Takeover")
			require.NoError(t, err)
			contact, err := env.fixtures.CreateContact(group.ID, "Ritu", "")
			require.NoError(t, err)
			_, err = env.fixtures.CreateConversation(contact.ID, models.StateAwaitingNotes, nil)
			require.NoError(t, err)

			resp, err := env.chat.SendAdminMessage(ctx, &dto.SendAdminMessageRequest{
				ContactID:  contact.ID,
				OperatorID: 3,
				Message:    " We have arranged a cab for you. ",
			}, nil)
			require.NoError(t, err)
			assert.Equal(t, string(models.ConversationModeManual), resp.Mode)
			assert.Equal(t, "We have arranged a cab for you.", resp.ChatMessage.Body)
			assert.Equal(t, models.SenderAdmin, resp.ChatMessage.SenderType)
			require.NotNil(t, resp.ChatMessage.SenderID)
			assert.Equal(t, uint(3), *resp.ChatMessage.SenderID)

			_, err = env.chat.SendAdminMessage(ctx, &dto.SendAdminMessageRequest{ContactID: contact.ID, OperatorID: 3, Message: "Pickup at 5."}, nil)
			require.NoError(t, err)

			sent := env.transport.GetSentMessages()
			require.Len(t, sent, 3)
			assert.Equal(t, businessflow.ManualTakeoverNotice, sent[0].Body)
			assert.Equal(t, "We have arranged a cab for you.", sent[1].Body)
			assert.Equal(t, "Pickup at 5.", sent[2].Body)

			conv, err := env.conversations.ByContactID(ctx, contact.ID)
			require.NoError(t, err)
			assert.True(t, conv.IsManual())
			assert.True(t, conv.UserNotified)
			require.NotNil(t, conv.ManualActivatedBy)
			assert.Equal(t, uint(3), *conv.ManualActivatedBy)

			system, err := env.chats.Count(ctx, models.ChatMessageFilter{ContactID: &contact.ID, SenderType: utils.ToPtr(models.SenderSystem)})
			require.NoError(t, err)
			assert.Equal(t, int64(1), system)

			logs, err := env.audits.ListByAction(ctx, models.AuditActionManualTakeover, 10, 0)
			require.NoError(t, err)
			assert.Len(t, logs, 1)

			// Automated replies stay off while the operator owns the chat
			reply, err := env.conversation.Advance(ctx, contact, businessflow.InboundEvent{Text: "Thank you!"})
			require.NoError(t, err)
			assert.True(t, reply.Suppressed)
			assert.Len(t, env.transport.GetSentMessages(), 3)
		})
	})

	t.Run("outside the 24 hour window", func(t *testing.T) {
		withFlowEnv(t, func(env *flowEnv) {
			group, err := env.fixtures.CreateGroup("Window")
			require.NoError(t, err)
			contact, err := env.fixtures.CreateContact(group.ID, "Sameer", "")
			require.NoError(t, err)
			conv, err := env.fixtures.CreateConversation(contact.ID, models.StateCompleted, nil)
			require.NoError(t, err)
			require.NoError(t, env.db.DB.Model(conv).Update("last_inbound_at", utils.UTCNow().Add(-25*time.Hour)).Error)

			_, err = env.chat.SendAdminMessage(ctx, &dto.SendAdminMessageRequest{ContactID: contact.ID, Message: "Hello"}, nil)
			require.Error(t, err)
			assert.True(t, businessflow.IsMessagingWindowExpired(err))
			assert.Equal(t, businessflow.CodeMessagingWindowExpired, businessflow.ErrorCode(err))
			assert.Empty(t, env.transport.GetSentMessages())

			reloaded, err := env.conversations.ByContactID(ctx, contact.ID)
			require.NoError(t, err)
			assert.False(t, reloaded.IsManual())
		})
	})

	t.Run("contact that never wrote", func(t *testing.T) {
		withFlowEnv(t, func(env *flowEnv) {
			group, err := env.fixtures.CreateGroup("Silent")
			require.NoError(t, err)
			contact, err := env.fixtures.CreateContact(group.ID, "Tanvi", "")
			require.NoError(t, err)

			_, err = env.chat.SendAdminMessage(ctx, &dto.SendAdminMessageRequest{ContactID: contact.ID, Message: "Hello"}, nil)
			assert.ErrorIs(t, err, businessflow.ErrMessagingWindowExpired)
		})
	})

	t.Run("validation and transport failures", func(t *testing.T) {
		withFlowEnv(t, func(env *flowEnv) {
			group, err := env.fixtures.CreateGroup("Errors")
			require.NoError(t, err)
			contact, err := env.fixtures.CreateContact(group.ID, "Uday", "")
			require.NoError(t, err)
			_, err = env.fixtures.CreateConversation(contact.ID, models.StateAwaitingRSVP, nil)
			require.NoError(t, err)

			_, err = env.chat.SendAdminMessage(ctx, &dto.SendAdminMessageRequest{ContactID: contact.ID, Message: "   "}, nil)
			assert.ErrorIs(t, err, businessflow.ErrMessageRequired)

			_, err = env.chat.SendAdminMessage(ctx, &dto.SendAdminMessageRequest{ContactID: 777, Message: "hi"}, nil)
			assert.True(t, businessflow.IsContactNotFound(err))

			env.transport.FailFor[contact.PhoneNumber] = &services.TransportError{Code: "131047", Message: "re-engagement message"}
			_, err = env.chat.SendAdminMessage(ctx, &dto.SendAdminMessageRequest{ContactID: contact.ID, Message: "hi"}, nil)
			require.Error(t, err)
			assert.Equal(t, "131047", businessflow.ErrorCode(err))

			conv, err := env.conversations.ByContactID(ctx, contact.ID)
			require.NoError(t, err)
			assert.False(t, conv.UserNotified)
		})
	})
}

func TestChatFlow_ResumeAutomation(t *testing.T) {
	ctx := testingutil.CreateTestContext()

	withFlowEnv(t, func(env *flowEnv) {
		group, err := env.fixtures.CreateGroup("Resume")
		require.NoError(t, err)
		contact, err := env.fixtures.CreateContact(group.ID, "Vikram", "")
		require.NoError(t, err)
		_, err = env.fixtures.CreateConversation(contact.ID, models.StateAwaitingGuestCount, nil)
		require.NoError(t, err)

		_, err = env.chat.ResumeAutomation(ctx, &dto.ResumeAutomationRequest{ContactID: contact.ID}, nil)
		assert.ErrorIs(t, err, businessflow.ErrAlreadyAutomated)

		_, err = env.chat.SendAdminMessage(ctx, &dto.SendAdminMessageRequest{ContactID: contact.ID, OperatorID: 9, Message: "Checking in"}, nil)
		require.NoError(t, err)
		sentBefore := len(env.transport.GetSentMessages())

		resp, err := env.chat.ResumeAutomation(ctx, &dto.ResumeAutomationRequest{ContactID: contact.ID, OperatorID: 9}, nil)
		require.NoError(t, err)
		assert.Equal(t, string(models.ConversationModeAuto), resp.Mode)
		assert.Len(t, env.transport.GetSentMessages(), sentBefore)

		conv, err := env.conversations.ByContactID(ctx, contact.ID)
		require.NoError(t, err)
		assert.False(t, conv.IsManual())
		assert.False(t, conv.UserNotified)
		assert.Nil(t, conv.ManualActivatedBy)
		assert.Nil(t, conv.ManualActivatedAt)
		assert.Equal(t, models.StateAwaitingGuestCount, conv.State)

		page, err := env.chat.ListChatMessages(ctx, &dto.ListChatMessagesRequest{ContactID: contact.ID, Page: 1, Limit: 10})
		require.NoError(t, err)
		require.NotEmpty(t, page.Items)
		last := page.Items[len(page.Items)-1]
		assert.Equal(t, businessflow.AutomationResumed, last.Body)
		assert.Equal(t, models.SenderSystem, last.SenderType)

		// The bot answers again
		env.oracle.Decisions = []*services.Decision{{Reply: "Noted, 2 guests.", NextState: string(models.StateAwaitingNotes)}}
		reply, err := env.conversation.Advance(ctx, contact, businessflow.InboundEvent{Text: "2"})
		require.NoError(t, err)
		assert.False(t, reply.Suppressed)
		assert.Equal(t, models.StateAwaitingNotes, reply.State)
	})
}

func TestChatFlow_Views(t *testing.T) {
	ctx := testingutil.CreateTestContext()

	withFlowEnv(t, func(env *flowEnv) {
		group, err := env.fixtures.CreateGroup("Views")
		require.NoError(t, err)
		first, err := env.fixtures.CreateContact(group.ID, "Waqar", "")
		require.NoError(t, err)
		second, err := env.fixtures.CreateContact(group.ID, "Yamini", "")
		require.NoError(t, err)
		_, err = env.fixtures.CreateConversation(first.ID, models.StateAwaitingRSVP, nil)
		require.NoError(t, err)
		_, err = env.fixtures.CreateConversation(second.ID, models.StateAwaitingDocRole, &models.DocumentScratch{Name: "Zoya"})
		require.NoError(t, err)
		_, err = env.itineraries.UpsertLeg(ctx, second.ID, "Zoya", models.TravelLeg{
			Direction: models.TravelDirectionArrival,
			Date:      "2025-12-18",
		}, models.ItinerarySourceManual, nil)
		require.NoError(t, err)

		list, err := env.chat.ListConversations(ctx, &dto.ListConversationsRequest{State: utils.ToPtr(string(models.StateAwaitingDocRole))})
		require.NoError(t, err)
		require.Len(t, list.Items, 1)
		assert.Equal(t, second.ID, list.Items[0].ContactID)

		_, err = env.chat.ListConversations(ctx, &dto.ListConversationsRequest{State: utils.ToPtr("dancing")})
		assert.ErrorIs(t, err, businessflow.ErrInvalidStateName)

		got, err := env.chat.GetConversation(ctx, second.ID)
		require.NoError(t, err)
		assert.Equal(t, "Yamini", got.Conversation.ContactName)
		assert.True(t, got.Conversation.WithinWindow)
		require.NotNil(t, got.Conversation.CurrentDocument)
		assert.Equal(t, "Zoya", got.Conversation.CurrentDocument.Name)
		require.Len(t, got.Conversation.Itineraries, 1)
		assert.Equal(t, "Zoya", got.Conversation.Itineraries[0].PersonName)

		third, err := env.fixtures.CreateContact(group.ID, "Zubin", "")
		require.NoError(t, err)
		_, err = env.chat.GetConversation(ctx, third.ID)
		assert.True(t, businessflow.IsConversationNotFound(err))
	})
}
