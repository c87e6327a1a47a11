package businessflow_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/amirphl/event-rsvp-engine/app/dto"
	"github.com/amirphl/event-rsvp-engine/app/services"
	businessflow "github.com/amirphl/event-rsvp-engine/business_flow"
	"github.com/amirphl/event-rsvp-engine/config"
	"github.com/amirphl/event-rsvp-engine/models"
	testingutil "github.com/amirphl/event-rsvp-engine/testing"
	"github.com/amirphl/event-rsvp-engine/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConversationFlow_Advance(t *testing.T) {
	ctx := testingutil.CreateTestContext()

	t.Run("accepting the invitation records the RSVP and replies by first name", func(t *testing.T) {
		withFlowEnv(t, func(env *flowEnv) {
			group, err := env.fixtures.CreateGroup("Sangeet")
			require.NoError(t, err)
			contact, err := env.fixtures.CreateContact(group.ID, "Asha Mehta", "")
			require.NoError(t, err)

			env.oracle.Decisions = []*services.Decision{{
				Reply:     "Wonderful! How many guests will attend?",
				NextState: string(models.StateAwaitingGuestCount),
				Actions: services.DecisionActions{
					UpdateDB: true,
					Fields:   services.DecisionFields{RSVPStatus: utils.ToPtr("yes")},
				},
			}}

			reply, err := env.conversation.Advance(ctx, contact, businessflow.InboundEvent{
				ProviderMessageID: "wamid.in-1",
				MessageType:       models.ChatMessageText,
				Text:              "Yes, we'll be there",
			})
			require.NoError(t, err)
			assert.Equal(t, "Asha, Wonderful! How many guests will attend?", reply.Text)
			assert.Equal(t, models.StateAwaitingGuestCount, reply.State)
			assert.False(t, reply.Degraded)
			assert.NotEmpty(t, reply.ProviderMessageID)

			require.Len(t, env.oracle.Requests, 1)
			req := env.oracle.Requests[0]
			assert.Equal(t, models.StateAwaitingRSVP, req.State)
			assert.Equal(t, "Yes, we'll be there", req.UserMessage)
			assert.Equal(t, "Asha Mehta", req.ParticipantName)
			assert.False(t, req.MediaReceived)

			conv, err := env.conversations.ByContactID(ctx, contact.ID)
			require.NoError(t, err)
			assert.Equal(t, models.StateAwaitingGuestCount, conv.State)
			require.NotNil(t, conv.RSVPStatus)
			assert.Equal(t, "yes", *conv.RSVPStatus)

			sent := env.transport.GetSentMessages()
			require.Len(t, sent, 1)
			assert.Equal(t, contact.PhoneNumber, sent[0].To)

			count, err := env.chats.Count(ctx, models.ChatMessageFilter{ContactID: &contact.ID})
			require.NoError(t, err)
			assert.Equal(t, int64(2), count)

			logged, err := env.outbound.ByProviderMessageID(ctx, reply.ProviderMessageID)
			require.NoError(t, err)
			require.NotNil(t, logged)
			assert.Equal(t, models.MessageStatusSent, logged.Status)
		})
	})

	t.Run("reply that already names the contact is not prefixed", func(t *testing.T) {
		withFlowEnv(t, func(env *flowEnv) {
			group, err := env.fixtures.CreateGroup("Mehendi")
			require.NoError(t, err)
			contact, err := env.fixtures.CreateContact(group.ID, "Bhavna", "")
			require.NoError(t, err)

			env.oracle.Decisions = []*services.Decision{{
				Reply:     "Thanks Bhavna, noted.",
				NextState: string(models.StateAwaitingGuestCount),
			}}
			reply, err := env.conversation.Advance(ctx, contact, businessflow.InboundEvent{Text: "yes"})
			require.NoError(t, err)
			assert.Equal(t, "Thanks Bhavna, noted.", reply.Text)
		})
	})

	t.Run("manual conversations record the message without replying", func(t *testing.T) {
		withFlowEnv(t, func(env *flowEnv) {
			group, err := env.fixtures.CreateGroup("Haldi")
			require.NoError(t, err)
			contact, err := env.fixtures.CreateContact(group.ID, "Chirag", "")
			require.NoError(t, err)
			_, err = env.fixtures.CreateConversation(contact.ID, models.StateAwaitingNotes, nil)
			require.NoError(t, err)
			ok, err := env.conversations.SwitchMode(ctx, contact.ID, models.ConversationModeAuto, models.ConversationModeManual, nil)
			require.NoError(t, err)
			require.True(t, ok)

			reply, err := env.conversation.Advance(ctx, contact, businessflow.InboundEvent{Text: "Is parking available?"})
			require.NoError(t, err)
			assert.True(t, reply.Suppressed)
			assert.Equal(t, models.StateAwaitingNotes, reply.State)
			assert.Zero(t, env.oracle.Calls())
			assert.Empty(t, env.transport.GetSentMessages())

			count, err := env.chats.Count(ctx, models.ChatMessageFilter{ContactID: &contact.ID, SenderType: utils.ToPtr(models.SenderUser)})
			require.NoError(t, err)
			assert.Equal(t, int64(1), count)
		})
	})

	t.Run("oracle failure degrades to the fallback reply and keeps the state", func(t *testing.T) {
		withFlowEnv(t, func(env *flowEnv) {
			group, err := env.fixtures.CreateGroup("Reception")
			require.NoError(t, err)
			contact, err := env.fixtures.CreateContact(group.ID, "Deepa", "")
			require.NoError(t, err)
			_, err = env.fixtures.CreateConversation(contact.ID, models.StateAwaitingGuestCount, nil)
			require.NoError(t, err)

			env.oracle.Errors = []error{errors.New("upstream timeout")}

			reply, err := env.conversation.Advance(ctx, contact, businessflow.InboundEvent{Text: "3"})
			require.NoError(t, err)
			assert.True(t, reply.Degraded)
			assert.Equal(t, businessflow.FallbackReply, reply.Text)
			assert.Equal(t, models.StateAwaitingGuestCount, reply.State)

			conv, err := env.conversations.ByContactID(ctx, contact.ID)
			require.NoError(t, err)
			assert.Equal(t, models.StateAwaitingGuestCount, conv.State)
			assert.Nil(t, conv.GuestCount)

			sent := env.transport.GetSentMessages()
			require.Len(t, sent, 1)
			assert.Equal(t, businessflow.FallbackReply, sent[0].Body)
		})
	})

	t.Run("unknown proposed state keeps the current one and blank replies are replaced", func(t *testing.T) {
		withFlowEnv(t, func(env *flowEnv) {
			group, err := env.fixtures.CreateGroup("Brunch")
			require.NoError(t, err)
			contact, err := env.fixtures.CreateContact(group.ID, "Esha", "")
			require.NoError(t, err)
			_, err = env.fixtures.CreateConversation(contact.ID, models.StateAwaitingNotes, nil)
			require.NoError(t, err)

			env.oracle.Decisions = []*services.Decision{{Reply: "  ", NextState: "awaiting_dessert_choice"}}

			reply, err := env.conversation.Advance(ctx, contact, businessflow.InboundEvent{Text: "???"})
			require.NoError(t, err)
			assert.Equal(t, models.StateAwaitingNotes, reply.State)
			assert.Equal(t, "Esha, "+businessflow.UnderstandingReply, reply.Text)
		})
	})

	t.Run("scratch name stays pinned while collecting documents", func(t *testing.T) {
		withFlowEnv(t, func(env *flowEnv) {
			group, err := env.fixtures.CreateGroup("Family")
			require.NoError(t, err)
			contact, err := env.fixtures.CreateContact(group.ID, "Farhan", "")
			require.NoError(t, err)
			_, err = env.fixtures.CreateConversation(contact.ID, models.StateAwaitingDocRole, &models.DocumentScratch{Name: "Priya"})
			require.NoError(t, err)

			env.oracle.Decisions = []*services.Decision{{
				Reply:     "Please upload Priya's ID.",
				NextState: string(models.StateAwaitingDocUpload),
				Actions: services.DecisionActions{CacheUpdate: &services.CacheUpdate{
					CurrentDocName: "Rohan",
					CurrentDocRole: "Sister",
				}},
			}}

			_, err = env.conversation.Advance(ctx, contact, businessflow.InboundEvent{Text: "She is my sister"})
			require.NoError(t, err)

			require.NotNil(t, env.oracle.Requests[0].Scratch)
			assert.Equal(t, "Priya", env.oracle.Requests[0].Scratch.Name)

			conv, err := env.conversations.ByContactID(ctx, contact.ID)
			require.NoError(t, err)
			require.NotNil(t, conv.CurrentDocument)
			assert.Equal(t, "Priya", conv.CurrentDocument.Name)
			assert.Equal(t, "Sister", conv.CurrentDocument.Role)
			assert.Equal(t, models.StateAwaitingDocUpload, conv.State)
		})
	})

	t.Run("media in an upload state is saved even when the oracle forgets", func(t *testing.T) {
		withFlowEnv(t, func(env *flowEnv) {
			group, err := env.fixtures.CreateGroup("Guests")
			require.NoError(t, err)
			contact, err := env.fixtures.CreateContact(group.ID, "Gaurav", "")
			require.NoError(t, err)
			_, err = env.fixtures.CreateConversation(contact.ID, models.StateAwaitingIDProof,
				&models.DocumentScratch{Name: "Priya", Role: "Sister"})
			require.NoError(t, err)

			env.oracle.Decisions = []*services.Decision{{
				Reply:     "Got it. Do you have travel documents?",
				NextState: string(models.StateAwaitingTravelDocsChoice),
			}}

			_, err = env.conversation.Advance(ctx, contact, businessflow.InboundEvent{
				ProviderMessageID: "wamid.img",
				MessageType:       models.ChatMessageImage,
				Media: &businessflow.InboundMedia{
					ProviderMediaID: "media-1",
					Data:            pngBytes(t),
					MimeType:        "image/png",
				},
			})
			require.NoError(t, err)
			assert.True(t, env.oracle.Requests[0].MediaReceived)

			uploads, err := env.uploads.ListByContact(ctx, contact.ID)
			require.NoError(t, err)
			require.Len(t, uploads, 1)
			assert.Equal(t, models.DocumentTypeIDProof, uploads[0].DocumentType)
			assert.Equal(t, "Priya", uploads[0].PersonName)
			assert.Equal(t, "Sister", uploads[0].Role)
			assert.Equal(t, "image/png", uploads[0].MimeType)
			require.NotNil(t, uploads[0].ProviderMediaID)
			assert.Equal(t, "media-1", *uploads[0].ProviderMediaID)

			conv, err := env.conversations.ByContactID(ctx, contact.ID)
			require.NoError(t, err)
			assert.True(t, conv.ProofUploaded)
			require.NotNil(t, conv.CurrentDocument)
			assert.Equal(t, "Priya", conv.CurrentDocument.Name)

			// The stored file is served back to operators
			file, err := env.media.DownloadUpload(ctx, uploads[0].ID)
			require.NoError(t, err)
			assert.Equal(t, "image/png", file.ContentType)
			assert.Equal(t, pngBytes(t), file.Content)

			preview, err := env.media.PreviewUpload(ctx, uploads[0].ID)
			require.NoError(t, err)
			assert.Equal(t, "image/jpeg", preview.ContentType)
			assert.Contains(t, preview.FileName, "_preview.jpg")
		})
	})

	t.Run("extracted travel details land on the itinerary leg", func(t *testing.T) {
		withFlowEnv(t, func(env *flowEnv) {
			group, err := env.fixtures.CreateGroup("Outstation")
			require.NoError(t, err)
			contact, err := env.fixtures.CreateContact(group.ID, "Hema", "")
			require.NoError(t, err)
			_, err = env.fixtures.CreateConversation(contact.ID, models.StateAwaitingTravelDocUpload, &models.DocumentScratch{
				Name:          "Priya",
				Type:          "Flight Ticket - Arrival",
				TransportType: "flight",
			})
			require.NoError(t, err)

			env.extractor.Fields = models.ExtractedFields{
				models.ExtractedDate:            "2025-12-18",
				models.ExtractedTime:            "14:30",
				models.ExtractedTransportNumber: "6E 2134",
				models.ExtractedFromLocation:    "BOM",
				models.ExtractedToLocation:      "JAI",
			}
			env.oracle.Decisions = []*services.Decision{{
				Reply:     "Thanks! Do you also have a return ticket?",
				NextState: string(models.StateAwaitingReturnChoice),
				Actions: services.DecisionActions{SaveUpload: &services.SaveUploadAction{
					DocumentType: "Flight Ticket - Arrival",
				}},
			}}

			_, err = env.conversation.Advance(ctx, contact, businessflow.InboundEvent{
				MessageType: models.ChatMessageDocument,
				Media:       &businessflow.InboundMedia{Data: pngBytes(t), MimeType: "image/png", FileName: "ticket.png"},
			})
			require.NoError(t, err)

			require.Len(t, env.extractor.Inputs, 1)
			assert.Equal(t, models.TravelDirectionArrival, env.extractor.Inputs[0].Direction)
			assert.Equal(t, "flight", env.extractor.Inputs[0].TransportType)
			assert.Equal(t, "2025-12-18", env.oracle.Requests[0].ExtractedFields[models.ExtractedDate])

			it, err := env.itineraries.ByContactAndPerson(ctx, contact.ID, "Priya")
			require.NoError(t, err)
			require.NotNil(t, it)
			assert.True(t, it.HasArrival())
			assert.False(t, it.HasReturn())
			require.NotNil(t, it.ArrivalTransportNo)
			assert.Equal(t, "6E 2134", *it.ArrivalTransportNo)
			assert.NotNil(t, it.ArrivalUploadID)
			assert.Equal(t, models.ItinerarySourceDocument, it.Source)
		})
	})

	t.Run("manually typed dates are saved when the sub-flow ends", func(t *testing.T) {
		withFlowEnv(t, func(env *flowEnv) {
			group, err := env.fixtures.CreateGroup("Manual")
			require.NoError(t, err)
			contact, err := env.fixtures.CreateContact(group.ID, "Isha", "")
			require.NoError(t, err)
			_, err = env.fixtures.CreateConversation(contact.ID, models.StateAwaitingReturnManualTime, &models.DocumentScratch{
				Name:        "Ravi",
				ArrivalDate: "2025-12-18",
				ArrivalTime: "10:00",
				ReturnDate:  "2025-12-21",
			})
			require.NoError(t, err)

			env.oracle.Decisions = []*services.Decision{{
				Reply:     "Saved. Anyone else attending?",
				NextState: string(models.StateAwaitingMoreAttendees),
				Actions:   services.DecisionActions{CacheUpdate: &services.CacheUpdate{ReturnTime: "18:00"}},
			}}

			_, err = env.conversation.Advance(ctx, contact, businessflow.InboundEvent{Text: "6 pm"})
			require.NoError(t, err)

			it, err := env.itineraries.ByContactAndPerson(ctx, contact.ID, "Ravi")
			require.NoError(t, err)
			require.NotNil(t, it)
			assert.Equal(t, models.ItinerarySourceManual, it.Source)
			require.NotNil(t, it.ArrivalTime)
			assert.Equal(t, "10:00", *it.ArrivalTime)
			require.NotNil(t, it.ReturnTime)
			assert.Equal(t, "18:00", *it.ReturnTime)

			conv, err := env.conversations.ByContactID(ctx, contact.ID)
			require.NoError(t, err)
			assert.True(t, conv.CurrentDocument.IsEmpty())
			assert.Equal(t, models.StateAwaitingMoreAttendees, conv.State)
		})
	})

	t.Run("quick reply buttons reach the oracle as control tokens", func(t *testing.T) {
		withFlowEnv(t, func(env *flowEnv) {
			group, err := env.fixtures.CreateGroup("Buttons")
			require.NoError(t, err)
			contact, err := env.fixtures.CreateContact(group.ID, "Jatin", "")
			require.NoError(t, err)

			env.oracle.Decisions = []*services.Decision{
				{Reply: "No problem, would you like to change it?", NextState: string(models.StateConfirmRSVPUpdate)},
				{Reply: "Okay.", NextState: string(models.StateAwaitingRSVP)},
			}

			_, err = env.conversation.Advance(ctx, contact, businessflow.InboundEvent{MessageType: models.ChatMessageButton, Text: "wrong_response"})
			require.NoError(t, err)
			assert.Equal(t, businessflow.ControlWrongRSVP, env.oracle.Requests[0].UserMessage)

			_, err = env.conversation.Advance(ctx, contact, businessflow.InboundEvent{Text: "never mind"})
			require.NoError(t, err)
			assert.Len(t, env.oracle.Requests[1].History, 2)
		})
	})

	t.Run("nil contact", func(t *testing.T) {
		withFlowEnv(t, func(env *flowEnv) {
			_, err := env.conversation.Advance(ctx, nil, businessflow.InboundEvent{Text: "hi"})
			assert.ErrorIs(t, err, businessflow.ErrContactNotFound)
		})
	})
}

func TestConversationFlow_AdvanceScenarios(t *testing.T) {
	ctx := testingutil.CreateTestContext()

	t.Run("declining completes the conversation without asking for a guest count", func(t *testing.T) {
		withFlowEnv(t, func(env *flowEnv) {
			group, err := env.fixtures.CreateGroup("Cocktails")
			require.NoError(t, err)
			contact, err := env.fixtures.CreateContact(group.ID, "Kavya Nair", "")
			require.NoError(t, err)

			env.oracle.Decisions = []*services.Decision{{
				Reply:     "Sorry you can't make it, Kavya. Thank you for letting us know!",
				NextState: string(models.StateCompleted),
				Actions: services.DecisionActions{
					UpdateDB: true,
					Fields:   services.DecisionFields{RSVPStatus: utils.ToPtr("no")},
				},
			}}

			reply, err := env.conversation.Advance(ctx, contact, businessflow.InboundEvent{
				ProviderMessageID: "wamid.no-1",
				MessageType:       models.ChatMessageText,
				Text:              "No, sorry",
			})
			require.NoError(t, err)
			assert.Equal(t, models.StateCompleted, reply.State)
			assert.NotContains(t, strings.ToLower(reply.Text), "how many")

			conv, err := env.conversations.ByContactID(ctx, contact.ID)
			require.NoError(t, err)
			assert.Equal(t, models.StateCompleted, conv.State)
			require.NotNil(t, conv.RSVPStatus)
			assert.Equal(t, "no", *conv.RSVPStatus)
			assert.Nil(t, conv.GuestCount)
			assert.True(t, conv.CurrentDocument.IsEmpty())

			sent := env.transport.GetSentMessages()
			require.Len(t, sent, 1)
			assert.Equal(t, reply.Text, sent[0].Body)
		})
	})

	t.Run("a redelivered message is processed once", func(t *testing.T) {
		withFlowEnv(t, func(env *flowEnv) {
			group, err := env.fixtures.CreateGroup("Redelivery")
			require.NoError(t, err)
			contact, err := env.fixtures.CreateContact(group.ID, "Lakshmi", "")
			require.NoError(t, err)

			env.oracle.Decisions = []*services.Decision{{
				Reply:     "Lovely! How many guests?",
				NextState: string(models.StateAwaitingGuestCount),
			}}
			event := businessflow.InboundEvent{ProviderMessageID: "wamid.same", Text: "Yes"}

			_, err = env.conversation.Advance(ctx, contact, event)
			require.NoError(t, err)

			reply, err := env.conversation.Advance(ctx, contact, event)
			assert.Nil(t, reply)
			assert.True(t, businessflow.IsDuplicateInbound(err))

			assert.Equal(t, 1, env.oracle.Calls())
			assert.Len(t, env.transport.GetSentMessages(), 1)
			count, err := env.chats.Count(ctx, models.ChatMessageFilter{ContactID: &contact.ID, SenderType: utils.ToPtr(models.SenderUser)})
			require.NoError(t, err)
			assert.Equal(t, int64(1), count)
		})
	})

	t.Run("a busy contact still gets the fallback reply", func(t *testing.T) {
		withFlowEnv(t, func(env *flowEnv) {
			group, err := env.fixtures.CreateGroup("Busy")
			require.NoError(t, err)
			contact, err := env.fixtures.CreateContact(group.ID, "Manav", "")
			require.NoError(t, err)

			unlock, err := env.locker.Lock(ctx, contact.ID)
			require.NoError(t, err)
			defer unlock()

			flow := env.conversationFlow(&config.ConversationConfig{LockTimeout: 50 * time.Millisecond})
			reply, err := flow.Advance(ctx, contact, businessflow.InboundEvent{Text: "Yes"})
			assert.Nil(t, reply)
			require.Error(t, err)
			assert.ErrorIs(t, err, businessflow.ErrContactBusy)
			assert.True(t, businessflow.IsPreconditionError(err))
			assert.Zero(t, env.oracle.Calls())

			sent := env.transport.GetSentMessages()
			require.Len(t, sent, 1)
			assert.Equal(t, contact.PhoneNumber, sent[0].To)
			assert.Equal(t, businessflow.FallbackReply, sent[0].Body)
		})
	})

	t.Run("event details from the group reach the oracle", func(t *testing.T) {
		withFlowEnv(t, func(env *flowEnv) {
			created, err := env.contact.CreateGroup(ctx, &dto.CreateGroupRequest{
				Name:      "Goa guests",
				EventName: utils.ToPtr("Asha & Vikram's Wedding"),
				EventInfo: utils.ToPtr("Venue: Caravela Beach Resort, Varca, Goa\nDress code: pastels"),
			}, nil)
			require.NoError(t, err)
			assert.Equal(t, "Venue: Caravela Beach Resort, Varca, Goa\nDress code: pastels", *created.Group.EventInfo)

			contact, err := env.fixtures.CreateContact(created.Group.ID, "Neel", "")
			require.NoError(t, err)
			_, err = env.fixtures.CreateConversation(contact.ID, models.StateAwaitingGuestCount, nil)
			require.NoError(t, err)

			env.oracle.Decisions = []*services.Decision{{
				Reply:     "It's at Caravela Beach Resort, Varca. How many guests will come?",
				NextState: string(models.StateAwaitingGuestCount),
			}}

			reply, err := env.conversation.Advance(ctx, contact, businessflow.InboundEvent{Text: "where is the venue?"})
			require.NoError(t, err)
			assert.Equal(t, models.StateAwaitingGuestCount, reply.State)

			require.Len(t, env.oracle.Requests, 1)
			ev := env.oracle.Requests[0].Event
			require.NotNil(t, ev)
			assert.Equal(t, "Asha & Vikram's Wedding", ev.Name)
			assert.Empty(t, ev.Description)
			assert.Contains(t, ev.Info, "Caravela Beach Resort")
		})
	})

	t.Run("groups without event details send none", func(t *testing.T) {
		withFlowEnv(t, func(env *flowEnv) {
			group, err := env.fixtures.CreateGroup("Plain")
			require.NoError(t, err)
			contact, err := env.fixtures.CreateContact(group.ID, "Om", "")
			require.NoError(t, err)

			env.oracle.Decisions = []*services.Decision{{Reply: "Noted.", NextState: string(models.StateAwaitingRSVP)}}
			_, err = env.conversation.Advance(ctx, contact, businessflow.InboundEvent{Text: "hello"})
			require.NoError(t, err)
			require.Len(t, env.oracle.Requests, 1)
			assert.Nil(t, env.oracle.Requests[0].Event)
		})
	})

	t.Run("a companion's name stays pinned from role through travel upload", func(t *testing.T) {
		withFlowEnv(t, func(env *flowEnv) {
			group, err := env.fixtures.CreateGroup("Companions")
			require.NoError(t, err)
			contact, err := env.fixtures.CreateContact(group.ID, "Pooja Iyer", "")
			require.NoError(t, err)
			_, err = env.fixtures.CreateConversation(contact.ID, models.StateAwaitingDocRole, &models.DocumentScratch{Name: "Priya"})
			require.NoError(t, err)

			env.oracle.Decisions = []*services.Decision{
				{
					Reply:     "Please send Priya's ID proof.",
					NextState: string(models.StateAwaitingIDProof),
					Actions: services.DecisionActions{CacheUpdate: &services.CacheUpdate{
						CurrentDocName: "Meera",
						CurrentDocRole: "Spouse",
					}},
				},
				{
					Reply:     "Got it. Please upload Priya's arrival ticket.",
					NextState: string(models.StateAwaitingTravelDocUpload),
					Actions: services.DecisionActions{CacheUpdate: &services.CacheUpdate{
						CurrentDocName: "Someone Else",
						CurrentDocType: "Flight Ticket - Arrival",
						TransportType:  "Flight Ticket",
					}},
				},
				{
					Reply:     "All saved. Is anyone else attending?",
					NextState: string(models.StateAwaitingMoreAttendees),
					Actions: services.DecisionActions{CacheUpdate: &services.CacheUpdate{
						CurrentDocName: "Third Person",
					}},
				},
			}

			_, err = env.conversation.Advance(ctx, contact, businessflow.InboundEvent{Text: "2"})
			require.NoError(t, err)
			conv, err := env.conversations.ByContactID(ctx, contact.ID)
			require.NoError(t, err)
			assert.Equal(t, models.StateAwaitingIDProof, conv.State)
			require.NotNil(t, conv.CurrentDocument)
			assert.Equal(t, "Priya", conv.CurrentDocument.Name)
			assert.Equal(t, "Spouse", conv.CurrentDocument.Role)

			_, err = env.conversation.Advance(ctx, contact, businessflow.InboundEvent{
				MessageType: models.ChatMessageImage,
				Media:       &businessflow.InboundMedia{Data: pngBytes(t), MimeType: "image/png"},
			})
			require.NoError(t, err)
			conv, err = env.conversations.ByContactID(ctx, contact.ID)
			require.NoError(t, err)
			assert.Equal(t, models.StateAwaitingTravelDocUpload, conv.State)
			require.NotNil(t, conv.CurrentDocument)
			assert.Equal(t, "Priya", conv.CurrentDocument.Name)
			assert.Equal(t, "Flight Ticket - Arrival", conv.CurrentDocument.Type)
			assert.True(t, conv.ProofUploaded)

			_, err = env.conversation.Advance(ctx, contact, businessflow.InboundEvent{
				MessageType: models.ChatMessageDocument,
				Media:       &businessflow.InboundMedia{Data: pngBytes(t), MimeType: "image/png", FileName: "ticket.png"},
			})
			require.NoError(t, err)
			conv, err = env.conversations.ByContactID(ctx, contact.ID)
			require.NoError(t, err)
			assert.Equal(t, models.StateAwaitingMoreAttendees, conv.State)
			assert.True(t, conv.CurrentDocument.IsEmpty())

			uploads, err := env.uploads.ListByContact(ctx, contact.ID)
			require.NoError(t, err)
			require.Len(t, uploads, 2)
			docTypes := make([]string, 0, len(uploads))
			for _, u := range uploads {
				assert.Equal(t, "Priya", u.PersonName)
				assert.Equal(t, "Spouse", u.Role)
				docTypes = append(docTypes, u.DocumentType)
			}
			assert.ElementsMatch(t, []string{models.DocumentTypeIDProof, "Flight Ticket - Arrival"}, docTypes)
		})
	})
}
