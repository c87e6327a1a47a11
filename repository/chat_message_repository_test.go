package repository_test

import (
	"errors"
	"testing"

	"github.com/amirphl/event-rsvp-engine/models"
	"github.com/amirphl/event-rsvp-engine/repository"
	testingutil "github.com/amirphl/event-rsvp-engine/testing"
	"github.com/amirphl/event-rsvp-engine/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestChatMessageRepository(t *testing.T) {
	err := testingutil.TestWithDB(func(testDB *testingutil.TestDB) error {
		fixtures := testingutil.NewTestFixtures(testDB)
		repo := repository.NewChatMessageRepository(testDB.DB)
		ctx := testingutil.CreateTestContext()

		group, err := fixtures.CreateGroup("Cousins")
		require.NoError(t, err)
		contact, err := fixtures.CreateContact(group.ID, "Naina", "")
		require.NoError(t, err)

		t.Run("a provider message is stored once per contact and sender", func(t *testing.T) {
			inbound := func() *models.ChatMessage {
				return &models.ChatMessage{
					ContactID:         contact.ID,
					SenderType:        models.SenderUser,
					Body:              "yes",
					ProviderMessageID: utils.ToPtr("wamid.dup"),
				}
			}
			require.NoError(t, repo.Save(ctx, inbound()))

			err := repo.Save(ctx, inbound())
			require.Error(t, err)
			assert.True(t, errors.Is(err, gorm.ErrDuplicatedKey))

			// the same id may appear once more under another sender
			require.NoError(t, repo.Save(ctx, &models.ChatMessage{
				ContactID:         contact.ID,
				SenderType:        models.SenderAssistant,
				Body:              "noted",
				ProviderMessageID: utils.ToPtr("wamid.dup"),
			}))
		})

		t.Run("messages without a provider id never collide", func(t *testing.T) {
			for i := 0; i < 2; i++ {
				require.NoError(t, repo.Save(ctx, &models.ChatMessage{
					ContactID:  contact.ID,
					SenderType: models.SenderAdmin,
					Body:       "manual note",
				}))
			}
			count, err := repo.Count(ctx, models.ChatMessageFilter{
				ContactID:  &contact.ID,
				SenderType: utils.ToPtr(models.SenderAdmin),
			})
			require.NoError(t, err)
			assert.Equal(t, int64(2), count)
		})
		return nil
	})
	require.NoError(t, err)
}
