package businessflow_test

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"
	"time"

	"github.com/amirphl/event-rsvp-engine/app/services"
	businessflow "github.com/amirphl/event-rsvp-engine/business_flow"
	"github.com/amirphl/event-rsvp-engine/config"
	"github.com/amirphl/event-rsvp-engine/repository"
	testingutil "github.com/amirphl/event-rsvp-engine/testing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// flowEnv wires every flow against one test database with mock transport and oracle
type flowEnv struct {
	db        *testingutil.TestDB
	fixtures  *testingutil.TestFixtures
	transport *services.MockWhatsAppClient
	oracle    *services.MockDecisionOracle
	extractor *services.MockExtractionService
	store     *services.DiskMediaStore
	storeRoot string
	locker    *services.LocalContactLocker

	groups        repository.ContactGroupRepository
	contacts      repository.ContactRepository
	conversations repository.ConversationRepository
	uploads       repository.UploadRepository
	itineraries   repository.TravelItineraryRepository
	campaigns     repository.CampaignRepository
	messages      repository.CampaignMessageRepository
	chats         repository.ChatMessageRepository
	outbound      repository.WhatsAppMessageRepository
	audits        repository.AuditLogRepository

	conversation businessflow.ConversationFlow
	webhook      businessflow.WebhookFlow
	campaign     businessflow.CampaignFlow
	chat         businessflow.ChatFlow
	contact      businessflow.ContactFlow
	media        businessflow.MediaFlow
}

func newFlowEnv(t *testing.T, testDB *testingutil.TestDB) *flowEnv {
	t.Helper()
	db := testDB.DB
	log := zerolog.Nop()
	root := t.TempDir()

	env := &flowEnv{
		db:        testDB,
		fixtures:  testingutil.NewTestFixtures(testDB),
		transport: services.NewMockWhatsAppClient(),
		oracle:    services.NewMockDecisionOracle(),
		extractor: services.NewMockExtractionService(nil),
		store: services.NewDiskMediaStore(&config.StorageConfig{
			UploadDir:     root,
			MaxMediaBytes: 1 << 20,
			ThumbnailSize: 64,
		}),
		storeRoot: root,

		groups:        repository.NewContactGroupRepository(db),
		contacts:      repository.NewContactRepository(db),
		conversations: repository.NewConversationRepository(db),
		uploads:       repository.NewUploadRepository(db),
		itineraries:   repository.NewTravelItineraryRepository(db),
		campaigns:     repository.NewCampaignRepository(db),
		messages:      repository.NewCampaignMessageRepository(db),
		chats:         repository.NewChatMessageRepository(db),
		outbound:      repository.NewWhatsAppMessageRepository(db),
		audits:        repository.NewAuditLogRepository(db),
	}
	locker := services.NewLocalContactLocker()
	env.locker = locker

	env.conversation = env.conversationFlow(&config.ConversationConfig{LockTimeout: 5 * time.Second, HistorySize: 10})
	env.webhook = businessflow.NewWebhookFlow(
		env.contacts, env.chats, env.outbound, env.messages,
		env.conversation, env.transport,
		&config.WhatsAppConfig{VerifyToken: "open-sesame", AppSecret: "shh"},
		log,
	)
	env.campaign = businessflow.NewCampaignFlow(env.campaigns, env.messages, env.groups, env.contacts, env.audits, db)
	env.chat = businessflow.NewChatFlow(
		env.contacts, env.conversations, env.chats, env.outbound, env.uploads, env.itineraries,
		env.audits, env.transport, locker, nil, db, log,
	)
	env.contact = businessflow.NewContactFlow(env.groups, env.contacts, env.campaigns, env.itineraries, env.audits, "91", db)
	env.media = businessflow.NewMediaFlow(env.uploads, env.store)
	return env
}

// conversationFlow builds a conversation flow over env's repositories and mocks with cfg
func (env *flowEnv) conversationFlow(cfg *config.ConversationConfig) businessflow.ConversationFlow {
	return businessflow.NewConversationFlow(
		env.conversations, env.groups, env.uploads, env.itineraries, env.chats, env.outbound,
		env.oracle, env.extractor, env.store, env.transport, env.locker, nil,
		cfg, env.db.DB, zerolog.Nop(),
	)
}

// withFlowEnv runs fn against a fresh database
func withFlowEnv(t *testing.T, fn func(env *flowEnv)) {
	t.Helper()
	err := testingutil.TestWithDB(func(testDB *testingutil.TestDB) error {
		fn(newFlowEnv(t, testDB))
		return nil
	})
	require.NoError(t, err)
}

// pngBytes renders a small solid image
func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 200, 120))
	for x := 0; x < 200; x++ {
		for y := 0; y < 120; y++ {
			img.Set(x, y, color.RGBA{R: 200, G: 40, B: 90, A: 255})
		}
	}
	buf := &bytes.Buffer{}
	require.NoError(t, png.Encode(buf, img))
	return buf.Bytes()
}
