package businessflow

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/amirphl/event-rsvp-engine/app/dto"
	"github.com/amirphl/event-rsvp-engine/app/metrics"
	"github.com/amirphl/event-rsvp-engine/app/services"
	"github.com/amirphl/event-rsvp-engine/config"
	"github.com/amirphl/event-rsvp-engine/models"
	"github.com/amirphl/event-rsvp-engine/repository"
	"github.com/amirphl/event-rsvp-engine/utils"
	"github.com/rs/zerolog"
)

// Webhook errors
var (
	ErrVerificationFailed = errors.New("webhook verification failed")
	ErrInvalidSignature   = errors.New("invalid webhook signature")
)

const signaturePrefix = "sha256="

// WebhookFlow processes WhatsApp Cloud API notifications
type WebhookFlow interface {
	VerifySubscription(mode, token, challenge string) (string, error)
	VerifySignature(body []byte, header string) error
	HandleNotification(ctx context.Context, payload *dto.WebhookPayload) (*dto.WebhookResult, error)
}

// WebhookFlowImpl implements WebhookFlow
type WebhookFlowImpl struct {
	contactRepo     repository.ContactRepository
	chatRepo        repository.ChatMessageRepository
	outboundRepo    repository.WhatsAppMessageRepository
	campaignMsgRepo repository.CampaignMessageRepository
	conversation    ConversationFlow
	transport       services.WhatsAppClient
	config          *config.WhatsAppConfig
	log             zerolog.Logger
}

// NewWebhookFlow creates a new webhook flow
func NewWebhookFlow(
	contactRepo repository.ContactRepository,
	chatRepo repository.ChatMessageRepository,
	outboundRepo repository.WhatsAppMessageRepository,
	campaignMsgRepo repository.CampaignMessageRepository,
	conversation ConversationFlow,
	transport services.WhatsAppClient,
	cfg *config.WhatsAppConfig,
	log zerolog.Logger,
) WebhookFlow {
	return &WebhookFlowImpl{
		contactRepo:     contactRepo,
		chatRepo:        chatRepo,
		outboundRepo:    outboundRepo,
		campaignMsgRepo: campaignMsgRepo,
		conversation:    conversation,
		transport:       transport,
		config:          cfg,
		log:             log.With().Str("component", "webhook").Logger(),
	}
}

// VerifySubscription answers the hub.challenge handshake
func (s *WebhookFlowImpl) VerifySubscription(mode, token, challenge string) (string, error) {
	if mode != "subscribe" || s.config.VerifyToken == "" {
		return "", ErrVerificationFailed
	}
	if !hmac.Equal([]byte(token), []byte(s.config.VerifyToken)) {
		return "", ErrVerificationFailed
	}
	return challenge, nil
}

// VerifySignature checks X-Hub-Signature-256 against the app secret. Without a configured
// secret every body is accepted.
func (s *WebhookFlowImpl) VerifySignature(body []byte, header string) error {
	if s.config.AppSecret == "" {
		return nil
	}
	if !strings.HasPrefix(header, signaturePrefix) {
		return ErrInvalidSignature
	}
	got, err := hex.DecodeString(strings.TrimPrefix(header, signaturePrefix))
	if err != nil {
		return ErrInvalidSignature
	}
	mac := hmac.New(sha256.New, []byte(s.config.AppSecret))
	mac.Write(body)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return ErrInvalidSignature
	}
	return nil
}

// HandleNotification applies delivery statuses and advances conversations for inbound messages.
// Per-event failures are counted, not returned.
func (s *WebhookFlowImpl) HandleNotification(ctx context.Context, payload *dto.WebhookPayload) (*dto.WebhookResult, error) {
	result := &dto.WebhookResult{}
	if payload == nil {
		return result, nil
	}

	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			for _, st := range change.Value.Statuses {
				if err := s.applyStatus(ctx, st); err != nil {
					s.log.Error().Err(err).Str("provider_message_id", st.ID).Msg("failed to apply status")
					metrics.WebhookEventsTotal.WithLabelValues("status", "error").Inc()
					result.Failed++
					continue
				}
				result.Statuses++
			}

			for _, msg := range change.Value.Messages {
				handled, err := s.handleMessage(ctx, msg)
				switch {
				case err != nil:
					s.log.Error().Err(err).Str("provider_message_id", msg.ID).Msg("failed to handle inbound message")
					metrics.WebhookEventsTotal.WithLabelValues("message", "error").Inc()
					result.Failed++
				case !handled:
					metrics.WebhookEventsTotal.WithLabelValues("message", "dropped").Inc()
					result.Dropped++
				default:
					metrics.WebhookEventsTotal.WithLabelValues("message", "ok").Inc()
					result.Messages++
				}
			}
		}
	}
	return result, nil
}

// applyStatus moves both the outbound log row and any campaign message forward. Replayed or
// out-of-order callbacks change nothing.
func (s *WebhookFlowImpl) applyStatus(ctx context.Context, st dto.WebhookStatus) error {
	status := models.MessageStatus(strings.ToLower(st.Status))
	if st.ID == "" || !status.Valid() || status == models.MessageStatusPending {
		metrics.WebhookEventsTotal.WithLabelValues("status", "ignored").Inc()
		return nil
	}

	update := models.StatusUpdate{
		ProviderMessageID: st.ID,
		Status:            status,
		Timestamp:         parseUnix(st.Timestamp),
		RecipientID:       st.RecipientID,
	}
	if len(st.Errors) > 0 {
		update.ErrorCode = utils.ToPtr(strconv.Itoa(st.Errors[0].Code))
	}

	logged, err := s.outboundRepo.ApplyStatus(ctx, update)
	if err != nil {
		return err
	}
	campaign, err := s.campaignMsgRepo.ApplyStatus(ctx, update)
	if err != nil {
		return err
	}

	result := "noop"
	if logged || campaign {
		result = "applied"
	}
	metrics.WebhookEventsTotal.WithLabelValues("status", result).Inc()
	return nil
}

// handleMessage reports false when the message was dropped
func (s *WebhookFlowImpl) handleMessage(ctx context.Context, msg dto.WebhookMessage) (bool, error) {
	contact, err := s.contactRepo.ByPhone(ctx, msg.From)
	if err != nil {
		return false, err
	}
	if contact == nil {
		s.log.Info().Str("from", msg.From).Msg("dropping message from unknown sender")
		return false, nil
	}

	if msg.ID != "" {
		seen, err := s.chatRepo.Exists(ctx, models.ChatMessageFilter{
			ContactID:         &contact.ID,
			SenderType:        utils.ToPtr(models.SenderUser),
			ProviderMessageID: &msg.ID,
		})
		if err != nil {
			return false, err
		}
		if seen {
			s.log.Debug().Str("provider_message_id", msg.ID).Msg("duplicate delivery, skipping")
			return false, nil
		}
	}

	event, ok := s.toEvent(ctx, msg)
	if !ok {
		s.log.Info().Str("type", msg.Type).Str("provider_message_id", msg.ID).Msg("unsupported message type")
		return false, nil
	}

	reply, err := s.conversation.Advance(ctx, contact, event)
	if IsDuplicateInbound(err) {
		s.log.Debug().Str("provider_message_id", msg.ID).Msg("duplicate delivery raced in, skipping")
		return false, nil
	}
	if err != nil {
		return false, err
	}
	s.log.Debug().
		Uint("contact_id", contact.ID).
		Str("state", reply.State.String()).
		Bool("suppressed", reply.Suppressed).
		Bool("degraded", reply.Degraded).
		Msg("conversation advanced")
	return true, nil
}

// toEvent normalizes a webhook message; media that cannot be downloaded degrades to its caption
func (s *WebhookFlowImpl) toEvent(ctx context.Context, msg dto.WebhookMessage) (InboundEvent, bool) {
	event := InboundEvent{
		ProviderMessageID: msg.ID,
		ReceivedAt:        parseUnix(msg.Timestamp),
	}

	var media *dto.WebhookMedia
	switch msg.Type {
	case "text":
		if msg.Text == nil {
			return event, false
		}
		event.MessageType = models.ChatMessageText
		event.Text = msg.Text.Body
	case "button":
		if msg.Button == nil {
			return event, false
		}
		event.MessageType = models.ChatMessageButton
		event.Text = firstNonEmpty(msg.Button.Payload, msg.Button.Text)
	case "interactive":
		if msg.Interactive == nil {
			return event, false
		}
		switch {
		case msg.Interactive.ButtonReply != nil:
			event.MessageType = models.ChatMessageButton
			event.Text = firstNonEmpty(msg.Interactive.ButtonReply.ID, msg.Interactive.ButtonReply.Title)
		case msg.Interactive.ListReply != nil:
			event.MessageType = models.ChatMessageText
			event.Text = msg.Interactive.ListReply.Title
		default:
			return event, false
		}
	case "image":
		event.MessageType, media = models.ChatMessageImage, msg.Image
	case "document":
		event.MessageType, media = models.ChatMessageDocument, msg.Document
	case "video":
		event.MessageType, media = models.ChatMessageVideo, msg.Video
	default:
		return event, false
	}

	if media != nil {
		event.Text = media.Caption
		event.Media = s.download(ctx, media)
	}
	return event, true
}

func (s *WebhookFlowImpl) download(ctx context.Context, media *dto.WebhookMedia) *InboundMedia {
	url, err := s.transport.FetchMediaURL(ctx, media.ID)
	if err != nil {
		s.log.Warn().Err(err).Str("media_id", media.ID).Msg("failed to resolve media url")
		return nil
	}
	data, mimeType, err := s.transport.DownloadMedia(ctx, url)
	if err != nil {
		s.log.Warn().Err(err).Str("media_id", media.ID).Msg("failed to download media")
		return nil
	}
	if media.MimeType != "" {
		mimeType = media.MimeType
	}
	return &InboundMedia{
		ProviderMediaID: media.ID,
		Data:            data,
		MimeType:        mimeType,
		FileName:        media.Filename,
		Caption:         media.Caption,
	}
}

func parseUnix(ts string) time.Time {
	sec, err := strconv.ParseInt(strings.TrimSpace(ts), 10, 64)
	if err != nil || sec <= 0 {
		return utils.UTCNow()
	}
	return time.Unix(sec, 0).UTC()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
