// Package scheduler dispatches due campaigns
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/amirphl/event-rsvp-engine/app/metrics"
	"github.com/amirphl/event-rsvp-engine/app/services"
	"github.com/amirphl/event-rsvp-engine/config"
	"github.com/amirphl/event-rsvp-engine/models"
	"github.com/amirphl/event-rsvp-engine/repository"
	"github.com/amirphl/event-rsvp-engine/utils"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// errCampaignStopped is returned when a campaign left processing while it was being sent
var errCampaignStopped = errors.New("campaign is no longer processing")

// CampaignScheduler periodically claims due campaigns and sends their pending messages
type CampaignScheduler struct {
	campaignRepo     repository.CampaignRepository
	messageRepo      repository.CampaignMessageRepository
	conversationRepo repository.ConversationRepository
	chatRepo         repository.ChatMessageRepository
	outboundRepo     repository.WhatsAppMessageRepository
	transport        services.WhatsAppClient
	db               *gorm.DB
	cfg              config.SchedulerConfig
	log              zerolog.Logger

	running atomic.Bool
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
}

func NewCampaignScheduler(
	campaignRepo repository.CampaignRepository,
	messageRepo repository.CampaignMessageRepository,
	conversationRepo repository.ConversationRepository,
	chatRepo repository.ChatMessageRepository,
	outboundRepo repository.WhatsAppMessageRepository,
	transport services.WhatsAppClient,
	db *gorm.DB,
	cfg config.SchedulerConfig,
	log zerolog.Logger,
) *CampaignScheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 20
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 30 * time.Second
	}

	return &CampaignScheduler{
		campaignRepo:     campaignRepo,
		messageRepo:      messageRepo,
		conversationRepo: conversationRepo,
		chatRepo:         chatRepo,
		outboundRepo:     outboundRepo,
		transport:        transport,
		db:               db,
		cfg:              cfg,
		log:              log.With().Str("component", "scheduler").Logger(),
		now:              utils.UTCNow,
		sleep:            sleepCtx,
	}
}

// Start launches the scheduler loop in a background goroutine and returns a stop function
func (s *CampaignScheduler) Start(parent context.Context) func() {
	ctx, cancel := context.WithCancel(parent)

	go func() {
		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()

		s.tick(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				go s.tick(ctx)
			}
		}
	}()

	return cancel
}

// tick runs one pass and, when it overran the interval, one more so newly due campaigns are not
// left waiting for the next tick
func (s *CampaignScheduler) tick(ctx context.Context) {
	started := time.Now()
	if !s.RunOnce(ctx) {
		return
	}
	if time.Since(started) > s.cfg.Interval && ctx.Err() == nil {
		s.RunOnce(ctx)
	}
}

// RunOnce processes every due campaign, oldest first. It reports false without doing anything
// when another pass is still running.
func (s *CampaignScheduler) RunOnce(ctx context.Context) bool {
	if !s.running.CompareAndSwap(false, true) {
		metrics.SchedulerTicksSkippedTotal.Inc()
		s.log.Debug().Msg("previous tick still running, skipping")
		return false
	}
	defer s.running.Store(false)

	started := time.Now()
	defer func() { metrics.SchedulerTickDuration.Observe(time.Since(started).Seconds()) }()

	visited := make(map[uint]struct{})
	for ctx.Err() == nil {
		due, err := s.campaignRepo.ListDue(ctx, s.now(), s.cfg.BatchSize)
		if err != nil {
			s.log.Error().Err(err).Msg("failed to list due campaigns")
			return true
		}

		progressed := false
		for _, c := range due {
			if _, seen := visited[c.ID]; seen {
				continue
			}
			visited[c.ID] = struct{}{}
			progressed = true
			s.processCampaign(ctx, c)
		}
		if !progressed || len(due) < s.cfg.BatchSize {
			return true
		}
	}
	return true
}

// processCampaign claims c and sends its pending messages. A campaign it claimed never stays
// in processing: the run ends completed, or failed on an unexpected error or panic.
func (s *CampaignScheduler) processCampaign(ctx context.Context, c *models.Campaign) {
	log := s.log.With().Uint("campaign_id", c.ID).Str("campaign", c.Name).Logger()

	claimed, err := s.campaignRepo.TransitionStatus(ctx, c.ID,
		[]models.CampaignStatus{models.CampaignStatusScheduled},
		models.CampaignStatusProcessing,
		map[string]any{"started_at": s.now(), "error_message": nil},
	)
	if err != nil {
		log.Error().Err(err).Msg("failed to claim campaign")
		return
	}
	if !claimed {
		log.Debug().Msg("campaign already claimed")
		return
	}
	log.Info().Msg("campaign claimed")

	var sent, failed int
	defer func() {
		if r := recover(); r != nil {
			s.fail(c.ID, sent, failed, fmt.Errorf("panic: %v", r), log)
		}
	}()

	sent, failed, err = s.sendPending(ctx, c, log)
	switch {
	case errors.Is(err, errCampaignStopped):
		log.Info().Int("sent", sent).Int("failed", failed).Msg("campaign stopped while sending")
	case err != nil:
		s.fail(c.ID, sent, failed, err, log)
	default:
		s.complete(c.ID, sent, failed, log)
	}
}

func (s *CampaignScheduler) sendPending(ctx context.Context, c *models.Campaign, log zerolog.Logger) (sent, failed int, err error) {
	pending, err := s.messageRepo.ListPending(ctx, c.ID)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to load pending messages: %w", err)
	}
	// rows settled by earlier runs of a retried campaign
	baseSent, baseFailed, err := s.rowTotals(ctx, c.ID)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to load message stats: %w", err)
	}

	for i, msg := range pending {
		if i > 0 {
			if err := s.sleep(ctx, s.cfg.Throttle); err != nil {
				return sent, failed, err
			}
			current, err := s.campaignRepo.ByID(ctx, c.ID)
			if err != nil {
				return sent, failed, err
			}
			if current == nil || current.Status != models.CampaignStatusProcessing {
				return sent, failed, errCampaignStopped
			}
		}

		ok, err := s.sendOne(ctx, c, msg)
		if err != nil {
			return sent, failed, err
		}
		if ok {
			sent++
		} else {
			failed++
		}

		if _, err := s.campaignRepo.UpdateIfStatus(ctx, c.ID, models.CampaignStatusProcessing, map[string]any{
			"messages_sent":   baseSent + sent,
			"messages_failed": baseFailed + failed,
		}); err != nil {
			log.Warn().Err(err).Msg("failed to store progress")
		}
	}
	return sent, failed, nil
}

// sendOne sends one template and records the outcome. Transport failures mark the message failed
// and return false; only bookkeeping failures are returned as errors.
func (s *CampaignScheduler) sendOne(ctx context.Context, c *models.Campaign, msg *models.CampaignMessage) (bool, error) {
	tpl := services.TemplateMessage{
		Name:     c.TemplateName,
		Language: c.TemplateLanguage,
		Params:   renderParams(c.TemplateParams, msg.Contact),
	}

	sendCtx, cancel := context.WithTimeout(ctx, s.cfg.SendTimeout)
	providerID, sendErr := s.transport.SendTemplate(sendCtx, msg.PhoneNumber, tpl)
	cancel()

	now := s.now()
	if sendErr != nil {
		code := services.ErrorCode(sendErr)
		if errors.Is(sendErr, context.DeadlineExceeded) {
			code = "SEND_TIMEOUT"
		}
		metrics.CampaignSendsTotal.WithLabelValues("failed").Inc()
		s.log.Warn().Err(sendErr).Uint("campaign_id", c.ID).Uint("message_id", msg.ID).Str("code", code).Msg("template send failed")
		if _, err := s.messageRepo.MarkFailed(ctx, msg.ID, code, sendErr.Error(), now); err != nil {
			return false, fmt.Errorf("failed to mark message %d failed: %w", msg.ID, err)
		}
		return false, nil
	}
	metrics.CampaignSendsTotal.WithLabelValues("sent").Inc()

	body := renderTemplateBody(c, tpl.Params)
	err := repository.WithTransaction(ctx, s.db, func(txCtx context.Context) error {
		if _, err := s.messageRepo.MarkSent(txCtx, msg.ID, providerID, now); err != nil {
			return err
		}
		if err := s.outboundRepo.Save(txCtx, &models.WhatsAppMessage{
			ProviderMessageID: providerID,
			ContactID:         &msg.ContactID,
			CampaignMessageID: &msg.ID,
			ToPhone:           msg.PhoneNumber,
			MessageType:       models.ChatMessageTemplate,
			TemplateName:      &c.TemplateName,
			Body:              &body,
			SentAt:            &now,
		}); err != nil {
			return err
		}
		if _, err := s.conversationRepo.GetOrCreate(txCtx, msg.ContactID); err != nil {
			return err
		}
		if err := s.chatRepo.Save(txCtx, &models.ChatMessage{
			ContactID:         msg.ContactID,
			SenderType:        models.SenderSystem,
			MessageType:       models.ChatMessageTemplate,
			Body:              body,
			ProviderMessageID: &providerID,
			CampaignID:        &c.ID,
			CreatedAt:         now,
		}); err != nil {
			return err
		}
		return s.conversationRepo.TouchLastMessage(txCtx, msg.ContactID, now, body, false)
	})
	if err == nil {
		return true, nil
	}

	// The template is out; the row must not stay pending or a retry would send it again.
	s.log.Warn().Err(err).Uint("campaign_id", c.ID).Uint("message_id", msg.ID).Msg("failed to record send, marking sent without transcript")
	if _, markErr := s.messageRepo.MarkSent(ctx, msg.ID, providerID, now); markErr != nil {
		return false, fmt.Errorf("failed to record send of message %d: %w", msg.ID, errors.Join(err, markErr))
	}
	return true, nil
}

// rowTotals counts settled messages from the rows, so a retried campaign reports totals across runs
func (s *CampaignScheduler) rowTotals(ctx context.Context, id uint) (sent, failed int, err error) {
	stats, err := s.messageRepo.StatsByCampaign(ctx, id)
	if err != nil {
		return 0, 0, err
	}
	return int(stats.Sent + stats.Delivered + stats.Read), int(stats.Failed), nil
}

// finalTotals prefers row counts and falls back to the counts of this run
func (s *CampaignScheduler) finalTotals(ctx context.Context, id uint, sent, failed int, log zerolog.Logger) (int, int) {
	rowSent, rowFailed, err := s.rowTotals(ctx, id)
	if err != nil {
		log.Warn().Err(err).Msg("failed to count messages, keeping run totals")
		return sent, failed
	}
	return rowSent, rowFailed
}

func (s *CampaignScheduler) complete(id uint, sent, failed int, log zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sent, failed = s.finalTotals(ctx, id, sent, failed, log)
	ok, err := s.campaignRepo.TransitionStatus(ctx, id,
		[]models.CampaignStatus{models.CampaignStatusProcessing},
		models.CampaignStatusCompleted,
		map[string]any{"completed_at": s.now(), "messages_sent": sent, "messages_failed": failed},
	)
	if err != nil {
		log.Error().Err(err).Msg("failed to complete campaign")
		return
	}
	if ok {
		metrics.CampaignsFinishedTotal.WithLabelValues(models.CampaignStatusCompleted.String()).Inc()
		log.Info().Int("sent", sent).Int("failed", failed).Msg("campaign completed")
	}
}

// fail runs on a fresh context so a cancelled tick still releases the campaign
func (s *CampaignScheduler) fail(id uint, sent, failed int, cause error, log zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	log.Error().Err(cause).Msg("campaign failed")
	sent, failed = s.finalTotals(ctx, id, sent, failed, log)
	ok, err := s.campaignRepo.TransitionStatus(ctx, id,
		[]models.CampaignStatus{models.CampaignStatusProcessing},
		models.CampaignStatusFailed,
		map[string]any{
			"completed_at":    s.now(),
			"messages_sent":   sent,
			"messages_failed": failed,
			"error_message":   cause.Error(),
		},
	)
	if err != nil {
		log.Error().Err(err).Msg("failed to mark campaign failed")
		return
	}
	if ok {
		metrics.CampaignsFinishedTotal.WithLabelValues(models.CampaignStatusFailed.String()).Inc()
	}
}

// renderParams substitutes {{name}} and {{phone}} in template parameters
func renderParams(params models.TemplateParams, contact *models.Contact) []string {
	out := make([]string, len(params))
	for i, p := range params {
		if contact != nil {
			p = strings.ReplaceAll(p, "{{name}}", contact.FullName)
			p = strings.ReplaceAll(p, "{{phone}}", contact.PhoneNumber)
		}
		out[i] = p
	}
	return out
}

// renderTemplateBody fills positional {{n}} placeholders for the transcript copy of a template
func renderTemplateBody(c *models.Campaign, params []string) string {
	if c.TemplateBody == nil || strings.TrimSpace(*c.TemplateBody) == "" {
		return "Template: " + c.TemplateName
	}
	body := *c.TemplateBody
	for i, p := range params {
		body = strings.ReplaceAll(body, "{{"+strconv.Itoa(i+1)+"}}", p)
	}
	return body
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
