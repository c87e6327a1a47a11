package businessflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/amirphl/event-rsvp-engine/app/dto"
	"github.com/amirphl/event-rsvp-engine/models"
	"github.com/amirphl/event-rsvp-engine/repository"
	"github.com/amirphl/event-rsvp-engine/utils"
	"gorm.io/gorm"
)

const campaignEntity = "campaign"

// CampaignFlow handles the operator-facing campaign lifecycle
type CampaignFlow interface {
	CreateCampaign(ctx context.Context, req *dto.CreateCampaignRequest, metadata *ClientMetadata) (*dto.CreateCampaignResponse, error)
	ListCampaigns(ctx context.Context, req *dto.ListCampaignsRequest) (*dto.ListCampaignsResponse, error)
	GetCampaign(ctx context.Context, campaignID uint) (*dto.GetCampaignResponse, error)
	ListCampaignMessages(ctx context.Context, req *dto.ListCampaignMessagesRequest) (*dto.ListCampaignMessagesResponse, error)
	RescheduleCampaign(ctx context.Context, req *dto.RescheduleCampaignRequest, metadata *ClientMetadata) (*dto.CampaignActionResponse, error)
	CancelCampaign(ctx context.Context, req *dto.CampaignActionRequest, metadata *ClientMetadata) (*dto.CampaignActionResponse, error)
	DeleteCampaign(ctx context.Context, req *dto.CampaignActionRequest, metadata *ClientMetadata) (*dto.DeleteCampaignResponse, error)
	RetryCampaign(ctx context.Context, req *dto.CampaignActionRequest, metadata *ClientMetadata) (*dto.RetryCampaignResponse, error)
}

// CampaignFlowImpl implements the campaign business flow
type CampaignFlowImpl struct {
	campaignRepo repository.CampaignRepository
	messageRepo  repository.CampaignMessageRepository
	groupRepo    repository.ContactGroupRepository
	contactRepo  repository.ContactRepository
	auditRepo    repository.AuditLogRepository
	db           *gorm.DB
	now          func() time.Time
}

// NewCampaignFlow creates a new campaign flow instance
func NewCampaignFlow(
	campaignRepo repository.CampaignRepository,
	messageRepo repository.CampaignMessageRepository,
	groupRepo repository.ContactGroupRepository,
	contactRepo repository.ContactRepository,
	auditRepo repository.AuditLogRepository,
	db *gorm.DB,
) CampaignFlow {
	return &CampaignFlowImpl{
		campaignRepo: campaignRepo,
		messageRepo:  messageRepo,
		groupRepo:    groupRepo,
		contactRepo:  contactRepo,
		auditRepo:    auditRepo,
		db:           db,
		now:          utils.UTCNow,
	}
}

// CreateCampaign schedules a template broadcast and queues one pending message per group contact
func (s *CampaignFlowImpl) CreateCampaign(ctx context.Context, req *dto.CreateCampaignRequest, metadata *ClientMetadata) (*dto.CreateCampaignResponse, error) {
	if err := s.validateCreateCampaignRequest(req); err != nil {
		return nil, NewBusinessError("CAMPAIGN_VALIDATION_FAILED", "Campaign validation failed", err)
	}

	var campaign *models.Campaign
	err := repository.WithTransaction(ctx, s.db, func(txCtx context.Context) error {
		group, err := s.groupRepo.ByID(txCtx, req.GroupID)
		if err != nil {
			return err
		}
		if group == nil {
			return ErrGroupNotFound
		}

		contacts, err := s.contactRepo.ListByGroup(txCtx, group.ID)
		if err != nil {
			return err
		}
		if len(contacts) == 0 {
			return ErrCampaignNoRecipients
		}

		campaign = &models.Campaign{
			Name:             strings.TrimSpace(req.Name),
			Description:      req.Description,
			GroupID:          group.ID,
			TemplateName:     strings.TrimSpace(req.TemplateName),
			TemplateLanguage: strings.TrimSpace(req.TemplateLanguage),
			TemplateBody:     req.TemplateBody,
			TemplateParams:   models.TemplateParams(req.TemplateParams),
			Status:           models.CampaignStatusScheduled,
			ScheduledAt:      req.ScheduledAt.UTC(),
			TotalRecipients:  len(contacts),
		}
		if req.OperatorID != 0 {
			campaign.CreatedBy = utils.ToPtr(req.OperatorID)
		}
		if err := s.campaignRepo.Save(txCtx, campaign); err != nil {
			return err
		}
		campaign.Group = group

		messages := make([]*models.CampaignMessage, 0, len(contacts))
		for _, c := range contacts {
			messages = append(messages, &models.CampaignMessage{
				CampaignID:  campaign.ID,
				ContactID:   c.ID,
				PhoneNumber: c.PhoneNumber,
				Status:      models.MessageStatusPending,
			})
		}
		return s.messageRepo.SaveBatch(txCtx, messages)
	})
	if err != nil {
		_ = createAuditLog(ctx, s.auditRepo, auditEntry{
			operatorID:  req.OperatorID,
			action:      models.AuditActionCampaignCreated,
			entityType:  campaignEntity,
			description: fmt.Sprintf("Campaign creation failed: %s", req.Name),
			err:         err,
		}, metadata)
		return nil, NewBusinessError("CAMPAIGN_CREATION_FAILED", "Campaign creation failed", err)
	}

	_ = createAuditLog(ctx, s.auditRepo, auditEntry{
		operatorID:  req.OperatorID,
		action:      models.AuditActionCampaignCreated,
		entityType:  campaignEntity,
		entityID:    campaign.ID,
		description: fmt.Sprintf("Campaign %s scheduled for %d recipients", campaign.UUID, campaign.TotalRecipients),
		success:     true,
	}, metadata)

	return &dto.CreateCampaignResponse{
		Message:  "Campaign created successfully",
		Campaign: ToCampaignDTO(campaign),
	}, nil
}

func (s *CampaignFlowImpl) validateCreateCampaignRequest(req *dto.CreateCampaignRequest) error {
	if req == nil || strings.TrimSpace(req.Name) == "" {
		return ErrCampaignNameRequired
	}
	if req.GroupID == 0 {
		return ErrCampaignGroupRequired
	}
	if strings.TrimSpace(req.TemplateName) == "" {
		return ErrCampaignTemplateRequired
	}
	return s.validateScheduleTime(req.ScheduledAt)
}

func (s *CampaignFlowImpl) validateScheduleTime(at *time.Time) error {
	if at == nil || at.IsZero() {
		return ErrScheduleTimeNotPresent
	}
	if !at.After(s.now()) {
		return ErrScheduleTimeInPast
	}
	return nil
}

// ListCampaigns returns a page of campaigns
func (s *CampaignFlowImpl) ListCampaigns(ctx context.Context, req *dto.ListCampaignsRequest) (*dto.ListCampaignsResponse, error) {
	if req == nil {
		req = &dto.ListCampaignsRequest{}
	}
	page, limit, err := normalizePage(req.Page, req.Limit)
	if err != nil {
		return nil, NewBusinessError("LIST_CAMPAIGNS_VALIDATION_FAILED", "Invalid pagination", err)
	}

	filter := models.CampaignFilter{GroupID: req.GroupID}
	if req.Status != nil && *req.Status != "" {
		status := models.CampaignStatus(strings.ToLower(*req.Status))
		if !status.Valid() {
			return nil, NewBusinessError("LIST_CAMPAIGNS_VALIDATION_FAILED", "Invalid status filter", ErrInvalidStatus)
		}
		filter.Status = &status
	}
	if req.Name != nil && strings.TrimSpace(*req.Name) != "" {
		name := strings.TrimSpace(*req.Name)
		filter.Name = &name
	}

	orderBy := "created_at DESC, id DESC"
	switch req.OrderBy {
	case "oldest":
		orderBy = "created_at ASC, id ASC"
	case "scheduled":
		orderBy = "scheduled_at ASC, id ASC"
	}

	total, err := s.campaignRepo.Count(ctx, filter)
	if err != nil {
		return nil, NewBusinessError("LIST_CAMPAIGNS_FAILED", "Failed to count campaigns", err)
	}
	rows, err := s.campaignRepo.ByFilter(ctx, filter, orderBy, limit, (page-1)*limit)
	if err != nil {
		return nil, NewBusinessError("LIST_CAMPAIGNS_FAILED", "Failed to list campaigns", err)
	}

	items := make([]dto.CampaignDTO, 0, len(rows))
	for _, c := range rows {
		items = append(items, ToCampaignDTO(c))
	}
	return &dto.ListCampaignsResponse{
		Message:    "Campaigns retrieved successfully",
		Items:      items,
		Pagination: paginationInfo(total, page, limit),
	}, nil
}

// GetCampaign returns a campaign and its per-status message counts
func (s *CampaignFlowImpl) GetCampaign(ctx context.Context, campaignID uint) (*dto.GetCampaignResponse, error) {
	campaign, err := s.loadCampaign(ctx, campaignID)
	if err != nil {
		return nil, NewBusinessError("GET_CAMPAIGN_FAILED", "Failed to get campaign", err)
	}
	stats, err := s.messageRepo.StatsByCampaign(ctx, campaign.ID)
	if err != nil {
		return nil, NewBusinessError("GET_CAMPAIGN_FAILED", "Failed to load campaign statistics", err)
	}
	return &dto.GetCampaignResponse{
		Message:  "Campaign retrieved successfully",
		Campaign: ToCampaignDTO(campaign),
		Stats:    ToCampaignStatsDTO(stats),
	}, nil
}

// ListCampaignMessages returns a page of a campaign's recipients
func (s *CampaignFlowImpl) ListCampaignMessages(ctx context.Context, req *dto.ListCampaignMessagesRequest) (*dto.ListCampaignMessagesResponse, error) {
	page, limit, err := normalizePage(req.Page, req.Limit)
	if err != nil {
		return nil, NewBusinessError("LIST_CAMPAIGN_MESSAGES_VALIDATION_FAILED", "Invalid pagination", err)
	}
	if _, err := s.loadCampaign(ctx, req.CampaignID); err != nil {
		return nil, NewBusinessError("LIST_CAMPAIGN_MESSAGES_FAILED", "Failed to get campaign", err)
	}

	filter := models.CampaignMessageFilter{CampaignID: &req.CampaignID}
	if req.Status != nil && *req.Status != "" {
		status := models.MessageStatus(strings.ToLower(*req.Status))
		if !status.Valid() {
			return nil, NewBusinessError("LIST_CAMPAIGN_MESSAGES_VALIDATION_FAILED", "Invalid status filter", ErrInvalidStatus)
		}
		filter.Status = &status
	}

	total, err := s.messageRepo.Count(ctx, filter)
	if err != nil {
		return nil, NewBusinessError("LIST_CAMPAIGN_MESSAGES_FAILED", "Failed to count messages", err)
	}
	rows, err := s.messageRepo.ByFilter(ctx, filter, "id ASC", limit, (page-1)*limit)
	if err != nil {
		return nil, NewBusinessError("LIST_CAMPAIGN_MESSAGES_FAILED", "Failed to list messages", err)
	}

	items := make([]dto.CampaignMessageDTO, 0, len(rows))
	for _, m := range rows {
		items = append(items, ToCampaignMessageDTO(m))
	}
	return &dto.ListCampaignMessagesResponse{
		Message:    "Campaign messages retrieved successfully",
		Items:      items,
		Pagination: paginationInfo(total, page, limit),
	}, nil
}

// RescheduleCampaign moves a still-scheduled campaign to another future time
func (s *CampaignFlowImpl) RescheduleCampaign(ctx context.Context, req *dto.RescheduleCampaignRequest, metadata *ClientMetadata) (*dto.CampaignActionResponse, error) {
	if err := s.validateScheduleTime(req.ScheduledAt); err != nil {
		return nil, NewBusinessError("RESCHEDULE_CAMPAIGN_VALIDATION_FAILED", "Invalid schedule time", err)
	}

	campaign, err := s.loadCampaign(ctx, req.CampaignID)
	if err == nil && !campaign.IsEditable() {
		err = ErrCampaignNotEditable
	}
	if err == nil {
		var ok bool
		ok, err = s.campaignRepo.UpdateIfStatus(ctx, campaign.ID, models.CampaignStatusScheduled, map[string]any{
			"scheduled_at": req.ScheduledAt.UTC(),
		})
		if err == nil && !ok {
			err = ErrCampaignNotEditable
		}
	}

	s.audit(ctx, req.OperatorID, models.AuditActionCampaignRescheduled, req.CampaignID,
		fmt.Sprintf("Reschedule campaign to %s", req.ScheduledAt.UTC().Format(time.RFC3339)), err, metadata)
	if err != nil {
		return nil, NewBusinessError("RESCHEDULE_CAMPAIGN_FAILED", "Failed to reschedule campaign", err)
	}

	campaign, err = s.loadCampaign(ctx, req.CampaignID)
	if err != nil {
		return nil, NewBusinessError("RESCHEDULE_CAMPAIGN_FAILED", "Failed to reload campaign", err)
	}
	return &dto.CampaignActionResponse{
		Message:  "Campaign rescheduled successfully",
		Campaign: ToCampaignDTO(campaign),
	}, nil
}

// CancelCampaign stops a scheduled or in-flight campaign. An in-flight run notices between sends.
func (s *CampaignFlowImpl) CancelCampaign(ctx context.Context, req *dto.CampaignActionRequest, metadata *ClientMetadata) (*dto.CampaignActionResponse, error) {
	campaign, err := s.loadCampaign(ctx, req.CampaignID)
	if err == nil && !campaign.IsCancellable() {
		err = ErrCampaignNotCancellable
	}
	if err == nil {
		var ok bool
		ok, err = s.campaignRepo.TransitionStatus(ctx, campaign.ID,
			[]models.CampaignStatus{models.CampaignStatusScheduled, models.CampaignStatusProcessing},
			models.CampaignStatusCancelled,
			map[string]any{"completed_at": s.now()},
		)
		if err == nil && !ok {
			err = ErrCampaignNotCancellable
		}
	}

	s.audit(ctx, req.OperatorID, models.AuditActionCampaignCancelled, req.CampaignID, "Cancel campaign", err, metadata)
	if err != nil {
		return nil, NewBusinessError("CANCEL_CAMPAIGN_FAILED", "Failed to cancel campaign", err)
	}

	campaign, err = s.loadCampaign(ctx, req.CampaignID)
	if err != nil {
		return nil, NewBusinessError("CANCEL_CAMPAIGN_FAILED", "Failed to reload campaign", err)
	}
	return &dto.CampaignActionResponse{
		Message:  "Campaign cancelled successfully",
		Campaign: ToCampaignDTO(campaign),
	}, nil
}

// DeleteCampaign removes a campaign that is not currently being sent, with its messages
func (s *CampaignFlowImpl) DeleteCampaign(ctx context.Context, req *dto.CampaignActionRequest, metadata *ClientMetadata) (*dto.DeleteCampaignResponse, error) {
	err := repository.WithTransaction(ctx, s.db, func(txCtx context.Context) error {
		campaign, err := s.loadCampaign(txCtx, req.CampaignID)
		if err != nil {
			return err
		}
		if !campaign.IsDeletable() {
			return ErrCampaignNotDeletable
		}

		// Park it as cancelled first so the scheduler cannot claim it mid-delete
		ok, err := s.campaignRepo.TransitionStatus(txCtx, campaign.ID, []models.CampaignStatus{
			models.CampaignStatusScheduled,
			models.CampaignStatusCompleted,
			models.CampaignStatusFailed,
			models.CampaignStatusCancelled,
		}, models.CampaignStatusCancelled, nil)
		if err != nil {
			return err
		}
		if !ok {
			return ErrCampaignNotDeletable
		}

		if err := s.messageRepo.DeleteByCampaign(txCtx, campaign.ID); err != nil {
			return err
		}
		return s.campaignRepo.Delete(txCtx, campaign.ID)
	})

	s.audit(ctx, req.OperatorID, models.AuditActionCampaignDeleted, req.CampaignID, "Delete campaign", err, metadata)
	if err != nil {
		return nil, NewBusinessError("DELETE_CAMPAIGN_FAILED", "Failed to delete campaign", err)
	}
	return &dto.DeleteCampaignResponse{Message: "Campaign deleted successfully"}, nil
}

// RetryCampaign puts failed messages below the retry cap back in the queue and reschedules
// the campaign shortly after now. Nothing is written unless at least one message qualifies.
func (s *CampaignFlowImpl) RetryCampaign(ctx context.Context, req *dto.CampaignActionRequest, metadata *ClientMetadata) (*dto.RetryCampaignResponse, error) {
	var (
		retried     int64
		scheduledAt = s.now().Add(utils.CampaignRetryDelay)
	)

	err := repository.WithTransaction(ctx, s.db, func(txCtx context.Context) error {
		campaign, err := s.loadCampaign(txCtx, req.CampaignID)
		if err != nil {
			return err
		}
		switch campaign.Status {
		case models.CampaignStatusScheduled:
			return ErrCampaignAlreadyScheduled
		case models.CampaignStatusProcessing:
			return ErrCampaignAlreadyProcessing
		}
		if !campaign.IsRetryable() {
			return ErrCampaignRetryNotAllowed
		}

		eligible, err := s.messageRepo.CountRetryable(txCtx, campaign.ID)
		if err != nil {
			return err
		}
		if eligible == 0 {
			return ErrNoEligibleMessages
		}

		ok, err := s.campaignRepo.TransitionStatus(txCtx, campaign.ID,
			[]models.CampaignStatus{models.CampaignStatusCompleted, models.CampaignStatusFailed},
			models.CampaignStatusScheduled,
			map[string]any{
				"scheduled_at":    scheduledAt,
				"messages_failed": 0,
				"completed_at":    nil,
				"error_message":   nil,
			},
		)
		if err != nil {
			return err
		}
		if !ok {
			return ErrCampaignStatusChanged
		}

		retried, err = s.messageRepo.ResetRetryable(txCtx, campaign.ID)
		return err
	})

	s.audit(ctx, req.OperatorID, models.AuditActionCampaignRetried, req.CampaignID,
		fmt.Sprintf("Retry campaign: %d messages requeued", retried), err, metadata)
	if err != nil {
		switch {
		case IsNoEligibleMessages(err):
			return nil, NewBusinessError(CodeNoEligibleMessages, "No failed messages are eligible for retry", err)
		case IsPreconditionError(err):
			return nil, NewBusinessError(CodeCampaignRetryNotAllowed, "Campaign cannot be retried in its current status", err)
		}
		return nil, NewBusinessError("RETRY_CAMPAIGN_FAILED", "Failed to retry campaign", err)
	}

	return &dto.RetryCampaignResponse{
		Message:         "Campaign retry scheduled",
		RetriedMessages: retried,
		ScheduledAt:     scheduledAt,
	}, nil
}

func (s *CampaignFlowImpl) loadCampaign(ctx context.Context, id uint) (*models.Campaign, error) {
	if id == 0 {
		return nil, ErrCampaignNotFound
	}
	campaign, err := s.campaignRepo.ByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if campaign == nil {
		return nil, ErrCampaignNotFound
	}
	return campaign, nil
}

func (s *CampaignFlowImpl) audit(ctx context.Context, operatorID uint, action string, campaignID uint, description string, err error, metadata *ClientMetadata) {
	_ = createAuditLog(ctx, s.auditRepo, auditEntry{
		operatorID:  operatorID,
		action:      action,
		entityType:  campaignEntity,
		entityID:    campaignID,
		description: description,
		success:     err == nil,
		err:         err,
	}, metadata)
}
