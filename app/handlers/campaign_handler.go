package handlers

import (
	"strconv"

	"github.com/amirphl/event-rsvp-engine/app/dto"
	businessflow "github.com/amirphl/event-rsvp-engine/business_flow"
	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"
)

// CampaignHandlerInterface defines the contract for campaign handlers
type CampaignHandlerInterface interface {
	CreateCampaign(c fiber.Ctx) error
	ListCampaigns(c fiber.Ctx) error
	GetCampaign(c fiber.Ctx) error
	ListCampaignMessages(c fiber.Ctx) error
	RescheduleCampaign(c fiber.Ctx) error
	CancelCampaign(c fiber.Ctx) error
	DeleteCampaign(c fiber.Ctx) error
	RetryCampaign(c fiber.Ctx) error
}

// CampaignHandler handles campaign-related HTTP requests
type CampaignHandler struct {
	baseHandler
	campaignFlow businessflow.CampaignFlow
}

// NewCampaignHandler creates a new campaign handler
func NewCampaignHandler(campaignFlow businessflow.CampaignFlow, log zerolog.Logger) *CampaignHandler {
	return &CampaignHandler{
		baseHandler:  newBaseHandler(log, "campaign_handler"),
		campaignFlow: campaignFlow,
	}
}

// CreateCampaign schedules a template broadcast to a contact group
// @Summary Create Campaign
// @Tags Campaigns
// @Accept json
// @Produce json
// @Param request body dto.CreateCampaignRequest true "Campaign creation data"
// @Success 201 {object} dto.APIResponse{data=dto.CreateCampaignResponse}
// @Failure 400 {object} dto.APIResponse "Validation error"
// @Failure 404 {object} dto.APIResponse "Group not found"
// @Failure 409 {object} dto.APIResponse "Group has no contacts"
// @Router /api/v1/campaigns [post]
func (h *CampaignHandler) CreateCampaign(c fiber.Ctx) error {
	var req dto.CreateCampaignRequest
	if err := c.Bind().JSON(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}
	if ok, err := h.validate(c, &req); !ok {
		return err
	}

	opID, ok := operatorID(c)
	if !ok {
		return h.ErrorResponse(c, fiber.StatusUnauthorized, "Operator ID not found in context", "MISSING_OPERATOR_ID", nil)
	}
	req.OperatorID = opID

	ctx, cancel := createRequestContext(c, "/api/v1/campaigns")
	defer cancel()

	result, err := h.campaignFlow.CreateCampaign(ctx, &req, clientMetadata(c))
	if err != nil {
		return h.flowError(c, err, "Campaign creation failed", "CAMPAIGN_CREATION_FAILED")
	}
	return h.SuccessResponse(c, fiber.StatusCreated, "Campaign created successfully", result)
}

// ListCampaigns pages through campaigns
// @Summary List Campaigns
// @Tags Campaigns
// @Produce json
// @Param page query int false "Page number"
// @Param limit query int false "Items per page (max 100)"
// @Param orderby query string false "Order by (newest|oldest|scheduled)" default(newest)
// @Param status query string false "Filter by status"
// @Param group_id query int false "Filter by group"
// @Param name query string false "Filter by name (contains)"
// @Success 200 {object} dto.APIResponse{data=dto.ListCampaignsResponse}
// @Router /api/v1/campaigns [get]
func (h *CampaignHandler) ListCampaigns(c fiber.Ctx) error {
	page, limit := pageParams(c)
	req := &dto.ListCampaignsRequest{
		Page:    page,
		Limit:   limit,
		OrderBy: c.Query("orderby", "newest"),
		Status:  optionalQuery(c, "status"),
		Name:    optionalQuery(c, "name"),
	}
	if raw := c.Query("group_id"); raw != "" {
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid group_id", "INVALID_GROUP_ID", nil)
		}
		groupID := uint(v)
		req.GroupID = &groupID
	}

	ctx, cancel := createRequestContext(c, "/api/v1/campaigns")
	defer cancel()

	result, err := h.campaignFlow.ListCampaigns(ctx, req)
	if err != nil {
		return h.flowError(c, err, "Failed to list campaigns", "LIST_CAMPAIGNS_FAILED")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Campaigns retrieved successfully", result)
}

// GetCampaign returns a campaign with its delivery breakdown
// @Summary Get Campaign
// @Tags Campaigns
// @Produce json
// @Param id path int true "Campaign ID"
// @Success 200 {object} dto.APIResponse{data=dto.GetCampaignResponse}
// @Failure 404 {object} dto.APIResponse "Campaign not found"
// @Router /api/v1/campaigns/{id} [get]
func (h *CampaignHandler) GetCampaign(c fiber.Ctx) error {
	id, ok := pathID(c, "id")
	if !ok {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid campaign id", "INVALID_CAMPAIGN_ID", nil)
	}

	ctx, cancel := createRequestContext(c, "/api/v1/campaigns/{id}")
	defer cancel()

	result, err := h.campaignFlow.GetCampaign(ctx, id)
	if err != nil {
		return h.flowError(c, err, "Failed to get campaign", "GET_CAMPAIGN_FAILED")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Campaign retrieved successfully", result)
}

// ListCampaignMessages pages through a campaign's recipients
// @Summary List Campaign Messages
// @Tags Campaigns
// @Produce json
// @Param id path int true "Campaign ID"
// @Param status query string false "Filter by message status"
// @Success 200 {object} dto.APIResponse{data=dto.ListCampaignMessagesResponse}
// @Router /api/v1/campaigns/{id}/messages [get]
func (h *CampaignHandler) ListCampaignMessages(c fiber.Ctx) error {
	id, ok := pathID(c, "id")
	if !ok {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid campaign id", "INVALID_CAMPAIGN_ID", nil)
	}
	page, limit := pageParams(c)

	ctx, cancel := createRequestContext(c, "/api/v1/campaigns/{id}/messages")
	defer cancel()

	result, err := h.campaignFlow.ListCampaignMessages(ctx, &dto.ListCampaignMessagesRequest{
		CampaignID: id,
		Page:       page,
		Limit:      limit,
		Status:     optionalQuery(c, "status"),
	})
	if err != nil {
		return h.flowError(c, err, "Failed to list campaign messages", "LIST_CAMPAIGN_MESSAGES_FAILED")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Campaign messages retrieved successfully", result)
}

// RescheduleCampaign moves a scheduled campaign to another future time
// @Summary Reschedule Campaign
// @Tags Campaigns
// @Accept json
// @Produce json
// @Param id path int true "Campaign ID"
// @Param request body dto.RescheduleCampaignRequest true "New schedule"
// @Success 200 {object} dto.APIResponse{data=dto.CampaignActionResponse}
// @Failure 409 {object} dto.APIResponse "Campaign is no longer scheduled"
// @Router /api/v1/campaigns/{id}/schedule [put]
func (h *CampaignHandler) RescheduleCampaign(c fiber.Ctx) error {
	id, ok := pathID(c, "id")
	if !ok {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid campaign id", "INVALID_CAMPAIGN_ID", nil)
	}

	var req dto.RescheduleCampaignRequest
	if err := c.Bind().JSON(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}
	if ok, err := h.validate(c, &req); !ok {
		return err
	}
	req.CampaignID = id
	req.OperatorID, _ = operatorID(c)

	ctx, cancel := createRequestContext(c, "/api/v1/campaigns/{id}/schedule")
	defer cancel()

	result, err := h.campaignFlow.RescheduleCampaign(ctx, &req, clientMetadata(c))
	if err != nil {
		return h.flowError(c, err, "Failed to reschedule campaign", "RESCHEDULE_CAMPAIGN_FAILED")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Campaign rescheduled successfully", result)
}

// CancelCampaign stops a scheduled or running campaign
// @Summary Cancel Campaign
// @Tags Campaigns
// @Produce json
// @Param id path int true "Campaign ID"
// @Success 200 {object} dto.APIResponse{data=dto.CampaignActionResponse}
// @Router /api/v1/campaigns/{id}/cancel [post]
func (h *CampaignHandler) CancelCampaign(c fiber.Ctx) error {
	req, err := h.actionRequest(c)
	if req == nil {
		return err
	}

	ctx, cancel := createRequestContext(c, "/api/v1/campaigns/{id}/cancel")
	defer cancel()

	result, err := h.campaignFlow.CancelCampaign(ctx, req, clientMetadata(c))
	if err != nil {
		return h.flowError(c, err, "Failed to cancel campaign", "CANCEL_CAMPAIGN_FAILED")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Campaign cancelled successfully", result)
}

// DeleteCampaign removes a campaign that is not currently sending
// @Summary Delete Campaign
// @Tags Campaigns
// @Produce json
// @Param id path int true "Campaign ID"
// @Success 200 {object} dto.APIResponse{data=dto.DeleteCampaignResponse}
// @Router /api/v1/campaigns/{id} [delete]
func (h *CampaignHandler) DeleteCampaign(c fiber.Ctx) error {
	req, err := h.actionRequest(c)
	if req == nil {
		return err
	}

	ctx, cancel := createRequestContext(c, "/api/v1/campaigns/{id}")
	defer cancel()

	result, err := h.campaignFlow.DeleteCampaign(ctx, req, clientMetadata(c))
	if err != nil {
		return h.flowError(c, err, "Failed to delete campaign", "DELETE_CAMPAIGN_FAILED")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Campaign deleted successfully", result)
}

// RetryCampaign re-queues the failed messages of a finished campaign
// @Summary Retry Campaign
// @Tags Campaigns
// @Produce json
// @Param id path int true "Campaign ID"
// @Success 200 {object} dto.APIResponse{data=dto.RetryCampaignResponse}
// @Failure 409 {object} dto.APIResponse "Campaign cannot be retried or nothing is eligible"
// @Router /api/v1/campaigns/{id}/retry [post]
func (h *CampaignHandler) RetryCampaign(c fiber.Ctx) error {
	req, err := h.actionRequest(c)
	if req == nil {
		return err
	}

	ctx, cancel := createRequestContext(c, "/api/v1/campaigns/{id}/retry")
	defer cancel()

	result, err := h.campaignFlow.RetryCampaign(ctx, req, clientMetadata(c))
	if err != nil {
		return h.flowError(c, err, "Failed to retry campaign", "RETRY_CAMPAIGN_FAILED")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Campaign queued for retry", result)
}

// actionRequest returns nil and the written error response when the path id is invalid
func (h *CampaignHandler) actionRequest(c fiber.Ctx) (*dto.CampaignActionRequest, error) {
	id, ok := pathID(c, "id")
	if !ok {
		return nil, h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid campaign id", "INVALID_CAMPAIGN_ID", nil)
	}
	opID, _ := operatorID(c)
	return &dto.CampaignActionRequest{CampaignID: id, OperatorID: opID}, nil
}
