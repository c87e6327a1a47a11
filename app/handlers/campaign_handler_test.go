package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/amirphl/event-rsvp-engine/app/dto"
	businessflow "github.com/amirphl/event-rsvp-engine/business_flow"
	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// retryOnlyFlow answers RetryCampaign; other methods are not reached by these tests
type retryOnlyFlow struct {
	businessflow.CampaignFlow
	err  error
	reqs []*dto.CampaignActionRequest
}

func (f *retryOnlyFlow) RetryCampaign(ctx context.Context, req *dto.CampaignActionRequest, metadata *businessflow.ClientMetadata) (*dto.RetryCampaignResponse, error) {
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return nil, f.err
	}
	return &dto.RetryCampaignResponse{Message: "queued", RetriedMessages: 2}, nil
}

type errorBody struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   struct {
		Code string `json:"code"`
	} `json:"error"`
}

func retryApp(flow *retryOnlyFlow) *fiber.App {
	app := fiber.New()
	app.Use(func(c fiber.Ctx) error {
		c.Locals("operator_id", uint(5))
		return c.Next()
	})
	app.Post("/campaigns/:id/retry", NewCampaignHandler(flow, zerolog.Nop()).RetryCampaign)
	return app
}

func postRetry(t *testing.T, app *fiber.App, id string) (int, errorBody) {
	t.Helper()
	resp, err := app.Test(httptest.NewRequest(http.MethodPost, "/campaigns/"+id+"/retry", nil))
	require.NoError(t, err)
	defer resp.Body.Close()

	var body errorBody
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp.StatusCode, body
}

func TestCampaignHandler_RetryCampaign(t *testing.T) {
	t.Run("success passes the operator through", func(t *testing.T) {
		flow := &retryOnlyFlow{}
		status, body := postRetry(t, retryApp(flow), "12")

		assert.Equal(t, http.StatusOK, status)
		assert.True(t, body.Success)
		require.Len(t, flow.reqs, 1)
		assert.Equal(t, uint(12), flow.reqs[0].CampaignID)
		assert.Equal(t, uint(5), flow.reqs[0].OperatorID)
	})

	t.Run("invalid id never reaches the flow", func(t *testing.T) {
		flow := &retryOnlyFlow{}
		status, body := postRetry(t, retryApp(flow), "abc")

		assert.Equal(t, http.StatusBadRequest, status)
		assert.Equal(t, "INVALID_CAMPAIGN_ID", body.Error.Code)
		assert.Empty(t, flow.reqs)
	})

	cases := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{
			name:       "precondition",
			err:        businessflow.NewBusinessError(businessflow.CodeCampaignRetryNotAllowed, "Campaign cannot be retried", businessflow.ErrCampaignRetryNotAllowed),
			wantStatus: http.StatusConflict,
			wantCode:   businessflow.CodeCampaignRetryNotAllowed,
		},
		{
			name:       "nothing to retry",
			err:        businessflow.NewBusinessError(businessflow.CodeNoEligibleMessages, "Nothing to retry", businessflow.ErrNoEligibleMessages),
			wantStatus: http.StatusConflict,
			wantCode:   businessflow.CodeNoEligibleMessages,
		},
		{
			name:       "not found",
			err:        businessflow.NewBusinessError("CAMPAIGN_NOT_FOUND", "Campaign not found", businessflow.ErrCampaignNotFound),
			wantStatus: http.StatusNotFound,
			wantCode:   "CAMPAIGN_NOT_FOUND",
		},
		{
			name:       "uncoded precondition gets the generic code",
			err:        businessflow.ErrCampaignAlreadyProcessing,
			wantStatus: http.StatusConflict,
			wantCode:   "PRECONDITION_FAILED",
		},
		{
			name:       "dependency failure",
			err:        businessflow.NewBusinessError("DATABASE_UNAVAILABLE", "Failed to reset messages", errors.New("connection refused")),
			wantStatus: http.StatusBadGateway,
			wantCode:   "DATABASE_UNAVAILABLE",
		},
		{
			name:       "unexpected error",
			err:        errors.New("boom"),
			wantStatus: http.StatusInternalServerError,
			wantCode:   "RETRY_CAMPAIGN_FAILED",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, body := postRetry(t, retryApp(&retryOnlyFlow{err: tc.err}), "3")
			assert.Equal(t, tc.wantStatus, status)
			assert.False(t, body.Success)
			assert.Equal(t, tc.wantCode, body.Error.Code)
		})
	}

	t.Run("precondition message is the rule, not the wrapper", func(t *testing.T) {
		err := businessflow.NewBusinessError(businessflow.CodeCampaignRetryNotAllowed, "Campaign cannot be retried", businessflow.ErrCampaignRetryNotAllowed)
		_, body := postRetry(t, retryApp(&retryOnlyFlow{err: err}), "3")
		assert.Equal(t, businessflow.ErrCampaignRetryNotAllowed.Error(), body.Message)
	})
}
