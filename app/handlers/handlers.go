// Package handlers contains HTTP request handlers and presentation layer logic for the API endpoints
package handlers

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/amirphl/event-rsvp-engine/app/dto"
	businessflow "github.com/amirphl/event-rsvp-engine/business_flow"
	"github.com/amirphl/event-rsvp-engine/utils"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"
)

const defaultRequestTimeout = 30 * time.Second

// baseHandler carries the response helpers shared by every handler
type baseHandler struct {
	validator *validator.Validate
	log       zerolog.Logger
}

func newBaseHandler(log zerolog.Logger, component string) baseHandler {
	return baseHandler{
		validator: validator.New(),
		log:       log.With().Str("component", component).Logger(),
	}
}

func (h *baseHandler) ErrorResponse(c fiber.Ctx, statusCode int, message, errorCode string, details any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: false,
		Message: message,
		Error: dto.ErrorDetail{
			Code:    errorCode,
			Details: details,
		},
	})
}

func (h *baseHandler) SuccessResponse(c fiber.Ctx, statusCode int, message string, data any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// validate runs struct validation and writes a 400 when it fails. It reports whether the request is valid.
func (h *baseHandler) validate(c fiber.Ctx, req any) (bool, error) {
	err := h.validator.Struct(req)
	if err == nil {
		return true, nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return false, h.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", err.Error())
	}
	messages := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		messages = append(messages, getValidationErrorMessage(fe))
	}
	return false, h.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", messages)
}

// flowError maps a business flow error onto an HTTP response
func (h *baseHandler) flowError(c fiber.Ctx, err error, fallbackMessage, fallbackCode string) error {
	code := businessflow.ErrorCode(err)
	switch {
	case businessflow.IsValidationError(err):
		return h.ErrorResponse(c, fiber.StatusBadRequest, rootMessage(err), orDefault(code, "VALIDATION_ERROR"), nil)
	case businessflow.IsNotFound(err):
		return h.ErrorResponse(c, fiber.StatusNotFound, rootMessage(err), orDefault(code, "NOT_FOUND"), nil)
	case businessflow.IsPreconditionError(err):
		return h.ErrorResponse(c, fiber.StatusConflict, rootMessage(err), orDefault(code, "PRECONDITION_FAILED"), nil)
	}

	h.log.Error().Err(err).Str("path", c.Path()).Msg(fallbackMessage)
	if code != "" {
		return h.ErrorResponse(c, fiber.StatusBadGateway, fallbackMessage, code, nil)
	}
	return h.ErrorResponse(c, fiber.StatusInternalServerError, fallbackMessage, fallbackCode, nil)
}

// rootMessage prefers the sentinel's text over the wrapped business message
func rootMessage(err error) string {
	var be *businessflow.BusinessError
	if errors.As(err, &be) && be.Err != nil {
		return be.Err.Error()
	}
	return err.Error()
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// operatorID returns the authenticated operator set by the auth middleware
func operatorID(c fiber.Ctx) (uint, bool) {
	id, ok := c.Locals("operator_id").(uint)
	return id, ok && id != 0
}

func pathID(c fiber.Ctx, name string) (uint, bool) {
	v, err := strconv.ParseUint(c.Params(name), 10, 64)
	if err != nil || v == 0 {
		return 0, false
	}
	return uint(v), true
}

// pageParams parses page and limit; out-of-range values are left for the flow to reject
func pageParams(c fiber.Ctx) (int, int) {
	page, _ := strconv.Atoi(c.Query("page", "1"))
	limit, _ := strconv.Atoi(c.Query("limit", "20"))
	return page, limit
}

func optionalQuery(c fiber.Ctx, key string) *string {
	if v := c.Query(key); v != "" {
		return &v
	}
	return nil
}

func clientMetadata(c fiber.Ctx) *businessflow.ClientMetadata {
	metadata := businessflow.NewClientMetadata(c.IP(), c.Get("User-Agent"))
	metadata.SetRequestID(c.Get(businessflow.RequestIDKey))
	return metadata
}

// createRequestContext creates a context with request-scoped values for observability and timeout
func createRequestContext(c fiber.Ctx, endpoint string) (context.Context, context.CancelFunc) {
	return createRequestContextWithTimeout(c, endpoint, defaultRequestTimeout)
}

func createRequestContextWithTimeout(c fiber.Ctx, endpoint string, timeout time.Duration) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)

	ctx = context.WithValue(ctx, utils.RequestIDKey, c.Get(businessflow.RequestIDKey))
	ctx = context.WithValue(ctx, utils.UserAgentKey, c.Get("User-Agent"))
	ctx = context.WithValue(ctx, utils.IPAddressKey, c.IP())
	ctx = context.WithValue(ctx, utils.EndpointKey, endpoint)
	ctx = context.WithValue(ctx, utils.TimeoutKey, timeout)
	if id, ok := operatorID(c); ok {
		ctx = context.WithValue(ctx, utils.OperatorIDKey, id)
	}

	return ctx, cancel
}

func getValidationErrorMessage(err validator.FieldError) string {
	switch err.Tag() {
	case "required":
		return err.Field() + " is required"
	case "min":
		return err.Field() + " must be at least " + err.Param() + " characters"
	case "max":
		return err.Field() + " must be at most " + err.Param() + " characters"
	case "oneof":
		return err.Field() + " must be one of: " + err.Param()
	case "numeric":
		return err.Field() + " must contain only numbers"
	case "gte":
		return fmt.Sprintf("%s must be greater than or equal to %s", err.Field(), err.Param())
	case "lte":
		return fmt.Sprintf("%s must be less than or equal to %s", err.Field(), err.Param())
	default:
		return err.Field() + " is invalid"
	}
}
