// Package businessflow contains the core business logic for the RSVP conversation and campaign workflows
package businessflow

import (
	"errors"
	"fmt"
)

// Business flow error constants
var (
	// Contact-related errors
	ErrContactNotFound      = errors.New("contact not found")
	ErrGroupNotFound        = errors.New("contact group not found")
	ErrGroupNameRequired    = errors.New("group name is required")
	ErrConversationNotFound = errors.New("conversation not found")
	ErrContactBusy          = errors.New("contact is busy with another message")
	ErrDuplicateInbound     = errors.New("inbound message was already processed")
	ErrGroupInUse           = errors.New("group still has campaigns")

	// Import errors
	ErrUnsupportedImportFormat = errors.New("only .csv and .xlsx files are supported")
	ErrImportHeaderMissing     = errors.New("sheet must have full_name and phone_number columns")
	ErrImportEmpty             = errors.New("sheet contains no rows")

	// Campaign-related errors
	ErrCampaignNotFound          = errors.New("campaign not found")
	ErrCampaignNameRequired      = errors.New("campaign name is required")
	ErrCampaignGroupRequired     = errors.New("campaign group is required")
	ErrCampaignTemplateRequired  = errors.New("campaign template is required")
	ErrScheduleTimeNotPresent    = errors.New("schedule time is not present")
	ErrScheduleTimeInPast        = errors.New("schedule time must be in the future")
	ErrCampaignNoRecipients      = errors.New("group has no contacts")
	ErrCampaignNotEditable       = errors.New("only scheduled campaigns can be rescheduled")
	ErrCampaignNotCancellable    = errors.New("only scheduled or processing campaigns can be cancelled")
	ErrCampaignNotDeletable      = errors.New("a processing campaign cannot be deleted")
	ErrCampaignRetryNotAllowed   = errors.New("only completed or failed campaigns can be retried")
	ErrCampaignAlreadyScheduled  = errors.New("campaign is already scheduled")
	ErrCampaignAlreadyProcessing = errors.New("campaign is currently processing")
	ErrNoEligibleMessages        = errors.New("no failed messages are eligible for retry")
	ErrCampaignStatusChanged     = errors.New("campaign status changed concurrently")

	// Chat errors
	ErrMessagingWindowExpired = errors.New("24-hour messaging window has expired; use a template message")
	ErrMessageRequired        = errors.New("message is required")
	ErrAlreadyAutomated       = errors.New("conversation is already in automated mode")

	// Filter errors
	ErrInvalidPage      = errors.New("page must be at least 1")
	ErrInvalidPageSize  = errors.New("page size must be between 1 and 100")
	ErrInvalidStatus    = errors.New("invalid status filter")
	ErrInvalidStateName = errors.New("invalid conversation state filter")
)

// Error codes surfaced to API callers
const (
	CodeMessagingWindowExpired  = "MESSAGING_WINDOW_EXPIRED"
	CodeCampaignRetryNotAllowed = "CAMPAIGN_RETRY_NOT_ALLOWED"
	CodeNoEligibleMessages      = "NO_ELIGIBLE_MESSAGES"
)

type BusinessError struct {
	Code    string
	Message string
	Err     error
}

func (e *BusinessError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *BusinessError) Unwrap() error {
	return e.Err
}

func NewBusinessError(code, message string, err error) *BusinessError {
	return &BusinessError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

func NewBusinessErrorf(code, message string, err error, args ...any) *BusinessError {
	return &BusinessError{
		Code:    code,
		Message: fmt.Sprintf(message, args...),
		Err:     err,
	}
}

// ErrorCode returns the business code carried by err, or "" if there is none
func ErrorCode(err error) string {
	var be *BusinessError
	if errors.As(err, &be) {
		return be.Code
	}
	return ""
}

func IsContactNotFound(err error) bool {
	return errors.Is(err, ErrContactNotFound)
}

func IsGroupNotFound(err error) bool {
	return errors.Is(err, ErrGroupNotFound)
}

func IsConversationNotFound(err error) bool {
	return errors.Is(err, ErrConversationNotFound)
}

func IsCampaignNotFound(err error) bool {
	return errors.Is(err, ErrCampaignNotFound)
}

func IsDuplicateInbound(err error) bool {
	return errors.Is(err, ErrDuplicateInbound)
}

func IsMessagingWindowExpired(err error) bool {
	return errors.Is(err, ErrMessagingWindowExpired)
}

func IsNoEligibleMessages(err error) bool {
	return errors.Is(err, ErrNoEligibleMessages)
}

// IsValidationError reports errors caused by bad input
func IsValidationError(err error) bool {
	for _, target := range []error{
		ErrGroupNameRequired,
		ErrUnsupportedImportFormat,
		ErrImportHeaderMissing,
		ErrImportEmpty,
		ErrCampaignNameRequired,
		ErrCampaignGroupRequired,
		ErrCampaignTemplateRequired,
		ErrScheduleTimeNotPresent,
		ErrScheduleTimeInPast,
		ErrMessageRequired,
		ErrInvalidPage,
		ErrInvalidPageSize,
		ErrInvalidStatus,
		ErrInvalidStateName,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsPreconditionError reports operations attempted in a state that does not allow them
func IsPreconditionError(err error) bool {
	for _, target := range []error{
		ErrCampaignNoRecipients,
		ErrCampaignNotEditable,
		ErrCampaignNotCancellable,
		ErrCampaignNotDeletable,
		ErrCampaignRetryNotAllowed,
		ErrCampaignAlreadyScheduled,
		ErrCampaignAlreadyProcessing,
		ErrNoEligibleMessages,
		ErrCampaignStatusChanged,
		ErrMessagingWindowExpired,
		ErrAlreadyAutomated,
		ErrContactBusy,
		ErrGroupInUse,
		ErrPreviewUnavailable,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsNotFound reports missing entities
func IsNotFound(err error) bool {
	return IsContactNotFound(err) || IsGroupNotFound(err) || IsConversationNotFound(err) || IsCampaignNotFound(err) ||
		errors.Is(err, ErrUploadNotFound)
}
