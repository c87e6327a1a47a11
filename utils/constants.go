package utils

import (
	"time"
)

// Request-scoped context keys
type contextKey string

const (
	RequestIDKey  contextKey = "request_id"
	UserAgentKey  contextKey = "user_agent"
	IPAddressKey  contextKey = "ip_address"
	EndpointKey   contextKey = "endpoint"
	TimeoutKey    contextKey = "timeout"
	OperatorIDKey contextKey = "operator_id"
)

// CORS and security constants
const (
	// CORSMaxAge is the maximum age for CORS preflight requests (24 hours)
	CORSMaxAge = 86400
)

// Messaging constants
const (
	// MessagingWindow is how long after the last inbound message free-form replies are allowed
	MessagingWindow = 24 * time.Hour

	// CampaignRetryDelay is how far in the future a retried campaign is rescheduled
	CampaignRetryDelay = 2 * time.Minute

	// MaxMessageRetries caps how many times a single campaign message may be retried
	MaxMessageRetries = 3

	// PhoneMatchDigits is the number of trailing digits used to match phone numbers
	PhoneMatchDigits = 10
)
