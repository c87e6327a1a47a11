// Package utils provides utility functions for the application.
package utils

import (
	"time"
)

// UTCNow returns the current time in UTC
func UTCNow() time.Time {
	return time.Now().UTC()
}

// UTCNowPtr returns a pointer to the current time in UTC
func UTCNowPtr() *time.Time {
	now := UTCNow()
	return &now
}

// WithinWindow reports whether at is set and no older than window relative to now.
func WithinWindow(at *time.Time, window time.Duration, now time.Time) bool {
	if at == nil {
		return false
	}
	return now.Sub(*at) <= window
}
