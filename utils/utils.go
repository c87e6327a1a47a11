// Package utils provides utility functions for the application.
package utils

import (
	"strings"
	"unicode"
)

func ToPtr[T any](v T) *T {
	return &v
}

// DigitsOnly strips every non-digit rune from s.
func DigitsOnly(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsDigit(r) && r < unicode.MaxASCII {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// PhoneSuffix returns the trailing PhoneMatchDigits digits of a phone number.
// Numbers shorter than that are returned whole.
func PhoneSuffix(phone string) string {
	d := DigitsOnly(phone)
	if len(d) <= PhoneMatchDigits {
		return d
	}
	return d[len(d)-PhoneMatchDigits:]
}

// NormalizePhone returns the digits of phone, prefixing defaultCountryCode when
// only a national number was given.
func NormalizePhone(phone, defaultCountryCode string) string {
	d := DigitsOnly(phone)
	if len(d) == PhoneMatchDigits && defaultCountryCode != "" {
		return DigitsOnly(defaultCountryCode) + d
	}
	return d
}
