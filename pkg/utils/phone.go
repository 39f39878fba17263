package utils

import (
	"regexp"
	"strings"
)

var e164 = regexp.MustCompile(`^\+[1-9]\d{1,14}$`)

// IsE164 reports whether s is a strict E.164 number (no spaces or punctuation).
func IsE164(s string) bool {
	return e164.MatchString(s)
}

// NormalizePhone strips everything but digits and prefixes "+". Ten-digit
// numbers are treated as US numbers without a country code.
// Returns "" when s has no digits.
func NormalizePhone(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if digits == "" {
		return ""
	}
	if len(digits) == 10 {
		digits = "1" + digits
	}
	return "+" + digits
}
