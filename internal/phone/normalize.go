// Package phone normalizes roster phone numbers to international form.
// It contains no business logic.
package phone

import (
	"strings"

	"github.com/nyaruka/phonenumbers"
)

const (
	countryCode   = "91"
	defaultRegion = "IN"
)

// Normalize converts a roster number to international form.
//
// Rules, applied to the trimmed input with spaces and dashes removed:
//   - already starts with '+': unchanged
//   - 12 digits starting with the country code: '+' prepended
//   - 10 digits: '+' and the country code prepended
//   - anything else is returned as-is (and will fail Valid)
//
// Normalize is idempotent.
func Normalize(input string) string {
	s := strings.TrimSpace(input)
	s = strings.NewReplacer(" ", "", "-", "").Replace(s)
	switch {
	case s == "":
		return s
	case strings.HasPrefix(s, "+"):
		return s
	case len(s) == 12 && strings.HasPrefix(s, countryCode) && allDigits(s):
		return "+" + s
	case len(s) == 10 && allDigits(s):
		return "+" + countryCode + s
	default:
		return s
	}
}

// Valid reports whether a normalized number is dialable international form.
func Valid(normalized string) bool {
	if !strings.HasPrefix(normalized, "+") || !allDigits(normalized[1:]) {
		return false
	}
	n, err := phonenumbers.Parse(normalized, defaultRegion)
	if err != nil {
		return false
	}
	return phonenumbers.IsPossibleNumber(n)
}

// NormalizeE164 normalizes and reports validity in one call.
func NormalizeE164(input string) (string, bool) {
	n := Normalize(input)
	return n, Valid(n)
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
