// Package mpesa holds the Safaricom-specific number formatting rules shared
// by the checkout flow. The ticketing API and the charge-initiation endpoint
// disagree on phone format: orders and profiles use the canonical 254 form,
// while /api/mpesa_payment expects the local 0-prefixed form. Both
// conversions live here so call sites cannot pick the wrong one ad hoc.
package mpesa

import (
	"strings"

	"evanda/internal/status"
)

// NormalizePhone strips every non-digit character and accepts only the three
// subscriber shapes Safaricom issues:
//
//	254XXXXXXXXX (12 digits)  kept as-is
//	0XXXXXXXXX   (10 digits)  leading 0 replaced with 254
//	7XXXXXXXX    (9 digits)   prefixed with 254
//
// Anything else fails with status.ErrInvalidPhone before any network call.
func NormalizePhone(raw string) (string, error) {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()

	switch {
	case len(digits) == 12 && strings.HasPrefix(digits, "254"):
		return digits, nil
	case len(digits) == 10 && strings.HasPrefix(digits, "0"):
		return "254" + digits[1:], nil
	case len(digits) == 9 && strings.HasPrefix(digits, "7"):
		return "254" + digits, nil
	}

	return "", status.ErrInvalidPhone
}

// LocalFormat rewrites a canonical 254-prefixed MSISDN to the local 0-form
// the charge-initiation endpoint expects. Inputs already in local form pass
// through unchanged.
func LocalFormat(msisdn string) string {
	if strings.HasPrefix(msisdn, "254") {
		return "0" + msisdn[3:]
	}
	return msisdn
}
