// Package phone canonicalizes Kenyan MSISDNs to the 254XXXXXXXXX form that
// Daraja expects.
package phone

import "strings"

// Normalize returns the canonical 254XXXXXXXXX form of a Kenyan phone number,
// or "" when the input cannot be a valid Kenyan MSISDN.
//
// Accepted inputs (after stripping spaces, hyphens, parentheses and a leading +):
//   - 254XXXXXXXXX (12 digits, subscriber prefix 1 or 7)
//   - 0XXXXXXXXX   (10 digits, subscriber prefix 1 or 7)
//   - XXXXXXXXX    (9 digits, leading 1 or 7)
func Normalize(input string) string {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '(', ')':
			return -1
		default:
			return r
		}
	}, strings.TrimSpace(input))
	cleaned = strings.TrimPrefix(cleaned, "+")

	if !isDigits(cleaned) {
		return ""
	}

	switch {
	case len(cleaned) == 12 && strings.HasPrefix(cleaned, "254"):
		if cleaned[3] == '1' || cleaned[3] == '7' {
			return cleaned
		}
	case len(cleaned) == 10 && cleaned[0] == '0':
		if cleaned[1] == '1' || cleaned[1] == '7' {
			return "254" + cleaned[1:]
		}
	case len(cleaned) == 9:
		if cleaned[0] == '1' || cleaned[0] == '7' {
			return "254" + cleaned
		}
	}
	return ""
}

// Last3 returns the last three digits of a normalized number, or "" when the
// input is too short.
func Last3(normalized string) string {
	if len(normalized) < 3 {
		return ""
	}
	return normalized[len(normalized)-3:]
}

func isDigits(s string) bool {
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
