package telephony

import "strings"

// ValidateNumber performs the local, network-free callable check shared by
// both providers. The rules lean E.164 without being carrier-strict:
// dial strings the backend would reject fail fast here, before any
// network call is attempted.
func ValidateNumber(number string) Validation {
	trimmed := strings.TrimSpace(number)
	if trimmed == "" {
		return Validation{Valid: false, Reason: "empty number"}
	}

	var b strings.Builder
	plus := false
	for i, r := range trimmed {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+':
			if i != 0 {
				return Validation{Valid: false, Reason: "misplaced '+'"}
			}
			plus = true
		case r == ' ' || r == '-' || r == '(' || r == ')' || r == '.':
			// common formatting characters, stripped
		default:
			return Validation{Valid: false, Reason: "invalid character"}
		}
	}

	digits := b.String()
	if len(digits) < 7 {
		return Validation{Valid: false, Reason: "too short"}
	}
	if len(digits) > 15 {
		return Validation{Valid: false, Reason: "too long"}
	}

	normalized := digits
	if plus {
		normalized = "+" + digits
	} else if len(digits) == 10 {
		// Bare national numbers are assumed NANP; everything longer must
		// carry its own country code.
		normalized = "+1" + digits
	}
	return Validation{Valid: true, Normalized: normalized}
}
