package directory

import "strings"

// Entry is one row of the CRM lead/contact directory. The identifier
// receives a read-only snapshot per lookup and retains no reference to it,
// so a stale or empty snapshot can never corrupt later lookups.
type Entry struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Company string `json:"company,omitempty"`
	Phone   string `json:"phone"`
	// AvatarRef is an opaque reference the UI resolves to an image.
	AvatarRef string `json:"avatar_ref,omitempty"`
}

// Identity is the display identity of a caller. Resolution never fails:
// an unmatched number yields the Unknown Caller sentinel, not an error.
type Identity struct {
	Name           string `json:"name"`
	Company        string `json:"company,omitempty"`
	AvatarRef      string `json:"avatar_ref,omitempty"`
	LinkedEntityID string `json:"linked_entity_id,omitempty"`
	Known          bool   `json:"known"`
}

const unknownCallerName = "Unknown Caller"

// Unknown returns the sentinel identity for an unmatched number.
func Unknown() Identity {
	return Identity{Name: unknownCallerName}
}

// Resolve matches a raw phone number against the snapshot. Both sides are
// normalized before comparison: exact digit match first, then national
// significant number (last 10 digits) so "+1 (555) 123-4567" matches
// "5551234567". First match wins.
func Resolve(number string, snapshot []Entry) Identity {
	digits := significantDigits(number)
	if digits == "" {
		return Unknown()
	}

	for _, e := range snapshot {
		entryDigits := significantDigits(e.Phone)
		if entryDigits == "" {
			continue
		}
		if entryDigits == digits || nationalNumber(entryDigits) == nationalNumber(digits) {
			return Identity{
				Name:           e.Name,
				Company:        e.Company,
				AvatarRef:      e.AvatarRef,
				LinkedEntityID: e.ID,
				Known:          true,
			}
		}
	}
	return Unknown()
}

// significantDigits strips everything but digits.
func significantDigits(number string) string {
	var b strings.Builder
	for _, r := range number {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// nationalNumber reduces a digit string to its last 10 digits, the NANP
// national significant number. Shorter strings are returned unchanged.
func nationalNumber(digits string) string {
	if len(digits) > 10 {
		return digits[len(digits)-10:]
	}
	return digits
}
