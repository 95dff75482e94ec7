package history

import "time"

// CallRecord is the persisted row describing one call's metadata and
// lifecycle disposition.
//
// Lifecycle invariants:
// - Created at call start with duration 0 and disposition "Ringing...".
// - Mutated at most twice more: once on answer/reject, once with the
//   final duration.
// - Never deleted by the core.
//
// NOTE: This is the single source of truth for call completion. Completed
// calls must NOT additionally be reported through the generic activity-log
// collaborator, or history shows duplicates.
type CallRecord struct {
	ID string `json:"id" db:"id"`

	// EntityID optionally links the record to a CRM lead/contact.
	EntityID string `json:"entity_id,omitempty" db:"entity_id"`

	PhoneNumber string   `json:"phone_number" db:"phone_number"`
	Type        CallType `json:"type" db:"type"`

	DurationSeconds int `json:"duration_seconds" db:"duration_seconds"`

	// ProviderCallID is the provider's identifier, attached once known.
	ProviderCallID string `json:"provider_call_id,omitempty" db:"provider_call_id"`

	// Provider records which backend carried the call (device|callback).
	Provider string `json:"provider" db:"provider"`

	// Disposition is the free-text status progression shown in history:
	// "Ringing...", "Answered", "Rejected", "Missed",
	// "Call completed - M:SS".
	Disposition string `json:"disposition" db:"disposition"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type CallType string

const (
	CallTypeIncoming CallType = "incoming"
	CallTypeOutgoing CallType = "outgoing"
)

// Disposition values written by the recorder.
const (
	DispositionRinging  = "Ringing..."
	DispositionAnswered = "Answered"
	DispositionRejected = "Rejected"
	DispositionMissed   = "Missed"
)
