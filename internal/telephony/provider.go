package telephony

import (
	"context"
	"time"
)

// Provider names accepted by the registry.
const (
	ProviderDevice   = "device"
	ProviderCallback = "callback"
)

// TelephonyProvider is the provider-agnostic contract the orchestrator
// drives. Exactly one implementation is live at a time (see Registry).
//
// Rules:
// - No backend endpoint calls outside this package.
// - Callers branch on Capabilities flags, never on Name().
// - Operations gated by an unsupported capability report applied=false and
//   a nil error; they never fail.
// - Destroy must be idempotent and safe on a never-initialized instance.
type TelephonyProvider interface {
	Name() string
	Capabilities() Capabilities

	// InitializeDevice prepares the provider for the given CRM user and
	// wires the incoming-call callback. For the device provider this
	// registers a device and waits (bounded) for registration confirmation;
	// for the callback provider readiness is immediate.
	InitializeDevice(ctx context.Context, userID string, onIncoming IncomingFunc) (*Device, error)

	// MakeCall starts an outbound call and returns a handle for later
	// control. Network failures are typed as *CallInitError.
	MakeCall(ctx context.Context, req CallRequest) (CallHandle, error)

	Hangup(ctx context.Context, h CallHandle) error
	Answer(ctx context.Context, h CallHandle) error
	Reject(ctx context.Context, h CallHandle) error

	// SetMuted/SetHold/SendDigits report whether the operation applied.
	// Providers without the capability return (false, nil).
	SetMuted(ctx context.Context, h CallHandle, muted bool) (bool, error)
	SetHold(ctx context.Context, h CallHandle, onHold bool) (bool, error)
	SendDigits(ctx context.Context, h CallHandle, digits string) (bool, error)

	SendSMS(ctx context.Context, req SMSRequest) (SMSResult, error)
	FetchCallLogs(ctx context.Context, r LogRange) ([]NormalizedLog, error)

	// ValidateNumber is local-only; it must not touch the network.
	ValidateNumber(number string) Validation

	Destroy(ctx context.Context) error
}

// Capabilities is the static capability descriptor per provider. The UI
// uses it to disable unsupported controls; the orchestrator uses it to
// turn unsupported operations into reported no-ops.
type Capabilities struct {
	SupportsMute         bool `json:"supports_mute"`
	SupportsHold         bool `json:"supports_hold"`
	SupportsDirectHangup bool `json:"supports_direct_hangup"`
	SupportsDTMF         bool `json:"supports_dtmf"`
}

// DeviceState describes how confident we are that the device is usable.
type DeviceState string

const (
	DeviceStateReady DeviceState = "ready"
	// DeviceStateUnconfirmed means the registration confirmation never
	// arrived within the wait budget. The device is treated as usable;
	// later failures surface through the error event channel.
	DeviceStateUnconfirmed DeviceState = "ready_unconfirmed"
)

// Device is the result of InitializeDevice.
type Device struct {
	Provider string      `json:"provider"`
	UserID   string      `json:"user_id"`
	State    DeviceState `json:"state"`

	// Events is non-nil for the device provider; error/disconnect events
	// after initialization are delivered here.
	Events *EventHub `json:"-"`
}

// CallHandle identifies a provider call for later control operations.
// Handles are opaque to everything outside this package and the
// orchestrator; the UI never sees one.
type CallHandle interface {
	ProviderCallID() string
	Provider() string
}

// IncomingFunc receives raw incoming-call events. Both providers deliver
// the same event shape, regardless of transport (device push vs webhook).
type IncomingFunc func(IncomingEvent)

// IncomingEvent is a raw provider "incoming" notification.
type IncomingEvent struct {
	Provider       string    `json:"provider"`
	ProviderCallID string    `json:"provider_call_id"`
	From           string    `json:"from"`
	To             string    `json:"to,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// CallRequest describes an outbound call.
type CallRequest struct {
	To string `json:"to"`
	// EntityID optionally links the call to a CRM lead/contact.
	EntityID string `json:"entity_id,omitempty"`
	// RecordID is the call-history record created for this attempt.
	RecordID string `json:"record_id,omitempty"`
}

type SMSRequest struct {
	To   string `json:"to"`
	Body string `json:"body"`
}

type SMSResult struct {
	ProviderMessageID string `json:"provider_message_id"`
	Accepted          bool   `json:"accepted"`
}

// LogRange bounds a provider call-log query.
type LogRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// NormalizedLog is a provider-agnostic call log row. Provider payloads are
// normalized at the adapter boundary; raw vendor fields never leave it.
type NormalizedLog struct {
	ProviderCallID  string    `json:"provider_call_id"`
	Direction       string    `json:"direction"`
	From            string    `json:"from"`
	To              string    `json:"to"`
	Status          string    `json:"status"`
	DurationSeconds int       `json:"duration_seconds"`
	StartedAt       time.Time `json:"started_at"`
}

// Validation is the result of a local number check.
type Validation struct {
	Valid      bool   `json:"valid"`
	Normalized string `json:"normalized,omitempty"`
	Reason     string `json:"reason,omitempty"`
}
