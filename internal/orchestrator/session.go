package orchestrator

import (
	"time"

	"crm-telephony/internal/callstate"
	"crm-telephony/internal/directory"
	"crm-telephony/internal/telephony"
)

// Direction of a call session.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// CallSession is the transient in-memory representation of the current
// call attempt. It is owned exclusively by the orchestrator and discarded
// when the call ends; only CallRecord outlives it.
type CallSession struct {
	ID                string    `json:"id"`
	Direction         Direction `json:"direction"`
	CounterpartNumber string    `json:"counterpart_number"`
	Provider          string    `json:"provider"`
	StartedAt         time.Time `json:"started_at"`

	// RecordID links the session to its persisted call-history record.
	RecordID string `json:"record_id"`

	handle telephony.CallHandle
}

// SessionView is the merged UI view: session identity plus the live
// state-machine snapshot. IsMuted/IsOnHold are meaningful only while
// State == active, which the machine already guarantees.
type SessionView struct {
	Session  *CallSession           `json:"session,omitempty"`
	Snapshot callstate.Snapshot     `json:"snapshot"`
	Provider string                 `json:"provider,omitempty"`
	Caps     telephony.Capabilities `json:"capabilities"`
}

// IncomingCallContext wraps a raw incoming event with the resolved caller
// identity and the history record created for it, so answer/reject can
// update history without re-querying anything.
type IncomingCallContext struct {
	Event    telephony.IncomingEvent `json:"event"`
	Identity directory.Identity      `json:"identity"`
	RecordID string                  `json:"record_id"`

	// PendingSince lets the UI run its own ring timer. The core never
	// auto-rejects a pending call.
	PendingSince time.Time `json:"pending_since"`

	handle telephony.CallHandle
}
