package orchestrator

import (
	"context"
	"time"

	"crm-telephony/internal/directory"
	"crm-telephony/internal/history"
	"crm-telephony/internal/telephony"
)

// DirectorySource returns a read-only snapshot of the CRM lead/contact
// directory for one lookup. The coordinator holds no long-lived reference
// and tolerates empty or stale snapshots.
type DirectorySource func(ctx context.Context) []directory.Entry

// IncomingCoordinator turns a raw provider incoming event into an
// identified, history-logged incoming-call context.
type IncomingCoordinator struct {
	recorder *history.Recorder
	source   DirectorySource
	clock    func() time.Time
}

func NewIncomingCoordinator(recorder *history.Recorder, source DirectorySource) *IncomingCoordinator {
	if source == nil {
		source = func(context.Context) []directory.Entry { return nil }
	}
	return &IncomingCoordinator{recorder: recorder, source: source, clock: time.Now}
}

// Prepare resolves the caller against the current directory snapshot and
// creates the incoming history record. Identification never fails (an
// unmatched number yields the Unknown Caller sentinel), so the only error
// path is the history write.
func (c *IncomingCoordinator) Prepare(ctx context.Context, ev telephony.IncomingEvent) (*IncomingCallContext, error) {
	identity := directory.Resolve(ev.From, c.source(ctx))

	recordID, err := c.recorder.LogIncoming(ctx, ev.From, ev.Provider, ev.ProviderCallID, identity.LinkedEntityID)
	if err != nil {
		return nil, err
	}

	return &IncomingCallContext{
		Event:        ev,
		Identity:     identity,
		RecordID:     recordID,
		PendingSince: c.clock().UTC(),
		handle:       incomingHandle{ev: ev},
	}, nil
}

// incomingHandle adapts an incoming event into the call handle shape the
// provider control operations expect.
type incomingHandle struct {
	ev telephony.IncomingEvent
}

func (h incomingHandle) ProviderCallID() string { return h.ev.ProviderCallID }
func (h incomingHandle) Provider() string       { return h.ev.Provider }
