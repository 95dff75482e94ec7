package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"crm-telephony/internal/callstate"
	"crm-telephony/internal/history"
	"crm-telephony/internal/telephony"
)

var (
	// ErrCallInProgress rejects a dial while a session exists. Dials are
	// rejected, never queued.
	ErrCallInProgress = errors.New("orchestrator: a call is already in progress")
	// ErrNoIncomingCall rejects answer/reject without a pending context.
	ErrNoIncomingCall = errors.New("orchestrator: no incoming call pending")
	// ErrNoProvider rejects call operations before a provider is selected.
	ErrNoProvider = errors.New("orchestrator: no active provider")
)

// ActivityEntry is handed to the optional activity-log collaborator for
// non-call events (manual notes and the like).
type ActivityEntry struct {
	Type        string    `json:"type"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Timestamp   time.Time `json:"timestamp"`
}

// ActivityLogFunc is the optional activity-log collaborator callback.
type ActivityLogFunc func(ActivityEntry)

// Orchestrator is the single entry point the CRM UI calls. It composes
// the provider registry, the call state machine, the incoming-call
// coordinator and the history recorder.
//
// Ordering guarantees:
// - The "answered" history write happens before the state machine shows
//   active.
// - The final-duration write happens before the machine resets to idle.
// - At most one CallSession exists at a time.
//
// Completed calls are recorded only through the history recorder. The
// activity-log callback must never be invoked for them; history would
// show every call twice otherwise.
type Orchestrator struct {
	registry    *telephony.Registry
	machine     *callstate.Machine
	recorder    *history.Recorder
	coordinator *IncomingCoordinator
	logActivity ActivityLogFunc
	log         *slog.Logger
	clock       func() time.Time

	// onIncoming surfaces a pending incoming call to the UI.
	onIncoming func(*IncomingCallContext)

	mu         sync.Mutex
	userID     string
	session    *CallSession
	incoming   *IncomingCallContext
	tickerStop chan struct{}
}

func New(registry *telephony.Registry, machine *callstate.Machine, recorder *history.Recorder, coordinator *IncomingCoordinator, log *slog.Logger) *Orchestrator {
	o := &Orchestrator{
		registry:    registry,
		machine:     machine,
		recorder:    recorder,
		coordinator: coordinator,
		log:         log,
		clock:       time.Now,
	}
	registry.SetInCallGuard(machine.InCall)
	return o
}

// SetActivityLog installs the optional activity-log collaborator.
func (o *Orchestrator) SetActivityLog(fn ActivityLogFunc) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.logActivity = fn
}

// SetOnIncoming installs the UI callback for pending incoming calls.
func (o *Orchestrator) SetOnIncoming(fn func(*IncomingCallContext)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.onIncoming = fn
}

// LogActivity forwards a non-call event to the activity-log collaborator.
// The orchestrator itself never calls this for call completion.
func (o *Orchestrator) LogActivity(e ActivityEntry) {
	o.mu.Lock()
	fn := o.logActivity
	o.mu.Unlock()
	if fn == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = o.clock().UTC()
	}
	fn(e)
}

// UseProvider selects (or switches) the active provider and initializes
// its device for the given user. Switching during a live session fails
// with *telephony.SwitchRejectedError and leaves everything untouched.
func (o *Orchestrator) UseProvider(ctx context.Context, name, userID string) (*telephony.Device, error) {
	provider, err := o.registry.Switch(ctx, name)
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	o.userID = userID
	o.mu.Unlock()

	dev, err := provider.InitializeDevice(ctx, userID, o.HandleIncoming)
	if err != nil {
		return nil, err
	}
	if dev.Events != nil {
		dev.Events.On(telephony.EventError, func(e telephony.Event) {
			o.log.Error("device error event", "message", e.Message)
			o.failCurrentSession(context.Background())
		})
		dev.Events.On(telephony.EventDisconnect, func(e telephony.Event) {
			o.log.Warn("device disconnected", "message", e.Message)
		})
	}
	return dev, nil
}

// ProviderName returns the active provider name, or "".
func (o *Orchestrator) ProviderName() string {
	return o.registry.ActiveName()
}

// View returns the merged session + state snapshot for the UI.
func (o *Orchestrator) View() SessionView {
	o.mu.Lock()
	session := o.session
	o.mu.Unlock()

	view := SessionView{
		Session:  session,
		Snapshot: o.machine.Snapshot(),
		Provider: o.registry.ActiveName(),
	}
	if p := o.registry.Active(); p != nil {
		view.Caps = p.Capabilities()
	}
	return view
}

// Incoming returns the pending incoming-call context, or nil.
func (o *Orchestrator) Incoming() *IncomingCallContext {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.incoming
}

// Dial starts an outbound call. The number is validated first and an
// unreachable dial string fails fast with *telephony.InvalidNumberError
// before any network call. A dial while a session exists is rejected.
func (o *Orchestrator) Dial(ctx context.Context, number, entityID string) error {
	provider := o.registry.Active()
	if provider == nil {
		return ErrNoProvider
	}

	v := provider.ValidateNumber(number)
	if !v.Valid {
		return &telephony.InvalidNumberError{Number: number, Reason: v.Reason}
	}

	if !o.machine.StartDial() {
		return ErrCallInProgress
	}

	recordID, err := o.recorder.LogOutgoing(ctx, v.Normalized, provider.Name(), entityID)
	if err != nil {
		o.machine.CallFailed()
		return err
	}

	session := &CallSession{
		ID:                uuid.NewString(),
		Direction:         DirectionOutbound,
		CounterpartNumber: v.Normalized,
		Provider:          provider.Name(),
		StartedAt:         o.clock().UTC(),
		RecordID:          recordID,
	}
	o.mu.Lock()
	o.session = session
	o.mu.Unlock()

	h, err := provider.MakeCall(ctx, telephony.CallRequest{To: v.Normalized, EntityID: entityID, RecordID: recordID})
	if err != nil {
		// The attempt died before any session was usable: reset to idle
		// and persist whatever we know (duration 0).
		o.finishSession(ctx, session, true)
		return err
	}

	o.mu.Lock()
	if o.session == nil || o.session.ID != session.ID {
		// EndCall won the race while the dial request was in flight. The
		// remote side may still ring briefly; that phantom-ring is
		// accepted, and we just ask the provider to stop.
		o.mu.Unlock()
		o.log.Info("dial resolved after end; issuing best-effort hangup", "provider_call_id", h.ProviderCallID())
		o.bestEffortHangup(ctx, provider, h)
		return nil
	}
	o.session.handle = h
	o.mu.Unlock()

	if err := o.recorder.SetProviderCallID(ctx, recordID, h.ProviderCallID()); err != nil {
		o.log.Warn("attaching provider call id failed", "err", err)
	}
	o.machine.StartRinging()
	return nil
}

// HandleCallAccepted is invoked when the provider reports the call
// connected (device push event or webhook). The answered history write
// lands before the machine shows active.
func (o *Orchestrator) HandleCallAccepted(ctx context.Context, providerCallID string) {
	session := o.currentSession(providerCallID)
	if session == nil {
		return
	}
	if err := o.recorder.MarkAnswered(ctx, session.RecordID); err != nil {
		o.log.Warn("answered write failed", "record_id", session.RecordID, "err", err)
	}
	if o.machine.CallAccepted() {
		o.startTicker()
	}
}

// HandleCallDisconnected ends the session when the provider reports the
// far end hung up.
func (o *Orchestrator) HandleCallDisconnected(ctx context.Context, providerCallID string) {
	session := o.currentSession(providerCallID)
	if session == nil {
		return
	}
	o.mu.Lock()
	o.session = nil
	o.mu.Unlock()
	o.finishSession(ctx, session, false)
}

// HandleCallFailed resets the session when the provider reports an error.
func (o *Orchestrator) HandleCallFailed(ctx context.Context, providerCallID, reason string) {
	o.log.Warn("provider reported call failure", "provider_call_id", providerCallID, "reason", reason)
	o.HandleCallDisconnected(ctx, providerCallID)
}

// EndCall is the single cancellation primitive. It is unconditionally
// accepted from any state: the local call state resets first, then the
// provider hangup goes out best-effort; a failed hangup request is
// logged and absorbed because the user's intent (stop the call) has
// already been honored locally.
func (o *Orchestrator) EndCall(ctx context.Context) {
	o.mu.Lock()
	session := o.session
	incoming := o.incoming
	o.session = nil
	o.incoming = nil
	o.mu.Unlock()

	if session != nil {
		o.finishSession(ctx, session, false)
		return
	}
	if incoming != nil {
		// Ending with only a pending ring counts as not picking up.
		o.stopTicker()
		o.machine.CallEnded()
		if err := o.recorder.MarkMissed(ctx, incoming.RecordID); err != nil {
			o.log.Warn("missed write failed", "record_id", incoming.RecordID, "err", err)
		}
		return
	}
	// Nothing in flight; still safe.
	o.stopTicker()
	o.machine.CallEnded()
}

// HandleIncoming is the raw incoming-event entry point for both
// providers (device push and out-of-band webhook deliver the same shape).
func (o *Orchestrator) HandleIncoming(ev telephony.IncomingEvent) {
	ctx := context.Background()

	ictx, err := o.coordinator.Prepare(ctx, ev)
	if err != nil {
		o.log.Error("incoming call preparation failed", "from", ev.From, "err", err)
		return
	}

	o.mu.Lock()
	busy := o.session != nil || o.incoming != nil
	if !busy {
		o.incoming = ictx
	}
	onIncoming := o.onIncoming
	o.mu.Unlock()

	if busy {
		// One session at a time: the second ring is recorded as missed
		// rather than interrupting the live call.
		if err := o.recorder.MarkMissed(ctx, ictx.RecordID); err != nil {
			o.log.Warn("missed write failed", "record_id", ictx.RecordID, "err", err)
		}
		return
	}

	o.machine.StartRinging()
	if onIncoming != nil {
		onIncoming(ictx)
	}
}

// AnswerIncoming accepts the pending incoming call. The history
// disposition is written before the provider round-trip so history
// reflects the decision even if the provider is slow.
func (o *Orchestrator) AnswerIncoming(ctx context.Context) error {
	o.mu.Lock()
	ictx := o.incoming
	o.incoming = nil
	o.mu.Unlock()
	if ictx == nil {
		return ErrNoIncomingCall
	}
	provider := o.registry.Active()
	if provider == nil {
		return ErrNoProvider
	}

	if err := o.recorder.MarkAnswered(ctx, ictx.RecordID); err != nil {
		o.log.Warn("answered write failed", "record_id", ictx.RecordID, "err", err)
	}

	session := &CallSession{
		ID:                uuid.NewString(),
		Direction:         DirectionInbound,
		CounterpartNumber: ictx.Event.From,
		Provider:          provider.Name(),
		StartedAt:         o.clock().UTC(),
		RecordID:          ictx.RecordID,
		handle:            ictx.handle,
	}
	o.mu.Lock()
	o.session = session
	o.mu.Unlock()

	if err := provider.Answer(ctx, ictx.handle); err != nil {
		o.mu.Lock()
		o.session = nil
		o.mu.Unlock()
		o.machine.CallFailed()
		return err
	}

	if o.machine.CallAccepted() {
		o.startTicker()
	}
	return nil
}

// RejectIncoming declines the pending incoming call. The history write
// goes first for the same reason as AnswerIncoming; the provider reject
// is best-effort.
func (o *Orchestrator) RejectIncoming(ctx context.Context) error {
	o.mu.Lock()
	ictx := o.incoming
	o.incoming = nil
	o.mu.Unlock()
	if ictx == nil {
		return ErrNoIncomingCall
	}

	if err := o.recorder.MarkRejected(ctx, ictx.RecordID); err != nil {
		o.log.Warn("rejected write failed", "record_id", ictx.RecordID, "err", err)
	}
	o.machine.CallEnded()

	if provider := o.registry.Active(); provider != nil {
		if err := provider.Reject(ctx, ictx.handle); err != nil {
			o.log.Warn("provider reject failed", "err", err)
		}
	}
	return nil
}

// SendDTMF forwards digits only while active and only when the provider
// supports DTMF; otherwise it reports a no-op. It never fails for an
// unsupported capability.
func (o *Orchestrator) SendDTMF(ctx context.Context, digits string) (bool, error) {
	provider := o.registry.Active()
	if provider == nil || o.machine.State() != callstate.StateActive {
		return false, nil
	}
	if !provider.Capabilities().SupportsDTMF {
		return false, nil
	}
	o.mu.Lock()
	session := o.session
	o.mu.Unlock()
	if session == nil || session.handle == nil {
		return false, nil
	}
	return provider.SendDigits(ctx, session.handle, digits)
}

// ToggleMute flips mute while active on a provider that supports it;
// anywhere else it is a safe no-op. It returns the resulting flag.
func (o *Orchestrator) ToggleMute(ctx context.Context) (bool, error) {
	return o.toggleFlag(ctx, true)
}

// ToggleHold mirrors ToggleMute for hold.
func (o *Orchestrator) ToggleHold(ctx context.Context) (bool, error) {
	return o.toggleFlag(ctx, false)
}

func (o *Orchestrator) toggleFlag(ctx context.Context, mute bool) (bool, error) {
	provider := o.registry.Active()
	snap := o.machine.Snapshot()
	if provider == nil || snap.State != callstate.StateActive {
		if mute {
			return snap.IsMuted, nil
		}
		return snap.IsOnHold, nil
	}

	caps := provider.Capabilities()
	if (mute && !caps.SupportsMute) || (!mute && !caps.SupportsHold) {
		// Capability missing: defined no-op, flag stays false.
		if mute {
			return snap.IsMuted, nil
		}
		return snap.IsOnHold, nil
	}

	o.mu.Lock()
	session := o.session
	o.mu.Unlock()
	if session == nil || session.handle == nil {
		return false, nil
	}

	var target bool
	if mute {
		target = o.machine.ToggleMute()
	} else {
		target = o.machine.ToggleHold()
	}

	var err error
	if mute {
		_, err = provider.SetMuted(ctx, session.handle, target)
	} else {
		_, err = provider.SetHold(ctx, session.handle, target)
	}
	if err != nil {
		// Keep the local flag honest when the backend refused.
		if mute {
			target = o.machine.ToggleMute()
		} else {
			target = o.machine.ToggleHold()
		}
		return target, err
	}
	return target, nil
}

// SendSMS forwards to the active provider.
func (o *Orchestrator) SendSMS(ctx context.Context, to, body string) (telephony.SMSResult, error) {
	provider := o.registry.Active()
	if provider == nil {
		return telephony.SMSResult{}, ErrNoProvider
	}
	v := provider.ValidateNumber(to)
	if !v.Valid {
		return telephony.SMSResult{}, &telephony.InvalidNumberError{Number: to, Reason: v.Reason}
	}
	return provider.SendSMS(ctx, telephony.SMSRequest{To: v.Normalized, Body: body})
}

// FetchCallLogs forwards to the active provider.
func (o *Orchestrator) FetchCallLogs(ctx context.Context, r telephony.LogRange) ([]telephony.NormalizedLog, error) {
	provider := o.registry.Active()
	if provider == nil {
		return nil, ErrNoProvider
	}
	return provider.FetchCallLogs(ctx, r)
}

// History lists persisted call records for display.
func (o *Orchestrator) History(ctx context.Context, limit int) ([]history.CallRecord, error) {
	return o.recorder.List(ctx, limit)
}

// Shutdown releases the active provider. Safe to call repeatedly.
func (o *Orchestrator) Shutdown(ctx context.Context) {
	o.EndCall(ctx)
	if err := o.registry.DestroyActive(ctx); err != nil {
		o.log.Warn("provider destroy on shutdown failed", "err", err)
	}
}

// finishSession persists the final duration, resets the machine and then
// (unless the dial itself already failed) tells the provider to hang up.
// The duration write happens before the reset so history is complete by
// the time the machine reads idle.
func (o *Orchestrator) finishSession(ctx context.Context, session *CallSession, dialFailed bool) {
	o.stopTicker()
	duration := o.machine.Snapshot().DurationSeconds

	if err := o.recorder.FinishWithDuration(ctx, session.RecordID, duration); err != nil {
		o.log.Warn("final duration write failed", "record_id", session.RecordID, "err", err)
	}

	if dialFailed {
		o.machine.CallFailed()
	} else {
		if !o.machine.CallEnded() {
			o.machine.CallFailed()
		}
	}

	o.mu.Lock()
	if o.session != nil && o.session.ID == session.ID {
		o.session = nil
	}
	o.mu.Unlock()

	if !dialFailed && session.handle != nil {
		if provider := o.registry.Active(); provider != nil {
			o.bestEffortHangup(ctx, provider, session.handle)
		}
	}
}

func (o *Orchestrator) bestEffortHangup(ctx context.Context, provider telephony.TelephonyProvider, h telephony.CallHandle) {
	if err := provider.Hangup(ctx, h); err != nil {
		o.log.Warn("provider hangup failed", "provider", provider.Name(), "err", err)
	}
}

func (o *Orchestrator) failCurrentSession(ctx context.Context) {
	o.mu.Lock()
	session := o.session
	o.session = nil
	o.mu.Unlock()
	if session == nil {
		return
	}
	o.stopTicker()
	duration := o.machine.Snapshot().DurationSeconds
	if err := o.recorder.FinishWithDuration(ctx, session.RecordID, duration); err != nil {
		o.log.Warn("final duration write failed", "record_id", session.RecordID, "err", err)
	}
	o.machine.CallFailed()
}

func (o *Orchestrator) currentSession(providerCallID string) *CallSession {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.session == nil {
		return nil
	}
	if providerCallID != "" && o.session.handle != nil && o.session.handle.ProviderCallID() != providerCallID {
		return nil
	}
	return o.session
}

// startTicker drives TickDuration once per second while the call is
// active. The tick effect is gated by the machine, so a straggler tick
// after the call ends cannot advance anything.
func (o *Orchestrator) startTicker() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.tickerStop != nil {
		return
	}
	stop := make(chan struct{})
	o.tickerStop = stop
	go func() {
		t := time.NewTicker(time.Second)
		defer t.Stop()
		for {
			select {
			case <-stop:
				return
			case <-t.C:
				o.machine.TickDuration()
			}
		}
	}()
}

func (o *Orchestrator) stopTicker() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.tickerStop != nil {
		close(o.tickerStop)
		o.tickerStop = nil
	}
}
