package orchestrator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"crm-telephony/internal/callstate"
	"crm-telephony/internal/directory"
	"crm-telephony/internal/history"
	"crm-telephony/internal/telephony"
)

type fakeHandle struct {
	id       string
	provider string
}

func (h fakeHandle) ProviderCallID() string { return h.id }
func (h fakeHandle) Provider() string       { return h.provider }

// fakeProvider records every control operation for assertions.
type fakeProvider struct {
	mu   sync.Mutex
	name string
	caps telephony.Capabilities

	makeCallErr error
	answerErr   error
	hangupErr   error
	muteErr     error

	calls     []string
	hangups   []string
	answers   []string
	rejects   []string
	digits    []string
	destroyed int
}

func newFakeProvider(name string, caps telephony.Capabilities) *fakeProvider {
	return &fakeProvider{name: name, caps: caps}
}

func (p *fakeProvider) Name() string                         { return p.name }
func (p *fakeProvider) Capabilities() telephony.Capabilities { return p.caps }

func (p *fakeProvider) InitializeDevice(ctx context.Context, userID string, onIncoming telephony.IncomingFunc) (*telephony.Device, error) {
	return &telephony.Device{Provider: p.name, UserID: userID, State: telephony.DeviceStateReady}, nil
}

func (p *fakeProvider) MakeCall(ctx context.Context, req telephony.CallRequest) (telephony.CallHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.makeCallErr != nil {
		return nil, p.makeCallErr
	}
	p.calls = append(p.calls, req.To)
	return fakeHandle{id: "call-" + req.To, provider: p.name}, nil
}

func (p *fakeProvider) Hangup(ctx context.Context, h telephony.CallHandle) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hangups = append(p.hangups, h.ProviderCallID())
	return p.hangupErr
}

func (p *fakeProvider) Answer(ctx context.Context, h telephony.CallHandle) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.answerErr != nil {
		return p.answerErr
	}
	p.answers = append(p.answers, h.ProviderCallID())
	return nil
}

func (p *fakeProvider) Reject(ctx context.Context, h telephony.CallHandle) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rejects = append(p.rejects, h.ProviderCallID())
	return nil
}

func (p *fakeProvider) SetMuted(ctx context.Context, h telephony.CallHandle, muted bool) (bool, error) {
	if !p.caps.SupportsMute {
		return false, nil
	}
	if p.muteErr != nil {
		return false, p.muteErr
	}
	return true, nil
}

func (p *fakeProvider) SetHold(ctx context.Context, h telephony.CallHandle, onHold bool) (bool, error) {
	if !p.caps.SupportsHold {
		return false, nil
	}
	return true, nil
}

func (p *fakeProvider) SendDigits(ctx context.Context, h telephony.CallHandle, digits string) (bool, error) {
	if !p.caps.SupportsDTMF {
		return false, nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.digits = append(p.digits, digits)
	return true, nil
}

func (p *fakeProvider) SendSMS(ctx context.Context, req telephony.SMSRequest) (telephony.SMSResult, error) {
	return telephony.SMSResult{ProviderMessageID: "sms-1", Accepted: true}, nil
}

func (p *fakeProvider) FetchCallLogs(ctx context.Context, r telephony.LogRange) ([]telephony.NormalizedLog, error) {
	return nil, nil
}

func (p *fakeProvider) ValidateNumber(number string) telephony.Validation {
	return telephony.ValidateNumber(number)
}

func (p *fakeProvider) Destroy(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.destroyed++
	return nil
}

func (p *fakeProvider) hangupCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.hangups)
}

type fixture struct {
	orch     *Orchestrator
	provider *fakeProvider
	repo     *history.MemoryRepo
	machine  *callstate.Machine
}

func newFixture(t *testing.T, caps telephony.Capabilities) *fixture {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	provider := newFakeProvider("device", caps)
	registry := telephony.NewRegistry(map[string]telephony.Factory{
		"device": func() telephony.TelephonyProvider { return provider },
	}, log)
	repo := history.NewMemoryRepo()
	recorder := history.NewRecorder(repo)
	machine := callstate.New()
	coordinator := NewIncomingCoordinator(recorder, func(context.Context) []directory.Entry {
		return []directory.Entry{{ID: "lead-7", Name: "Dana Cruz", Phone: "+15550001111"}}
	})
	orch := New(registry, machine, recorder, coordinator, log)
	if _, err := orch.UseProvider(context.Background(), "device", "user-1"); err != nil {
		t.Fatalf("UseProvider: %v", err)
	}
	return &fixture{orch: orch, provider: provider, repo: repo, machine: machine}
}

func allCaps() telephony.Capabilities {
	return telephony.Capabilities{SupportsMute: true, SupportsHold: true, SupportsDirectHangup: true, SupportsDTMF: true}
}

func TestDial_HappyPathCreatesRecordAndRings(t *testing.T) {
	f := newFixture(t, allCaps())
	ctx := context.Background()

	if err := f.orch.Dial(ctx, "+1 (555) 010-2000", "lead-1"); err != nil {
		t.Fatalf("Dial: %v", err)
	}
	if got := f.machine.State(); got != callstate.StateRinging {
		t.Fatalf("expected ringing, got %v", got)
	}
	if f.repo.Len() != 1 {
		t.Fatalf("expected one history record, got %d", f.repo.Len())
	}
	recs, _ := f.repo.List(ctx, 10)
	rec := recs[0]
	if rec.Disposition != history.DispositionRinging {
		t.Fatalf("new record disposition = %q", rec.Disposition)
	}
	if rec.Type != history.CallTypeOutgoing {
		t.Fatalf("record type = %q", rec.Type)
	}
	if rec.ProviderCallID == "" {
		t.Fatalf("provider call id must be attached after dial")
	}
}

func TestDial_InvalidNumberFailsBeforeProvider(t *testing.T) {
	f := newFixture(t, allCaps())

	err := f.orch.Dial(context.Background(), "not-a-number", "")
	var invalid *telephony.InvalidNumberError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidNumberError, got %v", err)
	}
	if len(f.provider.calls) != 0 {
		t.Fatalf("provider must not be called for an invalid number")
	}
	if f.repo.Len() != 0 {
		t.Fatalf("no history record for a rejected dial string")
	}
	if got := f.machine.State(); got != callstate.StateIdle {
		t.Fatalf("expected idle, got %v", got)
	}
}

func TestDial_SecondDialRejectedNotQueued(t *testing.T) {
	f := newFixture(t, allCaps())
	ctx := context.Background()

	if err := f.orch.Dial(ctx, "+15550102000", ""); err != nil {
		t.Fatalf("first dial: %v", err)
	}
	if err := f.orch.Dial(ctx, "+15550103000", ""); !errors.Is(err, ErrCallInProgress) {
		t.Fatalf("expected ErrCallInProgress, got %v", err)
	}
	if len(f.provider.calls) != 1 {
		t.Fatalf("second dial must not reach the provider, calls=%d", len(f.provider.calls))
	}
}

func TestDial_ProviderFailureResetsAndPersists(t *testing.T) {
	f := newFixture(t, allCaps())
	f.provider.makeCallErr = &telephony.CallInitError{Provider: "device", Number: "+15550102000", Err: errors.New("upstream 503")}

	err := f.orch.Dial(context.Background(), "+15550102000", "")
	var initErr *telephony.CallInitError
	if !errors.As(err, &initErr) {
		t.Fatalf("expected CallInitError, got %v", err)
	}
	if got := f.machine.State(); got != callstate.StateIdle {
		t.Fatalf("expected reset to idle, got %v", got)
	}
	// The attempt record survives the failure with zero duration.
	recs, _ := f.repo.List(context.Background(), 10)
	if len(recs) != 1 || recs[0].DurationSeconds != 0 {
		t.Fatalf("failed attempt must keep its record with duration 0: %+v", recs)
	}
	if recs[0].Disposition != history.DispositionRinging {
		t.Fatalf("never-connected attempt keeps its last disposition, got %q", recs[0].Disposition)
	}
}

func TestAcceptedWritesHistoryBeforeActive(t *testing.T) {
	f := newFixture(t, allCaps())
	ctx := context.Background()

	if err := f.orch.Dial(ctx, "+15550102000", ""); err != nil {
		t.Fatalf("Dial: %v", err)
	}
	recs, _ := f.repo.List(ctx, 1)
	f.orch.HandleCallAccepted(ctx, recs[0].ProviderCallID)

	if got := f.machine.State(); got != callstate.StateActive {
		t.Fatalf("expected active, got %v", got)
	}
	got, _ := f.repo.Get(recs[0].ID)
	if got.Disposition != history.DispositionAnswered {
		t.Fatalf("answered must already be persisted once active is observable, got %q", got.Disposition)
	}
	f.orch.EndCall(ctx)
}

func TestEndCall_WritesDurationThenResetsThenHangsUp(t *testing.T) {
	f := newFixture(t, allCaps())
	ctx := context.Background()

	if err := f.orch.Dial(ctx, "+15550102000", ""); err != nil {
		t.Fatalf("Dial: %v", err)
	}
	f.orch.HandleCallAccepted(ctx, "")
	for i := 0; i < 42; i++ {
		f.machine.TickDuration()
	}

	f.orch.EndCall(ctx)

	if got := f.machine.State(); got != callstate.StateIdle {
		t.Fatalf("expected idle after end, got %v", got)
	}
	recs, _ := f.repo.List(ctx, 1)
	if recs[0].DurationSeconds != 42 {
		t.Fatalf("duration = %d, want 42", recs[0].DurationSeconds)
	}
	if recs[0].Disposition != history.FormatCompleted(42) {
		t.Fatalf("disposition = %q, want %q", recs[0].Disposition, history.FormatCompleted(42))
	}
	if f.provider.hangupCount() != 1 {
		t.Fatalf("expected one provider hangup, got %d", f.provider.hangupCount())
	}
}

func TestEndCall_ProviderHangupFailureIsAbsorbed(t *testing.T) {
	f := newFixture(t, allCaps())
	ctx := context.Background()
	f.provider.hangupErr = errors.New("backend unreachable")

	if err := f.orch.Dial(ctx, "+15550102000", ""); err != nil {
		t.Fatalf("Dial: %v", err)
	}
	f.orch.HandleCallAccepted(ctx, "")
	f.orch.EndCall(ctx)

	if got := f.machine.State(); got != callstate.StateIdle {
		t.Fatalf("local state must reset even when the provider hangup fails, got %v", got)
	}
	if f.orch.View().Session != nil {
		t.Fatalf("session must be cleared")
	}
}

func TestEndCall_WhileIdleIsSafe(t *testing.T) {
	f := newFixture(t, allCaps())
	f.orch.EndCall(context.Background())
	if got := f.machine.State(); got != callstate.StateIdle {
		t.Fatalf("expected idle, got %v", got)
	}
}

func TestIncoming_IdentifiedAndSurfaced(t *testing.T) {
	f := newFixture(t, allCaps())

	var surfaced *IncomingCallContext
	f.orch.SetOnIncoming(func(ictx *IncomingCallContext) { surfaced = ictx })

	f.orch.HandleIncoming(telephony.IncomingEvent{
		Provider:       "device",
		ProviderCallID: "in-1",
		From:           "+15550001111",
		OccurredAt:     time.Now(),
	})

	if surfaced == nil {
		t.Fatalf("incoming call must be surfaced")
	}
	if surfaced.Identity.Name != "Dana Cruz" || !surfaced.Identity.Known {
		t.Fatalf("caller must resolve against the directory: %+v", surfaced.Identity)
	}
	if surfaced.PendingSince.IsZero() {
		t.Fatalf("PendingSince must be set")
	}
	if got := f.machine.State(); got != callstate.StateRinging {
		t.Fatalf("expected ringing, got %v", got)
	}
	rec, ok := f.repo.Get(surfaced.RecordID)
	if !ok || rec.Type != history.CallTypeIncoming {
		t.Fatalf("incoming record must exist: %+v", rec)
	}
}

func TestIncoming_UnknownCallerSentinel(t *testing.T) {
	f := newFixture(t, allCaps())

	var surfaced *IncomingCallContext
	f.orch.SetOnIncoming(func(ictx *IncomingCallContext) { surfaced = ictx })

	f.orch.HandleIncoming(telephony.IncomingEvent{Provider: "device", ProviderCallID: "in-2", From: "+19998887777"})

	if surfaced == nil {
		t.Fatalf("incoming call must be surfaced")
	}
	if surfaced.Identity.Known || surfaced.Identity.Name != directory.Unknown().Name {
		t.Fatalf("unmatched caller must use the sentinel, got %+v", surfaced.Identity)
	}
}

func TestIncoming_WhileBusyRecordedAsMissed(t *testing.T) {
	f := newFixture(t, allCaps())
	ctx := context.Background()

	if err := f.orch.Dial(ctx, "+15550102000", ""); err != nil {
		t.Fatalf("Dial: %v", err)
	}

	surfacedSecond := false
	f.orch.SetOnIncoming(func(*IncomingCallContext) { surfacedSecond = true })
	f.orch.HandleIncoming(telephony.IncomingEvent{Provider: "device", ProviderCallID: "in-3", From: "+15550001111"})

	if surfacedSecond {
		t.Fatalf("a ring during a live session must not be surfaced")
	}
	recs, _ := f.repo.List(ctx, 10)
	var missed bool
	for _, r := range recs {
		if r.Type == history.CallTypeIncoming && r.Disposition == history.DispositionMissed {
			missed = true
		}
	}
	if !missed {
		t.Fatalf("busy incoming ring must be recorded as missed: %+v", recs)
	}
}

func TestAnswerIncoming_ActivatesAndTracksDuration(t *testing.T) {
	f := newFixture(t, allCaps())
	ctx := context.Background()

	f.orch.HandleIncoming(telephony.IncomingEvent{Provider: "device", ProviderCallID: "in-4", From: "+15550001111"})
	if err := f.orch.AnswerIncoming(ctx); err != nil {
		t.Fatalf("AnswerIncoming: %v", err)
	}
	if got := f.machine.State(); got != callstate.StateActive {
		t.Fatalf("expected active, got %v", got)
	}
	if len(f.provider.answers) != 1 || f.provider.answers[0] != "in-4" {
		t.Fatalf("provider answer not issued: %v", f.provider.answers)
	}
	view := f.orch.View()
	if view.Session == nil || view.Session.Direction != DirectionInbound {
		t.Fatalf("inbound session expected: %+v", view.Session)
	}
	f.orch.EndCall(ctx)
}

func TestAnswerIncoming_WithoutPendingFails(t *testing.T) {
	f := newFixture(t, allCaps())
	if err := f.orch.AnswerIncoming(context.Background()); !errors.Is(err, ErrNoIncomingCall) {
		t.Fatalf("expected ErrNoIncomingCall, got %v", err)
	}
}

func TestRejectIncoming_PersistsAndResets(t *testing.T) {
	f := newFixture(t, allCaps())
	ctx := context.Background()

	var surfaced *IncomingCallContext
	f.orch.SetOnIncoming(func(ictx *IncomingCallContext) { surfaced = ictx })
	f.orch.HandleIncoming(telephony.IncomingEvent{Provider: "device", ProviderCallID: "in-5", From: "+15550001111"})

	if err := f.orch.RejectIncoming(ctx); err != nil {
		t.Fatalf("RejectIncoming: %v", err)
	}
	if got := f.machine.State(); got != callstate.StateIdle {
		t.Fatalf("expected idle, got %v", got)
	}
	rec, _ := f.repo.Get(surfaced.RecordID)
	if rec.Disposition != history.DispositionRejected {
		t.Fatalf("disposition = %q, want rejected", rec.Disposition)
	}
	if len(f.provider.rejects) != 1 {
		t.Fatalf("provider reject not issued")
	}
}

func TestToggleMute_OnlyWhileActive(t *testing.T) {
	f := newFixture(t, allCaps())
	ctx := context.Background()

	if muted, err := f.orch.ToggleMute(ctx); err != nil || muted {
		t.Fatalf("mute while idle must be a no-op, got (%v, %v)", muted, err)
	}

	if err := f.orch.Dial(ctx, "+15550102000", ""); err != nil {
		t.Fatalf("Dial: %v", err)
	}
	f.orch.HandleCallAccepted(ctx, "")

	muted, err := f.orch.ToggleMute(ctx)
	if err != nil || !muted {
		t.Fatalf("expected muted=true, got (%v, %v)", muted, err)
	}
	muted, err = f.orch.ToggleMute(ctx)
	if err != nil || muted {
		t.Fatalf("second toggle must unmute, got (%v, %v)", muted, err)
	}
	f.orch.EndCall(ctx)
}

func TestToggleMute_ProviderErrorRevertsFlag(t *testing.T) {
	f := newFixture(t, allCaps())
	ctx := context.Background()
	f.provider.muteErr = errors.New("mute endpoint down")

	if err := f.orch.Dial(ctx, "+15550102000", ""); err != nil {
		t.Fatalf("Dial: %v", err)
	}
	f.orch.HandleCallAccepted(ctx, "")

	muted, err := f.orch.ToggleMute(ctx)
	if err == nil {
		t.Fatalf("expected provider error")
	}
	if muted {
		t.Fatalf("local flag must revert when the provider refused")
	}
	if f.machine.Snapshot().IsMuted {
		t.Fatalf("machine flag must revert too")
	}
	f.orch.EndCall(ctx)
}

func TestUnsupportedControlsAreReportedNoOps(t *testing.T) {
	f := newFixture(t, telephony.Capabilities{})
	ctx := context.Background()

	if err := f.orch.Dial(ctx, "+15550102000", ""); err != nil {
		t.Fatalf("Dial: %v", err)
	}
	f.orch.HandleCallAccepted(ctx, "")

	if muted, err := f.orch.ToggleMute(ctx); err != nil || muted {
		t.Fatalf("mute without capability must no-op, got (%v, %v)", muted, err)
	}
	if held, err := f.orch.ToggleHold(ctx); err != nil || held {
		t.Fatalf("hold without capability must no-op, got (%v, %v)", held, err)
	}
	if applied, err := f.orch.SendDTMF(ctx, "123"); err != nil || applied {
		t.Fatalf("dtmf without capability must no-op, got (%v, %v)", applied, err)
	}
	f.orch.EndCall(ctx)
}

func TestSendDTMF_ActiveOnly(t *testing.T) {
	f := newFixture(t, allCaps())
	ctx := context.Background()

	if applied, err := f.orch.SendDTMF(ctx, "1"); err != nil || applied {
		t.Fatalf("dtmf while idle must no-op, got (%v, %v)", applied, err)
	}

	if err := f.orch.Dial(ctx, "+15550102000", ""); err != nil {
		t.Fatalf("Dial: %v", err)
	}
	f.orch.HandleCallAccepted(ctx, "")

	applied, err := f.orch.SendDTMF(ctx, "42#")
	if err != nil || !applied {
		t.Fatalf("dtmf while active must apply, got (%v, %v)", applied, err)
	}
	if len(f.provider.digits) != 1 || f.provider.digits[0] != "42#" {
		t.Fatalf("digits not forwarded: %v", f.provider.digits)
	}
	f.orch.EndCall(ctx)
}

func TestDisconnectEvent_EndsSession(t *testing.T) {
	f := newFixture(t, allCaps())
	ctx := context.Background()

	if err := f.orch.Dial(ctx, "+15550102000", ""); err != nil {
		t.Fatalf("Dial: %v", err)
	}
	f.orch.HandleCallAccepted(ctx, "")
	f.orch.HandleCallDisconnected(ctx, "call-+15550102000")

	if got := f.machine.State(); got != callstate.StateIdle {
		t.Fatalf("expected idle after remote disconnect, got %v", got)
	}
	if f.orch.View().Session != nil {
		t.Fatalf("session must be cleared")
	}
}

func TestDisconnectEvent_UnknownCallIgnored(t *testing.T) {
	f := newFixture(t, allCaps())
	ctx := context.Background()

	if err := f.orch.Dial(ctx, "+15550102000", ""); err != nil {
		t.Fatalf("Dial: %v", err)
	}
	f.orch.HandleCallAccepted(ctx, "")
	f.orch.HandleCallDisconnected(ctx, "some-other-call")

	if got := f.machine.State(); got != callstate.StateActive {
		t.Fatalf("event for another call must not touch the session, got %v", got)
	}
	f.orch.EndCall(ctx)
}

func TestActivityLog_NeverInvokedForCallCompletion(t *testing.T) {
	f := newFixture(t, allCaps())
	ctx := context.Background()

	var entries []ActivityEntry
	f.orch.SetActivityLog(func(e ActivityEntry) { entries = append(entries, e) })

	if err := f.orch.Dial(ctx, "+15550102000", ""); err != nil {
		t.Fatalf("Dial: %v", err)
	}
	f.orch.HandleCallAccepted(ctx, "")
	f.orch.EndCall(ctx)

	for _, e := range entries {
		if strings.Contains(e.Title, "completed") {
			t.Fatalf("call completion must only reach history, got activity entry %+v", e)
		}
	}
	if len(entries) != 0 {
		t.Fatalf("no activity entries expected for a plain call, got %d", len(entries))
	}

	f.orch.LogActivity(ActivityEntry{Type: "note", Title: "followup scheduled"})
	if len(entries) != 1 {
		t.Fatalf("manual entries must pass through, got %d", len(entries))
	}
}

func TestView_MergesSessionAndSnapshot(t *testing.T) {
	f := newFixture(t, allCaps())
	ctx := context.Background()

	view := f.orch.View()
	if view.Session != nil || view.Snapshot.State != callstate.StateIdle {
		t.Fatalf("idle view: %+v", view)
	}
	if view.Provider != "device" {
		t.Fatalf("provider = %q", view.Provider)
	}

	if err := f.orch.Dial(ctx, "+15550102000", "lead-1"); err != nil {
		t.Fatalf("Dial: %v", err)
	}
	view = f.orch.View()
	if view.Session == nil || view.Session.Direction != DirectionOutbound {
		t.Fatalf("outbound session expected: %+v", view.Session)
	}
	if !view.Caps.SupportsDTMF {
		t.Fatalf("capabilities must reflect the active provider")
	}
	f.orch.EndCall(ctx)
}
