package callstate

import "testing"

func TestMachine_HappyPath(t *testing.T) {
	m := New()
	if m.State() != StateIdle {
		t.Fatalf("expected idle, got %v", m.State())
	}
	if !m.StartDial() {
		t.Fatalf("expected StartDial to succeed from idle")
	}
	if !m.StartRinging() {
		t.Fatalf("expected dialing -> ringing")
	}
	if !m.CallAccepted() {
		t.Fatalf("expected ringing -> active")
	}
	if got := m.TickDuration(); got != 1 {
		t.Fatalf("expected duration 1, got %d", got)
	}
	if got := m.TickDuration(); got != 2 {
		t.Fatalf("expected duration 2, got %d", got)
	}
	if !m.CallEnded() {
		t.Fatalf("expected active -> ended")
	}
	// ended auto-resets to idle
	s := m.Snapshot()
	if s.State != StateIdle || s.DurationSeconds != 0 {
		t.Fatalf("expected idle reset, got %+v", s)
	}
}

func TestMachine_SecondDialRejected(t *testing.T) {
	m := New()
	if !m.StartDial() {
		t.Fatalf("first dial must succeed")
	}
	if m.StartDial() {
		t.Fatalf("second dial while non-idle must be rejected, not queued")
	}
	m.CallAccepted()
	if m.StartDial() {
		t.Fatalf("dial while active must be rejected")
	}
}

func TestMachine_MuteHoldOnlyWhileActive(t *testing.T) {
	m := New()

	// Speculative toggles before any call: silent no-ops.
	if m.ToggleMute() {
		t.Fatalf("mute must stay false while idle")
	}
	if m.ToggleHold() {
		t.Fatalf("hold must stay false while idle")
	}

	m.StartDial()
	if m.ToggleMute() {
		t.Fatalf("mute must stay false while dialing")
	}

	m.CallAccepted()
	if !m.ToggleMute() {
		t.Fatalf("mute toggle must apply while active")
	}
	if !m.ToggleHold() {
		t.Fatalf("hold toggle must apply while active")
	}
	s := m.Snapshot()
	if !s.IsMuted || !s.IsOnHold {
		t.Fatalf("expected muted+held snapshot, got %+v", s)
	}

	m.CallEnded()
	s = m.Snapshot()
	if s.IsMuted || s.IsOnHold {
		t.Fatalf("flags must clear on ended, got %+v", s)
	}
}

func TestMachine_DurationNeverTicksOutsideActive(t *testing.T) {
	m := New()
	if got := m.TickDuration(); got != 0 {
		t.Fatalf("tick while idle must not advance, got %d", got)
	}
	m.StartDial()
	if got := m.TickDuration(); got != 0 {
		t.Fatalf("tick while dialing must not advance, got %d", got)
	}
	m.CallAccepted()
	m.TickDuration()
	m.CallEnded()
	if got := m.TickDuration(); got != 0 {
		t.Fatalf("tick after ended must not advance, got %d", got)
	}
}

func TestMachine_CallFailedFromAnyState(t *testing.T) {
	m := New()
	if m.CallFailed() {
		t.Fatalf("failed from idle is a no-op")
	}

	for _, enter := range []func(*Machine){
		func(m *Machine) { m.StartDial() },
		func(m *Machine) { m.StartDial(); m.StartRinging() },
		func(m *Machine) { m.StartDial(); m.CallAccepted(); m.ToggleMute(); m.ToggleHold() },
	} {
		enter(m)
		if !m.CallFailed() {
			t.Fatalf("CallFailed must apply from any non-idle state")
		}
		s := m.Snapshot()
		if s.State != StateIdle || s.IsMuted || s.IsOnHold || s.DurationSeconds != 0 {
			t.Fatalf("CallFailed must fully reset, got %+v", s)
		}
	}
}

func TestMachine_EndWhileDialing(t *testing.T) {
	m := New()
	m.StartDial()
	if !m.CallEnded() {
		t.Fatalf("ending mid-dial must transition immediately")
	}
	if m.State() != StateIdle {
		t.Fatalf("expected idle after mid-dial end, got %v", m.State())
	}
}

func TestMachine_IncomingRing(t *testing.T) {
	m := New()
	if !m.StartRinging() {
		t.Fatalf("expected idle -> ringing for an incoming call")
	}
	if !m.InCall() {
		t.Fatalf("ringing must count as in-call")
	}
	if !m.CallAccepted() {
		t.Fatalf("expected ringing -> active")
	}
}
