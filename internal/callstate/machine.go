package callstate

import (
	"fmt"
	"sync"
)

// State is the lifecycle state of the current call attempt.
type State int

const (
	// StateIdle means no call attempt exists.
	StateIdle State = iota
	// StateDialing is after an outbound request was issued, before ringback.
	StateDialing
	// StateRinging covers outbound ringback and inbound ring alike.
	StateRinging
	// StateActive is a connected call with live audio.
	StateActive
	// StateEnded is the terminal state of a normal call; it resets to idle.
	StateEnded
	// StateFailed is the terminal state of a failed attempt; it resets to idle.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDialing:
		return "dialing"
	case StateRinging:
		return "ringing"
	case StateActive:
		return "active"
	case StateEnded:
		return "ended"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// validTransitions defines which transitions are allowed.
// StateEnded and StateFailed are not listed as sources: both auto-reset
// to idle inside the machine, so no caller ever observes them as a
// resting state.
var validTransitions = map[State][]State{
	StateIdle:    {StateDialing, StateRinging},
	StateDialing: {StateRinging, StateActive, StateEnded, StateFailed},
	StateRinging: {StateActive, StateEnded, StateFailed},
	StateActive:  {StateEnded, StateFailed},
}

func canTransition(from, to State) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Snapshot is an immutable view of the machine, safe to hand to UI code.
type Snapshot struct {
	State           State `json:"state"`
	DurationSeconds int   `json:"duration_seconds"`
	IsMuted         bool  `json:"is_muted"`
	IsOnHold        bool  `json:"is_on_hold"`
}

// Machine is the guarded call state machine.
//
// Invariants:
// - IsMuted/IsOnHold are true only while State == active.
// - ToggleMute/ToggleHold/TickDuration are silent no-ops outside active;
//   UI code may call them speculatively and must never receive an error.
// - ended and failed immediately reset to idle and clear all flags.
//
// The machine holds no timers. The 1-second duration ticker is owned by
// the orchestrator; only its effect (TickDuration) is gated here.
type Machine struct {
	mu sync.Mutex

	state    State
	duration int
	muted    bool
	onHold   bool
}

func New() *Machine {
	return &Machine{state: StateIdle}
}

// Snapshot returns the current observable state.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		State:           m.state,
		DurationSeconds: m.duration,
		IsMuted:         m.muted,
		IsOnHold:        m.onHold,
	}
}

// State returns the current state only.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// InCall reports whether a call attempt is in flight (dialing, ringing
// or active). Used as the provider-switch guard.
func (m *Machine) InCall() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.state {
	case StateDialing, StateRinging, StateActive:
		return true
	default:
		return false
	}
}

// StartDial moves idle -> dialing. It reports false from any other state:
// a second dial while a session exists is rejected, never queued.
func (m *Machine) StartDial() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateIdle {
		return false
	}
	m.state = StateDialing
	m.duration = 0
	return true
}

// StartRinging marks an incoming ring (idle -> ringing) or outbound
// ringback (dialing -> ringing).
func (m *Machine) StartRinging() bool {
	return m.transition(StateRinging)
}

// CallAccepted moves the attempt to active. Duration restarts from zero.
func (m *Machine) CallAccepted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !canTransition(m.state, StateActive) {
		return false
	}
	m.state = StateActive
	m.duration = 0
	return true
}

// CallEnded terminates the attempt and resets to idle. It reports whether
// a transition happened; calling it while idle is a safe no-op.
func (m *Machine) CallEnded() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !canTransition(m.state, StateEnded) {
		return false
	}
	m.reset()
	return true
}

// CallFailed is reachable from any non-idle state and clears mute/hold
// before resetting to idle.
func (m *Machine) CallFailed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateIdle {
		return false
	}
	m.reset()
	return true
}

// ToggleMute flips the mute flag while active; otherwise it is a no-op.
// It returns the flag value after the call.
func (m *Machine) ToggleMute() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateActive {
		return m.muted
	}
	m.muted = !m.muted
	return m.muted
}

// ToggleHold flips the hold flag while active; otherwise it is a no-op.
func (m *Machine) ToggleHold() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateActive {
		return m.onHold
	}
	m.onHold = !m.onHold
	return m.onHold
}

// TickDuration advances the call duration by one second while active.
// Ticks arriving after the call left active are dropped, so duration
// never advances on an ended call.
func (m *Machine) TickDuration() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateActive {
		return m.duration
	}
	m.duration++
	return m.duration
}

func (m *Machine) transition(to State) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !canTransition(m.state, to) {
		return false
	}
	m.state = to
	return true
}

// reset must be called with the lock held.
func (m *Machine) reset() {
	m.state = StateIdle
	m.duration = 0
	m.muted = false
	m.onHold = false
}
