package telephony

import (
	"context"
	"log/slog"
	"sync"
)

// Factory constructs a provider instance by name.
type Factory func() TelephonyProvider

// Registry owns the single active provider instance.
//
// Invariants:
// - At most one provider instance exists at a time.
// - Requesting the current provider's name returns the existing instance
//   unchanged.
// - Requesting a different name fully destroys the current instance
//   (awaiting completion) before constructing the new one.
// - Switching is forbidden while a call session is live: it fails with
//   *SwitchRejectedError and leaves the current instance untouched.
//
// Nothing outside the registry constructs or destroys providers, and the
// UI never holds a provider reference.
type Registry struct {
	mu        sync.Mutex
	active    TelephonyProvider
	factories map[string]Factory
	inCall    func() bool
	log       *slog.Logger
}

func NewRegistry(factories map[string]Factory, log *slog.Logger) *Registry {
	return &Registry{
		factories: factories,
		inCall:    func() bool { return false },
		log:       log,
	}
}

// SetInCallGuard installs the live-session check consulted before any
// destructive switch. The orchestrator wires its state machine in here.
func (r *Registry) SetInCallGuard(fn func() bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if fn != nil {
		r.inCall = fn
	}
}

// Active returns the current instance, or nil before the first Create.
func (r *Registry) Active() TelephonyProvider {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// ActiveName returns the current provider name, or "" before the first
// Create.
func (r *Registry) ActiveName() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == nil {
		return ""
	}
	return r.active.Name()
}

// Create returns the active instance for name, tearing down a
// different-named predecessor first. Same-name requests are cheap and
// side-effect free.
func (r *Registry) Create(ctx context.Context, name string) (TelephonyProvider, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active != nil && r.active.Name() == name {
		return r.active, nil
	}

	factory, ok := r.factories[name]
	if !ok {
		return nil, ErrUnknownProvider
	}

	if r.active != nil {
		if r.inCall() {
			return nil, &SwitchRejectedError{Current: r.active.Name(), Requested: name}
		}
		// Await full teardown before the replacement exists; two live
		// provider instances must never overlap.
		if err := r.active.Destroy(ctx); err != nil {
			r.log.Warn("provider destroy during switch failed", "provider", r.active.Name(), "err", err)
		}
		r.active = nil
	}

	r.active = factory()
	r.log.Info("provider created", "provider", name)
	return r.active, nil
}

// Switch replaces the active provider. It is Create with the live-session
// guard applied even when no predecessor exists, so callers get a uniform
// rejection surface.
func (r *Registry) Switch(ctx context.Context, name string) (TelephonyProvider, error) {
	r.mu.Lock()
	if r.inCall() && (r.active == nil || r.active.Name() != name) {
		current := ""
		if r.active != nil {
			current = r.active.Name()
		}
		r.mu.Unlock()
		return nil, &SwitchRejectedError{Current: current, Requested: name}
	}
	r.mu.Unlock()
	return r.Create(ctx, name)
}

// DestroyActive tears down the current instance, if any.
func (r *Registry) DestroyActive(ctx context.Context) error {
	r.mu.Lock()
	active := r.active
	r.active = nil
	r.mu.Unlock()
	if active == nil {
		return nil
	}
	return active.Destroy(ctx)
}
