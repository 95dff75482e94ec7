package widget

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"crm-telephony/internal/audio"
)

// Runtime is the third-party widget surface the bootstrapper drives. The
// core depends only on this interface, never on the vendor's internals:
// stages load in order, an interface eventually appears, initialization is
// synchronous and may fail, visibility can be toggled.
type Runtime interface {
	// LoadStage loads one delivery stage. StageDependency must have
	// finished before StageMain is requested.
	LoadStage(ctx context.Context, stage string) error
	// Ready reports whether the widget's control interface has appeared.
	Ready(ctx context.Context) bool
	// Init initializes the widget with a short-lived credential.
	Init(ctx context.Context, token string) error
	Show(ctx context.Context) error
	Hide(ctx context.Context) error
}

// Closer is implemented by runtimes that expose an explicit close. When
// absent, teardown only hides the widget; the vendor payload itself is
// never unloaded.
type Closer interface {
	Close(ctx context.Context) error
}

// Load stages, in required order.
const (
	StageDependency = "dependency"
	StageMain       = "main"
)

// CredentialFunc fetches the short-lived widget credential.
type CredentialFunc func(ctx context.Context, userID string) (string, error)

// MicrophoneProbe is the slice of the audio monitor the bootstrapper
// drives: the widget needs microphone access, so the prompt is triggered
// before the vendor payload loads.
type MicrophoneProbe interface {
	CheckPermission(ctx context.Context) (audio.PermissionState, error)
	RequestAccess(ctx context.Context) error
}

var (
	ErrTornDown = errors.New("widget: bootstrapper torn down")
	// ErrNeverReady means the control interface did not appear within the
	// wait budget. The poll is capped deliberately: an unbounded wait on a
	// vendor payload that never loads would hang the provider forever.
	ErrNeverReady = errors.New("widget: interface never became ready")
)

// Config tunes the bootstrap sequence. Zero values get the defaults that
// mirror the vendor's documented timings.
type Config struct {
	PollInterval time.Duration // readiness poll cadence (default 100ms)
	WaitTimeout  time.Duration // readiness cap (default 15s)
	InitRetries  int           // attempts for synchronous init (default 3)
	RetryBackoff time.Duration // backoff between init attempts (default 300ms)
}

func (c Config) withDefaults() Config {
	out := c
	if out.PollInterval <= 0 {
		out.PollInterval = 100 * time.Millisecond
	}
	if out.WaitTimeout <= 0 {
		out.WaitTimeout = 15 * time.Second
	}
	if out.InitRetries <= 0 {
		out.InitRetries = 3
	}
	if out.RetryBackoff <= 0 {
		out.RetryBackoff = 300 * time.Millisecond
	}
	return out
}

// Bootstrapper runs the widget bring-up sequence for the callback
// provider: credential -> ordered stage loads -> readiness poll ->
// initialization with retries -> show. Teardown reverses visibility and
// stops any in-flight poll from rescheduling.
type Bootstrapper struct {
	cfg        Config
	runtime    Runtime
	credential CredentialFunc
	mic        MicrophoneProbe
	log        *slog.Logger

	mu       sync.Mutex
	alive    bool
	visible  bool
	attempts int
}

func NewBootstrapper(cfg Config, runtime Runtime, credential CredentialFunc, log *slog.Logger) *Bootstrapper {
	return &Bootstrapper{
		cfg:        cfg.withDefaults(),
		runtime:    runtime,
		credential: credential,
		log:        log,
	}
}

// SetMicrophoneProbe installs the optional microphone permission probe.
func (b *Bootstrapper) SetMicrophoneProbe(p MicrophoneProbe) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.mic = p
}

// Attempts reports how many init attempts the last bootstrap made.
func (b *Bootstrapper) Attempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts
}

// Bootstrap runs the full sequence. It is safe to call again after a
// failure or a teardown; each run starts fresh.
func (b *Bootstrapper) Bootstrap(ctx context.Context, userID string) error {
	b.mu.Lock()
	b.alive = true
	b.attempts = 0
	b.mu.Unlock()

	token, err := b.credential(ctx, userID)
	if err != nil {
		return fmt.Errorf("widget: credential fetch: %w", err)
	}

	b.requestMicrophone(ctx)

	// Ordered loading: the dependency must finish initializing before the
	// main stage is requested.
	for _, stage := range []string{StageDependency, StageMain} {
		if !b.isAlive() {
			return ErrTornDown
		}
		if err := b.runtime.LoadStage(ctx, stage); err != nil {
			return fmt.Errorf("widget: load %s stage: %w", stage, err)
		}
	}

	if err := b.waitReady(ctx); err != nil {
		return err
	}

	if err := b.initWithRetry(ctx, token); err != nil {
		return err
	}

	if err := b.runtime.Show(ctx); err != nil {
		return fmt.Errorf("widget: show: %w", err)
	}
	b.mu.Lock()
	b.visible = true
	b.mu.Unlock()
	return nil
}

// waitReady polls for the control interface. Every iteration re-checks
// the liveness flag so a teardown mid-poll stops the loop instead of
// letting it reschedule forever.
func (b *Bootstrapper) waitReady(ctx context.Context) error {
	deadline := time.Now().Add(b.cfg.WaitTimeout)
	ticker := time.NewTicker(b.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if !b.isAlive() {
			return ErrTornDown
		}
		if b.runtime.Ready(ctx) {
			return nil
		}
		if time.Now().After(deadline) {
			return ErrNeverReady
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// initWithRetry initializes the widget, retrying synchronous failures up
// to the configured budget with a fixed backoff between attempts.
func (b *Bootstrapper) initWithRetry(ctx context.Context, token string) error {
	var lastErr error
	for attempt := 1; attempt <= b.cfg.InitRetries; attempt++ {
		if !b.isAlive() {
			return ErrTornDown
		}
		b.mu.Lock()
		b.attempts = attempt
		b.mu.Unlock()

		lastErr = b.runtime.Init(ctx, token)
		if lastErr == nil {
			return nil
		}
		b.log.Warn("widget init attempt failed", "attempt", attempt, "err", lastErr)

		if attempt < b.cfg.InitRetries {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(b.cfg.RetryBackoff):
			}
		}
	}
	return fmt.Errorf("widget: init failed after %d attempts: %w", b.cfg.InitRetries, lastErr)
}

// Teardown hides the widget and, when the runtime exposes a close method,
// invokes it. Idempotent; safe before any bootstrap.
func (b *Bootstrapper) Teardown(ctx context.Context) error {
	b.mu.Lock()
	wasAlive := b.alive
	wasVisible := b.visible
	b.alive = false
	b.visible = false
	b.mu.Unlock()

	if !wasAlive && !wasVisible {
		return nil
	}

	if wasVisible {
		if err := b.runtime.Hide(ctx); err != nil {
			b.log.Warn("widget hide failed", "err", err)
		}
	}
	if closer, ok := b.runtime.(Closer); ok {
		if err := closer.Close(ctx); err != nil {
			b.log.Warn("widget close failed", "err", err)
		}
	}
	return nil
}

// requestMicrophone triggers the permission prompt before the vendor
// payload loads, so the widget finds the microphone already granted.
// Denial is not fatal here; the widget surfaces its own error when it
// actually needs capture.
func (b *Bootstrapper) requestMicrophone(ctx context.Context) {
	b.mu.Lock()
	mic := b.mic
	b.mu.Unlock()
	if mic == nil {
		return
	}

	state, err := mic.CheckPermission(ctx)
	if errors.Is(err, audio.ErrNoDevice) {
		// Headless build without a capture device; nothing to prompt.
		return
	}
	if err != nil {
		b.log.Warn("microphone permission check failed", "err", err)
		return
	}
	if state == audio.PermissionGranted {
		return
	}
	if err := mic.RequestAccess(ctx); err != nil {
		b.log.Warn("microphone access request failed", "err", err)
	}
}

func (b *Bootstrapper) isAlive() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.alive
}
