package telephony

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"sync"
	"time"
)

// DeviceProviderConfig configures the device-registered provider.
type DeviceProviderConfig struct {
	// BaseURL is the provider backend root (device credential, register,
	// call control, SMS and log endpoints live under it).
	BaseURL string
	APIKey  string

	// CallerID is the outbound caller id presented on calls and SMS.
	CallerID string

	// RegistrationTimeout bounds the wait for the registered event.
	// The device becomes ready-but-unconfirmed when it elapses.
	RegistrationTimeout time.Duration

	RequestTimeout time.Duration
}

func (c DeviceProviderConfig) withDefaults() DeviceProviderConfig {
	out := c
	if out.RegistrationTimeout <= 0 {
		out.RegistrationTimeout = 10 * time.Second
	}
	if out.RequestTimeout <= 0 {
		out.RequestTimeout = 15 * time.Second
	}
	return out
}

// eventTransport feeds device push events into a hub. The production
// implementation reads a websocket; tests inject a fake.
type eventTransport interface {
	// Listen blocks reading events and emitting them on hub until the
	// context is canceled or the stream fails.
	Listen(ctx context.Context, wsURL, token string, hub *EventHub) error
}

// DeviceProvider is the device-registered softphone backend: the client
// holds a live media leg, so mute/hold/DTMF/direct hangup are all real
// operations, and incoming calls arrive as push events on the registered
// device.
type DeviceProvider struct {
	cfg       DeviceProviderConfig
	client    *backendClient
	creds     *CredentialCache
	transport eventTransport
	log       *slog.Logger

	mu        sync.Mutex
	hub       *EventHub
	device    *Device
	destroyed bool
	cancelWS  context.CancelFunc
}

var deviceCapabilities = Capabilities{
	SupportsMute:         true,
	SupportsHold:         true,
	SupportsDirectHangup: true,
	SupportsDTMF:         true,
}

func NewDeviceProvider(cfg DeviceProviderConfig, creds *CredentialCache, log *slog.Logger) *DeviceProvider {
	cfg = cfg.withDefaults()
	p := &DeviceProvider{
		cfg:    cfg,
		client: newBackendClient(cfg.BaseURL, cfg.APIKey, cfg.RequestTimeout),
		creds:  creds,
		log:    log,
	}
	p.transport = &wsTransport{log: log}
	if p.creds == nil {
		p.creds = NewCredentialCache(nil, &httpCredentialSource{client: p.client, path: "/v1/device/credential"}, "device")
	}
	return p
}

func (p *DeviceProvider) Name() string               { return ProviderDevice }
func (p *DeviceProvider) Capabilities() Capabilities { return deviceCapabilities }

// InitializeDevice acquires a short-lived credential, registers the
// device, then races the registered event against the registration
// timeout. Whichever resolves first wins: on timeout the device is
// ready-but-unconfirmed, and later failures surface through the device's
// error events rather than from this call.
func (p *DeviceProvider) InitializeDevice(ctx context.Context, userID string, onIncoming IncomingFunc) (*Device, error) {
	p.mu.Lock()
	if p.destroyed {
		// A destroyed instance can be re-initialized; it simply starts over.
		p.destroyed = false
	}
	if p.device != nil {
		d := p.device
		p.mu.Unlock()
		return d, nil
	}
	p.mu.Unlock()

	cred, err := p.creds.Get(ctx, userID)
	if err != nil {
		return nil, &DeviceInitError{Provider: ProviderDevice, Reason: "credential fetch failed", Err: err}
	}

	var reg struct {
		DeviceID     string `json:"device_id"`
		WebSocketURL string `json:"websocket_url"`
	}
	if err := p.client.postJSON(ctx, "/v1/device/register", map[string]string{
		"user_id": userID,
		"token":   cred.Token,
	}, &reg); err != nil {
		return nil, &DeviceInitError{Provider: ProviderDevice, Reason: "device registration failed", Err: err}
	}

	wsURL := reg.WebSocketURL
	if wsURL == "" {
		wsURL = cred.WebSocketURL
	}

	hub := NewEventHub()
	wsCtx, cancel := context.WithCancel(context.Background())

	p.mu.Lock()
	p.hub = hub
	p.cancelWS = cancel
	p.mu.Unlock()

	if onIncoming != nil {
		hub.On(EventIncoming, func(e Event) {
			onIncoming(IncomingEvent{
				Provider:       ProviderDevice,
				ProviderCallID: e.ProviderCallID,
				From:           e.From,
				To:             e.To,
				OccurredAt:     e.OccurredAt,
			})
		})
	}

	registered := make(chan struct{}, 1)
	onceID := hub.Once(EventRegistered, func(Event) {
		select {
		case registered <- struct{}{}:
		default:
		}
	})

	if wsURL != "" {
		go func() {
			if err := p.transport.Listen(wsCtx, wsURL, cred.Token, hub); err != nil && wsCtx.Err() == nil {
				p.log.Warn("device event stream ended", "err", err)
				hub.Emit(Event{Kind: EventDisconnect, Message: err.Error(), OccurredAt: time.Now().UTC()})
			}
		}()
	}

	// Race the registered event against the timeout. Both branches disarm
	// the other: the event path stops the timer, the timeout path removes
	// the listener, so neither can fire twice.
	state := DeviceStateReady
	timer := time.NewTimer(p.cfg.RegistrationTimeout)
	select {
	case <-registered:
		timer.Stop()
	case <-timer.C:
		hub.Off(EventRegistered, onceID)
		state = DeviceStateUnconfirmed
		p.log.Warn("device registration unconfirmed", "user_id", userID, "timeout", p.cfg.RegistrationTimeout)
	case <-ctx.Done():
		timer.Stop()
		hub.Off(EventRegistered, onceID)
		cancel()
		return nil, &DeviceInitError{Provider: ProviderDevice, Reason: "canceled while waiting for registration", Err: ctx.Err()}
	}

	dev := &Device{Provider: ProviderDevice, UserID: userID, State: state, Events: hub}
	p.mu.Lock()
	p.device = dev
	p.mu.Unlock()
	return dev, nil
}

func (p *DeviceProvider) MakeCall(ctx context.Context, req CallRequest) (CallHandle, error) {
	if err := p.ensureReady(); err != nil {
		return nil, &CallInitError{Provider: ProviderDevice, Number: req.To, Err: err}
	}
	var resp struct {
		CallID string `json:"call_id"`
	}
	err := p.client.postJSON(ctx, "/v1/calls", map[string]string{
		"to":        req.To,
		"from":      p.cfg.CallerID,
		"record_id": req.RecordID,
	}, &resp)
	if err != nil {
		return nil, &CallInitError{Provider: ProviderDevice, Number: req.To, Err: err}
	}
	return handle{id: resp.CallID, provider: ProviderDevice}, nil
}

func (p *DeviceProvider) Hangup(ctx context.Context, h CallHandle) error {
	return p.callAction(ctx, h, "hangup")
}

func (p *DeviceProvider) Answer(ctx context.Context, h CallHandle) error {
	return p.callAction(ctx, h, "answer")
}

func (p *DeviceProvider) Reject(ctx context.Context, h CallHandle) error {
	return p.callAction(ctx, h, "reject")
}

func (p *DeviceProvider) SetMuted(ctx context.Context, h CallHandle, muted bool) (bool, error) {
	if h == nil {
		return false, nil
	}
	err := p.client.postJSON(ctx, "/v1/calls/"+url.PathEscape(h.ProviderCallID())+"/mute",
		map[string]bool{"muted": muted}, nil)
	if err != nil {
		return false, err
	}
	return true, nil
}

func (p *DeviceProvider) SetHold(ctx context.Context, h CallHandle, onHold bool) (bool, error) {
	if h == nil {
		return false, nil
	}
	err := p.client.postJSON(ctx, "/v1/calls/"+url.PathEscape(h.ProviderCallID())+"/hold",
		map[string]bool{"on_hold": onHold}, nil)
	if err != nil {
		return false, err
	}
	return true, nil
}

func (p *DeviceProvider) SendDigits(ctx context.Context, h CallHandle, digits string) (bool, error) {
	if h == nil || digits == "" {
		return false, nil
	}
	err := p.client.postJSON(ctx, "/v1/calls/"+url.PathEscape(h.ProviderCallID())+"/dtmf",
		map[string]string{"digits": digits}, nil)
	if err != nil {
		return false, err
	}
	return true, nil
}

func (p *DeviceProvider) SendSMS(ctx context.Context, req SMSRequest) (SMSResult, error) {
	var resp struct {
		MessageID string `json:"message_id"`
	}
	err := p.client.postJSON(ctx, "/v1/sms", map[string]string{
		"to":   req.To,
		"from": p.cfg.CallerID,
		"body": req.Body,
	}, &resp)
	if err != nil {
		return SMSResult{}, err
	}
	return SMSResult{ProviderMessageID: resp.MessageID, Accepted: true}, nil
}

func (p *DeviceProvider) FetchCallLogs(ctx context.Context, r LogRange) ([]NormalizedLog, error) {
	q := url.Values{}
	if !r.From.IsZero() {
		q.Set("from", strconv.FormatInt(r.From.Unix(), 10))
	}
	if !r.To.IsZero() {
		q.Set("to", strconv.FormatInt(r.To.Unix(), 10))
	}
	var resp struct {
		Logs []NormalizedLog `json:"logs"`
	}
	if err := p.client.getJSON(ctx, "/v1/calls/logs?"+q.Encode(), &resp); err != nil {
		return nil, err
	}
	return resp.Logs, nil
}

func (p *DeviceProvider) ValidateNumber(number string) Validation {
	return ValidateNumber(number)
}

// Destroy tears down the event stream and forgets the device. Idempotent
// and safe on a never-initialized instance.
func (p *DeviceProvider) Destroy(ctx context.Context) error {
	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return nil
	}
	p.destroyed = true
	hub := p.hub
	cancel := p.cancelWS
	dev := p.device
	p.hub = nil
	p.cancelWS = nil
	p.device = nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if hub != nil {
		hub.Close()
	}
	if dev != nil {
		// Unregistration is best-effort; the backend expires stale devices.
		if err := p.client.postJSON(ctx, "/v1/device/unregister", map[string]string{"user_id": dev.UserID}, nil); err != nil {
			p.log.Warn("device unregister failed", "err", err)
		}
	}
	return nil
}

func (p *DeviceProvider) ensureReady() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.device == nil {
		return ErrNotInitialized
	}
	return nil
}

func (p *DeviceProvider) callAction(ctx context.Context, h CallHandle, action string) error {
	if h == nil || h.ProviderCallID() == "" {
		return fmt.Errorf("telephony: %s requires a call handle", action)
	}
	return p.client.postJSON(ctx, "/v1/calls/"+url.PathEscape(h.ProviderCallID())+"/"+action, nil, nil)
}

// handle is the shared opaque call handle for both providers.
type handle struct {
	id       string
	provider string
}

func (h handle) ProviderCallID() string { return h.id }
func (h handle) Provider() string       { return h.provider }
