package telephony

import (
	"context"
	"log/slog"
	"net/url"
	"strconv"
	"sync"
	"time"
)

// CallbackProviderConfig configures the server-mediated callback dialer.
type CallbackProviderConfig struct {
	BaseURL string
	APIKey  string

	// AgentNumber is the agent's own configured line. The backend rings it
	// first, then bridges to the destination.
	AgentNumber string

	RequestTimeout time.Duration
}

func (c CallbackProviderConfig) withDefaults() CallbackProviderConfig {
	out := c
	if out.RequestTimeout <= 0 {
		out.RequestTimeout = 15 * time.Second
	}
	return out
}

// WidgetBootstrapper is the slice of internal/widget the provider needs.
type WidgetBootstrapper interface {
	Bootstrap(ctx context.Context, userID string) error
	Teardown(ctx context.Context) error
}

// CallbackProvider is the server-mediated backend: the remote system rings
// the agent's line and bridges it to the destination, so the client never
// holds a media session. Mute/hold/DTMF are structurally impossible and
// are reported no-ops; hangup and reject are server-side termination
// requests. State with the outside world is eventually consistent.
type CallbackProvider struct {
	cfg    CallbackProviderConfig
	client *backendClient
	widget WidgetBootstrapper
	log    *slog.Logger

	mu         sync.Mutex
	ready      bool
	destroyed  bool
	onIncoming IncomingFunc
}

var callbackCapabilities = Capabilities{
	SupportsMute:         false,
	SupportsHold:         false,
	SupportsDirectHangup: false,
	SupportsDTMF:         false,
}

func NewCallbackProvider(cfg CallbackProviderConfig, widget WidgetBootstrapper, log *slog.Logger) *CallbackProvider {
	cfg = cfg.withDefaults()
	return &CallbackProvider{
		cfg:    cfg,
		client: newBackendClient(cfg.BaseURL, cfg.APIKey, cfg.RequestTimeout),
		widget: widget,
		log:    log,
	}
}

func (p *CallbackProvider) Name() string               { return ProviderCallback }
func (p *CallbackProvider) Capabilities() Capabilities { return callbackCapabilities }

// InitializeDevice has no persistent device concept: readiness is
// immediate once the widget bootstrap completes.
func (p *CallbackProvider) InitializeDevice(ctx context.Context, userID string, onIncoming IncomingFunc) (*Device, error) {
	p.mu.Lock()
	p.destroyed = false
	alreadyReady := p.ready
	p.onIncoming = onIncoming
	p.mu.Unlock()

	if !alreadyReady && p.widget != nil {
		if err := p.widget.Bootstrap(ctx, userID); err != nil {
			return nil, &DeviceInitError{Provider: ProviderCallback, Reason: "widget bootstrap failed", Err: err}
		}
	}

	p.mu.Lock()
	p.ready = true
	p.mu.Unlock()
	return &Device{Provider: ProviderCallback, UserID: userID, State: DeviceStateReady}, nil
}

// DeliverIncoming accepts an out-of-band incoming event (the push channel
// itself is outside core scope) in the same shape the device provider
// produces, and forwards it to the registered callback.
func (p *CallbackProvider) DeliverIncoming(ev IncomingEvent) {
	p.mu.Lock()
	fn := p.onIncoming
	destroyed := p.destroyed
	p.mu.Unlock()
	if fn == nil || destroyed {
		return
	}
	ev.Provider = ProviderCallback
	fn(ev)
}

// MakeCall is a fire-and-forget bridge request. The backend rings the
// agent line first, then the destination; there is nothing to mute or
// hold on this side afterwards.
func (p *CallbackProvider) MakeCall(ctx context.Context, req CallRequest) (CallHandle, error) {
	p.mu.Lock()
	ready := p.ready
	p.mu.Unlock()
	if !ready {
		return nil, &CallInitError{Provider: ProviderCallback, Number: req.To, Err: ErrNotInitialized}
	}

	var resp struct {
		BridgeID string `json:"bridge_id"`
	}
	err := p.client.postJSON(ctx, "/v1/callback/calls", map[string]string{
		"agent_number": p.cfg.AgentNumber,
		"destination":  req.To,
		"record_id":    req.RecordID,
	}, &resp)
	if err != nil {
		return nil, &CallInitError{Provider: ProviderCallback, Number: req.To, Err: err}
	}
	return handle{id: resp.BridgeID, provider: ProviderCallback}, nil
}

// Hangup asks the server to tear the bridge down. Termination is
// eventually consistent: the legs may ring or talk for a moment after
// this returns.
func (p *CallbackProvider) Hangup(ctx context.Context, h CallHandle) error {
	if h == nil || h.ProviderCallID() == "" {
		return nil
	}
	return p.client.postJSON(ctx, "/v1/callback/calls/"+url.PathEscape(h.ProviderCallID())+"/hangup", nil, nil)
}

// Answer is accepted locally; the bridge connects on the agent's physical
// line, so there is nothing to signal here.
func (p *CallbackProvider) Answer(ctx context.Context, h CallHandle) error {
	return nil
}

func (p *CallbackProvider) Reject(ctx context.Context, h CallHandle) error {
	if h == nil || h.ProviderCallID() == "" {
		return nil
	}
	return p.client.postJSON(ctx, "/v1/callback/calls/"+url.PathEscape(h.ProviderCallID())+"/reject", nil, nil)
}

// SetMuted is a defined no-op: there is no client media session to mute.
func (p *CallbackProvider) SetMuted(ctx context.Context, h CallHandle, muted bool) (bool, error) {
	return false, nil
}

// SetHold is a defined no-op for the same reason as SetMuted.
func (p *CallbackProvider) SetHold(ctx context.Context, h CallHandle, onHold bool) (bool, error) {
	return false, nil
}

// SendDigits is a defined no-op: DTMF would have to originate from the
// agent's physical phone.
func (p *CallbackProvider) SendDigits(ctx context.Context, h CallHandle, digits string) (bool, error) {
	return false, nil
}

func (p *CallbackProvider) SendSMS(ctx context.Context, req SMSRequest) (SMSResult, error) {
	var resp struct {
		MessageID string `json:"message_id"`
	}
	err := p.client.postJSON(ctx, "/v1/callback/sms", map[string]string{
		"to":   req.To,
		"from": p.cfg.AgentNumber,
		"body": req.Body,
	}, &resp)
	if err != nil {
		return SMSResult{}, err
	}
	return SMSResult{ProviderMessageID: resp.MessageID, Accepted: true}, nil
}

func (p *CallbackProvider) FetchCallLogs(ctx context.Context, r LogRange) ([]NormalizedLog, error) {
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
	if err := p.client.getJSON(ctx, "/v1/callback/calls/logs?"+q.Encode(), &resp); err != nil {
		return nil, err
	}
	return resp.Logs, nil
}

func (p *CallbackProvider) ValidateNumber(number string) Validation {
	return ValidateNumber(number)
}

// Destroy tears the widget down. Idempotent and safe before initialization.
func (p *CallbackProvider) Destroy(ctx context.Context) error {
	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return nil
	}
	p.destroyed = true
	wasReady := p.ready
	p.ready = false
	p.onIncoming = nil
	p.mu.Unlock()

	if wasReady && p.widget != nil {
		if err := p.widget.Teardown(ctx); err != nil {
			p.log.Warn("widget teardown failed", "err", err)
		}
	}
	return nil
}
