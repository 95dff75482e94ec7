package telephony

import (
	"sync"
	"time"
)

// EventKind classifies device push events.
type EventKind string

const (
	EventRegistered EventKind = "registered"
	EventIncoming   EventKind = "incoming"
	EventError      EventKind = "error"
	EventDisconnect EventKind = "disconnect"
)

// Event is a device push event. Incoming carries the caller fields; Error
// carries Message.
type Event struct {
	Kind           EventKind `json:"kind"`
	ProviderCallID string    `json:"provider_call_id,omitempty"`
	From           string    `json:"from,omitempty"`
	To             string    `json:"to,omitempty"`
	Message        string    `json:"message,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// EventHub is a small typed emitter for device events.
//
// Consumption pattern: initialization races a single EventRegistered
// against a timer; steady-state consumers subscribe to incoming/error/
// disconnect. Close disarms every subscription so no listener fires after
// the owning provider is destroyed.
type EventHub struct {
	mu     sync.Mutex
	nextID int
	subs   map[EventKind]map[int]func(Event)
	closed bool
}

func NewEventHub() *EventHub {
	return &EventHub{subs: make(map[EventKind]map[int]func(Event))}
}

// On registers a listener and returns a token for Off.
func (h *EventHub) On(kind EventKind, fn func(Event)) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return 0
	}
	h.nextID++
	id := h.nextID
	if h.subs[kind] == nil {
		h.subs[kind] = make(map[int]func(Event))
	}
	h.subs[kind][id] = fn
	return id
}

// Off removes a listener. Unknown tokens are ignored.
func (h *EventHub) Off(kind EventKind, id int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if m := h.subs[kind]; m != nil {
		delete(m, id)
	}
}

// Once registers a listener that removes itself after the first delivery.
func (h *EventHub) Once(kind EventKind, fn func(Event)) int {
	var id int
	id = h.On(kind, func(e Event) {
		h.Off(kind, id)
		fn(e)
	})
	return id
}

// Emit delivers an event to current listeners. Listeners run synchronously
// on the caller's goroutine; the hub itself starts no goroutines.
func (h *EventHub) Emit(e Event) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	fns := make([]func(Event), 0, len(h.subs[e.Kind]))
	for _, fn := range h.subs[e.Kind] {
		fns = append(fns, fn)
	}
	h.mu.Unlock()

	for _, fn := range fns {
		fn(e)
	}
}

// Close drops all listeners and rejects future registrations.
func (h *EventHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	h.subs = make(map[EventKind]map[int]func(Event))
}
