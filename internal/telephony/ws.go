package telephony

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// wsTransport reads device push events from the backend websocket.
//
// Frames are JSON-encoded Event values. The loop exits when the context is
// canceled (provider destroyed) or the read fails; it never reconnects on
// its own. Reconnection policy belongs to whoever owns the provider
// lifecycle.
type wsTransport struct {
	log *slog.Logger
}

func (t *wsTransport) Listen(ctx context.Context, wsURL, token string, hub *EventHub) error {
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		return err
	}
	defer conn.Close()

	// Unblock ReadJSON when the provider is destroyed.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "destroyed"),
				time.Now().Add(time.Second))
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		var e Event
		if err := conn.ReadJSON(&e); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if e.OccurredAt.IsZero() {
			e.OccurredAt = time.Now().UTC()
		}
		hub.Emit(e)
	}
}
