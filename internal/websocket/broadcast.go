package websocket

import (
	"context"
	"encoding/json"

	"github.com/conneroisu/flick/internal/logging"
)

// Broadcaster delivers events to sessions in a Registry. Delivery is
// fire-and-forget: a closed or failing session is skipped.
type Broadcaster struct {
	registry *Registry
	logger   logging.Logger
}

// NewBroadcaster creates a broadcaster over registry.
func NewBroadcaster(registry *Registry, logger logging.Logger) *Broadcaster {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Broadcaster{
		registry: registry,
		logger:   logger.WithComponent("broadcast"),
	}
}

// Broadcast sends event to every open, active session and returns how many
// sessions accepted it.
func (b *Broadcaster) Broadcast(event interface{}) int {
	frame, err := json.Marshal(event)
	if err != nil {
		b.logger.Error(context.Background(), err, "Failed to marshal broadcast message")
		return 0
	}

	sent := 0
	b.registry.EachActive(func(session *ClientSession) {
		if !session.Transport.IsOpen() {
			return
		}
		if err := session.Transport.Send(frame); err != nil {
			b.logger.Debug(context.Background(), "Dropped broadcast for session",
				"client_id", session.ID, "error", err.Error())
			return
		}
		sent++
	})

	return sent
}

// SendTo sends event to a single session. It reports whether the session
// was open and accepted the frame.
func (b *Broadcaster) SendTo(id string, event interface{}) bool {
	session, ok := b.registry.Get(id)
	if !ok || !session.Transport.IsOpen() {
		return false
	}

	frame, err := json.Marshal(event)
	if err != nil {
		b.logger.Error(context.Background(), err, "Failed to marshal message", "client_id", id)
		return false
	}

	return session.Transport.Send(frame) == nil
}
