package ws

import (
	"encoding/json"

	"go.uber.org/zap"
)

// Notifier turns lifecycle transitions into user-joined / user-left
// broadcasts for the rest of the room. Exactly one join and at most one
// leave is emitted per connection, no matter how often the lifecycle
// paths fire.
type Notifier struct {
	registry *Registry
	relay    Broadcaster
}

func NewNotifier(registry *Registry, relay Broadcaster) *Notifier {
	return &Notifier{registry: registry, relay: relay}
}

// Joined announces a connection to everyone else in its room. Repeat
// calls for the same connection (connect plus an explicit join message)
// collapse into one event.
func (n *Notifier) Joined(c *clientConn) {
	c.joinOnce.Do(func() {
		n.emit(c, TypeUserJoined)
	})
}

// Left announces a departure. Transport double-close makes the
// disconnect path easy to hit twice; only the first call broadcasts.
func (n *Notifier) Left(c *clientConn) {
	c.leaveOnce.Do(func() {
		n.emit(c, TypeUserLeft)
	})
}

func (n *Notifier) emit(c *clientConn, eventType string) {
	data, err := json.Marshal(PresenceEvent{
		Type:     eventType,
		UserID:   c.identity,
		Username: c.name,
	})
	if err != nil {
		zap.L().Warn("ws.encode_presence", zap.Error(err))
		return
	}
	n.registry.Broadcast(c.roomID, data, c.handle)
	n.relay.Publish(c.roomID, RelayFrame{Data: data})
}
