package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const publishTimeout = 2 * time.Second

// Broadcaster mirrors room traffic to other server instances. The
// in-process registry always handles local delivery; a Broadcaster only
// has to reach members connected elsewhere. It is the single swap point
// for running more than one signaling process.
type Broadcaster interface {
	// Publish pushes a frame onto the room's topic.
	Publish(roomID string, frame RelayFrame)
	// Subscribe ensures the instance receives the room's topic while it
	// has local members; calls are ref-counted per connection.
	Subscribe(roomID string)
	Unsubscribe(roomID string)
}

// RelayFrame is the envelope published on a per-room topic. Target set
// means "unicast to this identity on your side"; empty means broadcast.
// Data is the fully stamped wire frame, forwarded as-is.
type RelayFrame struct {
	Origin string          `json:"origin"`
	Target string          `json:"target,omitempty"`
	Data   json.RawMessage `json:"data"`
}

// NopBroadcaster is the single-process mode: local delivery only.
type NopBroadcaster struct{}

func (NopBroadcaster) Publish(string, RelayFrame) {}
func (NopBroadcaster) Subscribe(string)           {}
func (NopBroadcaster) Unsubscribe(string)         {}

// RedisBroadcaster fans room traffic across instances over one Redis
// pub/sub channel per room ("room:<id>:events"). It keeps exactly one
// subscription per room regardless of how many local connections joined
// it, and filters out its own publications by instance id.
type RedisBroadcaster struct {
	rdb        *redis.Client
	registry   *Registry
	instanceID string

	mu   sync.Mutex
	subs map[string]*subEntry // roomID -> subscription data
}

type subEntry struct {
	refCnt int
	cancel context.CancelFunc
}

func NewRedisBroadcaster(rdb *redis.Client, registry *Registry, instanceID string) *RedisBroadcaster {
	return &RedisBroadcaster{
		rdb:        rdb,
		registry:   registry,
		instanceID: instanceID,
		subs:       make(map[string]*subEntry),
	}
}

func roomChannel(roomID string) string { return "room:" + roomID + ":events" }

func (b *RedisBroadcaster) Publish(roomID string, frame RelayFrame) {
	frame.Origin = b.instanceID
	payload, err := json.Marshal(frame)
	if err != nil {
		zap.L().Warn("ws.fanout_encode", zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := b.rdb.Publish(ctx, roomChannel(roomID), payload).Err(); err != nil {
		zap.L().Warn("ws.fanout_publish", zap.String("room", roomID), zap.Error(err))
	}
}

// Subscribe ensures the process is subscribed to the room's channel;
// subsequent calls for the same room only increment the ref-counter.
func (b *RedisBroadcaster) Subscribe(roomID string) {
	b.mu.Lock()
	if e, ok := b.subs[roomID]; ok {
		e.refCnt++
		b.mu.Unlock()
		return
	}

	// First local member, open the Redis SUB and fan-out loop.
	ctx, cancel := context.WithCancel(context.Background())
	ps := b.rdb.Subscribe(ctx, roomChannel(roomID))

	b.subs[roomID] = &subEntry{refCnt: 1, cancel: cancel}
	b.mu.Unlock()

	go func() {
		defer ps.Close()

		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-ps.Channel():
				if !ok { // Redis connection closed.
					return
				}
				b.deliver(roomID, []byte(m.Payload))
			}
		}
	}()
}

// Unsubscribe decrements the ref-counter and tears the Redis SUB down
// when the last local connection leaves the room.
func (b *RedisBroadcaster) Unsubscribe(roomID string) {
	b.mu.Lock()
	e, ok := b.subs[roomID]
	if !ok {
		b.mu.Unlock()
		return
	}
	e.refCnt--
	if e.refCnt > 0 {
		b.mu.Unlock()
		return
	}
	delete(b.subs, roomID)
	b.mu.Unlock()

	// Outside the lock, stop the fan-out goroutine.
	e.cancel()
}

// deliver hands a remote frame to local members. The sender's own
// connection lives on the origin instance and was excluded there, so a
// remote broadcast goes to every local member.
func (b *RedisBroadcaster) deliver(roomID string, payload []byte) {
	var frame RelayFrame
	if err := json.Unmarshal(payload, &frame); err != nil {
		zap.L().Warn("ws.fanout_decode", zap.String("room", roomID), zap.Error(err))
		return
	}
	if frame.Origin == b.instanceID {
		return // our own publication echoed back
	}
	if frame.Target != "" {
		b.registry.Unicast(roomID, frame.Target, frame.Data)
		return
	}
	b.registry.Broadcast(roomID, frame.Data, "")
}
