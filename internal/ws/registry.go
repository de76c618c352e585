package ws

import "sync"

// Registry keeps the room_id -> membership mapping. A room exists while
// it has at least one member and is dropped when the last one leaves.
// The registry lock guards only the room table; membership and delivery
// take per-room locks, so traffic in different rooms never contends.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]*room
}

func NewRegistry() *Registry {
	return &Registry{rooms: map[string]*room{}}
}

// Register adds a connection to its room, creating the room on first
// use. Registering the same handle twice is a no-op.
func (g *Registry) Register(roomID string, c *clientConn) {
	for {
		g.mu.Lock()
		r, ok := g.rooms[roomID]
		if !ok {
			r = newRoom()
			g.rooms[roomID] = r
		}
		g.mu.Unlock()

		if r.add(c) {
			return
		}
		// Lost a race with the room being retired; start over.
	}
}

// Unregister removes a connection and retires the room once it empties.
// Unknown rooms and absent connections are no-ops.
func (g *Registry) Unregister(roomID string, c *clientConn) {
	g.mu.RLock()
	r := g.rooms[roomID]
	g.mu.RUnlock()
	if r == nil {
		return
	}
	if !r.remove(c) {
		return
	}

	g.mu.Lock()
	if cur := g.rooms[roomID]; cur == r && r.retire() {
		delete(g.rooms, roomID)
	}
	g.mu.Unlock()
}

// Broadcast delivers data to every member of the room except the
// connection with excludeHandle. Unknown rooms are a no-op.
func (g *Registry) Broadcast(roomID string, data []byte, excludeHandle string) {
	g.mu.RLock()
	r := g.rooms[roomID]
	g.mu.RUnlock()
	if r != nil {
		r.broadcast(data, excludeHandle)
	}
}

// Unicast delivers data to all connections the target identity holds in
// the room. No match means the peer already left; nothing happens.
func (g *Registry) Unicast(roomID, targetIdentity string, data []byte) {
	g.mu.RLock()
	r := g.rooms[roomID]
	g.mu.RUnlock()
	if r != nil {
		r.unicast(data, targetIdentity)
	}
}

// RoomSize reports the number of live connections in a room.
func (g *Registry) RoomSize(roomID string) int {
	g.mu.RLock()
	r := g.rooms[roomID]
	g.mu.RUnlock()
	if r == nil {
		return 0
	}
	return r.size()
}

// Occupants returns the live roster of a room.
func (g *Registry) Occupants(roomID string) []Occupant {
	g.mu.RLock()
	r := g.rooms[roomID]
	g.mu.RUnlock()
	if r == nil {
		return nil
	}
	return r.occupants()
}
