package ws

import "sync"

// room is the fan-out group for one room id. Membership is keyed by
// connection handle with a secondary index by user identity so unicast
// does not scan the whole room. Mutation happens only on the connection
// lifecycle path; everything else takes read locks for delivery.
type room struct {
	mu      sync.RWMutex
	retired bool
	conns   map[string]*clientConn            // handle -> conn
	byUser  map[string]map[string]*clientConn // identity -> handle -> conn
}

func newRoom() *room {
	return &room{
		conns:  map[string]*clientConn{},
		byUser: map[string]map[string]*clientConn{},
	}
}

// add registers a connection. Duplicate handles are a no-op. It reports
// false when the room has already been retired by the registry, in
// which case the caller must start over with a fresh room.
func (r *room) add(c *clientConn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.retired {
		return false
	}
	if _, ok := r.conns[c.handle]; ok {
		return true
	}
	r.conns[c.handle] = c
	byHandle, ok := r.byUser[c.identity]
	if !ok {
		byHandle = map[string]*clientConn{}
		r.byUser[c.identity] = byHandle
	}
	byHandle[c.handle] = c
	return true
}

// remove drops a connection and reports whether the room is now empty.
// Removing an absent connection is a no-op; disconnect races are
// expected and harmless.
func (r *room) remove(c *clientConn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[c.handle]; ok {
		delete(r.conns, c.handle)
		if byHandle := r.byUser[c.identity]; byHandle != nil {
			delete(byHandle, c.handle)
			if len(byHandle) == 0 {
				delete(r.byUser, c.identity)
			}
		}
	}
	return len(r.conns) == 0
}

// retire marks an empty room dead so late registrations cannot land in
// it after the registry forgets it. Reports false if a member raced in.
func (r *room) retire() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.conns) > 0 {
		return false
	}
	r.retired = true
	return true
}

// broadcast delivers to every member except the connection with the
// excluded handle. Enqueueing never blocks, so the lock is held only
// for the map walk; a slow member cannot stall its neighbours.
func (r *room) broadcast(data []byte, excludeHandle string) {
	r.mu.RLock()
	targets := make([]*clientConn, 0, len(r.conns))
	for handle, c := range r.conns {
		if handle == excludeHandle {
			continue
		}
		targets = append(targets, c)
	}
	r.mu.RUnlock()

	for _, c := range targets {
		c.enqueue(data)
	}
}

// unicast delivers to every connection held by the target identity
// (multi-tab fan-out). Zero matches means the peer is gone; the frame
// is silently dropped.
func (r *room) unicast(data []byte, identity string) {
	r.mu.RLock()
	targets := make([]*clientConn, 0, len(r.byUser[identity]))
	for _, c := range r.byUser[identity] {
		targets = append(targets, c)
	}
	r.mu.RUnlock()

	for _, c := range targets {
		c.enqueue(data)
	}
}

func (r *room) size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

func (r *room) occupants() []Occupant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Occupant, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, Occupant{Handle: c.handle, UserID: c.identity, Username: c.name})
	}
	return out
}
