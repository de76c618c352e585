package ws

import (
	"errors"
	"sync"
)

var (
	ErrUnknownType   = errors.New("unknown_type")
	ErrMissingTarget = errors.New("missing_target")
)

// ConnContext carries the authenticated identity of the connection a
// message arrived on. Handlers trust it, never the payload.
type ConnContext struct {
	RoomID   string
	UserID   string
	Username string
	Handle   string

	conn *clientConn
}

type handlerFunc func(cc *ConnContext, env Envelope) error

// Router keeps a map[type]handler, à-la gin.Engine. Each message is
// routed independently on its type field alone; there is no
// per-connection protocol state beyond "connected".
type Router struct {
	mu       sync.RWMutex
	handlers map[string]handlerFunc
}

func NewRouter() *Router { return &Router{handlers: make(map[string]handlerFunc)} }

// Handle binds a message type to its routing handler.
func (r *Router) Handle(msgType string, h handlerFunc) {
	if msgType == "" {
		panic("ws router: empty message type")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[msgType] = h
}

// dispatch is called by the server's reader loop. An error here means
// the message is dropped; it never ends the connection.
func (r *Router) dispatch(cc *ConnContext, env Envelope) error {
	r.mu.RLock()
	h, ok := r.handlers[env.Type]
	r.mu.RUnlock()
	if !ok {
		return ErrUnknownType
	}
	return h(cc, env)
}
