package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10 // must be < pongWait
	maxMessageSize = 64 << 10
)

// clientConn is one live transport session. The handle is unique per
// session and never reused across reconnects; identity may repeat
// within a room (same user in multiple tabs).
type clientConn struct {
	handle   string
	identity string
	name     string
	roomID   string

	rawConn *websocket.Conn
	send    chan []byte
	done    chan struct{}

	closeOnce sync.Once
	joinOnce  sync.Once
	leaveOnce sync.Once
}

func newClientConn(handle, identity, name, roomID string, raw *websocket.Conn, queueSize int) *clientConn {
	return &clientConn{
		handle:   handle,
		identity: identity,
		name:     name,
		roomID:   roomID,
		rawConn:  raw,
		send:     make(chan []byte, queueSize),
		done:     make(chan struct{}),
	}
}

// enqueue hands a frame to the write pump. It never blocks: a client
// that cannot drain its queue loses the frame rather than stalling
// delivery to the rest of the room.
func (c *clientConn) enqueue(data []byte) {
	select {
	case c.send <- data:
	default:
		zap.L().Warn("ws.send_queue_full",
			zap.String("handle", c.handle),
			zap.String("user", c.identity),
		)
	}
}

func (c *clientConn) enqueueJSON(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		zap.L().Warn("ws.encode_frame", zap.Error(err))
		return
	}
	c.enqueue(data)
}

// close signals the write pump to stop. Safe to call more than once.
func (c *clientConn) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// writePump is the single writer for the connection; it drains the send
// queue and keeps the transport alive with pings.
func (c *clientConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.rawConn.Close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.write(websocket.CloseMessage, []byte{})
			return
		case data := <-c.send:
			if err := c.write(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *clientConn) write(mt int, data []byte) error {
	_ = c.rawConn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.rawConn.WriteMessage(mt, data)
}
