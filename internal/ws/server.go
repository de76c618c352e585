package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"crowsignal/internal/services/roomaccess"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const teardownTimeout = 5 * time.Second

// AttendanceRecorder receives join/leave transitions for persistence
// outside the signaling hot path. Failures are the recorder's problem;
// signaling never waits on it.
type AttendanceRecorder interface {
	Joined(ctx context.Context, roomID, userID, handle string)
	Left(ctx context.Context, roomID, userID, handle string)
}

type WsServer struct {
	registry  *Registry
	notifier  *Notifier
	relay     Broadcaster
	router    *Router
	access    roomaccess.IRoomAccessService
	attend    AttendanceRecorder
	queueSize int
	upgrader  websocket.Upgrader
}

func NewWsServer(
	registry *Registry,
	relay Broadcaster,
	access roomaccess.IRoomAccessService,
	attend AttendanceRecorder,
	queueSize int,
) *WsServer {
	srv := &WsServer{
		registry:  registry,
		notifier:  NewNotifier(registry, relay),
		relay:     relay,
		router:    NewRouter(),
		access:    access,
		attend:    attend,
		queueSize: queueSize,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true }, // dev-only
		},
	}
	srv.registerHandlers() // ← all signaling routes configured here
	return srv
}

// ---------------------------------------------------------------------------
//  Public: Gin entry-point
// ---------------------------------------------------------------------------

func (s *WsServer) Handle(ginCtx *gin.Context) {
	roomID := ginCtx.Query("room_id")
	ticket := ginCtx.Query("ticket")
	password := ginCtx.Query("password")
	if roomID == "" || ticket == "" {
		ginCtx.JSON(http.StatusBadRequest, gin.H{"error": "room_id and ticket are required"})
		return
	}

	ctx := ginCtx.Request.Context()
	ident, err := s.access.Authorize(ctx, roomID, ticket, password)
	if err != nil {
		ginCtx.JSON(rejectStatus(err), gin.H{"error": err.Error()})
		return
	}

	handle := uuid.NewString()
	if err := s.access.Join(ctx, roomID, handle, ident); err != nil {
		ginCtx.JSON(rejectStatus(err), gin.H{"error": err.Error()})
		return
	}

	rawConn, err := s.upgrader.Upgrade(ginCtx.Writer, ginCtx.Request, nil)
	if err != nil {
		zap.L().Warn("ws.accept", zap.Error(err))
		_ = s.access.Leave(context.Background(), roomID, handle)
		return
	}

	// ─────────────────── Connected ────────────────────────
	conn := newClientConn(handle, ident.UserID, ident.Username, roomID, rawConn, s.queueSize)
	s.relay.Subscribe(roomID)
	s.registry.Register(roomID, conn)
	s.attend.Joined(context.Background(), roomID, ident.UserID, handle)
	s.notifier.Joined(conn)

	zap.L().Info("ws.connected",
		zap.String("room", roomID),
		zap.String("user", ident.UserID),
		zap.String("handle", handle),
	)

	go conn.writePump()
	go s.readPump(conn)
}

func rejectStatus(err error) int {
	switch {
	case errors.Is(err, roomaccess.ErrSessionInvalid):
		return http.StatusUnauthorized
	case errors.Is(err, roomaccess.ErrRoomNotFound),
		errors.Is(err, roomaccess.ErrRoomInactive):
		return http.StatusNotFound
	case errors.Is(err, roomaccess.ErrBadPassword),
		errors.Is(err, roomaccess.ErrRoomFull):
		return http.StatusForbidden
	}
	return http.StatusInternalServerError
}

// ---------------------------------------------------------------------------
//  Private helpers
// ---------------------------------------------------------------------------

func (s *WsServer) registerHandlers() {
	// 🔹 offer / answer / ice-candidate: point-to-point relay ----------------
	unicast := func(cc *ConnContext, env Envelope) error {
		if env.Target == "" {
			return ErrMissingTarget
		}
		data, err := json.Marshal(env)
		if err != nil {
			return err
		}
		s.registry.Unicast(cc.RoomID, env.Target, data)
		s.relay.Publish(cc.RoomID, RelayFrame{Target: env.Target, Data: data})
		return nil
	}
	s.router.Handle(TypeOffer, unicast)
	s.router.Handle(TypeAnswer, unicast)
	s.router.Handle(TypeICECandidate, unicast)

	// 🔹 chat / draw: room-wide fan-out, sender excluded ---------------------
	broadcast := func(cc *ConnContext, env Envelope) error {
		data, err := json.Marshal(env)
		if err != nil {
			return err
		}
		s.registry.Broadcast(cc.RoomID, data, cc.Handle)
		s.relay.Publish(cc.RoomID, RelayFrame{Data: data})
		return nil
	}
	s.router.Handle(TypeChat, broadcast)
	s.router.Handle(TypeDraw, broadcast)

	// 🔹 join: the connect path already announced this connection, so an
	// explicit join message collapses into the same single event ------------
	s.router.Handle(TypeJoin, func(cc *ConnContext, _ Envelope) error {
		s.notifier.Joined(cc.conn)
		return nil
	})
}

// readPump is the per-connection task: it consumes inbound frames in
// order until the transport dies, then runs the disconnect path once.
func (s *WsServer) readPump(c *clientConn) {
	defer s.teardown(c)

	c.rawConn.SetReadLimit(maxMessageSize)
	_ = c.rawConn.SetReadDeadline(time.Now().Add(pongWait))
	c.rawConn.SetPongHandler(func(string) error {
		return c.rawConn.SetReadDeadline(time.Now().Add(pongWait))
	})

	cc := &ConnContext{
		RoomID:   c.roomID,
		UserID:   c.identity,
		Username: c.name,
		Handle:   c.handle,
		conn:     c,
	}

	for {
		_, raw, err := c.rawConn.ReadMessage()
		if err != nil {
			return // client closed or errored
		}

		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			zap.L().Warn("ws.malformed_message",
				zap.String("handle", c.handle), zap.Error(err))
			continue
		}

		// Identity comes from the authenticated connection, never from
		// the payload.
		env.Sender = c.identity
		env.SenderName = c.name

		if err := s.router.dispatch(cc, env); err != nil {
			zap.L().Warn("ws.drop_message",
				zap.String("type", env.Type),
				zap.String("handle", c.handle),
				zap.Error(err))
		}
	}
}

func (s *WsServer) teardown(c *clientConn) {
	c.close()
	s.registry.Unregister(c.roomID, c)
	s.relay.Unsubscribe(c.roomID)
	s.notifier.Left(c)

	ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
	defer cancel()
	if err := s.access.Leave(ctx, c.roomID, c.handle); err != nil {
		zap.L().Warn("ws.leave", zap.String("room", c.roomID), zap.Error(err))
	}
	s.attend.Left(ctx, c.roomID, c.identity, c.handle)

	zap.L().Info("ws.disconnected",
		zap.String("room", c.roomID),
		zap.String("user", c.identity),
		zap.String("handle", c.handle),
	)
}
