package ws

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"crowsignal/internal/services/roomaccess"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---------------------------------------------------------------------------
//  Fakes
// ---------------------------------------------------------------------------

type fakeAccess struct {
	mu       sync.Mutex
	sessions map[string]*roomaccess.Identity
	joined   map[string]string // handle -> room
	full     bool
}

func newFakeAccess() *fakeAccess {
	return &fakeAccess{
		sessions: map[string]*roomaccess.Identity{
			"t-alice": {UserID: "alice", Username: "Alice"},
			"t-bob":   {UserID: "bob", Username: "Bob"},
			"t-carol": {UserID: "carol", Username: "Carol"},
		},
		joined: map[string]string{},
	}
}

func (f *fakeAccess) Authorize(_ context.Context, _, ticket, _ string) (*roomaccess.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ident, ok := f.sessions[ticket]; ok {
		return ident, nil
	}
	return nil, roomaccess.ErrSessionInvalid
}

func (f *fakeAccess) Join(_ context.Context, roomID, handle string, _ *roomaccess.Identity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.full {
		return roomaccess.ErrRoomFull
	}
	f.joined[handle] = roomID
	return nil
}

func (f *fakeAccess) Leave(_ context.Context, _, handle string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.joined, handle)
	return nil
}

func (f *fakeAccess) GetRoom(context.Context, string) (*roomaccess.RoomDTO, error) {
	return nil, roomaccess.ErrRoomNotFound
}

func (f *fakeAccess) ListRooms(context.Context, bool, int, int) ([]roomaccess.RoomDTO, error) {
	return nil, nil
}

func (f *fakeAccess) CreateRoom(context.Context, string, string, string, string, int) (*roomaccess.RoomDTO, error) {
	return nil, nil
}

func (f *fakeAccess) Deactivate(context.Context, string) error { return nil }

func (f *fakeAccess) Occupancy(context.Context, string) (map[string]string, error) {
	return nil, nil
}

type nopAttend struct{}

func (nopAttend) Joined(context.Context, string, string, string) {}
func (nopAttend) Left(context.Context, string, string, string)   {}

// ---------------------------------------------------------------------------
//  End-to-end scenarios over a real websocket
// ---------------------------------------------------------------------------

func newTestServer(t *testing.T) (*httptest.Server, *fakeAccess) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	fa := newFakeAccess()
	registry := NewRegistry()
	srv := NewWsServer(registry, NopBroadcaster{}, fa, nopAttend{}, 16)

	engine := gin.New()
	engine.GET("/ws", srv.Handle)

	ts := httptest.NewServer(engine)
	t.Cleanup(ts.Close)
	return ts, fa
}

func dialRoom(t *testing.T, ts *httptest.Server, roomID, ticket string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") +
		"/ws?room_id=" + roomID + "&ticket=" + ticket
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func nextFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(raw, &m))
	return m
}

// expectSilence asserts nothing arrives within the window. The read
// deadline poisons the connection, so only call this last.
func expectSilence(t *testing.T, conn *websocket.Conn, d time.Duration) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(d)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	netErr, ok := err.(net.Error)
	require.True(t, ok && netErr.Timeout(), "expected read timeout, got: %v", err)
}

func TestConnectRejectedWithoutSession(t *testing.T) {
	ts, _ := newTestServer(t)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?room_id=r1&ticket=bogus"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestConnectRejectedWhenRoomFull(t *testing.T) {
	ts, fa := newTestServer(t)
	fa.full = true

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?room_id=r1&ticket=t-alice"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestJoinAnnouncementReachesEarlierMembers(t *testing.T) {
	ts, _ := newTestServer(t)

	a := dialRoom(t, ts, "r1", "t-alice")
	_ = dialRoom(t, ts, "r1", "t-bob")

	ev := nextFrame(t, a)
	assert.Equal(t, TypeUserJoined, ev["type"])
	assert.Equal(t, "bob", ev["userId"])
	assert.Equal(t, "Bob", ev["username"])
}

func TestOfferIsRelayedToTargetWithServerSetSender(t *testing.T) {
	ts, _ := newTestServer(t)

	a := dialRoom(t, ts, "r1", "t-alice")
	b := dialRoom(t, ts, "r1", "t-bob")

	// wait for bob's announcement so both registrations are complete
	ev := nextFrame(t, a)
	require.Equal(t, TypeUserJoined, ev["type"])

	// the sender field in the payload is a spoof attempt; the server
	// must replace it with the authenticated identity
	err := a.WriteJSON(map[string]any{
		"type": "offer", "target": "bob", "offer": "sdp-A", "sender": "mallory",
	})
	require.NoError(t, err)

	got := nextFrame(t, b)
	assert.Equal(t, "offer", got["type"])
	assert.Equal(t, "alice", got["sender"])
	assert.Equal(t, "Alice", got["senderName"])
	assert.Equal(t, "sdp-A", got["offer"])

	expectSilence(t, a, 300*time.Millisecond)
}

func TestChatReachesEveryoneButSender(t *testing.T) {
	ts, _ := newTestServer(t)

	a := dialRoom(t, ts, "r1", "t-alice")
	b := dialRoom(t, ts, "r1", "t-bob")
	c := dialRoom(t, ts, "r1", "t-carol")

	require.Equal(t, TypeUserJoined, nextFrame(t, a)["type"]) // bob joined
	require.Equal(t, TypeUserJoined, nextFrame(t, a)["type"]) // carol joined
	require.Equal(t, TypeUserJoined, nextFrame(t, b)["type"]) // carol joined

	require.NoError(t, a.WriteJSON(map[string]any{"type": "chat", "message": "hi"}))

	for _, peer := range []*websocket.Conn{b, c} {
		got := nextFrame(t, peer)
		assert.Equal(t, "chat", got["type"])
		assert.Equal(t, "alice", got["sender"])
		assert.Equal(t, "hi", got["message"])
	}
	expectSilence(t, a, 300*time.Millisecond)
}

func TestMalformedAndUnknownFramesKeepConnectionOpen(t *testing.T) {
	ts, _ := newTestServer(t)

	a := dialRoom(t, ts, "r1", "t-alice")
	b := dialRoom(t, ts, "r1", "t-bob")
	require.Equal(t, TypeUserJoined, nextFrame(t, a)["type"])

	require.NoError(t, a.WriteMessage(websocket.TextMessage, []byte("{not json")))
	require.NoError(t, a.WriteJSON(map[string]any{"type": "teleport"}))
	require.NoError(t, a.WriteJSON(map[string]any{"type": "offer"})) // no target

	// the connection survives all three; a normal frame still routes
	require.NoError(t, a.WriteJSON(map[string]any{"type": "chat", "message": "still here"}))
	got := nextFrame(t, b)
	assert.Equal(t, "still here", got["message"])
}

func TestAbruptDisconnectEmitsSingleLeave(t *testing.T) {
	ts, fa := newTestServer(t)

	a := dialRoom(t, ts, "r1", "t-alice")
	b := dialRoom(t, ts, "r1", "t-bob")
	require.Equal(t, TypeUserJoined, nextFrame(t, a)["type"])

	// transport reset, no close handshake
	require.NoError(t, a.UnderlyingConn().Close())

	ev := nextFrame(t, b)
	assert.Equal(t, TypeUserLeft, ev["type"])
	assert.Equal(t, "alice", ev["userId"])

	// sending to the departed peer is silently dropped and b stays up
	require.NoError(t, b.WriteJSON(map[string]any{
		"type": "offer", "target": "alice", "offer": "sdp-B",
	}))
	expectSilence(t, b, 300*time.Millisecond)

	// the occupancy slot was released exactly once
	require.Eventually(t, func() bool {
		fa.mu.Lock()
		defer fa.mu.Unlock()
		return len(fa.joined) == 1
	}, 2*time.Second, 20*time.Millisecond)
}
