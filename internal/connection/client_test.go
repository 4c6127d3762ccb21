package connection

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/wsession/internal/events"
)

// mockWSServer creates a test WebSocket server.
func mockWSServer(t *testing.T, handler func(*websocket.Conn)) *httptest.Server {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer conn.Close()
		handler(conn)
	}))
	t.Cleanup(server.Close)

	return server
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func echoHandler(conn *websocket.Conn) {
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if err := conn.WriteMessage(mt, data); err != nil {
			return
		}
	}
}

type closeInfo struct {
	code     int
	reason   string
	wasClean bool
}

// chanHandler exposes transport callbacks as channels.
type chanHandler struct {
	opened   chan struct{}
	messages chan []byte
	errs     chan error
	closed   chan closeInfo
}

func newChanHandler() *chanHandler {
	return &chanHandler{
		opened:   make(chan struct{}, 1),
		messages: make(chan []byte, 16),
		errs:     make(chan error, 4),
		closed:   make(chan closeInfo, 1),
	}
}

func (h *chanHandler) OnOpen()                       { h.opened <- struct{}{} }
func (h *chanHandler) OnMessage(data []byte, _ bool) { h.messages <- data }
func (h *chanHandler) OnError(err error)             { h.errs <- err }
func (h *chanHandler) OnClose(code int, reason string, wasClean bool) {
	h.closed <- closeInfo{code: code, reason: reason, wasClean: wasClean}
}

func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for callback")
		var zero T
		return zero
	}
}

func TestDialer_OpenSendClose(t *testing.T) {
	server := mockWSServer(t, echoHandler)

	h := newChanHandler()
	handle, err := NewDialer(DefaultDialerConfig(), nil).Open(context.Background(), wsURL(server), nil, h)
	require.NoError(t, err)

	receive(t, h.opened)

	require.NoError(t, handle.Send(TextMessage, []byte(`{"test":"message"}`)))
	assert.Equal(t, `{"test":"message"}`, string(receive(t, h.messages)))

	require.NoError(t, handle.Close())
	info := receive(t, h.closed)
	assert.True(t, info.wasClean)

	assert.ErrorIs(t, handle.Send(TextMessage, []byte(`{}`)), ErrNotConnected)
	assert.NoError(t, handle.Close())
}

func TestDialer_InvalidScheme(t *testing.T) {
	_, err := NewDialer(DefaultDialerConfig(), nil).Open(context.Background(), "http://example.com", nil, newChanHandler())
	assert.Error(t, err)
}

func TestDialer_DialFailure(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := wsURL(server)
	server.Close()

	h := newChanHandler()
	_, err := NewDialer(DefaultDialerConfig(), nil).Open(context.Background(), url, nil, h)
	require.NoError(t, err)

	assert.Error(t, receive(t, h.errs))
	info := receive(t, h.closed)
	assert.Equal(t, CloseAbnormal, info.code)
	assert.False(t, info.wasClean)
}

func TestDialer_ServerClose(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(4000, "bye"))
		time.Sleep(50 * time.Millisecond)
	})

	h := newChanHandler()
	_, err := NewDialer(DefaultDialerConfig(), nil).Open(context.Background(), wsURL(server), nil, h)
	require.NoError(t, err)

	receive(t, h.opened)
	info := receive(t, h.closed)
	assert.Equal(t, 4000, info.code)
	assert.Equal(t, "bye", info.reason)
	assert.True(t, info.wasClean)
}

func TestDialer_Subprotocols(t *testing.T) {
	upgrader := websocket.Upgrader{Subprotocols: []string{"v2.proto"}}
	got := make(chan string, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		got <- conn.Subprotocol()
		conn.ReadMessage()
	}))
	defer server.Close()

	h := newChanHandler()
	handle, err := NewDialer(DefaultDialerConfig(), nil).Open(context.Background(), wsURL(server), []string{"v2.proto"}, h)
	require.NoError(t, err)
	defer handle.Close()

	receive(t, h.opened)
	assert.Equal(t, "v2.proto", receive(t, got))
}

func TestSession_EchoServer(t *testing.T) {
	server := mockWSServer(t, echoHandler)

	cfg := testConfig()
	s, err := NewSession(wsURL(server), cfg, nil, nil)
	require.NoError(t, err)
	defer s.Destroy()
	log := recordEvents(t, s)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Connect(ctx))

	call, err := s.SendAsync(map[string]any{"type": "echo", "n": 7})
	require.NoError(t, err)
	resp, err := call.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, call.ID(), resp.CorrelationID)
	assert.EqualValues(t, 7, resp.Get("n").Int())

	_, err = s.Send(ctx, []byte{0xde, 0xad}, AsBinary())
	require.NoError(t, err)
	require.Eventually(t, func() bool { return log.count(events.Binary) == 1 }, waitFor, tick)

	require.NoError(t, s.Close(ctx))
	assert.Equal(t, StateClosed, s.State())
}

func TestSession_ServerDropReconnects(t *testing.T) {
	var conns atomic.Int32
	server := mockWSServer(t, func(conn *websocket.Conn) {
		if conns.Add(1) == 1 {
			// Drop the first connection without a close frame.
			return
		}
		echoHandler(conn)
	})

	s, err := NewSession(wsURL(server), testConfig(), nil, nil)
	require.NoError(t, err)
	defer s.Destroy()
	log := recordEvents(t, s)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.Connect(ctx)

	require.Eventually(t, func() bool { return conns.Load() >= 2 && s.IsReady() }, 3*time.Second, tick)
	assert.GreaterOrEqual(t, log.count(events.Reconnecting), 1)

	_, err = s.Send(ctx, map[string]any{"type": "after-reconnect"})
	assert.NoError(t, err)
}
