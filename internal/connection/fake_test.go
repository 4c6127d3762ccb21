package connection

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/rickgao/wsession/internal/events"
)

const testURL = "ws://test.local/ws"

// fakeTransport hands out scripted handles.
type fakeTransport struct {
	mu      sync.Mutex
	handles []*fakeHandle
	openErr error
	script  func(h *fakeHandle)
	onSend  func(h *fakeHandle, data []byte)
}

func (t *fakeTransport) Open(_ context.Context, _ string, _ []string, h Handler) (Handle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.openErr != nil {
		return nil, t.openErr
	}
	fh := &fakeHandle{handler: h, onSend: t.onSend}
	t.handles = append(t.handles, fh)
	if t.script != nil {
		go t.script(fh)
	}
	return fh, nil
}

func (t *fakeTransport) opens() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.handles)
}

func (t *fakeTransport) last() *fakeHandle {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.handles) == 0 {
		return nil
	}
	return t.handles[len(t.handles)-1]
}

type fakeFrame struct {
	mt   MessageType
	data []byte
}

type fakeHandle struct {
	handler Handler
	onSend  func(h *fakeHandle, data []byte)

	mu      sync.Mutex
	sent    []fakeFrame
	sendErr error
	closed  bool
}

func (h *fakeHandle) Send(mt MessageType, data []byte) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return ErrNotConnected
	}
	if h.sendErr != nil {
		err := h.sendErr
		h.mu.Unlock()
		return err
	}
	h.sent = append(h.sent, fakeFrame{mt: mt, data: append([]byte(nil), data...)})
	respond := h.onSend
	h.mu.Unlock()

	if respond != nil {
		go respond(h, data)
	}
	return nil
}

func (h *fakeHandle) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	h.mu.Unlock()
	go h.handler.OnClose(CloseNormal, "", true)
	return nil
}

func (h *fakeHandle) open() { h.handler.OnOpen() }

// fail drops the socket as a network failure would.
func (h *fakeHandle) fail(reason string) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	h.mu.Unlock()
	h.handler.OnError(errors.New(reason))
	h.handler.OnClose(CloseAbnormal, reason, false)
}

func (h *fakeHandle) deliver(data string) { h.handler.OnMessage([]byte(data), false) }

func (h *fakeHandle) frames() []fakeFrame {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]fakeFrame(nil), h.sent...)
}

// framesOfType returns sent text frames whose "type" field equals typ.
func (h *fakeHandle) framesOfType(typ string) []fakeFrame {
	var out []fakeFrame
	for _, f := range h.frames() {
		if f.mt == TextMessage && gjson.GetBytes(f.data, "type").String() == typ {
			out = append(out, f)
		}
	}
	return out
}

func openScript(h *fakeHandle) { h.open() }

func failScript(h *fakeHandle) { h.fail("connection refused") }

// echoResponder answers every correlated frame with its id.
func echoResponder(h *fakeHandle, data []byte) {
	id := gjson.GetBytes(data, "message_id")
	if !id.Exists() {
		return
	}
	h.deliver(`{"type":"response","message_id":"` + id.String() + `","ok":true}`)
}

// eventLog records every event a session emits.
type eventLog struct {
	mu  sync.Mutex
	evs []events.Event
}

func recordEvents(t *testing.T, s *Session) *eventLog {
	t.Helper()
	log := &eventLog{}
	for _, name := range events.Names() {
		_, err := s.On(name, func(ev events.Event) {
			log.mu.Lock()
			log.evs = append(log.evs, ev)
			log.mu.Unlock()
		})
		require.NoError(t, err)
	}
	return log
}

func (l *eventLog) named(name events.Name) []events.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []events.Event
	for _, ev := range l.evs {
		if ev.Name == name {
			out = append(out, ev)
		}
	}
	return out
}

func (l *eventLog) count(name events.Name) int {
	return len(l.named(name))
}

func (l *eventLog) names() []events.Name {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]events.Name, len(l.evs))
	for i, ev := range l.evs {
		out[i] = ev.Name
	}
	return out
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.ReconnectInterval = 10 * time.Millisecond
	cfg.ReconnectMaxInterval = 40 * time.Millisecond
	cfg.MaxReconnectAttempts = 3
	cfg.ConnectTimeout = time.Second
	cfg.HeartbeatInterval = -1
	cfg.ReplayInterval = time.Millisecond
	cfg.DefaultResponseTimeout = time.Second
	return cfg
}

func newTestSession(t *testing.T, cfg Config, tr Transport) *Session {
	t.Helper()
	s, err := NewSession(testURL, cfg, tr, nil)
	require.NoError(t, err)
	t.Cleanup(s.Destroy)
	return s
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)
