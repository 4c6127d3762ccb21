package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrStaleConnection is reported when the peer stops answering pings.
var ErrStaleConnection = errors.New("connection stale (no pong)")

// DialerConfig configures the gorilla/websocket transport.
type DialerConfig struct {
	Header           http.Header
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration // Write deadline for sends
	PingInterval     time.Duration // Protocol-level pings; zero disables
	PingTimeout      time.Duration // Max time without pong before the socket is dropped
	ReadLimit        int64         // Max inbound frame size; zero means no limit
}

// DefaultDialerConfig returns sensible defaults.
func DefaultDialerConfig() DialerConfig {
	return DialerConfig{
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
		PingInterval:     30 * time.Second,
		PingTimeout:      60 * time.Second,
	}
}

// Dialer is a Transport backed by gorilla/websocket.
type Dialer struct {
	cfg    DialerConfig
	logger *slog.Logger
}

// NewDialer creates a gorilla/websocket transport.
func NewDialer(cfg DialerConfig, logger *slog.Logger) *Dialer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dialer{cfg: cfg, logger: logger}
}

// Open validates rawURL and starts dialing in the background.
func (d *Dialer) Open(ctx context.Context, rawURL string, protocols []string, h Handler) (Handle, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}

	ctx, cancel := context.WithCancel(ctx)
	c := &client{
		cfg:       d.cfg,
		logger:    d.logger,
		url:       rawURL,
		protocols: protocols,
		handler:   h,
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	go c.run()
	return c, nil
}

// client is one gorilla/websocket connection.
type client struct {
	cfg       DialerConfig
	logger    *slog.Logger
	url       string
	protocols []string
	handler   Handler

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	// Write serialization
	writeMu sync.Mutex

	// State
	mu         sync.Mutex
	conn       *websocket.Conn
	closed     bool
	lastPongAt time.Time
	staleErr   error
}

func (c *client) run() {
	defer c.cancel()

	dialer := websocket.Dialer{
		HandshakeTimeout: c.cfg.HandshakeTimeout,
		Subprotocols:     c.protocols,
		Proxy:            http.ProxyFromEnvironment,
	}

	conn, _, err := dialer.DialContext(c.ctx, c.url, c.cfg.Header)
	if err != nil {
		if c.isClosed() {
			c.handler.OnClose(CloseNormal, "", true)
			return
		}
		c.handler.OnError(fmt.Errorf("dial: %w", err))
		c.handler.OnClose(CloseAbnormal, err.Error(), false)
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		c.handler.OnClose(CloseNormal, "", true)
		return
	}
	c.conn = conn
	c.lastPongAt = time.Now()
	c.mu.Unlock()

	if c.cfg.ReadLimit > 0 {
		conn.SetReadLimit(c.cfg.ReadLimit)
	}
	conn.SetPongHandler(func(string) error {
		c.mu.Lock()
		c.lastPongAt = time.Now()
		c.mu.Unlock()
		return nil
	})

	c.logger.Debug("websocket connected", "url", c.url, "subprotocol", conn.Subprotocol())
	c.handler.OnOpen()

	if c.cfg.PingInterval > 0 {
		go c.pingLoop(conn)
	}
	c.readLoop(conn)
}

// readLoop delivers frames until the socket fails, then reports the close.
func (c *client) readLoop(conn *websocket.Conn) {
	defer close(c.done)

	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			c.reportClose(err)
			return
		}
		c.handler.OnMessage(data, mt == websocket.BinaryMessage)
	}
}

func (c *client) reportClose(err error) {
	c.mu.Lock()
	closed, stale := c.closed, c.staleErr
	c.mu.Unlock()

	var ce *websocket.CloseError
	switch {
	case stale != nil:
		c.handler.OnError(stale)
		c.handler.OnClose(CloseAbnormal, stale.Error(), false)
	case errors.As(err, &ce) && ce.Code != websocket.CloseAbnormalClosure:
		c.handler.OnClose(ce.Code, ce.Text, true)
	case closed:
		c.handler.OnClose(CloseNormal, "", true)
	default:
		c.handler.OnError(err)
		c.handler.OnClose(CloseAbnormal, err.Error(), false)
	}
}

// pingLoop sends protocol pings and drops the socket if pongs stop.
func (c *client) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(c.cfg.WriteTimeout)
			c.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, []byte("keepalive"), deadline)
			c.writeMu.Unlock()
			if err != nil {
				c.logger.Debug("failed to send ping", "error", err)
			}

			c.mu.Lock()
			lastPong := c.lastPongAt
			c.mu.Unlock()

			if c.cfg.PingTimeout > 0 && time.Since(lastPong) > c.cfg.PingTimeout {
				c.logger.Warn("no pong received, connection stale",
					"url", c.url,
					"last_pong", lastPong,
					"timeout", c.cfg.PingTimeout,
				)
				c.mu.Lock()
				c.staleErr = ErrStaleConnection
				c.mu.Unlock()
				conn.Close()
				return
			}
		}
	}
}

// Send writes one frame.
func (c *client) Send(mt MessageType, data []byte) error {
	c.mu.Lock()
	conn, closed := c.conn, c.closed
	c.mu.Unlock()
	if conn == nil || closed {
		return ErrNotConnected
	}

	wsType := websocket.TextMessage
	if mt == BinaryMessage {
		wsType = websocket.BinaryMessage
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.cfg.WriteTimeout > 0 {
		conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	}
	return conn.WriteMessage(wsType, data)
}

// Close sends a close frame and tears down the socket. A dial in progress is
// aborted.
func (c *client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.mu.Unlock()

	c.cancel()
	if conn == nil {
		return nil
	}

	c.writeMu.Lock()
	conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	c.writeMu.Unlock()
	return conn.Close()
}

func (c *client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
