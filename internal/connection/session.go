package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rickgao/wsession/internal/events"
	"github.com/rickgao/wsession/internal/queue"
)

const opsBufferSize = 64

// Session is a resilient WebSocket connection to one URL.
type Session struct {
	url       string
	cfg       Config
	transport Transport
	logger    *slog.Logger
	emitter   *events.Emitter
	backoff   Backoff
	corrPath  string

	ctx    context.Context
	cancel context.CancelFunc

	ops          chan func()
	quit         chan struct{}
	loopDone     chan struct{}
	outbox       *queue.Growable[func()]
	dispatchDone chan struct{}

	state     atomic.Int32
	destroyed atomic.Bool

	pending *pendingTable
	cache   *queue.Bounded[*CachedMessage]

	statsMu     sync.Mutex
	stats       Stats
	connectedAt time.Time

	// Loop-owned.
	handle         Handle
	generation     uint64
	manualClose    bool
	usedAuth       bool
	attemptErr     error
	connectTimer   *loopTimer
	reconnectTimer *loopTimer
	heartbeatTimer *loopTimer
	replayTimer    *loopTimer
	connectWaiters []chan error
	closeWaiters   []chan error
}

// NewSession creates a session in the idle state. Start from DefaultConfig;
// zero durations are filled from it. A nil transport uses a gorilla/websocket
// Dialer.
func NewSession(url string, cfg Config, transport Transport, logger *slog.Logger) (*Session, error) {
	if url == "" {
		return nil, errors.New("url is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid session config: %w", err)
	}

	if transport == nil {
		dcfg := DefaultDialerConfig()
		dcfg.Header = cfg.Header
		transport = NewDialer(dcfg, logger)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		url:          url,
		cfg:          cfg,
		transport:    transport,
		logger:       logger,
		emitter:      events.NewEmitter(logger),
		backoff:      cfg.backoff(),
		corrPath:     escapePath(cfg.CorrelationKey),
		ctx:          ctx,
		cancel:       cancel,
		ops:          make(chan func(), opsBufferSize),
		quit:         make(chan struct{}),
		loopDone:     make(chan struct{}),
		outbox:       queue.NewGrowable[func()](64),
		dispatchDone: make(chan struct{}),
		pending:      newPendingTable(),
		cache:        queue.NewBounded[*CachedMessage](cfg.MaxCacheSize),
	}
	s.state.Store(int32(StateIdle))

	go s.run()
	go s.dispatch()

	return s, nil
}

// URL returns the endpoint this session connects to.
func (s *Session) URL() string { return s.url }

// Config returns the effective configuration.
func (s *Session) Config() Config { return s.cfg }

// ClientID returns the identifier sent in auth and heartbeat frames.
func (s *Session) ClientID() string { return s.cfg.ClientID }

// State returns the current lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

// IsReady reports whether messages are written immediately.
func (s *Session) IsReady() bool { return s.State() == StateReady }

// Stats returns a snapshot of the connection counters.
func (s *Session) Stats() Stats { return s.snapshot() }

// Destroyed reports whether Destroy has run. A destroyed session rejects
// every operation with ErrDestroyed.
func (s *Session) Destroyed() bool { return s.destroyed.Load() }

// ReconnectAttempts returns the attempts made since the last Ready state.
func (s *Session) ReconnectAttempts() int { return s.reconnectAttempts() }

// On registers fn for the named event.
func (s *Session) On(name events.Name, fn func(events.Event)) (*events.Listener, error) {
	l := events.NewListener(fn)
	if err := s.AddListener(name, l); err != nil {
		return nil, err
	}
	return l, nil
}

// AddListener registers an existing listener. Adding the same listener twice
// for one event keeps a single registration.
func (s *Session) AddListener(name events.Name, l *events.Listener) error {
	if s.destroyed.Load() {
		return ErrDestroyed
	}
	return s.emitter.On(name, l)
}

// Once registers fn for the next delivery of the named event only.
func (s *Session) Once(name events.Name, fn func(events.Event)) (*events.Listener, error) {
	if s.destroyed.Load() {
		return nil, ErrDestroyed
	}
	return s.emitter.Once(name, fn)
}

// Off removes a listener.
func (s *Session) Off(name events.Name, l *events.Listener) {
	s.emitter.Off(name, l)
}

// Connect opens the connection and waits until it is ready, the attempt
// fails, or ctx is done. Calling Connect while an attempt is in flight
// waits for that attempt. A ready session returns immediately.
func (s *Session) Connect(ctx context.Context) error {
	reply := make(chan error, 1)
	if !s.post(func() { s.connect(reply) }) {
		return ErrDestroyed
	}
	return s.await(ctx, reply)
}

// Close closes the connection without reconnecting and waits for the
// transport to report the close. Pending requests are rejected with
// ErrCanceled. Cached messages are kept for a later Connect.
func (s *Session) Close(ctx context.Context) error {
	reply := make(chan error, 1)
	if !s.post(func() { s.close(reply) }) {
		return ErrDestroyed
	}
	return s.await(ctx, reply)
}

// Destroy closes the session for good. Pending and cached messages are
// rejected, listeners are removed, and every later call fails with
// ErrDestroyed. Destroy is idempotent.
func (s *Session) Destroy() {
	s.post(s.destroy)
	<-s.loopDone
}

// ClearCache drops every cached message and returns how many were dropped.
func (s *Session) ClearCache() (int, error) {
	var n int
	err := s.exec(func() {
		items := s.cache.Clear()
		n = len(items)
		for _, m := range items {
			s.settle(m.call, nil, newError(KindMessage, "clear", ErrCacheCleared))
		}
	})
	return n, err
}

// CachedMessages returns the messages waiting for a ready connection,
// oldest first.
func (s *Session) CachedMessages() []CachedMessage {
	items := s.cache.Snapshot()
	out := make([]CachedMessage, len(items))
	for i, m := range items {
		out[i] = CachedMessage{Payload: m.Payload, Options: m.Options, QueuedAt: m.QueuedAt}
	}
	return out
}

// run serializes every state change.
func (s *Session) run() {
	defer func() {
		s.outbox.Close()
		close(s.loopDone)
	}()

	for {
		select {
		case op := <-s.ops:
			op()
			if s.destroyed.Load() {
				return
			}
		case <-s.quit:
			return
		}
	}
}

// dispatch delivers events and callbacks in order, off the loop.
func (s *Session) dispatch() {
	defer close(s.dispatchDone)
	for {
		fn, ok := s.outbox.Receive()
		if !ok {
			s.emitter.RemoveAll()
			return
		}
		fn()
	}
}

// post schedules op on the loop.
func (s *Session) post(op func()) bool {
	if s.destroyed.Load() {
		return false
	}
	select {
	case s.ops <- op:
		return true
	case <-s.quit:
		return false
	}
}

// exec runs fn on the loop and waits for it.
func (s *Session) exec(fn func()) error {
	done := make(chan struct{})
	if !s.post(func() { fn(); close(done) }) {
		return ErrDestroyed
	}
	select {
	case <-done:
		return nil
	case <-s.loopDone:
		select {
		case <-done:
			return nil
		default:
			return ErrDestroyed
		}
	}
}

func (s *Session) await(ctx context.Context, reply <-chan error) error {
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-s.loopDone:
		select {
		case err := <-reply:
			return err
		default:
			return ErrDestroyed
		}
	}
}

func (s *Session) emit(name events.Name, payload any) {
	s.outbox.Send(func() {
		if err := s.emitter.Emit(name, payload); err != nil {
			s.logger.Error("emit failed", "event", name, "error", err)
		}
	})
}

func (s *Session) setState(next State) {
	prev := s.State()
	if prev != next && !prev.canTransitionTo(next) {
		s.logger.Warn("unexpected state transition", "url", s.url, "from", prev, "to", next)
	}
	s.state.Store(int32(next))
	if prev != next {
		s.logger.Debug("state changed", "url", s.url, "from", prev, "to", next)
	}
}

func (s *Session) snapshot() Stats {
	s.statsMu.Lock()
	st := s.stats
	if !s.connectedAt.IsZero() {
		st.CurrentUptime = time.Since(s.connectedAt)
	}
	s.statsMu.Unlock()

	st.State = s.State()
	st.PendingRequests = s.pending.len()
	cache := s.cache.Stats()
	st.CachedMessages = cache.Len
	st.EvictedMessages = cache.Evicted
	st.QueuedEvents = s.outbox.Len()
	return st
}

func (s *Session) updateStats(fn func(st *Stats)) {
	s.statsMu.Lock()
	fn(&s.stats)
	s.statsMu.Unlock()
}

func (s *Session) reconnectAttempts() int {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return s.stats.ReconnectAttempts
}

func (s *Session) setReconnectAttempts(n int) {
	s.updateStats(func(st *Stats) { st.ReconnectAttempts = n })
}

func (s *Session) reportError(err error, fatal bool) {
	now := time.Now()
	s.updateStats(func(st *Stats) {
		st.LastError = err.Error()
		st.LastErrorAt = now
	})
	if fatal {
		s.logger.Error("session failed", "url", s.url, "error", err)
	} else {
		s.logger.Warn("session error", "url", s.url, "error", err)
	}
	s.emit(events.Error, ErrorEvent{Err: err, Fatal: fatal, Stats: s.snapshot()})
}

func (s *Session) settleConnectWaiters(err error) {
	for _, w := range s.connectWaiters {
		w <- err
	}
	s.connectWaiters = nil
}

func (s *Session) settleCloseWaiters(err error) {
	for _, w := range s.closeWaiters {
		w <- err
	}
	s.closeWaiters = nil
}

func (s *Session) connect(reply chan error) {
	switch s.State() {
	case StateReady:
		reply <- nil
		return
	case StateConnecting, StateAuthenticating:
		s.connectWaiters = append(s.connectWaiters, reply)
		return
	case StateClosing:
		reply <- newError(KindConnection, "connect", ErrClosing)
		return
	case StateFailed:
		s.setReconnectAttempts(0)
	}

	s.manualClose = false
	s.reconnectTimer.stop()
	s.reconnectTimer = nil
	s.connectWaiters = append(s.connectWaiters, reply)
	s.open()
}

// open starts one transport attempt.
func (s *Session) open() {
	s.generation++
	gen := s.generation
	s.usedAuth = false
	s.attemptErr = nil

	s.updateStats(func(st *Stats) { st.TotalAttempts++ })
	s.setState(StateConnecting)
	s.logger.Info("connecting", "url", s.url, "attempt", s.reconnectAttempts())

	s.connectTimer.stop()
	s.connectTimer = s.after(s.cfg.ConnectTimeout, s.onConnectTimeout)

	h, err := s.transport.Open(s.ctx, s.url, s.cfg.Protocols, &attemptHandler{s: s, gen: gen})
	if err != nil {
		s.generation++
		err = newError(KindConnection, "open", err)
		s.attemptErr = err
		s.reportError(err, false)
		s.handleClosed(CloseAbnormal, err.Error(), false, false)
		return
	}
	s.handle = h
}

func (s *Session) onOpen() {
	if s.State() != StateConnecting {
		return
	}
	s.connectTimer.stop()
	s.connectTimer = nil

	now := time.Now()
	s.statsMu.Lock()
	s.stats.SuccessfulConnections++
	s.stats.LastConnectedAt = now
	s.connectedAt = now
	s.statsMu.Unlock()

	if s.cfg.AuthToken == "" {
		s.enterReady()
		return
	}

	s.usedAuth = true
	s.setState(StateAuthenticating)
	s.emit(events.Opened, OpenedEvent{URL: s.url, Stats: s.snapshot()})
	s.connectTimer = s.after(s.cfg.ConnectTimeout, s.onConnectTimeout)
	if err := s.sendAuth(); err != nil {
		err = newError(KindAuth, "send", err)
		s.attemptErr = err
		s.reportError(err, false)
		s.closeHandle()
	}
}

func (s *Session) enterReady() {
	s.connectTimer.stop()
	s.connectTimer = nil
	s.setState(StateReady)
	s.setReconnectAttempts(0)
	s.startHeartbeat()

	s.logger.Info("session ready", "url", s.url, "authenticated", s.usedAuth, "cached", s.cache.Len())

	st := s.snapshot()
	if s.usedAuth {
		s.emit(events.Authenticated, AuthenticatedEvent{ClientID: s.cfg.ClientID, Stats: st})
	} else {
		s.emit(events.Opened, OpenedEvent{URL: s.url, Stats: st})
	}
	s.settleConnectWaiters(nil)

	if s.cfg.EnableMessageCache {
		s.replayNext()
	}
}

func (s *Session) onTransportError(err error) {
	err = newError(KindConnection, "transport", err)
	s.attemptErr = err
	s.reportError(err, false)
}

func (s *Session) onTransportClose(code int, reason string, wasClean bool) {
	s.handle = nil
	s.handleClosed(code, reason, wasClean, false)
}

func (s *Session) onConnectTimeout() {
	st := s.State()
	if st != StateConnecting && st != StateAuthenticating {
		return
	}
	s.connectTimer = nil

	op := "connect"
	if st == StateAuthenticating {
		op = "auth"
	}
	err := newError(KindConnection, op, ErrConnectTimeout)
	s.attemptErr = err
	s.detachHandle()
	s.reportError(err, false)
	s.handleClosed(CloseAbnormal, ErrConnectTimeout.Error(), false, true)
}

// closeHandle asks the transport to close; OnClose follows.
func (s *Session) closeHandle() {
	if s.handle == nil {
		return
	}
	if err := s.handle.Close(); err != nil {
		s.logger.Debug("close handle", "url", s.url, "error", err)
	}
}

// detachHandle closes the current handle and ignores its later callbacks.
func (s *Session) detachHandle() {
	h := s.handle
	s.handle = nil
	s.generation++
	if h != nil {
		if err := h.Close(); err != nil {
			s.logger.Debug("close detached handle", "url", s.url, "error", err)
		}
	}
}

// handleClosed runs once per attempt when its socket is gone. fast skips the
// backoff delay for the next attempt.
func (s *Session) handleClosed(code int, reason string, wasClean, fast bool) {
	prev := s.State()
	if prev == StateIdle {
		return
	}

	s.handle = nil
	s.connectTimer.stop()
	s.connectTimer = nil
	s.stopHeartbeat()
	s.replayTimer.stop()
	s.replayTimer = nil

	now := time.Now()
	s.statsMu.Lock()
	if prev == StateConnecting {
		s.stats.FailedConnections++
	}
	if !s.connectedAt.IsZero() {
		s.stats.TotalUptime += now.Sub(s.connectedAt)
		s.connectedAt = time.Time{}
	}
	s.stats.LastDisconnectedAt = now
	s.statsMu.Unlock()

	s.setState(StateClosed)

	cause := ErrConnectionClosed
	if s.manualClose {
		cause = ErrCanceled
	}
	for _, c := range s.pending.drain() {
		s.settle(c, nil, newError(KindConnection, "close", cause))
	}

	s.logger.Info("connection closed", "url", s.url, "code", code, "reason", reason, "clean", wasClean)
	s.emit(events.Closed, ClosedEvent{
		Code:     code,
		Reason:   reason,
		WasClean: wasClean,
		Manual:   s.manualClose,
		Stats:    s.snapshot(),
	})

	if len(s.connectWaiters) > 0 {
		err := s.attemptErr
		if err == nil {
			err = newError(KindConnection, "connect", fmt.Errorf("%w: code %d %s", cause, code, reason))
		}
		s.settleConnectWaiters(err)
	}
	s.attemptErr = nil
	s.settleCloseWaiters(nil)

	if s.manualClose || !s.cfg.Reconnect {
		return
	}
	s.scheduleReconnect(fast)
}

func (s *Session) scheduleReconnect(fast bool) {
	attempts := s.reconnectAttempts()
	if limit := s.cfg.attemptLimit(); limit > 0 && attempts >= limit {
		s.setState(StateFailed)
		s.reportError(newError(KindConnection, "reconnect",
			fmt.Errorf("%w: %d", ErrMaxReconnectAttempts, limit)), true)
		return
	}

	attempts++
	s.setReconnectAttempts(attempts)
	delay := s.backoff.Delay(attempts)
	if fast {
		delay = 0
	}

	s.logger.Info("reconnecting", "url", s.url, "attempt", attempts, "delay", delay)
	s.emit(events.Reconnecting, ReconnectingEvent{
		Attempt:       attempts,
		MaxAttempts:   s.cfg.attemptLimit(),
		Delay:         delay,
		NextAttemptAt: time.Now().Add(delay),
	})
	s.reconnectTimer = s.after(delay, s.reconnect)
}

func (s *Session) reconnect() {
	s.reconnectTimer = nil
	if s.State() != StateClosed || s.manualClose {
		return
	}
	s.open()
}

func (s *Session) close(reply chan error) {
	s.manualClose = true
	s.reconnectTimer.stop()
	s.reconnectTimer = nil

	st := s.State()
	if s.handle == nil {
		if st != StateClosed {
			s.setState(StateClosed)
		}
		s.settleConnectWaiters(newError(KindConnection, "connect", ErrCanceled))
		reply <- nil
		return
	}

	s.closeWaiters = append(s.closeWaiters, reply)
	if st == StateClosing {
		return
	}

	s.setState(StateClosing)
	s.connectTimer.stop()
	s.connectTimer = nil
	s.stopHeartbeat()
	s.replayTimer.stop()
	s.replayTimer = nil
	for _, c := range s.pending.drain() {
		s.settle(c, nil, newError(KindConnection, "close", ErrCanceled))
	}
	s.closeHandle()
}

func (s *Session) destroy() {
	s.manualClose = true
	s.reconnectTimer.stop()
	s.reconnectTimer = nil

	switch s.State() {
	case StateClosed, StateFailed:
	case StateIdle:
		s.setState(StateClosed)
	default:
		s.detachHandle()
		s.handleClosed(CloseNormal, "destroyed", true, false)
	}

	for _, m := range s.cache.Clear() {
		s.settle(m.call, nil, newError(KindMessage, "destroy", ErrCanceled))
	}
	for _, c := range s.pending.drain() {
		s.settle(c, nil, newError(KindConnection, "destroy", ErrCanceled))
	}
	s.settleConnectWaiters(ErrDestroyed)
	s.settleCloseWaiters(nil)

	s.logger.Debug("session destroyed", "url", s.url)
	s.destroyed.Store(true)
	close(s.quit)
	s.cancel()
}

// attemptHandler routes transport callbacks for one attempt onto the loop.
// Callbacks from a superseded attempt are dropped.
type attemptHandler struct {
	s   *Session
	gen uint64
}

func (h *attemptHandler) post(fn func()) {
	h.s.post(func() {
		if h.s.generation != h.gen {
			return
		}
		fn()
	})
}

func (h *attemptHandler) OnOpen() { h.post(h.s.onOpen) }

func (h *attemptHandler) OnMessage(data []byte, binary bool) {
	h.post(func() { h.s.onMessage(data, binary) })
}

func (h *attemptHandler) OnError(err error) {
	h.post(func() { h.s.onTransportError(err) })
}

func (h *attemptHandler) OnClose(code int, reason string, wasClean bool) {
	h.post(func() { h.s.onTransportClose(code, reason, wasClean) })
}
