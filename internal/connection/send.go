package connection

import (
	"context"
	"fmt"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Send writes payload and waits for the correlated response. With
// WithoutResponse it returns once the frame is written. While disconnected
// the message is cached if the cache is enabled, otherwise Send fails with
// ErrNotConnected.
//
// payload is a JSON object: a []byte or string holding one, or any value
// that marshals to one. The message id is added under Config.CorrelationKey.
func (s *Session) Send(ctx context.Context, payload any, opts ...SendOption) (*Message, error) {
	call, err := s.SendAsync(payload, opts...)
	if err != nil {
		return nil, err
	}
	return call.Wait(ctx)
}

// SendAsync queues payload and returns its Call without waiting.
func (s *Session) SendAsync(payload any, opts ...SendOption) (*Call, error) {
	return s.submit(payload, nil, opts)
}

// SendFunc queues payload and calls cb exactly once when it settles. If
// SendFunc returns an error, cb is never called. cb runs on the event
// dispatch goroutine.
func (s *Session) SendFunc(payload any, cb func(*Message, error), opts ...SendOption) error {
	_, err := s.submit(payload, cb, opts)
	return err
}

func (s *Session) submit(payload any, cb func(*Message, error), opts []SendOption) (*Call, error) {
	m := &CachedMessage{
		Payload:  payload,
		Options:  buildSendOptions(opts),
		QueuedAt: time.Now(),
		call:     newCall(cb),
	}

	reply := make(chan error, 1)
	if !s.post(func() { reply <- s.send(m) }) {
		return nil, ErrDestroyed
	}
	if err := s.await(context.Background(), reply); err != nil {
		return nil, err
	}
	return m.call, nil
}

func (s *Session) send(m *CachedMessage) error {
	ready := s.State() == StateReady

	if s.cfg.EnableMessageCache && (!ready || s.cache.Len() > 0) {
		// Keep FIFO order behind messages still waiting for replay.
		s.enqueue(m)
		if ready && s.replayTimer == nil {
			s.replayNext()
		}
		return nil
	}
	if !ready {
		return newError(KindConnection, "send", ErrNotConnected)
	}

	if err := s.transmit(m); err != nil {
		if s.cfg.EnableMessageCache {
			s.logger.Warn("send failed, caching message", "url", s.url, "error", err)
			s.enqueue(m)
			return nil
		}
		return newError(KindConnection, "send", err)
	}
	return nil
}

func (s *Session) enqueue(m *CachedMessage) {
	if evicted, ok := s.cache.Push(m); ok {
		s.logger.Warn("message cache full, evicting oldest", "url", s.url, "capacity", s.cache.Cap())
		s.settle(evicted.call, nil, newError(KindMessage, "cache", ErrEvicted))
	}
}

// replayNext writes the oldest cached message and schedules the next one.
func (s *Session) replayNext() {
	s.replayTimer = nil
	if s.State() != StateReady {
		return
	}

	m, ok := s.cache.PopFront()
	if !ok {
		return
	}
	if err := s.transmit(m); err != nil {
		if evicted, full := s.cache.PushFront(m); full {
			s.settle(evicted.call, nil, newError(KindMessage, "replay", ErrEvicted))
		}
		s.logger.Warn("replay aborted", "url", s.url, "remaining", s.cache.Len(), "error", err)
		return
	}

	if s.cache.Len() > 0 {
		s.replayTimer = s.after(s.cfg.ReplayInterval, s.replayNext)
	}
}

// transmit writes one message on the current handle. Payload problems
// settle the call and return nil. A write failure is returned with the call
// left unsettled.
func (s *Session) transmit(m *CachedMessage) error {
	if s.handle == nil {
		return ErrNotConnected
	}
	call := m.call

	if m.Options.Binary {
		data, ok := m.Payload.([]byte)
		if !ok {
			s.settle(call, nil, newError(KindMessage, "encode",
				fmt.Errorf("%w: binary payload must be []byte, got %T", ErrInvalidPayload, m.Payload)))
			return nil
		}
		if err := s.handle.Send(BinaryMessage, data); err != nil {
			return err
		}
		s.settle(call, nil, nil)
		return nil
	}

	data, err := encodePayload(m.Payload)
	if err != nil {
		s.settle(call, nil, newError(KindMessage, "encode", err))
		return nil
	}

	id := uuid.NewString()
	data, err = sjson.SetBytes(data, s.corrPath, id)
	if err != nil {
		s.settle(call, nil, newError(KindMessage, "encode", err))
		return nil
	}
	call.setID(id)

	wait := m.Options.WaitForResponse
	if wait {
		if err := s.pending.add(id, call); err != nil {
			s.settle(call, nil, newError(KindMessage, "send", err))
			return nil
		}
	}

	if err := s.handle.Send(TextMessage, data); err != nil {
		if wait {
			s.pending.take(id)
		}
		call.setID("")
		return err
	}

	if !wait {
		s.settle(call, nil, nil)
		return nil
	}

	timeout := m.Options.Timeout
	if timeout <= 0 {
		timeout = s.cfg.DefaultResponseTimeout
	}
	call.timer = s.after(timeout, func() {
		if c, ok := s.pending.take(id); ok {
			s.logger.Debug("request timed out", "url", s.url, "id", id, "timeout", timeout)
			s.settle(c, nil, newError(KindTimeout, "response", ErrRequestTimeout))
		}
	})
	return nil
}

// settle completes a call and schedules its callback.
func (s *Session) settle(c *Call, resp *Message, err error) {
	if c == nil {
		return
	}
	c.timer.stop()
	c.timer = nil
	if !c.settle(resp, err) {
		return
	}
	if cb := c.callback; cb != nil {
		s.outbox.Send(func() { cb(resp, err) })
	}
}

// encodePayload returns payload as a JSON object.
func encodePayload(payload any) ([]byte, error) {
	var data []byte
	switch p := payload.(type) {
	case nil:
		return nil, fmt.Errorf("%w: nil payload", ErrInvalidPayload)
	case []byte:
		data = append([]byte(nil), p...)
	case json.RawMessage:
		data = append([]byte(nil), p...)
	case string:
		data = []byte(p)
	default:
		b, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		data = b
	}

	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("%w: not valid JSON", ErrInvalidPayload)
	}
	if !gjson.ParseBytes(data).IsObject() {
		return nil, fmt.Errorf("%w: must be a JSON object", ErrInvalidPayload)
	}
	return data, nil
}

var pathEscaper = strings.NewReplacer(
	`\`, `\\`,
	`.`, `\.`,
	`*`, `\*`,
	`?`, `\?`,
	`|`, `\|`,
	`#`, `\#`,
	`@`, `\@`,
	`!`, `\!`,
	`=`, `\=`,
	`<`, `\<`,
	`>`, `\>`,
	`%`, `\%`,
)

// escapePath turns a field name into a literal gjson/sjson path.
func escapePath(key string) string {
	return pathEscaper.Replace(key)
}
