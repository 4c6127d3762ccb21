package events

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrUnknownEvent is returned when registering or emitting a name outside
// the supported set.
var ErrUnknownEvent = errors.New("unknown event")

// Name identifies an event.
type Name string

const (
	Opened        Name = "opened"
	Closed        Name = "closed"
	Message       Name = "message"
	Error         Name = "error"
	Reconnecting  Name = "reconnecting"
	Authenticated Name = "authenticated"
	Heartbeat     Name = "heartbeat"
	Binary        Name = "binary"
)

var known = map[Name]struct{}{
	Opened:        {},
	Closed:        {},
	Message:       {},
	Error:         {},
	Reconnecting:  {},
	Authenticated: {},
	Heartbeat:     {},
	Binary:        {},
}

// Valid reports whether n is a supported event name.
func (n Name) Valid() bool {
	_, ok := known[n]
	return ok
}

// Names returns every supported event name.
func Names() []Name {
	return []Name{Opened, Closed, Message, Error, Reconnecting, Authenticated, Heartbeat, Binary}
}

// Event is a single delivery.
type Event struct {
	Name    Name
	Payload any
	At      time.Time
}

// Listener wraps a callback. Listeners are compared by pointer, so the same
// *Listener registered twice for a name is kept once.
type Listener struct {
	fn func(Event)
}

// NewListener creates a listener for fn.
func NewListener(fn func(Event)) *Listener {
	return &Listener{fn: fn}
}

// Emitter keeps an ordered listener list per event name.
type Emitter struct {
	logger *slog.Logger

	mu        sync.RWMutex
	listeners map[Name][]*Listener
}

// NewEmitter creates an empty emitter.
func NewEmitter(logger *slog.Logger) *Emitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Emitter{
		logger:    logger,
		listeners: make(map[Name][]*Listener),
	}
}

// On registers l for name. Registering the same listener twice is a no-op.
func (e *Emitter) On(name Name, l *Listener) error {
	if !name.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownEvent, name)
	}
	if l == nil || l.fn == nil {
		return errors.New("nil listener")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for _, existing := range e.listeners[name] {
		if existing == l {
			return nil
		}
	}
	e.listeners[name] = append(e.listeners[name], l)
	return nil
}

// Once registers fn to run for the first delivery of name only.
func (e *Emitter) Once(name Name, fn func(Event)) (*Listener, error) {
	var l *Listener
	l = NewListener(func(ev Event) {
		e.Off(name, l)
		fn(ev)
	})
	if err := e.On(name, l); err != nil {
		return nil, err
	}
	return l, nil
}

// Off removes l from name. Unknown listeners are ignored.
func (e *Emitter) Off(name Name, l *Listener) {
	e.mu.Lock()
	defer e.mu.Unlock()

	list := e.listeners[name]
	for i, existing := range list {
		if existing == l {
			next := make([]*Listener, 0, len(list)-1)
			next = append(next, list[:i]...)
			next = append(next, list[i+1:]...)
			e.listeners[name] = next
			return
		}
	}
}

// RemoveAll drops every listener.
func (e *Emitter) RemoveAll() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners = make(map[Name][]*Listener)
}

// Count returns the number of listeners registered for name.
func (e *Emitter) Count(name Name) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.listeners[name])
}

// Emit delivers payload to the listeners of name in registration order.
// The listener list is snapshotted first, so listeners may call On/Off.
func (e *Emitter) Emit(name Name, payload any) error {
	if !name.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownEvent, name)
	}

	e.mu.RLock()
	list := e.listeners[name]
	e.mu.RUnlock()

	ev := Event{Name: name, Payload: payload, At: time.Now()}
	for _, l := range list {
		e.call(l, ev)
	}
	return nil
}

func (e *Emitter) call(l *Listener, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("event listener panicked",
				"event", ev.Name,
				"panic", r,
			)
		}
	}()
	l.fn(ev)
}
