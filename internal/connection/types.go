package connection

import (
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/tidwall/gjson"
)

// State is the lifecycle state of a Session.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateAuthenticating
	StateReady
	StateClosing
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateReady:
		return "ready"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// canTransitionTo reports whether next is a legal successor of s.
func (s State) canTransitionTo(next State) bool {
	switch s {
	case StateIdle:
		return next == StateConnecting || next == StateClosed
	case StateConnecting:
		switch next {
		case StateAuthenticating, StateReady, StateClosing, StateClosed:
			return true
		}
	case StateAuthenticating:
		switch next {
		case StateReady, StateClosing, StateClosed:
			return true
		}
	case StateReady:
		return next == StateClosing || next == StateClosed
	case StateClosing:
		return next == StateClosed
	case StateClosed:
		switch next {
		case StateConnecting, StateClosed, StateFailed:
			return true
		}
	case StateFailed:
		return next == StateConnecting || next == StateClosed
	}
	return false
}

// Message is an inbound frame.
type Message struct {
	Data          []byte    // Raw frame payload
	Binary        bool      // True for binary frames
	ReceivedAt    time.Time // Local timestamp when the transport delivered the frame
	Type          string    // Value of the "type" field, if any
	CorrelationID string    // Value of the correlation field, if any
}

// Decode unmarshals a text message into v.
func (m *Message) Decode(v any) error {
	return json.Unmarshal(m.Data, v)
}

// Get returns the value at a gjson path of a text message.
func (m *Message) Get(path string) gjson.Result {
	return gjson.GetBytes(m.Data, path)
}

func (m *Message) String() string {
	if m.Binary {
		return fmt.Sprintf("<binary %d bytes>", len(m.Data))
	}
	return string(m.Data)
}

// Stats is a point-in-time snapshot of connection counters.
type Stats struct {
	State                 State
	TotalAttempts         int64
	SuccessfulConnections int64
	FailedConnections     int64
	TotalUptime           time.Duration // Accumulated across closed connections
	CurrentUptime         time.Duration // Zero unless a connection is open
	LastConnectedAt       time.Time
	LastDisconnectedAt    time.Time
	LastErrorAt           time.Time
	LastError             string
	ReconnectAttempts     int
	PendingRequests       int
	CachedMessages        int
	EvictedMessages       int64 // Dropped from a full cache since creation
	QueuedEvents          int   // Emitted but not yet delivered to listeners
}

// OpenedEvent is the payload of events.Opened.
type OpenedEvent struct {
	URL   string
	Stats Stats
}

// AuthenticatedEvent is the payload of events.Authenticated.
type AuthenticatedEvent struct {
	ClientID string
	Stats    Stats
}

// ClosedEvent is the payload of events.Closed.
type ClosedEvent struct {
	Code     int
	Reason   string
	WasClean bool
	Manual   bool // Close was requested by the caller
	Stats    Stats
}

// ReconnectingEvent is the payload of events.Reconnecting.
type ReconnectingEvent struct {
	Attempt       int
	MaxAttempts   int // Zero when unlimited
	Delay         time.Duration
	NextAttemptAt time.Time
}

// ErrorEvent is the payload of events.Error.
type ErrorEvent struct {
	Err   error
	Fatal bool // No further automatic reconnect will happen
	Stats Stats
}

// HeartbeatEvent is the payload of events.Heartbeat.
type HeartbeatEvent struct {
	SentAt time.Time
}

// CachedMessage is an outbound message waiting for a ready connection.
type CachedMessage struct {
	Payload  any
	Options  SendOptions
	QueuedAt time.Time

	call *Call
}
