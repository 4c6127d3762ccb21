package connection

import "context"

// MessageType distinguishes text from binary frames.
type MessageType int

const (
	TextMessage MessageType = iota + 1
	BinaryMessage
)

// Close codes reported through Handler.OnClose.
const (
	CloseNormal   = 1000
	CloseAbnormal = 1006
)

// Transport opens raw WebSocket connections.
//
// Open starts connecting and returns immediately. The outcome is reported
// through h: OnOpen once the socket is usable, OnMessage for every frame,
// OnError for transport failures. Every handle ends with exactly one
// OnClose, including failed dials and handles closed locally.
//
// A synchronous error from Open means no callback will follow.
type Transport interface {
	Open(ctx context.Context, url string, protocols []string, h Handler) (Handle, error)
}

// Handle is one underlying socket.
type Handle interface {
	Send(mt MessageType, data []byte) error
	Close() error
}

// Handler receives transport callbacks for one handle. Callbacks for a
// single handle are never concurrent.
type Handler interface {
	OnOpen()
	OnMessage(data []byte, binary bool)
	OnError(err error)
	OnClose(code int, reason string, wasClean bool)
}
