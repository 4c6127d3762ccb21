package connection

import (
	"errors"
	"fmt"
)

// Errors
var (
	ErrNotConnected         = errors.New("not connected")
	ErrConnectTimeout       = errors.New("connect timeout")
	ErrMaxReconnectAttempts = errors.New("max reconnect attempts reached")
	ErrAuthRejected         = errors.New("authentication rejected")
	ErrRequestTimeout       = errors.New("response timeout")
	ErrCanceled             = errors.New("request canceled")
	ErrConnectionClosed     = errors.New("connection closed")
	ErrEvicted              = errors.New("evicted from message cache")
	ErrCacheCleared         = errors.New("message cache cleared")
	ErrDestroyed            = errors.New("session destroyed")
	ErrClosing              = errors.New("session is closing")
	ErrIDInUse              = errors.New("id already in use")
	ErrInvalidPayload       = errors.New("invalid payload")
)

// Kind classifies session errors.
type Kind string

const (
	KindConnection Kind = "connection"
	KindAuth       Kind = "auth"
	KindMessage    Kind = "message"
	KindHeartbeat  Kind = "heartbeat"
	KindTimeout    Kind = "timeout"
)

// Error is a classified session error.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s error: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// IsKind reports whether err is an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// ResponseError is returned for a correlated response that carries an
// "error" field.
type ResponseError struct {
	Message  string
	Response *Message
}

func (e *ResponseError) Error() string {
	return "response error: " + e.Message
}
