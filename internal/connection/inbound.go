package connection

import (
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/tidwall/gjson"

	"github.com/rickgao/wsession/internal/auth"
	"github.com/rickgao/wsession/internal/events"
)

func (s *Session) onMessage(data []byte, binary bool) {
	msg := &Message{Data: data, Binary: binary, ReceivedAt: time.Now()}
	if binary {
		s.emit(events.Binary, msg)
		return
	}

	if !gjson.ValidBytes(data) {
		s.reportError(newError(KindMessage, "decode",
			fmt.Errorf("%w: inbound frame is not valid JSON", ErrInvalidPayload)), false)
		return
	}

	msg.Type = gjson.GetBytes(data, "type").String()
	if id := gjson.GetBytes(data, s.corrPath); id.Exists() {
		msg.CorrelationID = id.String()
	}

	if msg.Type == auth.TypeResponse && s.State() == StateAuthenticating {
		s.onAuthResponse(msg)
	} else if msg.CorrelationID != "" {
		s.resolve(msg)
	}

	s.emit(events.Message, msg)
}

func (s *Session) resolve(msg *Message) {
	call, ok := s.pending.take(msg.CorrelationID)
	if !ok {
		s.logger.Debug("no pending request for response", "url", s.url, "id", msg.CorrelationID)
		return
	}
	if reason, failed := responseFailure(msg); failed {
		s.settle(call, msg, &ResponseError{Message: reason, Response: msg})
		return
	}
	s.settle(call, msg, nil)
}

// responseFailure reports whether msg carries an "error" field that is a
// non-empty string, true, or an object with a message.
func responseFailure(msg *Message) (string, bool) {
	field := msg.Get("error")
	switch {
	case field.Type == gjson.True:
		return "error", true
	case field.Type == gjson.String:
		return field.Str, field.Str != ""
	case field.IsObject():
		if m := field.Get("message"); m.Exists() {
			return m.String(), true
		}
	}
	// Numbers, arrays and objects without a message are data, not failures.
	return "", false
}

func (s *Session) sendAuth() error {
	data, err := json.Marshal(auth.NewRequest(s.cfg.AuthToken, s.cfg.ClientID))
	if err != nil {
		return err
	}
	return s.handle.Send(TextMessage, data)
}

func (s *Session) onAuthResponse(msg *Message) {
	resp, err := auth.ParseResponse(msg.Data)
	if err == nil && resp.Success {
		s.enterReady()
		return
	}

	reason := resp.Reason()
	if err != nil {
		reason = err.Error()
	}
	err = newError(KindAuth, "handshake", fmt.Errorf("%w: %s", ErrAuthRejected, reason))
	s.attemptErr = err
	s.reportError(err, false)
	s.closeHandle()
}
