package connection

import (
	"time"

	json "github.com/goccy/go-json"

	"github.com/rickgao/wsession/internal/events"
)

type heartbeatFrame struct {
	Type      string `json:"type"`
	ClientID  string `json:"clientId"`
	Timestamp int64  `json:"timestamp"`
}

// startHeartbeat restarts the keep-alive schedule from now.
func (s *Session) startHeartbeat() {
	s.stopHeartbeat()
	if s.cfg.HeartbeatInterval <= 0 {
		return
	}
	s.heartbeatTimer = s.after(s.cfg.HeartbeatInterval, s.beat)
}

func (s *Session) stopHeartbeat() {
	s.heartbeatTimer.stop()
	s.heartbeatTimer = nil
}

func (s *Session) beat() {
	s.heartbeatTimer = nil
	if s.State() != StateReady || s.handle == nil {
		return
	}

	now := time.Now()
	var payload any = heartbeatFrame{Type: "heartbeat", ClientID: s.cfg.ClientID, Timestamp: now.UnixMilli()}
	if s.cfg.HeartbeatPayload != nil {
		payload = s.cfg.HeartbeatPayload(s.cfg.ClientID)
	}

	data, err := json.Marshal(payload)
	if err == nil {
		err = s.handle.Send(TextMessage, data)
	}
	if err != nil {
		s.reportError(newError(KindHeartbeat, "send", err), false)
	} else {
		s.emit(events.Heartbeat, HeartbeatEvent{SentAt: now})
	}

	s.heartbeatTimer = s.after(s.cfg.HeartbeatInterval, s.beat)
}
