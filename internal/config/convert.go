package config

import (
	"fmt"
	"net/http"

	"github.com/rickgao/wsession/internal/auth"
	"github.com/rickgao/wsession/internal/connection"
)

// ConnectionConfig builds the session configuration. The auth token file is
// read here.
func (c *ClientConfig) ConnectionConfig() (connection.Config, error) {
	s := c.Session

	token, err := auth.LoadToken(s.AuthToken, s.AuthTokenFile)
	if err != nil {
		return connection.Config{}, fmt.Errorf("session auth token: %w", err)
	}

	cfg := connection.DefaultConfig()
	if s.Reconnect != nil {
		cfg.Reconnect = *s.Reconnect
	}
	if s.MaxReconnectAttempts != nil {
		cfg.MaxReconnectAttempts = *s.MaxReconnectAttempts
	}
	cfg.ReconnectInterval = s.ReconnectInterval
	cfg.ReconnectMaxInterval = s.ReconnectMaxInterval
	cfg.InfiniteReconnect = s.InfiniteReconnect
	cfg.ConnectTimeout = s.ConnectTimeout
	cfg.HeartbeatInterval = s.HeartbeatInterval
	cfg.EnableMessageCache = s.EnableMessageCache
	cfg.MaxCacheSize = s.MaxCacheSize
	cfg.ReplayInterval = s.ReplayInterval
	cfg.CorrelationKey = s.CorrelationKey
	cfg.DefaultResponseTimeout = s.ResponseTimeout
	cfg.AuthToken = token
	cfg.ClientID = s.ClientID
	cfg.Protocols = s.Protocols
	cfg.Header = c.header()
	return cfg, nil
}

// DialerConfig builds the gorilla/websocket transport configuration.
func (c *ClientConfig) DialerConfig() connection.DialerConfig {
	t := c.Transport
	dcfg := connection.DialerConfig{
		Header:           c.header(),
		HandshakeTimeout: t.HandshakeTimeout,
		WriteTimeout:     t.WriteTimeout,
		PingInterval:     t.PingInterval,
		PingTimeout:      t.PingTimeout,
		ReadLimit:        t.ReadLimit,
	}
	if dcfg.PingInterval < 0 {
		dcfg.PingInterval = 0
	}
	return dcfg
}

func (c *ClientConfig) header() http.Header {
	if len(c.Session.Headers) == 0 {
		return nil
	}
	h := make(http.Header, len(c.Session.Headers))
	for k, v := range c.Session.Headers {
		h.Set(k, v)
	}
	return h
}
