package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate checks that all required fields are set and values are valid.
func (c *ClientConfig) Validate() error {
	if c.Session.URL == "" {
		return errors.New("session.url is required")
	}
	u, err := url.Parse(c.Session.URL)
	if err != nil {
		return fmt.Errorf("session.url is invalid: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("session.url must use ws or wss, got %q", u.Scheme)
	}

	s := c.Session
	if s.ReconnectInterval < 0 {
		return errors.New("session.reconnect_interval must be >= 0")
	}
	if s.ReconnectMaxInterval < s.ReconnectInterval {
		return fmt.Errorf("session.reconnect_max_interval (%s) cannot be below reconnect_interval (%s)",
			s.ReconnectMaxInterval, s.ReconnectInterval)
	}
	if s.MaxReconnectAttempts != nil && *s.MaxReconnectAttempts < 0 {
		return errors.New("session.max_reconnect_attempts must be >= 0")
	}
	if s.ConnectTimeout <= 0 {
		return errors.New("session.connect_timeout must be > 0")
	}
	if s.MaxCacheSize < 1 {
		return errors.New("session.max_cache_size must be >= 1")
	}
	if s.ResponseTimeout <= 0 {
		return errors.New("session.response_timeout must be > 0")
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error, got %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}

	if c.Recorder.Enabled {
		if err := c.Recorder.Database.validate("recorder.database"); err != nil {
			return err
		}
		if c.Recorder.BatchSize < 1 {
			return errors.New("recorder.batch_size must be >= 1")
		}
		if c.Recorder.BufferSize < 1 {
			return errors.New("recorder.buffer_size must be >= 1")
		}
	}

	if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
		return fmt.Errorf("metrics.port must be between 1 and 65535, got %d", c.Metrics.Port)
	}

	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
