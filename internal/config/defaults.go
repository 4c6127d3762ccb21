package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultReconnectInterval    = 3 * time.Second
	DefaultReconnectMaxInterval = 10 * time.Second
	DefaultMaxReconnectAttempts = 5
	DefaultConnectTimeout       = 5 * time.Second
	DefaultHeartbeatInterval    = 30 * time.Second
	DefaultMaxCacheSize         = 100
	DefaultReplayInterval       = 100 * time.Millisecond
	DefaultCorrelationKey       = "message_id"
	DefaultResponseTimeout      = 30 * time.Second
	DefaultHandshakeTimeout     = 10 * time.Second
	DefaultWriteTimeout         = 5 * time.Second
	DefaultPingInterval         = 30 * time.Second
	DefaultPingTimeout          = 60 * time.Second
	DefaultLogLevel             = "info"
	DefaultLogFormat            = "text"
	DefaultDBPort               = 5432
	DefaultDBSSLMode            = "prefer"
	DefaultMaxConns             = 4
	DefaultMinConns             = 1
	DefaultBatchSize            = 500
	DefaultFlushInterval        = 1 * time.Second
	DefaultBufferSize           = 10000
	DefaultMetricsPort          = 9090
	DefaultMetricsPath          = "/metrics"
)

func (c *ClientConfig) applyDefaults() {
	// Session defaults
	s := &c.Session
	if s.Reconnect == nil {
		reconnect := true
		s.Reconnect = &reconnect
	}
	if s.ReconnectInterval == 0 {
		s.ReconnectInterval = DefaultReconnectInterval
	}
	if s.ReconnectMaxInterval == 0 {
		s.ReconnectMaxInterval = DefaultReconnectMaxInterval
	}
	if s.MaxReconnectAttempts == nil {
		attempts := DefaultMaxReconnectAttempts
		s.MaxReconnectAttempts = &attempts
	}
	if s.ConnectTimeout == 0 {
		s.ConnectTimeout = DefaultConnectTimeout
	}
	if s.HeartbeatInterval == 0 {
		s.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if s.MaxCacheSize == 0 {
		s.MaxCacheSize = DefaultMaxCacheSize
	}
	if s.ReplayInterval == 0 {
		s.ReplayInterval = DefaultReplayInterval
	}
	if s.CorrelationKey == "" {
		s.CorrelationKey = DefaultCorrelationKey
	}
	if s.ResponseTimeout == 0 {
		s.ResponseTimeout = DefaultResponseTimeout
	}

	// Transport defaults
	if c.Transport.HandshakeTimeout == 0 {
		c.Transport.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.Transport.WriteTimeout == 0 {
		c.Transport.WriteTimeout = DefaultWriteTimeout
	}
	if c.Transport.PingInterval == 0 {
		c.Transport.PingInterval = DefaultPingInterval
	}
	if c.Transport.PingTimeout == 0 {
		c.Transport.PingTimeout = DefaultPingTimeout
	}

	// Log defaults
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}

	// Recorder defaults
	applyDBDefaults(&c.Recorder.Database)
	if c.Recorder.BatchSize == 0 {
		c.Recorder.BatchSize = DefaultBatchSize
	}
	if c.Recorder.FlushInterval == 0 {
		c.Recorder.FlushInterval = DefaultFlushInterval
	}
	if c.Recorder.BufferSize == 0 {
		c.Recorder.BufferSize = DefaultBufferSize
	}

	// Metrics defaults
	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
