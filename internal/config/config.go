package config

import "time"

// ClientConfig is the root configuration for a wsclient instance.
type ClientConfig struct {
	Instance  InstanceConfig  `yaml:"instance"`
	Session   SessionConfig   `yaml:"session"`
	Transport TransportConfig `yaml:"transport"`
	Log       LogConfig       `yaml:"log"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Recorder  RecorderConfig  `yaml:"recorder"`
}

// InstanceConfig identifies this client.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// SessionConfig holds the resilient session settings.
type SessionConfig struct {
	URL       string            `yaml:"url"`
	Protocols []string          `yaml:"protocols"`
	Headers   map[string]string `yaml:"headers"`

	Reconnect            *bool         `yaml:"reconnect"` // Unset means true
	ReconnectInterval    time.Duration `yaml:"reconnect_interval"`
	ReconnectMaxInterval time.Duration `yaml:"reconnect_max_interval"`
	MaxReconnectAttempts *int          `yaml:"max_reconnect_attempts"` // 0 means unlimited
	InfiniteReconnect    bool          `yaml:"infinite_reconnect"`

	ConnectTimeout    time.Duration `yaml:"connect_timeout"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"` // Negative disables

	EnableMessageCache bool          `yaml:"enable_message_cache"`
	MaxCacheSize       int           `yaml:"max_cache_size"`
	ReplayInterval     time.Duration `yaml:"replay_interval"`

	CorrelationKey  string        `yaml:"correlation_key"`
	ResponseTimeout time.Duration `yaml:"response_timeout"`

	AuthToken     string `yaml:"auth_token"`
	AuthTokenFile string `yaml:"auth_token_file"` // Takes precedence over auth_token
	ClientID      string `yaml:"client_id"`
}

// TransportConfig holds gorilla/websocket dialer settings.
type TransportConfig struct {
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	PingInterval     time.Duration `yaml:"ping_interval"` // Negative disables
	PingTimeout      time.Duration `yaml:"ping_timeout"`
	ReadLimit        int64         `yaml:"read_limit"`
}

// LogConfig holds slog settings.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}

// RecorderConfig holds the session event recorder settings.
type RecorderConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Database      DBConfig      `yaml:"database"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}
