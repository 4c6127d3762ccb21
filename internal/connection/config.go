package connection

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Config holds Session settings.
type Config struct {
	// Reconnect enables automatic reconnects after an unintended close.
	Reconnect bool
	// ReconnectInterval is the base backoff delay.
	ReconnectInterval time.Duration
	// ReconnectMaxInterval caps the backoff delay.
	ReconnectMaxInterval time.Duration
	// MaxReconnectAttempts bounds consecutive reconnects. Zero means unlimited.
	MaxReconnectAttempts int
	// InfiniteReconnect ignores MaxReconnectAttempts.
	InfiniteReconnect bool

	// ConnectTimeout bounds both the transport open and the auth handshake.
	ConnectTimeout time.Duration

	// HeartbeatInterval between keep-alive payloads. Negative disables.
	HeartbeatInterval time.Duration
	// HeartbeatPayload builds the keep-alive payload. Nil uses the default
	// {type, clientId, timestamp} object.
	HeartbeatPayload func(clientID string) any `json:"-"`

	EnableMessageCache bool
	MaxCacheSize       int
	// ReplayInterval spaces out cached messages during replay.
	ReplayInterval time.Duration

	// CorrelationKey is the top-level JSON field carrying the message id.
	CorrelationKey string
	// DefaultResponseTimeout applies to requests sent without WithTimeout.
	DefaultResponseTimeout time.Duration

	// AuthToken enables the auth handshake when non-empty.
	AuthToken string
	ClientID  string

	// Protocols are offered as WebSocket subprotocols.
	Protocols []string
	Header    http.Header
}

// DefaultConfig returns the default Session configuration.
func DefaultConfig() Config {
	return Config{
		Reconnect:              true,
		ReconnectInterval:      3 * time.Second,
		ReconnectMaxInterval:   10 * time.Second,
		MaxReconnectAttempts:   5,
		ConnectTimeout:         5 * time.Second,
		HeartbeatInterval:      30 * time.Second,
		MaxCacheSize:           100,
		ReplayInterval:         100 * time.Millisecond,
		CorrelationKey:         "message_id",
		DefaultResponseTimeout: 30 * time.Second,
	}
}

// withDefaults fills zero values from DefaultConfig. Booleans are taken as
// given.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ReconnectInterval == 0 {
		c.ReconnectInterval = d.ReconnectInterval
	}
	if c.ReconnectMaxInterval == 0 {
		c.ReconnectMaxInterval = d.ReconnectMaxInterval
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = d.ConnectTimeout
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = d.HeartbeatInterval
	}
	if c.MaxCacheSize == 0 {
		c.MaxCacheSize = d.MaxCacheSize
	}
	if c.ReplayInterval == 0 {
		c.ReplayInterval = d.ReplayInterval
	}
	if c.CorrelationKey == "" {
		c.CorrelationKey = d.CorrelationKey
	}
	if c.DefaultResponseTimeout == 0 {
		c.DefaultResponseTimeout = d.DefaultResponseTimeout
	}
	if c.ClientID == "" {
		c.ClientID = uuid.NewString()
	}
	return c
}

// Validate checks the configuration for errors.
func (c Config) Validate() error {
	var errs []error
	if c.ReconnectInterval < 0 {
		errs = append(errs, errors.New("reconnect interval must be non-negative"))
	}
	if c.ReconnectMaxInterval < c.ReconnectInterval {
		errs = append(errs, fmt.Errorf("reconnect max interval %s is below reconnect interval %s",
			c.ReconnectMaxInterval, c.ReconnectInterval))
	}
	if c.MaxReconnectAttempts < 0 {
		errs = append(errs, errors.New("max reconnect attempts must be non-negative"))
	}
	if c.ConnectTimeout <= 0 {
		errs = append(errs, errors.New("connect timeout must be positive"))
	}
	if c.MaxCacheSize < 1 {
		errs = append(errs, errors.New("max cache size must be at least 1"))
	}
	if c.ReplayInterval < 0 {
		errs = append(errs, errors.New("replay interval must be non-negative"))
	}
	if c.DefaultResponseTimeout <= 0 {
		errs = append(errs, errors.New("default response timeout must be positive"))
	}
	return errors.Join(errs...)
}

// backoff returns the reconnect delay policy for this config.
func (c Config) backoff() Backoff {
	return Backoff{Base: c.ReconnectInterval, Max: c.ReconnectMaxInterval}
}

// attemptLimit returns the reconnect cap, or zero when unlimited.
func (c Config) attemptLimit() int {
	if c.InfiniteReconnect {
		return 0
	}
	return c.MaxReconnectAttempts
}
