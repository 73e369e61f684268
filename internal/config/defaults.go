package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultSocketPath     = "/socket.io/"
	DefaultNamespace      = "/"
	DefaultConnectTimeout = 20 * time.Second
	DefaultWriteTimeout   = 5 * time.Second
	DefaultInboxSize      = 256
	DefaultOutboxSize     = 64
	DefaultAPITimeout     = 30 * time.Second
	DefaultMaxRetries     = 3
	DefaultRetryBackoff   = 1 * time.Second
	DefaultUserID         = "anon"
	DefaultLogLevel       = "info"
	DefaultLogFormat      = "text"
	DefaultMetricsPath    = "/metrics"
)

// newSeeded returns a config holding the defaults of fields whose zero value
// is meaningful. A file that sets them explicitly to zero keeps the zero.
func newSeeded() *ClientConfig {
	return &ClientConfig{
		API: APIConfig{MaxRetries: DefaultMaxRetries},
	}
}

// ApplyDefaults fills zero-valued fields. MaxRetries is left alone because
// zero disables retries.
func (c *ClientConfig) ApplyDefaults() {
	// Socket defaults
	if c.Socket.Path == "" {
		c.Socket.Path = DefaultSocketPath
	}
	if c.Socket.Namespace == "" {
		c.Socket.Namespace = DefaultNamespace
	}
	if c.Socket.ConnectTimeout == 0 {
		c.Socket.ConnectTimeout = DefaultConnectTimeout
	}
	if c.Socket.WriteTimeout == 0 {
		c.Socket.WriteTimeout = DefaultWriteTimeout
	}
	if c.Socket.InboxSize == 0 {
		c.Socket.InboxSize = DefaultInboxSize
	}
	if c.Socket.OutboxSize == 0 {
		c.Socket.OutboxSize = DefaultOutboxSize
	}

	// API defaults
	if c.API.Timeout == 0 {
		c.API.Timeout = DefaultAPITimeout
	}
	if c.API.RetryBackoff == 0 {
		c.API.RetryBackoff = DefaultRetryBackoff
	}
	if c.API.UserID == "" {
		c.API.UserID = DefaultUserID
	}

	// Log defaults
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}

	// Metrics defaults
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
}
