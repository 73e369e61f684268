package config

import "time"

// ClientConfig is the root of the optional client tuning file.
type ClientConfig struct {
	Socket  SocketConfig  `yaml:"socket"`
	API     APIConfig     `yaml:"api"`
	Log     LogConfig     `yaml:"log"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// SocketConfig tunes the shared real-time connection.
type SocketConfig struct {
	Path           string        `yaml:"path"`
	Namespace      string        `yaml:"namespace"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	InboxSize      int           `yaml:"inbox_size"`
	OutboxSize     int           `yaml:"outbox_size"`
}

// APIConfig holds REST client settings.
type APIConfig struct {
	Timeout      time.Duration `yaml:"timeout"`
	MaxRetries   int           `yaml:"max_retries"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
	UserID       string        `yaml:"user_id"` // Sent as X-User-Id
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text or json
}

// MetricsConfig holds Prometheus metrics settings. An empty Addr disables the
// endpoint.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
	Path string `yaml:"path"`
}
