package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

// Validate checks that all values are usable.
func (c *ClientConfig) Validate() error {
	if !strings.HasPrefix(c.Socket.Path, "/") {
		return fmt.Errorf("socket.path must start with /, got %q", c.Socket.Path)
	}
	if !strings.HasPrefix(c.Socket.Namespace, "/") {
		return fmt.Errorf("socket.namespace must start with /, got %q", c.Socket.Namespace)
	}
	if c.Socket.ConnectTimeout < 0 {
		return errors.New("socket.connect_timeout must be >= 0")
	}
	if c.Socket.WriteTimeout < 0 {
		return errors.New("socket.write_timeout must be >= 0")
	}
	if c.Socket.InboxSize < 1 {
		return errors.New("socket.inbox_size must be >= 1")
	}
	if c.Socket.OutboxSize < 1 {
		return errors.New("socket.outbox_size must be >= 1")
	}

	if c.API.Timeout < 0 {
		return errors.New("api.timeout must be >= 0")
	}
	if c.API.MaxRetries < 0 {
		return errors.New("api.max_retries must be >= 0")
	}
	if c.API.UserID == "" {
		return errors.New("api.user_id is required")
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error, got %q", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}

	if c.Metrics.Addr != "" {
		if _, _, err := net.SplitHostPort(c.Metrics.Addr); err != nil {
			return fmt.Errorf("metrics.addr must be host:port, got %q", c.Metrics.Addr)
		}
	}
	if !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with /, got %q", c.Metrics.Path)
	}

	return nil
}
