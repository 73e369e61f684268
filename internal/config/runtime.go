package config

import (
	"log/slog"
	"sync"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

// DefaultBase is used for either base URL when its variable is unset or empty.
const DefaultBase = "http://localhost:8000"

// RuntimeConfig holds the backend addresses. Values are used as given; they
// are not validated.
type RuntimeConfig struct {
	APIBase string `env:"NUXT_PUBLIC_API_BASE" default:"http://localhost:8000"`
	WSBase  string `env:"NUXT_PUBLIC_WS_BASE" default:"http://localhost:8000"`
}

var runtimeOnce = sync.OnceValue(LoadRuntime)

// Runtime returns the process-wide runtime configuration, read on first use.
func Runtime() RuntimeConfig {
	return runtimeOnce()
}

// LoadRuntime reads the runtime configuration afresh. It never fails; anything
// missing falls back to DefaultBase.
func LoadRuntime() RuntimeConfig {
	if err := godotenv.Load(); err == nil {
		slog.Debug("loaded .env file")
	}

	var cfg RuntimeConfig
	if err := env.Load(&cfg, nil); err != nil {
		slog.Debug("reading runtime environment failed, using defaults", "error", err)
	}
	if cfg.APIBase == "" {
		cfg.APIBase = DefaultBase
	}
	if cfg.WSBase == "" {
		cfg.WSBase = DefaultBase
	}
	return cfg
}
