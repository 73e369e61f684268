// Package cli implements the docchat command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/rickgao/docchat/internal/api"
	"github.com/rickgao/docchat/internal/config"
	"github.com/rickgao/docchat/internal/logging"
	"github.com/rickgao/docchat/internal/metrics"
	"github.com/rickgao/docchat/internal/realtime"
)

// app carries flag values and what PersistentPreRunE builds from them.
type app struct {
	configPath  string
	logLevel    string
	logFormat   string
	metricsAddr string

	runtime func() config.RuntimeConfig
	// acquire returns the realtime socket for this command. Tests swap in
	// realtime.Open so each run gets a fresh socket.
	acquire func(...realtime.Option) realtime.Handle

	cfg           *config.ClientConfig
	logger        *slog.Logger
	metricsServer *http.Server
}

// NewRootCommand builds the docchat command tree.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&app{runtime: config.Runtime, acquire: acquireShared})
}

// acquireShared applies options to the process-wide socket and returns it.
func acquireShared(options ...realtime.Option) realtime.Handle {
	if err := realtime.Configure(options...); err != nil {
		slog.Debug("shared socket already configured", "error", err)
	}
	return realtime.Acquire()
}

func newRootCommand(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "docchat",
		Short: "Chat with your documents",
		Long: `docchat talks to the document chat backend. Upload PDFs over REST and
ask questions over the shared real-time connection; answers stream back as
they are generated.

The backend is located with NUXT_PUBLIC_API_BASE and NUXT_PUBLIC_WS_BASE
(default http://localhost:8000).`,
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.teardown()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "Path to client tuning file (YAML)")
	flags.StringVar(&a.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	flags.StringVar(&a.logFormat, "log-format", "", "Log format: text, json")
	flags.StringVar(&a.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")

	root.AddCommand(
		newAskCommand(a),
		newUploadCommand(a),
		newListenCommand(a),
		newHealthCommand(a),
		newVersionCommand(),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command, args []string) error {
	cfg := config.Default()
	if a.configPath != "" {
		loaded, err := config.LoadAndValidate(a.configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	if a.logFormat != "" {
		cfg.Log.Format = a.logFormat
	}
	if a.metricsAddr != "" {
		cfg.Metrics.Addr = a.metricsAddr
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg

	a.logger = logging.Init(cfg.Log.Level, cfg.Log.Format)

	if cfg.Metrics.Addr != "" {
		a.startMetrics(cfg.Metrics)
	}
	return nil
}

func (a *app) startMetrics(m config.MetricsConfig) {
	mux := http.NewServeMux()
	mux.Handle(m.Path, metrics.Handler())

	a.metricsServer = &http.Server{
		Addr:              m.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		a.logger.Info("starting metrics server", "addr", m.Addr, "path", m.Path)
		if err := a.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server error", "error", err)
		}
	}()
}

func (a *app) teardown() error {
	if a.metricsServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.metricsServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown metrics server: %w", err)
	}
	return nil
}

// socket returns the realtime socket, configured from the runtime base URL
// and tuning. listeners are registered before the connection starts.
func (a *app) socket(listeners ...realtime.Option) realtime.Handle {
	options := []realtime.Option{
		realtime.WithLogger(a.logger),
		realtime.WithBase(a.runtime().WSBase),
		realtime.WithTuning(a.cfg.Socket),
		realtime.WithHeader(http.Header{api.HeaderUserID: {a.cfg.API.UserID}}),
	}
	return a.acquire(append(options, listeners...)...)
}

// apiClient builds a REST client from the runtime base URL and tuning.
func (a *app) apiClient() *api.Client {
	return api.NewClient(
		a.runtime().APIBase,
		api.WithLogger(a.logger),
		api.WithTimeout(a.cfg.API.Timeout),
		api.WithRetries(a.cfg.API.MaxRetries, a.cfg.API.RetryBackoff),
		api.WithUserID(a.cfg.API.UserID),
	)
}
