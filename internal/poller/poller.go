package poller

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/rickgao/docchat/internal/api"
	"github.com/rickgao/docchat/internal/metrics"
)

var errNotOK = errors.New("health check returned ok=false")

// HealthChecker reports backend health.
type HealthChecker interface {
	Health(ctx context.Context) (*api.HealthStatus, error)
}

// ChangeFunc is called when the backend goes up or down. err is nil when up.
type ChangeFunc func(up bool, err error)

// Config holds poller configuration.
type Config struct {
	Interval time.Duration // Poll interval (default: 30s)
	Timeout  time.Duration // Per-request timeout (default: 5s)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval: 30 * time.Second,
		Timeout:  5 * time.Second,
	}
}

// Poller periodically checks backend health via the REST API.
type Poller struct {
	cfg      Config
	client   HealthChecker
	onChange ChangeFunc
	logger   *slog.Logger

	mu    sync.Mutex
	known bool
	up    bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new Poller. onChange may be nil.
func New(cfg Config, client HealthChecker, onChange ChangeFunc, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	defaults := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = defaults.Interval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}
	return &Poller{
		cfg:      cfg,
		client:   client,
		onChange: onChange,
		logger:   logger,
	}
}

// Start begins the polling loop.
func (p *Poller) Start(ctx context.Context) error {
	p.ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go p.run()

	p.logger.Info("health poller started", "interval", p.cfg.Interval)

	return nil
}

// Stop gracefully shuts down the poller.
func (p *Poller) Stop(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("health poller stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Up reports the result of the last completed check. known is false before
// the first check finishes.
func (p *Poller) Up() (up, known bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.up, p.known
}

// run is the main polling loop.
func (p *Poller) run() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	// Poll immediately on start.
	p.poll()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.poll()
		}
	}
}

// poll runs one health check and records the outcome.
func (p *Poller) poll() {
	ctx, cancel := context.WithTimeout(p.ctx, p.cfg.Timeout)
	defer cancel()

	status, err := p.client.Health(ctx)
	if err == nil && !status.OK {
		err = errNotOK
	}
	if p.ctx.Err() != nil {
		return
	}
	up := err == nil

	if up {
		metrics.APIUp.Set(1)
	} else {
		metrics.APIUp.Set(0)
		p.logger.Debug("health check failed", "error", err)
	}

	p.mu.Lock()
	changed := !p.known || p.up != up
	p.known = true
	p.up = up
	p.mu.Unlock()

	if changed {
		p.logger.Info("backend health changed", "up", up)
		if p.onChange != nil {
			p.onChange(up, err)
		}
	}
}
