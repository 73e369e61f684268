package realtime

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/rickgao/docchat/internal/config"
	"github.com/rickgao/docchat/internal/connection"
	"github.com/rickgao/docchat/internal/protocol"
)

// ErrAlreadyAcquired is returned by Configure once the shared socket exists.
var ErrAlreadyAcquired = errors.New("shared socket already created")

// Option customizes the shared socket before it is created.
type Option func(*settings)

type settings struct {
	logger    *slog.Logger
	base      string
	tuning    config.SocketConfig
	auth      map[string]any
	header    http.Header
	listeners []registration
}

type registration struct {
	event string
	fn    connection.Handler
}

// WithLogger sets the logger used by the shared socket.
func WithLogger(logger *slog.Logger) Option {
	return func(s *settings) {
		s.logger = logger
	}
}

// WithBase sets the server base URL, overriding NUXT_PUBLIC_WS_BASE.
func WithBase(base string) Option {
	return func(s *settings) {
		s.base = base
	}
}

// WithTuning applies the socket section of the client tuning file.
// Zero fields keep the connection defaults.
func WithTuning(tuning config.SocketConfig) Option {
	return func(s *settings) {
		s.tuning = tuning
	}
}

// WithAuth sets the payload sent with the namespace CONNECT packet.
func WithAuth(auth map[string]any) Option {
	return func(s *settings) {
		s.auth = auth
	}
}

// WithHeader adds headers to the websocket handshake request.
func WithHeader(header http.Header) Option {
	return func(s *settings) {
		if s.header == nil {
			s.header = make(http.Header)
		}
		for k, v := range header {
			s.header[k] = append(s.header[k], v...)
		}
	}
}

// WithListener registers fn for event before the connection starts, so it
// observes the first connect or connect_error. Listeners added with On after
// Acquire may miss lifecycle events that were already dispatched.
func WithListener(event string, fn connection.Handler) Option {
	return func(s *settings) {
		if fn != nil {
			s.listeners = append(s.listeners, registration{event: event, fn: fn})
		}
	}
}

var (
	mu       sync.Mutex
	opts     settings
	acquired bool

	once   sync.Once
	shared *connection.Socket

	// runtimeConfig resolves the base URL. Replaced in tests.
	runtimeConfig = config.Runtime
)

// Configure records options for the shared socket. It must run before the
// first Acquire; afterwards it changes nothing and returns ErrAlreadyAcquired.
func Configure(options ...Option) error {
	mu.Lock()
	defer mu.Unlock()

	if acquired {
		return ErrAlreadyAcquired
	}
	for _, opt := range options {
		opt(&opts)
	}
	return nil
}

// Acquire returns a handle to the shared socket, creating it and starting
// its connection on first call. Connection failures are not returned; they
// are delivered to connect_error and disconnect listeners.
func Acquire() Handle {
	once.Do(func() {
		mu.Lock()
		acquired = true
		s := opts
		mu.Unlock()

		shared = start(s)
	})
	return Handle{Socket: shared}
}

// Open creates a socket that is not shared and starts connecting it. Callers
// own the socket and must Close it. Most code wants Acquire.
func Open(options ...Option) Handle {
	var s settings
	for _, opt := range options {
		opt(&s)
	}
	return Handle{Socket: start(s)}
}

func start(s settings) *connection.Socket {
	sock := build(s)
	for _, r := range s.listeners {
		sock.On(r.event, r.fn)
	}
	go connect(sock, s.logger)
	return sock
}

func build(s settings) *connection.Socket {
	if s.logger == nil {
		s.logger = slog.Default()
	}

	cfg := connection.DefaultSocketConfig()
	cfg.URL = s.base
	if cfg.URL == "" {
		cfg.URL = runtimeConfig().WSBase
	}
	cfg.Transports = []string{protocol.TransportWebSocket}
	cfg.Auth = s.auth
	cfg.Header = s.header

	if s.tuning.Path != "" {
		cfg.Path = s.tuning.Path
	}
	if s.tuning.Namespace != "" {
		cfg.Namespace = s.tuning.Namespace
	}
	if s.tuning.ConnectTimeout > 0 {
		cfg.ConnectTimeout = s.tuning.ConnectTimeout
	}
	if s.tuning.WriteTimeout > 0 {
		cfg.WriteTimeout = s.tuning.WriteTimeout
	}
	if s.tuning.InboxSize > 0 {
		cfg.InboxSize = s.tuning.InboxSize
	}
	if s.tuning.OutboxSize > 0 {
		cfg.OutboxSize = s.tuning.OutboxSize
	}

	return connection.NewSocket(cfg, s.logger.With("component", "realtime"))
}

func connect(sock *connection.Socket, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := sock.Connect(context.Background()); err != nil {
		logger.Debug("shared socket connect returned", "error", err)
	}
}

// Handle is a caller's view of the shared socket.
type Handle struct {
	Socket *connection.Socket
}

// On registers fn for event. Listeners of one event run in registration order.
func (h Handle) On(event string, fn connection.Handler) connection.Listener {
	return h.Socket.On(event, fn)
}

// Off removes the given listeners of event, or all of them when none are given.
func (h Handle) Off(event string, listeners ...connection.Listener) {
	h.Socket.Off(event, listeners...)
}

// Emit sends event with optional payload arguments, queueing it while the
// socket is still connecting.
func (h Handle) Emit(event string, args ...any) error {
	return h.Socket.Emit(event, args...)
}
