package connection

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rickgao/docchat/internal/protocol"
)

// Errors
var (
	ErrNotConnected     = errors.New("not connected")
	ErrAlreadyConnected = errors.New("connect already attempted")
	ErrAlreadyClosed    = errors.New("already closed")
	ErrReservedEvent    = errors.New("event name is reserved")
	ErrHandshake        = errors.New("handshake failed")
)

// Reserved event names delivered by the socket itself. They cannot be emitted.
// EventConnect carries the session id, EventConnectError a
// protocol.ConnectErrorData and EventDisconnect the reason string.
const (
	EventConnect      = "connect"
	EventConnectError = "connect_error"
	EventDisconnect   = "disconnect"
)

// Disconnect reasons passed as the argument of EventDisconnect.
const (
	ReasonClientDisconnect = "io client disconnect"
	ReasonServerDisconnect = "io server disconnect"
	ReasonTransportClose   = "transport close"
	ReasonTransportError   = "transport error"
	ReasonPingTimeout      = "ping timeout"
)

// ConnectError is returned by Connect when the server refuses the namespace.
type ConnectError struct {
	Message string
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect refused: %s", e.Message)
}

// State is the lifecycle state of a Socket.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// SocketConfig configures a Socket.
type SocketConfig struct {
	URL            string         // Base URL (e.g., http://localhost:8000); a path selects the namespace
	Path           string         // Engine.IO mount point on the server
	Namespace      string         // Used when URL has no path
	Transports     []string       // Must be empty or exactly ["websocket"]
	Auth           map[string]any // Payload of the namespace CONNECT packet
	Header         http.Header    // Extra headers for the websocket handshake
	ConnectTimeout time.Duration  // Dial + Engine.IO + Socket.IO handshake budget
	WriteTimeout   time.Duration  // Write deadline for each frame
	InboxSize      int            // Initial capacity of the inbound event queue
	OutboxSize     int            // Initial capacity of the pre-connect packet queue
}

// DefaultSocketConfig returns the defaults of browser Socket.IO clients,
// restricted to the websocket transport.
func DefaultSocketConfig() SocketConfig {
	return SocketConfig{
		Path:           "/socket.io/",
		Namespace:      "/",
		Transports:     []string{protocol.TransportWebSocket},
		ConnectTimeout: 20 * time.Second,
		WriteTimeout:   5 * time.Second,
		InboxSize:      256,
		OutboxSize:     64,
	}
}

// Handler receives one event. Handlers for all events of a Socket run
// sequentially on a single dispatch goroutine, in arrival order.
type Handler func(protocol.Event)

// Listener identifies a registered handler so it can be removed later.
type Listener uint64
