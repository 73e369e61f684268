package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// EngineVersion is the Engine.IO protocol revision sent in the EIO query parameter.
const EngineVersion = "4"

// TransportWebSocket is the only transport this client negotiates.
const TransportWebSocket = "websocket"

// Errors
var (
	ErrEmptyPacket          = errors.New("empty packet")
	ErrUnknownPacketType    = errors.New("unknown packet type")
	ErrUnsupportedScheme    = errors.New("unsupported url scheme")
	ErrUnsupportedTransport = errors.New("unsupported transport")
)

// EnginePacketType is an Engine.IO packet type.
type EnginePacketType byte

const (
	EngineOpen    EnginePacketType = '0'
	EngineClose   EnginePacketType = '1'
	EnginePing    EnginePacketType = '2'
	EnginePong    EnginePacketType = '3'
	EngineMessage EnginePacketType = '4'
	EngineUpgrade EnginePacketType = '5'
	EngineNoop    EnginePacketType = '6'
)

func (t EnginePacketType) String() string {
	switch t {
	case EngineOpen:
		return "open"
	case EngineClose:
		return "close"
	case EnginePing:
		return "ping"
	case EnginePong:
		return "pong"
	case EngineMessage:
		return "message"
	case EngineUpgrade:
		return "upgrade"
	case EngineNoop:
		return "noop"
	}
	return fmt.Sprintf("engine(%q)", byte(t))
}

// EnginePacket is one Engine.IO packet.
type EnginePacket struct {
	Type EnginePacketType
	Data []byte
}

// Encode returns the text-frame form of the packet.
func (p EnginePacket) Encode() []byte {
	out := make([]byte, 0, len(p.Data)+1)
	out = append(out, byte(p.Type))
	return append(out, p.Data...)
}

// DecodeEngine parses a single text frame.
func DecodeEngine(frame []byte) (EnginePacket, error) {
	if len(frame) == 0 {
		return EnginePacket{}, ErrEmptyPacket
	}
	t := EnginePacketType(frame[0])
	if t < EngineOpen || t > EngineNoop {
		return EnginePacket{}, fmt.Errorf("%w: %q", ErrUnknownPacketType, frame[0])
	}
	return EnginePacket{Type: t, Data: frame[1:]}, nil
}

// Handshake is the payload of the Engine.IO open packet.
type Handshake struct {
	SID          string   `json:"sid"`
	Upgrades     []string `json:"upgrades"`
	PingInterval int      `json:"pingInterval"` // milliseconds
	PingTimeout  int      `json:"pingTimeout"`  // milliseconds
	MaxPayload   int      `json:"maxPayload"`
}

// ParseHandshake decodes the data of an open packet.
func ParseHandshake(data []byte) (Handshake, error) {
	var hs Handshake
	if err := json.Unmarshal(data, &hs); err != nil {
		return Handshake{}, fmt.Errorf("parse handshake: %w", err)
	}
	if hs.SID == "" {
		return Handshake{}, errors.New("parse handshake: missing sid")
	}
	return hs, nil
}

// StaleAfter is how long the client waits for a server ping before treating
// the connection as dead.
func (h Handshake) StaleAfter() time.Duration {
	return time.Duration(h.PingInterval+h.PingTimeout) * time.Millisecond
}

// Endpoint is the resolved dial target for a socket.
type Endpoint struct {
	URL       string // ws:// or wss:// URL including the Engine.IO query
	Namespace string // Socket.IO namespace, always starting with "/"
}

// BuildEndpoint turns a base URL such as http://localhost:8000 into the
// websocket URL of the Engine.IO endpoint. A path on the base URL selects the
// namespace, matching how browser clients interpret io("http://host/chat").
// enginePath is the server mount point, usually "/socket.io/".
func BuildEndpoint(base, enginePath, namespace string) (Endpoint, error) {
	u, err := url.Parse(base)
	if err != nil {
		return Endpoint{}, fmt.Errorf("parse url %q: %w", base, err)
	}

	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return Endpoint{}, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}

	if p := strings.TrimRight(u.Path, "/"); p != "" {
		namespace = p
	}
	if namespace == "" {
		namespace = "/"
	}
	if !strings.HasPrefix(namespace, "/") {
		namespace = "/" + namespace
	}

	if enginePath == "" {
		enginePath = "/socket.io/"
	}
	if !strings.HasPrefix(enginePath, "/") {
		enginePath = "/" + enginePath
	}
	if !strings.HasSuffix(enginePath, "/") {
		enginePath += "/"
	}
	u.Path = enginePath
	u.RawPath = ""

	q := u.Query()
	q.Set("EIO", EngineVersion)
	q.Set("transport", TransportWebSocket)
	u.RawQuery = q.Encode()
	u.Fragment = ""

	return Endpoint{URL: u.String(), Namespace: namespace}, nil
}

// CheckTransports accepts only a transport list pinned to websocket.
// An empty list means the default, which is websocket.
func CheckTransports(transports []string) error {
	if len(transports) == 0 {
		return nil
	}
	if len(transports) != 1 || transports[0] != TransportWebSocket {
		return fmt.Errorf("%w: %v (only %q is supported)", ErrUnsupportedTransport, transports, TransportWebSocket)
	}
	return nil
}
