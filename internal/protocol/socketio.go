package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// Errors
var (
	ErrInvalidPayload    = errors.New("invalid packet payload")
	ErrBinaryUnsupported = errors.New("binary attachments are not supported")
	ErrNoArgument        = errors.New("event has no argument at index")
	ErrNoAck             = errors.New("event does not request an acknowledgement")
)

// PacketType is a Socket.IO packet type.
type PacketType int

const (
	PacketConnect PacketType = iota
	PacketDisconnect
	PacketEvent
	PacketAck
	PacketConnectError
	PacketBinaryEvent
	PacketBinaryAck
)

func (t PacketType) String() string {
	switch t {
	case PacketConnect:
		return "CONNECT"
	case PacketDisconnect:
		return "DISCONNECT"
	case PacketEvent:
		return "EVENT"
	case PacketAck:
		return "ACK"
	case PacketConnectError:
		return "CONNECT_ERROR"
	case PacketBinaryEvent:
		return "BINARY_EVENT"
	case PacketBinaryAck:
		return "BINARY_ACK"
	}
	return "UNKNOWN(" + strconv.Itoa(int(t)) + ")"
}

// Packet is one Socket.IO packet.
type Packet struct {
	Type        PacketType
	Namespace   string // "/" when omitted on the wire
	ID          *uint64
	Attachments int
	Data        json.RawMessage
}

// Encode returns the Socket.IO text encoding of the packet:
//
//	<type>[<attachments>-][<namespace>,][<id>][<json>]
func (p Packet) Encode() []byte {
	var b bytes.Buffer
	b.WriteByte(byte('0' + p.Type))
	if p.Type == PacketBinaryEvent || p.Type == PacketBinaryAck {
		b.WriteString(strconv.Itoa(p.Attachments))
		b.WriteByte('-')
	}
	if p.Namespace != "" && p.Namespace != "/" {
		b.WriteString(p.Namespace)
		b.WriteByte(',')
	}
	if p.ID != nil {
		b.WriteString(strconv.FormatUint(*p.ID, 10))
	}
	b.Write(p.Data)
	return b.Bytes()
}

// EngineMessage wraps the packet in an Engine.IO message packet.
func (p Packet) EngineMessage() EnginePacket {
	return EnginePacket{Type: EngineMessage, Data: p.Encode()}
}

// DecodePacket parses the Socket.IO packet carried by an Engine.IO message.
func DecodePacket(raw []byte) (Packet, error) {
	if len(raw) == 0 {
		return Packet{}, ErrEmptyPacket
	}

	p := Packet{Type: PacketType(raw[0] - '0'), Namespace: "/"}
	if raw[0] < '0' || p.Type > PacketBinaryAck {
		return Packet{}, fmt.Errorf("%w: %q", ErrUnknownPacketType, raw[0])
	}
	i := 1

	if p.Type == PacketBinaryEvent || p.Type == PacketBinaryAck {
		dash := bytes.IndexByte(raw[i:], '-')
		if dash < 0 {
			return Packet{}, fmt.Errorf("%w: missing attachment count", ErrInvalidPayload)
		}
		n, err := strconv.Atoi(string(raw[i : i+dash]))
		if err != nil {
			return Packet{}, fmt.Errorf("%w: attachment count: %v", ErrInvalidPayload, err)
		}
		p.Attachments = n
		i += dash + 1
	}

	if i < len(raw) && raw[i] == '/' {
		end := bytes.IndexByte(raw[i:], ',')
		if end < 0 {
			p.Namespace = string(raw[i:])
			i = len(raw)
		} else {
			p.Namespace = string(raw[i : i+end])
			i += end + 1
		}
	}

	start := i
	for i < len(raw) && raw[i] >= '0' && raw[i] <= '9' {
		i++
	}
	if i > start {
		id, err := strconv.ParseUint(string(raw[start:i]), 10, 64)
		if err != nil {
			return Packet{}, fmt.Errorf("%w: ack id: %v", ErrInvalidPayload, err)
		}
		p.ID = &id
	}

	if i < len(raw) {
		data := raw[i:]
		if !json.Valid(data) {
			return Packet{}, fmt.Errorf("%w: malformed json", ErrInvalidPayload)
		}
		p.Data = json.RawMessage(data)
	}

	if err := p.validate(); err != nil {
		return Packet{}, err
	}
	return p, nil
}

func (p Packet) validate() error {
	first := firstByte(p.Data)
	switch p.Type {
	case PacketConnect:
		if first != 0 && first != '{' {
			return fmt.Errorf("%w: CONNECT data must be an object", ErrInvalidPayload)
		}
	case PacketDisconnect:
		if first != 0 {
			return fmt.Errorf("%w: DISCONNECT carries no data", ErrInvalidPayload)
		}
	case PacketConnectError:
		if first != '{' && first != '"' {
			return fmt.Errorf("%w: CONNECT_ERROR data must be an object or string", ErrInvalidPayload)
		}
	case PacketEvent, PacketBinaryEvent:
		if first != '[' {
			return fmt.Errorf("%w: EVENT data must be an array", ErrInvalidPayload)
		}
	case PacketAck, PacketBinaryAck:
		if first != '[' {
			return fmt.Errorf("%w: ACK data must be an array", ErrInvalidPayload)
		}
		if p.ID == nil {
			return fmt.Errorf("%w: ACK without id", ErrInvalidPayload)
		}
	}
	return nil
}

func firstByte(data json.RawMessage) byte {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return 0
	}
	return data[0]
}

// Event is a named message with untyped JSON arguments. The forwarding layer
// never inspects argument shapes; callers bind them into their own types.
type Event struct {
	Name string
	Args []json.RawMessage

	ack func(args ...any) error
}

// NewEvent builds an Event whose arguments are the JSON encodings of args.
func NewEvent(name string, args ...any) (Event, error) {
	ev := Event{Name: name, Args: make([]json.RawMessage, 0, len(args))}
	for i, a := range args {
		raw, err := json.Marshal(a)
		if err != nil {
			return Event{}, fmt.Errorf("marshal argument %d: %w", i, err)
		}
		ev.Args = append(ev.Args, raw)
	}
	return ev, nil
}

// WithAck returns a copy of e whose Ack method calls fn.
func (e Event) WithAck(fn func(args ...any) error) Event {
	e.ack = fn
	return e
}

// Bind decodes argument i into v.
func (e Event) Bind(i int, v any) error {
	if i < 0 || i >= len(e.Args) {
		return fmt.Errorf("%w %d (%s has %d)", ErrNoArgument, i, e.Name, len(e.Args))
	}
	if err := json.Unmarshal(e.Args[i], v); err != nil {
		return fmt.Errorf("bind %s argument %d: %w", e.Name, i, err)
	}
	return nil
}

// WantsAck reports whether the sender asked for an acknowledgement.
func (e Event) WantsAck() bool {
	return e.ack != nil
}

// Ack answers the sender's acknowledgement request.
func (e Event) Ack(args ...any) error {
	if e.ack == nil {
		return ErrNoAck
	}
	return e.ack(args...)
}

// MarshalEvent encodes name and args as the JSON array carried by EVENT packets.
func MarshalEvent(name string, args ...any) (json.RawMessage, error) {
	arr := make([]any, 0, len(args)+1)
	arr = append(arr, name)
	arr = append(arr, args...)
	data, err := json.Marshal(arr)
	if err != nil {
		return nil, fmt.Errorf("marshal event %s: %w", name, err)
	}
	return data, nil
}

// UnmarshalEvent decodes the JSON array of an EVENT packet.
func UnmarshalEvent(data json.RawMessage) (Event, error) {
	var arr []json.RawMessage
	if err := json.Unmarshal(data, &arr); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if len(arr) == 0 {
		return Event{}, fmt.Errorf("%w: empty event array", ErrInvalidPayload)
	}
	var name string
	if err := json.Unmarshal(arr[0], &name); err != nil {
		return Event{}, fmt.Errorf("%w: event name must be a string", ErrInvalidPayload)
	}
	return Event{Name: name, Args: arr[1:]}, nil
}

// MarshalArgs encodes the argument array of an ACK packet.
func MarshalArgs(args ...any) (json.RawMessage, error) {
	if args == nil {
		args = []any{}
	}
	data, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("marshal ack: %w", err)
	}
	return data, nil
}

// UnmarshalArgs decodes the argument array of an ACK packet.
func UnmarshalArgs(data json.RawMessage) ([]json.RawMessage, error) {
	var arr []json.RawMessage
	if err := json.Unmarshal(data, &arr); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return arr, nil
}

// ConnectErrorData is the payload of a CONNECT_ERROR packet.
type ConnectErrorData struct {
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// ParseConnectError decodes a CONNECT_ERROR payload. Older servers send a bare
// string instead of an object.
func ParseConnectError(data json.RawMessage) ConnectErrorData {
	var out ConnectErrorData
	if firstByte(data) == '"' {
		_ = json.Unmarshal(data, &out.Message)
		return out
	}
	if err := json.Unmarshal(data, &out); err != nil {
		out.Message = string(data)
	}
	return out
}

// ConnectAck is the payload of the server's CONNECT packet.
type ConnectAck struct {
	SID string `json:"sid"`
}
