package protocol

import (
	"errors"
	"testing"
)

func uint64Ptr(v uint64) *uint64 { return &v }

func TestPacket_Encode(t *testing.T) {
	tests := []struct {
		name string
		p    Packet
		want string
	}{
		{name: "connect root", p: Packet{Type: PacketConnect}, want: "0"},
		{name: "connect with auth", p: Packet{Type: PacketConnect, Data: []byte(`{"token":"x"}`)}, want: `0{"token":"x"}`},
		{name: "connect namespace", p: Packet{Type: PacketConnect, Namespace: "/admin"}, want: "0/admin,"},
		{name: "disconnect", p: Packet{Type: PacketDisconnect, Namespace: "/"}, want: "1"},
		{name: "event", p: Packet{Type: PacketEvent, Data: []byte(`["ping",{"n":1}]`)}, want: `2["ping",{"n":1}]`},
		{name: "event with ack id", p: Packet{Type: PacketEvent, ID: uint64Ptr(12), Data: []byte(`["hi"]`)}, want: `212["hi"]`},
		{name: "ack namespaced", p: Packet{Type: PacketAck, Namespace: "/chat", ID: uint64Ptr(3), Data: []byte(`[]`)}, want: `3/chat,3[]`},
		{name: "binary event", p: Packet{Type: PacketBinaryEvent, Attachments: 1, Data: []byte(`["up",{"_placeholder":true,"num":0}]`)}, want: `51-["up",{"_placeholder":true,"num":0}]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := string(tt.p.Encode()); got != tt.want {
				t.Errorf("Encode() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDecodePacket(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		wantType PacketType
		wantNsp  string
		wantID   *uint64
		wantData string
		wantAtt  int
		wantErr  error
	}{
		{name: "connect ack", raw: `0{"sid":"abc"}`, wantType: PacketConnect, wantNsp: "/", wantData: `{"sid":"abc"}`},
		{name: "connect ack namespace", raw: `0/admin,{"sid":"abc"}`, wantType: PacketConnect, wantNsp: "/admin", wantData: `{"sid":"abc"}`},
		{name: "namespace without data", raw: `1/admin`, wantType: PacketDisconnect, wantNsp: "/admin"},
		{name: "disconnect", raw: "1", wantType: PacketDisconnect, wantNsp: "/"},
		{name: "event", raw: `2["bot_chunk",{"text":"hola"}]`, wantType: PacketEvent, wantNsp: "/", wantData: `["bot_chunk",{"text":"hola"}]`},
		{name: "event with id", raw: `27["ask"]`, wantType: PacketEvent, wantNsp: "/", wantID: uint64Ptr(7), wantData: `["ask"]`},
		{name: "ack", raw: `3/chat,42["ok"]`, wantType: PacketAck, wantNsp: "/chat", wantID: uint64Ptr(42), wantData: `["ok"]`},
		{name: "connect error object", raw: `4{"message":"Not authorized"}`, wantType: PacketConnectError, wantNsp: "/", wantData: `{"message":"Not authorized"}`},
		{name: "connect error string", raw: `4"Invalid namespace"`, wantType: PacketConnectError, wantNsp: "/", wantData: `"Invalid namespace"`},
		{name: "binary event", raw: `52-["up",{"_placeholder":true,"num":0},{"_placeholder":true,"num":1}]`, wantType: PacketBinaryEvent, wantNsp: "/", wantAtt: 2, wantData: `["up",{"_placeholder":true,"num":0},{"_placeholder":true,"num":1}]`},
		{name: "empty", raw: "", wantErr: ErrEmptyPacket},
		{name: "unknown type", raw: "9", wantErr: ErrUnknownPacketType},
		{name: "event not array", raw: `2{"a":1}`, wantErr: ErrInvalidPayload},
		{name: "event without data", raw: `2`, wantErr: ErrInvalidPayload},
		{name: "disconnect with data", raw: `1{}`, wantErr: ErrInvalidPayload},
		{name: "ack without id", raw: `3["x"]`, wantErr: ErrInvalidPayload},
		{name: "malformed json", raw: `2["x"`, wantErr: ErrInvalidPayload},
		{name: "binary missing dash", raw: `51["x"]`, wantErr: ErrInvalidPayload},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := DecodePacket([]byte(tt.raw))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if p.Type != tt.wantType {
				t.Errorf("Type = %v, want %v", p.Type, tt.wantType)
			}
			if p.Namespace != tt.wantNsp {
				t.Errorf("Namespace = %q, want %q", p.Namespace, tt.wantNsp)
			}
			switch {
			case tt.wantID == nil && p.ID != nil:
				t.Errorf("ID = %d, want none", *p.ID)
			case tt.wantID != nil && p.ID == nil:
				t.Errorf("ID = none, want %d", *tt.wantID)
			case tt.wantID != nil && *p.ID != *tt.wantID:
				t.Errorf("ID = %d, want %d", *p.ID, *tt.wantID)
			}
			if string(p.Data) != tt.wantData {
				t.Errorf("Data = %q, want %q", p.Data, tt.wantData)
			}
			if p.Attachments != tt.wantAtt {
				t.Errorf("Attachments = %d, want %d", p.Attachments, tt.wantAtt)
			}
		})
	}
}

func TestPacket_EngineMessage(t *testing.T) {
	data, err := MarshalEvent("ping", map[string]int{"n": 1})
	if err != nil {
		t.Fatalf("MarshalEvent failed: %v", err)
	}
	frame := Packet{Type: PacketEvent, Data: data}.EngineMessage().Encode()
	if string(frame) != `42["ping",{"n":1}]` {
		t.Errorf("frame = %q", frame)
	}
}

func TestEvent_Bind(t *testing.T) {
	ev, err := UnmarshalEvent([]byte(`["bot_chunk",{"text":"hola"},3]`))
	if err != nil {
		t.Fatalf("UnmarshalEvent failed: %v", err)
	}
	if ev.Name != "bot_chunk" {
		t.Errorf("Name = %q", ev.Name)
	}

	var chunk struct {
		Text string `json:"text"`
	}
	if err := ev.Bind(0, &chunk); err != nil {
		t.Fatalf("Bind(0) failed: %v", err)
	}
	if chunk.Text != "hola" {
		t.Errorf("Text = %q, want hola", chunk.Text)
	}

	var n int
	if err := ev.Bind(1, &n); err != nil || n != 3 {
		t.Errorf("Bind(1) = %d, %v", n, err)
	}
	if err := ev.Bind(2, &n); !errors.Is(err, ErrNoArgument) {
		t.Errorf("Bind(2) err = %v, want ErrNoArgument", err)
	}
	if err := ev.Bind(0, &n); err == nil {
		t.Error("expected type mismatch error")
	}
}

func TestUnmarshalEvent_Invalid(t *testing.T) {
	for _, raw := range []string{`[]`, `[1,2]`, `{}`} {
		if _, err := UnmarshalEvent([]byte(raw)); !errors.Is(err, ErrInvalidPayload) {
			t.Errorf("UnmarshalEvent(%s) err = %v, want ErrInvalidPayload", raw, err)
		}
	}
}

func TestEvent_Ack(t *testing.T) {
	ev, _ := NewEvent("x")
	if ev.WantsAck() {
		t.Error("plain event should not want ack")
	}
	if err := ev.Ack(); !errors.Is(err, ErrNoAck) {
		t.Errorf("Ack() err = %v, want ErrNoAck", err)
	}

	var got []any
	ev = ev.WithAck(func(args ...any) error {
		got = args
		return nil
	})
	if !ev.WantsAck() {
		t.Error("expected WantsAck")
	}
	if err := ev.Ack("ok", 1); err != nil {
		t.Fatalf("Ack failed: %v", err)
	}
	if len(got) != 2 || got[0] != "ok" {
		t.Errorf("ack args = %v", got)
	}
}

func TestNewEvent(t *testing.T) {
	ev, err := NewEvent("disconnect", "io server disconnect")
	if err != nil {
		t.Fatalf("NewEvent failed: %v", err)
	}
	var reason string
	if err := ev.Bind(0, &reason); err != nil || reason != "io server disconnect" {
		t.Errorf("reason = %q, %v", reason, err)
	}

	if _, err := NewEvent("bad", make(chan int)); err == nil {
		t.Error("expected marshal error")
	}
}

func TestParseConnectError(t *testing.T) {
	if got := ParseConnectError([]byte(`{"message":"Not authorized","data":{"code":401}}`)); got.Message != "Not authorized" {
		t.Errorf("Message = %q", got.Message)
	}
	if got := ParseConnectError([]byte(`"Invalid namespace"`)); got.Message != "Invalid namespace" {
		t.Errorf("Message = %q", got.Message)
	}
}

func TestMarshalArgs(t *testing.T) {
	data, err := MarshalArgs()
	if err != nil || string(data) != "[]" {
		t.Errorf("MarshalArgs() = %s, %v", data, err)
	}
	args, err := UnmarshalArgs([]byte(`["ok",{"n":2}]`))
	if err != nil || len(args) != 2 {
		t.Errorf("UnmarshalArgs = %v, %v", args, err)
	}
}
