package socketio

import (
	"encoding/json"
	"testing"
)

func TestDecodeEngine(t *testing.T) {
	typ, payload, err := DecodeEngine(`0{"sid":"abc","upgrades":[],"pingInterval":25000,"pingTimeout":20000}`)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if typ != EngineOpen {
		t.Fatalf("expected open, got %q", typ)
	}
	var open OpenData
	if err := json.Unmarshal([]byte(payload), &open); err != nil {
		t.Fatalf("open payload: %v", err)
	}
	if open.SID != "abc" || open.PingInterval != 25000 {
		t.Fatalf("unexpected open data: %+v", open)
	}

	if _, _, err := DecodeEngine(""); err == nil {
		t.Fatalf("expected error for empty frame")
	}
	if _, _, err := DecodeEngine("9"); err == nil {
		t.Fatalf("expected error for unknown type")
	}
}

func TestDecodePacket(t *testing.T) {
	tests := []struct {
		name      string
		in        string
		typ       PacketType
		namespace string
		id        int
		hasID     bool
		data      string
	}{
		{name: "connect with auth", in: `0{"token":"t"}`, typ: PacketConnect, namespace: "/", data: `{"token":"t"}`},
		{name: "bare connect", in: `0`, typ: PacketConnect, namespace: "/"},
		{name: "event", in: `2["receive-message",{"message":"hi"}]`, typ: PacketEvent, namespace: "/", data: `["receive-message",{"message":"hi"}]`},
		{name: "event with namespace and ack", in: `2/chat,12["join",199]`, typ: PacketEvent, namespace: "/chat", id: 12, hasID: true, data: `["join",199]`},
		{name: "namespace disconnect", in: `1/chat,`, typ: PacketDisconnect, namespace: "/chat"},
		{name: "connect error", in: `4{"message":"unauthorized"}`, typ: PacketConnectError, namespace: "/", data: `{"message":"unauthorized"}`},
		{name: "ack", in: `35["ok"]`, typ: PacketAck, namespace: "/", id: 5, hasID: true, data: `["ok"]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := DecodePacket(tt.in)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if p.Type != tt.typ || p.Namespace != tt.namespace || string(p.Data) != tt.data {
				t.Fatalf("unexpected packet: %+v", p)
			}
			if tt.hasID != (p.ID != nil) || (p.ID != nil && *p.ID != tt.id) {
				t.Fatalf("unexpected ack id: %v", p.ID)
			}
			if got := p.Encode(); got != tt.in {
				t.Fatalf("re-encode: expected %q, got %q", tt.in, got)
			}
		})
	}
}

func TestDecodeBinaryPacket(t *testing.T) {
	p, err := DecodePacket(`51-["upload",{"_placeholder":true,"num":0}]`)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if p.Type != PacketBinaryEvent || p.Attachments != 1 {
		t.Fatalf("unexpected packet: %+v", p)
	}
}

func TestDecodePacketRejectsGarbage(t *testing.T) {
	for _, in := range []string{"", "9", `2["unterminated"`, "5[]"} {
		if _, err := DecodePacket(in); err == nil {
			t.Fatalf("expected error for %q", in)
		}
	}
}

func TestEventRoundTrip(t *testing.T) {
	p, err := EventPacket(DefaultNamespace, "join", 199)
	if err != nil {
		t.Fatalf("event packet: %v", err)
	}
	if got := p.Frame(); got != `42["join",199]` {
		t.Fatalf("unexpected frame %q", got)
	}

	_, payload, err := DecodeEngine(p.Frame())
	if err != nil {
		t.Fatalf("decode engine: %v", err)
	}
	decoded, err := DecodePacket(payload)
	if err != nil {
		t.Fatalf("decode packet: %v", err)
	}
	name, args, err := decoded.Event()
	if err != nil {
		t.Fatalf("event: %v", err)
	}
	if name != "join" || len(args) != 1 || string(args[0]) != "199" {
		t.Fatalf("unexpected event %s %s", name, args)
	}

	if _, _, err := (Packet{Type: PacketConnect}).Event(); err != ErrNotEvent {
		t.Fatalf("expected ErrNotEvent, got %v", err)
	}
}

func TestConnectPacketWithAuth(t *testing.T) {
	p, err := ConnectPacket(DefaultNamespace, map[string]string{"token": "abc"})
	if err != nil {
		t.Fatalf("connect packet: %v", err)
	}
	if got := p.Frame(); got != `40{"token":"abc"}` {
		t.Fatalf("unexpected frame %q", got)
	}
}
