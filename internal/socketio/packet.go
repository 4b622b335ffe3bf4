// Package socketio encodes and decodes Engine.IO v4 and Socket.IO v5 text
// packets as carried over the websocket transport.
package socketio

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// EngineType is the Engine.IO packet type, the first byte of a frame.
type EngineType byte

const (
	EngineOpen    EngineType = '0'
	EngineClose   EngineType = '1'
	EnginePing    EngineType = '2'
	EnginePong    EngineType = '3'
	EngineMessage EngineType = '4'
	EngineUpgrade EngineType = '5'
	EngineNoop    EngineType = '6'
)

// PacketType is the Socket.IO packet type carried inside an Engine.IO message.
type PacketType byte

const (
	PacketConnect      PacketType = '0'
	PacketDisconnect   PacketType = '1'
	PacketEvent        PacketType = '2'
	PacketAck          PacketType = '3'
	PacketConnectError PacketType = '4'
	PacketBinaryEvent  PacketType = '5'
	PacketBinaryAck    PacketType = '6'
)

// DefaultNamespace is the main namespace.
const DefaultNamespace = "/"

var (
	// ErrEmptyFrame is returned for a zero-length frame.
	ErrEmptyFrame = errors.New("empty frame")
	// ErrNotEvent is returned when an event is read from a non-event packet.
	ErrNotEvent = errors.New("not an event packet")
)

// OpenData is the payload of the Engine.IO open packet.
type OpenData struct {
	SID          string   `json:"sid"`
	Upgrades     []string `json:"upgrades"`
	PingInterval int      `json:"pingInterval"`
	PingTimeout  int      `json:"pingTimeout"`
	MaxPayload   int      `json:"maxPayload"`
}

// EncodeEngine builds an Engine.IO frame.
func EncodeEngine(t EngineType, payload string) string {
	return string(t) + payload
}

// DecodeEngine splits an Engine.IO frame into type and payload.
func DecodeEngine(frame string) (EngineType, string, error) {
	if frame == "" {
		return 0, "", ErrEmptyFrame
	}
	t := EngineType(frame[0])
	if t < EngineOpen || t > EngineNoop {
		return 0, "", fmt.Errorf("unknown engine packet type %q", frame[0])
	}
	return t, frame[1:], nil
}

// Packet is a decoded Socket.IO packet.
type Packet struct {
	Type        PacketType
	Namespace   string
	ID          *int
	Attachments int
	Data        json.RawMessage
}

// Encode renders the packet without the Engine.IO prefix.
func (p Packet) Encode() string {
	var b strings.Builder
	b.WriteByte(byte(p.Type))
	if p.Type == PacketBinaryEvent || p.Type == PacketBinaryAck {
		b.WriteString(strconv.Itoa(p.Attachments))
		b.WriteByte('-')
	}
	if p.Namespace != "" && p.Namespace != DefaultNamespace {
		b.WriteString(p.Namespace)
		b.WriteByte(',')
	}
	if p.ID != nil {
		b.WriteString(strconv.Itoa(*p.ID))
	}
	b.Write(p.Data)
	return b.String()
}

// Frame renders the packet as a complete Engine.IO message frame.
func (p Packet) Frame() string {
	return EncodeEngine(EngineMessage, p.Encode())
}

// DecodePacket parses a Socket.IO packet (without the Engine.IO prefix).
func DecodePacket(s string) (Packet, error) {
	if s == "" {
		return Packet{}, ErrEmptyFrame
	}
	p := Packet{Type: PacketType(s[0]), Namespace: DefaultNamespace}
	if p.Type < PacketConnect || p.Type > PacketBinaryAck {
		return Packet{}, fmt.Errorf("unknown socket.io packet type %q", s[0])
	}
	rest := s[1:]

	if p.Type == PacketBinaryEvent || p.Type == PacketBinaryAck {
		dash := strings.IndexByte(rest, '-')
		if dash < 0 {
			return Packet{}, fmt.Errorf("binary packet without attachment count")
		}
		n, err := strconv.Atoi(rest[:dash])
		if err != nil {
			return Packet{}, fmt.Errorf("attachment count: %w", err)
		}
		p.Attachments = n
		rest = rest[dash+1:]
	}

	if strings.HasPrefix(rest, "/") {
		comma := strings.IndexByte(rest, ',')
		if comma < 0 {
			p.Namespace = rest
			rest = ""
		} else {
			p.Namespace = rest[:comma]
			rest = rest[comma+1:]
		}
	}

	digits := 0
	for digits < len(rest) && rest[digits] >= '0' && rest[digits] <= '9' {
		digits++
	}
	if digits > 0 {
		id, err := strconv.Atoi(rest[:digits])
		if err != nil {
			return Packet{}, fmt.Errorf("ack id: %w", err)
		}
		p.ID = &id
		rest = rest[digits:]
	}

	if rest != "" {
		if !json.Valid([]byte(rest)) {
			return Packet{}, fmt.Errorf("invalid packet payload")
		}
		p.Data = json.RawMessage(rest)
	}
	return p, nil
}

// ConnectPacket builds a namespace connect carrying an optional auth payload.
func ConnectPacket(namespace string, auth any) (Packet, error) {
	p := Packet{Type: PacketConnect, Namespace: namespace}
	if auth == nil {
		return p, nil
	}
	data, err := json.Marshal(auth)
	if err != nil {
		return Packet{}, fmt.Errorf("marshal auth: %w", err)
	}
	p.Data = data
	return p, nil
}

// EventPacket builds an event packet ["name", args...].
func EventPacket(namespace, name string, args ...any) (Packet, error) {
	items := make([]any, 0, len(args)+1)
	items = append(items, name)
	items = append(items, args...)
	data, err := json.Marshal(items)
	if err != nil {
		return Packet{}, fmt.Errorf("marshal event %s: %w", name, err)
	}
	return Packet{Type: PacketEvent, Namespace: namespace, Data: data}, nil
}

// Event returns the event name and its raw arguments.
func (p Packet) Event() (string, []json.RawMessage, error) {
	if p.Type != PacketEvent {
		return "", nil, ErrNotEvent
	}
	var items []json.RawMessage
	if err := json.Unmarshal(p.Data, &items); err != nil {
		return "", nil, fmt.Errorf("decode event payload: %w", err)
	}
	if len(items) == 0 {
		return "", nil, fmt.Errorf("event payload has no name")
	}
	var name string
	if err := json.Unmarshal(items[0], &name); err != nil {
		return "", nil, fmt.Errorf("decode event name: %w", err)
	}
	return name, items[1:], nil
}
