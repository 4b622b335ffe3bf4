package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/chatprobe/internal/proto"
	"github.com/vovakirdan/chatprobe/internal/socketio"
)

func TestEndpointURL(t *testing.T) {
	tests := []struct {
		base  string
		path  string
		eio   string
		query url.Values
		want  string
	}{
		{base: "https://chat.example.com/", eio: "4", want: "wss://chat.example.com/socket.io/?EIO=4&transport=websocket"},
		{base: "http://localhost:8080", eio: "4", want: "ws://localhost:8080/socket.io/?EIO=4&transport=websocket"},
		{base: "ws://localhost:8080/base", path: "/rt", eio: "3", query: url.Values{"token": {"x"}}, want: "ws://localhost:8080/base/rt/?EIO=3&token=x&transport=websocket"},
	}
	for _, tt := range tests {
		got, err := EndpointURL(tt.base, tt.path, tt.eio, tt.query)
		if err != nil {
			t.Fatalf("%s: %v", tt.base, err)
		}
		if got != tt.want {
			t.Fatalf("expected %s, got %s", tt.want, got)
		}
	}

	if _, err := EndpointURL("ftp://nope", "", "4", nil); err == nil {
		t.Fatalf("expected error for unsupported scheme")
	}
}

func TestNewRejectsUnknownProtocol(t *testing.T) {
	if _, err := New(Options{Protocol: "v9"}); err == nil {
		t.Fatalf("expected error")
	}
	ch, err := New(Options{Protocol: "v3"})
	if err != nil {
		t.Fatalf("v3: %v", err)
	}
	if _, ok := ch.(*LegacyClient); !ok {
		t.Fatalf("expected legacy client, got %T", ch)
	}
}

// fakeServer speaks just enough Socket.IO v5 for one client.
type fakeServer struct {
	t      *testing.T
	token  string
	joined chan json.RawMessage
	push   chan string
}

func (s *fakeServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.t.Errorf("accept: %v", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "done")
	ctx := r.Context()

	write := func(frame string) {
		if err := conn.Write(ctx, websocket.MessageText, []byte(frame)); err != nil {
			s.t.Logf("write: %v", err)
		}
	}
	read := func() (socketio.Packet, bool) {
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return socketio.Packet{}, false
			}
			typ, payload, err := socketio.DecodeEngine(string(data))
			if err != nil || typ != socketio.EngineMessage {
				continue
			}
			pkt, err := socketio.DecodePacket(payload)
			if err != nil {
				s.t.Errorf("decode: %v", err)
				return socketio.Packet{}, false
			}
			return pkt, true
		}
	}

	write(`0{"sid":"eio1","upgrades":[],"pingInterval":25000,"pingTimeout":20000,"maxPayload":1000000}`)

	pkt, ok := read()
	if !ok || pkt.Type != socketio.PacketConnect {
		s.t.Errorf("expected connect, got %+v", pkt)
		return
	}
	var auth proto.ConnectAuth
	_ = json.Unmarshal(pkt.Data, &auth)
	if auth.Token != s.token {
		write(`44{"message":"unauthorized"}`)
		return
	}
	write(`40{"sid":"sock1"}`)
	write("2")

	pkt, ok = read()
	if !ok {
		return
	}
	name, args, err := pkt.Event()
	if err != nil || name != proto.EventJoin || len(args) != 1 {
		s.t.Errorf("expected join, got %+v", pkt)
		return
	}
	s.joined <- args[0]
	write(`42["joined","Joined room 199"]`)

	for frame := range s.push {
		write(frame)
	}
	write("41")
	_, _, _ = conn.Read(ctx)
}

func waitFor[T any](t *testing.T, ch <-chan T, what string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
	var zero T
	return zero
}

func TestClientConnectJoinReceive(t *testing.T) {
	srv := &fakeServer{t: t, token: "secret", joined: make(chan json.RawMessage, 1), push: make(chan string, 4)}
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)

	logger := zerolog.New(nil)
	client := NewClient(Options{URL: ts.URL, Token: "secret", Logger: &logger})

	connected := make(chan struct{}, 1)
	joined := make(chan string, 1)
	messages := make(chan proto.Message, 1)
	disconnected := make(chan string, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client.On(proto.EventConnect, func([]json.RawMessage) {
		connected <- struct{}{}
		if err := client.Emit(ctx, proto.EventJoin, 199); err != nil {
			t.Errorf("emit join: %v", err)
		}
	})
	client.On(proto.EventJoined, func(args []json.RawMessage) {
		var s string
		_ = json.Unmarshal(args[0], &s)
		joined <- s
	})
	client.On(proto.EventReceiveMessage, func(args []json.RawMessage) {
		var m proto.Message
		if err := json.Unmarshal(args[0], &m); err != nil {
			t.Errorf("decode message: %v", err)
		}
		messages <- m
	})
	client.On(proto.EventDisconnect, func(args []json.RawMessage) {
		var reason string
		_ = json.Unmarshal(args[0], &reason)
		disconnected <- reason
	})

	if err := client.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}

	waitFor(t, connected, "connect")
	if id := waitFor(t, srv.joined, "join"); string(id) != "199" {
		t.Fatalf("unexpected join payload %s", id)
	}
	if got := waitFor(t, joined, "joined"); got != "Joined room 199" {
		t.Fatalf("unexpected joined ack %q", got)
	}
	if client.ID() != "sock1" {
		t.Fatalf("unexpected socket id %q", client.ID())
	}

	srv.push <- `42["receive-message",{"message":"hi","sender_id":14,"timestamp":"2024-01-01T00:00:01Z"}]`
	msg := waitFor(t, messages, "message")
	if msg.Message != "hi" || msg.SenderID != 14 {
		t.Fatalf("unexpected message %+v", msg)
	}

	close(srv.push)
	if reason := waitFor(t, disconnected, "disconnect"); reason != ReasonServerDisconnect {
		t.Fatalf("unexpected reason %q", reason)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestClientConnectError(t *testing.T) {
	srv := &fakeServer{t: t, token: "secret", joined: make(chan json.RawMessage, 1), push: make(chan string)}
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)

	client := NewClient(Options{URL: ts.URL, Token: "wrong"})
	failures := make(chan string, 1)
	client.On(proto.EventConnectError, func(args []json.RawMessage) {
		var perr proto.Error
		_ = json.Unmarshal(args[0], &perr)
		failures <- perr.Message
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if msg := waitFor(t, failures, "connect_error"); msg != "unauthorized" {
		t.Fatalf("unexpected connect_error %q", msg)
	}
	_ = client.Close()
}

func TestClientOffStopsDelivery(t *testing.T) {
	srv := &fakeServer{t: t, token: "", joined: make(chan json.RawMessage, 1), push: make(chan string, 2)}
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)

	client := NewClient(Options{URL: ts.URL})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	got := make(chan struct{}, 1)
	client.On(proto.EventConnect, func([]json.RawMessage) { _ = client.Emit(ctx, proto.EventJoin, 1) })
	client.On(proto.EventReceiveMessage, func([]json.RawMessage) { got <- struct{}{} })
	if err := client.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	waitFor(t, srv.joined, "join")

	client.Off(proto.EventReceiveMessage)
	srv.push <- `42["receive-message",{"message":"late","sender_id":2}]`

	select {
	case <-got:
		t.Fatalf("listener called after Off")
	case <-time.After(200 * time.Millisecond):
	}
	close(srv.push)
	_ = client.Close()
}

func TestEmitBeforeConnect(t *testing.T) {
	client := NewClient(Options{URL: "http://localhost"})
	if err := client.Emit(context.Background(), "join", 1); err != ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("close unconnected: %v", err)
	}
}

func TestClientDeliversInWireOrder(t *testing.T) {
	const n = 50
	srv := &fakeServer{t: t, joined: make(chan json.RawMessage, 1), push: make(chan string, n)}
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client := NewClient(Options{URL: ts.URL})
	got := make(chan string, n)
	client.On(proto.EventConnect, func([]json.RawMessage) { _ = client.Emit(ctx, proto.EventJoin, 199) })
	client.On(proto.EventReceiveMessage, func(args []json.RawMessage) {
		var m proto.Message
		_ = json.Unmarshal(args[0], &m)
		got <- m.Message
	})
	if err := client.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	waitFor(t, srv.joined, "join")

	for i := 0; i < n; i++ {
		srv.push <- fmt.Sprintf(`42["receive-message",{"message":"m%d","sender_id":14}]`, i)
	}
	for i := 0; i < n; i++ {
		want := fmt.Sprintf("m%d", i)
		if msg := waitFor(t, got, want); msg != want {
			t.Fatalf("message %d: expected %s, got %s", i, want, msg)
		}
	}
	close(srv.push)
	_ = client.Close()
}
