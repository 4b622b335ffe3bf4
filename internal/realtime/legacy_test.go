package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vovakirdan/chatprobe/internal/proto"
)

// legacyServer speaks Engine.IO 3 for one client.
type legacyServer struct {
	t        *testing.T
	token    string
	joined   chan string
	pushes   int
	holdOpen bool
}

func (s *legacyServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("EIO") != "3" {
		http.Error(w, "bad eio", http.StatusBadRequest)
		return
	}
	if r.Header.Get(proto.TokenHeader) != s.token || r.URL.Query().Get("token") != s.token {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	upgrader := websocket.Upgrader{}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.t.Errorf("upgrade: %v", err)
		return
	}
	defer conn.Close()

	write := func(frame string) {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
			s.t.Logf("write: %v", err)
		}
	}

	write(`0{"sid":"s1","upgrades":[],"pingInterval":25000,"pingTimeout":60000}`)
	write("40")

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		frame := string(data)
		if frame == "2" {
			write("3")
			continue
		}
		if strings.HasPrefix(frame, "42") {
			s.joined <- frame
			break
		}
	}
	write(`42["joined","Joined room 199"]`)

	for i := 0; i < s.pushes; i++ {
		write(fmt.Sprintf(`42["receive-message",{"message":"m%d","sender_id":14}]`, i))
	}

	if !s.holdOpen {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

type legacyEvents struct {
	connected    chan struct{}
	joined       chan string
	messages     chan string
	disconnected chan string
}

func watchLegacy(t *testing.T, ctx context.Context, client *LegacyClient, buffer int) legacyEvents {
	t.Helper()
	ev := legacyEvents{
		connected:    make(chan struct{}, 1),
		joined:       make(chan string, 1),
		messages:     make(chan string, buffer),
		disconnected: make(chan string, 1),
	}
	client.On(proto.EventConnect, func([]json.RawMessage) {
		ev.connected <- struct{}{}
		if err := client.Emit(ctx, proto.EventJoin, 199); err != nil {
			t.Errorf("emit join: %v", err)
		}
	})
	client.On(proto.EventJoined, func(args []json.RawMessage) {
		var s string
		_ = json.Unmarshal(args[0], &s)
		ev.joined <- s
	})
	client.On(proto.EventReceiveMessage, func(args []json.RawMessage) {
		var m proto.Message
		if err := json.Unmarshal(args[0], &m); err != nil {
			t.Errorf("decode message: %v", err)
		}
		ev.messages <- m.Message
	})
	client.On(proto.EventDisconnect, func(args []json.RawMessage) {
		var reason string
		_ = json.Unmarshal(args[0], &reason)
		ev.disconnected <- reason
	})
	return ev
}

func TestLegacyClientDeliversInWireOrder(t *testing.T) {
	const n = 20
	srv := &legacyServer{t: t, token: "secret", joined: make(chan string, 1), pushes: n}
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client := NewLegacyClient(Options{URL: ts.URL, Token: "secret"})
	ev := watchLegacy(t, ctx, client, n)
	if err := client.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}

	waitFor(t, ev.connected, "connect")
	if frame := waitFor(t, srv.joined, "join"); frame != `42["join",199]` {
		t.Fatalf("unexpected join frame %s", frame)
	}
	if got := waitFor(t, ev.joined, "joined"); got != "Joined room 199" {
		t.Fatalf("unexpected joined ack %q", got)
	}
	for i := 0; i < n; i++ {
		want := fmt.Sprintf("m%d", i)
		if got := waitFor(t, ev.messages, want); got != want {
			t.Fatalf("message %d: expected %s, got %s", i, want, got)
		}
	}
	if reason := waitFor(t, ev.disconnected, "disconnect"); reason != ReasonTransportClose {
		t.Fatalf("unexpected reason %q", reason)
	}
	if client.ID() != "" {
		t.Fatalf("expected id cleared after disconnect, got %q", client.ID())
	}
	if err := client.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestLegacyClientCloseReportsClientDisconnect(t *testing.T) {
	srv := &legacyServer{t: t, token: "", joined: make(chan string, 1), holdOpen: true}
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client := NewLegacyClient(Options{URL: ts.URL})
	ev := watchLegacy(t, ctx, client, 1)
	if err := client.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	waitFor(t, ev.connected, "connect")
	waitFor(t, srv.joined, "join")
	waitFor(t, ev.joined, "joined")
	if client.ID() != "s1" {
		t.Fatalf("unexpected session id %q", client.ID())
	}

	if err := client.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if reason := waitFor(t, ev.disconnected, "disconnect"); reason != ReasonClientDisconnect {
		t.Fatalf("unexpected reason %q", reason)
	}
}

func TestLegacyClientDialFailure(t *testing.T) {
	srv := &legacyServer{t: t, token: "secret", joined: make(chan string, 1)}
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)

	client := NewLegacyClient(Options{URL: ts.URL, Token: "wrong"})
	failures := make(chan string, 1)
	client.On(proto.EventConnectError, func(args []json.RawMessage) {
		var perr proto.Error
		_ = json.Unmarshal(args[0], &perr)
		failures <- perr.Message
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Connect(ctx); err == nil {
		t.Fatalf("expected dial error")
	}
	if msg := waitFor(t, failures, "connect_error"); msg == "" {
		t.Fatalf("expected connect_error message")
	}
	if err := client.Close(); err != nil {
		t.Fatalf("close unconnected: %v", err)
	}
}
