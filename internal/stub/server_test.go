package stub

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/chatprobe/internal/auth"
	"github.com/vovakirdan/chatprobe/internal/config"
	"github.com/vovakirdan/chatprobe/internal/proto"
)

const testSecret = "stub-test-secret"

func testStubConfig() config.StubConfig {
	return config.StubConfig{
		Addr:              ":0",
		JWTSecret:         testSecret,
		PingInterval:      time.Second,
		PingTimeout:       time.Second,
		ReadHeaderTimeout: time.Second,
		ShutdownTimeout:   time.Second,
	}
}

func startTestServer(t *testing.T, cfg config.StubConfig) (*httptest.Server, *Hub) {
	t.Helper()

	logger := zerolog.Nop()
	hub := NewHub("", &logger)
	ts := httptest.NewServer(NewRouter(hub, cfg, &logger))
	t.Cleanup(ts.Close)
	return ts, hub
}

func mintToken(t *testing.T, userID int64) string {
	t.Helper()
	token, err := auth.GenerateToken(&auth.JWTConfig{Secret: []byte(testSecret), TTL: time.Hour}, userID, "")
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return token
}

func postSend(t *testing.T, ts *httptest.Server, token string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, ts.URL+proto.SendPath, bytes.NewReader(data))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set(proto.TokenHeader, token)
	}
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("send request failed: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHealthEndpoint(t *testing.T) {
	ts, _ := startTestServer(t, testStubConfig())

	resp, err := ts.Client().Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
}

func TestSendEndpoint(t *testing.T) {
	ts, _ := startTestServer(t, testStubConfig())
	valid := proto.SendRequest{Message: "hi", ReceiverID: 197, MediaURL: []json.RawMessage{}}

	tests := []struct {
		name   string
		token  string
		body   any
		status int
	}{
		{name: "missing token", body: valid, status: http.StatusUnauthorized},
		{name: "bad token", token: "not-a-jwt", body: valid, status: http.StatusUnauthorized},
		{name: "missing message", token: mintToken(t, 199), body: map[string]any{"reciever_id": 197}, status: http.StatusBadRequest},
		{name: "missing receiver", token: mintToken(t, 199), body: map[string]any{"message": "hi"}, status: http.StatusBadRequest},
		{name: "group chat", token: mintToken(t, 199), body: proto.SendRequest{Message: "hi", ReceiverID: 197, IsGroupChat: true}, status: http.StatusBadRequest},
		{name: "ok", token: mintToken(t, 199), body: valid, status: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postSend(t, ts, tt.token, tt.body)
			if resp.StatusCode != tt.status {
				t.Fatalf("expected %d, got %d", tt.status, resp.StatusCode)
			}
		})
	}
}

func TestSendResponseCarriesSender(t *testing.T) {
	ts, _ := startTestServer(t, testStubConfig())

	resp := postSend(t, ts, mintToken(t, 199), proto.SendRequest{Message: "hello", ReceiverID: 197})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}

	var out proto.SendResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !out.Status || out.Data.SenderID != 199 || out.Data.ReceiverID != 197 || out.Data.Message != "hello" {
		t.Fatalf("unexpected response %+v", out)
	}
	if out.Data.Timestamp == "" {
		t.Fatalf("expected server timestamp")
	}
}

func TestOpaqueTokenWithoutSecret(t *testing.T) {
	cfg := testStubConfig()
	cfg.JWTSecret = ""
	ts, _ := startTestServer(t, cfg)

	resp := postSend(t, ts, "opaque-token", proto.SendRequest{Message: "hi", ReceiverID: 197})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected opaque token accepted, got %d", resp.StatusCode)
	}
}

func TestSocketRejectsOtherProtocols(t *testing.T) {
	ts, _ := startTestServer(t, testStubConfig())

	for _, query := range []string{"?EIO=3&transport=websocket", "?EIO=4&transport=polling"} {
		resp, err := ts.Client().Get(ts.URL + SocketPath + query)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", query, resp.StatusCode)
		}
	}
}

func TestParseUserID(t *testing.T) {
	tests := []struct {
		raw  string
		want int64
		ok   bool
	}{
		{raw: `199`, want: 199, ok: true},
		{raw: `"197"`, want: 197, ok: true},
		{raw: `"abc"`},
		{raw: `{"id":1}`},
	}
	for _, tt := range tests {
		got, err := parseUserID(json.RawMessage(tt.raw))
		if (err == nil) != tt.ok || got != tt.want {
			t.Fatalf("parseUserID(%s) = %d, %v", tt.raw, got, err)
		}
	}
}

func TestRoomBroadcastDropsSlowConsumer(t *testing.T) {
	room := NewRoom("1")
	fast := &Socket{ID: "fast", out: make(chan string, 1)}
	slow := &Socket{ID: "slow", out: make(chan string)}
	room.Add(fast)
	room.Add(slow)

	if room.Add(fast) {
		t.Fatalf("expected duplicate add to report false")
	}
	if n := room.Broadcast("42[]"); n != 1 {
		t.Fatalf("expected 1 delivery, got %d", n)
	}
	if got := <-fast.out; !strings.HasPrefix(got, "42") {
		t.Fatalf("unexpected frame %q", got)
	}
	room.Remove(fast)
	room.Remove(slow)
	if !room.Empty() {
		t.Fatalf("expected empty room")
	}
}
