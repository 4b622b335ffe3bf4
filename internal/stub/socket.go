package stub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/chatprobe/internal/proto"
	"github.com/vovakirdan/chatprobe/internal/socketio"
	"github.com/vovakirdan/chatprobe/internal/utils"
)

const (
	sendBuffer = 32
	maxPayload = 1_000_000
)

var errPingTimeout = errors.New("ping timeout")

// Socket is one connected Socket.IO client.
type Socket struct {
	ID     string
	UserID int64
	out    chan string
}

// JoinedAck is the payload of the joined event.
type JoinedAck struct {
	Room string `json:"room"`
}

// SocketHandler serves Socket.IO v5 over the Engine.IO v4 websocket
// transport. Polling is not offered.
type SocketHandler struct {
	hub          *Hub
	auth         *Authenticator
	namespace    string
	pingInterval time.Duration
	pingTimeout  time.Duration
	log          *zerolog.Logger
}

// SocketOptions configures a SocketHandler.
type SocketOptions struct {
	Namespace    string
	PingInterval time.Duration
	PingTimeout  time.Duration
}

// NewSocketHandler builds the realtime endpoint.
func NewSocketHandler(hub *Hub, a *Authenticator, opts SocketOptions, logger *zerolog.Logger) *SocketHandler {
	if opts.Namespace == "" {
		opts.Namespace = socketio.DefaultNamespace
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = 25 * time.Second
	}
	if opts.PingTimeout <= 0 {
		opts.PingTimeout = 20 * time.Second
	}
	return &SocketHandler{
		hub:          hub,
		auth:         a,
		namespace:    opts.Namespace,
		pingInterval: opts.PingInterval,
		pingTimeout:  opts.PingTimeout,
		log:          logger,
	}
}

func (h *SocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if eio := r.URL.Query().Get("EIO"); eio != "4" {
		http.Error(w, "unsupported protocol version", http.StatusBadRequest)
		return
	}
	if transport := r.URL.Query().Get("transport"); transport != "websocket" {
		http.Error(w, "transport unknown", http.StatusBadRequest)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "internal error")
	conn.SetReadLimit(maxPayload)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sock := &Socket{ID: utils.NewID(), out: make(chan string, sendBuffer)}
	if err := h.open(ctx, conn); err != nil {
		h.log.Warn().Err(err).Msg("write open packet")
		return
	}
	if err := h.connect(ctx, conn, sock, r.Header.Get(proto.TokenHeader)); err != nil {
		h.log.Info().Err(err).Msg("socket.io connect refused")
		conn.Close(websocket.StatusPolicyViolation, "connect refused")
		return
	}
	h.log.Info().Str("socket_id", sock.ID).Int64("user_id", sock.UserID).Msg("socket connected")
	defer h.hub.Leave(sock)

	errCh := make(chan error, 2)
	go func() {
		errCh <- h.readLoop(ctx, conn, sock)
	}()
	go func() {
		errCh <- h.writeLoop(ctx, conn, sock)
	}()

	err = <-errCh
	cancel() // stop the other goroutine
	<-errCh

	status := websocket.StatusNormalClosure
	reason := "closing"
	if err != nil && !errors.Is(err, context.Canceled) {
		if errors.Is(err, io.EOF) {
			err = nil
		}
		if s := websocket.CloseStatus(err); s != 0 {
			status = s
		}
		if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
			err = nil
		}
		if err != nil {
			if status == websocket.StatusNormalClosure {
				status = websocket.StatusInternalError
			}
			reason = err.Error()
			h.log.Warn().Err(err).Str("socket_id", sock.ID).Msg("socket closed with error")
		}
	}

	h.log.Info().Str("socket_id", sock.ID).Msg("socket disconnected")
	conn.Close(status, reason)
}

func (h *SocketHandler) open(ctx context.Context, conn *websocket.Conn) error {
	data, err := json.Marshal(socketio.OpenData{
		SID:          utils.NewID(),
		Upgrades:     []string{},
		PingInterval: int(h.pingInterval / time.Millisecond),
		PingTimeout:  int(h.pingTimeout / time.Millisecond),
		MaxPayload:   maxPayload,
	})
	if err != nil {
		return err
	}
	return writeFrame(ctx, conn, socketio.EncodeEngine(socketio.EngineOpen, string(data)))
}

// connect waits for the namespace connect packet and authenticates it.
// The auth payload wins over the Token header.
func (h *SocketHandler) connect(ctx context.Context, conn *websocket.Conn, sock *Socket, headerToken string) error {
	ctx, cancel := context.WithTimeout(ctx, h.pingTimeout)
	defer cancel()

	var pkt socketio.Packet
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("read connect: %w", err)
		}
		typ, payload, err := socketio.DecodeEngine(string(data))
		if err != nil {
			return err
		}
		if typ != socketio.EngineMessage {
			continue
		}
		if pkt, err = socketio.DecodePacket(payload); err != nil {
			return err
		}
		break
	}
	if pkt.Type != socketio.PacketConnect {
		return fmt.Errorf("expected connect packet, got %q", pkt.Type)
	}

	if pkt.Namespace != h.namespace {
		return h.refuse(ctx, conn, pkt.Namespace, "Invalid namespace")
	}

	token := headerToken
	if len(pkt.Data) > 0 {
		var ca proto.ConnectAuth
		if err := json.Unmarshal(pkt.Data, &ca); err == nil && ca.Token != "" {
			token = ca.Token
		}
	}
	userID, err := h.auth.Authenticate(token)
	if err != nil {
		if refuseErr := h.refuse(ctx, conn, pkt.Namespace, "unauthorized"); refuseErr != nil {
			return refuseErr
		}
		return err
	}
	sock.UserID = userID

	ack, err := json.Marshal(proto.ConnectAck{SID: sock.ID})
	if err != nil {
		return err
	}
	reply := socketio.Packet{Type: socketio.PacketConnect, Namespace: h.namespace, Data: ack}
	return writeFrame(ctx, conn, reply.Frame())
}

func (h *SocketHandler) refuse(ctx context.Context, conn *websocket.Conn, namespace, message string) error {
	data, err := json.Marshal(proto.Error{Message: message})
	if err != nil {
		return err
	}
	pkt := socketio.Packet{Type: socketio.PacketConnectError, Namespace: namespace, Data: data}
	if err := writeFrame(ctx, conn, pkt.Frame()); err != nil {
		return err
	}
	return errors.New(message)
}

func (h *SocketHandler) readLoop(ctx context.Context, conn *websocket.Conn, sock *Socket) error {
	wait := h.pingInterval + h.pingTimeout
	for {
		readCtx, cancel := context.WithTimeout(ctx, wait)
		typ, data, err := conn.Read(readCtx)
		timedOut := readCtx.Err() == context.DeadlineExceeded
		cancel()
		if err != nil {
			if timedOut {
				return errPingTimeout
			}
			return err
		}
		if typ != websocket.MessageText {
			continue
		}

		etype, payload, err := socketio.DecodeEngine(string(data))
		if err != nil {
			h.log.Warn().Err(err).Str("socket_id", sock.ID).Msg("bad engine.io frame")
			continue
		}
		switch etype {
		case socketio.EnginePong:
		case socketio.EnginePing:
			if err := sock.send(ctx, socketio.EncodeEngine(socketio.EnginePong, payload)); err != nil {
				return err
			}
		case socketio.EngineClose:
			return nil
		case socketio.EngineMessage:
			done, err := h.handlePacket(ctx, sock, payload)
			if err != nil || done {
				return err
			}
		}
	}
}

func (h *SocketHandler) handlePacket(ctx context.Context, sock *Socket, payload string) (bool, error) {
	pkt, err := socketio.DecodePacket(payload)
	if err != nil {
		h.log.Warn().Err(err).Str("socket_id", sock.ID).Msg("bad socket.io packet")
		return false, nil
	}

	switch pkt.Type {
	case socketio.PacketDisconnect:
		return true, nil
	case socketio.PacketEvent:
		name, args, err := pkt.Event()
		if err != nil {
			h.log.Warn().Err(err).Str("socket_id", sock.ID).Msg("bad event packet")
			return false, nil
		}
		return false, h.handleEvent(ctx, sock, name, args)
	default:
		h.log.Debug().Str("type", string(pkt.Type)).Msg("ignoring packet")
		return false, nil
	}
}

func (h *SocketHandler) handleEvent(ctx context.Context, sock *Socket, name string, args []json.RawMessage) error {
	switch name {
	case proto.EventJoin:
		if len(args) == 0 {
			h.log.Debug().Str("socket_id", sock.ID).Msg("join without user id")
			return nil
		}
		userID, err := parseUserID(args[0])
		if err != nil {
			h.log.Debug().Err(err).Str("socket_id", sock.ID).Msg("bad join argument")
			return nil
		}
		room := RoomName(userID)
		h.hub.Join(sock, room)

		pkt, err := socketio.EventPacket(h.namespace, proto.EventJoined, JoinedAck{Room: room})
		if err != nil {
			return err
		}
		return sock.send(ctx, pkt.Frame())
	default:
		h.log.Debug().Str("event", name).Str("socket_id", sock.ID).Msg("unhandled event")
		return nil
	}
}

func (h *SocketHandler) writeLoop(ctx context.Context, conn *websocket.Conn, sock *Socket) error {
	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case frame := <-sock.out:
			if err := writeFrame(ctx, conn, frame); err != nil {
				h.log.Error().Err(err).Str("socket_id", sock.ID).Msg("write ws frame")
				return err
			}
		case <-ticker.C:
			if err := writeFrame(ctx, conn, string(socketio.EnginePing)); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Socket) send(ctx context.Context, frame string) error {
	select {
	case s.out <- frame:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func writeFrame(ctx context.Context, conn *websocket.Conn, frame string) error {
	return conn.Write(ctx, websocket.MessageText, []byte(frame))
}

// parseUserID accepts a JSON number or a numeric string.
func parseUserID(raw json.RawMessage) (int64, error) {
	var n int64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, fmt.Errorf("user id must be a number: %s", raw)
	}
	return strconv.ParseInt(s, 10, 64)
}
