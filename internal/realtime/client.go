package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/chatprobe/internal/proto"
	"github.com/vovakirdan/chatprobe/internal/socketio"
)

// Disconnect reasons, named as socket.io clients name them.
const (
	ReasonServerDisconnect = "io server disconnect"
	ReasonClientDisconnect = "io client disconnect"
	ReasonPingTimeout      = "ping timeout"
	ReasonTransportClose   = "transport close"
	ReasonTransportError   = "transport error"
)

const closeTimeout = time.Second

// Client speaks Socket.IO v5 over the Engine.IO v4 websocket transport.
type Client struct {
	opts Options
	log  *zerolog.Logger
	reg  registry

	mu      sync.Mutex
	conn    *websocket.Conn
	sid     string
	open    socketio.OpenData
	closing bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewClient builds an unconnected v4 client.
func NewClient(opts Options) *Client {
	if opts.Namespace == "" {
		opts.Namespace = socketio.DefaultNamespace
	}
	return &Client{opts: opts, log: loggerOrNop(opts.Logger)}
}

// On registers l for event, replacing any previous listener.
func (c *Client) On(event string, l Listener) { c.reg.on(event, l) }

// Off removes the listener for event.
func (c *Client) Off(event string) { c.reg.off(event) }

// ID returns the namespace socket id once connected.
func (c *Client) ID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sid
}

// Connect dials, completes the Engine.IO handshake and requests the
// namespace with the token as auth. ctx bounds only the handshake; the
// connect event fires when the server acknowledges.
func (c *Client) Connect(ctx context.Context) error {
	endpoint, err := EndpointURL(c.opts.URL, c.opts.Path, "4", nil)
	if err != nil {
		return err
	}

	header := http.Header{}
	if c.opts.Token != "" {
		header.Set(proto.TokenHeader, c.opts.Token)
	}

	conn, _, err := websocket.Dial(ctx, endpoint, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		err = fmt.Errorf("dial %s: %w", endpoint, err)
		c.reg.dispatch(proto.EventConnectError, errorArgs(err))
		return err
	}

	open, err := handshake(ctx, conn)
	if err != nil {
		conn.Close(websocket.StatusProtocolError, "handshake failed")
		c.reg.dispatch(proto.EventConnectError, errorArgs(err))
		return err
	}
	if open.MaxPayload > 0 {
		conn.SetReadLimit(int64(open.MaxPayload))
	}

	pkt, err := socketio.ConnectPacket(c.opts.Namespace, proto.ConnectAuth{Token: c.opts.Token})
	if err != nil {
		conn.Close(websocket.StatusInternalError, "encode connect")
		return err
	}
	if err := conn.Write(ctx, websocket.MessageText, []byte(pkt.Frame())); err != nil {
		conn.Close(websocket.StatusInternalError, "write connect")
		err = fmt.Errorf("write connect: %w", err)
		c.reg.dispatch(proto.EventConnectError, errorArgs(err))
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.conn = conn
	c.open = open
	c.cancel = cancel
	c.done = make(chan struct{})
	c.mu.Unlock()

	c.log.Debug().Str("sid", open.SID).Int("ping_interval_ms", open.PingInterval).Msg("engine.io handshake complete")

	go c.readLoop(runCtx, conn)
	return nil
}

func handshake(ctx context.Context, conn *websocket.Conn) (socketio.OpenData, error) {
	var open socketio.OpenData

	_, data, err := conn.Read(ctx)
	if err != nil {
		return open, fmt.Errorf("read open packet: %w", err)
	}
	typ, payload, err := socketio.DecodeEngine(string(data))
	if err != nil {
		return open, fmt.Errorf("decode open packet: %w", err)
	}
	if typ != socketio.EngineOpen {
		return open, fmt.Errorf("expected open packet, got %q", typ)
	}
	if err := json.Unmarshal([]byte(payload), &open); err != nil {
		return open, fmt.Errorf("decode open payload: %w", err)
	}
	return open, nil
}

// Emit sends an event to the namespace.
func (c *Client) Emit(ctx context.Context, event string, args ...any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrClosed
	}

	pkt, err := socketio.EventPacket(c.opts.Namespace, event, args...)
	if err != nil {
		return err
	}
	if err := conn.Write(ctx, websocket.MessageText, []byte(pkt.Frame())); err != nil {
		return fmt.Errorf("emit %s: %w", event, err)
	}
	return nil
}

// Close leaves the namespace and closes the socket without draining.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	done := c.done
	cancel := c.cancel
	c.closing = true
	c.mu.Unlock()

	if conn == nil {
		if cancel != nil {
			cancel()
		}
		return nil
	}

	ctx, stop := context.WithTimeout(context.Background(), closeTimeout)
	defer stop()
	bye := socketio.Packet{Type: socketio.PacketDisconnect, Namespace: c.opts.Namespace}
	_ = conn.Write(ctx, websocket.MessageText, []byte(bye.Frame()))

	err := conn.Close(websocket.StatusNormalClosure, "bye")
	cancel()
	<-done

	if err != nil && !isExpectedClose(err) {
		return fmt.Errorf("close: %w", err)
	}
	return nil
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) {
	defer close(c.done)

	for {
		readCtx, cancel := c.readContext(ctx)
		typ, data, err := conn.Read(readCtx)
		timedOut := readCtx.Err() == context.DeadlineExceeded
		cancel()
		if err != nil {
			c.finish(err, timedOut)
			return
		}
		if typ != websocket.MessageText {
			c.log.Debug().Int("bytes", len(data)).Msg("ignoring binary frame")
			continue
		}
		if stop := c.handleFrame(ctx, conn, string(data)); stop {
			conn.Close(websocket.StatusNormalClosure, "server disconnect")
			return
		}
	}
}

// readContext bounds a read by the server's ping schedule.
func (c *Client) readContext(ctx context.Context) (context.Context, context.CancelFunc) {
	c.mu.Lock()
	open := c.open
	c.mu.Unlock()

	if open.PingInterval <= 0 {
		return context.WithCancel(ctx)
	}
	wait := time.Duration(open.PingInterval+open.PingTimeout) * time.Millisecond
	return context.WithTimeout(ctx, wait)
}

// handleFrame processes one Engine.IO frame. It returns true when the
// server ended the session.
func (c *Client) handleFrame(ctx context.Context, conn *websocket.Conn, frame string) bool {
	typ, payload, err := socketio.DecodeEngine(frame)
	if err != nil {
		c.log.Warn().Err(err).Msg("bad engine.io frame")
		return false
	}

	switch typ {
	case socketio.EnginePing:
		if err := conn.Write(ctx, websocket.MessageText, []byte(socketio.EncodeEngine(socketio.EnginePong, payload))); err != nil {
			c.log.Warn().Err(err).Msg("write pong")
		}
		return false
	case socketio.EngineClose:
		c.lifecycleEnd(ReasonTransportClose)
		return true
	case socketio.EngineMessage:
		return c.handlePacket(payload)
	default:
		return false
	}
}

func (c *Client) handlePacket(payload string) bool {
	pkt, err := socketio.DecodePacket(payload)
	if err != nil {
		c.log.Warn().Err(err).Msg("bad socket.io packet")
		return false
	}
	if pkt.Namespace != c.opts.Namespace {
		c.log.Debug().Str("namespace", pkt.Namespace).Msg("packet for another namespace")
		return false
	}

	switch pkt.Type {
	case socketio.PacketConnect:
		var ack proto.ConnectAck
		if len(pkt.Data) > 0 {
			if err := json.Unmarshal(pkt.Data, &ack); err != nil {
				c.log.Warn().Err(err).Msg("decode connect ack")
			}
		}
		c.mu.Lock()
		c.sid = ack.SID
		c.mu.Unlock()
		c.reg.dispatch(proto.EventConnect, nil)
	case socketio.PacketConnectError:
		var perr proto.Error
		if err := json.Unmarshal(pkt.Data, &perr); err != nil || perr.Message == "" {
			perr.Message = string(pkt.Data)
		}
		c.reg.dispatch(proto.EventConnectError, errorArgs(errors.New(perr.Message)))
	case socketio.PacketDisconnect:
		c.lifecycleEnd(ReasonServerDisconnect)
		return true
	case socketio.PacketEvent:
		name, args, err := pkt.Event()
		if err != nil {
			c.log.Warn().Err(err).Msg("bad event packet")
			return false
		}
		if !c.reg.dispatch(name, args) {
			c.log.Debug().Str("event", name).Msg("no listener for event")
		}
	default:
		c.log.Debug().Str("type", string(pkt.Type)).Msg("ignoring packet")
	}
	return false
}

// finish reports why the read loop ended.
func (c *Client) finish(err error, timedOut bool) {
	c.mu.Lock()
	closing := c.closing
	ended := c.conn == nil
	c.mu.Unlock()

	switch {
	case ended:
		return
	case closing:
		c.lifecycleEnd(ReasonClientDisconnect)
	case timedOut:
		c.reg.dispatch(proto.EventError, errorArgs(errors.New(ReasonPingTimeout)))
		c.lifecycleEnd(ReasonPingTimeout)
	case isExpectedClose(err):
		c.lifecycleEnd(ReasonTransportClose)
	default:
		c.log.Warn().Err(err).Msg("realtime read failed")
		c.reg.dispatch(proto.EventError, errorArgs(err))
		c.lifecycleEnd(ReasonTransportError)
	}
}

// lifecycleEnd fires disconnect once per connection.
func (c *Client) lifecycleEnd(reason string) {
	c.mu.Lock()
	if c.conn == nil {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.sid = ""
	c.mu.Unlock()

	c.reg.dispatch(proto.EventDisconnect, reasonArgs(reason))
}

func isExpectedClose(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return true
	}
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return true
	}
	return false
}
