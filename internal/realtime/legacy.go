package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	gosocketio "github.com/graarh/golang-socketio"
	"github.com/graarh/golang-socketio/protocol"
	"github.com/graarh/golang-socketio/transport"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/chatprobe/internal/proto"
)

const legacyQueueSize = 64

// LegacyClient talks to Engine.IO v3 servers through graarh/golang-socketio.
// The token travels as a query parameter and a Token header since v3 has
// no connect auth payload.
//
// The library runs every incoming packet on its own goroutine, so frames
// are taken off the connection as it reads them and handed to listeners
// from a single dispatcher in wire order.
type LegacyClient struct {
	opts Options
	log  *zerolog.Logger
	reg  registry

	mu        sync.Mutex
	client    *gosocketio.Client
	sid       string
	closing   bool
	abandoned bool
	queue     chan legacyEvent
	done      chan struct{}
	endOnce   sync.Once

	sendMu      sync.Mutex
	queueClosed bool
}

type legacyEvent struct {
	name string
	args []json.RawMessage
}

// NewLegacyClient builds an unconnected v3 client.
func NewLegacyClient(opts Options) *LegacyClient {
	return &LegacyClient{
		opts: opts,
		log:  loggerOrNop(opts.Logger),
	}
}

// On registers l for event.
func (c *LegacyClient) On(event string, l Listener) { c.reg.on(event, l) }

// Off removes the listener for event.
func (c *LegacyClient) Off(event string) { c.reg.off(event) }

// ID returns the Engine.IO session id.
func (c *LegacyClient) ID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sid
}

type dialResult struct {
	client *gosocketio.Client
	err    error
}

// Connect dials the server. The library has no context support, so a
// cancelled ctx abandons the dial and closes the client if it arrives late.
func (c *LegacyClient) Connect(ctx context.Context) error {
	query := url.Values{}
	if c.opts.Token != "" {
		query.Set("token", c.opts.Token)
	}
	endpoint, err := EndpointURL(c.opts.URL, c.opts.Path, "3", query)
	if err != nil {
		return err
	}

	ws := transport.GetDefaultWebsocketTransport()
	ws.RequestHeader = http.Header{}
	if c.opts.Token != "" {
		ws.RequestHeader.Set(proto.TokenHeader, c.opts.Token)
	}

	queue := make(chan legacyEvent, legacyQueueSize)
	done := make(chan struct{})
	c.mu.Lock()
	c.queue = queue
	c.done = done
	c.mu.Unlock()

	results := make(chan dialResult, 1)
	go func() {
		client, dialErr := gosocketio.Dial(endpoint, &orderedTransport{WebsocketTransport: ws, client: c})
		results <- dialResult{client: client, err: dialErr}
	}()

	var res dialResult
	select {
	case res = <-results:
	case <-ctx.Done():
		c.mu.Lock()
		c.abandoned = true
		c.mu.Unlock()
		go func() {
			if late := <-results; late.client != nil {
				late.client.Close()
			} else {
				c.closeQueue()
			}
		}()
		go func() {
			for range queue {
			}
		}()
		err := fmt.Errorf("dial %s: %w", endpoint, ctx.Err())
		c.reg.dispatch(proto.EventConnectError, errorArgs(err))
		return err
	}
	if res.err != nil {
		c.closeQueue()
		err := fmt.Errorf("dial %s: %w", endpoint, res.err)
		c.reg.dispatch(proto.EventConnectError, errorArgs(err))
		return err
	}

	client := res.client
	c.mu.Lock()
	c.client = client
	c.mu.Unlock()
	// Frames read during the dial wait in the queue until the client is
	// set, so listeners may emit from the connect event.
	go c.dispatchLoop(queue, done)

	// Covers closes that never surface as a read error, such as a frame
	// the library refuses to decode.
	if err := client.On(gosocketio.OnDisconnection, func(*gosocketio.Channel) {
		c.ended(nil)
	}); err != nil {
		return fmt.Errorf("register disconnection handler: %w", err)
	}
	if !client.IsAlive() {
		c.ended(nil)
	}
	return nil
}

func (c *LegacyClient) push(ev legacyEvent) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.queueClosed {
		return
	}
	c.queue <- ev
}

func (c *LegacyClient) closeQueue() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if !c.queueClosed {
		c.queueClosed = true
		close(c.queue)
	}
}

func (c *LegacyClient) dispatchLoop(queue <-chan legacyEvent, done chan<- struct{}) {
	defer close(done)
	for ev := range queue {
		if !c.reg.dispatch(ev.name, ev.args) {
			c.log.Debug().Str("event", ev.name).Msg("no listener for event")
		}
	}
}

// frame runs on the library's read goroutine, once per frame and in order.
func (c *LegacyClient) frame(raw string) {
	c.mu.Lock()
	abandoned := c.abandoned
	c.mu.Unlock()
	if abandoned {
		return
	}

	if strings.HasPrefix(raw, "44") {
		var perr proto.Error
		if err := json.Unmarshal([]byte(raw[2:]), &perr); err != nil || perr.Message == "" {
			perr.Message = raw[2:]
		}
		c.push(legacyEvent{name: proto.EventConnectError, args: errorArgs(errors.New(perr.Message))})
		return
	}

	msg, err := protocol.Decode(raw)
	if err != nil {
		c.log.Debug().Err(err).Str("frame", raw).Msg("undecodable legacy frame")
		return
	}
	switch msg.Type {
	case protocol.MessageTypeOpen:
		var open struct {
			SID string `json:"sid"`
		}
		if err := json.Unmarshal([]byte(msg.Args), &open); err != nil {
			c.log.Warn().Err(err).Msg("decode legacy open packet")
		}
		c.mu.Lock()
		c.sid = open.SID
		c.mu.Unlock()
		c.push(legacyEvent{name: proto.EventConnect})
	case protocol.MessageTypeEmit, protocol.MessageTypeAckRequest:
		var args []json.RawMessage
		if msg.Args != "" {
			args = []json.RawMessage{json.RawMessage(msg.Args)}
		}
		c.push(legacyEvent{name: msg.Method, args: args})
	}
}

// ended fires disconnect once and closes the queue. readErr is nil when
// the library closed the channel itself.
func (c *LegacyClient) ended(readErr error) {
	c.endOnce.Do(func() {
		c.mu.Lock()
		closing := c.closing
		abandoned := c.abandoned
		c.sid = ""
		c.mu.Unlock()

		if !abandoned {
			reason := ReasonTransportClose
			switch {
			case closing:
				reason = ReasonClientDisconnect
			case !isLegacyClose(readErr):
				c.push(legacyEvent{name: proto.EventError, args: errorArgs(readErr)})
				reason = ReasonTransportError
			}
			c.push(legacyEvent{name: proto.EventDisconnect, args: reasonArgs(reason)})
		}
		c.closeQueue()
	})
}

func isLegacyClose(err error) bool {
	return err == nil ||
		websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) ||
		errors.Is(err, net.ErrClosed)
}

// Emit sends an event. v3 events here carry a single argument.
func (c *LegacyClient) Emit(_ context.Context, event string, args ...any) error {
	c.mu.Lock()
	client := c.client
	c.mu.Unlock()
	if client == nil || !client.IsAlive() {
		return ErrClosed
	}

	var payload any = args
	if len(args) == 1 {
		payload = args[0]
	}
	if err := client.Emit(event, payload); err != nil {
		return fmt.Errorf("emit %s: %w", event, err)
	}
	return nil
}

// Close shuts the connection down and waits for the disconnect event to be
// delivered.
func (c *LegacyClient) Close() error {
	c.mu.Lock()
	client := c.client
	done := c.done
	c.closing = true
	c.mu.Unlock()

	if client == nil {
		return nil
	}
	client.Close()

	select {
	case <-done:
	case <-time.After(closeTimeout):
		c.log.Warn().Msg("legacy dispatcher did not drain")
	}
	return nil
}

// orderedTransport hands every frame to the client before the library
// sees it.
type orderedTransport struct {
	*transport.WebsocketTransport
	client *LegacyClient
}

func (t *orderedTransport) Connect(url string) (transport.Connection, error) {
	conn, err := t.WebsocketTransport.Connect(url)
	if err != nil {
		return nil, err
	}
	return &orderedConn{Connection: conn, client: t.client}, nil
}

type orderedConn struct {
	transport.Connection
	client *LegacyClient
}

func (c *orderedConn) GetMessage() (string, error) {
	msg, err := c.Connection.GetMessage()
	if err != nil {
		c.client.ended(err)
		return msg, err
	}
	c.client.frame(msg)
	return msg, nil
}
