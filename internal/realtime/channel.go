// Package realtime connects to the backend's Socket.IO endpoint and turns
// pushed packets into named events.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Supported protocol revisions.
const (
	ProtocolV4 = "v4" // Engine.IO 4 / Socket.IO 5, coder/websocket
	ProtocolV3 = "v3" // Engine.IO 3 / Socket.IO 2, graarh/golang-socketio
)

// ErrClosed is returned when emitting on a channel that is not open.
var ErrClosed = errors.New("channel closed")

// Listener handles one named event. Args are the raw JSON arguments.
type Listener func(args []json.RawMessage)

// Channel is a bidirectional realtime connection.
// Lifecycle is reported through the connect, disconnect, error and
// connect_error events, the same way server events are.
type Channel interface {
	On(event string, l Listener)
	Off(event string)
	Connect(ctx context.Context) error
	Emit(ctx context.Context, event string, args ...any) error
	ID() string
	Close() error
}

// Options configures a channel.
type Options struct {
	URL       string
	Path      string
	Namespace string
	Token     string
	Protocol  string
	Logger    *zerolog.Logger
}

// New returns the channel implementation for opts.Protocol.
func New(opts Options) (Channel, error) {
	switch strings.ToLower(opts.Protocol) {
	case "", ProtocolV4:
		return NewClient(opts), nil
	case ProtocolV3:
		return NewLegacyClient(opts), nil
	default:
		return nil, fmt.Errorf("unknown realtime protocol %q", opts.Protocol)
	}
}

// EndpointURL builds the websocket transport URL for base.
func EndpointURL(base, path, eio string, query url.Values) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse realtime url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported realtime scheme %q", u.Scheme)
	}
	if path == "" {
		path = "/socket.io/"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/" + strings.Trim(path, "/") + "/"

	q := u.Query()
	for k, vs := range query {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	q.Set("EIO", eio)
	q.Set("transport", "websocket")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

type registry struct {
	mu        sync.RWMutex
	listeners map[string]Listener
}

func (r *registry) on(event string, l Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listeners == nil {
		r.listeners = make(map[string]Listener)
	}
	r.listeners[event] = l
}

func (r *registry) off(event string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.listeners, event)
}

func (r *registry) events() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.listeners))
	for ev := range r.listeners {
		out = append(out, ev)
	}
	return out
}

// dispatch reports whether a listener was registered for event.
func (r *registry) dispatch(event string, args []json.RawMessage) bool {
	r.mu.RLock()
	l := r.listeners[event]
	r.mu.RUnlock()
	if l == nil {
		return false
	}
	l(args)
	return true
}

func errorArgs(err error) []json.RawMessage {
	data, _ := json.Marshal(map[string]string{"message": err.Error()})
	return []json.RawMessage{data}
}

func reasonArgs(reason string) []json.RawMessage {
	data, _ := json.Marshal(reason)
	return []json.RawMessage{data}
}

func loggerOrNop(l *zerolog.Logger) *zerolog.Logger {
	if l != nil {
		return l
	}
	nop := zerolog.Nop()
	return &nop
}
