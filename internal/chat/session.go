// Package chat holds the client-side chat session: one user, one realtime
// channel, one send endpoint and the merged message log.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/chatprobe/internal/core"
	"github.com/vovakirdan/chatprobe/internal/proto"
	"github.com/vovakirdan/chatprobe/internal/realtime"
	"github.com/vovakirdan/chatprobe/internal/utils"
)

// ErrNotConnected is returned by Send when a connection is required and
// the channel is down.
var ErrNotConnected = errors.New("not connected")

const joinTimeout = 5 * time.Second

// Sender submits a message to the backend.
type Sender interface {
	Send(ctx context.Context, req proto.SendRequest) error
}

// Options configures a Session.
type Options struct {
	UserID            int64
	ReceiverID        int64
	RequireConnection bool
	SuppressEcho      bool
	EchoWindow        time.Duration
	// Now defaults to time.Now.
	Now func() time.Time
}

// Session wires a realtime channel and a sender to a message log.
type Session struct {
	opts    Options
	log     *zerolog.Logger
	channel realtime.Channel
	sender  Sender
	entries *core.Log
	state   core.StateMachine

	mu      sync.Mutex
	draft   string
	updates chan struct{}
}

// New builds a session. entries may be shared with other observers.
func New(opts Options, channel realtime.Channel, sender Sender, entries *core.Log, logger *zerolog.Logger) *Session {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if entries == nil {
		entries = core.NewLog()
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Session{
		opts:    opts,
		log:     logger,
		channel: channel,
		sender:  sender,
		entries: entries,
		updates: make(chan struct{}, 1),
	}
}

// Start registers the channel listeners and connects. A connection failure
// is returned but leaves the session usable in the Disconnected state.
func (s *Session) Start(ctx context.Context) error {
	s.channel.On(proto.EventConnect, s.onConnect)
	s.channel.On(proto.EventJoined, s.onJoined)
	s.channel.On(proto.EventDisconnect, s.onDisconnect)
	s.channel.On(proto.EventError, s.onError(core.LifecycleError))
	s.channel.On(proto.EventConnectError, s.onError(core.LifecycleConnectError))
	s.channel.On(proto.EventReceiveMessage, s.onMessage)

	if err := s.channel.Connect(ctx); err != nil {
		return fmt.Errorf("connect realtime: %w", err)
	}
	return nil
}

// Close deregisters the message listener and closes the channel.
func (s *Session) Close() error {
	s.channel.Off(proto.EventReceiveMessage)
	return s.channel.Close()
}

// State returns the connection state.
func (s *Session) State() core.ConnState {
	return s.state.Current()
}

// Updates signals that the log or the connection state changed.
// Signals are coalesced; read View and State after each one.
func (s *Session) Updates() <-chan struct{} {
	return s.updates
}

// Entries returns the raw log in arrival order.
func (s *Session) Entries() []core.Entry {
	return s.entries.Entries()
}

// View returns the display projection of the log.
func (s *Session) View() []core.Bubble {
	return core.Project(s.entries.Entries(), core.ViewOptions{
		SelfID:       s.opts.UserID,
		SuppressEcho: s.opts.SuppressEcho,
		EchoWindow:   s.opts.EchoWindow,
	})
}

// SetDraft replaces the pending input text.
func (s *Session) SetDraft(text string) {
	s.mu.Lock()
	s.draft = text
	s.mu.Unlock()
}

// Draft returns the pending input text.
func (s *Session) Draft() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draft
}

// Submit sends the draft and clears it on success.
func (s *Session) Submit(ctx context.Context) error {
	text := s.Draft()
	if err := s.Send(ctx, text); err != nil {
		return err
	}

	s.mu.Lock()
	if s.draft == text {
		s.draft = ""
	}
	s.mu.Unlock()
	return nil
}

// Send posts text and, once the backend answers 200, appends a local echo.
// Failures are logged and leave the log untouched.
func (s *Session) Send(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return core.ErrEmptyMessage
	}
	if s.opts.RequireConnection && s.State() != core.Connected {
		s.log.Warn().Msg("not connected, message not sent")
		return ErrNotConnected
	}

	req := proto.SendRequest{
		Message:     text,
		ReceiverID:  s.opts.ReceiverID,
		MediaURL:    []json.RawMessage{},
		IsGroupChat: false,
	}
	if err := s.sender.Send(ctx, req); err != nil {
		s.log.Error().Err(err).Int64("receiver_id", s.opts.ReceiverID).Msg("error sending message")
		return fmt.Errorf("send message: %w", err)
	}

	now := s.opts.Now()
	entry := s.entries.Append(core.Entry{
		Origin:     core.OriginOutbound,
		ClientID:   utils.NewID(),
		ReceivedAt: now,
		Message: core.Message{
			Text:       text,
			SenderID:   s.opts.UserID,
			ReceiverID: s.opts.ReceiverID,
			Timestamp:  now,
			MediaURLs:  []string{},
		},
	})
	s.log.Debug().Uint64("seq", entry.Seq).Str("client_id", entry.ClientID).Msg("message sent")
	s.notify()
	return nil
}

func (s *Session) onConnect([]json.RawMessage) {
	s.transition(core.LifecycleConnect)
	s.log.Info().Str("socket_id", s.channel.ID()).Msg("connected to realtime channel")

	ctx, cancel := context.WithTimeout(context.Background(), joinTimeout)
	defer cancel()
	if err := s.channel.Emit(ctx, proto.EventJoin, s.opts.UserID); err != nil {
		s.log.Error().Err(err).Int64("user_id", s.opts.UserID).Msg("failed to join user room")
	}
}

func (s *Session) onJoined(args []json.RawMessage) {
	ev := s.log.Info()
	if len(args) > 0 {
		ev = ev.RawJSON("ack", args[0])
	}
	ev.Msg("room join confirmation")
}

func (s *Session) onDisconnect(args []json.RawMessage) {
	s.transition(core.LifecycleDisconnect)
	s.log.Info().Str("reason", firstString(args)).Msg("disconnected from realtime channel")
}

func (s *Session) onError(l core.Lifecycle) realtime.Listener {
	return func(args []json.RawMessage) {
		s.transition(l)
		ev := s.log.Error().Str("event", l.String())
		if len(args) > 0 {
			ev = ev.RawJSON("error", args[0])
		}
		ev.Msg("realtime channel error")
	}
}

func (s *Session) onMessage(args []json.RawMessage) {
	receivedAt := s.opts.Now()
	if len(args) == 0 {
		s.log.Warn().Msg("receive-message without payload")
		return
	}

	var wire proto.Message
	if err := json.Unmarshal(args[0], &wire); err != nil {
		s.log.Warn().Err(err).RawJSON("payload", args[0]).Msg("malformed message")
		return
	}

	msg, defaulted := core.FromWire(wire, receivedAt)
	if defaulted {
		s.log.Debug().Str("timestamp", wire.Timestamp).Msg("message timestamp defaulted to receipt time")
	}
	entry := s.entries.Append(core.Entry{
		Origin:     core.OriginInbound,
		ReceivedAt: receivedAt,
		Message:    msg,
	})
	s.log.Debug().Uint64("seq", entry.Seq).Int64("sender_id", msg.SenderID).Msg("received message")
	s.notify()
}

func (s *Session) transition(l core.Lifecycle) {
	state, changed, err := s.state.Apply(l)
	if err != nil {
		s.log.Warn().Err(err).Msg("ignored lifecycle event")
		return
	}
	if changed {
		s.log.Debug().Str("state", state.String()).Msg("connection state changed")
		s.notify()
	}
}

func (s *Session) notify() {
	select {
	case s.updates <- struct{}{}:
	default:
	}
}

func firstString(args []json.RawMessage) string {
	if len(args) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(args[0], &s); err != nil {
		return string(args[0])
	}
	return s
}
