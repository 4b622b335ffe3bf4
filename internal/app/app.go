package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/chatprobe/internal/api"
	"github.com/vovakirdan/chatprobe/internal/auth"
	"github.com/vovakirdan/chatprobe/internal/chat"
	"github.com/vovakirdan/chatprobe/internal/config"
	"github.com/vovakirdan/chatprobe/internal/core"
	"github.com/vovakirdan/chatprobe/internal/realtime"
	"github.com/vovakirdan/chatprobe/internal/store"
	"github.com/vovakirdan/chatprobe/internal/store/sqlite"
	"github.com/vovakirdan/chatprobe/internal/utils"
)

const recordTimeout = 2 * time.Second

// App wires the session to its channel, sender and optional transcript.
type App struct {
	cfg     config.Config
	session *chat.Session
	store   store.TranscriptStore
	runID   string
	log     *zerolog.Logger
}

// New constructs the client with provided configuration. Nothing is
// dialled until Start.
func New(cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	checkToken(cfg, logger, time.Now())

	a := &App{cfg: *cfg, runID: utils.NewID(), log: logger}

	var sinks []core.Sink
	if cfg.Store.Path != "" {
		st, err := sqlite.New(cfg.Store.Path)
		if err != nil {
			return nil, fmt.Errorf("init store: %w", err)
		}
		if err := st.CreateSession(context.Background(), a.runID, cfg.User.ID, time.Now()); err != nil {
			st.Close()
			return nil, fmt.Errorf("create transcript session: %w", err)
		}
		a.store = st
		sinks = append(sinks, transcriptSink{store: st, sessionID: a.runID, log: logger})
		logger.Info().Str("store_path", cfg.Store.Path).Str("session_id", a.runID).Msg("transcript enabled")
	}

	channel, err := realtime.New(realtime.Options{
		URL:       cfg.Realtime.URL,
		Path:      cfg.Realtime.Path,
		Namespace: cfg.Realtime.Namespace,
		Token:     cfg.User.Token,
		Protocol:  cfg.Realtime.Protocol,
		Logger:    logger,
	})
	if err != nil {
		a.cleanup()
		return nil, err
	}

	sender := api.NewClient(api.Config{
		BaseURL: cfg.Backend.BaseURL,
		Path:    cfg.Backend.SendPath,
		Token:   cfg.User.Token,
		Timeout: cfg.Backend.RequestTimeout,
	}, nil, logger)
	logger.Debug().Str("endpoint", sender.Endpoint()).Dur("timeout", cfg.Backend.RequestTimeout).Msg("send endpoint configured")

	a.session = chat.New(chat.Options{
		UserID:            cfg.User.ID,
		ReceiverID:        cfg.Chat.ReceiverID,
		RequireConnection: cfg.Chat.RequireConnection,
		SuppressEcho:      cfg.Chat.SuppressEcho,
		EchoWindow:        cfg.Chat.EchoWindow,
	}, channel, sender, core.NewLog(sinks...), logger)

	return a, nil
}

// Session returns the chat session.
func (a *App) Session() *chat.Session {
	return a.session
}

// RunID identifies this run in the transcript store.
func (a *App) RunID() string {
	return a.runID
}

// Start connects the realtime channel. A failed connection is logged and
// left to show up as the Disconnected state.
func (a *App) Start(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.Realtime.ConnectTimeout)
	defer cancel()

	a.log.Info().
		Str("realtime_url", a.cfg.Realtime.URL).
		Str("protocol", a.cfg.Realtime.Protocol).
		Int64("user_id", a.cfg.User.ID).
		Msg("connecting")
	if err := a.session.Start(ctx); err != nil {
		a.log.Error().Err(err).Msg("connection error")
	}
}

// WaitConnected blocks until the session is connected or ctx ends. It
// consumes update signals, so use it only before a front-end starts.
func (a *App) WaitConnected(ctx context.Context) error {
	for a.session.State() != core.Connected {
		select {
		case <-ctx.Done():
			return fmt.Errorf("wait for connection: %w", ctx.Err())
		case <-a.session.Updates():
		}
	}
	return nil
}

// Close shuts the session down and closes the transcript.
func (a *App) Close() error {
	var err error
	if a.session != nil {
		err = a.session.Close()
	}
	a.cleanup()
	return err
}

// cleanup closes the store.
func (a *App) cleanup() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close store")
		} else {
			a.log.Debug().Msg("store closed")
		}
	}
}

// checkToken warns about a credential that cannot work for this user.
func checkToken(cfg *config.Config, logger *zerolog.Logger, now time.Time) {
	info, err := auth.Inspect(cfg.User.Token)
	if err != nil {
		logger.Debug().Err(err).Msg("token is not a readable jwt, sending it as is")
		return
	}
	if info.Expired(now) {
		logger.Warn().Time("expires_at", info.ExpiresAt).Msg("token has expired")
	}
	if info.UserID != cfg.User.ID {
		logger.Warn().Int64("token_sub", info.UserID).Int64("user_id", cfg.User.ID).Msg("token subject does not match user id")
	}
}

// transcriptSink records appended entries to the store.
type transcriptSink struct {
	store     store.TranscriptStore
	sessionID string
	log       *zerolog.Logger
}

func (s transcriptSink) Record(e core.Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()
	if err := s.store.AppendEntry(ctx, s.sessionID, e); err != nil {
		s.log.Warn().Err(err).Uint64("seq", e.Seq).Msg("failed to record entry")
	}
}

// ErrNoTranscript is returned by History when the store holds no session.
var ErrNoTranscript = errors.New("no recorded session")

// History loads a stored session (the latest when sessionID is empty) and
// returns its display projection.
func History(ctx context.Context, cfg *config.Config, sessionID string) (*store.Session, []core.Bubble, error) {
	if cfg.Store.Path == "" {
		return nil, nil, errors.New("store.path is not set")
	}
	st, err := sqlite.New(cfg.Store.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	var sess *store.Session
	if sessionID == "" {
		sess, err = st.LatestSession(ctx)
		if errors.Is(err, sqlite.ErrSessionNotFound) {
			return nil, nil, ErrNoTranscript
		}
		if err != nil {
			return nil, nil, err
		}
	} else {
		sess = &store.Session{ID: sessionID, UserID: cfg.User.ID}
	}

	entries, err := st.ListEntries(ctx, sess.ID)
	if err != nil {
		return nil, nil, err
	}
	sess.Entries = len(entries)

	bubbles := core.Project(entries, core.ViewOptions{
		SelfID:       sess.UserID,
		SuppressEcho: cfg.Chat.SuppressEcho,
		EchoWindow:   cfg.Chat.EchoWindow,
	})
	return sess, bubbles, nil
}

// Sessions lists recorded runs, newest first.
func Sessions(ctx context.Context, cfg *config.Config, limit int) ([]store.Session, error) {
	if cfg.Store.Path == "" {
		return nil, errors.New("store.path is not set")
	}
	st, err := sqlite.New(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	defer st.Close()
	return st.ListSessions(ctx, limit)
}
