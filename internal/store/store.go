package store

import (
	"context"
	"time"

	"github.com/vovakirdan/chatprobe/internal/core"
)

// Session is one recorded run of the client.
type Session struct {
	ID        string
	UserID    int64
	StartedAt time.Time
	Entries   int
}

// TranscriptStore persists log entries per session.
type TranscriptStore interface {
	// CreateSession registers a run for userID.
	CreateSession(ctx context.Context, id string, userID int64, startedAt time.Time) error

	// AppendEntry records an entry under a session.
	AppendEntry(ctx context.Context, sessionID string, entry core.Entry) error

	// ListEntries returns a session's entries in arrival order.
	ListEntries(ctx context.Context, sessionID string) ([]core.Entry, error)

	// ListSessions returns the most recent sessions first.
	ListSessions(ctx context.Context, limit int) ([]Session, error)

	// LatestSession returns the most recently started session.
	LatestSession(ctx context.Context) (*Session, error)

	Close() error
}
