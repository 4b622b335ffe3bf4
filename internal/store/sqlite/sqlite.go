package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/mattn/go-sqlite3"

	"github.com/vovakirdan/chatprobe/internal/core"
	"github.com/vovakirdan/chatprobe/internal/store"
)

// ErrSessionNotFound is returned when no session matches.
var ErrSessionNotFound = errors.New("session not found")

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id         TEXT PRIMARY KEY,
	user_id    INTEGER NOT NULL,
	started_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS entries (
	session_id  TEXT NOT NULL,
	seq         INTEGER NOT NULL,
	origin      TEXT NOT NULL,
	client_id   TEXT NOT NULL DEFAULT '',
	message     TEXT NOT NULL,
	sender_id   INTEGER NOT NULL,
	receiver_id INTEGER NOT NULL DEFAULT 0,
	media_url   TEXT NOT NULL DEFAULT '[]',
	sent_at     DATETIME NOT NULL,
	received_at DATETIME NOT NULL,
	PRIMARY KEY (session_id, seq),
	FOREIGN KEY (session_id) REFERENCES sessions(id)
);

CREATE INDEX IF NOT EXISTS idx_sessions_started ON sessions(started_at DESC);
`

// SQLiteStore implements store.TranscriptStore for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// New opens (or creates) the database at dbPath and applies the schema.
func New(dbPath string) (*SQLiteStore, error) {
	return NewWithSetup(dbPath, migrate)
}

// NewWithSetup creates a new SQLite store and runs a setup function.
func NewWithSetup(dbPath string, setup func(*sql.DB) error) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single connection; it also keeps
	// :memory: databases alive across queries.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if setup != nil {
		if err := setup(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("setup: %w", err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateSession registers a run.
func (s *SQLiteStore) CreateSession(ctx context.Context, id string, userID int64, startedAt time.Time) error {
	query, args, err := sq.Insert("sessions").
		Columns("id", "user_id", "started_at").
		Values(id, userID, startedAt.UTC()).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert session: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// AppendEntry records an entry under a session.
func (s *SQLiteStore) AppendEntry(ctx context.Context, sessionID string, e core.Entry) error {
	media := e.MediaURLs
	if media == nil {
		media = []string{}
	}
	mediaJSON, err := json.Marshal(media)
	if err != nil {
		return fmt.Errorf("marshal media: %w", err)
	}

	query, args, err := sq.Insert("entries").
		Columns("session_id", "seq", "origin", "client_id", "message", "sender_id", "receiver_id", "media_url", "sent_at", "received_at").
		Values(sessionID, e.Seq, e.Origin.String(), e.ClientID, e.Text, e.SenderID, e.ReceiverID, string(mediaJSON), e.Timestamp.UTC(), e.ReceivedAt.UTC()).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert entry: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert entry: %w", err)
	}
	return nil
}

// ListEntries returns a session's entries in arrival order.
func (s *SQLiteStore) ListEntries(ctx context.Context, sessionID string) ([]core.Entry, error) {
	query, args, err := sq.Select("seq", "origin", "client_id", "message", "sender_id", "receiver_id", "media_url", "sent_at", "received_at").
		From("entries").
		Where(sq.Eq{"session_id": sessionID}).
		OrderBy("seq ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list entries: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	var entries []core.Entry
	for rows.Next() {
		var (
			e         core.Entry
			origin    string
			mediaJSON string
		)
		if err := rows.Scan(&e.Seq, &origin, &e.ClientID, &e.Text, &e.SenderID, &e.ReceiverID, &mediaJSON, &e.Timestamp, &e.ReceivedAt); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		e.Origin = core.ParseOrigin(origin)
		if err := json.Unmarshal([]byte(mediaJSON), &e.MediaURLs); err != nil {
			return nil, fmt.Errorf("decode media: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	return entries, nil
}

func (s *SQLiteStore) sessionsQuery() sq.SelectBuilder {
	return sq.Select("s.id", "s.user_id", "s.started_at", "COUNT(e.seq)").
		From("sessions s").
		LeftJoin("entries e ON e.session_id = s.id").
		GroupBy("s.id").
		OrderBy("s.started_at DESC")
}

// ListSessions returns the most recent sessions first.
func (s *SQLiteStore) ListSessions(ctx context.Context, limit int) ([]store.Session, error) {
	builder := s.sessionsQuery()
	if limit > 0 {
		builder = builder.Limit(uint64(limit))
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list sessions: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []store.Session
	for rows.Next() {
		var sess store.Session
		if err := rows.Scan(&sess.ID, &sess.UserID, &sess.StartedAt, &sess.Entries); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

// LatestSession returns the most recently started session.
func (s *SQLiteStore) LatestSession(ctx context.Context) (*store.Session, error) {
	sessions, err := s.ListSessions(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(sessions) == 0 {
		return nil, ErrSessionNotFound
	}
	return &sessions[0], nil
}
