package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/vovakirdan/chatprobe/internal/core"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestAppendAndListEntries(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	started := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	if err := s.CreateSession(ctx, "run-1", 199, started); err != nil {
		t.Fatalf("create session: %v", err)
	}

	entries := []core.Entry{
		{
			Seq:        1,
			Origin:     core.OriginInbound,
			ReceivedAt: started.Add(time.Second),
			Message:    core.Message{Text: "hi", SenderID: 14, ReceiverID: 199, Timestamp: started.Add(time.Second)},
		},
		{
			Seq:        2,
			Origin:     core.OriginOutbound,
			ClientID:   "c1",
			ReceivedAt: started.Add(2 * time.Second),
			Message:    core.Message{Text: "hello", SenderID: 199, ReceiverID: 197, Timestamp: started.Add(2 * time.Second), MediaURLs: []string{"a.png"}},
		},
	}
	for _, e := range entries {
		if err := s.AppendEntry(ctx, "run-1", e); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	got, err := s.ListEntries(ctx, "run-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(got))
	}
	if got[0].Origin != core.OriginInbound || got[0].Text != "hi" || got[0].SenderID != 14 {
		t.Fatalf("unexpected first entry %+v", got[0])
	}
	if got[1].Origin != core.OriginOutbound || got[1].ClientID != "c1" || len(got[1].MediaURLs) != 1 {
		t.Fatalf("unexpected second entry %+v", got[1])
	}
	if !got[1].Timestamp.Equal(entries[1].Timestamp) {
		t.Fatalf("timestamp changed: %s vs %s", got[1].Timestamp, entries[1].Timestamp)
	}

	if err := s.AppendEntry(ctx, "run-1", entries[0]); err == nil {
		t.Fatalf("duplicate seq must be rejected")
	}
}

func TestSessionsNewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.LatestSession(ctx); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"old", "new", "mid"} {
		offsets := []time.Duration{0, 2 * time.Hour, time.Hour}
		if err := s.CreateSession(ctx, id, int64(i), base.Add(offsets[i])); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}
	if err := s.AppendEntry(ctx, "new", core.Entry{Seq: 1, Message: core.Message{Text: "x", Timestamp: base}, ReceivedAt: base}); err != nil {
		t.Fatalf("append: %v", err)
	}

	sessions, err := s.ListSessions(ctx, 0)
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(sessions) != 3 || sessions[0].ID != "new" || sessions[1].ID != "mid" || sessions[2].ID != "old" {
		t.Fatalf("unexpected order %+v", sessions)
	}
	if sessions[0].Entries != 1 || sessions[1].Entries != 0 {
		t.Fatalf("unexpected entry counts %+v", sessions)
	}

	latest, err := s.LatestSession(ctx)
	if err != nil || latest.ID != "new" {
		t.Fatalf("expected latest=new, got %+v, %v", latest, err)
	}
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "transcript.db")
	ctx := context.Background()

	s, err := New(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.CreateSession(ctx, "run", 1, time.Now()); err != nil {
		t.Fatalf("create: %v", err)
	}
	_ = s.Close()

	s, err = New(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	if latest, err := s.LatestSession(ctx); err != nil || latest.ID != "run" {
		t.Fatalf("expected session to survive, got %+v, %v", latest, err)
	}
}
