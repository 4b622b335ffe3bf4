package core

import "sync"

// Sink receives every entry appended to a Log.
type Sink interface {
	Record(Entry)
}

// Log is an ordered append-only list of entries keyed by arrival.
type Log struct {
	mu      sync.RWMutex
	entries []Entry
	seq     uint64
	sinks   []Sink
}

// NewLog builds an empty log that forwards appended entries to sinks.
func NewLog(sinks ...Sink) *Log {
	return &Log{sinks: sinks}
}

// Append assigns the next sequence number to e and stores it.
func (l *Log) Append(e Entry) Entry {
	l.mu.Lock()
	l.seq++
	e.Seq = l.seq
	l.entries = append(l.entries, e)
	sinks := l.sinks
	l.mu.Unlock()

	for _, s := range sinks {
		s.Record(e)
	}
	return e
}

// Entries returns a copy of the log in arrival order.
func (l *Log) Entries() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}
