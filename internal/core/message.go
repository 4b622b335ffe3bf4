package core

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/vovakirdan/chatprobe/internal/proto"
)

// Origin tells where an entry came from.
type Origin int

const (
	// OriginInbound is a message pushed by the realtime channel.
	OriginInbound Origin = iota
	// OriginOutbound is a local echo of a message accepted by the send endpoint.
	OriginOutbound
)

func (o Origin) String() string {
	switch o {
	case OriginInbound:
		return "inbound"
	case OriginOutbound:
		return "outbound"
	default:
		return "unknown"
	}
}

// ParseOrigin is the inverse of Origin.String.
func ParseOrigin(s string) Origin {
	if s == "outbound" {
		return OriginOutbound
	}
	return OriginInbound
}

// Message is the domain model for a chat message.
type Message struct {
	Text       string
	SenderID   int64
	ReceiverID int64
	Timestamp  time.Time
	MediaURLs  []string
}

// Entry is a message as recorded in the log.
type Entry struct {
	Seq        uint64
	Origin     Origin
	ClientID   string
	ReceivedAt time.Time
	Message
}

// FromWire converts a pushed message. A missing or unparseable timestamp
// becomes receivedAt; the second return reports whether that happened.
func FromWire(m proto.Message, receivedAt time.Time) (Message, bool) {
	msg := Message{
		Text:       m.Message,
		SenderID:   m.SenderID,
		ReceiverID: m.ReceiverID,
		MediaURLs:  MediaURLs(m.MediaURL),
	}
	ts, ok := ParseTimestamp(m.Timestamp)
	if !ok {
		msg.Timestamp = receivedAt
		return msg, true
	}
	msg.Timestamp = ts
	return msg, false
}

// MediaURLs reads a media_url value. Items may be strings or objects with
// a url field; anything else is kept as its JSON text. A value that is
// not a list counts as a single item.
func MediaURLs(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		items = []json.RawMessage{raw}
	}

	var urls []string
	for _, item := range items {
		if u := mediaURL(item); u != "" {
			urls = append(urls, u)
		}
	}
	return urls
}

func mediaURL(item json.RawMessage) string {
	var s string
	if err := json.Unmarshal(item, &s); err == nil {
		return s
	}
	var obj struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(item, &obj); err == nil && obj.URL != "" {
		return obj.URL
	}
	text := strings.TrimSpace(string(item))
	if text == "null" {
		return ""
	}
	return text
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05",
}

// ParseTimestamp accepts ISO-8601 strings as produced by common backends.
func ParseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

// FormatTimestamp renders ts the way browsers do with toISOString.
func FormatTimestamp(ts time.Time) string {
	return ts.UTC().Format("2006-01-02T15:04:05.000Z07:00")
}
