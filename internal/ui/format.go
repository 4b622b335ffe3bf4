// Package ui renders a chat session in a terminal.
package ui

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/vovakirdan/chatprobe/internal/core"
)

// Chat is the part of a session the front-ends drive.
type Chat interface {
	SetDraft(text string)
	Draft() string
	Submit(ctx context.Context) error
	View() []core.Bubble
	State() core.ConnState
	Updates() <-chan struct{}
}

const timeLayout = "15:04:05"

// StatusLine is the one-line connection summary.
func StatusLine(state core.ConnState, name string) string {
	return fmt.Sprintf("Status: %s | %s", state, name)
}

// FormatBubble renders one message. With width > 0 the user's own
// messages are right-aligned.
func FormatBubble(b core.Bubble, width int) string {
	line := fmt.Sprintf("[%s] %s: %s", b.Timestamp.Local().Format(timeLayout), b.Author, b.Text)
	if len(b.MediaURLs) > 0 {
		line += " [" + strings.Join(b.MediaURLs, ", ") + "]"
	}
	if !b.Mine || width <= 0 {
		return line
	}
	if pad := width - utf8.RuneCountInString(line); pad > 0 {
		return strings.Repeat(" ", pad) + line
	}
	return line
}
