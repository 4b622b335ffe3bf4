package ui

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/chatprobe/internal/core"
)

// Line runs a plain stdin/stdout front-end. Each input line is submitted;
// messages are printed as they arrive. A nil in gives a read-only listener.
type Line struct {
	chat Chat
	name string
	out  io.Writer
	log  *zerolog.Logger

	printed map[uint64]struct{}
	state   core.ConnState
	shown   bool
}

// NewLine builds a line front-end writing to out.
func NewLine(chat Chat, name string, out io.Writer, logger *zerolog.Logger) *Line {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Line{
		chat:    chat,
		name:    name,
		out:     out,
		log:     logger,
		printed: make(map[uint64]struct{}),
	}
}

// Run blocks until ctx is cancelled or in reaches EOF.
func (l *Line) Run(ctx context.Context, in io.Reader) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var lines <-chan string
	if in != nil {
		fmt.Fprintf(l.out, "Chatting as %s. Type messages and press Enter to send. Ctrl+C to exit.\n", l.name)
		lines = readLines(ctx, in)
	}
	l.refresh()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-l.chat.Updates():
			l.refresh()
		case text, ok := <-lines:
			if !ok {
				return nil
			}
			l.submit(ctx, text)
		}
	}
}

func (l *Line) submit(ctx context.Context, text string) {
	l.chat.SetDraft(text)
	err := l.chat.Submit(ctx)
	switch {
	case err == nil:
		l.refresh()
	case errors.Is(err, core.ErrEmptyMessage):
	default:
		fmt.Fprintf(l.out, "! send failed: %v\n", err)
	}
}

// refresh prints the state if it changed and any bubble not yet printed.
func (l *Line) refresh() {
	if state := l.chat.State(); !l.shown || state != l.state {
		l.state = state
		l.shown = true
		fmt.Fprintln(l.out, StatusLine(state, l.name))
	}
	for _, b := range l.chat.View() {
		if _, done := l.printed[b.Seq]; done {
			continue
		}
		l.printed[b.Seq] = struct{}{}
		fmt.Fprintln(l.out, FormatBubble(b, 0))
	}
}

func readLines(ctx context.Context, in io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	return lines
}
