package ui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/jroimartin/gocui"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/chatprobe/internal/core"
)

const (
	viewMessages = "messages"
	viewStatus   = "status"
	viewInput    = "input"
)

// TUI is the full-screen front-end: message pane, status line and an
// input box. Enter submits the draft, Ctrl-C quits.
type TUI struct {
	chat Chat
	name string
	log  *zerolog.Logger

	mu      sync.Mutex
	sending bool
	notice  string
}

// NewTUI builds a terminal UI for chat.
func NewTUI(chat Chat, name string, logger *zerolog.Logger) *TUI {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &TUI{chat: chat, name: name, log: logger}
}

// Run takes over the terminal until Ctrl-C or ctx cancellation.
func (t *TUI) Run(ctx context.Context) error {
	g, err := gocui.NewGui(gocui.OutputNormal)
	if err != nil {
		return fmt.Errorf("init terminal: %w", err)
	}
	defer g.Close()

	g.Cursor = true
	g.SetManagerFunc(t.layout)

	if err := g.SetKeybinding("", gocui.KeyCtrlC, gocui.ModNone, quit); err != nil {
		return err
	}
	if err := g.SetKeybinding(viewInput, gocui.KeyEnter, gocui.ModNone, t.submit(ctx)); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		for {
			select {
			case <-ctx.Done():
				g.Update(func(*gocui.Gui) error { return gocui.ErrQuit })
				return
			case <-t.chat.Updates():
				g.Update(t.render)
			}
		}
	}()

	if err := g.MainLoop(); err != nil && !errors.Is(err, gocui.ErrQuit) {
		return err
	}
	return nil
}

func (t *TUI) layout(g *gocui.Gui) error {
	maxX, maxY := g.Size()

	if v, err := g.SetView(viewMessages, 0, 0, maxX-1, maxY-7); err != nil {
		if err != gocui.ErrUnknownView {
			return err
		}
		v.Title = "Chat"
		v.Wrap = true
		v.Autoscroll = true
	}

	if v, err := g.SetView(viewStatus, 0, maxY-6, maxX-1, maxY-4); err != nil {
		if err != gocui.ErrUnknownView {
			return err
		}
		v.Frame = true
	}

	if v, err := g.SetView(viewInput, 0, maxY-3, maxX-1, maxY-1); err != nil {
		if err != gocui.ErrUnknownView {
			return err
		}
		v.Title = "Message"
		v.Editable = true
		v.Editor = draftEditor{chat: t.chat}
		if _, err := g.SetCurrentView(viewInput); err != nil {
			return err
		}
	}

	return t.render(g)
}

// render redraws the message and status panes from the session.
func (t *TUI) render(g *gocui.Gui) error {
	messages, err := g.View(viewMessages)
	if err != nil {
		return nil
	}
	width, _ := messages.Size()
	messages.Clear()
	for _, b := range t.chat.View() {
		fmt.Fprintln(messages, FormatBubble(b, width))
	}

	status, err := g.View(viewStatus)
	if err != nil {
		return nil
	}
	status.Clear()

	t.mu.Lock()
	notice, sending := t.notice, t.sending
	t.mu.Unlock()

	line := StatusLine(t.chat.State(), t.name)
	if t.chat.State() != core.Connected {
		line += " | sending disabled"
	}
	if sending {
		line += " | sending..."
	}
	if notice != "" {
		line += " | " + notice
	}
	fmt.Fprint(status, line)
	return nil
}

// submit sends the draft off the UI goroutine; the input is cleared once
// the session reports success.
func (t *TUI) submit(ctx context.Context) func(*gocui.Gui, *gocui.View) error {
	return func(g *gocui.Gui, v *gocui.View) error {
		t.mu.Lock()
		if t.sending {
			t.mu.Unlock()
			return nil
		}
		t.sending = true
		t.notice = ""
		t.mu.Unlock()

		t.chat.SetDraft(strings.TrimRight(v.Buffer(), "\n"))
		go func() {
			err := t.chat.Submit(ctx)

			t.mu.Lock()
			t.sending = false
			if err != nil && !errors.Is(err, core.ErrEmptyMessage) {
				t.notice = err.Error()
			}
			t.mu.Unlock()

			g.Update(func(g *gocui.Gui) error {
				if err == nil {
					if input, verr := g.View(viewInput); verr == nil {
						input.Clear()
						_ = input.SetCursor(0, 0)
						_ = input.SetOrigin(0, 0)
					}
				}
				return t.render(g)
			})
		}()
		return nil
	}
}

// draftEditor mirrors every edit into the session draft.
type draftEditor struct {
	chat Chat
}

func (e draftEditor) Edit(v *gocui.View, key gocui.Key, ch rune, mod gocui.Modifier) {
	gocui.DefaultEditor.Edit(v, key, ch, mod)
	e.chat.SetDraft(strings.TrimRight(v.Buffer(), "\n"))
}

func quit(*gocui.Gui, *gocui.View) error {
	return gocui.ErrQuit
}
