package core

import (
	"cmp"
	"slices"
	"strconv"
	"time"
)

// ViewOptions controls how a log is projected for display.
type ViewOptions struct {
	SelfID       int64
	SuppressEcho bool
	EchoWindow   time.Duration
}

// Bubble is one rendered line of the chat window.
type Bubble struct {
	Entry
	Mine   bool
	Author string
}

// Project merges inbound and outbound entries into display order:
// ascending timestamp, ties broken by arrival.
func Project(entries []Entry, opts ViewOptions) []Bubble {
	hidden := map[uint64]struct{}{}
	if opts.SuppressEcho {
		hidden = echoes(entries, opts.SelfID, opts.EchoWindow)
	}

	bubbles := make([]Bubble, 0, len(entries))
	for _, e := range entries {
		if _, skip := hidden[e.Seq]; skip {
			continue
		}
		mine := e.SenderID == opts.SelfID
		author := "User " + strconv.FormatInt(e.SenderID, 10)
		if mine {
			author = "You"
		}
		bubbles = append(bubbles, Bubble{Entry: e, Mine: mine, Author: author})
	}

	slices.SortFunc(bubbles, func(a, b Bubble) int {
		if c := a.Timestamp.Compare(b.Timestamp); c != 0 {
			return c
		}
		return cmp.Compare(a.Seq, b.Seq)
	})
	return bubbles
}

// echoes finds inbound entries that repeat a message this user already
// sent to the same receiver. An inbound copy without a receiver_id matches
// any receiver. Each outbound entry can absorb at most one inbound copy.
func echoes(entries []Entry, selfID int64, window time.Duration) map[uint64]struct{} {
	hidden := make(map[uint64]struct{})
	used := make(map[uint64]struct{})

	for _, in := range entries {
		if in.Origin != OriginInbound || in.SenderID != selfID {
			continue
		}
		for _, out := range entries {
			if out.Origin != OriginOutbound || out.Text != in.Text {
				continue
			}
			if in.ReceiverID != 0 && in.ReceiverID != out.ReceiverID {
				continue
			}
			if _, taken := used[out.Seq]; taken {
				continue
			}
			if absDuration(in.Timestamp.Sub(out.Timestamp)) > window {
				continue
			}
			used[out.Seq] = struct{}{}
			hidden[in.Seq] = struct{}{}
			break
		}
	}
	return hidden
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
