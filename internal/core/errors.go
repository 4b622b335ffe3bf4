package core

import "errors"

var (
	// ErrEmptyMessage is returned for empty or whitespace-only input.
	ErrEmptyMessage = errors.New("empty message")
	// ErrUnknownEvent is returned when a lifecycle event has no transition.
	ErrUnknownEvent = errors.New("unknown lifecycle event")
)
