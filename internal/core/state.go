package core

import (
	"fmt"
	"sync"
)

// ConnState is the realtime connection state.
type ConnState int

const (
	// Disconnected is the initial state and the state after any failure.
	Disconnected ConnState = iota
	// Connected means the namespace connect was acknowledged.
	Connected
)

func (s ConnState) String() string {
	if s == Connected {
		return "Connected"
	}
	return "Disconnected"
}

// Lifecycle is a channel lifecycle event that drives ConnState.
type Lifecycle int

const (
	// LifecycleConnect fires when the server acknowledges the connection.
	LifecycleConnect Lifecycle = iota
	// LifecycleDisconnect fires when either side closes the connection.
	LifecycleDisconnect
	// LifecycleError fires on a transport error or a server error event.
	LifecycleError
	// LifecycleConnectError fires when the server rejects the connection.
	LifecycleConnectError
)

func (l Lifecycle) String() string {
	switch l {
	case LifecycleConnect:
		return "connect"
	case LifecycleDisconnect:
		return "disconnect"
	case LifecycleError:
		return "error"
	case LifecycleConnectError:
		return "connect_error"
	default:
		return fmt.Sprintf("lifecycle(%d)", int(l))
	}
}

// Next returns the state reached from s on event l.
func (s ConnState) Next(l Lifecycle) (ConnState, error) {
	switch l {
	case LifecycleConnect:
		return Connected, nil
	case LifecycleDisconnect, LifecycleError, LifecycleConnectError:
		return Disconnected, nil
	default:
		return s, fmt.Errorf("%w: %s", ErrUnknownEvent, l)
	}
}

// StateMachine guards a ConnState for concurrent callers.
type StateMachine struct {
	mu    sync.RWMutex
	state ConnState
}

// Current returns the current state.
func (m *StateMachine) Current() ConnState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Apply feeds l into the machine. It reports whether the state changed.
func (m *StateMachine) Apply(l Lifecycle) (ConnState, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	next, err := m.state.Next(l)
	if err != nil {
		return m.state, false, err
	}
	changed := next != m.state
	m.state = next
	return next, changed, nil
}
