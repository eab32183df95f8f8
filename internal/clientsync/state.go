package clientsync

import (
	"fmt"
	"slices"
	"sync"
)

// State represents a client connection state.
type State string

const (
	Idle         State = "IDLE"
	Connecting   State = "CONNECTING"
	Streaming    State = "STREAMING"
	Reconnecting State = "RECONNECTING"
	Stopped      State = "STOPPED"
)

// validTransitions defines allowed state transitions.
var validTransitions = map[State][]State{
	Idle:         {Connecting, Stopped},
	Connecting:   {Streaming, Reconnecting, Stopped},
	Streaming:    {Reconnecting, Stopped},
	Reconnecting: {Connecting, Stopped},
	Stopped:      {},
}

// Machine tracks and enforces client connection state transitions.
type Machine struct {
	mu       sync.RWMutex
	current  State
	onChange func(from, to State)
}

// NewMachine creates a state machine starting in Idle. onChange, when
// non-nil, is invoked under the machine's lock for every transition.
func NewMachine(onChange func(from, to State)) *Machine {
	return &Machine{current: Idle, onChange: onChange}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition attempts to move to a new state. Returns error if transition is invalid.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !slices.Contains(validTransitions[m.current], to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	if m.onChange != nil {
		m.onChange(from, to)
	}
	return nil
}
