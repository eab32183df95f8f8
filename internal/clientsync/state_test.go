package clientsync

import "testing"

func TestMachineTransitions(t *testing.T) {
	var changes []State
	m := NewMachine(func(_, to State) { changes = append(changes, to) })

	if m.Current() != Idle {
		t.Fatalf("initial state = %s", m.Current())
	}

	for _, to := range []State{Connecting, Streaming, Reconnecting, Connecting, Stopped} {
		if err := m.Transition(to); err != nil {
			t.Fatalf("transition to %s: %v", to, err)
		}
	}
	if m.Current() != Stopped {
		t.Errorf("final state = %s", m.Current())
	}
	if len(changes) != 5 {
		t.Errorf("got %d change callbacks, want 5", len(changes))
	}
}

func TestMachineRejectsInvalidTransition(t *testing.T) {
	m := NewMachine(nil)
	if err := m.Transition(Streaming); err == nil {
		t.Error("Idle -> Streaming allowed")
	}
	_ = m.Transition(Connecting)
	_ = m.Transition(Stopped)
	if err := m.Transition(Connecting); err == nil {
		t.Error("Stopped -> Connecting allowed")
	}
}
