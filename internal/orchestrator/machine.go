package orchestrator

import (
	"sync"

	"github.com/helixir/session-workflow-engine/internal/domain"
)

// State is a state of the expansion state machine.
type State string

const (
	StateIdle     State = "idle"
	StateExecute  State = "execute"
	StateEvaluate State = "evaluate"
	StateStopped  State = "stopped"
	StateDone     State = "done"
)

// IsTerminal reports whether no further signals are accepted.
func (s State) IsTerminal() bool {
	return s == StateStopped || s == StateDone
}

// Signal drives a transition.
type Signal string

const (
	SignalStart     Signal = "START"
	SignalExecuted  Signal = "EXECUTED"
	SignalEvaluated Signal = "EVALUATED"
	SignalStop      Signal = "STOP"
)

// Machine is the per-run state machine:
//
//	idle --START--> execute
//	execute --EXECUTED--> evaluate
//	evaluate --EVALUATED(continue)--> execute
//	evaluate --EVALUATED(finish)--> done
//	any non-terminal --STOP--> stopped
//
// It is safe for concurrent use, so a stop racing with the end of a round is
// decided by whichever transition lands first.
type Machine struct {
	mu    sync.Mutex
	state State
}

// NewMachine returns a machine in the idle state.
func NewMachine() *Machine {
	return &Machine{state: StateIdle}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Fire applies sig. proceed is only consulted for EVALUATED: true continues
// with the next round, false finishes the run.
func (m *Machine) Fire(sig Signal, proceed bool) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	next, ok := transition(m.state, sig, proceed)
	if !ok {
		return m.state, domain.NewTransitionError(string(m.state), string(sig))
	}
	m.state = next
	return next, nil
}

// rewind returns a machine left in evaluate by an abandoned round to
// execute, so the round can be replayed.
func (m *Machine) rewind() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateEvaluate {
		m.state = StateExecute
	}
}

func transition(from State, sig Signal, proceed bool) (State, bool) {
	switch {
	case sig == SignalStop && !from.IsTerminal():
		return StateStopped, true
	case from == StateIdle && sig == SignalStart:
		return StateExecute, true
	case from == StateExecute && sig == SignalExecuted:
		return StateEvaluate, true
	case from == StateEvaluate && sig == SignalEvaluated:
		if proceed {
			return StateExecute, true
		}
		return StateDone, true
	}
	return from, false
}
