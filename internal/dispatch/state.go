package dispatch

import "strings"

// State is a step of a single command's handling. Nothing is kept across commands.
type State int

const (
	StateReceived State = iota + 1
	StateValidated
	StateExecuting
	StateCompleted
	StateRejected
	StateFaulted
)

func (s State) String() string {
	switch s {
	case StateReceived:
		return "received"
	case StateValidated:
		return "validated"
	case StateExecuting:
		return "executing"
	case StateCompleted:
		return "completed"
	case StateRejected:
		return "rejected"
	case StateFaulted:
		return "faulted"
	default:
		return "unknown"
	}
}

func (s State) Terminal() bool {
	return s == StateCompleted || s == StateRejected || s == StateFaulted
}

type Request struct {
	ChatID string
	UserID string
	Text   string
}

// Trace records how one request moved through the states.
type Trace struct {
	RequestID string
	Command   string
	States    []State
	// Reason is set for rejected and faulted requests.
	Reason error

	replied bool
}

func (t *Trace) enter(state State) {
	t.States = append(t.States, state)
}

func (t Trace) Final() State {
	if len(t.States) == 0 {
		return 0
	}
	return t.States[len(t.States)-1]
}

func (t Trace) Path() string {
	names := make([]string, 0, len(t.States))
	for _, state := range t.States {
		names = append(names, state.String())
	}
	return strings.Join(names, ">")
}
