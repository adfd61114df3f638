package gateway

import "fmt"

// State is a step of the per-request forwarding state machine:
//
//	NoAuth, Authorized -> Refreshing -> Retried -> Done
//
// NoAuth and Authorized may also go straight to Done. Retried is only reachable
// through Refreshing and can only be followed by Done, so a request is refreshed
// and retried at most once.
type State int

const (
	StateNoAuth State = iota
	StateAuthorized
	StateRefreshing
	StateRetried
	StateDone
)

func (s State) String() string {
	switch s {
	case StateNoAuth:
		return "NoAuth"
	case StateAuthorized:
		return "Authorized"
	case StateRefreshing:
		return "Refreshing"
	case StateRetried:
		return "Retried"
	case StateDone:
		return "Done"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

var transitions = map[State][]State{
	StateNoAuth:     {StateRefreshing, StateDone},
	StateAuthorized: {StateRefreshing, StateDone},
	StateRefreshing: {StateRetried, StateDone},
	StateRetried:    {StateDone},
}

// CanTransition reports whether the machine may move from one state to another.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// machine tracks one request's path through the states.
type machine struct {
	state State
	trace []State
}

func newMachine(start State) *machine {
	return &machine{state: start, trace: []State{start}}
}

func (m *machine) to(next State) error {
	if !CanTransition(m.state, next) {
		return fmt.Errorf("[gateway] illegal state transition %s -> %s", m.state, next)
	}
	m.state = next
	m.trace = append(m.trace, next)
	return nil
}

func (m *machine) done() bool {
	return m.state == StateDone
}
