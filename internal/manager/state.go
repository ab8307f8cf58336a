package manager

import "fmt"

// State is the lifecycle state of a daemon record.
type State int32

const (
	StateInactive State = iota
	StateStarting
	StateActive
	StateStopping
	StateExited
	StateCrashed
)

var stateNames = [...]string{
	StateInactive: "inactive",
	StateStarting: "starting",
	StateActive:   "active",
	StateStopping: "stopping",
	StateExited:   "exited",
	StateCrashed:  "crashed",
}

// StateNames lists every state string in declaration order.
func StateNames() []string {
	return append([]string(nil), stateNames[:]...)
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Terminal reports whether s needs a reset before the daemon can start again.
func (s State) Terminal() bool { return s == StateExited || s == StateCrashed }

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *State) UnmarshalText(b []byte) error {
	p, err := ParseState(string(b))
	if err != nil {
		return err
	}
	*s = p
	return nil
}

// ParseState is the inverse of State.String.
func ParseState(v string) (State, error) {
	for i, n := range stateNames {
		if n == v {
			return State(i), nil
		}
	}
	return StateInactive, fmt.Errorf("unknown daemon state %q", v)
}
