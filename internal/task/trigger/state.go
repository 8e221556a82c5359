package trigger

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidTransition = errors.New("invalid trigger state transition")

// State is the runtime state of a trigger.
type State uint8

const (
	StateNormal State = iota
	StatePaused
	StateComplete
	StateError
	// StateBlocked marks an exclusive job whose previous run is still in flight.
	StateBlocked
)

var stateNames = [...]string{
	StateNormal:   "NORMAL",
	StatePaused:   "PAUSED",
	StateComplete: "COMPLETE",
	StateError:    "ERROR",
	StateBlocked:  "BLOCKED",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *State) UnmarshalText(b []byte) error {
	v, err := ParseState(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// ParseState parses a state name case-insensitively.
func ParseState(v string) (State, error) {
	v = strings.ToUpper(strings.TrimSpace(v))
	for i, n := range stateNames {
		if n == v {
			return State(i), nil
		}
	}
	return 0, fmt.Errorf("unknown trigger state %q", v)
}

// CanTransition reports whether from -> to is a legal state change.
// ERROR -> NORMAL is only reachable through Trigger.Reset and is rejected here.
func CanTransition(from, to State) bool {
	if to == StateError {
		return true
	}
	switch from {
	case StateNormal:
		return to == StateNormal || to == StatePaused || to == StateComplete || to == StateBlocked
	case StatePaused:
		return to == StatePaused || to == StateNormal
	case StateBlocked:
		return to == StateNormal || to == StatePaused || to == StateComplete
	default:
		return false
	}
}
