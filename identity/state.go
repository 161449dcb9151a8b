package identity

import "fmt"

// State is the lifecycle state of a User.
type State int

const (
	Invalid State = iota
	StartedRegistration
	Activated
	Registered
	Blocked
)

var stateNames = map[State]string{
	Invalid:             "INVALID",
	StartedRegistration: "STARTED_REGISTRATION",
	Activated:           "ACTIVATED",
	Registered:          "REGISTERED",
	Blocked:             "BLOCKED",
}

// String returns the persisted name of the state.
func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// ParseState parses a persisted state name.
func ParseState(name string) (State, error) {
	for s, n := range stateNames {
		if n == name {
			return s, nil
		}
	}
	return Invalid, fmt.Errorf("unknown user state %q", name)
}

// RequiresRegOTT reports whether a user in s must hold a registration token.
// Registered and Blocked users must not hold one; Invalid users are
// unconstrained.
func (s State) RequiresRegOTT() (required bool, constrained bool) {
	switch s {
	case StartedRegistration, Activated:
		return true, true
	case Registered, Blocked:
		return false, true
	}
	return false, false
}
