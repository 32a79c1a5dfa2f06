package domain

// RequestState is the single lifecycle stage of a Request.
type RequestState string

const (
	// StateOpen: unassigned, waiting for a helper.
	StateOpen RequestState = "open"
	// StateDealing: a helper committed to lending the item.
	StateDealing RequestState = "dealing"
	// StateClosed: finished, successfully or not. Terminal.
	StateClosed RequestState = "closed"
	// StateExpired: aged out while unassigned. Terminal.
	StateExpired RequestState = "expired"
)

// transitions lists the allowed target states per source state.
var transitions = map[RequestState][]RequestState{
	StateOpen:    {StateDealing, StateClosed, StateExpired},
	StateDealing: {StateOpen, StateClosed},
}

// Valid reports whether s is one of the known states.
func (s RequestState) Valid() bool {
	switch s {
	case StateOpen, StateDealing, StateClosed, StateExpired:
		return true
	}
	return false
}

// Terminal reports whether no further transition is possible from s.
func (s RequestState) Terminal() bool {
	return s == StateClosed || s == StateExpired
}

// CanTransition reports whether moving from s to next is allowed.
func (s RequestState) CanTransition(next RequestState) bool {
	for _, t := range transitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

func (s RequestState) String() string { return string(s) }
