package worker

import "fmt"

// State is the lifecycle state of one warm worker.
//
//	Starting -> Idle <-> Busy
//	    \        \       /
//	     +-------> Dead <
//
// Respawn never revives a Dead worker; it replaces it in the same slot.
type State int

const (
	StateStarting State = iota
	StateIdle
	StateBusy
	StateDead
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateIdle:
		return "idle"
	case StateBusy:
		return "busy"
	case StateDead:
		return "dead"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var transitions = map[State][]State{
	StateStarting: {StateIdle, StateDead},
	StateIdle:     {StateBusy, StateDead},
	StateBusy:     {StateIdle, StateDead},
}

// canTransition reports whether from -> to is a legal lifecycle step.
func canTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
