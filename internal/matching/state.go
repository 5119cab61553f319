package matching

import "errors"

var (
	// ErrNotReady is returned when an operation is invoked from a state that does not allow it.
	ErrNotReady = errors.New("operation is not available in the current state")
	// ErrNoResults signals an empty retrieval. It is informational rather than a failure.
	ErrNoResults = errors.New("no relevant records found")
)

// State is the position of a Session in the refine, match, analyse, export flow.
type State int

const (
	Idle State = iota
	Refining
	Refined
	RefineFailed
	Retrieving
	Matched
	NoResults
	Evaluating
	Evaluated
	Exported
)

var stateNames = [...]string{
	Idle:         "idle",
	Refining:     "refining",
	Refined:      "refined",
	RefineFailed: "refine failed",
	Retrieving:   "retrieving",
	Matched:      "matched",
	NoResults:    "no results",
	Evaluating:   "evaluating",
	Evaluated:    "evaluated",
	Exported:     "exported",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// busy states have a stage in flight.
func (s State) busy() bool {
	return s == Refining || s == Retrieving || s == Evaluating
}

func (s State) in(states ...State) bool {
	for _, st := range states {
		if s == st {
			return true
		}
	}
	return false
}
