package model

import "time"

// Realization state constants.
const (
	StateUnqueued  = "unqueued"
	StateQueued    = "queued"
	StateSubmitted = "submitted"
	StateRunning   = "running"
	StateSuccess   = "success"
	StateFailed    = "failed"
	StateStuck     = "stuck"
)

// validTransitions maps each realization state to the states it may move to.
// Everything past submitted is observed from the queue, not caused here.
var validTransitions = map[string]map[string]bool{
	StateUnqueued: {
		StateQueued: true,
	},
	StateQueued: {
		StateSubmitted: true,
		StateStuck:     true,
	},
	StateSubmitted: {
		StateRunning: true,
		StateSuccess: true,
		StateFailed:  true,
	},
	StateRunning: {
		StateSuccess: true,
		StateFailed:  true,
	},
}

// ValidTransition reports whether a realization may move from one state to another.
func ValidTransition(from, to string) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// Reachable reports whether to can be reached from from through one or more
// valid transitions. Observers polling the queue may miss intermediate states.
func Reachable(from, to string) bool {
	if ValidTransition(from, to) {
		return true
	}
	seen := map[string]bool{from: true}
	frontier := []string{from}
	for len(frontier) > 0 {
		cur := frontier[0]
		frontier = frontier[1:]
		for next := range validTransitions[cur] {
			if next == to {
				return true
			}
			if !seen[next] {
				seen[next] = true
				frontier = append(frontier, next)
			}
		}
	}
	return false
}

// IsTerminal reports whether no further transition is possible from state.
func IsTerminal(state string) bool {
	return state == StateSuccess || state == StateFailed || state == StateStuck
}

// Realization is a point-in-time view of one ensemble member.
type Realization struct {
	RunID       string     `json:"run_id,omitempty"`
	Iens        int        `json:"iens"`
	State       string     `json:"state"`
	RunPath     string     `json:"run_path"`
	Target      string     `json:"target"`
	Submitted   bool       `json:"submitted"`
	QueueHandle *int       `json:"queue_handle,omitempty"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	SubmittedAt *time.Time `json:"submitted_at,omitempty"`
}
