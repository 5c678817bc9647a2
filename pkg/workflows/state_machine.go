package workflows

// StateMachine enforces status transitions for a lifecycle whose states are
// string-typed constants.
type StateMachine[S ~string] struct {
	allowedTransitions map[S][]S
}

// NewStateMachine creates a state machine from an adjacency list.
func NewStateMachine[S ~string](allowed map[S][]S) *StateMachine[S] {
	copied := make(map[S][]S, len(allowed))
	for from, to := range allowed {
		copied[from] = append([]S(nil), to...)
	}
	return &StateMachine[S]{allowedTransitions: copied}
}

// CanTransition checks if a status transition is allowed
func (sm *StateMachine[S]) CanTransition(from, to S) bool {
	for _, allowedTo := range sm.allowedTransitions[from] {
		if allowedTo == to {
			return true
		}
	}
	return false
}
