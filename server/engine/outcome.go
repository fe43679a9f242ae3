package engine

// BoundaryOutcome is the pre-committed transition: the match terminates once
// round reaches its last round, and the session is done when that match was
// the final one.
func BoundaryOutcome(round int, b MatchBoundary, final bool) MatchEndState {
	if round < b.LastRound {
		return StateContinued
	}
	if final {
		return StateSessionDone
	}
	return StateTerminated
}

// RollOutcome is the live transition for one continuation check.
func RollOutcome(roll, threshold int) MatchEndState {
	if roll <= threshold {
		return StateContinued
	}
	return StateTerminated
}
