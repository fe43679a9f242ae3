package engine

// Payoff returns self's payoff for the joint decision. A missing decision on
// either side pays 0 regardless of the other side.
func Payoff(b Board, self, other Decision) int {
	if !self.Valid() || !other.Valid() {
		return 0
	}
	switch {
	case self == Cooperate && other == Cooperate:
		return b.BothCooperate
	case self == Cooperate && other == Defect:
		return b.Betrayed
	case self == Defect && other == Cooperate:
		return b.Betray
	default:
		return b.BothDefect
	}
}

// Settle applies the timeout policy and returns the decisions used for the
// lookup, both payoffs, and whether the round is a forfeit.
func Settle(b Board, a, c Decision, policy TimeoutPolicy) (decisions [2]Decision, payoffs [2]int, forfeited bool) {
	if policy == TimeoutDefaultDefect {
		if !a.Valid() {
			a = Defect
		}
		if !c.Valid() {
			c = Defect
		}
	}
	decisions = [2]Decision{a, c}
	if !a.Valid() || !c.Valid() {
		return decisions, [2]int{0, 0}, true
	}
	return decisions, [2]int{Payoff(b, a, c), Payoff(b, c, a)}, false
}
