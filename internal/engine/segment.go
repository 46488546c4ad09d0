package engine

// MatchSegment evaluates every condition of a segment against the context.
// match_type=all returns the conjunction, match_type=any the disjunction.
// An empty condition set matches nothing.
func MatchSegment(seg *Segment, ctx Context) bool {
	if seg == nil || len(seg.Conditions) == 0 {
		return false
	}

	any := seg.MatchType == MatchAny
	for _, cond := range seg.Conditions {
		matched := MatchCondition(cond, ctx)
		if any && matched {
			return true
		}
		if !any && !matched {
			return false
		}
	}
	return !any
}

// MatchCondition evaluates one predicate against the context.
func MatchCondition(cond Condition, ctx Context) bool {
	attr, present := ctx[cond.Attribute]
	return Match(cond.Operator, attr, present, cond.Value)
}
