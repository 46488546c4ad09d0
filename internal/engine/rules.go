package engine

import "log/slog"

// walkRules evaluates the overlay's rules in position order and returns the
// decision produced by the first matching rule, or nil when no rule matches
// (pass). Pass is distinct from "false": the evaluator applies flag-type
// defaults on pass.
func (e *Evaluator) walkRules(snap *FlagSnapshot, ctx Context, subject string) *Decision {
	for i := range snap.Rules {
		rule := &snap.Rules[i]

		matched := false
		switch rule.Type {
		case RuleTypeSegment:
			matched = MatchSegment(rule.Segment, ctx)
		case RuleTypeAttribute:
			if rule.Condition != nil {
				matched = MatchCondition(*rule.Condition, ctx)
			}
		case RuleTypeUserID:
			matched = matchUserID(rule.UserIDs, ctx)
		default:
			e.logger.Warn("skipping unknown rule type",
				slog.String("type", string(rule.Type)),
				slog.String("rule_id", rule.ID),
			)
			continue
		}

		if matched {
			d := e.serve(snap, rule, subject)
			return &d
		}
	}
	return nil
}

// matchUserID tests set membership of the context's user_id. The resolved
// subject id (which may fall back to "id", "anonymous_id" or a random value)
// is deliberately not used here: a user_id rule targets users.
func matchUserID(userIDs []string, ctx Context) bool {
	v, ok := ctx["user_id"]
	if !ok {
		return false
	}
	id := v.Str()
	if id == "" {
		return false
	}
	for _, candidate := range userIDs {
		if candidate == id {
			return true
		}
	}
	return false
}

// serve produces a decision from a matched rule's serve_* fields.
// Precedence: variant serve (variant flags only), then percentage serve,
// then the plain enabled bit.
func (e *Evaluator) serve(snap *FlagSnapshot, rule *Rule, subject string) Decision {
	if snap.Type == FlagTypeVariant && rule.ServeVariant != "" {
		return Decision{
			FlagKey: snap.Key,
			Enabled: true,
			Variant: rule.ServeVariant,
			Reason:  ReasonRuleMatch,
			RuleID:  rule.ID,
		}
	}

	if rule.ServePercentage != nil {
		bucket := Bucket(snap.Key, subject)
		return Decision{
			FlagKey: snap.Key,
			Enabled: bucket < *rule.ServePercentage,
			Reason:  RulePercentageReason(rule.ID),
			RuleID:  rule.ID,
		}
	}

	return Decision{
		FlagKey: snap.Key,
		Enabled: rule.ServeEnabled,
		Reason:  ReasonRuleMatch,
		RuleID:  rule.ID,
	}
}
