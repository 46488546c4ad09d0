package engine

import "log/slog"

// Evaluator composes the rule walk, percentage bucketing and variant
// assignment per flag-type semantics. It holds no mutable state; a single
// instance serves all concurrent decision requests.
type Evaluator struct {
	logger *slog.Logger
}

// New creates an Evaluator. A nil logger falls back to slog.Default().
func New(logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{logger: logger}
}

// Evaluate returns the decision for one flag snapshot and context.
// A nil snapshot means the flag (or its environment overlay) does not exist;
// that degrades to a flag_not_found decision rather than an error.
//
// Given an unchanged snapshot and a context carrying a stable subject id,
// the returned decision is identical on every call.
func (e *Evaluator) Evaluate(snap *FlagSnapshot, ctx Context) Decision {
	if snap == nil {
		return Decision{Reason: ReasonFlagNotFound}
	}

	if !snap.Enabled {
		return Decision{FlagKey: snap.Key, Reason: ReasonFlagDisabled}
	}

	subject := ctx.SubjectID()

	if d := e.walkRules(snap, ctx, subject); d != nil {
		return *d
	}

	// No rule matched: apply flag-type defaults.
	switch snap.Type {
	case FlagTypeBoolean:
		return Decision{FlagKey: snap.Key, Enabled: true, Reason: ReasonDefault}

	case FlagTypePercentage:
		bucket := Bucket(snap.Key, subject)
		return Decision{
			FlagKey: snap.Key,
			Enabled: bucket < snap.Percentage,
			Reason:  ReasonPercentageRollout,
		}

	case FlagTypeVariant:
		return Decision{
			FlagKey: snap.Key,
			Enabled: true,
			Variant: AssignVariant(snap, subject),
			Reason:  ReasonVariantAssignment,
		}

	case FlagTypeSegment:
		// Segment flags only serve via rules; no match is a disabled result.
		return Decision{FlagKey: snap.Key, Reason: ReasonNoSegmentMatch}
	}

	e.logger.Error("unknown flag type", slog.String("flag_key", snap.Key), slog.String("type", string(snap.Type)))
	return ErrorDecision(snap.Key)
}
