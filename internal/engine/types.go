// Package engine implements the flag evaluation pipeline: deterministic
// bucketing, the operator library, segment matching, weighted variant
// assignment and the ordered rule walk. It is pure over a FlagSnapshot:
// no I/O, no mutation, safe for any number of concurrent callers.
package engine

import "encoding/json"

// FlagType discriminates the evaluation semantics of a flag.
type FlagType string

const (
	FlagTypeBoolean    FlagType = "boolean"
	FlagTypePercentage FlagType = "percentage"
	FlagTypeVariant    FlagType = "variant"
	FlagTypeSegment    FlagType = "segment"
)

// ValidFlagType reports whether t is a member of the closed flag-type set.
func ValidFlagType(t FlagType) bool {
	switch t {
	case FlagTypeBoolean, FlagTypePercentage, FlagTypeVariant, FlagTypeSegment:
		return true
	}
	return false
}

// RuleType discriminates the targeting strategy of a flag rule.
type RuleType string

const (
	RuleTypeSegment   RuleType = "segment"
	RuleTypeAttribute RuleType = "attribute"
	RuleTypeUserID    RuleType = "user_id"
)

// ValidRuleType reports whether t is a member of the closed rule-type set.
func ValidRuleType(t RuleType) bool {
	switch t {
	case RuleTypeSegment, RuleTypeAttribute, RuleTypeUserID:
		return true
	}
	return false
}

// MatchType selects conjunction or disjunction over a segment's conditions.
type MatchType string

const (
	MatchAll MatchType = "all"
	MatchAny MatchType = "any"
)

// Variant is one arm of an A/B/n partition.
type Variant struct {
	Key     string          `json:"key"`
	Weight  int             `json:"weight"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Condition is a single attribute-vs-literal predicate. It is shared between
// segment rules and attribute flag rules.
type Condition struct {
	Attribute string   `json:"attribute"`
	Operator  Operator `json:"operator"`
	Value     string   `json:"value"`
}

// Segment is a reusable, named rule set. Snapshots embed the segment resolved
// at build time so evaluation never touches the store.
type Segment struct {
	Key        string      `json:"key"`
	MatchType  MatchType   `json:"match_type"`
	Conditions []Condition `json:"conditions"`
}

// Rule is one ordered targeting rule of a flag-environment overlay.
// Exactly one of Segment, Condition or UserIDs is populated, selected by Type.
type Rule struct {
	ID   string   `json:"id"`
	Type RuleType `json:"type"`

	Segment   *Segment   `json:"segment,omitempty"`
	Condition *Condition `json:"condition,omitempty"`
	UserIDs   []string   `json:"user_ids,omitempty"`

	ServeEnabled    bool   `json:"serve_enabled"`
	ServeVariant    string `json:"serve_variant,omitempty"`
	ServePercentage *int   `json:"serve_percentage,omitempty"`
}

// FlagSnapshot is the self-contained cached projection of a flag for one
// environment. It carries everything a decision needs.
type FlagSnapshot struct {
	Key            string    `json:"key"`
	Type           FlagType  `json:"type"`
	Enabled        bool      `json:"enabled"`
	Percentage     int       `json:"percentage"`
	DefaultVariant string    `json:"default_variant,omitempty"`
	Variants       []Variant `json:"variants,omitempty"`
	Rules          []Rule    `json:"rules,omitempty"`
}
