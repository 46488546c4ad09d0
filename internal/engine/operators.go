package engine

import (
	"regexp"
	"strconv"
	"strings"
)

// Operator identifies one of the attribute-vs-literal predicates.
type Operator string

const (
	OpEq          Operator = "eq"
	OpNeq         Operator = "neq"
	OpContains    Operator = "contains"
	OpNotContains Operator = "not_contains"
	OpStartsWith  Operator = "starts_with"
	OpEndsWith    Operator = "ends_with"
	OpGt          Operator = "gt"
	OpGte         Operator = "gte"
	OpLt          Operator = "lt"
	OpLte         Operator = "lte"
	OpIn          Operator = "in"
	OpNotIn       Operator = "not_in"
	OpRegex       Operator = "regex"
)

// ValidOperator reports whether op is a member of the closed operator set.
func ValidOperator(op Operator) bool {
	switch op {
	case OpEq, OpNeq, OpContains, OpNotContains, OpStartsWith, OpEndsWith,
		OpGt, OpGte, OpLt, OpLte, OpIn, OpNotIn, OpRegex:
		return true
	}
	return false
}

// Match evaluates a single predicate. present is false when the attribute is
// missing from the context; a missing attribute always yields false, even for
// the negated operators (missingness is not inequality). No operator ever
// raises; every exceptional case folds to false.
func Match(op Operator, attr Value, present bool, literal string) bool {
	if !present {
		return false
	}

	switch op {
	case OpEq:
		return attr.Str() == literal
	case OpNeq:
		return attr.Str() != literal
	case OpContains:
		return strings.Contains(attr.Str(), literal)
	case OpNotContains:
		return !strings.Contains(attr.Str(), literal)
	case OpStartsWith:
		return strings.HasPrefix(attr.Str(), literal)
	case OpEndsWith:
		return strings.HasSuffix(attr.Str(), literal)
	case OpGt, OpGte, OpLt, OpLte:
		return compareNumeric(op, attr, literal)
	case OpIn:
		return inList(attr.Str(), literal)
	case OpNotIn:
		return !inList(attr.Str(), literal)
	case OpRegex:
		re, err := regexp.Compile(literal)
		if err != nil {
			return false
		}
		return re.MatchString(attr.Str())
	}

	// Unknown operator: fail closed.
	return false
}

// compareNumeric parses both sides as floats; a non-numeric side fails closed.
func compareNumeric(op Operator, attr Value, literal string) bool {
	lhs, ok := attr.Float()
	if !ok {
		return false
	}
	rhs, err := strconv.ParseFloat(strings.TrimSpace(literal), 64)
	if err != nil {
		return false
	}

	switch op {
	case OpGt:
		return lhs > rhs
	case OpGte:
		return lhs >= rhs
	case OpLt:
		return lhs < rhs
	case OpLte:
		return lhs <= rhs
	}
	return false
}

// inList treats the literal as a comma-separated list, with surrounding
// whitespace stripped from each element, and tests set membership.
func inList(needle, literal string) bool {
	for _, item := range strings.Split(literal, ",") {
		if strings.TrimSpace(item) == needle {
			return true
		}
	}
	return false
}
