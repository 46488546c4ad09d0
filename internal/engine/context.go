package engine

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Kind tags the concrete type held by a Value.
type Kind uint8

const (
	KindString Kind = iota + 1
	KindNumber
	KindBool
	KindList
)

// Value is the tagged union of attribute types a context may carry:
// string, number, bool, or a list of strings. The zero Value is "absent".
type Value struct {
	kind Kind
	str  string
	num  float64
	b    bool
	list []string
}

func String(s string) Value      { return Value{kind: KindString, str: s} }
func Number(f float64) Value     { return Value{kind: KindNumber, num: f} }
func Bool(b bool) Value          { return Value{kind: KindBool, b: b} }
func List(items ...string) Value { return Value{kind: KindList, list: items} }

// Kind returns the tag of the value; zero for an absent value.
func (v Value) Kind() Kind { return v.kind }

// Str coerces the value to its canonical string form. Numbers render without
// a trailing ".0" for integral values, lists join on commas.
func (v Value) Str() string {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindList:
		return strings.Join(v.list, ",")
	}
	return ""
}

// Float coerces the value to a float64. Strings are parsed; bools and lists
// do not coerce.
func (v Value) Float() (float64, bool) {
	switch v.kind {
	case KindNumber:
		return v.num, true
	case KindString:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.str), 64)
		return f, err == nil
	}
	return 0, false
}

// Context is the normalized attribute map describing the subject of a
// decision. Key access is case-sensitive on the normalized string form.
type Context map[string]Value

// subjectKeys is the resolution order for the subject identifier.
var subjectKeys = [...]string{"user_id", "id", "anonymous_id"}

// SubjectID resolves the stable identifier used for bucketing. When the
// context carries none of the known identifier keys, a fresh random value is
// returned and determinism across calls is lost; callers responsible for
// stickiness must supply a stable id.
func (c Context) SubjectID() string {
	for _, k := range subjectKeys {
		if v, ok := c[k]; ok {
			if s := v.Str(); s != "" {
				return s
			}
		}
	}
	return uuid.NewString()
}

// ParseContext decodes a raw JSON object into a normalized Context.
// An empty input yields an empty context; a non-object input is an error.
func ParseContext(raw []byte) (Context, error) {
	if len(raw) == 0 {
		return Context{}, nil
	}

	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return Normalize(m), nil
}

// Normalize converts an open-shaped attribute bag into a Context. If the
// "user" key holds an object, its fields are flattened into the top level and
// the original key removed. Attributes that do not fit the Value union
// (nested objects, mixed lists) are dropped.
func Normalize(m map[string]any) Context {
	if user, ok := m["user"].(map[string]any); ok {
		merged := make(map[string]any, len(m)+len(user))
		for k, v := range m {
			merged[k] = v
		}
		delete(merged, "user")
		for k, v := range user {
			merged[k] = v
		}
		m = merged
	}

	ctx := make(Context, len(m))
	for k, raw := range m {
		if v, ok := coerceValue(raw); ok {
			ctx[k] = v
		}
	}
	return ctx
}

// coerceValue maps a decoded JSON value onto the Value union.
func coerceValue(raw any) (Value, bool) {
	switch t := raw.(type) {
	case string:
		return String(t), true
	case float64:
		return Number(t), true
	case bool:
		return Bool(t), true
	case []any:
		items := make([]string, 0, len(t))
		for _, e := range t {
			s, ok := e.(string)
			if !ok {
				return Value{}, false
			}
			items = append(items, s)
		}
		return List(items...), true
	}
	return Value{}, false
}
