package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatchSegment(t *testing.T) {
	t.Parallel()

	proPlan := Condition{Attribute: "plan", Operator: OpIn, Value: "pro,enterprise"}
	euRegion := Condition{Attribute: "region", Operator: OpEq, Value: "eu"}

	tests := []struct {
		name string
		seg  *Segment
		ctx  Context
		want bool
	}{
		{
			name: "nil segment matches nothing",
			seg:  nil,
			ctx:  Context{"plan": String("pro")},
			want: false,
		},
		{
			name: "empty rule set matches nothing",
			seg:  &Segment{Key: "empty", MatchType: MatchAll},
			ctx:  Context{"plan": String("pro")},
			want: false,
		},
		{
			name: "all: conjunction holds",
			seg:  &Segment{Key: "eu-pro", MatchType: MatchAll, Conditions: []Condition{proPlan, euRegion}},
			ctx:  Context{"plan": String("pro"), "region": String("eu")},
			want: true,
		},
		{
			name: "all: one miss fails",
			seg:  &Segment{Key: "eu-pro", MatchType: MatchAll, Conditions: []Condition{proPlan, euRegion}},
			ctx:  Context{"plan": String("pro"), "region": String("us")},
			want: false,
		},
		{
			name: "any: one hit suffices",
			seg:  &Segment{Key: "either", MatchType: MatchAny, Conditions: []Condition{proPlan, euRegion}},
			ctx:  Context{"plan": String("free"), "region": String("eu")},
			want: true,
		},
		{
			name: "any: all miss fails",
			seg:  &Segment{Key: "either", MatchType: MatchAny, Conditions: []Condition{proPlan, euRegion}},
			ctx:  Context{"plan": String("free"), "region": String("us")},
			want: false,
		},
		{
			name: "all: missing attribute fails",
			seg:  &Segment{Key: "eu-pro", MatchType: MatchAll, Conditions: []Condition{proPlan, euRegion}},
			ctx:  Context{"plan": String("pro")},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, MatchSegment(tt.seg, tt.ctx))
		})
	}
}
