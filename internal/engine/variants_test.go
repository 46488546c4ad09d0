package engine

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func variantSnap(key string, variants ...Variant) *FlagSnapshot {
	return &FlagSnapshot{Key: key, Type: FlagTypeVariant, Enabled: true, Variants: variants}
}

func TestAssignVariant(t *testing.T) {
	t.Parallel()

	// Weighted split A(1), B(3): cumulative boundaries at 25 and 100.
	weighted := variantSnap("checkout",
		Variant{Key: "A", Weight: 1},
		Variant{Key: "B", Weight: 3},
	)

	tests := []struct {
		name    string
		snap    *FlagSnapshot
		subject string
		want    string
	}{
		// Buckets under salt "checkout:variant": bob=19, u2=21, carol=47, c=83.
		{"bucket below first boundary", weighted, "bob", "A"},
		{"bucket just below boundary", weighted, "u2", "A"},
		{"bucket in second arm", weighted, "carol", "B"},
		{"bucket deep in second arm", weighted, "c", "B"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, AssignVariant(tt.snap, tt.subject))
		})
	}

	t.Run("no variants returns the default", func(t *testing.T) {
		t.Parallel()
		snap := &FlagSnapshot{Key: "checkout", Type: FlagTypeVariant, DefaultVariant: "control"}
		assert.Equal(t, "control", AssignVariant(snap, "anyone"))
	})

	t.Run("no variants and no default returns empty", func(t *testing.T) {
		t.Parallel()
		snap := &FlagSnapshot{Key: "checkout", Type: FlagTypeVariant}
		assert.Equal(t, "", AssignVariant(snap, "anyone"))
	})

	t.Run("zero total weight returns the first variant", func(t *testing.T) {
		t.Parallel()
		snap := variantSnap("checkout",
			Variant{Key: "A", Weight: 0},
			Variant{Key: "B", Weight: 0},
		)
		assert.Equal(t, "A", AssignVariant(snap, "carol"))
	})

	t.Run("assignment is deterministic", func(t *testing.T) {
		t.Parallel()
		for i := 0; i < 50; i++ {
			assert.Equal(t, AssignVariant(weighted, "subject-x"), AssignVariant(weighted, "subject-x"))
		}
	})
}

func TestAssignVariant_DistributionTracksWeights(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping distribution test in short mode")
	}
	t.Parallel()

	snap := variantSnap("dist-check",
		Variant{Key: "A", Weight: 1},
		Variant{Key: "B", Weight: 3},
	)

	const n = 20_000
	counts := map[string]int{}
	for i := 0; i < n; i++ {
		counts[AssignVariant(snap, fmt.Sprintf("subject-%d", i))]++
	}

	fracA := float64(counts["A"]) / n
	assert.InDelta(t, 0.25, fracA, 0.02)
}

func TestAssignVariant_ReweightingIsDriftFree(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping distribution test in short mode")
	}
	t.Parallel()

	// Moving from A(1),B(3) to A(1),B(1) shifts the boundary from 25 to 50.
	// The fraction of subjects whose assignment changes is bounded by the
	// total variation distance of the two weight distributions (here 0.25).
	before := variantSnap("reweight",
		Variant{Key: "A", Weight: 1},
		Variant{Key: "B", Weight: 3},
	)
	after := variantSnap("reweight",
		Variant{Key: "A", Weight: 1},
		Variant{Key: "B", Weight: 1},
	)

	const n = 20_000
	changed := 0
	for i := 0; i < n; i++ {
		s := fmt.Sprintf("subject-%d", i)
		if AssignVariant(before, s) != AssignVariant(after, s) {
			changed++
		}
	}

	frac := float64(changed) / n
	assert.InDelta(t, 0.25, frac, 0.02)

	// And the moved subjects only cross the moved boundary: nobody assigned
	// to A before ends up outside A after a boundary that only grew.
	for i := 0; i < 2_000; i++ {
		s := fmt.Sprintf("subject-%d", i)
		if AssignVariant(before, s) == "A" {
			assert.Equal(t, "A", AssignVariant(after, s))
		}
	}
}
