package engine

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBucket_KnownVectors(t *testing.T) {
	t.Parallel()

	// Precomputed from SHA-256("salt:subject"), leading 32 bits big-endian,
	// scaled to [0,100). These values are frozen: a change here means the
	// bucketing algorithm drifted and every rollout in production reshuffles.
	tests := []struct {
		salt    string
		subject string
		want    int
	}{
		{"checkout", "alice", 6},
		{"checkout", "bob", 14},
		{"checkout", "carol", 95},
		{"checkout", "dave", 45},
		{"checkout", "u42", 96},
		{"checkout", "u43", 62},
		{"checkout:variant", "bob", 19},
		{"checkout:variant", "c", 83},
		{"checkout:variant", "carol", 47},
		{"new-ui", "alice", 9},
		{"new-ui", "bob", 34},
	}

	for _, tt := range tests {
		t.Run(tt.salt+"/"+tt.subject, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Bucket(tt.salt, tt.subject))
		})
	}
}

func TestBucket_Stability(t *testing.T) {
	t.Parallel()

	// Same input, same bucket, on every call.
	for i := 0; i < 100; i++ {
		assert.Equal(t, Bucket("flag-a", "subject-1"), Bucket("flag-a", "subject-1"))
	}

	// Different salts decorrelate the same subject.
	diff := 0
	for i := 0; i < 1000; i++ {
		s := fmt.Sprintf("subject-%d", i)
		if Bucket("flag-a", s) != Bucket("flag-b", s) {
			diff++
		}
	}
	assert.Greater(t, diff, 900, "buckets under different salts should be independent")
}

func TestBucket_Range(t *testing.T) {
	t.Parallel()

	for i := 0; i < 10_000; i++ {
		b := Bucket("range-check", fmt.Sprintf("s%d", i))
		require.GreaterOrEqual(t, b, 0)
		require.Less(t, b, 100)
	}
}

func TestBucket_Uniformity(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping distribution test in short mode")
	}
	t.Parallel()

	const n = 100_000
	counts := make([]int, 100)
	for i := 0; i < n; i++ {
		counts[Bucket("uniformity", fmt.Sprintf("subject-%d", i))]++
	}

	// Kolmogorov-Smirnov distance between the empirical CDF and uniform.
	maxDist := 0.0
	cum := 0
	for i, c := range counts {
		cum += c
		empirical := float64(cum) / n
		expected := float64(i+1) / 100
		if d := empirical - expected; d > maxDist {
			maxDist = d
		} else if -d > maxDist {
			maxDist = -d
		}
	}
	assert.Less(t, maxDist, 0.02, "bucket distribution should be near-uniform")
}
