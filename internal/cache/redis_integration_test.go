package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmfontes/skuld/internal/cache"
	"github.com/dmfontes/skuld/internal/engine"
	"github.com/dmfontes/skuld/internal/testsupport"
)

func newTestCache(t *testing.T, ttl time.Duration) (*cache.RedisCache, context.Context) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	if testsupport.SkipIfNoDocker(ctx) {
		t.Skip("docker is not available")
	}

	rc, err := testsupport.StartRedisContainer(ctx)
	require.NoError(t, err, "failed to start redis container")
	t.Cleanup(func() { _ = rc.Terminate(context.Background()) })

	return cache.NewRedisCache(rc.Client, ttl), ctx
}

func TestRedisCache_SnapshotRoundTrip(t *testing.T) {
	c, ctx := newTestCache(t, time.Minute)

	snap := &engine.FlagSnapshot{
		Key: "checkout", Type: engine.FlagTypeVariant, Enabled: true, Percentage: 40,
		DefaultVariant: "a",
		Variants:       []engine.Variant{{Key: "a", Weight: 1, Payload: []byte(`{"color":"red"}`)}, {Key: "b", Weight: 3}},
		Rules: []engine.Rule{{
			ID:   "r0",
			Type: engine.RuleTypeSegment,
			Segment: &engine.Segment{
				Key: "paying", MatchType: engine.MatchAny,
				Conditions: []engine.Condition{{Attribute: "plan", Operator: engine.OpIn, Value: "pro,enterprise"}},
			},
			ServeVariant: "b",
		}},
	}

	_, found, err := c.GetSnapshot(ctx, "acme", "checkout", "production")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, c.SetSnapshot(ctx, "acme", "checkout", "production", snap))

	got, found, err := c.GetSnapshot(ctx, "acme", "checkout", "production")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, snap, got)

	// A cached snapshot evaluates byte-identical decisions to the original.
	eval := engine.New(nil)
	for _, userCtx := range []engine.Context{
		{"user_id": engine.String("u1"), "plan": engine.String("pro")},
		{"user_id": engine.String("u2")},
	} {
		assert.Equal(t, eval.Evaluate(snap, userCtx), eval.Evaluate(got, userCtx))
	}

	require.NoError(t, c.Invalidate(ctx, cache.SnapshotKey("acme", "checkout", "production")))
	_, found, err = c.GetSnapshot(ctx, "acme", "checkout", "production")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRedisCache_Bootstrap(t *testing.T) {
	c, ctx := newTestCache(t, time.Minute)

	snaps := []engine.FlagSnapshot{
		{Key: "checkout", Type: engine.FlagTypeBoolean, Enabled: true},
		{Key: "dark_mode", Type: engine.FlagTypeBoolean, Enabled: false},
	}

	require.NoError(t, c.SetBootstrap(ctx, "acme", "production", snaps))

	got, found, err := c.GetBootstrap(ctx, "acme", "production")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, snaps, got)

	// Invalidating the bootstrap key forces a rebuild on next read.
	require.NoError(t, c.Invalidate(ctx, cache.BootstrapKey("acme", "production")))
	_, found, err = c.GetBootstrap(ctx, "acme", "production")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRedisCache_TTLExpiry(t *testing.T) {
	c, ctx := newTestCache(t, time.Second)

	require.NoError(t, c.SetSnapshot(ctx, "acme", "checkout", "production", &engine.FlagSnapshot{Key: "checkout"}))

	assert.Eventually(t, func() bool {
		_, found, err := c.GetSnapshot(ctx, "acme", "checkout", "production")
		return err == nil && !found
	}, 5*time.Second, 200*time.Millisecond, "snapshot should expire at the soft TTL")
}
