package propagator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmfontes/skuld/internal/bus"
	"github.com/dmfontes/skuld/internal/store"
)

type fakeOutbox struct {
	mu        sync.Mutex
	rows      []store.OutboxRow
	processed []int64
	fetchErr  error
}

func (f *fakeOutbox) UnprocessedOutbox(_ context.Context, limit int) ([]store.OutboxRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	if len(f.rows) > limit {
		return f.rows[:limit], nil
	}
	return f.rows, nil
}

func (f *fakeOutbox) MarkOutboxProcessed(_ context.Context, ids []int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.processed = append(f.processed, ids...)

	remaining := f.rows[:0]
	for _, row := range f.rows {
		keep := true
		for _, id := range ids {
			if row.ID == id {
				keep = false
				break
			}
		}
		if keep {
			remaining = append(remaining, row)
		}
	}
	f.rows = remaining
	return nil
}

func (f *fakeOutbox) OutboxDepth(_ context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.rows)), nil
}

type fakeInvalidator struct {
	mu   sync.Mutex
	keys []string
	err  error
}

func (f *fakeInvalidator) Invalidate(_ context.Context, keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.keys = append(f.keys, keys...)
	return nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []bus.Event
	err    error
}

func (f *fakePublisher) Publish(_ context.Context, _ string, event bus.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, event)
	return nil
}

func outboxRow(id int64, flagKey string) store.OutboxRow {
	return store.OutboxRow{
		ID:             id,
		ProjectKey:     "acme",
		EnvironmentKey: "production",
		FlagKey:        flagKey,
		Action:         store.ActionToggled,
		Enabled:        true,
		CacheKeys:      []string{"flag:acme:" + flagKey + ":production", "flags:acme:production"},
		CreatedAt:      time.Now(),
	}
}

func TestService_Drain(t *testing.T) {
	t.Parallel()

	source := &fakeOutbox{rows: []store.OutboxRow{outboxRow(1, "checkout"), outboxRow(2, "search")}}
	inv := &fakeInvalidator{}
	pub := &fakePublisher{}

	svc := New(nil, Config{}, source, inv, pub)
	require.NoError(t, svc.Drain(context.Background()))

	// Every row: keys invalidated, event published, row marked processed.
	assert.Equal(t, []int64{1, 2}, source.processed)
	assert.Len(t, inv.keys, 4)
	require.Len(t, pub.events, 2)
	assert.Equal(t, "checkout", pub.events[0].FlagKey)
	assert.Equal(t, "search", pub.events[1].FlagKey)
	assert.Empty(t, source.rows)
}

func TestService_Drain_InvalidationFailureLeavesRowsPending(t *testing.T) {
	t.Parallel()

	source := &fakeOutbox{rows: []store.OutboxRow{outboxRow(1, "checkout")}}
	inv := &fakeInvalidator{err: errors.New("redis down")}
	pub := &fakePublisher{}

	svc := New(nil, Config{}, source, inv, pub)
	require.NoError(t, svc.Drain(context.Background()))

	assert.Empty(t, source.processed, "failed rows must stay pending for retry")
	assert.Empty(t, pub.events, "no event may publish before its invalidation")
	assert.Len(t, source.rows, 1)
}

func TestService_Drain_PublishFailureStopsAtFirstRow(t *testing.T) {
	t.Parallel()

	source := &fakeOutbox{rows: []store.OutboxRow{outboxRow(1, "checkout"), outboxRow(2, "search")}}
	inv := &fakeInvalidator{}
	pub := &fakePublisher{err: errors.New("bus down")}

	svc := New(nil, Config{}, source, inv, pub)
	require.NoError(t, svc.Drain(context.Background()))

	// Stopping preserves publish order across retries.
	assert.Empty(t, source.processed)
	assert.Len(t, source.rows, 2)
}

func TestService_Drain_FetchErrorPropagates(t *testing.T) {
	t.Parallel()

	source := &fakeOutbox{fetchErr: errors.New("db down")}
	svc := New(nil, Config{}, source, &fakeInvalidator{}, &fakePublisher{})
	assert.Error(t, svc.Drain(context.Background()))
}

func TestService_Run_DrainsOnCadence(t *testing.T) {
	t.Parallel()

	source := &fakeOutbox{rows: []store.OutboxRow{outboxRow(1, "checkout")}}
	inv := &fakeInvalidator{}
	pub := &fakePublisher{}

	svc := New(nil, Config{Interval: 100 * time.Millisecond}, source, inv, pub)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = svc.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		source.mu.Lock()
		defer source.mu.Unlock()
		return len(source.processed) == 1
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	<-done
}
