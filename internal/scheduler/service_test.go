package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmfontes/skuld/internal/store"
)

type fakeTransitions struct {
	mu       sync.Mutex
	due      []store.DueTransition
	applied  []uuid.UUID
	applyErr map[uuid.UUID]error
	failures map[uuid.UUID]int
}

func newFakeTransitions(due ...store.DueTransition) *fakeTransitions {
	return &fakeTransitions{
		due:      due,
		applyErr: map[uuid.UUID]error{},
		failures: map[uuid.UUID]int{},
	}
}

func (f *fakeTransitions) DueTransitions(_ context.Context, _ time.Time, _ int) ([]store.DueTransition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]store.DueTransition, len(f.due))
	copy(out, f.due)
	return out, nil
}

func (f *fakeTransitions) ApplyTransition(_ context.Context, t store.DueTransition) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.applyErr[t.ID]; err != nil {
		return err
	}
	f.applied = append(f.applied, t.ID)

	// Consuming the handle mirrors the store behavior.
	remaining := f.due[:0]
	for _, d := range f.due {
		if d.ID != t.ID {
			remaining = append(remaining, d)
		}
	}
	f.due = remaining
	return nil
}

func (f *fakeTransitions) RecordTransitionFailure(_ context.Context, id uuid.UUID, maxAttempts int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[id]++
	return f.failures[id] >= maxAttempts, nil
}

func dueTransition(kind store.TransitionKind) store.DueTransition {
	return store.DueTransition{
		ID:                uuid.New(),
		FlagEnvironmentID: uuid.New(),
		Kind:              kind,
		FireAt:            time.Now().Add(-time.Minute),
		ProjectKey:        "acme",
		FlagKey:           "checkout",
		EnvironmentKey:    "production",
	}
}

func TestService_Tick_AppliesDueTransitions(t *testing.T) {
	t.Parallel()

	enable := dueTransition(store.TransitionEnable)
	disable := dueTransition(store.TransitionDisable)
	transitions := newFakeTransitions(enable, disable)

	svc := New(nil, Config{BaseBackoff: time.Millisecond}, transitions)
	require.NoError(t, svc.Tick(context.Background()))

	assert.ElementsMatch(t, []uuid.UUID{enable.ID, disable.ID}, transitions.applied)
	assert.Empty(t, transitions.due)
}

func TestService_Tick_DoubleFireIsIdempotent(t *testing.T) {
	t.Parallel()

	tr := dueTransition(store.TransitionEnable)
	transitions := newFakeTransitions(tr)

	svc := New(nil, Config{BaseBackoff: time.Millisecond}, transitions)
	require.NoError(t, svc.Tick(context.Background()))
	// Second tick sees no due rows: the handle was consumed on first fire.
	require.NoError(t, svc.Tick(context.Background()))

	assert.Equal(t, []uuid.UUID{tr.ID}, transitions.applied)
}

func TestService_Tick_RetriesThenRecordsFailure(t *testing.T) {
	t.Parallel()

	tr := dueTransition(store.TransitionEnable)
	transitions := newFakeTransitions(tr)
	transitions.applyErr[tr.ID] = errors.New("db down")

	svc := New(nil, Config{MaxRetries: 2, BaseBackoff: time.Millisecond}, transitions)
	require.NoError(t, svc.Tick(context.Background()))

	assert.Empty(t, transitions.applied)
	assert.Equal(t, 1, transitions.failures[tr.ID], "one failure recorded per tick")
}

func TestService_Tick_RecoveryAfterTransientFailure(t *testing.T) {
	t.Parallel()

	tr := dueTransition(store.TransitionDisable)
	transitions := newFakeTransitions(tr)
	transitions.applyErr[tr.ID] = errors.New("flaky")

	svc := New(nil, Config{MaxRetries: 2, BaseBackoff: time.Millisecond}, transitions)
	require.NoError(t, svc.Tick(context.Background()))
	assert.Empty(t, transitions.applied)

	// The store recovers; the next tick fires the still-pending handle.
	transitions.mu.Lock()
	delete(transitions.applyErr, tr.ID)
	transitions.mu.Unlock()

	require.NoError(t, svc.Tick(context.Background()))
	assert.Equal(t, []uuid.UUID{tr.ID}, transitions.applied)
}
