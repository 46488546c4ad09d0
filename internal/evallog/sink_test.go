package evallog

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmfontes/skuld/internal/store"
)

type fakeWriter struct {
	mu      sync.Mutex
	records []store.EvaluationRecord
	batches int
}

func (f *fakeWriter) InsertEvaluations(_ context.Context, records []store.EvaluationRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, records...)
	f.batches++
	return nil
}

func (f *fakeWriter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records)
}

func record(flagKey, subject string) store.EvaluationRecord {
	return store.EvaluationRecord{
		FlagKey:        flagKey,
		EnvironmentKey: "production",
		SubjectID:      subject,
		Enabled:        true,
		Reason:         "default",
	}
}

func TestSink_WritesBatches(t *testing.T) {
	t.Parallel()

	writer := &fakeWriter{}
	sink := New(nil, Config{SampleRate: 1, BatchSize: 2, FlushInterval: time.Hour}, writer)

	sink.Log(record("checkout", "u1"))
	sink.Log(record("checkout", "u2"))
	sink.Log(record("checkout", "u3"))

	// The full batch of two flushes immediately; the third waits.
	assert.Eventually(t, func() bool { return writer.count() == 2 }, 2*time.Second, 10*time.Millisecond)

	// Close drains the partial batch.
	sink.Close()
	assert.Equal(t, 3, writer.count())
}

func TestSink_FlushInterval(t *testing.T) {
	t.Parallel()

	writer := &fakeWriter{}
	sink := New(nil, Config{SampleRate: 1, BatchSize: 100, FlushInterval: 30 * time.Millisecond}, writer)
	defer sink.Close()

	sink.Log(record("checkout", "u1"))
	assert.Eventually(t, func() bool { return writer.count() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestSink_EvaluatedAtDefaults(t *testing.T) {
	t.Parallel()

	writer := &fakeWriter{}
	sink := New(nil, Config{SampleRate: 1, BatchSize: 1, FlushInterval: time.Hour}, writer)

	sink.Log(record("checkout", "u1"))
	sink.Close()

	require.Equal(t, 1, writer.count())
	assert.False(t, writer.records[0].EvaluatedAt.IsZero())
}

func TestSink_SampleRateZeroDropsEverything(t *testing.T) {
	t.Parallel()

	writer := &fakeWriter{}
	sink := New(nil, Config{SampleRate: 0, BatchSize: 1, FlushInterval: time.Hour}, writer)

	for i := 0; i < 100; i++ {
		sink.Log(record("checkout", fmt.Sprintf("u%d", i)))
	}
	sink.Close()

	assert.Zero(t, writer.count())
}

func TestSink_SamplingIsDeterministicAndProportional(t *testing.T) {
	t.Parallel()

	sink := &Sink{config: Config{SampleRate: 0.5}}

	kept := 0
	for i := 0; i < 10_000; i++ {
		subject := fmt.Sprintf("subject-%d", i)
		first := sink.sampled("checkout", subject)
		assert.Equal(t, first, sink.sampled("checkout", subject), "sampling must be stable per (flag, subject)")
		if first {
			kept++
		}
	}
	assert.InDelta(t, 5_000, kept, 300)
}
