// Package evallog is the evaluation log sink: an append-only, sampled record
// of decisions. Writes are fire-and-forget from the decision path; a full
// buffer drops rather than blocks, and a failed batch is logged and
// discarded. Nothing here may ever delay or fail a decision.
package evallog

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/spaolacci/murmur3"

	"github.com/dmfontes/skuld/internal/observability"
	"github.com/dmfontes/skuld/internal/store"
)

// Writer persists batches of evaluation records.
type Writer interface {
	InsertEvaluations(ctx context.Context, records []store.EvaluationRecord) error
}

// Config holds the sink settings.
type Config struct {
	// SampleRate is the fraction of loggable decisions persisted, in [0,1].
	SampleRate float64

	// BufferSize is the in-flight channel capacity; overflow drops.
	BufferSize int

	// BatchSize flushes a batch when reached.
	BatchSize int

	// FlushInterval flushes a partial batch after this long.
	FlushInterval time.Duration
}

// Sink buffers records and writes them in batches on a background goroutine.
type Sink struct {
	logger *slog.Logger
	config Config
	writer Writer

	records chan store.EvaluationRecord
	done    chan struct{}
	once    sync.Once
}

// New creates and starts a sink.
func New(logger *slog.Logger, cfg Config, writer Writer) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	if writer == nil {
		panic("evallog: writer cannot be nil")
	}

	if cfg.SampleRate < 0 {
		cfg.SampleRate = 0
	}
	if cfg.SampleRate > 1 {
		cfg.SampleRate = 1
	}
	if cfg.BufferSize < 1 {
		cfg.BufferSize = 4096
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 128
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 2 * time.Second
	}

	s := &Sink{
		logger:  logger,
		config:  cfg,
		writer:  writer,
		records: make(chan store.EvaluationRecord, cfg.BufferSize),
		done:    make(chan struct{}),
	}
	go s.run()
	return s
}

// Log enqueues one record, applying sampling. Never blocks: when the buffer
// is full the record is dropped and counted.
func (s *Sink) Log(rec store.EvaluationRecord) {
	if !s.sampled(rec.FlagKey, rec.SubjectID) {
		return
	}
	if rec.EvaluatedAt.IsZero() {
		rec.EvaluatedAt = time.Now().UTC()
	}

	select {
	case s.records <- rec:
	default:
		observability.EvalLogDropped.Inc()
	}
}

// sampled decides deterministically whether a (flag, subject) pair is kept.
// Murmur3 is enough here: unlike decision bucketing, the sampling hash is an
// internal choice and favors speed.
func (s *Sink) sampled(flagKey, subjectID string) bool {
	rate := s.config.SampleRate
	if rate >= 1 {
		return true
	}
	if rate <= 0 {
		return false
	}
	h := murmur3.Sum32([]byte(flagKey + ":" + subjectID))
	return float64(h%10_000) < rate*10_000
}

// Close stops the worker after draining buffered records.
func (s *Sink) Close() {
	s.once.Do(func() {
		close(s.records)
		<-s.done
	})
}

func (s *Sink) run() {
	defer close(s.done)

	batch := make([]store.EvaluationRecord, 0, s.config.BatchSize)
	ticker := time.NewTicker(s.config.FlushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		// Detached from any request on purpose: a client cancelling its
		// decision must not cancel the log write.
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := s.writer.InsertEvaluations(ctx, batch); err != nil {
			s.logger.Warn("failed to write evaluation log batch",
				slog.Int("size", len(batch)),
				slog.String("error", err.Error()),
			)
			observability.EvalLogDropped.Add(float64(len(batch)))
		} else {
			observability.EvalLogWritten.Add(float64(len(batch)))
		}
		batch = batch[:0]
	}

	for {
		select {
		case rec, ok := <-s.records:
			if !ok {
				flush()
				return
			}
			batch = append(batch, rec)
			if len(batch) >= s.config.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}
