package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/logscan/logscan/pkg/metrics"
	"github.com/logscan/logscan/pkg/model"
	"github.com/logscan/logscan/pkg/store"
)

const DefaultBatchSize = 1000

// FlushStats describes one flush.
type FlushStats struct {
	Attempted int
	Saved     int
	ElapsedMs int64
}

// BatchStatistics aggregates across a writer's lifetime.
type BatchStatistics struct {
	TotalEntries    int64
	SavedEntries    int64
	FailedEntries   int64
	BatchCount      int64
	TotalSaveTimeMs int64
}

func (s BatchStatistics) AvgSaveTimeMs() float64 {
	if s.BatchCount == 0 {
		return 0
	}
	return float64(s.TotalSaveTimeMs) / float64(s.BatchCount)
}

func (s BatchStatistics) SuccessRate() float64 {
	if s.TotalEntries == 0 {
		return 0
	}
	return float64(s.SavedEntries) / float64(s.TotalEntries)
}

// FlushCallback fires after every flush with that flush's stats and the
// running aggregate.
type FlushCallback func(flush FlushStats, total BatchStatistics)

// BatchWriter accumulates entries and flushes them in bulk when the
// threshold is reached or at end of stream. It is confined to one worker.
type BatchWriter struct {
	entries         store.EntryStore
	size            int
	continueOnError bool
	onFlush         FlushCallback
	logger          *zap.Logger

	buf   []*model.LogEntry
	stats BatchStatistics
}

func NewBatchWriter(entries store.EntryStore, size int, continueOnError bool, onFlush FlushCallback, logger *zap.Logger) *BatchWriter {
	if size <= 0 {
		size = DefaultBatchSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BatchWriter{
		entries:         entries,
		size:            size,
		continueOnError: continueOnError,
		onFlush:         onFlush,
		logger:          logger,
		buf:             make([]*model.LogEntry, 0, size),
	}
}

// Add appends an entry, flushing synchronously when the batch is full.
func (w *BatchWriter) Add(ctx context.Context, entry *model.LogEntry) error {
	w.buf = append(w.buf, entry)
	if len(w.buf) >= w.size {
		return w.Flush(ctx)
	}
	return nil
}

// Flush writes the buffered entries. A failed bulk write degrades to
// per-entry writes when continueOnError is set, so partial progress
// survives a poisoned batch.
func (w *BatchWriter) Flush(ctx context.Context) error {
	if len(w.buf) == 0 {
		return nil
	}

	batch := w.buf
	w.buf = make([]*model.LogEntry, 0, w.size)

	start := time.Now()
	saved := len(batch)

	err := w.entries.BulkInsert(ctx, batch)
	if err != nil {
		if !w.continueOnError {
			w.record(FlushStats{Attempted: len(batch), Saved: 0, ElapsedMs: time.Since(start).Milliseconds()})
			return err
		}

		w.logger.Error("bulk write failed, retrying entries individually",
			zap.Int("entries", len(batch)), zap.Error(err))
		saved = 0
		for _, entry := range batch {
			if insErr := w.entries.Insert(ctx, entry); insErr != nil {
				w.logger.Debug("entry write failed",
					zap.String("id", entry.ID),
					zap.Int64("line", entry.LineNumber),
					zap.Error(insErr))
				continue
			}
			saved++
		}
	}

	w.record(FlushStats{
		Attempted: len(batch),
		Saved:     saved,
		ElapsedMs: time.Since(start).Milliseconds(),
	})
	return nil
}

func (w *BatchWriter) record(flush FlushStats) {
	w.stats.TotalEntries += int64(flush.Attempted)
	w.stats.SavedEntries += int64(flush.Saved)
	w.stats.FailedEntries += int64(flush.Attempted - flush.Saved)
	w.stats.BatchCount++
	w.stats.TotalSaveTimeMs += flush.ElapsedMs

	metrics.BatchFlushDuration.Observe(float64(flush.ElapsedMs) / 1000.0)
	metrics.BatchEntriesSaved.Add(float64(flush.Saved))

	if w.onFlush != nil {
		w.onFlush(flush, w.stats)
	}
}

// Pending returns the number of buffered, unflushed entries.
func (w *BatchWriter) Pending() int {
	return len(w.buf)
}

func (w *BatchWriter) Stats() BatchStatistics {
	return w.stats
}
