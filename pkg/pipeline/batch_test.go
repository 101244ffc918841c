package pipeline

import (
	"context"
	"strconv"
	"testing"

	"go.uber.org/zap"

	"github.com/logscan/logscan/pkg/model"
)

func makeEntries(n int) []*model.LogEntry {
	out := make([]*model.LogEntry, n)
	for i := range out {
		out[i] = &model.LogEntry{
			ID:         strconv.Itoa(i),
			JobID:      "job-1",
			LineNumber: int64(i + 1),
			Level:      model.LevelInfo,
		}
	}
	return out
}

func TestBatchWriterFlushesAtThreshold(t *testing.T) {
	entryStore := &memEntryStore{}
	var flushes int
	w := NewBatchWriter(entryStore, 3, false, func(flush FlushStats, total BatchStatistics) {
		flushes++
	}, zap.NewNop())

	ctx := context.Background()
	for _, e := range makeEntries(7) {
		if err := w.Add(ctx, e); err != nil {
			t.Fatal(err)
		}
	}

	if flushes != 2 {
		t.Fatalf("flushes = %d, want 2 at threshold 3", flushes)
	}
	if got := len(entryStore.all()); got != 6 {
		t.Fatalf("stored = %d, want 6 before final flush", got)
	}
	if w.Pending() != 1 {
		t.Fatalf("pending = %d, want 1", w.Pending())
	}

	if err := w.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	if got := len(entryStore.all()); got != 7 {
		t.Fatalf("stored = %d, want 7 after final flush", got)
	}

	stats := w.Stats()
	if stats.TotalEntries != 7 || stats.SavedEntries != 7 || stats.BatchCount != 3 {
		t.Fatalf("stats = %+v", stats)
	}
	if stats.SuccessRate() != 1.0 {
		t.Fatalf("success rate = %f", stats.SuccessRate())
	}
}

func TestBatchWriterPartialFailureFallback(t *testing.T) {
	entryStore := &memEntryStore{failBulk: true, failEvery: 5}
	w := NewBatchWriter(entryStore, 10, true, nil, zap.NewNop())

	ctx := context.Background()
	for _, e := range makeEntries(10) {
		if err := w.Add(ctx, e); err != nil {
			t.Fatal(err)
		}
	}

	// Bulk write failed, per-entry fallback saved all but every 5th.
	if got := len(entryStore.all()); got != 8 {
		t.Fatalf("stored = %d, want 8 (two single-insert failures)", got)
	}

	stats := w.Stats()
	if stats.TotalEntries != 10 || stats.SavedEntries != 8 || stats.FailedEntries != 2 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestBatchWriterStopsOnErrorWhenConfigured(t *testing.T) {
	entryStore := &memEntryStore{failBulk: true}
	w := NewBatchWriter(entryStore, 2, false, nil, zap.NewNop())

	ctx := context.Background()
	w.Add(ctx, makeEntries(1)[0])
	err := w.Add(ctx, makeEntries(1)[0])
	if err == nil {
		t.Fatal("expected bulk failure to propagate when continueOnError is off")
	}
}

func TestBatchWriterEmptyFlushIsNoop(t *testing.T) {
	entryStore := &memEntryStore{}
	var flushes int
	w := NewBatchWriter(entryStore, 10, true, func(FlushStats, BatchStatistics) { flushes++ }, zap.NewNop())

	if err := w.Flush(context.Background()); err != nil {
		t.Fatal(err)
	}
	if flushes != 0 {
		t.Fatal("empty flush must not fire the callback")
	}
}
