package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/logscan/logscan/pkg/apperr"
	"github.com/logscan/logscan/pkg/model"
	"github.com/logscan/logscan/pkg/store"
)

// memEntryStore is a minimal in-memory EntryStore for pipeline tests.
type memEntryStore struct {
	mu        sync.Mutex
	entries   []*model.LogEntry
	failBulk  bool
	failEvery int // fail every Nth single insert when > 0
	inserts   int
}

func (s *memEntryStore) BulkInsert(ctx context.Context, entries []*model.LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failBulk {
		return errors.New("bulk write refused")
	}
	s.entries = append(s.entries, entries...)
	return nil
}

func (s *memEntryStore) Insert(ctx context.Context, entry *model.LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inserts++
	if s.failEvery > 0 && s.inserts%s.failEvery == 0 {
		return errors.New("single write refused")
	}
	s.entries = append(s.entries, entry)
	return nil
}

func (s *memEntryStore) Search(ctx context.Context, q *store.EntryQuery) (*store.EntryPage, error) {
	return &store.EntryPage{}, nil
}

func (s *memEntryStore) Count(ctx context.Context, q *store.EntryQuery) (int64, error) {
	return int64(len(s.all())), nil
}

func (s *memEntryStore) LevelCounts(ctx context.Context, jobID string) (map[string]int64, error) {
	counts := map[string]int64{}
	for _, e := range s.all() {
		if e.JobID == jobID {
			counts[e.Level]++
		}
	}
	return counts, nil
}

func (s *memEntryStore) Aggregates(ctx context.Context, q *store.EntryQuery) (*store.JobAggregates, error) {
	return &store.JobAggregates{}, nil
}

func (s *memEntryStore) Timeline(ctx context.Context, jobID string, interval time.Duration) ([]store.TimelineBucket, error) {
	return nil, nil
}

func (s *memEntryStore) UniqueValues(ctx context.Context, jobID, field string, limit int) ([]store.FieldCount, error) {
	return nil, nil
}

func (s *memEntryStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) error {
	return nil
}

func (s *memEntryStore) Close() error { return nil }

func (s *memEntryStore) all() []*model.LogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*model.LogEntry, len(s.entries))
	copy(out, s.entries)
	return out
}

// memJobStore is an in-memory JobStore recording every snapshot so tests
// can assert on progress monotonicity.
type memJobStore struct {
	mu      sync.Mutex
	current map[string]*model.JobStatus
	history map[string][]model.JobStatus
}

func newMemJobStore() *memJobStore {
	return &memJobStore{
		current: map[string]*model.JobStatus{},
		history: map[string][]model.JobStatus{},
	}
}

func (s *memJobStore) Save(ctx context.Context, status *model.JobStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := *status
	s.current[status.JobID] = &snapshot
	s.history[status.JobID] = append(s.history[status.JobID], snapshot)
	return nil
}

func (s *memJobStore) Get(ctx context.Context, jobID string) (*model.JobStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	status, ok := s.current[jobID]
	if !ok {
		return nil, apperr.New(apperr.NotFound, "job %s not found", jobID)
	}
	snapshot := *status
	return &snapshot, nil
}

func (s *memJobStore) Close() error { return nil }

func (s *memJobStore) snapshots(jobID string) []model.JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.JobStatus(nil), s.history[jobID]...)
}
