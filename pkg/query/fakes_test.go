package query

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/logscan/logscan/pkg/apperr"
	"github.com/logscan/logscan/pkg/model"
	"github.com/logscan/logscan/pkg/store"
)

// memEntryStore implements just enough of store.EntryStore in memory to
// exercise the query service: jobId/level/line filters, text search,
// line-number and timestamp sorting, pagination and the aggregations.
type memEntryStore struct {
	entries []model.LogEntry
}

func (s *memEntryStore) BulkInsert(ctx context.Context, entries []*model.LogEntry) error {
	for _, e := range entries {
		s.entries = append(s.entries, *e)
	}
	return nil
}

func (s *memEntryStore) Insert(ctx context.Context, entry *model.LogEntry) error {
	s.entries = append(s.entries, *entry)
	return nil
}

func (s *memEntryStore) matches(e *model.LogEntry, q *store.EntryQuery) bool {
	if e.JobID != q.JobID {
		return false
	}
	if len(q.Levels) > 0 {
		found := false
		for _, level := range q.Levels {
			if e.Level == level {
				found = true
			}
		}
		if !found {
			return false
		}
	}
	if q.HasError != nil && e.HasError != *q.HasError {
		return false
	}
	if q.MinLineNumber != nil && e.LineNumber < *q.MinLineNumber {
		return false
	}
	if q.MaxLineNumber != nil && e.LineNumber > *q.MaxLineNumber {
		return false
	}
	if q.StartDate != nil && e.Timestamp.Before(*q.StartDate) {
		return false
	}
	if q.EndDate != nil && e.Timestamp.After(*q.EndDate) {
		return false
	}
	if logger, ok := q.Keyword["logger"]; ok && e.Logger != logger {
		return false
	}
	if q.SearchText != "" {
		hay := strings.ToLower(e.Message + " " + e.RawLine + " " + e.StackTrace)
		for _, term := range strings.Fields(strings.ToLower(q.SearchText)) {
			if !strings.Contains(hay, term) {
				return false
			}
		}
	}
	return true
}

func (s *memEntryStore) filtered(q *store.EntryQuery) []model.LogEntry {
	var out []model.LogEntry
	for i := range s.entries {
		if s.matches(&s.entries[i], q) {
			out = append(out, s.entries[i])
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		var less bool
		switch q.SortBy {
		case "lineNumber":
			less = out[i].LineNumber < out[j].LineNumber
		default:
			less = out[i].Timestamp.Before(out[j].Timestamp)
		}
		if q.SortAscending {
			return less
		}
		return !less
	})
	return out
}

func (s *memEntryStore) Search(ctx context.Context, q *store.EntryQuery) (*store.EntryPage, error) {
	all := s.filtered(q)
	total := int64(len(all))

	start := q.Offset
	if start > len(all) {
		start = len(all)
	}
	end := len(all)
	if q.Limit > 0 && start+q.Limit < end {
		end = start + q.Limit
	}
	return &store.EntryPage{Entries: all[start:end], Total: total}, nil
}

func (s *memEntryStore) Count(ctx context.Context, q *store.EntryQuery) (int64, error) {
	return int64(len(s.filtered(q))), nil
}

func (s *memEntryStore) LevelCounts(ctx context.Context, jobID string) (map[string]int64, error) {
	counts := map[string]int64{}
	for i := range s.entries {
		if s.entries[i].JobID == jobID {
			counts[s.entries[i].Level]++
		}
	}
	return counts, nil
}

func (s *memEntryStore) Aggregates(ctx context.Context, q *store.EntryQuery) (*store.JobAggregates, error) {
	agg := &store.JobAggregates{LevelCounts: map[string]int64{}}
	loggerCounts := map[string]int64{}
	for _, e := range s.filtered(q) {
		agg.Total++
		agg.LevelCounts[e.Level]++
		if e.HasStackTrace {
			agg.StackTraceCount++
		}
		if e.Logger != "" {
			loggerCounts[e.Logger]++
		}
		ts := e.Timestamp
		if agg.MinTimestamp == nil || ts.Before(*agg.MinTimestamp) {
			t := ts
			agg.MinTimestamp = &t
		}
		if agg.MaxTimestamp == nil || ts.After(*agg.MaxTimestamp) {
			t := ts
			agg.MaxTimestamp = &t
		}
	}
	agg.ErrorCount = agg.LevelCounts[model.LevelError]
	for value, count := range loggerCounts {
		agg.TopLoggers = append(agg.TopLoggers, store.FieldCount{Value: value, Count: count})
	}
	sort.Slice(agg.TopLoggers, func(i, j int) bool {
		if agg.TopLoggers[i].Count != agg.TopLoggers[j].Count {
			return agg.TopLoggers[i].Count > agg.TopLoggers[j].Count
		}
		return agg.TopLoggers[i].Value < agg.TopLoggers[j].Value
	})
	agg.UniqueLoggers = int64(len(loggerCounts))
	return agg, nil
}

func (s *memEntryStore) Timeline(ctx context.Context, jobID string, interval time.Duration) ([]store.TimelineBucket, error) {
	buckets := map[time.Time]*store.TimelineBucket{}
	for i := range s.entries {
		e := &s.entries[i]
		if e.JobID != jobID {
			continue
		}
		start := e.Timestamp.Truncate(interval)
		b, ok := buckets[start]
		if !ok {
			b = &store.TimelineBucket{Start: start}
			buckets[start] = b
		}
		b.Count++
		if e.Level == model.LevelError {
			b.ErrorCount++
		}
		if e.Level == model.LevelWarn {
			b.WarnCount++
		}
	}

	var out []store.TimelineBucket
	for _, b := range buckets {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

func (s *memEntryStore) UniqueValues(ctx context.Context, jobID, field string, limit int) ([]store.FieldCount, error) {
	counts := map[string]int64{}
	for i := range s.entries {
		e := &s.entries[i]
		if e.JobID != jobID {
			continue
		}
		var value string
		switch field {
		case "level":
			value = e.Level
		case "logger":
			value = e.Logger
		case "thread":
			value = e.Thread
		case "source":
			value = e.Source
		case "hostname":
			value = e.Hostname
		case "application":
			value = e.Application
		case "environment":
			value = e.Environment
		case "fileName":
			value = e.FileName
		}
		if value != "" {
			counts[value]++
		}
	}

	var out []store.FieldCount
	for value, count := range counts {
		out = append(out, store.FieldCount{Value: value, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Value < out[j].Value
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memEntryStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) error { return nil }

func (s *memEntryStore) Close() error { return nil }

type memJobStore struct {
	jobs map[string]*model.JobStatus
}

func newMemJobStore() *memJobStore {
	return &memJobStore{jobs: map[string]*model.JobStatus{}}
}

func (s *memJobStore) Save(ctx context.Context, status *model.JobStatus) error {
	snapshot := *status
	s.jobs[status.JobID] = &snapshot
	return nil
}

func (s *memJobStore) Get(ctx context.Context, jobID string) (*model.JobStatus, error) {
	status, ok := s.jobs[jobID]
	if !ok {
		return nil, apperr.New(apperr.NotFound, "job %s not found", jobID)
	}
	snapshot := *status
	return &snapshot, nil
}

func (s *memJobStore) Close() error { return nil }
