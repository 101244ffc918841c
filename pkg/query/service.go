package query

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/logscan/logscan/pkg/metrics"
	"github.com/logscan/logscan/pkg/model"
	"github.com/logscan/logscan/pkg/store"
)

// Keyword fields surfaced by the available-fields endpoint, in display
// order.
var availableFields = []string{
	"level", "logger", "thread", "source", "hostname", "application", "environment", "fileName",
}

// Service executes compiled queries and shapes responses: pagination,
// summaries, highlights, timelines and exports.
type Service struct {
	entries store.EntryStore
	jobs    store.JobStore
	logger  *zap.Logger
}

func NewService(entries store.EntryStore, jobs store.JobStore, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{entries: entries, jobs: jobs, logger: logger}
}

// Search runs a full search request: compile, execute, hydrate,
// optionally summarize and highlight.
func (s *Service) Search(ctx context.Context, req *LogQueryRequest) (*LogQueryResponse, error) {
	q, err := Compile(req)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	defer func() {
		metrics.QueryDuration.WithLabelValues("search").Observe(time.Since(start).Seconds())
	}()

	// The job must exist even when no entries match.
	if _, err := s.jobs.Get(ctx, q.JobID); err != nil {
		return nil, err
	}

	page, err := s.entries.Search(ctx, q)
	if err != nil {
		return nil, err
	}

	resp := &LogQueryResponse{
		JobID:      q.JobID,
		Entries:    page.Entries,
		Pagination: NewPaginationInfo(req.Page, req.PageSize(), page.Total),
	}

	if req.IncludeSummary {
		agg, err := s.entries.Aggregates(ctx, q)
		if err != nil {
			return nil, err
		}
		resp.Summary = filterSummary(agg)
	}

	if req.HighlightMatches && req.SearchText != "" {
		resp.Highlights = buildHighlights(page.Entries, req.SearchText, req.EffectiveSearchFields())
	}

	resp.QueryTimeMs = time.Since(start).Milliseconds()
	s.logger.Debug("search executed",
		zap.String("job_id", q.JobID),
		zap.Int64("total", page.Total),
		zap.Int64("elapsed_ms", resp.QueryTimeMs))
	return resp, nil
}

// Count returns the match count for the request without hydration.
func (s *Service) Count(ctx context.Context, req *LogQueryRequest) (int64, error) {
	q, err := CompileCount(req)
	if err != nil {
		return 0, err
	}
	return s.entries.Count(ctx, q)
}

// JobSummary composes aggregations over the whole job with the job's
// processing metadata.
func (s *Service) JobSummary(ctx context.Context, jobID string) (*JobSummary, error) {
	status, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	defer func() {
		metrics.QueryDuration.WithLabelValues("summary").Observe(time.Since(start).Seconds())
	}()

	agg, err := s.entries.Aggregates(ctx, &store.EntryQuery{JobID: jobID})
	if err != nil {
		return nil, err
	}

	summary := &JobSummary{
		JobID:            jobID,
		FileName:         status.FileName,
		FileSize:         status.FileSize,
		Status:           string(status.Status),
		StartedAt:        status.StartedAt,
		CompletedAt:      status.CompletedAt,
		ProcessingTimeMs: status.ProcessingTimeMs,
		LinesPerSecond:   status.LinesPerSecond,
		TotalLines:       status.TotalLines,
		SuccessfulLines:  status.SuccessfulLines,
		FailedLines:      status.FailedLines,
		TotalEntries:     agg.Total,
		LevelCounts:      agg.LevelCounts,
		ErrorCount:       agg.ErrorCount,
		WarningCount:     agg.LevelCounts[model.LevelWarn],
		StackTraceCount:  agg.StackTraceCount,
		EarliestEntry:    agg.MinTimestamp,
		LatestEntry:      agg.MaxTimestamp,
		TopLoggers:       agg.TopLoggers,
		TopThreads:       agg.TopThreads,
		TopSources:       agg.TopSources,
		UniqueLoggers:    agg.UniqueLoggers,
		UniqueThreads:    agg.UniqueThreads,
		UniqueSources:    agg.UniqueSources,
	}

	if agg.MinTimestamp != nil && agg.MaxTimestamp != nil {
		summary.TimeSpanSeconds = int64(agg.MaxTimestamp.Sub(*agg.MinTimestamp).Seconds())
	}

	return summary, nil
}

// LevelDistribution returns the per-level entry counts for a job.
func (s *Service) LevelDistribution(ctx context.Context, jobID string) (map[string]int64, error) {
	if _, err := s.jobs.Get(ctx, jobID); err != nil {
		return nil, err
	}
	return s.entries.LevelCounts(ctx, jobID)
}

// Timeline buckets the job's entries on the requested interval.
func (s *Service) Timeline(ctx context.Context, jobID, intervalToken string) (*TimelineData, error) {
	if _, err := s.jobs.Get(ctx, jobID); err != nil {
		return nil, err
	}

	interval, err := ParseInterval(intervalToken)
	if err != nil {
		return nil, err
	}
	if intervalToken == "" {
		intervalToken = "1h"
	}

	start := time.Now()
	defer func() {
		metrics.QueryDuration.WithLabelValues("timeline").Observe(time.Since(start).Seconds())
	}()

	buckets, err := s.entries.Timeline(ctx, jobID, interval)
	if err != nil {
		return nil, err
	}

	data := &TimelineData{JobID: jobID, Interval: intervalToken, Buckets: buckets}
	for _, b := range buckets {
		data.Total += b.Count
	}
	return data, nil
}

// UniqueValues returns the top distinct values of a keyword field.
func (s *Service) UniqueValues(ctx context.Context, jobID, field string, limit int) ([]store.FieldCount, error) {
	if err := ValidateUniqueValuesField(field); err != nil {
		return nil, err
	}
	if _, err := s.jobs.Get(ctx, jobID); err != nil {
		return nil, err
	}
	return s.entries.UniqueValues(ctx, jobID, field, limit)
}

// AvailableFields maps each keyword field to up to ten sample values.
func (s *Service) AvailableFields(ctx context.Context, jobID string) (map[string][]string, error) {
	if _, err := s.jobs.Get(ctx, jobID); err != nil {
		return nil, err
	}

	fields := make(map[string][]string, len(availableFields))
	for _, field := range availableFields {
		counts, err := s.entries.UniqueValues(ctx, jobID, field, 10)
		if err != nil {
			return nil, err
		}
		values := make([]string, 0, len(counts))
		for _, fc := range counts {
			values = append(values, fc.Value)
		}
		fields[field] = values
	}
	return fields, nil
}

// ContextLines returns the neighborhood of one line: before and after
// neighbors in line order. A pivot past the job's last line yields an
// empty page rather than an error.
func (s *Service) ContextLines(ctx context.Context, jobID string, lineNumber, before, after int64) (*LogQueryResponse, error) {
	if before < 0 {
		before = 0
	}
	if after < 0 {
		after = 0
	}

	min := lineNumber - before
	if min < 1 {
		min = 1
	}
	max := lineNumber + after
	size := int(max - min + 1)
	if size > MaxPageSize {
		size = MaxPageSize
	}

	req := &LogQueryRequest{
		JobID:         jobID,
		MinLineNumber: &min,
		MaxLineNumber: &max,
		SortBy:        "lineNumber",
		SortDirection: "asc",
		Size:          &size,
	}
	return s.Search(ctx, req)
}

func filterSummary(agg *store.JobAggregates) *FilterSummary {
	return &FilterSummary{
		LevelCounts:     agg.LevelCounts,
		ErrorCount:      agg.ErrorCount,
		StackTraceCount: agg.StackTraceCount,
		EarliestEntry:   agg.MinTimestamp,
		LatestEntry:     agg.MaxTimestamp,
		TopLoggers:      agg.TopLoggers,
		TopThreads:      agg.TopThreads,
		TopSources:      agg.TopSources,
		UniqueLoggers:   agg.UniqueLoggers,
		UniqueThreads:   agg.UniqueThreads,
		UniqueSources:   agg.UniqueSources,
	}
}
