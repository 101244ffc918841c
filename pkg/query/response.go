package query

import (
	"time"

	"github.com/logscan/logscan/pkg/model"
	"github.com/logscan/logscan/pkg/store"
)

type PaginationInfo struct {
	CurrentPage   int   `json:"currentPage"`
	PageSize      int   `json:"pageSize"`
	TotalElements int64 `json:"totalElements"`
	TotalPages    int64 `json:"totalPages"`
	HasNext       bool  `json:"hasNext"`
	HasPrevious   bool  `json:"hasPrevious"`
	FirstElement  int64 `json:"firstElement"`
	LastElement   int64 `json:"lastElement"`
}

// NewPaginationInfo derives page arithmetic from the total match count.
func NewPaginationInfo(page, size int, total int64) PaginationInfo {
	totalPages := total / int64(size)
	if total%int64(size) != 0 {
		totalPages++
	}

	info := PaginationInfo{
		CurrentPage:   page,
		PageSize:      size,
		TotalElements: total,
		TotalPages:    totalPages,
		HasNext:       int64(page) < totalPages-1,
		HasPrevious:   page > 0,
	}
	if total > 0 && int64(page) < totalPages {
		info.FirstElement = int64(page) * int64(size)
		last := info.FirstElement + int64(size) - 1
		if last > total-1 {
			last = total - 1
		}
		info.LastElement = last
	}
	return info
}

// FilterSummary is the aggregation view over a query's matching set.
type FilterSummary struct {
	LevelCounts     map[string]int64   `json:"levelCounts"`
	ErrorCount      int64              `json:"errorCount"`
	StackTraceCount int64              `json:"stackTraceCount"`
	EarliestEntry   *time.Time         `json:"earliestEntry,omitempty"`
	LatestEntry     *time.Time         `json:"latestEntry,omitempty"`
	TopLoggers      []store.FieldCount `json:"topLoggers,omitempty"`
	TopThreads      []store.FieldCount `json:"topThreads,omitempty"`
	TopSources      []store.FieldCount `json:"topSources,omitempty"`
	UniqueLoggers   int64              `json:"uniqueLoggers"`
	UniqueThreads   int64              `json:"uniqueThreads"`
	UniqueSources   int64              `json:"uniqueSources"`
}

// LogQueryResponse carries one page of hydrated entries.
type LogQueryResponse struct {
	JobID       string                         `json:"jobId"`
	Entries     []model.LogEntry               `json:"entries"`
	Pagination  PaginationInfo                 `json:"pagination"`
	Summary     *FilterSummary                 `json:"summary,omitempty"`
	Highlights  map[string]map[string][]string `json:"highlights,omitempty"`
	QueryTimeMs int64                          `json:"queryTimeMs"`
}

// JobSummary composes query aggregations with the job's own metadata.
type JobSummary struct {
	JobID            string     `json:"jobId"`
	FileName         string     `json:"fileName"`
	FileSize         int64      `json:"fileSize"`
	Status           string     `json:"status"`
	StartedAt        time.Time  `json:"startedAt"`
	CompletedAt      *time.Time `json:"completedAt,omitempty"`
	ProcessingTimeMs int64      `json:"processingTimeMs"`
	LinesPerSecond   float64    `json:"linesPerSecond"`

	TotalLines      int64 `json:"totalLines"`
	SuccessfulLines int64 `json:"successfulLines"`
	FailedLines     int64 `json:"failedLines"`

	TotalEntries    int64            `json:"totalEntries"`
	LevelCounts     map[string]int64 `json:"levelCounts"`
	ErrorCount      int64            `json:"errorCount"`
	WarningCount    int64            `json:"warningCount"`
	StackTraceCount int64            `json:"stackTraceCount"`

	EarliestEntry   *time.Time `json:"earliestEntry,omitempty"`
	LatestEntry     *time.Time `json:"latestEntry,omitempty"`
	TimeSpanSeconds int64      `json:"timeSpanSeconds"`

	TopLoggers    []store.FieldCount `json:"topLoggers,omitempty"`
	TopThreads    []store.FieldCount `json:"topThreads,omitempty"`
	TopSources    []store.FieldCount `json:"topSources,omitempty"`
	UniqueLoggers int64              `json:"uniqueLoggers"`
	UniqueThreads int64              `json:"uniqueThreads"`
	UniqueSources int64              `json:"uniqueSources"`
}

// TimelineData is the date-histogram view over one job.
type TimelineData struct {
	JobID    string                 `json:"jobId"`
	Interval string                 `json:"interval"`
	Buckets  []store.TimelineBucket `json:"buckets"`
	Total    int64                  `json:"total"`
}
