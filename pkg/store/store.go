package store

import (
	"context"
	"time"

	"github.com/logscan/logscan/pkg/model"
)

// DefaultSearchFields are the full-text fields searched when a request
// does not name its own.
var DefaultSearchFields = []string{"message", "rawLine", "stackTrace"}

// KeywordColumns maps the exact-match document fields of the external
// contract onto storage columns.
var KeywordColumns = map[string]string{
	"level":       "level",
	"logger":      "logger",
	"thread":      "thread",
	"source":      "source",
	"hostname":    "hostname",
	"application": "application",
	"environment": "environment",
	"fileName":    "file_name",
	"tags":        "tags",
}

// SortColumns maps the sortable document fields onto storage columns.
var SortColumns = map[string]string{
	"timestamp":   "timestamp",
	"lineNumber":  "line_number",
	"level":       "level",
	"logger":      "logger",
	"thread":      "thread",
	"source":      "source",
	"hostname":    "hostname",
	"application": "application",
	"indexedAt":   "indexed_at",
}

// TextColumns maps the full-text document fields onto storage columns.
var TextColumns = map[string]string{
	"message":    "message",
	"rawLine":    "raw_line",
	"stackTrace": "stack_trace",
}

// EntryQuery is the compiled, backend-neutral form of a search request.
// All filters compose with AND semantics; values inside Levels and Tags
// are OR-ed.
type EntryQuery struct {
	JobID string

	SearchText   string
	SearchFields []string

	Levels        []string
	Keyword       map[string]string // field name -> value, may contain * and ?
	HasError      *bool
	HasStackTrace *bool
	Tags          []string

	StartDate *time.Time
	EndDate   *time.Time

	MinLineNumber *int64
	MaxLineNumber *int64

	SortBy        string
	SortAscending bool

	Offset int
	Limit  int

	// Source projection: document field names to include or exclude.
	IncludeFields []string
	ExcludeFields []string
}

type EntryPage struct {
	Entries []model.LogEntry
	Total   int64
}

type FieldCount struct {
	Value string `json:"value"`
	Count int64  `json:"count"`
}

type TimelineBucket struct {
	Start      time.Time `json:"timestamp"`
	Count      int64     `json:"count"`
	ErrorCount int64     `json:"errorCount"`
	WarnCount  int64     `json:"warnCount"`
}

// JobAggregates is the aggregation-derived view over one job's entries.
type JobAggregates struct {
	Total           int64
	LevelCounts     map[string]int64
	ErrorCount      int64
	StackTraceCount int64
	MinTimestamp    *time.Time
	MaxTimestamp    *time.Time
	TopLoggers      []FieldCount
	TopThreads      []FieldCount
	TopSources      []FieldCount
	UniqueLoggers   int64
	UniqueThreads   int64
	UniqueSources   int64
}

// EntryStore is the document store contract: bulk writes partitioned by
// job id, filtered search, and the aggregations the query layer needs.
type EntryStore interface {
	BulkInsert(ctx context.Context, entries []*model.LogEntry) error
	Insert(ctx context.Context, entry *model.LogEntry) error

	Search(ctx context.Context, q *EntryQuery) (*EntryPage, error)
	Count(ctx context.Context, q *EntryQuery) (int64, error)

	LevelCounts(ctx context.Context, jobID string) (map[string]int64, error)
	Aggregates(ctx context.Context, q *EntryQuery) (*JobAggregates, error)
	Timeline(ctx context.Context, jobID string, interval time.Duration) ([]TimelineBucket, error)
	UniqueValues(ctx context.Context, jobID, field string, limit int) ([]FieldCount, error)

	DeleteOlderThan(ctx context.Context, cutoff time.Time) error
	Close() error
}

// JobStore persists JobStatus snapshots. Saves are whole-record
// replacements; records expire 24 hours after their last write.
type JobStore interface {
	Save(ctx context.Context, status *model.JobStatus) error
	Get(ctx context.Context, jobID string) (*model.JobStatus, error)
	Close() error
}
