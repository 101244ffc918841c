package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"gorm.io/gorm"

	"github.com/logscan/logscan/pkg/apperr"
	"github.com/logscan/logscan/pkg/model"
	"github.com/logscan/logscan/pkg/store"
)

const insertBatchSize = 100

// EntryRepository implements store.EntryStore on PostgreSQL through gorm.
type EntryRepository struct {
	db *gorm.DB
}

func NewEntryRepository(db *gorm.DB) *EntryRepository {
	return &EntryRepository{db: db}
}

func (r *EntryRepository) BulkInsert(ctx context.Context, entries []*model.LogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).CreateInBatches(entries, insertBatchSize).Error
}

func (r *EntryRepository) Insert(ctx context.Context, entry *model.LogEntry) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *EntryRepository) Search(ctx context.Context, q *store.EntryQuery) (*store.EntryPage, error) {
	query, err := r.apply(ctx, q)
	if err != nil {
		return nil, err
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, fmt.Errorf("count entries: %w", err)
	}

	query = query.Order(orderClause(q))
	if q.Limit > 0 {
		query = query.Limit(q.Limit)
	}
	if q.Offset > 0 {
		query = query.Offset(q.Offset)
	}
	if cols := projectedColumns(q); cols != nil {
		query = query.Select(cols)
	} else if omitted := omittedColumns(q); omitted != nil {
		query = query.Omit(omitted...)
	}

	var entries []model.LogEntry
	if err := query.Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("search entries: %w", err)
	}

	return &store.EntryPage{Entries: entries, Total: total}, nil
}

func (r *EntryRepository) Count(ctx context.Context, q *store.EntryQuery) (int64, error) {
	query, err := r.apply(ctx, q)
	if err != nil {
		return 0, err
	}
	var total int64
	if err := query.Count(&total).Error; err != nil {
		return 0, fmt.Errorf("count entries: %w", err)
	}
	return total, nil
}

func (r *EntryRepository) LevelCounts(ctx context.Context, jobID string) (map[string]int64, error) {
	type row struct {
		Level string
		N     int64
	}
	var rows []row
	err := r.db.WithContext(ctx).
		Model(&model.LogEntry{}).
		Select("level, count(*) as n").
		Where("job_id = ?", jobID).
		Group("level").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("level counts: %w", err)
	}

	counts := make(map[string]int64, len(rows))
	for _, r := range rows {
		counts[r.Level] = r.N
	}
	return counts, nil
}

// Aggregates computes the filter summary over the query's matching set,
// not the whole job: the same filters apply to counts, top-N and bounds.
func (r *EntryRepository) Aggregates(ctx context.Context, q *store.EntryQuery) (*store.JobAggregates, error) {
	agg := &store.JobAggregates{}

	levelQuery, err := r.apply(ctx, q)
	if err != nil {
		return nil, err
	}
	type levelRow struct {
		Level string
		N     int64
	}
	var levels []levelRow
	if err := levelQuery.Select("level, count(*) as n").Group("level").Scan(&levels).Error; err != nil {
		return nil, fmt.Errorf("level counts: %w", err)
	}
	agg.LevelCounts = make(map[string]int64, len(levels))
	for _, row := range levels {
		agg.LevelCounts[row.Level] = row.N
		agg.Total += row.N
	}
	agg.ErrorCount = agg.LevelCounts[model.LevelError]

	summaryQuery, err := r.apply(ctx, q)
	if err != nil {
		return nil, err
	}
	type summaryRow struct {
		StackTraces   int64
		MinTs         *time.Time
		MaxTs         *time.Time
		UniqueLoggers int64
		UniqueThreads int64
		UniqueSources int64
	}
	var s summaryRow
	err = summaryQuery.
		Select(`count(*) filter (where has_stack_trace) as stack_traces,
			min(timestamp) as min_ts,
			max(timestamp) as max_ts,
			count(distinct logger) filter (where logger <> '') as unique_loggers,
			count(distinct thread) filter (where thread <> '') as unique_threads,
			count(distinct source) filter (where source <> '') as unique_sources`).
		Scan(&s).Error
	if err != nil {
		return nil, fmt.Errorf("filter summary: %w", err)
	}

	agg.StackTraceCount = s.StackTraces
	agg.MinTimestamp = s.MinTs
	agg.MaxTimestamp = s.MaxTs
	agg.UniqueLoggers = s.UniqueLoggers
	agg.UniqueThreads = s.UniqueThreads
	agg.UniqueSources = s.UniqueSources

	if agg.TopLoggers, err = r.topValues(ctx, q, "logger"); err != nil {
		return nil, err
	}
	if agg.TopThreads, err = r.topValues(ctx, q, "thread"); err != nil {
		return nil, err
	}
	if agg.TopSources, err = r.topValues(ctx, q, "source"); err != nil {
		return nil, err
	}

	return agg, nil
}

func (r *EntryRepository) topValues(ctx context.Context, q *store.EntryQuery, column string) ([]store.FieldCount, error) {
	query, err := r.apply(ctx, q)
	if err != nil {
		return nil, err
	}
	var counts []store.FieldCount
	err = query.
		Select(column+" as value, count(*) as count").
		Where(column+" <> ''").
		Group(column).
		Order("count DESC, value").
		Limit(10).
		Scan(&counts).Error
	if err != nil {
		return nil, fmt.Errorf("top %s values: %w", column, err)
	}
	return counts, nil
}

func (r *EntryRepository) Timeline(ctx context.Context, jobID string, interval time.Duration) ([]store.TimelineBucket, error) {
	seconds := int64(interval.Seconds())
	if seconds <= 0 {
		return nil, apperr.New(apperr.Invalid, "timeline interval must be positive")
	}

	var buckets []store.TimelineBucket
	err := r.db.WithContext(ctx).Raw(`
		SELECT to_timestamp(floor(extract(epoch FROM timestamp) / ?) * ?) AS start,
		       count(*) AS count,
		       count(*) FILTER (WHERE level = 'ERROR') AS error_count,
		       count(*) FILTER (WHERE level = 'WARN') AS warn_count
		FROM log_entries
		WHERE job_id = ?
		GROUP BY start
		ORDER BY start
	`, seconds, seconds, jobID).Scan(&buckets).Error
	if err != nil {
		return nil, fmt.Errorf("timeline: %w", err)
	}
	return buckets, nil
}

func (r *EntryRepository) UniqueValues(ctx context.Context, jobID, field string, limit int) ([]store.FieldCount, error) {
	column, ok := store.KeywordColumns[field]
	if !ok {
		return nil, apperr.New(apperr.Invalid, "field %q is not a keyword field", field)
	}
	if limit <= 0 {
		limit = 10
	}

	var counts []store.FieldCount
	var err error
	if field == "tags" {
		err = r.db.WithContext(ctx).Raw(`
			SELECT tag AS value, count(*) AS count
			FROM log_entries, unnest(tags) AS tag
			WHERE job_id = ?
			GROUP BY tag
			ORDER BY count DESC, value
			LIMIT ?
		`, jobID, limit).Scan(&counts).Error
	} else {
		err = r.db.WithContext(ctx).Raw(fmt.Sprintf(`
			SELECT %s AS value, count(*) AS count
			FROM log_entries
			WHERE job_id = ? AND %s <> ''
			GROUP BY %s
			ORDER BY count DESC, value
			LIMIT ?
		`, column, column, column), jobID, limit).Scan(&counts).Error
	}
	if err != nil {
		return nil, fmt.Errorf("unique values for %s: %w", field, err)
	}
	return counts, nil
}

func (r *EntryRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) error {
	return r.db.WithContext(ctx).
		Where("indexed_at < ?", cutoff).
		Delete(&model.LogEntry{}).Error
}

func (r *EntryRepository) Close() error {
	return nil
}

// apply builds the filter chain shared by Search and Count.
func (r *EntryRepository) apply(ctx context.Context, q *store.EntryQuery) (*gorm.DB, error) {
	if q.JobID == "" {
		return nil, apperr.New(apperr.Invalid, "jobId is required")
	}

	query := r.db.WithContext(ctx).Model(&model.LogEntry{}).Where("job_id = ?", q.JobID)

	if q.SearchText != "" {
		fields := q.SearchFields
		if len(fields) == 0 {
			fields = store.DefaultSearchFields
		}
		for _, term := range strings.Fields(q.SearchText) {
			var clauses []string
			var args []interface{}
			for _, field := range fields {
				column, ok := store.TextColumns[field]
				if !ok {
					continue
				}
				clauses = append(clauses, column+" ILIKE ?")
				args = append(args, "%"+escapeLike(term)+"%")
			}
			if len(clauses) > 0 {
				query = query.Where(strings.Join(clauses, " OR "), args...)
			}
		}
	}

	if len(q.Levels) > 0 {
		query = query.Where("level IN ?", q.Levels)
	}

	for field, value := range q.Keyword {
		column, ok := store.KeywordColumns[field]
		if !ok || field == "tags" {
			continue
		}
		if pattern, wildcard := wildcardPattern(value); wildcard {
			query = query.Where(column+" LIKE ?", pattern)
		} else {
			query = query.Where(column+" = ?", value)
		}
	}

	if q.HasError != nil {
		query = query.Where("has_error = ?", *q.HasError)
	}
	if q.HasStackTrace != nil {
		query = query.Where("has_stack_trace = ?", *q.HasStackTrace)
	}
	if len(q.Tags) > 0 {
		query = query.Where("tags && ?", pq.Array(q.Tags))
	}
	if q.StartDate != nil {
		query = query.Where("timestamp >= ?", *q.StartDate)
	}
	if q.EndDate != nil {
		query = query.Where("timestamp <= ?", *q.EndDate)
	}
	if q.MinLineNumber != nil {
		query = query.Where("line_number >= ?", *q.MinLineNumber)
	}
	if q.MaxLineNumber != nil {
		query = query.Where("line_number <= ?", *q.MaxLineNumber)
	}

	return query, nil
}

func orderClause(q *store.EntryQuery) string {
	column, ok := store.SortColumns[q.SortBy]
	if !ok {
		column = "timestamp"
	}
	direction := "DESC"
	if q.SortAscending {
		direction = "ASC"
	}
	// line_number as tiebreaker keeps pagination stable.
	if column == "line_number" {
		return fmt.Sprintf("%s %s", column, direction)
	}
	return fmt.Sprintf("%s %s, line_number %s", column, direction, direction)
}

func projectedColumns(q *store.EntryQuery) []string {
	if len(q.IncludeFields) == 0 {
		return nil
	}
	columns := []string{"id", "job_id", "line_number"}
	for _, field := range q.IncludeFields {
		if column, ok := entryColumn(field); ok {
			columns = append(columns, column)
		}
	}
	return columns
}

func omittedColumns(q *store.EntryQuery) []string {
	if len(q.ExcludeFields) == 0 {
		return nil
	}
	var columns []string
	for _, field := range q.ExcludeFields {
		if column, ok := entryColumn(field); ok {
			columns = append(columns, column)
		}
	}
	return columns
}

func entryColumn(field string) (string, bool) {
	if column, ok := store.KeywordColumns[field]; ok {
		return column, true
	}
	if column, ok := store.TextColumns[field]; ok {
		return column, true
	}
	switch field {
	case "timestamp", "indexedAt", "hasError", "hasStackTrace", "metadata":
		return map[string]string{
			"timestamp":     "timestamp",
			"indexedAt":     "indexed_at",
			"hasError":      "has_error",
			"hasStackTrace": "has_stack_trace",
			"metadata":      "metadata",
		}[field], true
	}
	return "", false
}

// escapeLike neutralizes LIKE metacharacters in user terms.
func escapeLike(term string) string {
	term = strings.ReplaceAll(term, `\`, `\\`)
	term = strings.ReplaceAll(term, "%", `\%`)
	term = strings.ReplaceAll(term, "_", `\_`)
	return term
}

// wildcardPattern converts the request-level * and ? wildcards to a LIKE
// pattern; false means the value is a plain term.
func wildcardPattern(value string) (string, bool) {
	if !strings.ContainsAny(value, "*?") {
		return "", false
	}
	escaped := escapeLike(value)
	escaped = strings.ReplaceAll(escaped, "*", "%")
	escaped = strings.ReplaceAll(escaped, "?", "_")
	return escaped, true
}
