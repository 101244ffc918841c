package clickhouse

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"

	"github.com/logscan/logscan/pkg/apperr"
	"github.com/logscan/logscan/pkg/model"
	"github.com/logscan/logscan/pkg/store"
)

// EntryStore implements store.EntryStore on ClickHouse. Chosen for large
// jobs: columnar scans make the aggregation endpoints cheap.
type EntryStore struct {
	conn   driver.Conn
	logger *zap.Logger
}

func NewEntryStore(addr, database, username, password string, connectTimeout, socketTimeout time.Duration, logger *zap.Logger) (*EntryStore, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: database,
			Username: username,
			Password: password,
		},
		DialTimeout: connectTimeout,
		ReadTimeout: socketTimeout,
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to clickhouse: %w", err)
	}

	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ping clickhouse: %w", err)
	}

	return &EntryStore{conn: conn, logger: logger}, nil
}

// EnsureSchema creates the table if not exists.
func (s *EntryStore) EnsureSchema(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS log_entries (
		id String,
		job_id String,
		line_number Int64 Codec(Delta, ZSTD),
		timestamp DateTime64(3),
		indexed_at DateTime64(3),
		level LowCardinality(String),
		has_error UInt8,
		has_stack_trace UInt8,
		message String Codec(ZSTD),
		raw_line String Codec(ZSTD),
		stack_trace String Codec(ZSTD),
		logger LowCardinality(String),
		thread LowCardinality(String),
		source LowCardinality(String),
		hostname LowCardinality(String),
		application LowCardinality(String),
		environment LowCardinality(String),
		file_name String,
		metadata String Codec(ZSTD),
		tags Array(String)
	)
	ENGINE = MergeTree()
	ORDER BY (job_id, line_number)
	PARTITION BY job_id
	`
	return s.conn.Exec(ctx, query)
}

func (s *EntryStore) BulkInsert(ctx context.Context, entries []*model.LogEntry) error {
	if len(entries) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, "INSERT INTO log_entries")
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if err := batch.Append(
			entry.ID,
			entry.JobID,
			entry.LineNumber,
			entry.Timestamp,
			entry.IndexedAt,
			entry.Level,
			boolToUInt8(entry.HasError),
			boolToUInt8(entry.HasStackTrace),
			entry.Message,
			entry.RawLine,
			entry.StackTrace,
			entry.Logger,
			entry.Thread,
			entry.Source,
			entry.Hostname,
			entry.Application,
			entry.Environment,
			entry.FileName,
			marshalMetadata(entry.Metadata),
			[]string(entry.Tags),
		); err != nil {
			return err
		}
	}

	return batch.Send()
}

func (s *EntryStore) Insert(ctx context.Context, entry *model.LogEntry) error {
	return s.BulkInsert(ctx, []*model.LogEntry{entry})
}

func (s *EntryStore) Search(ctx context.Context, q *store.EntryQuery) (*store.EntryPage, error) {
	where, args, err := buildWhere(q)
	if err != nil {
		return nil, err
	}

	var total uint64
	countQuery := "SELECT count() FROM log_entries WHERE " + where
	if err := s.conn.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count entries: %w", err)
	}

	query := `SELECT id, job_id, line_number, timestamp, indexed_at, level,
		has_error, has_stack_trace, message, raw_line, stack_trace, logger,
		thread, source, hostname, application, environment, file_name,
		metadata, tags
		FROM log_entries WHERE ` + where + orderClause(q)
	if q.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d OFFSET %d", q.Limit, q.Offset)
	}

	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search entries: %w", err)
	}
	defer rows.Close()

	var entries []model.LogEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	return &store.EntryPage{Entries: entries, Total: int64(total)}, nil
}

func (s *EntryStore) Count(ctx context.Context, q *store.EntryQuery) (int64, error) {
	where, args, err := buildWhere(q)
	if err != nil {
		return 0, err
	}
	var total uint64
	if err := s.conn.QueryRow(ctx, "SELECT count() FROM log_entries WHERE "+where, args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("count entries: %w", err)
	}
	return int64(total), nil
}

func (s *EntryStore) LevelCounts(ctx context.Context, jobID string) (map[string]int64, error) {
	rows, err := s.conn.Query(ctx,
		"SELECT level, count() FROM log_entries WHERE job_id = ? GROUP BY level", jobID)
	if err != nil {
		return nil, fmt.Errorf("level counts: %w", err)
	}
	defer rows.Close()

	counts := map[string]int64{}
	for rows.Next() {
		var level string
		var n uint64
		if err := rows.Scan(&level, &n); err != nil {
			return nil, err
		}
		counts[level] = int64(n)
	}
	return counts, nil
}

// Aggregates computes the filter summary over the query's matching set.
func (s *EntryStore) Aggregates(ctx context.Context, q *store.EntryQuery) (*store.JobAggregates, error) {
	where, args, err := buildWhere(q)
	if err != nil {
		return nil, err
	}

	agg := &store.JobAggregates{LevelCounts: map[string]int64{}}

	rows, err := s.conn.Query(ctx,
		"SELECT level, count() FROM log_entries WHERE "+where+" GROUP BY level", args...)
	if err != nil {
		return nil, fmt.Errorf("level counts: %w", err)
	}
	for rows.Next() {
		var level string
		var n uint64
		if err := rows.Scan(&level, &n); err != nil {
			rows.Close()
			return nil, err
		}
		agg.LevelCounts[level] = int64(n)
		agg.Total += int64(n)
	}
	rows.Close()
	agg.ErrorCount = agg.LevelCounts[model.LevelError]

	row := s.conn.QueryRow(ctx, `
		SELECT countIf(has_stack_trace = 1),
		       min(timestamp), max(timestamp),
		       uniqExactIf(logger, logger != ''),
		       uniqExactIf(thread, thread != ''),
		       uniqExactIf(source, source != '')
		FROM log_entries WHERE `+where, args...)

	var stackTraces, uniqueLoggers, uniqueThreads, uniqueSources uint64
	var minTs, maxTs time.Time
	if err := row.Scan(&stackTraces, &minTs, &maxTs, &uniqueLoggers, &uniqueThreads, &uniqueSources); err != nil {
		return nil, fmt.Errorf("filter summary: %w", err)
	}

	agg.StackTraceCount = int64(stackTraces)
	agg.UniqueLoggers = int64(uniqueLoggers)
	agg.UniqueThreads = int64(uniqueThreads)
	agg.UniqueSources = int64(uniqueSources)
	if agg.Total > 0 {
		agg.MinTimestamp = &minTs
		agg.MaxTimestamp = &maxTs
	}

	if agg.TopLoggers, err = s.topValues(ctx, where, args, "logger"); err != nil {
		return nil, err
	}
	if agg.TopThreads, err = s.topValues(ctx, where, args, "thread"); err != nil {
		return nil, err
	}
	if agg.TopSources, err = s.topValues(ctx, where, args, "source"); err != nil {
		return nil, err
	}

	return agg, nil
}

func (s *EntryStore) topValues(ctx context.Context, where string, args []interface{}, column string) ([]store.FieldCount, error) {
	query := fmt.Sprintf(`
		SELECT %s AS value, count() AS count
		FROM log_entries WHERE %s AND %s != ''
		GROUP BY value ORDER BY count DESC, value LIMIT 10`, column, where, column)

	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("top %s values: %w", column, err)
	}
	defer rows.Close()

	var counts []store.FieldCount
	for rows.Next() {
		var fc store.FieldCount
		var n uint64
		if err := rows.Scan(&fc.Value, &n); err != nil {
			return nil, err
		}
		fc.Count = int64(n)
		counts = append(counts, fc)
	}
	return counts, nil
}

func (s *EntryStore) Timeline(ctx context.Context, jobID string, interval time.Duration) ([]store.TimelineBucket, error) {
	seconds := int64(interval.Seconds())
	if seconds <= 0 {
		return nil, apperr.New(apperr.Invalid, "timeline interval must be positive")
	}

	rows, err := s.conn.Query(ctx, fmt.Sprintf(`
		SELECT toStartOfInterval(timestamp, INTERVAL %d second) AS start,
		       count() AS count,
		       countIf(level = 'ERROR') AS error_count,
		       countIf(level = 'WARN') AS warn_count
		FROM log_entries
		WHERE job_id = ?
		GROUP BY start
		ORDER BY start`, seconds), jobID)
	if err != nil {
		return nil, fmt.Errorf("timeline: %w", err)
	}
	defer rows.Close()

	var buckets []store.TimelineBucket
	for rows.Next() {
		var b store.TimelineBucket
		var count, errorCount, warnCount uint64
		if err := rows.Scan(&b.Start, &count, &errorCount, &warnCount); err != nil {
			return nil, err
		}
		b.Count = int64(count)
		b.ErrorCount = int64(errorCount)
		b.WarnCount = int64(warnCount)
		buckets = append(buckets, b)
	}
	return buckets, nil
}

func (s *EntryStore) UniqueValues(ctx context.Context, jobID, field string, limit int) ([]store.FieldCount, error) {
	column, ok := store.KeywordColumns[field]
	if !ok {
		return nil, apperr.New(apperr.Invalid, "field %q is not a keyword field", field)
	}
	if limit <= 0 {
		limit = 10
	}

	var query string
	if field == "tags" {
		query = fmt.Sprintf(`
			SELECT arrayJoin(tags) AS value, count() AS count
			FROM log_entries WHERE job_id = ?
			GROUP BY value ORDER BY count DESC, value LIMIT %d`, limit)
	} else {
		query = fmt.Sprintf(`
			SELECT %s AS value, count() AS count
			FROM log_entries WHERE job_id = ? AND %s != ''
			GROUP BY value ORDER BY count DESC, value LIMIT %d`, column, column, limit)
	}

	rows, err := s.conn.Query(ctx, query, jobID)
	if err != nil {
		return nil, fmt.Errorf("unique values for %s: %w", field, err)
	}
	defer rows.Close()

	var counts []store.FieldCount
	for rows.Next() {
		var fc store.FieldCount
		var n uint64
		if err := rows.Scan(&fc.Value, &n); err != nil {
			return nil, err
		}
		fc.Count = int64(n)
		counts = append(counts, fc)
	}
	return counts, nil
}

func (s *EntryStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) error {
	return s.conn.Exec(ctx,
		"ALTER TABLE log_entries DELETE WHERE indexed_at < ?", cutoff)
}

func (s *EntryStore) Close() error {
	return s.conn.Close()
}

func buildWhere(q *store.EntryQuery) (string, []interface{}, error) {
	if q.JobID == "" {
		return "", nil, apperr.New(apperr.Invalid, "jobId is required")
	}

	clauses := []string{"job_id = ?"}
	args := []interface{}{q.JobID}

	if q.SearchText != "" {
		fields := q.SearchFields
		if len(fields) == 0 {
			fields = store.DefaultSearchFields
		}
		for _, term := range strings.Fields(q.SearchText) {
			var group []string
			for _, field := range fields {
				column, ok := store.TextColumns[field]
				if !ok {
					continue
				}
				group = append(group, fmt.Sprintf("positionCaseInsensitive(%s, ?) > 0", column))
				args = append(args, term)
			}
			if len(group) > 0 {
				clauses = append(clauses, "("+strings.Join(group, " OR ")+")")
			}
		}
	}

	if len(q.Levels) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(q.Levels)), ", ")
		clauses = append(clauses, "level IN ("+placeholders+")")
		for _, level := range q.Levels {
			args = append(args, level)
		}
	}

	for field, value := range q.Keyword {
		column, ok := store.KeywordColumns[field]
		if !ok || field == "tags" {
			continue
		}
		if strings.ContainsAny(value, "*?") {
			pattern := strings.ReplaceAll(strings.ReplaceAll(value, "*", "%"), "?", "_")
			clauses = append(clauses, column+" LIKE ?")
			args = append(args, pattern)
		} else {
			clauses = append(clauses, column+" = ?")
			args = append(args, value)
		}
	}

	if q.HasError != nil {
		clauses = append(clauses, "has_error = ?")
		args = append(args, boolToUInt8(*q.HasError))
	}
	if q.HasStackTrace != nil {
		clauses = append(clauses, "has_stack_trace = ?")
		args = append(args, boolToUInt8(*q.HasStackTrace))
	}
	if len(q.Tags) > 0 {
		clauses = append(clauses, "hasAny(tags, ?)")
		args = append(args, q.Tags)
	}
	if q.StartDate != nil {
		clauses = append(clauses, "timestamp >= ?")
		args = append(args, *q.StartDate)
	}
	if q.EndDate != nil {
		clauses = append(clauses, "timestamp <= ?")
		args = append(args, *q.EndDate)
	}
	if q.MinLineNumber != nil {
		clauses = append(clauses, "line_number >= ?")
		args = append(args, *q.MinLineNumber)
	}
	if q.MaxLineNumber != nil {
		clauses = append(clauses, "line_number <= ?")
		args = append(args, *q.MaxLineNumber)
	}

	return strings.Join(clauses, " AND "), args, nil
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
	if column == "line_number" {
		return fmt.Sprintf(" ORDER BY %s %s", column, direction)
	}
	return fmt.Sprintf(" ORDER BY %s %s, line_number %s", column, direction, direction)
}

func scanEntry(rows driver.Rows) (model.LogEntry, error) {
	var entry model.LogEntry
	var hasError, hasStackTrace uint8
	var metadata string
	var tags []string

	err := rows.Scan(
		&entry.ID, &entry.JobID, &entry.LineNumber, &entry.Timestamp,
		&entry.IndexedAt, &entry.Level, &hasError, &hasStackTrace,
		&entry.Message, &entry.RawLine, &entry.StackTrace, &entry.Logger,
		&entry.Thread, &entry.Source, &entry.Hostname, &entry.Application,
		&entry.Environment, &entry.FileName, &metadata, &tags,
	)
	if err != nil {
		return entry, err
	}

	entry.HasError = hasError == 1
	entry.HasStackTrace = hasStackTrace == 1
	entry.Tags = tags
	if metadata != "" {
		var m model.JSONB
		if err := json.Unmarshal([]byte(metadata), &m); err == nil {
			entry.Metadata = m
		}
	}
	return entry, nil
}

func marshalMetadata(m model.JSONB) string {
	if len(m) == 0 {
		return ""
	}
	data, err := json.Marshal(m)
	if err != nil {
		return ""
	}
	return string(data)
}

func boolToUInt8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
