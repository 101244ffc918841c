package parser

import (
	"encoding/csv"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/logscan/logscan/pkg/model"
)

// Column alias sets, compared lower-cased.
var (
	csvTimestampColumns = stringSet(
		"timestamp", "time", "date", "datetime", "@timestamp",
		"log_time", "logtime", "created_at", "createdat", "ts")
	csvLevelColumns = stringSet(
		"level", "severity", "log_level", "loglevel", "levelname",
		"priority", "log_severity")
	csvMessageColumns = stringSet(
		"message", "msg", "text", "log_message", "logmessage",
		"description", "content", "body", "log")
	csvLoggerColumns = stringSet(
		"logger", "logger_name", "loggername", "class", "classname",
		"category", "source", "component", "module")
	csvThreadColumns = stringSet(
		"thread", "thread_name", "threadname", "thread_id", "threadid")
	csvHostnameColumns = stringSet(
		"hostname", "host", "server", "machine", "node", "instance")
	csvApplicationColumns = stringSet(
		"application", "app", "service", "service_name", "servicename", "app_name")
	csvEnvironmentColumns = stringSet(
		"environment", "env", "stage", "deployment")
	csvStackTraceColumns = stringSet(
		"stack_trace", "stacktrace", "exception", "error_stack", "traceback")
)

var csvCandidateDelimiters = []rune{',', '\t', ';', '|'}

// CSVParser handles delimiter-separated logs with or without a header
// row. Delimiter and header state is per file, carried in the
// ParseContext.
type CSVParser struct{}

func NewCSVParser() *CSVParser {
	return &CSVParser{}
}

func (p *CSVParser) CanParse(fileName, sample string) bool {
	lower := strings.ToLower(fileName)
	if strings.HasSuffix(lower, ".csv") || strings.HasSuffix(lower, ".tsv") {
		return true
	}

	for _, line := range strings.Split(sample, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		return detectDelimiter(line) != 0
	}
	return false
}

func (p *CSVParser) ParseLine(line string, lineNumber int64, ctx *ParseContext) ParseOutcome {
	if strings.TrimSpace(line) == "" {
		return Skipped(lineNumber, "empty line")
	}

	if ctx.csvDelimiter == 0 {
		ctx.csvDelimiter = detectDelimiter(line)
		if ctx.csvDelimiter == 0 {
			ctx.csvDelimiter = ','
		}
	}

	values, err := splitRecord(line, ctx.csvDelimiter)
	if err != nil {
		return Failed(lineNumber, line, "CSV parse error: "+err.Error())
	}

	if !ctx.csvHeadersDone {
		ctx.csvHeadersDone = true
		if isHeaderRow(values) {
			ctx.csvHeaders = normalizeHeaders(values)
			ctx.csvIndex = indexColumns(ctx.csvHeaders)
			return Skipped(lineNumber, "header row")
		}
		ctx.csvHeaders = syntheticHeaders(len(values))
		ctx.csvIndex = map[string]int{}
		// Positional defaults when no header is present.
		if len(values) > 0 {
			ctx.csvIndex["timestamp"] = 0
		}
		if len(values) > 1 {
			ctx.csvIndex["level"] = 1
		}
		if len(values) > 2 {
			ctx.csvIndex["message"] = 2
		}
	}

	return Success(p.entryFromRow(values, line, lineNumber, ctx))
}

func (p *CSVParser) Reset() {}

func (p *CSVParser) Format() string { return "CSV" }

func (p *CSVParser) Priority() int { return 10 }

func (p *CSVParser) SupportsMultiLine() bool { return false }

func (p *CSVParser) Description() string {
	return "CSV/TSV log parser with delimiter and header auto-detection"
}

func (p *CSVParser) entryFromRow(values []string, line string, lineNumber int64, ctx *ParseContext) *model.LogEntry {
	entry := &model.LogEntry{
		ID:         uuid.NewString(),
		JobID:      ctx.JobID,
		FileName:   ctx.FileName,
		LineNumber: lineNumber,
		RawLine:    line,
		IndexedAt:  time.Now(),
	}

	cell := func(field string) (string, bool) {
		idx, ok := ctx.csvIndex[field]
		if !ok || idx >= len(values) {
			return "", false
		}
		value := strings.TrimSpace(values[idx])
		return value, value != ""
	}

	if ts, ok := cell("timestamp"); ok {
		entry.Timestamp = ParseTimestamp(ts, ctx.TimestampFormat)
	} else {
		entry.Timestamp = time.Now()
	}

	if level, ok := cell("level"); ok {
		entry.Level = NormalizeLevel(level)
	} else {
		entry.Level = model.LevelInfo
	}
	entry.HasError = IsErrorLevel(entry.Level)

	if message, ok := cell("message"); ok {
		entry.Message = message
	} else {
		entry.Message = line
	}

	if logger, ok := cell("logger"); ok {
		entry.Logger = logger
		parts := strings.Split(logger, ".")
		entry.Source = parts[len(parts)-1]
	}
	if thread, ok := cell("thread"); ok {
		entry.Thread = thread
	}
	if hostname, ok := cell("hostname"); ok {
		entry.Hostname = hostname
	}
	if app, ok := cell("application"); ok {
		entry.Application = app
	}
	if env, ok := cell("environment"); ok {
		entry.Environment = env
	}
	if stack, ok := cell("stack_trace"); ok {
		entry.StackTrace = stack
		entry.HasStackTrace = true
	}

	standard := map[int]bool{}
	for _, field := range []string{"timestamp", "level", "message", "logger", "thread", "hostname", "application", "environment", "stack_trace"} {
		if idx, ok := ctx.csvIndex[field]; ok {
			standard[idx] = true
		}
	}

	metadata := model.JSONB{}
	for i, value := range values {
		if standard[i] || i >= len(ctx.csvHeaders) {
			continue
		}
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		metadata[ctx.csvHeaders[i]] = coerceValue(value)
	}
	if len(metadata) > 0 {
		entry.Metadata = metadata
	}

	return entry
}

// detectDelimiter counts unquoted candidate delimiters in the line and
// picks the most frequent; zero means none seen.
func detectDelimiter(line string) rune {
	counts := map[rune]int{}
	inQuotes := false
	for _, r := range line {
		if r == '"' {
			inQuotes = !inQuotes
			continue
		}
		if inQuotes {
			continue
		}
		for _, cand := range csvCandidateDelimiters {
			if r == cand {
				counts[r]++
			}
		}
	}

	var best rune
	bestCount := 0
	for _, cand := range csvCandidateDelimiters {
		if counts[cand] > bestCount {
			best = cand
			bestCount = counts[cand]
		}
	}
	return best
}

func splitRecord(line string, delimiter rune) ([]string, error) {
	r := csv.NewReader(strings.NewReader(line))
	r.Comma = delimiter
	r.LazyQuotes = true
	return r.Read()
}

// isHeaderRow treats the first row as a header when any cell matches a
// known column alias, or when every cell is non-numeric.
func isHeaderRow(values []string) bool {
	allNonNumeric := true
	for _, value := range values {
		lower := strings.ToLower(strings.TrimSpace(value))
		if csvTimestampColumns[lower] || csvLevelColumns[lower] || csvMessageColumns[lower] ||
			csvLoggerColumns[lower] || csvThreadColumns[lower] || csvHostnameColumns[lower] ||
			csvApplicationColumns[lower] || csvEnvironmentColumns[lower] || csvStackTraceColumns[lower] {
			return true
		}
		if _, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil {
			allNonNumeric = false
		}
	}
	return allNonNumeric
}

func normalizeHeaders(values []string) []string {
	headers := make([]string, len(values))
	for i, value := range values {
		headers[i] = strings.TrimSpace(value)
	}
	return headers
}

func syntheticHeaders(n int) []string {
	headers := make([]string, n)
	for i := range headers {
		headers[i] = "column_" + strconv.Itoa(i)
	}
	return headers
}

func indexColumns(headers []string) map[string]int {
	index := map[string]int{}
	assign := func(field string, set map[string]bool, i int) bool {
		if _, taken := index[field]; taken {
			return false
		}
		if set[strings.ToLower(headers[i])] {
			index[field] = i
			return true
		}
		return false
	}

	for i := range headers {
		switch {
		case assign("timestamp", csvTimestampColumns, i):
		case assign("level", csvLevelColumns, i):
		case assign("message", csvMessageColumns, i):
		case assign("logger", csvLoggerColumns, i):
		case assign("thread", csvThreadColumns, i):
		case assign("hostname", csvHostnameColumns, i):
		case assign("application", csvApplicationColumns, i):
		case assign("environment", csvEnvironmentColumns, i):
		case assign("stack_trace", csvStackTraceColumns, i):
		}
	}
	return index
}

// coerceValue types a metadata cell: boolean, then integer, then float,
// then string.
func coerceValue(value string) interface{} {
	switch strings.ToLower(value) {
	case "true":
		return true
	case "false":
		return false
	}
	if n, err := strconv.ParseInt(value, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(value, 64); err == nil {
		return f
	}
	return value
}

func stringSet(values ...string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[v] = true
	}
	return set
}
