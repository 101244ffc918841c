package parser

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/logscan/logscan/pkg/model"
)

// Field alias lists, tried in order. Matching is exact against the source
// document keys.
var (
	jsonTimestampFields = []string{
		"timestamp", "time", "@timestamp", "datetime", "date", "ts", "log_time", "logTime",
	}
	jsonLevelFields = []string{
		"level", "severity", "log_level", "logLevel", "loglevel", "levelname",
	}
	jsonMessageFields = []string{
		"message", "msg", "text", "log_message", "logMessage", "description",
	}
	jsonLoggerFields = []string{
		"logger", "logger_name", "loggerName", "class", "category", "name",
	}
	jsonThreadFields = []string{
		"thread", "thread_name", "threadName", "thread_id", "threadId",
	}
	jsonStackTraceFields = []string{
		"stack_trace", "stackTrace", "stack", "exception", "error_stack", "errorStack",
	}
	jsonHostnameFields = []string{
		"hostname", "host", "server", "instance", "machine", "node",
	}
	jsonApplicationFields = []string{
		"application", "app", "service", "service_name", "serviceName", "app_name", "appName",
	}
	jsonEnvironmentFields = []string{
		"environment", "env", "stage", "deployment",
	}
)

// JSONParser handles NDJSON: one JSON object per line. It is stateless.
type JSONParser struct{}

func NewJSONParser() *JSONParser {
	return &JSONParser{}
}

func (p *JSONParser) CanParse(fileName, sample string) bool {
	lower := strings.ToLower(fileName)
	if strings.HasSuffix(lower, ".json") || strings.HasSuffix(lower, ".ndjson") {
		return true
	}
	return looksLikeJSON(strings.TrimSpace(sample))
}

func (p *JSONParser) ParseLine(line string, lineNumber int64, ctx *ParseContext) ParseOutcome {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return Skipped(lineNumber, "empty line")
	}

	if !looksLikeJSON(trimmed) {
		return Failed(lineNumber, line, "not valid JSON")
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal([]byte(trimmed), &doc); err != nil {
		return Failed(lineNumber, line, "JSON parse error: "+err.Error())
	}

	entry := &model.LogEntry{
		ID:         uuid.NewString(),
		JobID:      ctx.JobID,
		FileName:   ctx.FileName,
		LineNumber: lineNumber,
		RawLine:    line,
		IndexedAt:  time.Now(),
	}

	consumed := map[string]bool{}

	p.extractTimestamp(doc, entry, ctx.TimestampFormat, consumed)

	if level, key := firstString(doc, jsonLevelFields); key != "" {
		entry.Level = NormalizeLevel(level)
		consumed[key] = true
	} else {
		entry.Level = model.LevelInfo
	}
	entry.HasError = IsErrorLevel(entry.Level)

	if message, key := firstString(doc, jsonMessageFields); key != "" {
		entry.Message = message
		consumed[key] = true
	} else {
		entry.Message = trimmed
	}

	if logger, key := firstString(doc, jsonLoggerFields); key != "" {
		entry.Logger = logger
		parts := strings.Split(logger, ".")
		entry.Source = parts[len(parts)-1]
		consumed[key] = true
	}

	if thread, key := firstString(doc, jsonThreadFields); key != "" {
		entry.Thread = thread
		consumed[key] = true
	}

	if stack, key := firstString(doc, jsonStackTraceFields); key != "" && stack != "" {
		entry.StackTrace = stack
		entry.HasStackTrace = true
		if !entry.HasError {
			entry.HasError = true
			entry.Level = model.LevelError
		}
		consumed[key] = true
	}

	if hostname, key := firstString(doc, jsonHostnameFields); key != "" {
		entry.Hostname = hostname
		consumed[key] = true
	}

	if app, key := firstString(doc, jsonApplicationFields); key != "" {
		entry.Application = app
		consumed[key] = true
	}

	if env, key := firstString(doc, jsonEnvironmentFields); key != "" {
		entry.Environment = env
		consumed[key] = true
	}

	metadata := model.JSONB{}
	for key, raw := range doc {
		if consumed[key] {
			continue
		}
		metadata[key] = scalarValue(raw)
	}
	if len(metadata) > 0 {
		entry.Metadata = metadata
	}

	return Success(entry)
}

func (p *JSONParser) Reset() {}

func (p *JSONParser) Format() string { return "JSON" }

func (p *JSONParser) Priority() int { return 20 }

func (p *JSONParser) SupportsMultiLine() bool { return false }

func (p *JSONParser) Description() string {
	return "JSON/NDJSON log parser with automatic schema detection"
}

func (p *JSONParser) extractTimestamp(doc map[string]json.RawMessage, entry *model.LogEntry, userLayout string, consumed map[string]bool) {
	for _, field := range jsonTimestampFields {
		raw, ok := doc[field]
		if !ok {
			continue
		}
		var text string
		if err := json.Unmarshal(raw, &text); err == nil {
			entry.Timestamp = ParseTimestamp(text, userLayout)
			consumed[field] = true
			return
		}
		var epoch int64
		if err := json.Unmarshal(raw, &epoch); err == nil {
			entry.Timestamp = FromEpoch(epoch)
			consumed[field] = true
			return
		}
	}
	entry.Timestamp = time.Now()
}

func looksLikeJSON(trimmed string) bool {
	return (strings.HasPrefix(trimmed, "{") && strings.HasSuffix(trimmed, "}")) ||
		(strings.HasPrefix(trimmed, "[") && strings.HasSuffix(trimmed, "]"))
}

func firstString(doc map[string]json.RawMessage, fields []string) (string, string) {
	for _, field := range fields {
		raw, ok := doc[field]
		if !ok {
			continue
		}
		var text string
		if err := json.Unmarshal(raw, &text); err == nil {
			return text, field
		}
	}
	return "", ""
}

// scalarValue keeps string/number/boolean as-is; objects and arrays fall
// back to their textual form.
func scalarValue(raw json.RawMessage) interface{} {
	var value interface{}
	if err := json.Unmarshal(raw, &value); err != nil {
		return string(raw)
	}
	switch value.(type) {
	case string, float64, bool, nil:
		return value
	default:
		return string(raw)
	}
}
