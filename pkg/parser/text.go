package parser

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/logscan/logscan/pkg/model"
)

// Line patterns tried most specific first. Named groups feed entry fields.
var (
	springBootPattern = regexp.MustCompile(
		`(?i)^(?P<timestamp>\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}:\d{2}(?:[.,]\d{1,6})?)\s+` +
			`(?P<level>TRACE|DEBUG|INFO|WARN|ERROR)\s+` +
			`(?P<pid>\d+)?\s*---\s+` +
			`\[\s*(?P<thread>[^\]]+)\]\s+` +
			`(?P<logger>[\w.$]+)\s*:\s+` +
			`(?P<message>.*)$`)

	log4jPattern = regexp.MustCompile(
		`(?i)^(?P<timestamp>\d{4}-\d{2}-\d{2}[T\s]\d{2}:\d{2}:\d{2}(?:[.,]\d{1,6})?)\s+` +
			`(?:\[(?P<thread>[^\]]+)\]\s+)?` +
			`(?P<level>TRACE|DEBUG|INFO|WARN(?:ING)?|ERROR|FATAL|SEVERE)\s+` +
			`(?:(?P<logger>[\w.$]+)\s+[-:]\s+)?` +
			`(?P<message>.*)$`)

	apachePattern = regexp.MustCompile(
		`(?i)^(?P<ip>[\d.]+|[\da-f:]+)\s+` +
			`(?P<ident>\S+)\s+` +
			`(?P<user>\S+)\s+` +
			`\[(?P<timestamp>[^\]]+)\]\s+` +
			`"(?P<request>[^"]*)"\s+` +
			`(?P<status>\d{3})\s+` +
			`(?P<bytes>\d+|-)(?:\s+` +
			`"(?P<referer>[^"]*)"\s+` +
			`"(?P<useragent>[^"]*)")?`)

	syslogPattern = regexp.MustCompile(
		`^(?P<timestamp>\w{3}\s+\d{1,2}\s+\d{2}:\d{2}:\d{2})\s+` +
			`(?P<hostname>[\w.-]+)\s+` +
			`(?P<service>[\w.-]+)` +
			`(?:\[(?P<pid>\d+)\])?:?\s+` +
			`(?P<message>.*)$`)

	isoPattern = regexp.MustCompile(
		`(?i)^(?P<timestamp>\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}(?:\.\d+)?(?:Z|[+-]\d{2}:?\d{2})?)\s+` +
			`(?P<level>TRACE|DEBUG|INFO|WARN(?:ING)?|ERROR|FATAL|SEVERE)?\s*` +
			`(?P<message>.*)$`)

	simplePattern = regexp.MustCompile(
		`(?i)^\[?(?P<timestamp>[^\]]+)\]?\s+` +
			`(?P<level>TRACE|DEBUG|INFO|WARN(?:ING)?|ERROR|FATAL|SEVERE)\s*:?\s+` +
			`(?P<message>.*)$`)
)

// Stack trace machinery.
var (
	stackTraceLinePattern = regexp.MustCompile(
		`^(?:\s+at\s+|\s+\.{3}\s+\d+\s+more|Caused\s+by:|Suppressed:)`)
	exceptionLinePattern = regexp.MustCompile(
		`^[\w.$]+(?:Exception|Error|Throwable)(?::\s+.*)?$`)
)

// Metadata extraction. RE2 has no backreferences, so quoted and bare
// key=value forms get their own alternatives.
var (
	keyValuePattern = regexp.MustCompile(
		`([\w.]+)=(?:"([^"]*)"|'([^']*)'|([^\s,"']+))`)
	ipPattern = regexp.MustCompile(
		`\b(?:(?:\d{1,3}\.){3}\d{1,3}|(?:[0-9a-fA-F]{1,4}:){7}[0-9a-fA-F]{1,4})\b`)
	urlPattern = regexp.MustCompile(
		`https?://[^\s"'<>]+`)
	requestIDPattern = regexp.MustCompile(
		`(?i)(?:request[_-]?id|correlation[_-]?id|trace[_-]?id|x-request-id)[=:\s]+([\w-]+)`)
)

type patternConfig struct {
	name       string
	re         *regexp.Regexp
	multiLine  bool
}

var patternConfigs = []patternConfig{
	{"SPRING_BOOT", springBootPattern, true},
	{"LOG4J", log4jPattern, true},
	{"APACHE", apachePattern, false},
	{"SYSLOG", syslogPattern, true},
	{"ISO", isoPattern, true},
	{"SIMPLE", simplePattern, true},
}

// TextParser handles plain-text logs: log4j/logback, spring boot, apache
// combined, syslog, ISO and simple bracketed lines, plus multi-line stack
// trace assembly. All per-file state lives in the ParseContext.
type TextParser struct{}

func NewTextParser() *TextParser {
	return &TextParser{}
}

func (p *TextParser) CanParse(fileName, sample string) bool {
	sample = strings.TrimSpace(sample)
	if sample == "" {
		lower := strings.ToLower(fileName)
		return strings.HasSuffix(lower, ".log") || strings.HasSuffix(lower, ".txt") ||
			strings.HasSuffix(lower, ".out") || strings.HasSuffix(lower, ".err")
	}

	if strings.HasPrefix(sample, "{") || strings.HasPrefix(sample, "[") {
		return false
	}

	firstLine := sample
	if idx := strings.IndexByte(sample, '\n'); idx >= 0 {
		firstLine = sample[:idx]
	}
	for _, cfg := range patternConfigs {
		if cfg.re.MatchString(firstLine) {
			return true
		}
	}
	return true
}

func (p *TextParser) ParseLine(line string, lineNumber int64, ctx *ParseContext) ParseOutcome {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		if ctx.buffered != nil {
			return Success(p.flush(ctx))
		}
		return Skipped(lineNumber, "empty line")
	}

	if len(line) > ctx.MaxLineLength && ctx.MaxLineLength > 0 {
		line = line[:ctx.MaxLineLength]
	}

	if stackTraceLinePattern.MatchString(line) {
		return p.handleStackTraceLine(line, lineNumber, ctx)
	}

	if exceptionLinePattern.MatchString(trimmed) {
		var flushed *model.LogEntry
		if ctx.buffered != nil {
			flushed = p.flush(ctx)
		}
		outcome := p.beginException(line, lineNumber, ctx)
		if flushed != nil {
			// The flushed entry must still reach the caller; the new
			// exception stays buffered.
			return Success(flushed)
		}
		return outcome
	}

	for _, cfg := range patternConfigs {
		match := cfg.re.FindStringSubmatch(line)
		if match == nil {
			continue
		}

		var flushed *model.LogEntry
		if ctx.buffered != nil {
			flushed = p.flush(ctx)
		}

		entry := p.entryFromMatch(cfg, match, line, lineNumber, ctx)
		if cfg.multiLine && hasStackTraceIndicator(entry.Message) {
			ctx.buffered = entry
			ctx.bufferedStart = lineNumber
			ctx.stackBuf.Reset()
			if flushed != nil {
				return Success(flushed)
			}
			return Buffered(lineNumber, line)
		}
		if flushed != nil {
			// Two completed entries in one step: hand back the older one
			// first; the fresh entry replaces the buffer so nothing is lost.
			ctx.buffered = entry
			ctx.bufferedStart = lineNumber
			ctx.stackBuf.Reset()
			return Success(flushed)
		}
		ctx.prevEntry = entry
		return Success(entry)
	}

	if ctx.buffered != nil {
		p.appendToBuffer(ctx, line)
		return Continuation(lineNumber, line)
	}

	entry := p.basicEntry(line, lineNumber, ctx)
	ctx.prevEntry = entry
	return Success(entry)
}

func (p *TextParser) Reset() {}

func (p *TextParser) Format() string { return "TEXT" }

func (p *TextParser) Priority() int { return 0 }

func (p *TextParser) SupportsMultiLine() bool { return true }

func (p *TextParser) Description() string {
	return "Text log parser supporting Spring Boot, Log4j, Apache, Syslog and custom formats"
}

// FlushPending emits any residual buffered entry at end of file.
func (p *TextParser) FlushPending(ctx *ParseContext) *model.LogEntry {
	if ctx.buffered == nil {
		return nil
	}
	return p.flush(ctx)
}

func (p *TextParser) handleStackTraceLine(line string, lineNumber int64, ctx *ParseContext) ParseOutcome {
	if ctx.buffered != nil {
		p.appendToBuffer(ctx, line)
		return Continuation(lineNumber, line)
	}

	// Stack frame after a completed entry: attach it to that entry. The
	// batch writer holds pointers, so the trace lands before the flush.
	if ctx.prevEntry != nil {
		if ctx.prevEntry.StackTrace != "" {
			ctx.prevEntry.StackTrace += "\n"
		}
		ctx.prevEntry.StackTrace += line
		ctx.prevEntry.HasStackTrace = true
		return Continuation(lineNumber, line)
	}

	// Orphan stack frame: no owning entry to attach to.
	entry := p.basicEntry(line, lineNumber, ctx)
	entry.HasStackTrace = true
	entry.StackTrace = line
	ctx.prevEntry = entry
	return Success(entry)
}

func (p *TextParser) beginException(line string, lineNumber int64, ctx *ParseContext) ParseOutcome {
	entry := p.basicEntry(line, lineNumber, ctx)
	entry.Level = model.LevelError
	entry.HasError = true
	entry.HasStackTrace = true

	ctx.buffered = entry
	ctx.bufferedStart = lineNumber
	ctx.stackBuf.Reset()
	ctx.stackBuf.WriteString(line)

	return Buffered(lineNumber, line)
}

func (p *TextParser) appendToBuffer(ctx *ParseContext, line string) {
	if ctx.stackBuf.Len() > 0 {
		ctx.stackBuf.WriteByte('\n')
	}
	ctx.stackBuf.WriteString(line)
}

func (p *TextParser) flush(ctx *ParseContext) *model.LogEntry {
	entry := ctx.buffered
	if ctx.stackBuf.Len() > 0 {
		entry.StackTrace = ctx.stackBuf.String()
		entry.HasStackTrace = true
	}
	ctx.buffered = nil
	ctx.bufferedStart = 0
	ctx.stackBuf.Reset()
	ctx.prevEntry = entry
	return entry
}

func (p *TextParser) entryFromMatch(cfg patternConfig, match []string, line string, lineNumber int64, ctx *ParseContext) *model.LogEntry {
	group := func(name string) string {
		idx := cfg.re.SubexpIndex(name)
		if idx < 0 || idx >= len(match) {
			return ""
		}
		return match[idx]
	}

	entry := &model.LogEntry{
		ID:         uuid.NewString(),
		JobID:      ctx.JobID,
		FileName:   ctx.FileName,
		LineNumber: lineNumber,
		RawLine:    line,
		IndexedAt:  time.Now(),
	}

	if ts := group("timestamp"); ts != "" {
		entry.Timestamp = ParseTimestamp(ts, ctx.TimestampFormat)
	} else {
		entry.Timestamp = time.Now()
	}

	if level := group("level"); level != "" {
		entry.Level = NormalizeLevel(level)
		entry.HasError = IsErrorLevel(entry.Level)
	} else if status := group("status"); status != "" {
		code, _ := strconv.Atoi(status)
		switch {
		case code >= 500:
			entry.Level = model.LevelError
			entry.HasError = true
		case code >= 400:
			entry.Level = model.LevelWarn
		default:
			entry.Level = model.LevelInfo
		}
	} else {
		entry.Level = model.LevelInfo
	}

	if thread := group("thread"); thread != "" {
		entry.Thread = strings.TrimSpace(thread)
	}

	logger := group("logger")
	if logger == "" {
		logger = group("service")
	}
	if logger != "" {
		entry.Logger = logger
		parts := strings.Split(logger, ".")
		entry.Source = parts[len(parts)-1]
	}

	if hostname := group("hostname"); hostname != "" {
		entry.Hostname = hostname
	}

	message := group("message")
	if message == "" {
		if request := group("request"); request != "" {
			message = strings.TrimSpace(request + " " + group("status"))
		} else {
			message = line
		}
	}
	entry.Message = strings.TrimSpace(message)

	if metadata := extractMetadata(line, cfg, group); len(metadata) > 0 {
		entry.Metadata = metadata
	}

	return entry
}

func (p *TextParser) basicEntry(line string, lineNumber int64, ctx *ParseContext) *model.LogEntry {
	now := time.Now()
	return &model.LogEntry{
		ID:         uuid.NewString(),
		JobID:      ctx.JobID,
		FileName:   ctx.FileName,
		LineNumber: lineNumber,
		RawLine:    line,
		Message:    line,
		Level:      model.LevelInfo,
		Timestamp:  now,
		IndexedAt:  now,
	}
}

func hasStackTraceIndicator(message string) bool {
	return strings.Contains(message, "Exception") ||
		strings.Contains(message, "Error") ||
		strings.Contains(message, "Throwable")
}

func extractMetadata(line string, cfg patternConfig, group func(string) string) model.JSONB {
	metadata := model.JSONB{}

	for _, kv := range keyValuePattern.FindAllStringSubmatch(line, -1) {
		value := kv[2]
		if value == "" {
			value = kv[3]
		}
		if value == "" {
			value = kv[4]
		}
		metadata[kv[1]] = value
	}

	if ip := ipPattern.FindString(line); ip != "" {
		metadata["ip_address"] = ip
	}
	if url := urlPattern.FindString(line); url != "" {
		metadata["url"] = url
	}
	if id := requestIDPattern.FindStringSubmatch(line); id != nil {
		metadata["request_id"] = id[1]
	}

	switch cfg.name {
	case "APACHE":
		if ip := group("ip"); ip != "" {
			metadata["client_ip"] = ip
		}
		if user := group("user"); user != "" && user != "-" {
			metadata["user"] = user
		}
		if status := group("status"); status != "" {
			code, _ := strconv.Atoi(status)
			metadata["http_status"] = code
		}
		if bytes := group("bytes"); bytes != "" && bytes != "-" {
			size, _ := strconv.ParseInt(bytes, 10, 64)
			metadata["bytes"] = size
		}
		if referer := group("referer"); referer != "" && referer != "-" {
			metadata["referer"] = referer
		}
		if ua := group("useragent"); ua != "" && ua != "-" {
			metadata["user_agent"] = ua
		}
	case "SYSLOG":
		if pid := group("pid"); pid != "" {
			n, _ := strconv.Atoi(pid)
			metadata["pid"] = n
		}
	}

	return metadata
}
