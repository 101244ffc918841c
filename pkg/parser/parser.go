package parser

import (
	"strings"

	"github.com/logscan/logscan/pkg/model"
)

// OutcomeKind tags the result of parsing a single line.
type OutcomeKind int

const (
	// OutcomeSuccess carries a complete entry ready to store.
	OutcomeSuccess OutcomeKind = iota
	// OutcomeBuffered means the parser started a multi-line entry and is
	// holding it until a flush.
	OutcomeBuffered
	// OutcomeContinuation means the line was appended to the buffered or
	// previous entry.
	OutcomeContinuation
	// OutcomeSkipped covers whitespace-only lines, header rows, comments.
	OutcomeSkipped
	// OutcomeFailed marks a malformed line, counted as a failure.
	OutcomeFailed
)

type ParseOutcome struct {
	Kind       OutcomeKind
	Entry      *model.LogEntry
	LineNumber int64
	Raw        string
	Reason     string
}

func Success(entry *model.LogEntry) ParseOutcome {
	return ParseOutcome{Kind: OutcomeSuccess, Entry: entry, LineNumber: entry.LineNumber}
}

func Buffered(lineNumber int64, raw string) ParseOutcome {
	return ParseOutcome{Kind: OutcomeBuffered, LineNumber: lineNumber, Raw: raw}
}

func Continuation(lineNumber int64, raw string) ParseOutcome {
	return ParseOutcome{Kind: OutcomeContinuation, LineNumber: lineNumber, Raw: raw}
}

func Skipped(lineNumber int64, reason string) ParseOutcome {
	return ParseOutcome{Kind: OutcomeSkipped, LineNumber: lineNumber, Reason: reason}
}

func Failed(lineNumber int64, raw, reason string) ParseOutcome {
	return ParseOutcome{Kind: OutcomeFailed, LineNumber: lineNumber, Raw: raw, Reason: reason}
}

// ParseContext is the per-file parser state. It is confined to the single
// worker driving a job; parsers themselves stay stateless and shareable.
type ParseContext struct {
	JobID           string
	FileName        string
	TimestampFormat string
	StrictMode      bool
	MaxLineLength   int

	// Multi-line assembly state (text parser). prevEntry tracks the most
	// recent successful entry so orphan stack frames can attach to it.
	buffered      *model.LogEntry
	prevEntry     *model.LogEntry
	stackBuf      strings.Builder
	bufferedStart int64

	// CSV state.
	csvDelimiter   rune
	csvHeaders     []string
	csvIndex       map[string]int
	csvHeadersDone bool

	ProcessedLines  int64
	SuccessfulLines int64
	FailedLines     int64
	SkippedLines    int64
}

func NewParseContext(jobID, fileName string) *ParseContext {
	return &ParseContext{
		JobID:         jobID,
		FileName:      fileName,
		MaxLineLength: 100000,
	}
}

// Parser is the per-format line parser contract. ParseLine must be called
// with monotonically increasing line numbers for one file; Reset is called
// between files.
type Parser interface {
	CanParse(fileName, sample string) bool
	ParseLine(line string, lineNumber int64, ctx *ParseContext) ParseOutcome
	Reset()
	Format() string
	Priority() int
	SupportsMultiLine() bool
	Description() string
}

// MultiLineParser is implemented by parsers that buffer entries across
// lines; FlushPending must be called once at end of file.
type MultiLineParser interface {
	Parser
	FlushPending(ctx *ParseContext) *model.LogEntry
}
