package reader

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/zap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

const (
	DefaultBufferSize       = 8 * 1024
	DefaultProgressInterval = 1000
	DefaultMaxLineLength    = 100000
)

// LineHandler receives each line with its 1-based line number.
type LineHandler func(line string, lineNumber int64) error

// ProgressFunc receives (current line, total lines) at the configured cadence.
type ProgressFunc func(current, total int64)

// ErrorFunc observes per-line handler errors. When set, processing
// continues past a failing line; when nil the error propagates.
type ErrorFunc func(err error)

type Options struct {
	BufferSize       int
	ProgressInterval int64
	MaxLineLength    int
	OnProgress       ProgressFunc
	OnError          ErrorFunc

	// KnownTotal, when positive, is the line count already determined by
	// the caller; it spares Process a counting pass of its own.
	KnownTotal int64
}

// StreamReader reads a file line by line without ever holding the whole
// file in memory. A UTF-8/UTF-16 BOM on the first bytes is honored.
type StreamReader struct {
	opts   Options
	logger *zap.Logger
}

type ProcessingStats struct {
	TotalLines       int64
	BytesRead        int64
	ProcessingTimeMs int64
	StartLine        int64
	EndLine          int64
}

func (s ProcessingStats) LinesPerSecond() float64 {
	if s.ProcessingTimeMs <= 0 {
		return 0
	}
	return float64(s.TotalLines) * 1000.0 / float64(s.ProcessingTimeMs)
}

func (s ProcessingStats) BytesPerSecond() float64 {
	if s.ProcessingTimeMs <= 0 {
		return 0
	}
	return float64(s.BytesRead) * 1000.0 / float64(s.ProcessingTimeMs)
}

func NewStreamReader(opts Options, logger *zap.Logger) *StreamReader {
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultBufferSize
	}
	if opts.ProgressInterval <= 0 {
		opts.ProgressInterval = DefaultProgressInterval
	}
	if opts.MaxLineLength <= 0 {
		opts.MaxLineLength = DefaultMaxLineLength
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StreamReader{opts: opts, logger: logger}
}

// CountLines runs the first pass: the denominator for progress reporting.
func (r *StreamReader) CountLines(path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	scanner := r.newScanner(f)
	var count int64
	for scanner.Scan() {
		count++
	}
	if err := scanner.Err(); err != nil {
		return count, fmt.Errorf("count lines in %s: %w", path, err)
	}
	return count, nil
}

// Process runs the second pass from line 1.
func (r *StreamReader) Process(path string, handler LineHandler) (*ProcessingStats, error) {
	return r.ProcessFrom(path, handler, 1)
}

// ProcessFrom streams lines starting at startLine (1-based), invoking the
// handler for each. Lines longer than MaxLineLength are truncated.
func (r *StreamReader) ProcessFrom(path string, handler LineHandler, startLine int64) (*ProcessingStats, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	total := r.opts.KnownTotal
	if total <= 0 && r.opts.OnProgress != nil {
		total, err = r.CountLines(path)
		if err != nil {
			return nil, err
		}
	}

	if startLine < 1 {
		startLine = 1
	}

	stats := &ProcessingStats{StartLine: startLine}
	start := time.Now()

	scanner := r.newScanner(f)
	var lineNumber, handled int64
	for scanner.Scan() {
		lineNumber++
		if lineNumber < startLine {
			continue
		}

		line := scanner.Text()
		stats.BytesRead += int64(len(line)) + 1
		if len(line) > r.opts.MaxLineLength {
			r.logger.Warn("truncating oversized line",
				zap.Int64("line", lineNumber),
				zap.Int("length", len(line)),
				zap.Int("max", r.opts.MaxLineLength))
			line = line[:r.opts.MaxLineLength]
		}

		if err := handler(line, lineNumber); err != nil {
			if r.opts.OnError == nil {
				return stats, fmt.Errorf("line %d: %w", lineNumber, err)
			}
			r.logger.Debug("line handler failed",
				zap.Int64("line", lineNumber), zap.Error(err))
			r.opts.OnError(err)
		}

		handled++
		if r.opts.OnProgress != nil && handled%r.opts.ProgressInterval == 0 {
			r.opts.OnProgress(lineNumber, total)
		}
	}
	if err := scanner.Err(); err != nil {
		return stats, fmt.Errorf("read %s: %w", path, err)
	}

	stats.TotalLines = handled
	stats.EndLine = lineNumber
	stats.ProcessingTimeMs = time.Since(start).Milliseconds()
	return stats, nil
}

func (r *StreamReader) newScanner(f io.Reader) *bufio.Scanner {
	scanner := bufio.NewScanner(decodeBOM(f))
	// Oversized lines must survive the scan so they can be truncated,
	// not rejected: allow slack beyond the configured line cap.
	max := r.opts.MaxLineLength * 2
	if max < r.opts.BufferSize {
		max = r.opts.BufferSize
	}
	scanner.Buffer(make([]byte, r.opts.BufferSize), max)
	// A line that still fills the whole buffer is returned as far as it was
	// read, and the rest of it is skipped up to the next newline.
	skipping := false
	scanner.Split(func(data []byte, atEOF bool) (int, []byte, error) {
		if skipping {
			if i := bytes.IndexByte(data, '\n'); i >= 0 {
				skipping = false
				return i + 1, nil, nil
			}
			return len(data), nil, nil
		}
		advance, token, err := bufio.ScanLines(data, atEOF)
		if advance == 0 && err == nil && len(data) >= max {
			skipping = true
			return len(data), data, nil
		}
		return advance, token, err
	})
	return scanner
}

var (
	bomUTF8    = []byte{0xEF, 0xBB, 0xBF}
	bomUTF16BE = []byte{0xFE, 0xFF}
	bomUTF16LE = []byte{0xFF, 0xFE}
)

// decodeBOM sniffs a byte-order mark and returns a reader producing UTF-8.
func decodeBOM(f io.Reader) io.Reader {
	br := bufio.NewReader(f)
	head, err := br.Peek(3)
	if err != nil && len(head) == 0 {
		return br
	}

	switch {
	case bytes.HasPrefix(head, bomUTF8):
		br.Discard(len(bomUTF8))
		return br
	case bytes.HasPrefix(head, bomUTF16BE):
		dec := unicode.UTF16(unicode.BigEndian, unicode.UseBOM).NewDecoder()
		return transform.NewReader(br, dec)
	case bytes.HasPrefix(head, bomUTF16LE):
		dec := unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewDecoder()
		return transform.NewReader(br, dec)
	default:
		return br
	}
}
