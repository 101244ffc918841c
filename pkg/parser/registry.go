package parser

import (
	"bufio"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/logscan/logscan/pkg/apperr"
)

const (
	sampleMaxLines = 10
	sampleMaxChars = 4096
)

var extensionFormats = map[string]string{
	".json":   "JSON",
	".ndjson": "JSON",
	".csv":    "CSV",
	".tsv":    "CSV",
	".log":    "TEXT",
	".txt":    "TEXT",
	".out":    "TEXT",
	".err":    "TEXT",
}

// Registry holds the parser set sorted by priority descending. Mutation
// only happens during configuration changes; lookups take a snapshot, so
// a selection in flight never observes a half-applied change.
type Registry struct {
	mu      sync.RWMutex
	parsers []Parser
	logger  *zap.Logger
}

func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{logger: logger}
}

// NewDefaultRegistry returns a registry with the built-in JSON, CSV and
// text parsers.
func NewDefaultRegistry(logger *zap.Logger) *Registry {
	r := NewRegistry(logger)
	r.Register(NewJSONParser())
	r.Register(NewCSVParser())
	r.Register(NewTextParser())
	return r
}

func (r *Registry) Register(p Parser) {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := make([]Parser, 0, len(r.parsers)+1)
	for _, existing := range r.parsers {
		if !strings.EqualFold(existing.Format(), p.Format()) {
			next = append(next, existing)
		}
	}
	next = append(next, p)
	sort.SliceStable(next, func(i, j int) bool {
		return next[i].Priority() > next[j].Priority()
	})
	r.parsers = next
}

func (r *Registry) Unregister(format string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := make([]Parser, 0, len(r.parsers))
	removed := false
	for _, existing := range r.parsers {
		if strings.EqualFold(existing.Format(), format) {
			removed = true
			continue
		}
		next = append(next, existing)
	}
	r.parsers = next
	return removed
}

// GetByFormat looks a parser up by its format name, case-insensitively.
func (r *Registry) GetByFormat(format string) (Parser, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.parsers {
		if strings.EqualFold(p.Format(), format) {
			return p, true
		}
	}
	return nil, false
}

// Parsers returns the priority-ordered snapshot.
func (r *Registry) Parsers() []Parser {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Parser(nil), r.parsers...)
}

// Formats maps each registered format name to its description.
func (r *Registry) Formats() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]string, len(r.parsers))
	for _, p := range r.parsers {
		out[p.Format()] = p.Description()
	}
	return out
}

// SelectForFile picks the parser for a file: the extension's format first
// (confirmed by CanParse against a content sample), then all parsers by
// priority, then the text parser as catch-all.
func (r *Registry) SelectForFile(path, fileName string) (Parser, error) {
	sample, err := SampleContent(path)
	if err != nil {
		return nil, err
	}
	return r.Select(fileName, sample)
}

// Select applies the selection rule to an already-read content sample.
// CanParse never consumes parser state, so probing is free.
func (r *Registry) Select(fileName, sample string) (Parser, error) {
	parsers := r.Parsers()

	if format, ok := extensionFormats[strings.ToLower(filepath.Ext(fileName))]; ok {
		if p, found := r.GetByFormat(format); found && p.CanParse(fileName, sample) {
			return p, nil
		}
	}

	for _, p := range parsers {
		if p.CanParse(fileName, sample) {
			return p, nil
		}
	}

	if p, found := r.GetByFormat("TEXT"); found {
		r.logger.Debug("falling back to text parser", zap.String("file", fileName))
		return p, nil
	}

	return nil, apperr.New(apperr.Invalid, "no parser available for file %q", fileName)
}

// SampleContent reads up to 10 lines or 4096 characters from the head of
// the file, whichever comes first.
func SampleContent(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var sb strings.Builder
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for lines := 0; lines < sampleMaxLines && scanner.Scan(); lines++ {
		line := scanner.Text()
		if sb.Len()+len(line) > sampleMaxChars {
			sb.WriteString(line[:sampleMaxChars-sb.Len()])
			break
		}
		if sb.Len() > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(line)
	}
	if err := scanner.Err(); err != nil {
		return sb.String(), err
	}
	return sb.String(), nil
}
