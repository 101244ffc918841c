package query

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/logscan/logscan/pkg/apperr"
	"github.com/logscan/logscan/pkg/model"
)

const (
	FormatCSV    = "csv"
	FormatJSON   = "json"
	FormatNDJSON = "ndjson"

	DefaultExportRecords = 10000
	MaxExportRecords     = 100000
)

var defaultExportFields = []string{
	"timestamp", "level", "logger", "thread", "message", "lineNumber", "fileName",
}

// ExportRequest layers rendering options over the filter set of a search
// request.
type ExportRequest struct {
	LogQueryRequest

	Format         string   `json:"format" form:"format"`
	Fields         []string `json:"fields,omitempty" form:"fields"`
	Delimiter      string   `json:"delimiter,omitempty" form:"delimiter"`
	IncludeHeaders *bool    `json:"includeHeaders,omitempty" form:"includeHeaders"`
	MaxRecords     int      `json:"maxRecords,omitempty" form:"maxRecords"`
}

func (r *ExportRequest) exportFields() []string {
	if len(r.Fields) > 0 {
		return r.Fields
	}
	return defaultExportFields
}

func (r *ExportRequest) delimiterRune() rune {
	if r.Delimiter == "" {
		return ','
	}
	return []rune(r.Delimiter)[0]
}

func (r *ExportRequest) headers() bool {
	return r.IncludeHeaders == nil || *r.IncludeHeaders
}

// fieldAccessors renders a document field to its textual export form.
// Unknown names yield an empty string.
var fieldAccessors = map[string]func(*model.LogEntry) string{
	"id":          func(e *model.LogEntry) string { return e.ID },
	"jobId":       func(e *model.LogEntry) string { return e.JobID },
	"lineNumber":  func(e *model.LogEntry) string { return strconv.FormatInt(e.LineNumber, 10) },
	"timestamp":   func(e *model.LogEntry) string { return formatWireTime(e.Timestamp) },
	"indexedAt":   func(e *model.LogEntry) string { return formatWireTime(e.IndexedAt) },
	"level":       func(e *model.LogEntry) string { return e.Level },
	"hasError":    func(e *model.LogEntry) string { return strconv.FormatBool(e.HasError) },
	"hasStackTrace": func(e *model.LogEntry) string {
		return strconv.FormatBool(e.HasStackTrace)
	},
	"message":     func(e *model.LogEntry) string { return e.Message },
	"rawLine":     func(e *model.LogEntry) string { return e.RawLine },
	"stackTrace":  func(e *model.LogEntry) string { return e.StackTrace },
	"logger":      func(e *model.LogEntry) string { return e.Logger },
	"thread":      func(e *model.LogEntry) string { return e.Thread },
	"source":      func(e *model.LogEntry) string { return e.Source },
	"hostname":    func(e *model.LogEntry) string { return e.Hostname },
	"application": func(e *model.LogEntry) string { return e.Application },
	"environment": func(e *model.LogEntry) string { return e.Environment },
	"fileName":    func(e *model.LogEntry) string { return e.FileName },
	"tags":        func(e *model.LogEntry) string { return strings.Join(e.Tags, " ") },
	"metadata": func(e *model.LogEntry) string {
		if len(e.Metadata) == 0 {
			return ""
		}
		data, err := json.Marshal(e.Metadata)
		if err != nil {
			return ""
		}
		return string(data)
	},
}

// Export compiles the request's filters, fetches up to the record cap and
// renders the chosen format.
func (s *Service) Export(ctx context.Context, req *ExportRequest) ([]byte, string, error) {
	format := strings.ToLower(req.Format)
	if format == "" {
		format = FormatCSV
	}
	switch format {
	case FormatCSV, FormatJSON, FormatNDJSON:
	default:
		return nil, "", apperr.New(apperr.Invalid, "unsupported export format %q", req.Format)
	}

	maxRecords := req.MaxRecords
	if maxRecords <= 0 {
		maxRecords = DefaultExportRecords
	}
	if maxRecords > MaxExportRecords {
		return nil, "", apperr.New(apperr.Invalid, "maxRecords must not exceed %d", MaxExportRecords)
	}

	q, err := CompileExport(&req.LogQueryRequest, maxRecords)
	if err != nil {
		return nil, "", err
	}

	if _, err := s.jobs.Get(ctx, q.JobID); err != nil {
		return nil, "", err
	}

	page, err := s.entries.Search(ctx, q)
	if err != nil {
		return nil, "", err
	}

	switch format {
	case FormatCSV:
		data, err := renderCSV(page.Entries, req)
		return data, "text/csv", err
	case FormatJSON:
		data, err := json.MarshalIndent(page.Entries, "", "  ")
		return data, "application/json", err
	default:
		data, err := renderNDJSON(page.Entries)
		return data, "application/x-ndjson", err
	}
}

func renderCSV(entries []model.LogEntry, req *ExportRequest) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Comma = req.delimiterRune()

	fields := req.exportFields()
	if req.headers() {
		if err := w.Write(fields); err != nil {
			return nil, fmt.Errorf("write csv header: %w", err)
		}
	}

	row := make([]string, len(fields))
	for i := range entries {
		for j, field := range fields {
			if accessor, ok := fieldAccessors[field]; ok {
				row[j] = accessor(&entries[i])
			} else {
				row[j] = ""
			}
		}
		if err := w.Write(row); err != nil {
			return nil, fmt.Errorf("write csv row: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func renderNDJSON(entries []model.LogEntry) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i := range entries {
		if err := enc.Encode(&entries[i]); err != nil {
			return nil, fmt.Errorf("encode entry: %w", err)
		}
	}
	return buf.Bytes(), nil
}

func formatWireTime(ts time.Time) string {
	if ts.IsZero() {
		return ""
	}
	return ts.Format(WireTimeFormat)
}
