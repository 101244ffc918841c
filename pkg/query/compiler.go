package query

import (
	"strings"
	"time"

	"github.com/logscan/logscan/pkg/apperr"
	"github.com/logscan/logscan/pkg/store"
)

// Timeline intervals accepted by the timeline endpoint. Whole calendar
// months have no fixed length; 1M buckets at 30 days.
var timelineIntervals = map[string]time.Duration{
	"1s":  time.Second,
	"1m":  time.Minute,
	"5m":  5 * time.Minute,
	"15m": 15 * time.Minute,
	"30m": 30 * time.Minute,
	"1h":  time.Hour,
	"1d":  24 * time.Hour,
	"1w":  7 * 24 * time.Hour,
	"1M":  30 * 24 * time.Hour,
}

// Compile validates the request and lowers it to the backend-neutral
// EntryQuery. Filters compose with AND; the search text is tokenized and
// every term must match at least one search field.
func Compile(r *LogQueryRequest) (*store.EntryQuery, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}

	q := &store.EntryQuery{
		JobID:         strings.TrimSpace(r.JobID),
		SearchText:    strings.TrimSpace(r.SearchText),
		SearchFields:  r.EffectiveSearchFields(),
		HasError:      r.HasError,
		HasStackTrace: r.HasStackTrace,
		Tags:          r.Tags,
		MinLineNumber: r.MinLineNumber,
		MaxLineNumber: r.MaxLineNumber,
		SortBy:        r.SortBy,
		SortAscending: strings.EqualFold(r.SortDirection, "asc"),
		Offset:        r.Page * r.PageSize(),
		Limit:         r.PageSize(),
		IncludeFields: r.IncludeFields,
		ExcludeFields: r.ExcludeFields,
	}
	if q.SortBy == "" {
		q.SortBy = "timestamp"
	}

	for _, level := range r.Levels {
		level = strings.ToUpper(strings.TrimSpace(level))
		if level != "" {
			q.Levels = append(q.Levels, level)
		}
	}

	keyword := map[string]string{}
	for field, value := range map[string]string{
		"fileName":    r.FileName,
		"logger":      r.Logger,
		"thread":      r.Thread,
		"source":      r.Source,
		"hostname":    r.Hostname,
		"application": r.Application,
		"environment": r.Environment,
	} {
		if value != "" {
			keyword[field] = value
		}
	}
	if len(keyword) > 0 {
		q.Keyword = keyword
	}

	start, _ := parseWireTime(r.StartDate)
	end, _ := parseWireTime(r.EndDate)
	q.StartDate = start
	q.EndDate = end

	return q, nil
}

// CompileCount produces the same filter set with no hydration: the store
// only tracks totals.
func CompileCount(r *LogQueryRequest) (*store.EntryQuery, error) {
	q, err := Compile(r)
	if err != nil {
		return nil, err
	}
	q.Offset = 0
	q.Limit = 1
	return q, nil
}

// CompileExport lifts the page-size ceiling up to the export cap.
func CompileExport(r *LogQueryRequest, maxRecords int) (*store.EntryQuery, error) {
	size := r.Size
	r.Size = nil
	q, err := Compile(r)
	r.Size = size
	if err != nil {
		return nil, err
	}
	q.Offset = 0
	q.Limit = maxRecords
	return q, nil
}

// ParseInterval resolves a timeline interval token.
func ParseInterval(value string) (time.Duration, error) {
	if value == "" {
		return time.Hour, nil
	}
	if d, ok := timelineIntervals[value]; ok {
		return d, nil
	}
	return 0, apperr.New(apperr.Invalid, "unsupported timeline interval %q", value)
}

// ValidateUniqueValuesField rejects non-keyword fields before the store
// sees them.
func ValidateUniqueValuesField(field string) error {
	if _, ok := store.KeywordColumns[field]; !ok {
		return apperr.New(apperr.Invalid, "field %q does not support unique values", field)
	}
	return nil
}
