package query

import (
	"strings"
	"time"

	"github.com/logscan/logscan/pkg/apperr"
	"github.com/logscan/logscan/pkg/store"
)

// WireTimeFormat is the external timestamp contract: ISO-8601 local with
// millisecond precision.
const WireTimeFormat = "2006-01-02T15:04:05.000"

const (
	DefaultPageSize = 50
	MaxPageSize     = 1000
)

// LogQueryRequest is the declarative search request. Zero values mean
// "no filter"; jobId is the only required field.
type LogQueryRequest struct {
	JobID string `json:"jobId" form:"jobId"`

	SearchText   string   `json:"searchText,omitempty" form:"searchText"`
	SearchFields []string `json:"searchFields,omitempty" form:"searchFields"`

	Levels []string `json:"levels,omitempty" form:"levels"`

	FileName    string `json:"fileName,omitempty" form:"fileName"`
	Logger      string `json:"logger,omitempty" form:"logger"`
	Thread      string `json:"thread,omitempty" form:"thread"`
	Source      string `json:"source,omitempty" form:"source"`
	Hostname    string `json:"hostname,omitempty" form:"hostname"`
	Application string `json:"application,omitempty" form:"application"`
	Environment string `json:"environment,omitempty" form:"environment"`

	HasError      *bool    `json:"hasError,omitempty" form:"hasError"`
	HasStackTrace *bool    `json:"hasStackTrace,omitempty" form:"hasStackTrace"`
	Tags          []string `json:"tags,omitempty" form:"tags"`

	StartDate string `json:"startDate,omitempty" form:"startDate"`
	EndDate   string `json:"endDate,omitempty" form:"endDate"`

	MinLineNumber *int64 `json:"minLineNumber,omitempty" form:"minLineNumber"`
	MaxLineNumber *int64 `json:"maxLineNumber,omitempty" form:"maxLineNumber"`

	SortBy        string `json:"sortBy,omitempty" form:"sortBy"`
	SortDirection string `json:"sortDirection,omitempty" form:"sortDirection"`

	Page int  `json:"page" form:"page,default=0"`
	Size *int `json:"size,omitempty" form:"size"`

	IncludeFields []string `json:"includeFields,omitempty" form:"includeFields"`
	ExcludeFields []string `json:"excludeFields,omitempty" form:"excludeFields"`

	IncludeSummary   bool `json:"includeSummary,omitempty" form:"includeSummary"`
	HighlightMatches bool `json:"highlightMatches,omitempty" form:"highlightMatches"`
}

// PageSize resolves the effective page size.
func (r *LogQueryRequest) PageSize() int {
	if r.Size == nil {
		return DefaultPageSize
	}
	return *r.Size
}

// EffectiveSearchFields resolves the full-text fields to search.
func (r *LogQueryRequest) EffectiveSearchFields() []string {
	if len(r.SearchFields) > 0 {
		return r.SearchFields
	}
	return store.DefaultSearchFields
}

// Validate enforces the request contract: blank jobId, inverted ranges,
// unknown sort fields and out-of-bounds pagination are all invalid.
func (r *LogQueryRequest) Validate() error {
	if strings.TrimSpace(r.JobID) == "" {
		return apperr.New(apperr.Invalid, "jobId is required")
	}

	start, err := parseWireTime(r.StartDate)
	if err != nil {
		return apperr.New(apperr.Invalid, "invalid startDate %q", r.StartDate)
	}
	end, err := parseWireTime(r.EndDate)
	if err != nil {
		return apperr.New(apperr.Invalid, "invalid endDate %q", r.EndDate)
	}
	if start != nil && end != nil && start.After(*end) {
		return apperr.New(apperr.Invalid, "startDate must not be after endDate")
	}

	if r.MinLineNumber != nil && r.MaxLineNumber != nil && *r.MinLineNumber > *r.MaxLineNumber {
		return apperr.New(apperr.Invalid, "minLineNumber must not exceed maxLineNumber")
	}

	if r.SortBy != "" {
		if _, ok := store.SortColumns[r.SortBy]; !ok {
			return apperr.New(apperr.Invalid, "unsupported sort field %q", r.SortBy)
		}
	}
	if r.SortDirection != "" {
		direction := strings.ToLower(r.SortDirection)
		if direction != "asc" && direction != "desc" {
			return apperr.New(apperr.Invalid, "sortDirection must be asc or desc")
		}
	}

	if r.Page < 0 {
		return apperr.New(apperr.Invalid, "page must not be negative")
	}
	if size := r.PageSize(); size < 1 || size > MaxPageSize {
		return apperr.New(apperr.Invalid, "size must be between 1 and %d", MaxPageSize)
	}

	return nil
}

func parseWireTime(value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	for _, layout := range []string{WireTimeFormat, "2006-01-02T15:04:05", time.RFC3339} {
		if ts, err := time.Parse(layout, value); err == nil {
			return &ts, nil
		}
	}
	return nil, apperr.New(apperr.Invalid, "unparseable time %q", value)
}
