package model

import (
	"time"

	"github.com/lib/pq"
)

// Normalized severity levels. Parsers map everything else onto these five
// via parser.NormalizeLevel.
const (
	LevelTrace = "TRACE"
	LevelDebug = "DEBUG"
	LevelInfo  = "INFO"
	LevelWarn  = "WARN"
	LevelError = "ERROR"
)

// LogEntry is the canonical indexed document. One entry per source line,
// except multi-line events (stack traces) which fold into one entry.
type LogEntry struct {
	ID         string    `gorm:"type:varchar(64);primary_key" json:"id"`
	JobID      string    `gorm:"type:varchar(64);not null;index:idx_entries_job_line;index:idx_entries_job_time" json:"jobId"`
	LineNumber int64     `gorm:"not null;index:idx_entries_job_line" json:"lineNumber"`
	Timestamp  time.Time `gorm:"not null;index:idx_entries_job_time" json:"timestamp"`
	IndexedAt  time.Time `gorm:"not null" json:"indexedAt"`

	Level         string `gorm:"type:varchar(16);default:'INFO';index" json:"level"`
	HasError      bool   `gorm:"default:false" json:"hasError"`
	HasStackTrace bool   `gorm:"default:false" json:"hasStackTrace"`

	Message    string `gorm:"type:text" json:"message"`
	RawLine    string `gorm:"type:text" json:"rawLine"`
	StackTrace string `gorm:"type:text" json:"stackTrace,omitempty"`

	Logger      string `gorm:"type:varchar(255);index" json:"logger,omitempty"`
	Thread      string `gorm:"type:varchar(255)" json:"thread,omitempty"`
	Source      string `gorm:"type:varchar(255)" json:"source,omitempty"`
	Hostname    string `gorm:"type:varchar(255)" json:"hostname,omitempty"`
	Application string `gorm:"type:varchar(255)" json:"application,omitempty"`
	Environment string `gorm:"type:varchar(64)" json:"environment,omitempty"`
	FileName    string `gorm:"type:varchar(512)" json:"fileName,omitempty"`

	Metadata JSONB          `gorm:"type:jsonb" json:"metadata,omitempty"`
	Tags     pq.StringArray `gorm:"type:text[]" json:"tags,omitempty"`
}

func (LogEntry) TableName() string {
	return "log_entries"
}
