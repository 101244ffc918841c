package model

import "time"

type JobState string

const (
	JobQueued     JobState = "QUEUED"
	JobProcessing JobState = "PROCESSING"
	JobCompleted  JobState = "COMPLETED"
	JobFailed     JobState = "FAILED"
)

// Terminal reports whether the state admits no further transitions.
func (s JobState) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// JobStatus is the observable state of one upload-to-indexed lifecycle.
// The owning worker is the only writer for a given job id; readers get a
// whole-record snapshot from the job store.
type JobStatus struct {
	JobID    string   `json:"jobId"`
	Status   JobState `json:"status"`
	Progress int      `json:"progress"`
	Message  string   `json:"message,omitempty"`
	Error    string   `json:"error,omitempty"`

	TotalLines      int64 `json:"totalLines"`
	ProcessedLines  int64 `json:"processedLines"`
	SuccessfulLines int64 `json:"successfulLines"`
	FailedLines     int64 `json:"failedLines"`

	StartedAt   time.Time  `json:"startedAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`

	ProcessingTimeMs int64   `json:"processingTimeMs"`
	LinesPerSecond   float64 `json:"linesPerSecond"`

	FileName        string `json:"fileName"`
	FileSize        int64  `json:"fileSize"`
	TimestampFormat string `json:"timestampFormat,omitempty"`

	// LevelCounts is filled during finalization, after the last batch
	// lands in the store.
	LevelCounts map[string]int64 `json:"levelCounts,omitempty"`
}

// JobResult carries the terminal analysis counters returned by
// GET /logs/result/{jobId}.
type JobResult struct {
	JobID            string           `json:"jobId"`
	Status           JobState         `json:"status"`
	TotalLines       int64            `json:"totalLines"`
	ProcessedLines   int64            `json:"processedLines"`
	SuccessfulLines  int64            `json:"successfulLines"`
	FailedLines      int64            `json:"failedLines"`
	ErrorCount       int64            `json:"errorCount"`
	LevelCounts      map[string]int64 `json:"levelCounts"`
	ProcessingTimeMs int64            `json:"processingTimeMs"`
	LinesPerSecond   float64          `json:"linesPerSecond"`
}
