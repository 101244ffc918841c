package pipeline

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/logscan/logscan/pkg/apperr"
	"github.com/logscan/logscan/pkg/config"
	"github.com/logscan/logscan/pkg/eventbus"
	"github.com/logscan/logscan/pkg/metrics"
	"github.com/logscan/logscan/pkg/model"
	"github.com/logscan/logscan/pkg/parser"
	"github.com/logscan/logscan/pkg/reader"
	"github.com/logscan/logscan/pkg/store"
)

type ingestTask struct {
	jobID           string
	filePath        string
	fileName        string
	fileSize        int64
	timestampFormat string
}

// Controller orchestrates the ingestion pipeline: reader, parser
// dispatch, batch writer and the job-status lifecycle. A bounded worker
// pool drives jobs; each job runs sequentially inside one worker because
// parsers carry multi-line state.
type Controller struct {
	registry *parser.Registry
	entries  store.EntryStore
	jobs     store.JobStore
	bus      *eventbus.Bus
	cfg      config.ProcessingConfig
	logger   *zap.Logger

	tasks chan ingestTask
	wg    sync.WaitGroup
	once  sync.Once
}

func NewController(registry *parser.Registry, entries store.EntryStore, jobs store.JobStore, bus *eventbus.Bus, cfg config.ProcessingConfig, logger *zap.Logger) *Controller {
	if cfg.WorkerPool.CoreSize <= 0 {
		cfg.WorkerPool.CoreSize = 4
	}
	if cfg.WorkerPool.QueueSize <= 0 {
		cfg.WorkerPool.QueueSize = 100
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.MaxLineLength <= 0 {
		cfg.MaxLineLength = reader.DefaultMaxLineLength
	}
	if cfg.ProgressStride <= 0 {
		cfg.ProgressStride = reader.DefaultProgressInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		registry: registry,
		entries:  entries,
		jobs:     jobs,
		bus:      bus,
		cfg:      cfg,
		logger:   logger,
		tasks:    make(chan ingestTask, cfg.WorkerPool.QueueSize),
	}
}

// Start launches the worker pool. Workers drain the queue until Stop.
func (c *Controller) Start() {
	for i := 0; i < c.cfg.WorkerPool.CoreSize; i++ {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			for task := range c.tasks {
				c.process(context.Background(), task)
			}
		}()
	}
}

// Stop closes the queue and waits for in-flight jobs to finish.
func (c *Controller) Stop() {
	c.once.Do(func() { close(c.tasks) })
	c.wg.Wait()
}

// Submit registers a new job, persists its QUEUED status and enqueues the
// ingestion task. Returns immediately with the job id.
func (c *Controller) Submit(ctx context.Context, filePath, fileName string, fileSize int64, timestampFormat string) (string, error) {
	jobID := uuid.NewString()
	now := time.Now()

	status := &model.JobStatus{
		JobID:           jobID,
		Status:          model.JobQueued,
		Progress:        0,
		Message:         "Job queued for processing",
		FileName:        fileName,
		FileSize:        fileSize,
		TimestampFormat: timestampFormat,
		StartedAt:       now,
		UpdatedAt:       now,
	}
	if err := c.jobs.Save(ctx, status); err != nil {
		return "", fmt.Errorf("persist job status: %w", err)
	}

	task := ingestTask{
		jobID:           jobID,
		filePath:        filePath,
		fileName:        fileName,
		fileSize:        fileSize,
		timestampFormat: timestampFormat,
	}

	select {
	case c.tasks <- task:
	default:
		return "", apperr.New(apperr.Unavailable, "ingestion queue is full")
	}

	metrics.ActiveJobs.Inc()
	c.publish(ctx, status)
	c.logger.Info("job submitted",
		zap.String("job_id", jobID),
		zap.String("file", fileName),
		zap.Int64("size", fileSize))

	return jobID, nil
}

func (c *Controller) GetStatus(ctx context.Context, jobID string) (*model.JobStatus, error) {
	return c.jobs.Get(ctx, jobID)
}

// GetResult returns the terminal counters and level distribution; a job
// that has not reached a terminal state yields an internal-kind error.
func (c *Controller) GetResult(ctx context.Context, jobID string) (*model.JobResult, error) {
	status, err := c.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !status.Status.Terminal() {
		return nil, apperr.New(apperr.Internal, "job %s not yet completed", jobID)
	}

	levels := status.LevelCounts
	if levels == nil {
		if levels, err = c.entries.LevelCounts(ctx, jobID); err != nil {
			return nil, err
		}
	}

	return &model.JobResult{
		JobID:            jobID,
		Status:           status.Status,
		TotalLines:       status.TotalLines,
		ProcessedLines:   status.ProcessedLines,
		SuccessfulLines:  status.SuccessfulLines,
		FailedLines:      status.FailedLines,
		ErrorCount:       levels[model.LevelError],
		LevelCounts:      levels,
		ProcessingTimeMs: status.ProcessingTimeMs,
		LinesPerSecond:   status.LinesPerSecond,
	}, nil
}

func (c *Controller) process(ctx context.Context, task ingestTask) {
	defer func() {
		if err := os.Remove(task.filePath); err != nil && !os.IsNotExist(err) {
			c.logger.Warn("failed to delete temp file",
				zap.String("path", task.filePath), zap.Error(err))
		}
	}()
	defer metrics.ActiveJobs.Dec()

	start := time.Now()
	status, err := c.jobs.Get(ctx, task.jobID)
	if err != nil {
		c.logger.Error("job status lost before processing",
			zap.String("job_id", task.jobID), zap.Error(err))
		return
	}

	status.Status = model.JobProcessing
	status.Message = "Starting file processing"
	c.save(ctx, status)

	if err := c.ingest(ctx, task, status); err != nil {
		c.fail(ctx, status, err)
		metrics.JobsTotal.WithLabelValues(string(model.JobFailed)).Inc()
		return
	}

	elapsed := time.Since(start).Milliseconds()
	status.ProcessingTimeMs = elapsed
	if elapsed > 0 && status.TotalLines > 0 {
		status.LinesPerSecond = float64(status.TotalLines) * 1000.0 / float64(elapsed)
	}
	status.Status = model.JobCompleted
	status.Progress = 100
	status.Message = "Processing completed successfully"
	now := time.Now()
	status.CompletedAt = &now
	c.save(ctx, status)

	metrics.JobsTotal.WithLabelValues(string(model.JobCompleted)).Inc()
	c.logger.Info("job completed",
		zap.String("job_id", task.jobID),
		zap.Int64("lines", status.TotalLines),
		zap.Int64("elapsed_ms", elapsed),
		zap.Float64("lines_per_second", status.LinesPerSecond))
}

func (c *Controller) ingest(ctx context.Context, task ingestTask, status *model.JobStatus) error {
	p, err := c.registry.SelectForFile(task.filePath, task.fileName)
	if err != nil {
		return err
	}
	p.Reset()

	pctx := parser.NewParseContext(task.jobID, task.fileName)
	pctx.TimestampFormat = task.timestampFormat
	pctx.MaxLineLength = c.cfg.MaxLineLength

	batch := NewBatchWriter(c.entries, c.cfg.BatchSize, true, nil, c.logger)

	counter := reader.NewStreamReader(reader.Options{BufferSize: c.cfg.BufferSize}, c.logger)
	total, err := counter.CountLines(task.filePath)
	if err != nil {
		return fmt.Errorf("count lines: %w", err)
	}

	streamReader := reader.NewStreamReader(reader.Options{
		BufferSize:       c.cfg.BufferSize,
		ProgressInterval: c.cfg.ProgressStride,
		MaxLineLength:    c.cfg.MaxLineLength,
		KnownTotal:       total,
		OnProgress: func(current, totalLines int64) {
			status.Progress = progressPercent(current, totalLines)
			status.ProcessedLines = pctx.ProcessedLines
			c.save(ctx, status)
		},
	}, c.logger)

	status.TotalLines = total
	status.Progress = 5
	status.Message = "Parsing log entries"
	c.save(ctx, status)

	handler := func(line string, lineNumber int64) error {
		outcome := p.ParseLine(line, lineNumber, pctx)
		return c.route(ctx, outcome, batch, pctx)
	}

	if _, err := streamReader.Process(task.filePath, handler); err != nil {
		return err
	}

	if mlp, ok := p.(parser.MultiLineParser); ok {
		if entry := mlp.FlushPending(pctx); entry != nil {
			pctx.ProcessedLines++
			pctx.SuccessfulLines++
			metrics.LinesProcessed.WithLabelValues("success").Inc()
			if err := batch.Add(ctx, entry); err != nil {
				return err
			}
		}
	}

	if err := batch.Flush(ctx); err != nil {
		return fmt.Errorf("final flush: %w", err)
	}

	status.Progress = 95
	status.Message = "Computing statistics"
	status.ProcessedLines = pctx.ProcessedLines
	status.SuccessfulLines = pctx.SuccessfulLines
	status.FailedLines = pctx.FailedLines
	c.save(ctx, status)

	levels, err := c.entries.LevelCounts(ctx, task.jobID)
	if err != nil {
		return fmt.Errorf("level counts: %w", err)
	}
	status.LevelCounts = levels

	return nil
}

func (c *Controller) route(ctx context.Context, outcome parser.ParseOutcome, batch *BatchWriter, pctx *parser.ParseContext) error {
	switch outcome.Kind {
	case parser.OutcomeSuccess:
		pctx.ProcessedLines++
		pctx.SuccessfulLines++
		metrics.LinesProcessed.WithLabelValues("success").Inc()
		return batch.Add(ctx, outcome.Entry)
	case parser.OutcomeFailed:
		pctx.ProcessedLines++
		pctx.FailedLines++
		metrics.LinesProcessed.WithLabelValues("failed").Inc()
		c.logger.Debug("line parse failed",
			zap.Int64("line", outcome.LineNumber),
			zap.String("reason", outcome.Reason))
		return nil
	case parser.OutcomeSkipped:
		pctx.SkippedLines++
		metrics.LinesProcessed.WithLabelValues("skipped").Inc()
		return nil
	default:
		// Buffered and continuation lines are accounted when their owning
		// entry completes.
		return nil
	}
}

// progressPercent maps line progress onto 5..95; the last five percent is
// reserved for statistics and finalization.
func progressPercent(current, total int64) int {
	if total <= 0 {
		return 95
	}
	p := 5 + int(current*90/total)
	if p > 95 {
		p = 95
	}
	return p
}

func (c *Controller) fail(ctx context.Context, status *model.JobStatus, err error) {
	c.logger.Error("job failed",
		zap.String("job_id", status.JobID), zap.Error(err))

	status.Status = model.JobFailed
	status.Message = "Processing failed: " + err.Error()
	status.Error = err.Error()
	now := time.Now()
	status.CompletedAt = &now
	c.save(ctx, status)
}

func (c *Controller) save(ctx context.Context, status *model.JobStatus) {
	status.UpdatedAt = time.Now()
	if err := c.jobs.Save(ctx, status); err != nil {
		c.logger.Error("failed to persist job status",
			zap.String("job_id", status.JobID), zap.Error(err))
	}
	c.publish(ctx, status)
}

func (c *Controller) publish(ctx context.Context, status *model.JobStatus) {
	if c.bus == nil {
		return
	}
	event := eventbus.JobEvent{
		JobID:    status.JobID,
		Status:   string(status.Status),
		Progress: status.Progress,
		Message:  status.Message,
		Error:    status.Error,
	}
	if err := c.bus.PublishJobEvent(ctx, event); err != nil {
		c.logger.Debug("failed to publish job event",
			zap.String("job_id", status.JobID), zap.Error(err))
	}
}
