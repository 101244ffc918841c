package handlers

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/logscan/logscan/pkg/apperr"
	"github.com/logscan/logscan/pkg/config"
	"github.com/logscan/logscan/pkg/pipeline"
	"github.com/logscan/logscan/pkg/query"
)

// Extensions always accepted on top of the configured allow-list: the
// formats the parser registry detects natively.
var parserExtensions = map[string]bool{
	"json": true, "ndjson": true, "csv": true, "tsv": true, "out": true, "err": true,
}

// LogHandler exposes the ingestion and query surface under /logs.
type LogHandler struct {
	controller *pipeline.Controller
	queries    *query.Service
	fileCfg    config.FileConfig
	logger     *zap.Logger
}

func NewLogHandler(controller *pipeline.Controller, queries *query.Service, fileCfg config.FileConfig, logger *zap.Logger) *LogHandler {
	return &LogHandler{
		controller: controller,
		queries:    queries,
		fileCfg:    fileCfg,
		logger:     logger,
	}
}

// Upload accepts a multipart log file and begins asynchronous ingestion.
func (h *LogHandler) Upload(c *gin.Context) {
	file, err := c.FormFile("logfile")
	if err != nil {
		respondError(c, h.logger, apperr.New(apperr.Invalid, "missing logfile part"))
		return
	}

	if file.Size == 0 {
		respondError(c, h.logger, apperr.New(apperr.Invalid, "uploaded file is empty"))
		return
	}
	if h.fileCfg.MaxSize > 0 && file.Size > h.fileCfg.MaxSize {
		respondError(c, h.logger, apperr.New(apperr.TooLarge,
			"file size %d exceeds limit %d", file.Size, h.fileCfg.MaxSize))
		return
	}

	if err := h.checkExtension(file.Filename); err != nil {
		respondError(c, h.logger, err)
		return
	}

	if err := os.MkdirAll(h.fileCfg.TempDirectory, 0o755); err != nil {
		respondError(c, h.logger, fmt.Errorf("create temp directory: %w", err))
		return
	}
	tempFile, err := os.CreateTemp(h.fileCfg.TempDirectory, "upload-*"+filepath.Ext(file.Filename))
	if err != nil {
		respondError(c, h.logger, fmt.Errorf("create temp file: %w", err))
		return
	}
	tempPath := tempFile.Name()
	tempFile.Close()

	if err := c.SaveUploadedFile(file, tempPath); err != nil {
		os.Remove(tempPath)
		respondError(c, h.logger, fmt.Errorf("save upload: %w", err))
		return
	}

	timestampFormat := c.PostForm("timestampFormat")
	jobID, err := h.controller.Submit(c.Request.Context(), tempPath, file.Filename, file.Size, timestampFormat)
	if err != nil {
		os.Remove(tempPath)
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"jobId":     jobID,
		"statusUrl": "/logs/status/" + jobID,
		"resultUrl": "/logs/result/" + jobID,
		"fileName":  file.Filename,
		"fileSize":  file.Size,
	})
}

func (h *LogHandler) checkExtension(fileName string) error {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(fileName), "."))
	if ext == "" {
		return apperr.New(apperr.Invalid, "file has no extension")
	}
	if parserExtensions[ext] {
		return nil
	}
	for _, allowed := range h.fileCfg.AllowedExtensions() {
		if ext == allowed {
			return nil
		}
	}
	return apperr.New(apperr.Invalid, "file type %q is not allowed", ext)
}

// Status returns the current JobStatus snapshot.
func (h *LogHandler) Status(c *gin.Context) {
	status, err := h.controller.GetStatus(c.Request.Context(), c.Param("jobId"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

// Result returns the terminal analysis counters.
func (h *LogHandler) Result(c *gin.Context) {
	result, err := h.controller.GetResult(c.Request.Context(), c.Param("jobId"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Search handles the POST body variant.
func (h *LogHandler) Search(c *gin.Context) {
	var req query.LogQueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, h.logger, apperr.Wrap(apperr.Invalid, err, "invalid search request"))
		return
	}
	h.runSearch(c, &req)
}

// SearchGet handles the flat query-parameter variant.
func (h *LogHandler) SearchGet(c *gin.Context) {
	req, err := h.bindQueryRequest(c)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	h.runSearch(c, req)
}

func (h *LogHandler) runSearch(c *gin.Context, req *query.LogQueryRequest) {
	resp, err := h.queries.Search(c.Request.Context(), req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *LogHandler) bindQueryRequest(c *gin.Context) (*query.LogQueryRequest, error) {
	var req query.LogQueryRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		return nil, apperr.Wrap(apperr.Invalid, err, "invalid search parameters")
	}
	req.Levels = splitMulti(req.Levels)
	req.Tags = splitMulti(req.Tags)
	req.SearchFields = splitMulti(req.SearchFields)
	req.IncludeFields = splitMulti(req.IncludeFields)
	req.ExcludeFields = splitMulti(req.ExcludeFields)
	return &req, nil
}

// Summary returns the composed job summary.
func (h *LogHandler) Summary(c *gin.Context) {
	summary, err := h.queries.JobSummary(c.Request.Context(), c.Param("jobId"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

// Levels returns the per-level entry counts.
func (h *LogHandler) Levels(c *gin.Context) {
	levels, err := h.queries.LevelDistribution(c.Request.Context(), c.Param("jobId"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, levels)
}

// Timeline returns the date-histogram view.
func (h *LogHandler) Timeline(c *gin.Context) {
	data, err := h.queries.Timeline(c.Request.Context(), c.Param("jobId"), c.Query("interval"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, data)
}

// Fields maps each keyword field to sample values.
func (h *LogHandler) Fields(c *gin.Context) {
	fields, err := h.queries.AvailableFields(c.Request.Context(), c.Param("jobId"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, fields)
}

// FieldValues returns the top distinct values of one keyword field.
func (h *LogHandler) FieldValues(c *gin.Context) {
	limit := parseLimit(c.Query("limit"), 10)
	values, err := h.queries.UniqueValues(c.Request.Context(), c.Param("jobId"), c.Param("field"), limit)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, values)
}

// Context returns the neighborhood of one line.
func (h *LogHandler) Context(c *gin.Context) {
	lineNumber := parseInt64(c.Param("lineNumber"), 0)
	if lineNumber < 1 {
		respondError(c, h.logger, apperr.New(apperr.Invalid, "lineNumber must be positive"))
		return
	}
	before := parseInt64(c.Query("before"), 5)
	after := parseInt64(c.Query("after"), 5)

	resp, err := h.queries.ContextLines(c.Request.Context(), c.Param("jobId"), lineNumber, before, after)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Export renders a bulk download; POST carries options in the body, GET
// in query parameters.
func (h *LogHandler) Export(c *gin.Context) {
	var req query.ExportRequest
	if c.Request.Method == http.MethodPost {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, h.logger, apperr.Wrap(apperr.Invalid, err, "invalid export request"))
			return
		}
	} else {
		if err := c.ShouldBindQuery(&req); err != nil {
			respondError(c, h.logger, apperr.Wrap(apperr.Invalid, err, "invalid export parameters"))
			return
		}
		req.Fields = splitMulti(req.Fields)
		req.Levels = splitMulti(req.Levels)
	}
	req.JobID = c.Param("jobId")
	if format := c.Query("format"); format != "" {
		req.Format = format
	}

	data, contentType, err := h.queries.Export(c.Request.Context(), &req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	format := strings.ToLower(req.Format)
	if format == "" {
		format = query.FormatCSV
	}
	fileName := fmt.Sprintf("logs-%s.%s", req.JobID, format)
	c.Header("Content-Disposition", `attachment; filename="`+fileName+`"`)
	c.Data(http.StatusOK, contentType, data)
}
