package apiserver

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/logscan/logscan/pkg/apperr"
	"github.com/logscan/logscan/pkg/config"
	"github.com/logscan/logscan/pkg/model"
	"github.com/logscan/logscan/pkg/store"
)

type fakeEntryStore struct {
	mu      sync.Mutex
	entries []model.LogEntry
}

func (s *fakeEntryStore) BulkInsert(ctx context.Context, entries []*model.LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		s.entries = append(s.entries, *e)
	}
	return nil
}

func (s *fakeEntryStore) Insert(ctx context.Context, entry *model.LogEntry) error {
	return s.BulkInsert(ctx, []*model.LogEntry{entry})
}

func (s *fakeEntryStore) Search(ctx context.Context, q *store.EntryQuery) (*store.EntryPage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.LogEntry
	for _, e := range s.entries {
		if e.JobID == q.JobID {
			out = append(out, e)
		}
	}
	return &store.EntryPage{Entries: out, Total: int64(len(out))}, nil
}

func (s *fakeEntryStore) Count(ctx context.Context, q *store.EntryQuery) (int64, error) {
	page, _ := s.Search(ctx, q)
	return page.Total, nil
}

func (s *fakeEntryStore) LevelCounts(ctx context.Context, jobID string) (map[string]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := map[string]int64{}
	for _, e := range s.entries {
		if e.JobID == jobID {
			counts[e.Level]++
		}
	}
	return counts, nil
}

func (s *fakeEntryStore) Aggregates(ctx context.Context, q *store.EntryQuery) (*store.JobAggregates, error) {
	return &store.JobAggregates{LevelCounts: map[string]int64{}}, nil
}

func (s *fakeEntryStore) Timeline(ctx context.Context, jobID string, interval time.Duration) ([]store.TimelineBucket, error) {
	return nil, nil
}

func (s *fakeEntryStore) UniqueValues(ctx context.Context, jobID, field string, limit int) ([]store.FieldCount, error) {
	return nil, nil
}

func (s *fakeEntryStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) error { return nil }

func (s *fakeEntryStore) Close() error { return nil }

type fakeJobStore struct {
	mu   sync.Mutex
	jobs map[string]*model.JobStatus
}

func newFakeJobStore() *fakeJobStore {
	return &fakeJobStore{jobs: map[string]*model.JobStatus{}}
}

func (s *fakeJobStore) Save(ctx context.Context, status *model.JobStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := *status
	s.jobs[status.JobID] = &snapshot
	return nil
}

func (s *fakeJobStore) Get(ctx context.Context, jobID string) (*model.JobStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	status, ok := s.jobs[jobID]
	if !ok {
		return nil, apperr.New(apperr.NotFound, "job %s not found", jobID)
	}
	snapshot := *status
	return &snapshot, nil
}

func (s *fakeJobStore) Close() error { return nil }

func testConfig(t *testing.T) *config.Config {
	return &config.Config{
		File: config.FileConfig{
			MaxSize:       1024,
			AllowedTypes:  "log,txt",
			TempDirectory: t.TempDir(),
		},
		Processing: config.ProcessingConfig{
			BatchSize:  10,
			WorkerPool: config.PoolConfig{CoreSize: 1, QueueSize: 4},
		},
	}
}

func newTestServer(t *testing.T) (*Server, *fakeEntryStore, *fakeJobStore) {
	t.Helper()
	entries := &fakeEntryStore{}
	jobs := newFakeJobStore()
	server := NewServerWith(entries, jobs, nil, testConfig(t), zap.NewNop())
	t.Cleanup(server.Shutdown)
	return server, entries, jobs
}

func multipartBody(t *testing.T, fileName, content string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("logfile", fileName)
	if err != nil {
		t.Fatal(err)
	}
	part.Write([]byte(content))
	w.Close()
	return &buf, w.FormDataContentType()
}

func TestHealthEndpoint(t *testing.T) {
	server, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	recorder := httptest.NewRecorder()
	server.Router().ServeHTTP(recorder, req)

	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d", recorder.Code)
	}

	var response struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &response); err != nil {
		t.Fatal(err)
	}
	if response.Status != "ok" {
		t.Fatalf("status = %q", response.Status)
	}
}

func TestUploadAccepted(t *testing.T) {
	server, _, jobs := newTestServer(t)

	body, contentType := multipartBody(t, "app.log", "2024-01-15 10:30:45 INFO hello\n")
	req := httptest.NewRequest(http.MethodPost, "/logs/upload", body)
	req.Header.Set("Content-Type", contentType)
	recorder := httptest.NewRecorder()
	server.Router().ServeHTTP(recorder, req)

	if recorder.Code != http.StatusAccepted {
		t.Fatalf("status = %d body = %s", recorder.Code, recorder.Body.String())
	}

	var response struct {
		JobID     string `json:"jobId"`
		StatusURL string `json:"statusUrl"`
		ResultURL string `json:"resultUrl"`
		FileName  string `json:"fileName"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &response); err != nil {
		t.Fatal(err)
	}
	if response.JobID == "" {
		t.Fatal("jobId missing")
	}
	if response.StatusURL != "/logs/status/"+response.JobID {
		t.Fatalf("statusUrl = %q", response.StatusURL)
	}
	if response.FileName != "app.log" {
		t.Fatalf("fileName = %q", response.FileName)
	}

	if _, err := jobs.Get(context.Background(), response.JobID); err != nil {
		t.Fatalf("job status not persisted: %v", err)
	}
}

func TestUploadRejectsEmptyFile(t *testing.T) {
	server, _, _ := newTestServer(t)

	body, contentType := multipartBody(t, "app.log", "")
	req := httptest.NewRequest(http.MethodPost, "/logs/upload", body)
	req.Header.Set("Content-Type", contentType)
	recorder := httptest.NewRecorder()
	server.Router().ServeHTTP(recorder, req)

	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", recorder.Code)
	}
}

func TestUploadRejectsDisallowedExtension(t *testing.T) {
	server, _, _ := newTestServer(t)

	body, contentType := multipartBody(t, "malware.exe", "MZ")
	req := httptest.NewRequest(http.MethodPost, "/logs/upload", body)
	req.Header.Set("Content-Type", contentType)
	recorder := httptest.NewRecorder()
	server.Router().ServeHTTP(recorder, req)

	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", recorder.Code)
	}
}

func TestUploadRejectsOversizedFile(t *testing.T) {
	server, _, _ := newTestServer(t)

	body, contentType := multipartBody(t, "big.log", strings.Repeat("x", 2048))
	req := httptest.NewRequest(http.MethodPost, "/logs/upload", body)
	req.Header.Set("Content-Type", contentType)
	recorder := httptest.NewRecorder()
	server.Router().ServeHTTP(recorder, req)

	if recorder.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", recorder.Code)
	}
}

func TestStatusNotFound(t *testing.T) {
	server, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/logs/status/nope", nil)
	recorder := httptest.NewRecorder()
	server.Router().ServeHTTP(recorder, req)

	if recorder.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", recorder.Code)
	}
}

func TestSearchRejectsInvalidQuery(t *testing.T) {
	server, _, jobs := newTestServer(t)
	jobs.Save(context.Background(), &model.JobStatus{JobID: "job-1", Status: model.JobCompleted})

	payload := `{"jobId":"job-1","sortBy":"message"}`
	req := httptest.NewRequest(http.MethodPost, "/logs/search", strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	recorder := httptest.NewRecorder()
	server.Router().ServeHTTP(recorder, req)

	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", recorder.Code)
	}
}

func TestSearchReturnsEntries(t *testing.T) {
	server, entries, jobs := newTestServer(t)
	jobs.Save(context.Background(), &model.JobStatus{JobID: "job-1", Status: model.JobCompleted})
	entries.Insert(context.Background(), &model.LogEntry{
		ID: "e1", JobID: "job-1", LineNumber: 1, Level: "INFO", Message: "hello",
	})

	payload := `{"jobId":"job-1"}`
	req := httptest.NewRequest(http.MethodPost, "/logs/search", strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	recorder := httptest.NewRecorder()
	server.Router().ServeHTTP(recorder, req)

	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", recorder.Code, recorder.Body.String())
	}

	var response struct {
		Entries    []model.LogEntry `json:"entries"`
		Pagination struct {
			TotalElements int64 `json:"totalElements"`
		} `json:"pagination"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &response); err != nil {
		t.Fatal(err)
	}
	if response.Pagination.TotalElements != 1 || len(response.Entries) != 1 {
		t.Fatalf("response = %+v", response)
	}
}

func TestSearchGetVariant(t *testing.T) {
	server, _, jobs := newTestServer(t)
	jobs.Save(context.Background(), &model.JobStatus{JobID: "job-1", Status: model.JobCompleted})

	req := httptest.NewRequest(http.MethodGet, "/logs/search?jobId=job-1&levels=ERROR,WARN", nil)
	recorder := httptest.NewRecorder()
	server.Router().ServeHTTP(recorder, req)

	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", recorder.Code, recorder.Body.String())
	}
}

func TestLevelsEndpoint(t *testing.T) {
	server, entries, jobs := newTestServer(t)
	jobs.Save(context.Background(), &model.JobStatus{JobID: "job-1", Status: model.JobCompleted})
	entries.Insert(context.Background(), &model.LogEntry{ID: "e1", JobID: "job-1", Level: "ERROR"})
	entries.Insert(context.Background(), &model.LogEntry{ID: "e2", JobID: "job-1", Level: "ERROR"})

	req := httptest.NewRequest(http.MethodGet, "/logs/job/job-1/levels", nil)
	recorder := httptest.NewRecorder()
	server.Router().ServeHTTP(recorder, req)

	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d", recorder.Code)
	}

	var levels map[string]int64
	if err := json.Unmarshal(recorder.Body.Bytes(), &levels); err != nil {
		t.Fatal(err)
	}
	if levels["ERROR"] != 2 {
		t.Fatalf("levels = %v", levels)
	}
}

func TestUniqueValuesRejectsTextField(t *testing.T) {
	server, _, jobs := newTestServer(t)
	jobs.Save(context.Background(), &model.JobStatus{JobID: "job-1", Status: model.JobCompleted})

	req := httptest.NewRequest(http.MethodGet, "/logs/job/job-1/fields/message", nil)
	recorder := httptest.NewRecorder()
	server.Router().ServeHTTP(recorder, req)

	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", recorder.Code)
	}
}

func TestResultNotCompletedYet(t *testing.T) {
	server, _, jobs := newTestServer(t)
	jobs.Save(context.Background(), &model.JobStatus{JobID: "job-1", Status: model.JobProcessing})

	req := httptest.NewRequest(http.MethodGet, "/logs/result/job-1", nil)
	recorder := httptest.NewRecorder()
	server.Router().ServeHTTP(recorder, req)

	if recorder.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500 for non-terminal job", recorder.Code)
	}
}

func TestExportInvalidFormat(t *testing.T) {
	server, _, jobs := newTestServer(t)
	jobs.Save(context.Background(), &model.JobStatus{JobID: "job-1", Status: model.JobCompleted})

	req := httptest.NewRequest(http.MethodGet, "/logs/job/job-1/export?format=xml", nil)
	recorder := httptest.NewRecorder()
	server.Router().ServeHTTP(recorder, req)

	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", recorder.Code)
	}
}

func TestExportCSVDownload(t *testing.T) {
	server, entries, jobs := newTestServer(t)
	jobs.Save(context.Background(), &model.JobStatus{JobID: "job-1", Status: model.JobCompleted})
	entries.Insert(context.Background(), &model.LogEntry{
		ID: "e1", JobID: "job-1", LineNumber: 1, Level: "INFO", Message: "hello",
		Timestamp: time.Date(2024, 1, 15, 10, 30, 45, 0, time.UTC),
	})

	req := httptest.NewRequest(http.MethodGet, "/logs/job/job-1/export?format=csv", nil)
	recorder := httptest.NewRecorder()
	server.Router().ServeHTTP(recorder, req)

	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", recorder.Code, recorder.Body.String())
	}
	if !strings.HasPrefix(recorder.Header().Get("Content-Disposition"), "attachment") {
		t.Fatalf("content disposition = %q", recorder.Header().Get("Content-Disposition"))
	}
	if !strings.Contains(recorder.Body.String(), "2024-01-15T10:30:45.000") {
		t.Fatalf("body = %q", recorder.Body.String())
	}
}

func TestCORSPreflights(t *testing.T) {
	server, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/logs/search", nil)
	recorder := httptest.NewRecorder()
	server.Router().ServeHTTP(recorder, req)

	if recorder.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", recorder.Code)
	}
	if recorder.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatal("CORS headers missing")
	}
}
