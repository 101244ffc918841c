package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/logscan/logscan/pkg/apperr"
	"github.com/logscan/logscan/pkg/model"
)

const (
	jobKeyPrefix = "ls:job:"

	// JobTTL is refreshed on every save, so a record lives 24 hours past
	// its last write; for terminal jobs that is 24 hours past completion.
	JobTTL = 24 * time.Hour
)

// JobStore keeps JobStatus snapshots in Redis. Saves replace the whole
// record, which gives status readers a consistent snapshot without
// coordinating with the owning worker.
type JobStore struct {
	rdb redis.UniversalClient
}

func NewJobStore(client *Client) *JobStore {
	return &JobStore{rdb: client.Client()}
}

func (s *JobStore) Save(ctx context.Context, status *model.JobStatus) error {
	payload, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("marshal job status: %w", err)
	}
	if err := s.rdb.Set(ctx, jobKeyPrefix+status.JobID, payload, JobTTL).Err(); err != nil {
		return fmt.Errorf("save job status: %w", err)
	}
	return nil
}

func (s *JobStore) Get(ctx context.Context, jobID string) (*model.JobStatus, error) {
	payload, err := s.rdb.Get(ctx, jobKeyPrefix+jobID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, apperr.New(apperr.NotFound, "job %s not found", jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("load job status: %w", err)
	}

	var status model.JobStatus
	if err := json.Unmarshal(payload, &status); err != nil {
		return nil, fmt.Errorf("decode job status: %w", err)
	}
	return &status, nil
}

func (s *JobStore) Close() error {
	return nil
}
