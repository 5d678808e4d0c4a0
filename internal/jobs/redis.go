package jobs

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"

	"github.com/sitelens/intel-cli/internal/config"
	"github.com/sitelens/intel-cli/internal/model"
)

// RedisStore keeps job records as JSON values with a TTL. The
// cancellation flag lives under its own key so raising it never races
// the pipeline's read-modify-write of the job record.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis connects to Redis and verifies the connection.
func NewRedis(ctx context.Context, cfg config.JobsConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, eris.Wrap(err, "jobs: redis ping")
	}
	ttl := time.Duration(cfg.TTLHours) * time.Hour
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisStore{client: client, ttl: ttl}, nil
}

func jobKey(id string) string    { return "job:" + id }
func cancelKey(id string) string { return "job:" + id + ":cancel" }

func (s *RedisStore) Create(ctx context.Context, url string, owner model.Owner) (*Job, error) {
	now := time.Now().UTC()
	job := &Job{
		ID:        uuid.NewString(),
		URL:       url,
		Owner:     owner,
		Status:    StatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.save(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*Job, error) {
	raw, err := s.client.Get(ctx, jobKey(id)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "jobs: get")
	}
	var job Job
	if err := json.Unmarshal(raw, &job); err != nil {
		return nil, eris.Wrap(err, "jobs: decode")
	}
	return &job, nil
}

func (s *RedisStore) SetProgress(ctx context.Context, id string, stage int, label string, percent float64) error {
	return s.update(ctx, id, func(job *Job) {
		job.Status = StatusRunning
		job.Stage = stage
		job.Label = label
		job.Percent = percent
	})
}

func (s *RedisStore) RequestCancel(ctx context.Context, id string) error {
	if err := s.client.Set(ctx, cancelKey(id), "1", s.ttl).Err(); err != nil {
		return eris.Wrap(err, "jobs: request cancel")
	}
	return nil
}

func (s *RedisStore) IsCancelRequested(ctx context.Context, id string) (bool, error) {
	n, err := s.client.Exists(ctx, cancelKey(id)).Result()
	if err != nil {
		return false, eris.Wrap(err, "jobs: cancel flag")
	}
	return n == 1, nil
}

func (s *RedisStore) Complete(ctx context.Context, id string, result *model.AnalysisResult) error {
	return s.update(ctx, id, func(job *Job) {
		job.Status = StatusCompleted
		job.Percent = 100
		job.Result = result
	})
}

func (s *RedisStore) Fail(ctx context.Context, id string, message string) error {
	return s.update(ctx, id, func(job *Job) {
		job.Status = StatusFailed
		job.Error = message
	})
}

func (s *RedisStore) MarkCancelled(ctx context.Context, id string) error {
	return s.update(ctx, id, func(job *Job) {
		job.Status = StatusCancelled
	})
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) update(ctx context.Context, id string, mutate func(*Job)) error {
	job, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if job == nil {
		return eris.Errorf("jobs: job %s not found", id)
	}
	mutate(job)
	job.UpdatedAt = time.Now().UTC()
	return s.save(ctx, job)
}

func (s *RedisStore) save(ctx context.Context, job *Job) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return eris.Wrap(err, "jobs: encode")
	}
	if err := s.client.Set(ctx, jobKey(job.ID), raw, s.ttl).Err(); err != nil {
		return eris.Wrap(err, "jobs: save")
	}
	return nil
}
