package jobs

import (
	"context"
	"time"

	"github.com/sitelens/intel-cli/internal/model"
)

// Status is a job's lifecycle state.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Job is the run state kept for one pipeline execution in serve mode.
// Records expire after a TTL; a finished job survives just long enough
// for the client to fetch its result.
type Job struct {
	ID        string                `json:"id"`
	URL       string                `json:"url"`
	Owner     model.Owner           `json:"owner"`
	Status    Status                `json:"status"`
	Stage     int                   `json:"stage"`
	Label     string                `json:"label"`
	Percent   float64               `json:"percent"`
	Error     string                `json:"error,omitempty"`
	Result    *model.AnalysisResult `json:"result,omitempty"`
	CreatedAt time.Time             `json:"created_at"`
	UpdatedAt time.Time             `json:"updated_at"`
}

// Done reports whether the job reached a terminal state.
func (j *Job) Done() bool {
	switch j.Status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Store persists run state and cancellation flags for serve-mode jobs.
type Store interface {
	Create(ctx context.Context, url string, owner model.Owner) (*Job, error)
	Get(ctx context.Context, id string) (*Job, error)
	SetProgress(ctx context.Context, id string, stage int, label string, percent float64) error

	// RequestCancel raises the cancellation flag polled by the pipeline's
	// probe; the job transitions to cancelled only when the run honors it.
	RequestCancel(ctx context.Context, id string) error
	IsCancelRequested(ctx context.Context, id string) (bool, error)

	Complete(ctx context.Context, id string, result *model.AnalysisResult) error
	Fail(ctx context.Context, id string, message string) error
	MarkCancelled(ctx context.Context, id string) error

	Close() error
}
