package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/ChuLiYu/schedctl/pkg/types"
)

// ListJobs GET /jobs
func (c *Client) ListJobs(ctx context.Context) ([]types.Job, error) {
	var jobs []types.Job
	if err := c.do(ctx, call{
		op:     "list_jobs",
		method: http.MethodGet,
		path:   "/jobs",
		out:    &jobs,
		auth:   true,
	}); err != nil {
		return nil, err
	}
	if jobs == nil {
		jobs = []types.Job{}
	}
	return jobs, nil
}

// CreateJob POST /jobs，送出前先做必填欄位檢查
func (c *Client) CreateJob(ctx context.Context, req types.CreateJobRequest) (types.Job, error) {
	if err := req.Validate(); err != nil {
		return types.Job{}, err
	}
	var job types.Job
	err := c.do(ctx, call{
		op:     "create_job",
		method: http.MethodPost,
		path:   "/jobs",
		body:   req,
		out:    &job,
		auth:   true,
	})
	return job, err
}

// DeleteJob DELETE /jobs/{id}
func (c *Client) DeleteJob(ctx context.Context, id types.JobID) error {
	return c.jobCommand(ctx, "delete_job", http.MethodDelete, "/jobs/"+id.String())
}

// StartJob POST /jobs/start/{id}
func (c *Client) StartJob(ctx context.Context, id types.JobID) error {
	return c.jobCommand(ctx, "start_job", http.MethodPost, "/jobs/start/"+id.String())
}

// PauseJob POST /jobs/pause/{id}
func (c *Client) PauseJob(ctx context.Context, id types.JobID) error {
	return c.jobCommand(ctx, "pause_job", http.MethodPost, "/jobs/pause/"+id.String())
}

// RunJob POST /jobs/run/{id}，立即觸發一次
func (c *Client) RunJob(ctx context.Context, id types.JobID) error {
	return c.jobCommand(ctx, "run_job", http.MethodPost, "/jobs/run/"+id.String())
}

func (c *Client) jobCommand(ctx context.Context, op, method, path string) error {
	if err := c.do(ctx, call{op: op, method: method, path: path, auth: true}); err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	return nil
}
