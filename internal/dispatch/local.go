package dispatch

import (
	"context"
	"time"

	"github.com/clipcast-hq/clipcast-pipeline/internal/domain"
	"github.com/clipcast-hq/clipcast-pipeline/internal/pipeline"
	"github.com/clipcast-hq/clipcast-pipeline/pkg/channels"
)

// LocalDispatcher invokes the stage executor synchronously in process.
type LocalDispatcher struct {
	executor *pipeline.Executor
	timeout  time.Duration
}

// NewLocalDispatcher wraps the executor with a per-stage execution window.
func NewLocalDispatcher(executor *pipeline.Executor, timeout time.Duration) *LocalDispatcher {
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	return &LocalDispatcher{executor: executor, timeout: timeout}
}

// Dispatch runs the activity and returns its result or error immediately.
// The execution window never extends past the job's lease: a stage that
// finished after its lease lapsed could not record its result, so the work
// would be redone against the external destination.
func (d *LocalDispatcher) Dispatch(ctx context.Context, activity domain.Activity, job *domain.Job, channel channels.Channel) (Result, error) {
	timeout := d.timeout
	if job.Lease != nil {
		if until := time.Until(job.Lease.ExpiresAt); until < timeout {
			timeout = until
		}
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	stage, err := d.executor.Run(ctx, activity, job, channel)
	if err != nil {
		return Result{Target: TargetLocal}, err
	}
	return Result{Target: TargetLocal, Stage: stage}, nil
}
