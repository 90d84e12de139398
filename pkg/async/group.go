package async

import (
	"context"
	"time"
)

// Job is the type-erased view of a Task used by the coordination helpers.
type Job interface {
	Done() <-chan struct{}
	Join(ctx context.Context) error
	CompletionError() error
}

var _ Job = (*Task[struct{}])(nil)

// JoinAll waits for every job to complete. It returns early only if ctx
// is done, leaving the remaining jobs running.
func JoinAll(ctx context.Context, jobs ...Job) error {
	for _, job := range jobs {
		if err := job.Join(ctx); err != nil {
			return err
		}
	}
	return nil
}

// JoinTimeout waits for job with a timeout and returns ErrTimeout if it
// is still running when the timeout expires.
func JoinTimeout(job Job, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-job.Done():
		return nil
	case <-timer.C:
		return ErrTimeout
	}
}
