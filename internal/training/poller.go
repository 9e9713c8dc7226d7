package training

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/galinamarkova/beeswax-api/internal/models"
	"github.com/galinamarkova/beeswax-api/internal/observability"
)

// ErrWaitTimeout is returned when a job is still running after MaxWait.
var ErrWaitTimeout = errors.New("timed out waiting for job")

// JobFailedError reports a job that reached a terminal, unsuccessful status.
type JobFailedError struct {
	Job models.Job
}

func (e *JobFailedError) Error() string {
	if e.Job.FailureReason == "" {
		return fmt.Sprintf("%s job %s ended with status %s", e.Job.Kind, e.Job.Name, e.Job.Status)
	}
	return fmt.Sprintf("%s job %s ended with status %s: %s", e.Job.Kind, e.Job.Name, e.Job.Status, e.Job.FailureReason)
}

// DescribeFunc fetches the current state of a named job.
type DescribeFunc func(ctx context.Context, name string) (models.Job, error)

// StatusRecorder receives every status observed while polling.
type StatusRecorder interface {
	SetStatus(ctx context.Context, job models.Job) error
}

// Poller blocks until a remote job reaches a terminal status.
type Poller struct {
	Interval time.Duration
	MaxWait  time.Duration // zero waits indefinitely
	Logger   *zap.Logger
	Metrics  observability.MetricsRegistry
	Recorder StatusRecorder
}

// Wait polls describe every Interval until job terminates. A failed or stopped
// job yields *JobFailedError; exceeding MaxWait yields ErrWaitTimeout.
func (p *Poller) Wait(ctx context.Context, job models.Job, describe DescribeFunc) (models.Job, error) {
	if p.Interval <= 0 {
		return job, fmt.Errorf("poll interval must be positive")
	}
	if p.MaxWait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.MaxWait)
		defer cancel()
	}

	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()

	for {
		current, err := describe(ctx, job.Name)
		if err != nil {
			if errors.Is(ctx.Err(), context.DeadlineExceeded) && p.MaxWait > 0 {
				return job, fmt.Errorf("%w: %s after %s", ErrWaitTimeout, job.Name, p.MaxWait)
			}
			return job, fmt.Errorf("describe %s: %w", job.Name, err)
		}
		if current.Kind == "" {
			current.Kind = job.Kind
		}
		job = current
		p.observe(ctx, job)

		if job.Status.Terminal() {
			if !job.Status.Succeeded() {
				return job, &JobFailedError{Job: job}
			}
			return job, nil
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) && p.MaxWait > 0 {
				return job, fmt.Errorf("%w: %s still %s after %s", ErrWaitTimeout, job.Name, job.Status, p.MaxWait)
			}
			return job, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (p *Poller) observe(ctx context.Context, job models.Job) {
	if p.Metrics != nil {
		p.Metrics.IncrementJobPolls(string(job.Kind), string(job.Status))
	}
	if p.Logger != nil {
		p.Logger.Debug("job status",
			zap.String("job", job.Name),
			zap.String("kind", string(job.Kind)),
			zap.String("status", string(job.Status)))
	}
	if p.Recorder != nil {
		if err := p.Recorder.SetStatus(ctx, job); err != nil && p.Logger != nil {
			p.Logger.Warn("failed to record job status", zap.String("job", job.Name), zap.Error(err))
		}
	}
}
