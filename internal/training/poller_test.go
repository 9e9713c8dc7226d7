package training

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/galinamarkova/beeswax-api/internal/models"
	"github.com/galinamarkova/beeswax-api/internal/observability"
)

type recordingCache struct {
	seen []models.JobStatus
}

func (r *recordingCache) SetStatus(ctx context.Context, job models.Job) error {
	r.seen = append(r.seen, job.Status)
	return nil
}

func submitFake(t *testing.T, svc *FakeService) models.Job {
	t.Helper()
	job, err := svc.SubmitTraining(context.Background(), TrainingRequest{
		Name:     "cvr-test",
		Channels: map[string]string{ChannelTrain: "s3://b/p/train/"},
	})
	require.NoError(t, err)
	return job
}

func TestPollerWaitCompletes(t *testing.T) {
	svc := NewFakeService("s3://b/out")
	svc.Progression = []models.JobStatus{models.JobStatusInProgress, models.JobStatusInProgress, models.JobStatusCompleted}
	metrics := observability.NewMockMetricsRegistry()
	cache := &recordingCache{}
	p := &Poller{Interval: time.Millisecond, Logger: zap.NewNop(), Metrics: metrics, Recorder: cache}

	job, err := p.Wait(context.Background(), submitFake(t, svc), svc.DescribeTraining)
	require.NoError(t, err)

	assert.Equal(t, models.JobStatusCompleted, job.Status)
	assert.Equal(t, "s3://b/out/cvr-test/output/model.tar.gz", job.ArtifactURI)
	assert.Equal(t, 3, svc.Describes("cvr-test"))
	assert.Equal(t, 2, metrics.JobPolls["training/InProgress"])
	assert.Equal(t, 1, metrics.JobPolls["training/Completed"])
	assert.Equal(t, []models.JobStatus{"InProgress", "InProgress", "Completed"}, cache.seen)
}

func TestPollerWaitFailed(t *testing.T) {
	svc := NewFakeService("s3://b/out")
	svc.Progression = []models.JobStatus{models.JobStatusFailed}
	svc.FailureReason = "ClientError: feature_dim mismatch"
	p := &Poller{Interval: time.Millisecond}

	_, err := p.Wait(context.Background(), submitFake(t, svc), svc.DescribeTraining)

	var failed *JobFailedError
	require.True(t, errors.As(err, &failed))
	assert.Equal(t, models.JobStatusFailed, failed.Job.Status)
	assert.Contains(t, err.Error(), "feature_dim mismatch")
}

func TestPollerWaitTimeout(t *testing.T) {
	svc := NewFakeService("s3://b/out")
	svc.Progression = []models.JobStatus{models.JobStatusInProgress}
	p := &Poller{Interval: time.Millisecond, MaxWait: 20 * time.Millisecond}

	job, err := p.Wait(context.Background(), submitFake(t, svc), svc.DescribeTraining)

	assert.ErrorIs(t, err, ErrWaitTimeout)
	assert.Equal(t, models.JobStatusInProgress, job.Status)
}

func TestPollerWaitCancelled(t *testing.T) {
	svc := NewFakeService("s3://b/out")
	svc.Progression = []models.JobStatus{models.JobStatusInProgress}
	p := &Poller{Interval: time.Hour}

	ctx, cancel := context.WithCancel(context.Background())
	job := submitFake(t, svc)
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := p.Wait(ctx, job, svc.DescribeTraining)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPollerDescribeError(t *testing.T) {
	svc := NewFakeService("s3://b/out")
	p := &Poller{Interval: time.Millisecond}

	_, err := p.Wait(context.Background(), models.Job{Name: "missing", Kind: models.JobKindTraining}, svc.DescribeTraining)
	assert.Error(t, err)
}

func TestPollerEndpointLifecycle(t *testing.T) {
	svc := NewFakeService("s3://b/out")
	job, err := svc.Deploy(context.Background(), DeployRequest{Name: "cvr-endpoint", ArtifactURI: "s3://b/model.tar.gz"})
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCreating, job.Status)

	p := &Poller{Interval: time.Millisecond}
	job, err = p.Wait(context.Background(), job, svc.DescribeEndpoint)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusInService, job.Status)
}
