package registry

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/galinamarkova/beeswax-api/internal/models"
)

// setupTestPostgres connects to TEST_POSTGRES_DSN or skips the test.
func setupTestPostgres(t *testing.T) *Postgres {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set")
	}
	pg, err := InitPostgres(context.Background(), dsn, 2, 1, time.Minute, time.Minute)
	require.NoError(t, err)
	t.Cleanup(pg.Close)
	return pg
}

func TestPostgresRunsAndJobs(t *testing.T) {
	pg := setupTestPostgres(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)
	runID := "test-" + uuid.NewString()

	run := models.Run{ID: runID, Stage: "prepare", Status: models.RunStatusRunning, DataURI: "s3://b/p/" + runID, StartedAt: now, UpdatedAt: now}
	require.NoError(t, pg.RecordRun(ctx, run))

	run.Stage, run.Status, run.DataURI = "train", models.RunStatusFailed, ""
	require.NoError(t, pg.RecordRun(ctx, run))
	got, err := pg.GetRun(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, "train", got.Stage)
	assert.Equal(t, "s3://b/p/"+runID, got.DataURI, "empty data uri keeps the stored one")

	job := models.Job{Name: runID + "-train", Kind: models.JobKindTraining, Status: models.JobStatusInProgress, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, pg.RecordJob(ctx, runID, job))

	job.Status = models.JobStatusCompleted
	job.ArtifactURI = "s3://b/out/model.tar.gz"
	require.NoError(t, pg.UpdateJobStatus(ctx, job))

	jobs, err := pg.ListJobs(ctx, runID, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, models.JobStatusCompleted, jobs[0].Status)
	assert.Equal(t, "s3://b/out/model.tar.gz", jobs[0].ArtifactURI)

	_, err = pg.GetJob(ctx, "missing-"+runID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, pg.UpdateJobStatus(ctx, models.Job{Name: "missing-" + runID}), ErrNotFound)
}

func TestPostgresDescriptors(t *testing.T) {
	pg := setupTestPostgres(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)
	runID := "test-" + uuid.NewString()
	require.NoError(t, pg.RecordRun(ctx, models.Run{ID: runID, Status: models.RunStatusSucceeded, StartedAt: now, UpdatedAt: now}))

	d := models.Descriptor{RunID: runID, Features: []string{"platform_ios", "rewarded"}, Endpoint: "cvr-ep", CreatedAt: now.Add(time.Hour)}
	require.NoError(t, pg.SaveDescriptor(ctx, d))

	latest, err := pg.LatestDescriptor(ctx)
	require.NoError(t, err)
	assert.Equal(t, runID, latest.RunID)
	assert.Equal(t, d.Features, latest.Features)
	assert.Equal(t, "cvr-ep", latest.Endpoint)
}
