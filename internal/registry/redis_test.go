package registry

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/galinamarkova/beeswax-api/internal/models"
)

// setupTestRedis spins up an in-memory Redis behind a StatusCache.
func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *StatusCache) {
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(s.Close)
	cache := &StatusCache{
		Client: redis.NewClient(&redis.Options{Addr: s.Addr()}),
		TTL:    time.Hour,
	}
	return s, cache
}

func TestStatusCacheRoundTrip(t *testing.T) {
	s, cache := setupTestRedis(t)
	ctx := context.Background()

	job := models.Job{
		Name:        "cvr-2024-05-01-13-04-59-123",
		Kind:        models.JobKindTraining,
		Status:      models.JobStatusCompleted,
		ArtifactURI: "s3://b/out/model.tar.gz",
		CreatedAt:   time.Date(2024, 5, 1, 13, 4, 59, 0, time.UTC),
		UpdatedAt:   time.Date(2024, 5, 1, 13, 20, 0, 0, time.UTC),
	}
	require.NoError(t, cache.SetStatus(ctx, job))

	got, err := cache.GetStatus(ctx, job.Name)
	require.NoError(t, err)
	assert.Equal(t, job, got)
	assert.Equal(t, time.Hour, s.TTL(jobKey(job.Name)))

	s.FastForward(2 * time.Hour)
	_, err = cache.GetStatus(ctx, job.Name)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAcquireRunLock(t *testing.T) {
	s, cache := setupTestRedis(t)
	ctx := context.Background()

	release, err := cache.AcquireRunLock(ctx, "run-1", time.Minute)
	require.NoError(t, err)

	_, err = cache.AcquireRunLock(ctx, "run-1", time.Minute)
	assert.ErrorIs(t, err, ErrLocked)

	other, err := cache.AcquireRunLock(ctx, "run-2", time.Minute)
	require.NoError(t, err)
	require.NoError(t, other(ctx))

	require.NoError(t, release(ctx))
	assert.False(t, s.Exists(lockKey("run-1")))

	again, err := cache.AcquireRunLock(ctx, "run-1", time.Minute)
	require.NoError(t, err)
	defer func() { _ = again(ctx) }()

	// a stale release must not drop the new holder's lock
	require.NoError(t, release(ctx))
	assert.True(t, s.Exists(lockKey("run-1")))
}
