package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/galinamarkova/beeswax-api/internal/models"
)

// ErrLocked is returned when another invocation holds a run's lock.
var ErrLocked = errors.New("run is locked by another invocation")

// StatusCache keeps the last observed status of remote jobs in Redis so
// other tools can read it without calling the training service.
type StatusCache struct {
	Client *redis.Client
	TTL    time.Duration
}

// InitRedis connects to Redis and returns a StatusCache.
func InitRedis(ctx context.Context, addr string, ttl time.Duration) (*StatusCache, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})

	if err := redisotel.InstrumentTracing(client); err != nil {
		return nil, fmt.Errorf("failed to instrument redis tracing: %w", err)
	}
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	zap.L().Info("Connected to Redis", zap.String("addr", addr))
	return &StatusCache{Client: client, TTL: ttl}, nil
}

func jobKey(name string) string {
	return "cvr:job:" + name
}

func lockKey(runID string) string {
	return "cvr:lock:run:" + runID
}

// SetStatus stores job under its name.
func (c *StatusCache) SetStatus(ctx context.Context, job models.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job %s: %w", job.Name, err)
	}
	return c.Client.Set(ctx, jobKey(job.Name), data, c.TTL).Err()
}

// GetStatus returns the cached job, or ErrNotFound.
func (c *StatusCache) GetStatus(ctx context.Context, name string) (models.Job, error) {
	var job models.Job
	data, err := c.Client.Get(ctx, jobKey(name)).Bytes()
	if errors.Is(err, redis.Nil) {
		return job, fmt.Errorf("job %s: %w", name, ErrNotFound)
	}
	if err != nil {
		return job, err
	}
	if err := json.Unmarshal(data, &job); err != nil {
		return job, fmt.Errorf("decode job %s: %w", name, err)
	}
	return job, nil
}

// releaseScript deletes the lock only when it still holds the caller's token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`)

// AcquireRunLock takes an exclusive lock on runID for ttl. The returned
// function releases it; releasing after the lock expired is a no-op.
func (c *StatusCache) AcquireRunLock(ctx context.Context, runID string, ttl time.Duration) (func(context.Context) error, error) {
	token := uuid.NewString()
	ok, err := c.Client.SetNX(ctx, lockKey(runID), token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("lock run %s: %w", runID, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLocked, runID)
	}
	release := func(ctx context.Context) error {
		return releaseScript.Run(ctx, c.Client, []string{lockKey(runID)}, token).Err()
	}
	return release, nil
}

// Close shuts down the Redis client.
func (c *StatusCache) Close() {
	if c != nil && c.Client != nil {
		if err := c.Client.Close(); err != nil {
			zap.L().Error("redis close", zap.Error(err))
		}
	}
}
