package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "beeswax-cvr", cfg.ServiceName)
	assert.Equal(t, 30*time.Second, cfg.PollInterval)
	assert.Equal(t, 0.7, cfg.TrainFraction)
	assert.Equal(t, 0.2, cfg.ValidationFraction)
	assert.Equal(t, "Bayesian", cfg.TuningStrategy)
	assert.Equal(t, "cvr-ll", cfg.JobPrefix)
	require.NoError(t, cfg.Validate())
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("POLL_INTERVAL", "5")
	t.Setenv("UPSAMPLE_TARGET_RATIO", "0.45")
	t.Setenv("TRACING_ENABLED", "true")
	t.Setenv("TUNING_MAX_JOBS", "not-a-number")
	t.Setenv("MAX_WAIT", "2h")

	cfg := Load()

	assert.Equal(t, 5*time.Second, cfg.PollInterval)
	assert.Equal(t, 0.45, cfg.UpsampleTarget)
	assert.True(t, cfg.TracingEnabled)
	assert.Equal(t, 10, cfg.TuningMaxJobs, "invalid values fall back to the default")
	assert.Equal(t, 2*time.Hour, cfg.MaxWait)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"ratio at one", func(c *Config) { c.UpsampleTarget = 1 }},
		{"ratio at zero", func(c *Config) { c.UpsampleTarget = 0 }},
		{"fractions exceed one", func(c *Config) { c.TrainFraction = 0.9; c.ValidationFraction = 0.2 }},
		{"unknown strategy", func(c *Config) { c.TuningStrategy = "Grid" }},
		{"parallel above max", func(c *Config) { c.TuningMaxJobs = 2; c.TuningMaxParallel = 3 }},
		{"zero poll interval", func(c *Config) { c.PollInterval = 0 }},
		{"zero batch", func(c *Config) { c.EvalBatchSize = 0 }},
		{"empty job prefix", func(c *Config) { c.JobPrefix = "" }},
		{"negative lock ttl", func(c *Config) { c.LockTTL = -time.Minute }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Load()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestRunLockTTL(t *testing.T) {
	cfg := Load()
	// 1h training, 5 rounds of 2 parallel tuning jobs, 1h endpoint, 30m slack
	assert.Equal(t, 7*time.Hour+30*time.Minute, cfg.RunLockTTL())

	cfg.TuningMaxJobs, cfg.TuningMaxParallel = 10, 1
	assert.Equal(t, 12*time.Hour+30*time.Minute, cfg.RunLockTTL())

	cfg.MaxWait = 2 * time.Hour
	assert.Equal(t, 4*time.Hour+30*time.Minute, cfg.RunLockTTL())

	cfg.LockTTL = 3 * time.Hour
	assert.Equal(t, 3*time.Hour, cfg.RunLockTTL())
}

func TestLockTTLFromEnv(t *testing.T) {
	t.Setenv("LOCK_TTL", "90m")
	cfg := Load()
	assert.Equal(t, 90*time.Minute, cfg.RunLockTTL())
	require.NoError(t, cfg.Validate())
}

func TestRequireRemote(t *testing.T) {
	cfg := Load()
	cfg.S3Bucket = ""
	assert.Error(t, cfg.RequireRemote())

	cfg.S3Bucket = "bucket"
	cfg.SageMakerRoleARN = ""
	assert.Error(t, cfg.RequireRemote())

	cfg.SageMakerRoleARN = "arn:aws:iam::123456789012:role/sagemaker"
	assert.NoError(t, cfg.RequireRemote())
}
