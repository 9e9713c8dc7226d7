package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config holds pipeline configuration derived from environment variables.
type Config struct {
	ServiceName string `validate:"required"`

	// AWS / SageMaker
	AWSRegion            string `validate:"required"`
	S3Bucket             string
	S3Prefix             string
	JobPrefix            string `validate:"required"`
	SageMakerRoleARN     string
	TrainingImage        string
	TrainingInstanceType string `validate:"required"`
	TrainingMaxRuntime   time.Duration
	EndpointInstanceType string        `validate:"required"`
	EndpointInstances    int           `validate:"gte=1"`
	PollInterval         time.Duration `validate:"gt=0"`
	MaxWait              time.Duration `validate:"gte=0"`
	LockTTL              time.Duration `validate:"gte=0"`

	// Dataset
	DatasetCache       string `validate:"required"`
	ClickHouseDSN      string
	EventsSince        time.Duration
	MinorityThreshold  float64
	UpsampleTarget     float64 `validate:"gt=0,lt=1"`
	TrainFraction      float64 `validate:"gte=0,lte=1"`
	ValidationFraction float64 `validate:"gte=0,lte=1"`
	RandomSeed         int64

	// Inspection / tuning / evaluation
	WeightThreshold   float64 `validate:"gte=0"`
	TuningStrategy    string  `validate:"oneof=Bayesian Random"`
	TuningMaxJobs     int     `validate:"gte=1"`
	TuningMaxParallel int     `validate:"gte=1"`
	EvalBatchSize     int     `validate:"gte=1"`
	DescriptorPath    string

	// Inference; an empty PredictorURL invokes the SageMaker endpoint
	PredictorURL     string
	PredictorTimeout time.Duration
	PredictRate      float64 `validate:"gte=0"` // batch requests per second, 0 is unlimited

	// Experiment registry
	PostgresDSN       string
	RedisAddr         string
	StatusCacheTTL    time.Duration
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration
	DBConnMaxIdleTime time.Duration

	// Observability
	MetricsAddr       string
	TracingEnabled    bool
	TempoEndpoint     string
	TracingSampleRate float64 `validate:"gte=0,lte=1"`
}

// Load parses environment variables and returns a Config populated with
// defaults when variables are absent.
func Load() Config {
	cfg := Config{}

	cfg.ServiceName = getenv("SERVICE_NAME", "beeswax-cvr")

	cfg.AWSRegion = getenv("AWS_REGION", "us-east-1")
	cfg.S3Bucket = getenv("S3_BUCKET", "")
	cfg.S3Prefix = getenv("S3_PREFIX", "cvr-linear-learner")
	cfg.JobPrefix = getenv("JOB_PREFIX", "cvr-ll")
	cfg.SageMakerRoleARN = getenv("SAGEMAKER_ROLE_ARN", "")
	// empty image resolves to the regional linear-learner registry
	cfg.TrainingImage = getenv("TRAINING_IMAGE", "")
	cfg.TrainingInstanceType = getenv("TRAINING_INSTANCE_TYPE", "ml.c4.xlarge")
	cfg.TrainingMaxRuntime = envDuration("TRAINING_MAX_RUNTIME", time.Hour)
	cfg.EndpointInstanceType = getenv("ENDPOINT_INSTANCE_TYPE", "ml.m4.xlarge")
	cfg.EndpointInstances = envInt("ENDPOINT_INSTANCES", 1)
	cfg.PollInterval = envDuration("POLL_INTERVAL", 30*time.Second)
	// zero means wait until the job reaches a terminal state
	cfg.MaxWait = envDuration("MAX_WAIT", 0)
	// zero derives the run lock TTL from the job limits, see RunLockTTL
	cfg.LockTTL = envDuration("LOCK_TTL", 0)

	cfg.DatasetCache = getenv("DATASET_CACHE", "data/bid_rows.csv")
	cfg.ClickHouseDSN = getenv("CLICKHOUSE_DSN", "")
	cfg.EventsSince = envDuration("EVENTS_SINCE", 30*24*time.Hour)
	cfg.MinorityThreshold = envFloat("MINORITY_THRESHOLD", 0)
	cfg.UpsampleTarget = envFloat("UPSAMPLE_TARGET_RATIO", 0.3)
	cfg.TrainFraction = envFloat("TRAIN_FRACTION", 0.7)
	cfg.ValidationFraction = envFloat("VALIDATION_FRACTION", 0.2)
	cfg.RandomSeed = int64(envInt("RANDOM_SEED", 1729))

	cfg.WeightThreshold = envFloat("WEIGHT_THRESHOLD", 0.01)
	cfg.TuningStrategy = getenv("TUNING_STRATEGY", "Bayesian")
	cfg.TuningMaxJobs = envInt("TUNING_MAX_JOBS", 10)
	cfg.TuningMaxParallel = envInt("TUNING_MAX_PARALLEL", 2)
	cfg.EvalBatchSize = envInt("EVAL_BATCH_SIZE", 500)
	cfg.DescriptorPath = getenv("DESCRIPTOR_PATH", "descriptor.json")

	cfg.PredictorURL = getenv("PREDICTOR_URL", "")
	cfg.PredictorTimeout = envDuration("PREDICTOR_TIMEOUT", 30*time.Second)
	cfg.PredictRate = envFloat("PREDICT_RATE", 0)

	cfg.PostgresDSN = getenv("POSTGRES_DSN", "")
	cfg.RedisAddr = getenv("REDIS_ADDR", "")
	cfg.StatusCacheTTL = envDuration("STATUS_CACHE_TTL", 24*time.Hour)
	cfg.DBMaxOpenConns = envInt("DB_MAX_OPEN_CONNS", 5)
	cfg.DBMaxIdleConns = envInt("DB_MAX_IDLE_CONNS", 2)
	cfg.DBConnMaxLifetime = envDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute)
	cfg.DBConnMaxIdleTime = envDuration("DB_CONN_MAX_IDLE_TIME", 1*time.Minute)

	cfg.MetricsAddr = getenv("METRICS_ADDR", "")
	cfg.TracingEnabled = envBool("TRACING_ENABLED", false)
	cfg.TempoEndpoint = getenv("TEMPO_ENDPOINT", "tempo:4317")
	cfg.TracingSampleRate = envFloat("TRACING_SAMPLE_RATE", 1.0)

	return cfg
}

var validate = validator.New()

// Validate checks field constraints and cross-field rules.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.TrainFraction+c.ValidationFraction > 1 {
		return fmt.Errorf("invalid config: train (%.2f) and validation (%.2f) fractions exceed 1", c.TrainFraction, c.ValidationFraction)
	}
	if c.TuningMaxParallel > c.TuningMaxJobs {
		return fmt.Errorf("invalid config: tuning parallelism %d exceeds max jobs %d", c.TuningMaxParallel, c.TuningMaxJobs)
	}
	return nil
}

// RequireRemote checks the settings needed to talk to S3 and SageMaker.
func (c Config) RequireRemote() error {
	if c.S3Bucket == "" {
		return fmt.Errorf("S3_BUCKET is required")
	}
	if c.SageMakerRoleARN == "" {
		return fmt.Errorf("SAGEMAKER_ROLE_ARN is required")
	}
	return nil
}

const (
	endpointAllowance = time.Hour
	lockSlack         = 30 * time.Minute
)

// RunLockTTL returns LockTTL when set. Otherwise it bounds a full run with
// tuning: one training job, the tuning rounds and endpoint creation, each
// capped by MaxWait when that is set.
func (c Config) RunLockTTL() time.Duration {
	if c.LockTTL > 0 {
		return c.LockTTL
	}
	bound := func(d time.Duration) time.Duration {
		if c.MaxWait > 0 && c.MaxWait < d {
			return c.MaxWait
		}
		return d
	}
	rounds := 1
	if c.TuningMaxParallel > 0 {
		rounds = (c.TuningMaxJobs + c.TuningMaxParallel - 1) / c.TuningMaxParallel
	}
	train := bound(c.TrainingMaxRuntime)
	tune := bound(time.Duration(rounds) * c.TrainingMaxRuntime)
	return train + tune + bound(endpointAllowance) + lockSlack
}

// getenv returns the value of the environment variable if set, otherwise def.
func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// envDuration parses an environment variable into a time.Duration.
// The value can be a duration string (e.g. "5s") or a number of seconds.
// If the variable is unset or invalid, def is returned.
func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return def
}

// envBool parses a boolean environment variable. Accepted values are those
// supported by strconv.ParseBool. When unset or invalid, def is returned.
func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if b, err := strconv.ParseBool(v); err == nil {
		return b
	}
	return def
}

// envInt parses an integer environment variable. When unset or invalid, def is returned.
func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if i, err := strconv.Atoi(v); err == nil {
		return i
	}
	return def
}

// envFloat parses a float64 environment variable. When unset or invalid, def is returned.
func envFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f
	}
	return def
}
