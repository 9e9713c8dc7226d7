package main

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go/aws/session"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/galinamarkova/beeswax-api/internal/awsutil"
	"github.com/galinamarkova/beeswax-api/internal/config"
	"github.com/galinamarkova/beeswax-api/internal/dataset"
	"github.com/galinamarkova/beeswax-api/internal/evaluate"
	"github.com/galinamarkova/beeswax-api/internal/inspect"
	"github.com/galinamarkova/beeswax-api/internal/observability"
	"github.com/galinamarkova/beeswax-api/internal/pipeline"
	"github.com/galinamarkova/beeswax-api/internal/registry"
	"github.com/galinamarkova/beeswax-api/internal/storage"
	"github.com/galinamarkova/beeswax-api/internal/training"
	"github.com/galinamarkova/beeswax-api/internal/tuning"
)

// app owns the pipeline and every connection opened for it.
type app struct {
	pipeline *pipeline.Pipeline
	store    storage.BlobStore
	closers  []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// newApp connects to AWS and the optional registry, cache, event source and
// tracing backend, and assembles the pipeline.
func newApp(ctx context.Context, logger *zap.Logger, cfg config.Config, f *cliFlags) (_ *app, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.RequireRemote(); err != nil {
		return nil, err
	}

	a := &app{}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if cfg.TracingEnabled {
		shutdown, err := observability.InitTracing(ctx, logger, observability.TracingConfig{
			ServiceName: cfg.ServiceName,
			Endpoint:    cfg.TempoEndpoint,
			SampleRate:  cfg.TracingSampleRate,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to init tracing: %w", err)
		}
		a.closers = append(a.closers, shutdown)
	}

	sess, err := awsutil.NewSession(cfg.AWSRegion)
	if err != nil {
		return nil, err
	}
	a.store = storage.NewS3Store(sess, cfg.S3Bucket)

	image := cfg.TrainingImage
	if image == "" {
		if image, err = training.LinearLearnerImage(cfg.AWSRegion); err != nil {
			return nil, err
		}
	}
	service := training.NewSageMakerService(sess, training.SageMakerConfig{
		RoleARN:      cfg.SageMakerRoleARN,
		Image:        image,
		InstanceType: cfg.TrainingInstanceType,
		MaxRuntime:   cfg.TrainingMaxRuntime,
	})

	metrics := observability.NewPrometheusRegistry()
	poller := &training.Poller{
		Interval: cfg.PollInterval,
		MaxWait:  cfg.MaxWait,
		Logger:   logger,
		Metrics:  metrics,
	}

	loader := &dataset.Loader{CachePath: cfg.DatasetCache, Refresh: f.refresh, Logger: logger}
	if cfg.ClickHouseDSN != "" {
		src, err := dataset.OpenClickHouse(ctx, cfg.ClickHouseDSN, cfg.EventsSince)
		if err != nil {
			return nil, fmt.Errorf("failed to connect clickhouse: %w", err)
		}
		a.closers = append(a.closers, src.Close)
		loader.Source = src
	}

	p := &pipeline.Pipeline{
		Loader:    loader,
		Exporter:  &storage.Exporter{Store: a.store, Prefix: cfg.S3Prefix, Logger: logger, Metrics: metrics},
		Service:   service,
		Poller:    poller,
		Tuner:     &tuning.Driver{Service: service, Poller: poller, Logger: logger},
		Inspector: &inspect.Inspector{Store: a.store, Logger: logger},
		Evaluator: &evaluate.Evaluator{
			Predictor: predictor(cfg, sess, logger, metrics),
			BatchSize: cfg.EvalBatchSize,
			Logger:    logger,
			Metrics:   metrics,
		},
		Metrics: metrics,
		Logger:  logger,
		Options: options(cfg, f),
	}

	if cfg.PredictRate > 0 {
		p.Evaluator.Limiter = rate.NewLimiter(rate.Limit(cfg.PredictRate), 1)
	}

	var jobs pipeline.JobLister
	if cfg.PostgresDSN != "" {
		pg, err := registry.InitPostgres(ctx, cfg.PostgresDSN, cfg.DBMaxOpenConns, cfg.DBMaxIdleConns, cfg.DBConnMaxLifetime, cfg.DBConnMaxIdleTime)
		if err != nil {
			return nil, fmt.Errorf("failed to connect postgres: %w", err)
		}
		a.closers = append(a.closers, pg.Close)
		p.Registry = pg
		jobs = pg
	}
	if cfg.RedisAddr != "" {
		cache, err := registry.InitRedis(ctx, cfg.RedisAddr, cfg.StatusCacheTTL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect redis: %w", err)
		}
		a.closers = append(a.closers, cache.Close)
		poller.Recorder = cache
		p.Locker = cache
	}

	if f.featuresFrom != "" {
		d, err := pipeline.ReadDescriptor(ctx, a.store, f.featuresFrom)
		if err != nil {
			return nil, err
		}
		p.Options.Features = d.Features
		logger.Info("restricting features to descriptor",
			zap.String("descriptor", f.featuresFrom),
			zap.String("source_run", d.RunID),
			zap.Int("features", len(d.Features)))
	}

	if cfg.MetricsAddr != "" {
		srvCtx, cancel := context.WithCancel(ctx)
		errCh := pipeline.StartServer(srvCtx, cfg.MetricsAddr, pipeline.NewRouter(jobs, logger), logger)
		go func() {
			for err := range errCh {
				logger.Error("metrics server error", zap.Error(err))
			}
		}()
		a.closers = append(a.closers, cancel)
	}

	a.pipeline = p
	return a, nil
}

func predictor(cfg config.Config, sess *session.Session, logger *zap.Logger, metrics observability.MetricsRegistry) evaluate.Predictor {
	if cfg.PredictorURL != "" {
		logger.Info("scoring against local serving container", zap.String("url", cfg.PredictorURL))
		return evaluate.NewHTTPPredictor(cfg.PredictorURL, cfg.PredictorTimeout, logger, metrics)
	}
	return evaluate.NewSageMakerPredictor(sess, evaluate.DefaultBreakerConfig(), logger, metrics)
}

func options(cfg config.Config, f *cliFlags) pipeline.Options {
	threshold := cfg.WeightThreshold
	if f.weightThreshold >= 0 {
		threshold = f.weightThreshold
	}
	return pipeline.Options{
		RunPrefix:            "run",
		JobPrefix:            cfg.JobPrefix,
		MinorityThreshold:    cfg.MinorityThreshold,
		UpsampleTarget:       cfg.UpsampleTarget,
		UpsampleTrainOnly:    f.upsampleTrainOnly,
		TrainFraction:        cfg.TrainFraction,
		ValidationFraction:   cfg.ValidationFraction,
		Seed:                 cfg.RandomSeed,
		DropGroups:           f.dropGroups,
		Tune:                 f.tune,
		TuningStrategy:       cfg.TuningStrategy,
		TuningMaxJobs:        cfg.TuningMaxJobs,
		TuningParallel:       cfg.TuningMaxParallel,
		WeightThreshold:      threshold,
		SelectionPath:        f.selectionOut,
		EndpointInstanceType: cfg.EndpointInstanceType,
		EndpointInstances:    cfg.EndpointInstances,
		DescriptorPath:       cfg.DescriptorPath,
		LockTTL:              cfg.RunLockTTL(),
	}
}
