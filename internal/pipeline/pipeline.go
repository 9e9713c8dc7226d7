package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"path"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/galinamarkova/beeswax-api/internal/dataset"
	"github.com/galinamarkova/beeswax-api/internal/evaluate"
	"github.com/galinamarkova/beeswax-api/internal/inspect"
	"github.com/galinamarkova/beeswax-api/internal/models"
	"github.com/galinamarkova/beeswax-api/internal/observability"
	"github.com/galinamarkova/beeswax-api/internal/storage"
	"github.com/galinamarkova/beeswax-api/internal/training"
	"github.com/galinamarkova/beeswax-api/internal/tuning"
)

// Stage names used in logs, spans, metrics and the registry.
const (
	StagePrepare  = "prepare"
	StageTrain    = "train"
	StageTune     = "tune"
	StageInspect  = "inspect"
	StageDeploy   = "deploy"
	StageEvaluate = "evaluate"
)

// Registry records runs, jobs and descriptors. Failures are logged and do
// not fail the pipeline.
type Registry interface {
	RecordRun(ctx context.Context, run models.Run) error
	RecordJob(ctx context.Context, runID string, job models.Job) error
	UpdateJobStatus(ctx context.Context, job models.Job) error
	SaveDescriptor(ctx context.Context, d models.Descriptor) error
}

// Locker serializes invocations working on the same run.
type Locker interface {
	AcquireRunLock(ctx context.Context, runID string, ttl time.Duration) (func(context.Context) error, error)
}

// DatasetLoader yields the raw rows.
type DatasetLoader interface {
	Load(ctx context.Context) ([]models.Row, error)
}

// Options are the per-run knobs of the pipeline.
type Options struct {
	RunPrefix          string // run ids are <RunPrefix>-<timestamp>
	JobPrefix          string
	MinorityThreshold  float64
	UpsampleTarget     float64
	UpsampleTrainOnly  bool // split first and upsample only the train partition
	TrainFraction      float64
	ValidationFraction float64
	Seed               int64

	Features   []string // restrict to these columns, e.g. from a descriptor
	DropGroups []string

	Hyperparameters models.Hyperparameters // overrides of the training defaults
	Tune            bool
	TuningStrategy  string
	TuningMaxJobs   int
	TuningParallel  int
	TuningRanges    []models.ParameterRange

	WeightThreshold float64
	SelectionPath   string // local file receiving the selected features after inspection

	EndpointInstanceType string
	EndpointInstances    int

	DescriptorPath string
	LockTTL        time.Duration
}

// Pipeline runs the stages of a CVR modeling run strictly in order.
type Pipeline struct {
	Loader    DatasetLoader
	Exporter  *storage.Exporter
	Service   training.Service
	Poller    *training.Poller
	Tuner     *tuning.Driver
	Inspector *inspect.Inspector
	Evaluator *evaluate.Evaluator
	Registry  Registry // optional
	Locker    Locker   // optional
	Metrics   observability.MetricsRegistry
	Logger    *zap.Logger
	Options   Options
	Now       func() time.Time
}

// NewState starts a run with a fresh id.
func (p *Pipeline) NewState() *State {
	prefix := p.Options.RunPrefix
	if prefix == "" {
		prefix = "run"
	}
	return &State{RunID: training.JobName(prefix, p.now())}
}

// LoadState reads the state stored by a previous invocation.
func (p *Pipeline) LoadState(ctx context.Context, runID string) (*State, error) {
	var st State
	if err := p.Exporter.GetJSON(ctx, runID, stateObject, &st); err != nil {
		return nil, fmt.Errorf("load state of run %s: %w", runID, err)
	}
	return &st, nil
}

// Lock acquires the run lock when a Locker is configured. The returned
// function releases it.
func (p *Pipeline) Lock(ctx context.Context, runID string) (func(), error) {
	if p.Locker == nil {
		return func() {}, nil
	}
	ttl := p.Options.LockTTL
	if ttl <= 0 {
		ttl = 6 * time.Hour
	}
	release, err := p.Locker.AcquireRunLock(ctx, runID, ttl)
	if err != nil {
		return nil, err
	}
	return func() {
		if err := release(context.Background()); err != nil {
			p.logger().Warn("failed to release run lock", zap.String("run_id", runID), zap.Error(err))
		}
	}, nil
}

// Resume takes the run lock, then loads the stored state of runID and runs
// step on it. The state is read under the lock so it reflects every stage
// finished by an earlier holder.
func (p *Pipeline) Resume(ctx context.Context, runID string, step func(context.Context, *State) error) (*State, error) {
	unlock, err := p.Lock(ctx, runID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	st, err := p.LoadState(ctx, runID)
	if err != nil {
		return nil, err
	}
	return st, step(ctx, st)
}

// Run executes every stage in order on a new run. Tuning runs only when
// Options.Tune is set; the tuned model then replaces the trained one.
func (p *Pipeline) Run(ctx context.Context) (*State, error) {
	st := p.NewState()
	unlock, err := p.Lock(ctx, st.RunID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	steps := []func(context.Context, *State) error{p.Prepare, p.Train}
	if p.Options.Tune {
		steps = append(steps, p.Tune)
	}
	steps = append(steps, p.Inspect, p.Deploy, p.Evaluate)
	for _, step := range steps {
		if err := step(ctx, st); err != nil {
			return st, err
		}
	}
	return st, nil
}

// Prepare loads, encodes, resamples, splits and exports the dataset.
func (p *Pipeline) Prepare(ctx context.Context, st *State) error {
	return p.stage(ctx, st, StagePrepare, func(ctx context.Context) error {
		rows, err := p.Loader.Load(ctx)
		if err != nil {
			return err
		}
		enc, err := p.encoder(rows)
		if err != nil {
			return err
		}
		m := enc.Encode(rows)

		o := p.Options
		rng := rand.New(rand.NewSource(o.Seed))
		var split models.Split
		var added int
		if o.UpsampleTrainOnly {
			if split, err = dataset.Split(m, o.TrainFraction, o.ValidationFraction, rng); err != nil {
				return err
			}
			if split.Train, added, err = dataset.Upsample(split.Train, o.MinorityThreshold, o.UpsampleTarget, rng); err != nil {
				return err
			}
		} else {
			up, n, err := dataset.Upsample(m, o.MinorityThreshold, o.UpsampleTarget, rng)
			if err != nil {
				return err
			}
			added = n
			if split, err = dataset.Split(up, o.TrainFraction, o.ValidationFraction, rng); err != nil {
				return err
			}
		}
		p.metrics().AddUpsampledRows(added)
		p.logger().Info("dataset prepared",
			zap.String("run_id", st.RunID),
			zap.Int("rows", len(rows)),
			zap.Int("columns", m.Width()),
			zap.Int("upsampled", added),
			zap.Float64("minority_ratio", dataset.MinorityRatio(split.Train, o.MinorityThreshold)),
			zap.Int("train", split.Train.Len()),
			zap.Int("validation", split.Validation.Len()),
			zap.Int("test", split.Test.Len()))

		export, err := p.Exporter.Export(ctx, st.RunID, split)
		if err != nil {
			return err
		}
		st.Columns = enc.Columns()
		st.Rows = len(rows)
		st.Upsampled = added
		st.Export = export
		return nil
	})
}

func (p *Pipeline) encoder(rows []models.Row) (*dataset.Encoder, error) {
	enc := dataset.NewEncoder(rows)
	var err error
	if len(p.Options.Features) > 0 {
		if enc, err = enc.Keep(p.Options.Features); err != nil {
			return nil, err
		}
	}
	if len(p.Options.DropGroups) > 0 {
		if enc, err = enc.Drop(p.Options.DropGroups...); err != nil {
			return nil, err
		}
	}
	if len(enc.Columns()) == 0 {
		return nil, errors.New("feature selection left no columns")
	}
	return enc, nil
}

// Train submits a training job on the exported data and waits for it.
func (p *Pipeline) Train(ctx context.Context, st *State) error {
	if st.Export == nil {
		return fmt.Errorf("run %s has not been prepared", st.RunID)
	}
	return p.stage(ctx, st, StageTrain, func(ctx context.Context) error {
		req := p.trainingRequest(st, training.JobName(p.Options.JobPrefix, p.now()))
		job, err := p.Service.SubmitTraining(ctx, req)
		if err != nil {
			return err
		}
		p.recordJob(ctx, st, job)
		p.logger().Info("submitted training job",
			zap.String("run_id", st.RunID),
			zap.String("job", job.Name),
			zap.Int("feature_dim", len(st.Columns)))

		job, err = p.Poller.Wait(ctx, job, p.Service.DescribeTraining)
		p.updateJob(ctx, job)
		if err != nil {
			return err
		}
		st.Training = &job
		st.Model = &job
		return nil
	})
}

func (p *Pipeline) trainingRequest(st *State, name string) training.TrainingRequest {
	hp := training.DefaultHyperparameters(len(st.Columns))
	for k, v := range p.Options.Hyperparameters {
		hp[k] = v
	}
	channels := make(map[string]string, 2)
	for _, c := range []string{training.ChannelTrain, training.ChannelValidation} {
		if uri, ok := st.Export.Channels[c]; ok {
			channels[c] = uri
		}
	}
	return training.TrainingRequest{
		Name:            name,
		Channels:        channels,
		OutputPath:      p.Exporter.Store.URI(path.Join(p.Exporter.RunPrefix(st.RunID), "output")),
		Hyperparameters: hp,
	}
}

// Tune runs a hyperparameter search and makes its best trial the run's model.
func (p *Pipeline) Tune(ctx context.Context, st *State) error {
	if st.Export == nil {
		return fmt.Errorf("run %s has not been prepared", st.RunID)
	}
	if _, ok := st.Export.Channels[training.ChannelValidation]; !ok {
		return fmt.Errorf("%w: run %s has no validation partition to score %s", tuning.ErrInvalidSearch, st.RunID, tuning.ObjectiveMetric)
	}
	return p.stage(ctx, st, StageTune, func(ctx context.Context) error {
		ranges := p.Options.TuningRanges
		if len(ranges) == 0 {
			ranges = tuning.DefaultRanges()
		}
		base := p.trainingRequest(st, "")
		for _, r := range ranges {
			delete(base.Hyperparameters, r.Name)
		}

		res, err := p.Tuner.Search(ctx, tuning.SearchRequest{
			Name:        training.TuningJobName(p.Options.JobPrefix, p.now()),
			Training:    base,
			Ranges:      ranges,
			Strategy:    p.Options.TuningStrategy,
			MaxJobs:     p.Options.TuningMaxJobs,
			MaxParallel: p.Options.TuningParallel,
		})
		var failed *training.JobFailedError
		if errors.As(err, &failed) {
			p.recordJob(ctx, st, failed.Job)
		}
		if err != nil {
			return err
		}
		p.recordJob(ctx, st, res.Job)

		best, err := p.Service.DescribeTraining(ctx, res.BestTrainingJob)
		if err != nil {
			return err
		}
		p.recordJob(ctx, st, best)
		st.Tuning = res
		st.Model = &best
		return nil
	})
}

// Inspect reads the model weights, aggregates them per original field and
// applies the weight threshold.
func (p *Pipeline) Inspect(ctx context.Context, st *State) error {
	if st.Model == nil || st.Model.ArtifactURI == "" {
		return fmt.Errorf("run %s has no trained model", st.RunID)
	}
	return p.stage(ctx, st, StageInspect, func(ctx context.Context) error {
		weights, err := p.Inspector.Weights(ctx, st.Model.ArtifactURI, st.Columns)
		if err != nil {
			return err
		}
		groups, err := inspect.GroupWeights(weights)
		if err != nil {
			return err
		}
		sel := inspect.SelectFeatures(groups, p.Options.WeightThreshold)
		st.Inspection = &Inspection{Weights: weights, Groups: groups, Selection: sel}

		for _, g := range groups {
			p.logger().Info("feature group weight",
				zap.String("run_id", st.RunID),
				zap.String("group", g.Group),
				zap.Int("columns", g.Count),
				zap.Float64("max_abs", g.MaxAbs),
				zap.Float64("mean_abs", g.MeanAbs),
				zap.Float64("std_dev", g.StdDev))
		}
		p.logger().Info("feature selection",
			zap.String("run_id", st.RunID),
			zap.Float64("threshold", sel.Threshold),
			zap.Strings("kept", sel.Kept),
			zap.Strings("dropped", sel.Dropped))

		if _, err := p.Exporter.PutJSON(ctx, st.RunID, inspectionObject, st.Inspection); err != nil {
			return err
		}
		if p.Options.SelectionPath != "" {
			return WriteDescriptor(p.Options.SelectionPath, models.Descriptor{
				RunID:     st.RunID,
				Features:  sel.Columns(weights),
				ModelJob:  st.Model.Name,
				CreatedAt: p.now(),
			})
		}
		return nil
	})
}

// Deploy serves the run's model from a new endpoint and writes the descriptor.
func (p *Pipeline) Deploy(ctx context.Context, st *State) error {
	if st.Model == nil || st.Model.ArtifactURI == "" {
		return fmt.Errorf("run %s has no trained model", st.RunID)
	}
	return p.stage(ctx, st, StageDeploy, func(ctx context.Context) error {
		job, err := p.Service.Deploy(ctx, training.DeployRequest{
			Name:          training.JobName(p.Options.JobPrefix+"-ep", p.now()),
			ArtifactURI:   st.Model.ArtifactURI,
			InstanceType:  p.Options.EndpointInstanceType,
			InstanceCount: p.Options.EndpointInstances,
		})
		if err != nil {
			return err
		}
		p.recordJob(ctx, st, job)

		job, err = p.Poller.Wait(ctx, job, p.Service.DescribeEndpoint)
		p.updateJob(ctx, job)
		if err != nil {
			return err
		}
		st.Endpoint = &job

		d := models.Descriptor{
			RunID:     st.RunID,
			Features:  st.Columns,
			Endpoint:  job.Name,
			ModelJob:  st.Model.Name,
			CreatedAt: p.now(),
		}
		st.Descriptor = &d
		if p.Options.DescriptorPath != "" {
			if err := WriteDescriptor(p.Options.DescriptorPath, d); err != nil {
				return err
			}
		}
		if _, err := p.Exporter.PutJSON(ctx, st.RunID, descriptorObject, d); err != nil {
			return err
		}
		if p.Registry != nil {
			if err := p.Registry.SaveDescriptor(ctx, d); err != nil {
				p.logger().Warn("failed to save descriptor", zap.String("run_id", st.RunID), zap.Error(err))
			}
		}
		return nil
	})
}

// Evaluate scores the exported test partition against the run's endpoint.
func (p *Pipeline) Evaluate(ctx context.Context, st *State) error {
	if st.Endpoint == nil {
		return fmt.Errorf("run %s has no endpoint", st.RunID)
	}
	if st.Export == nil || st.Export.Objects[storage.PartitionTest] == "" {
		return fmt.Errorf("run %s has no test partition", st.RunID)
	}
	return p.stage(ctx, st, StageEvaluate, func(ctx context.Context) error {
		m, err := p.Exporter.OpenMatrix(ctx, st.Export.Objects[storage.PartitionTest], st.Columns)
		if err != nil {
			return err
		}
		res, err := p.Evaluator.Evaluate(ctx, st.Endpoint.Name, m)
		if err != nil {
			return err
		}
		st.Evaluation = res
		_, err = p.Exporter.PutJSON(ctx, st.RunID, evaluationObject, res)
		return err
	})
}

// stage wraps fn with a span, timing metrics, logs, registry updates and a
// state checkpoint on success.
func (p *Pipeline) stage(ctx context.Context, st *State, name string, fn func(context.Context) error) error {
	ctx, span := observability.StartStage(ctx, name, attribute.String("run_id", st.RunID))
	logger := observability.LoggerFromContext(ctx, p.logger()).With(zap.String("run_id", st.RunID), zap.String("stage", name))
	start := time.Now()
	logger.Info("stage started")
	p.recordRun(ctx, st, name, models.RunStatusRunning, nil)

	err := fn(ctx)
	if err == nil {
		_, err = p.Exporter.PutJSON(ctx, st.RunID, stateObject, st)
	}

	outcome := "success"
	status := models.RunStatusSucceeded
	if err != nil {
		outcome = "failure"
		status = models.RunStatusFailed
	}
	p.metrics().RecordStage(name, outcome, time.Since(start))
	observability.EndStage(span, err)
	p.recordRun(ctx, st, name, status, err)

	if err != nil {
		logger.Error("stage failed", zap.Duration("duration", time.Since(start)), zap.Error(err))
		return fmt.Errorf("%s: %w", name, err)
	}
	logger.Info("stage finished", zap.Duration("duration", time.Since(start)))
	return nil
}

func (p *Pipeline) recordRun(ctx context.Context, st *State, stage string, status models.RunStatus, stageErr error) {
	if p.Registry == nil {
		return
	}
	now := p.now()
	run := models.Run{ID: st.RunID, Stage: stage, Status: status, StartedAt: now, UpdatedAt: now}
	if st.Export != nil {
		run.DataURI = st.Export.Prefix
	}
	if stageErr != nil {
		run.Error = stageErr.Error()
	}
	if err := p.Registry.RecordRun(ctx, run); err != nil {
		p.logger().Warn("failed to record run", zap.String("run_id", st.RunID), zap.Error(err))
	}
}

func (p *Pipeline) recordJob(ctx context.Context, st *State, job models.Job) {
	if p.Registry == nil {
		return
	}
	if err := p.Registry.RecordJob(ctx, st.RunID, job); err != nil {
		p.logger().Warn("failed to record job", zap.String("job", job.Name), zap.Error(err))
	}
}

func (p *Pipeline) updateJob(ctx context.Context, job models.Job) {
	if p.Registry == nil || job.Name == "" {
		return
	}
	if err := p.Registry.UpdateJobStatus(ctx, job); err != nil {
		p.logger().Warn("failed to update job", zap.String("job", job.Name), zap.Error(err))
	}
}

func (p *Pipeline) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

func (p *Pipeline) logger() *zap.Logger {
	if p.Logger == nil {
		return zap.NewNop()
	}
	return p.Logger
}

func (p *Pipeline) metrics() observability.MetricsRegistry {
	if p.Metrics == nil {
		return observability.NewNoOpRegistry()
	}
	return p.Metrics
}
