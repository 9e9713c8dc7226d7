package tuning

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/galinamarkova/beeswax-api/internal/models"
	"github.com/galinamarkova/beeswax-api/internal/training"
)

// ErrInvalidSearch is returned for a search request the service would reject.
var ErrInvalidSearch = errors.New("invalid hyperparameter search")

// Objective minimized by every search.
const (
	ObjectiveMetric = "validation:absolute_loss"
	ObjectiveType   = "Minimize"
)

// Search strategies.
const (
	StrategyBayesian = "Bayesian"
	StrategyRandom   = "Random"
)

// DefaultRanges is the search space over the linear learner's
// regularization, learning rate and batch size.
func DefaultRanges() []models.ParameterRange {
	return []models.ParameterRange{
		{Name: "wd", Type: models.RangeContinuous, Min: 1e-7, Max: 1, Scaling: "Logarithmic"},
		{Name: "l1", Type: models.RangeContinuous, Min: 1e-7, Max: 1, Scaling: "Logarithmic"},
		{Name: "learning_rate", Type: models.RangeContinuous, Min: 1e-5, Max: 1, Scaling: "Logarithmic"},
		{Name: "mini_batch_size", Type: models.RangeInteger, Min: 100, Max: 5000, Scaling: "Linear"},
	}
}

// SearchRequest describes a search over Training.
type SearchRequest struct {
	Name        string
	Training    training.TrainingRequest
	Ranges      []models.ParameterRange
	Strategy    string
	MaxJobs     int
	MaxParallel int
}

// SearchResult is the completed tuning job and its best trial.
type SearchResult struct {
	Job                 models.Job             `json:"job"`
	BestTrainingJob     string                 `json:"best_training_job"`
	BestObjective       float64                `json:"best_objective"`
	BestHyperparameters models.Hyperparameters `json:"best_hyperparameters"`
}

// Driver submits hyperparameter searches and waits for them to finish.
type Driver struct {
	Service training.Service
	Poller  *training.Poller
	Logger  *zap.Logger
}

// Validate checks req without contacting the service.
func (r SearchRequest) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidSearch)
	}
	if len(r.Ranges) == 0 {
		return fmt.Errorf("%w: at least one parameter range is required", ErrInvalidSearch)
	}
	if r.Strategy != StrategyBayesian && r.Strategy != StrategyRandom {
		return fmt.Errorf("%w: unknown strategy %q", ErrInvalidSearch, r.Strategy)
	}
	if r.Training.Channels[training.ChannelValidation] == "" {
		return fmt.Errorf("%w: %s needs a %s channel", ErrInvalidSearch, ObjectiveMetric, training.ChannelValidation)
	}
	if r.MaxParallel < 1 || r.MaxJobs < r.MaxParallel {
		return fmt.Errorf("%w: need max jobs (%d) >= max parallel (%d) >= 1", ErrInvalidSearch, r.MaxJobs, r.MaxParallel)
	}
	seen := make(map[string]bool, len(r.Ranges))
	for _, p := range r.Ranges {
		if seen[p.Name] {
			return fmt.Errorf("%w: duplicate range %s", ErrInvalidSearch, p.Name)
		}
		seen[p.Name] = true
		if _, static := r.Training.Hyperparameters[p.Name]; static {
			return fmt.Errorf("%w: %s is both static and searched", ErrInvalidSearch, p.Name)
		}
		switch p.Type {
		case models.RangeContinuous, models.RangeInteger:
			if p.Min >= p.Max {
				return fmt.Errorf("%w: %s min %g must be below max %g", ErrInvalidSearch, p.Name, p.Min, p.Max)
			}
		case models.RangeCategorical:
			if len(p.Values) == 0 {
				return fmt.Errorf("%w: %s has no values", ErrInvalidSearch, p.Name)
			}
		default:
			return fmt.Errorf("%w: %s has unknown type %q", ErrInvalidSearch, p.Name, p.Type)
		}
	}
	return nil
}

// Search submits req and blocks until the tuning job terminates.
func (d *Driver) Search(ctx context.Context, req SearchRequest) (*SearchResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	job, err := d.Service.SubmitTuning(ctx, training.TuningRequest{
		Name:          req.Name,
		Training:      req.Training,
		Ranges:        req.Ranges,
		Strategy:      req.Strategy,
		Objective:     ObjectiveMetric,
		ObjectiveType: ObjectiveType,
		MaxJobs:       req.MaxJobs,
		MaxParallel:   req.MaxParallel,
	})
	if err != nil {
		return nil, err
	}
	d.logger().Info("submitted tuning job",
		zap.String("job", job.Name),
		zap.String("strategy", req.Strategy),
		zap.Int("max_jobs", req.MaxJobs),
		zap.Int("max_parallel", req.MaxParallel))

	// The poller only sees the job handle; keep the last full status for the result.
	var last training.TuningStatus
	describe := func(ctx context.Context, name string) (models.Job, error) {
		status, err := d.Service.DescribeTuning(ctx, name)
		if err != nil {
			return models.Job{}, err
		}
		last = status
		return status.Job, nil
	}

	job, err = d.Poller.Wait(ctx, job, describe)
	if err != nil {
		return nil, err
	}
	if last.BestTrainingJob == "" {
		return nil, fmt.Errorf("tuning job %s completed without a best training job", job.Name)
	}

	hp := req.Training.Hyperparameters.Clone()
	for k, v := range last.BestHyperparameters {
		hp[k] = v
	}
	result := &SearchResult{
		Job:                 job,
		BestTrainingJob:     last.BestTrainingJob,
		BestObjective:       last.BestObjective,
		BestHyperparameters: hp,
	}
	d.logger().Info("tuning job finished",
		zap.String("job", job.Name),
		zap.String("best_training_job", result.BestTrainingJob),
		zap.Float64("best_objective", result.BestObjective))
	return result, nil
}

func (d *Driver) logger() *zap.Logger {
	if d.Logger == nil {
		return zap.NewNop()
	}
	return d.Logger
}
