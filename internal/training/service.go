package training

import (
	"context"
	"strconv"

	"github.com/galinamarkova/beeswax-api/internal/models"
)

// Channel names understood by the linear learner algorithm.
const (
	ChannelTrain      = "train"
	ChannelValidation = "validation"
)

// Service is the remote training collaborator. Submissions return a handle
// immediately; the computation is observed by polling the Describe methods.
type Service interface {
	SubmitTraining(ctx context.Context, req TrainingRequest) (models.Job, error)
	DescribeTraining(ctx context.Context, name string) (models.Job, error)
	SubmitTuning(ctx context.Context, req TuningRequest) (models.Job, error)
	DescribeTuning(ctx context.Context, name string) (TuningStatus, error)
	Deploy(ctx context.Context, req DeployRequest) (models.Job, error)
	DescribeEndpoint(ctx context.Context, name string) (models.Job, error)
}

// TrainingRequest describes a single training job.
type TrainingRequest struct {
	Name            string
	Channels        map[string]string // channel name -> s3 prefix
	OutputPath      string
	Hyperparameters models.Hyperparameters
}

// TuningRequest describes a hyperparameter search over TrainingRequest.
// The request's Hyperparameters are the static values shared by every trial.
type TuningRequest struct {
	Name          string
	Training      TrainingRequest
	Ranges        []models.ParameterRange
	Strategy      string
	Objective     string
	ObjectiveType string
	MaxJobs       int
	MaxParallel   int
}

// TuningStatus is a tuning job handle plus the best trial found so far.
type TuningStatus struct {
	Job                 models.Job
	BestTrainingJob     string
	BestObjective       float64
	BestHyperparameters models.Hyperparameters
}

// DeployRequest turns the artifact of a completed training job into an endpoint.
type DeployRequest struct {
	Name          string // used for the model, endpoint config and endpoint
	ArtifactURI   string
	InstanceType  string
	InstanceCount int
}

// DefaultHyperparameters returns the regressor settings used for every
// training job over featureDim columns.
func DefaultHyperparameters(featureDim int) models.Hyperparameters {
	return models.Hyperparameters{
		"feature_dim":     strconv.Itoa(featureDim),
		"predictor_type":  "regressor",
		"mini_batch_size": "200",
		"epochs":          "15",
		"loss":            "absolute_loss",
	}
}
