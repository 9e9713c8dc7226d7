package training

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/galinamarkova/beeswax-api/internal/models"
)

var _ Service = (*FakeService)(nil)

// FakeService is an in-memory Service for tests and dry runs. Every job
// reports the statuses in Progression on successive describes, repeating
// the last one; submitted training jobs get an artifact under ArtifactRoot.
type FakeService struct {
	Progression   []models.JobStatus
	ArtifactRoot  string
	FailureReason string
	BestObjective float64
	BestParams    models.Hyperparameters
	SubmitErr     error

	mu        sync.Mutex
	Trainings []TrainingRequest
	Tunings   []TuningRequest
	Deploys   []DeployRequest
	describes map[string]int
	kinds     map[string]models.JobKind
}

// NewFakeService creates a service whose jobs complete on the second poll.
func NewFakeService(artifactRoot string) *FakeService {
	return &FakeService{
		Progression:  []models.JobStatus{models.JobStatusInProgress, models.JobStatusCompleted},
		ArtifactRoot: artifactRoot,
	}
}

func (f *FakeService) SubmitTraining(ctx context.Context, req TrainingRequest) (models.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SubmitErr != nil {
		return models.Job{}, f.SubmitErr
	}
	f.Trainings = append(f.Trainings, req)
	return f.register(req.Name, models.JobKindTraining), nil
}

func (f *FakeService) DescribeTraining(ctx context.Context, name string) (models.Job, error) {
	return f.describe(name, models.JobKindTraining)
}

func (f *FakeService) SubmitTuning(ctx context.Context, req TuningRequest) (models.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SubmitErr != nil {
		return models.Job{}, f.SubmitErr
	}
	f.Tunings = append(f.Tunings, req)
	return f.register(req.Name, models.JobKindTuning), nil
}

func (f *FakeService) DescribeTuning(ctx context.Context, name string) (TuningStatus, error) {
	job, err := f.describe(name, models.JobKindTuning)
	if err != nil {
		return TuningStatus{}, err
	}
	status := TuningStatus{Job: job}
	if job.Status == models.JobStatusCompleted {
		status.BestTrainingJob = name + "-001"
		status.BestObjective = f.BestObjective
		status.BestHyperparameters = f.BestParams.Clone()

		// the best trial is a finished training job of its own
		f.mu.Lock()
		f.kinds[status.BestTrainingJob] = models.JobKindTraining
		f.describes[status.BestTrainingJob] = len(f.Progression)
		f.mu.Unlock()
	}
	return status, nil
}

func (f *FakeService) Deploy(ctx context.Context, req DeployRequest) (models.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SubmitErr != nil {
		return models.Job{}, f.SubmitErr
	}
	f.Deploys = append(f.Deploys, req)
	job := f.register(req.Name, models.JobKindEndpoint)
	job.Status = models.JobStatusCreating
	return job, nil
}

func (f *FakeService) DescribeEndpoint(ctx context.Context, name string) (models.Job, error) {
	job, err := f.describe(name, models.JobKindEndpoint)
	if err != nil {
		return job, err
	}
	switch job.Status {
	case models.JobStatusInProgress:
		job.Status = models.JobStatusCreating
	case models.JobStatusCompleted:
		job.Status = models.JobStatusInService
	}
	return job, nil
}

// Describes returns how many times name has been polled.
func (f *FakeService) Describes(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.describes[name]
}

func (f *FakeService) register(name string, kind models.JobKind) models.Job {
	if f.kinds == nil {
		f.kinds = make(map[string]models.JobKind)
		f.describes = make(map[string]int)
	}
	f.kinds[name] = kind
	now := time.Now()
	return models.Job{Name: name, Kind: kind, Status: models.JobStatusInProgress, CreatedAt: now, UpdatedAt: now}
}

func (f *FakeService) describe(name string, kind models.JobKind) (models.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if got, ok := f.kinds[name]; !ok || got != kind {
		return models.Job{}, fmt.Errorf("%s job %s not found", kind, name)
	}
	n := f.describes[name]
	f.describes[name] = n + 1

	status := models.JobStatusCompleted
	if len(f.Progression) > 0 {
		if n >= len(f.Progression) {
			n = len(f.Progression) - 1
		}
		status = f.Progression[n]
	}
	job := models.Job{Name: name, Kind: kind, Status: status, UpdatedAt: time.Now()}
	if status == models.JobStatusFailed {
		job.FailureReason = f.FailureReason
	}
	if kind == models.JobKindTraining && status == models.JobStatusCompleted {
		job.ArtifactURI = fmt.Sprintf("%s/%s/output/model.tar.gz", f.ArtifactRoot, name)
	}
	return job, nil
}
