package models

import "time"

// JobKind identifies which remote computation a Job handle refers to.
type JobKind string

const (
	JobKindTraining JobKind = "training"
	JobKindTuning   JobKind = "tuning"
	JobKindEndpoint JobKind = "endpoint"
)

// JobStatus mirrors the status strings reported by the training service.
type JobStatus string

const (
	JobStatusInProgress JobStatus = "InProgress"
	JobStatusCompleted  JobStatus = "Completed"
	JobStatusFailed     JobStatus = "Failed"
	JobStatusStopping   JobStatus = "Stopping"
	JobStatusStopped    JobStatus = "Stopped"

	// Endpoint lifecycle states.
	JobStatusCreating  JobStatus = "Creating"
	JobStatusUpdating  JobStatus = "Updating"
	JobStatusInService JobStatus = "InService"
)

// Terminal reports whether the remote computation has finished, successfully or not.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusStopped, JobStatusInService:
		return true
	}
	return false
}

// Succeeded reports whether the status is a successful terminal state.
func (s JobStatus) Succeeded() bool {
	return s == JobStatusCompleted || s == JobStatusInService
}

// Job is an opaque handle to an asynchronous remote computation. Its
// lifecycle is owned by the external service and only observed by polling.
type Job struct {
	Name          string    `json:"name"`
	Kind          JobKind   `json:"kind"`
	Status        JobStatus `json:"status"`
	ArtifactURI   string    `json:"artifact_uri,omitempty"`   // S3 URI of model.tar.gz for training jobs.
	FailureReason string    `json:"failure_reason,omitempty"` // Populated by the service for failed jobs.
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Hyperparameters are passed to the training service in their wire form.
type Hyperparameters map[string]string

// Clone returns a copy that can be modified without touching the receiver.
func (h Hyperparameters) Clone() Hyperparameters {
	out := make(Hyperparameters, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}

// RangeType enumerates the parameter range kinds supported by the search service.
type RangeType string

const (
	RangeContinuous  RangeType = "continuous"
	RangeInteger     RangeType = "integer"
	RangeCategorical RangeType = "categorical"
)

// ParameterRange declares one dimension of a hyperparameter search space.
type ParameterRange struct {
	Name    string    `json:"name"`
	Type    RangeType `json:"type"`
	Min     float64   `json:"min,omitempty"`
	Max     float64   `json:"max,omitempty"`
	Values  []string  `json:"values,omitempty"`  // Categorical choices.
	Scaling string    `json:"scaling,omitempty"` // Auto, Linear, Logarithmic, ReverseLogarithmic.
}
