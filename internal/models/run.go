package models

import "time"

// RunStatus is the outcome of a pipeline run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
)

// Run is one invocation of the pipeline, identified by the key prefix its
// exported data lives under.
type Run struct {
	ID        string    `json:"id"`
	Stage     string    `json:"stage"` // last stage started
	Status    RunStatus `json:"status"`
	Error     string    `json:"error,omitempty"`
	DataURI   string    `json:"data_uri,omitempty"`
	StartedAt time.Time `json:"started_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
