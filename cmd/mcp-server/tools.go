package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/galinamarkova/beeswax-api/internal/models"
	"github.com/galinamarkova/beeswax-api/internal/registry"
)

// Tool request/response types. Times are rendered as RFC 3339 strings.
type JobStatusInput struct {
	Name string `json:"name"`
}

type JobView struct {
	Name          string `json:"name"`
	Kind          string `json:"kind"`
	Status        string `json:"status"`
	ArtifactURI   string `json:"artifact_uri,omitempty"`
	FailureReason string `json:"failure_reason,omitempty"`
	UpdatedAt     string `json:"updated_at,omitempty"`
}

type JobStatusOutput struct {
	Job    JobView `json:"job"`
	Source string  `json:"source"` // cache or registry
}

type ListJobsInput struct {
	RunID string `json:"run_id"`
	Limit int    `json:"limit,omitempty"`
}

type ListJobsOutput struct {
	Jobs []JobView `json:"jobs"`
}

type LatestDescriptorInput struct{}

type LatestDescriptorOutput struct {
	RunID     string   `json:"run_id"`
	Features  []string `json:"features"`
	Endpoint  string   `json:"endpoint,omitempty"`
	ModelJob  string   `json:"model_job,omitempty"`
	CreatedAt string   `json:"created_at"`
}

type statusCache interface {
	GetStatus(ctx context.Context, name string) (models.Job, error)
}

type jobRegistry interface {
	GetJob(ctx context.Context, name string) (models.Job, error)
	ListJobs(ctx context.Context, runID string, limit int) ([]models.Job, error)
	LatestDescriptor(ctx context.Context) (*models.Descriptor, error)
}

// ExperimentServer answers read-only questions about pipeline runs.
type ExperimentServer struct {
	cache    statusCache // optional
	registry jobRegistry
	logger   *zap.Logger
}

const defaultJobLimit = 50

// JobStatus returns the freshest known status of a job: the poller's cache
// first, then the registry.
func (s *ExperimentServer) JobStatus(ctx context.Context, req *mcp.CallToolRequest, input JobStatusInput) (*mcp.CallToolResult, JobStatusOutput, error) {
	if input.Name == "" {
		return nil, JobStatusOutput{}, errors.New("name is required")
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if s.cache != nil {
		job, err := s.cache.GetStatus(ctx, input.Name)
		if err == nil {
			return nil, JobStatusOutput{Job: viewJob(job), Source: "cache"}, nil
		}
		if !errors.Is(err, registry.ErrNotFound) {
			s.logger.Warn("status cache lookup failed", zap.String("job", input.Name), zap.Error(err))
		}
	}

	job, err := s.registry.GetJob(ctx, input.Name)
	if err != nil {
		return nil, JobStatusOutput{}, fmt.Errorf("job %s: %w", input.Name, err)
	}
	return nil, JobStatusOutput{Job: viewJob(job), Source: "registry"}, nil
}

// ListJobs returns the jobs recorded for a run, newest first.
func (s *ExperimentServer) ListJobs(ctx context.Context, req *mcp.CallToolRequest, input ListJobsInput) (*mcp.CallToolResult, ListJobsOutput, error) {
	if input.RunID == "" {
		return nil, ListJobsOutput{}, errors.New("run_id is required")
	}
	limit := input.Limit
	if limit <= 0 {
		limit = defaultJobLimit
	}
	jobs, err := s.registry.ListJobs(ctx, input.RunID, limit)
	if err != nil {
		return nil, ListJobsOutput{}, fmt.Errorf("list jobs: %w", err)
	}
	out := ListJobsOutput{Jobs: make([]JobView, 0, len(jobs))}
	for _, j := range jobs {
		out.Jobs = append(out.Jobs, viewJob(j))
	}
	s.logger.Info("listed jobs", zap.String("run_id", input.RunID), zap.Int("jobs", len(out.Jobs)))
	return nil, out, nil
}

// LatestDescriptor returns the feature descriptor of the most recent deploy.
func (s *ExperimentServer) LatestDescriptor(ctx context.Context, req *mcp.CallToolRequest, input LatestDescriptorInput) (*mcp.CallToolResult, LatestDescriptorOutput, error) {
	d, err := s.registry.LatestDescriptor(ctx)
	if err != nil {
		return nil, LatestDescriptorOutput{}, fmt.Errorf("latest descriptor: %w", err)
	}
	return nil, LatestDescriptorOutput{
		RunID:     d.RunID,
		Features:  d.Features,
		Endpoint:  d.Endpoint,
		ModelJob:  d.ModelJob,
		CreatedAt: d.CreatedAt.UTC().Format(time.RFC3339),
	}, nil
}

func viewJob(j models.Job) JobView {
	v := JobView{
		Name:          j.Name,
		Kind:          string(j.Kind),
		Status:        string(j.Status),
		ArtifactURI:   j.ArtifactURI,
		FailureReason: j.FailureReason,
	}
	if !j.UpdatedAt.IsZero() {
		v.UpdatedAt = j.UpdatedAt.UTC().Format(time.RFC3339)
	}
	return v
}

func addTools(server *mcp.Server, s *ExperimentServer) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "job_status",
		Description: "Current status of a training, tuning or endpoint job",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"name": map[string]interface{}{
					"type":        "string",
					"description": "Job name as submitted by the pipeline",
				},
			},
			"required": []string{"name"},
		},
	}, s.JobStatus)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_jobs",
		Description: "Jobs recorded for a pipeline run",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"run_id": map[string]interface{}{
					"type":        "string",
					"description": "Pipeline run id",
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"minimum":     1,
					"description": "Maximum number of jobs (optional, defaults to 50)",
				},
			},
			"required": []string{"run_id"},
		},
	}, s.ListJobs)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "latest_descriptor",
		Description: "Features and endpoint of the most recently deployed model",
		InputSchema: map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{},
		},
	}, s.LatestDescriptor)
}
