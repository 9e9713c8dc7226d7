package tuning

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/galinamarkova/beeswax-api/internal/models"
	"github.com/galinamarkova/beeswax-api/internal/training"
)

func validRequest() SearchRequest {
	return SearchRequest{
		Name: "cvr-tune",
		Training: training.TrainingRequest{
			Channels: map[string]string{
				training.ChannelTrain:      "s3://b/p/train/",
				training.ChannelValidation: "s3://b/p/validation/",
			},
			Hyperparameters: models.Hyperparameters{"feature_dim": "12", "predictor_type": "regressor"},
		},
		Ranges:      DefaultRanges(),
		Strategy:    StrategyBayesian,
		MaxJobs:     4,
		MaxParallel: 2,
	}
}

func TestSearchRequestValidate(t *testing.T) {
	require.NoError(t, validRequest().Validate())

	tests := []struct {
		name   string
		mutate func(*SearchRequest)
	}{
		{"no ranges", func(r *SearchRequest) { r.Ranges = nil }},
		{"no name", func(r *SearchRequest) { r.Name = "" }},
		{"grid strategy", func(r *SearchRequest) { r.Strategy = "Grid" }},
		{"parallel above max", func(r *SearchRequest) { r.MaxParallel = 5 }},
		{"zero parallel", func(r *SearchRequest) { r.MaxParallel = 0 }},
		{"inverted range", func(r *SearchRequest) { r.Ranges[0].Min, r.Ranges[0].Max = 1, 0.1 }},
		{"empty categorical", func(r *SearchRequest) {
			r.Ranges = append(r.Ranges, models.ParameterRange{Name: "loss", Type: models.RangeCategorical})
		}},
		{"duplicate range", func(r *SearchRequest) { r.Ranges = append(r.Ranges, r.Ranges[0]) }},
		{"static and searched", func(r *SearchRequest) { r.Training.Hyperparameters["wd"] = "0.1" }},
		{"no validation channel", func(r *SearchRequest) { delete(r.Training.Channels, training.ChannelValidation) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest()
			tt.mutate(&req)
			assert.ErrorIs(t, req.Validate(), ErrInvalidSearch)
		})
	}
}

func TestDriverSearch(t *testing.T) {
	svc := training.NewFakeService("s3://b/out")
	svc.BestObjective = 0.031
	svc.BestParams = models.Hyperparameters{"wd": "0.001", "mini_batch_size": "300"}
	d := &Driver{Service: svc, Poller: &training.Poller{Interval: time.Millisecond}}

	res, err := d.Search(context.Background(), validRequest())
	require.NoError(t, err)

	assert.Equal(t, models.JobStatusCompleted, res.Job.Status)
	assert.Equal(t, "cvr-tune-001", res.BestTrainingJob)
	assert.Equal(t, 0.031, res.BestObjective)
	assert.Equal(t, "0.001", res.BestHyperparameters["wd"])
	assert.Equal(t, "12", res.BestHyperparameters["feature_dim"], "static values are kept")

	require.Len(t, svc.Tunings, 1)
	assert.Equal(t, ObjectiveMetric, svc.Tunings[0].Objective)
	assert.Equal(t, ObjectiveType, svc.Tunings[0].ObjectiveType)
}

func TestDriverSearchRejectsInvalid(t *testing.T) {
	svc := training.NewFakeService("s3://b/out")
	d := &Driver{Service: svc, Poller: &training.Poller{Interval: time.Millisecond}}

	req := validRequest()
	req.Ranges = nil
	_, err := d.Search(context.Background(), req)

	assert.ErrorIs(t, err, ErrInvalidSearch)
	assert.Empty(t, svc.Tunings, "nothing is submitted")
}

func TestDriverSearchFailed(t *testing.T) {
	svc := training.NewFakeService("s3://b/out")
	svc.Progression = []models.JobStatus{models.JobStatusInProgress, models.JobStatusFailed}
	svc.FailureReason = "all training jobs failed"
	d := &Driver{Service: svc, Poller: &training.Poller{Interval: time.Millisecond}}

	_, err := d.Search(context.Background(), validRequest())

	var failed *training.JobFailedError
	require.True(t, errors.As(err, &failed))
	assert.Equal(t, models.JobKindTuning, failed.Job.Kind)
}
