package evaluate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/galinamarkova/beeswax-api/internal/models"
	"github.com/galinamarkova/beeswax-api/internal/observability"
)

// constantPredictor returns the same score for every row and records batch sizes.
type constantPredictor struct {
	score   float64
	batches []int
	err     error
	short   bool
}

func (c *constantPredictor) Predict(ctx context.Context, endpoint string, rows [][]float64) ([]float64, error) {
	c.batches = append(c.batches, len(rows))
	if c.err != nil {
		return nil, c.err
	}
	n := len(rows)
	if c.short {
		n--
	}
	out := make([]float64, n)
	for i := range out {
		out[i] = c.score
	}
	return out, nil
}

func matrixWithLabels(labels []float64) *models.Matrix {
	m := &models.Matrix{Columns: []string{"rewarded"}, Labels: labels}
	for range labels {
		m.Features = append(m.Features, []float64{1})
	}
	return m
}

func TestMeanAbsoluteError(t *testing.T) {
	mae, err := MeanAbsoluteError([]float64{0.1, 0.3, 0}, []float64{0, 0.5, 0})
	require.NoError(t, err)
	assert.InDelta(t, 0.1, mae, 1e-12)

	_, err = MeanAbsoluteError([]float64{1}, []float64{1, 2})
	assert.Error(t, err)

	_, err = MeanAbsoluteError(nil, nil)
	assert.ErrorIs(t, err, ErrEmptyMatrix)
}

func TestEvaluatorBatches(t *testing.T) {
	labels := make([]float64, 1203)
	labels[0] = 1
	pred := &constantPredictor{score: 0}
	metrics := observability.NewMockMetricsRegistry()
	e := &Evaluator{Predictor: pred, Logger: zap.NewNop(), Metrics: metrics}

	res, err := e.Evaluate(context.Background(), "ep", matrixWithLabels(labels))
	require.NoError(t, err)

	assert.Equal(t, []int{500, 500, 203}, pred.batches)
	assert.Equal(t, 1203, res.Rows)
	assert.InDelta(t, 1.0/1203, res.MAE, 1e-12)
	assert.InDelta(t, 1.0/1203, res.MeanLabel, 1e-12)
	assert.Equal(t, 0.0, res.MeanPrediction)
	assert.InDelta(t, res.MAE, metrics.MAE["ep"], 1e-12)
}

func TestEvaluatorErrors(t *testing.T) {
	e := &Evaluator{Predictor: &constantPredictor{}, BatchSize: 2}
	_, err := e.Evaluate(context.Background(), "ep", &models.Matrix{})
	assert.ErrorIs(t, err, ErrEmptyMatrix)

	boom := errors.New("endpoint down")
	e.Predictor = &constantPredictor{err: boom}
	_, err = e.Evaluate(context.Background(), "ep", matrixWithLabels([]float64{0, 1, 0}))
	assert.ErrorIs(t, err, boom)

	e.Predictor = &constantPredictor{short: true}
	_, err = e.Evaluate(context.Background(), "ep", matrixWithLabels([]float64{0, 1, 0}))
	assert.ErrorContains(t, err, "got 1 predictions")
}

func TestEvaluatorLimiter(t *testing.T) {
	pred := &constantPredictor{score: 0.5}
	e := &Evaluator{Predictor: pred, BatchSize: 1, Limiter: rate.NewLimiter(rate.Inf, 1)}
	res, err := e.Evaluate(context.Background(), "ep", matrixWithLabels([]float64{0.5, 0.5, 0.5}))
	require.NoError(t, err)
	assert.Equal(t, []int{1, 1, 1}, pred.batches)
	assert.Equal(t, 0.0, res.MAE)

	// a cancelled context stops before the first request
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	pred = &constantPredictor{}
	e = &Evaluator{Predictor: pred, Limiter: rate.NewLimiter(rate.Every(time.Hour), 0)}
	_, err = e.Evaluate(ctx, "ep", matrixWithLabels([]float64{0}))
	assert.Error(t, err)
	assert.Empty(t, pred.batches)
}
