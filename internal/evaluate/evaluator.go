package evaluate

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/montanaflynn/stats"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/galinamarkova/beeswax-api/internal/models"
	"github.com/galinamarkova/beeswax-api/internal/observability"
)

// ErrEmptyMatrix is returned when there are no rows to evaluate.
var ErrEmptyMatrix = errors.New("no rows to evaluate")

// DefaultBatchSize matches the endpoint's request size limit for typical rows.
const DefaultBatchSize = 500

// Evaluator scores held-out rows against an endpoint.
type Evaluator struct {
	Predictor Predictor
	BatchSize int
	Limiter   *rate.Limiter // optional; paces batch requests to the endpoint
	Logger    *zap.Logger
	Metrics   observability.MetricsRegistry
}

// Evaluate predicts every row of m in batches and compares against its labels.
func (e *Evaluator) Evaluate(ctx context.Context, endpoint string, m *models.Matrix) (*models.EvaluationResult, error) {
	if m.Len() == 0 {
		return nil, ErrEmptyMatrix
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	size := e.BatchSize
	if size <= 0 {
		size = DefaultBatchSize
	}

	predictions := make([]float64, 0, m.Len())
	for start := 0; start < m.Len(); start += size {
		end := start + size
		if end > m.Len() {
			end = m.Len()
		}
		if e.Limiter != nil {
			if err := e.Limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}
		scores, err := e.Predictor.Predict(ctx, endpoint, m.Features[start:end])
		if err != nil {
			return nil, fmt.Errorf("batch %d-%d: %w", start, end, err)
		}
		if len(scores) != end-start {
			return nil, fmt.Errorf("batch %d-%d: got %d predictions", start, end, len(scores))
		}
		predictions = append(predictions, scores...)
	}

	mae, err := MeanAbsoluteError(predictions, m.Labels)
	if err != nil {
		return nil, err
	}
	meanPred, _ := stats.Mean(predictions)
	meanLabel, _ := stats.Mean(m.Labels)

	res := &models.EvaluationResult{
		Endpoint:       endpoint,
		Rows:           m.Len(),
		MAE:            mae,
		MeanPrediction: meanPred,
		MeanLabel:      meanLabel,
	}
	if e.Metrics != nil {
		e.Metrics.SetEvaluationMAE(endpoint, mae)
	}
	if e.Logger != nil {
		e.Logger.Info("evaluation finished",
			zap.String("endpoint", endpoint),
			zap.Int("rows", res.Rows),
			zap.Float64("mae", mae),
			zap.Float64("mean_prediction", meanPred),
			zap.Float64("mean_label", meanLabel))
	}
	return res, nil
}

// MeanAbsoluteError returns mean(|pred - truth|).
func MeanAbsoluteError(pred, truth []float64) (float64, error) {
	if len(pred) != len(truth) {
		return 0, fmt.Errorf("%d predictions for %d labels", len(pred), len(truth))
	}
	if len(pred) == 0 {
		return 0, ErrEmptyMatrix
	}
	errs := make(stats.Float64Data, len(pred))
	for i := range pred {
		errs[i] = math.Abs(pred[i] - truth[i])
	}
	return errs.Mean()
}
