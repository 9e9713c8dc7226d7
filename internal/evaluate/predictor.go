package evaluate

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/sagemakerruntime"
	"github.com/aws/aws-sdk-go/service/sagemakerruntime/sagemakerruntimeiface"
	gobreaker "github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/galinamarkova/beeswax-api/internal/observability"
	"github.com/galinamarkova/beeswax-api/internal/storage"
)

// Predictor scores feature rows against a deployed endpoint.
type Predictor interface {
	Predict(ctx context.Context, endpoint string, rows [][]float64) ([]float64, error)
}

// BreakerConfig configures the circuit breaker around endpoint calls.
type BreakerConfig struct {
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold uint32
}

// DefaultBreakerConfig returns the settings used by the CLI.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:      1,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		FailureThreshold: 3,
	}
}

// SageMakerPredictor invokes a SageMaker endpoint with CSV batches.
type SageMakerPredictor struct {
	client  sagemakerruntimeiface.SageMakerRuntimeAPI
	breaker *gobreaker.CircuitBreaker[[]float64]
	logger  *zap.Logger
	metrics observability.MetricsRegistry
}

// NewSageMakerPredictor creates a predictor from an AWS session.
func NewSageMakerPredictor(sess *session.Session, cfg BreakerConfig, logger *zap.Logger, metrics observability.MetricsRegistry) *SageMakerPredictor {
	return NewSageMakerPredictorWithClient(sagemakerruntime.New(sess), cfg, logger, metrics)
}

// NewSageMakerPredictorWithClient allows injecting a runtime client.
func NewSageMakerPredictorWithClient(client sagemakerruntimeiface.SageMakerRuntimeAPI, cfg BreakerConfig, logger *zap.Logger, metrics observability.MetricsRegistry) *SageMakerPredictor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = observability.NewNoOpRegistry()
	}
	p := &SageMakerPredictor{client: client, logger: logger, metrics: metrics}
	p.breaker = gobreaker.NewCircuitBreaker[[]float64](gobreaker.Settings{
		Name:        "sagemaker-endpoint",
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	return p
}

// Predict sends rows as one text/csv request and returns a score per row.
func (p *SageMakerPredictor) Predict(ctx context.Context, endpoint string, rows [][]float64) ([]float64, error) {
	body, err := encodeRows(rows)
	if err != nil {
		return nil, err
	}
	return p.breaker.Execute(func() ([]float64, error) {
		return p.invoke(ctx, endpoint, body, len(rows))
	})
}

func (p *SageMakerPredictor) invoke(ctx context.Context, endpoint string, body []byte, n int) ([]float64, error) {
	start := time.Now()
	outcome := "success"
	defer func() {
		p.metrics.RecordPredictionLatency(time.Since(start))
		p.metrics.IncrementPredictionRequests(outcome)
	}()

	out, err := p.client.InvokeEndpointWithContext(ctx, &sagemakerruntime.InvokeEndpointInput{
		EndpointName: aws.String(endpoint),
		ContentType:  aws.String("text/csv"),
		Accept:       aws.String("application/json"),
		Body:         body,
	})
	if err != nil {
		outcome = "failure"
		return nil, fmt.Errorf("invoke %s: %w", endpoint, err)
	}

	scores, err := decodeScores(out.Body)
	if err != nil {
		outcome = "failure"
		return nil, fmt.Errorf("invoke %s: %w", endpoint, err)
	}
	if len(scores) != n {
		outcome = "failure"
		return nil, fmt.Errorf("invoke %s: got %d predictions for %d rows", endpoint, len(scores), n)
	}
	return scores, nil
}

type predictionResponse struct {
	Predictions []struct {
		Score float64 `json:"score"`
	} `json:"predictions"`
}

func decodeScores(body []byte) ([]float64, error) {
	var resp predictionResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	out := make([]float64, len(resp.Predictions))
	for i, p := range resp.Predictions {
		out[i] = p.Score
	}
	return out, nil
}

func encodeRows(rows [][]float64) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	for _, row := range rows {
		record := make([]string, len(row))
		for i, v := range row {
			record[i] = storage.FormatFloat(v)
		}
		if err := w.Write(record); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
