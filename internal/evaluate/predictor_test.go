package evaluate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/sagemakerruntime"
	"github.com/aws/aws-sdk-go/service/sagemakerruntime/sagemakerruntimeiface"
	gobreaker "github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/galinamarkova/beeswax-api/internal/observability"
)

type stubRuntime struct {
	sagemakerruntimeiface.SageMakerRuntimeAPI

	calls int
	last  *sagemakerruntime.InvokeEndpointInput
	err   error
	body  string
}

func (s *stubRuntime) InvokeEndpointWithContext(ctx aws.Context, in *sagemakerruntime.InvokeEndpointInput, _ ...request.Option) (*sagemakerruntime.InvokeEndpointOutput, error) {
	s.calls++
	s.last = in
	if s.err != nil {
		return nil, s.err
	}
	if s.body != "" {
		return &sagemakerruntime.InvokeEndpointOutput{Body: []byte(s.body)}, nil
	}
	// score each row with its first feature
	var parts []string
	for _, line := range strings.Split(strings.TrimSpace(string(in.Body)), "\n") {
		first := strings.SplitN(line, ",", 2)[0]
		parts = append(parts, fmt.Sprintf(`{"score":%s}`, first))
	}
	return &sagemakerruntime.InvokeEndpointOutput{
		Body: []byte(`{"predictions":[` + strings.Join(parts, ",") + `]}`),
	}, nil
}

func TestSageMakerPredictorPredict(t *testing.T) {
	stub := &stubRuntime{}
	metrics := observability.NewMockMetricsRegistry()
	p := NewSageMakerPredictorWithClient(stub, DefaultBreakerConfig(), nil, metrics)

	scores, err := p.Predict(context.Background(), "cvr-endpoint", [][]float64{{0.5, 1}, {0.125, 0}})
	require.NoError(t, err)

	assert.Equal(t, []float64{0.5, 0.125}, scores)
	assert.Equal(t, "text/csv", aws.StringValue(stub.last.ContentType))
	assert.Equal(t, "cvr-endpoint", aws.StringValue(stub.last.EndpointName))
	assert.Equal(t, "0.5,1\n0.125,0\n", string(stub.last.Body))
	assert.Equal(t, 1, metrics.Predictions["success"])
}

func TestSageMakerPredictorCountMismatch(t *testing.T) {
	stub := &stubRuntime{body: `{"predictions":[{"score":1}]}`}
	metrics := observability.NewMockMetricsRegistry()
	p := NewSageMakerPredictorWithClient(stub, DefaultBreakerConfig(), nil, metrics)

	_, err := p.Predict(context.Background(), "ep", [][]float64{{1}, {2}})
	assert.ErrorContains(t, err, "1 predictions for 2 rows")
	assert.Equal(t, 1, metrics.Predictions["failure"])
}

func TestSageMakerPredictorBreakerOpens(t *testing.T) {
	stub := &stubRuntime{err: errors.New("ModelError")}
	cfg := DefaultBreakerConfig()
	cfg.FailureThreshold = 2
	p := NewSageMakerPredictorWithClient(stub, cfg, nil, nil)

	for i := 0; i < 2; i++ {
		_, err := p.Predict(context.Background(), "ep", [][]float64{{1}})
		assert.ErrorContains(t, err, "ModelError")
	}
	_, err := p.Predict(context.Background(), "ep", [][]float64{{1}})

	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, 2, stub.calls, "open breaker does not reach the endpoint")
}
