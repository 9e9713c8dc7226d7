package observability

import "time"

// MetricsRegistry provides an interface for recording pipeline metrics.
// Components receive it through their constructors instead of touching the
// global Prometheus collectors directly.
type MetricsRegistry interface {
	// Stage metrics
	RecordStage(stage, outcome string, duration time.Duration)

	// Remote job metrics
	IncrementJobPolls(kind, status string)

	// Dataset metrics
	AddExportedRows(partition string, n int)
	AddUpsampledRows(n int)

	// Inference metrics
	IncrementPredictionRequests(outcome string)
	RecordPredictionLatency(duration time.Duration)
	SetEvaluationMAE(endpoint string, mae float64)
}

// PrometheusRegistry implements MetricsRegistry using the global Prometheus metrics
type PrometheusRegistry struct{}

// NewPrometheusRegistry creates a new PrometheusRegistry
func NewPrometheusRegistry() *PrometheusRegistry {
	return &PrometheusRegistry{}
}

func (r *PrometheusRegistry) RecordStage(stage, outcome string, duration time.Duration) {
	StageDuration.WithLabelValues(stage).Observe(duration.Seconds())
	StageRuns.WithLabelValues(stage, outcome).Inc()
}

func (r *PrometheusRegistry) IncrementJobPolls(kind, status string) {
	JobPolls.WithLabelValues(kind, status).Inc()
}

func (r *PrometheusRegistry) AddExportedRows(partition string, n int) {
	ExportedRows.WithLabelValues(partition).Add(float64(n))
}

func (r *PrometheusRegistry) AddUpsampledRows(n int) {
	UpsampledRows.Add(float64(n))
}

func (r *PrometheusRegistry) IncrementPredictionRequests(outcome string) {
	PredictionRequests.WithLabelValues(outcome).Inc()
}

func (r *PrometheusRegistry) RecordPredictionLatency(duration time.Duration) {
	PredictionLatency.Observe(duration.Seconds())
}

func (r *PrometheusRegistry) SetEvaluationMAE(endpoint string, mae float64) {
	EvaluationMAE.WithLabelValues(endpoint).Set(mae)
}

// NoOpRegistry implements MetricsRegistry with no-op methods for testing
type NoOpRegistry struct{}

// NewNoOpRegistry creates a new NoOpRegistry
func NewNoOpRegistry() *NoOpRegistry {
	return &NoOpRegistry{}
}

func (r *NoOpRegistry) RecordStage(stage, outcome string, duration time.Duration) {}
func (r *NoOpRegistry) IncrementJobPolls(kind, status string)                     {}
func (r *NoOpRegistry) AddExportedRows(partition string, n int)                   {}
func (r *NoOpRegistry) AddUpsampledRows(n int)                                    {}
func (r *NoOpRegistry) IncrementPredictionRequests(outcome string)                {}
func (r *NoOpRegistry) RecordPredictionLatency(duration time.Duration)            {}
func (r *NoOpRegistry) SetEvaluationMAE(endpoint string, mae float64)             {}
