package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// duration of each pipeline stage in seconds
	StageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cvr_pipeline_stage_duration_seconds",
			Help:    "Histogram of pipeline stage durations",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 14),
		},
		[]string{"stage"},
	)

	// stage executions labelled by outcome
	StageRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cvr_pipeline_stage_runs_total",
			Help: "Total pipeline stage executions",
		},
		[]string{"stage", "outcome"},
	)

	// status observations while polling remote jobs
	JobPolls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cvr_pipeline_job_polls_total",
			Help: "Total remote job status polls",
		},
		[]string{"kind", "status"},
	)

	// rows written to the blob store per partition
	ExportedRows = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cvr_pipeline_exported_rows_total",
			Help: "Total rows exported per partition",
		},
		[]string{"partition"},
	)

	// rows duplicated by the resampler
	UpsampledRows = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cvr_pipeline_upsampled_rows_total",
			Help: "Total minority rows duplicated by upsampling",
		},
	)

	// inference requests labelled by outcome
	PredictionRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cvr_pipeline_prediction_requests_total",
			Help: "Total inference endpoint requests",
		},
		[]string{"outcome"},
	)

	// latency of inference endpoint calls
	PredictionLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cvr_pipeline_prediction_duration_seconds",
			Help:    "Duration of inference endpoint requests",
			Buckets: prometheus.DefBuckets,
		},
	)

	// last mean absolute error measured per endpoint
	EvaluationMAE = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cvr_pipeline_evaluation_mae",
			Help: "Mean absolute error of the last evaluation",
		},
		[]string{"endpoint"},
	)
)

func init() {
	prometheus.MustRegister(
		StageDuration,
		StageRuns,
		JobPolls,
		ExportedRows,
		UpsampledRows,
		PredictionRequests,
		PredictionLatency,
		EvaluationMAE,
	)
}
