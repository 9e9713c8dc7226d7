package observability

import (
	"sync"
	"time"
)

var _ MetricsRegistry = (*MockMetricsRegistry)(nil)

// MockMetricsRegistry records metric calls so tests can assert on them.
type MockMetricsRegistry struct {
	mu            sync.Mutex
	Stages        map[string]string // stage -> last outcome
	JobPolls      map[string]int    // "kind/status" -> count
	ExportedRows  map[string]int
	UpsampledRows int
	Predictions   map[string]int
	MAE           map[string]float64
}

// NewMockMetricsRegistry creates an empty recording registry.
func NewMockMetricsRegistry() *MockMetricsRegistry {
	return &MockMetricsRegistry{
		Stages:       make(map[string]string),
		JobPolls:     make(map[string]int),
		ExportedRows: make(map[string]int),
		Predictions:  make(map[string]int),
		MAE:          make(map[string]float64),
	}
}

func (m *MockMetricsRegistry) RecordStage(stage, outcome string, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Stages[stage] = outcome
}

func (m *MockMetricsRegistry) IncrementJobPolls(kind, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.JobPolls[kind+"/"+status]++
}

func (m *MockMetricsRegistry) AddExportedRows(partition string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ExportedRows[partition] += n
}

func (m *MockMetricsRegistry) AddUpsampledRows(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.UpsampledRows += n
}

func (m *MockMetricsRegistry) IncrementPredictionRequests(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Predictions[outcome]++
}

func (m *MockMetricsRegistry) RecordPredictionLatency(duration time.Duration) {}

func (m *MockMetricsRegistry) SetEvaluationMAE(endpoint string, mae float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.MAE[endpoint] = mae
}
