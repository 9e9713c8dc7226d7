package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/galinamarkova/beeswax-api/internal/awsutil"
	"github.com/galinamarkova/beeswax-api/internal/inspect"
	"github.com/galinamarkova/beeswax-api/internal/models"
	"github.com/galinamarkova/beeswax-api/internal/storage"
	"github.com/galinamarkova/beeswax-api/internal/tuning"
)

const (
	stateObject      = "state.json"
	descriptorObject = "descriptor.json"
	inspectionObject = "inspection.json"
	evaluationObject = "evaluation.json"
)

// State carries the outputs of each stage of a run. It is stored next to the
// exported data so later stages can run in a separate invocation.
type State struct {
	RunID      string                   `json:"run_id"`
	Columns    []string                 `json:"columns"`
	Rows       int                      `json:"rows"`
	Upsampled  int                      `json:"upsampled"`
	Export     *storage.ExportResult    `json:"export,omitempty"`
	Training   *models.Job              `json:"training,omitempty"`
	Tuning     *tuning.SearchResult     `json:"tuning,omitempty"`
	Model      *models.Job              `json:"model,omitempty"` // job whose artifact is inspected and deployed
	Inspection *Inspection              `json:"inspection,omitempty"`
	Endpoint   *models.Job              `json:"endpoint,omitempty"`
	Evaluation *models.EvaluationResult `json:"evaluation,omitempty"`
	Descriptor *models.Descriptor       `json:"descriptor,omitempty"`
}

// Inspection is the per-feature and per-group view of the model weights.
type Inspection struct {
	Weights   []models.FeatureWeight `json:"weights"`
	Groups    []models.GroupWeight   `json:"groups"`
	Selection inspect.Selection      `json:"selection"`
}

// ReadDescriptor loads a descriptor from a local path or an s3 uri.
func ReadDescriptor(ctx context.Context, store storage.BlobStore, location string) (*models.Descriptor, error) {
	data, err := readLocation(ctx, store, location)
	if err != nil {
		return nil, fmt.Errorf("read descriptor: %w", err)
	}
	var d models.Descriptor
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("decode descriptor %s: %w", location, err)
	}
	if len(d.Features) == 0 {
		return nil, fmt.Errorf("descriptor %s lists no features", location)
	}
	return &d, nil
}

func readLocation(ctx context.Context, store storage.BlobStore, location string) ([]byte, error) {
	if !awsutil.IsS3URI(location) {
		return os.ReadFile(location)
	}
	if store == nil {
		return nil, fmt.Errorf("%s: no blob store configured", location)
	}
	rc, err := store.Open(ctx, location)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()
	return io.ReadAll(rc)
}

// WriteDescriptor writes d as indented JSON to path, creating parent dirs.
func WriteDescriptor(path string, d models.Descriptor) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create descriptor dir: %w", err)
		}
	}
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal descriptor: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write descriptor: %w", err)
	}
	return nil
}
