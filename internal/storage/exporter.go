package storage

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"

	"go.uber.org/zap"

	"github.com/galinamarkova/beeswax-api/internal/models"
	"github.com/galinamarkova/beeswax-api/internal/observability"
)

// Partition names, also used as training channel names.
const (
	PartitionTrain      = "train"
	PartitionValidation = "validation"
	PartitionTest       = "test"
)

const (
	contentTypeCSV  = "text/csv"
	contentTypeJSON = "application/json"
)

// ExportResult locates the exported partitions.
type ExportResult struct {
	RunID      string            `json:"run_id"`
	Prefix     string            `json:"prefix"`
	Channels   map[string]string `json:"channels"` // partition -> s3 prefix handed to the training job
	Objects    map[string]string `json:"objects"`  // partition -> object uri
	ColumnsURI string            `json:"columns_uri"`
	Columns    []string          `json:"columns"`
}

// Exporter writes split partitions to a blob store in the headerless,
// label-first CSV layout the linear learner reads.
type Exporter struct {
	Store   BlobStore
	Prefix  string
	Logger  *zap.Logger
	Metrics observability.MetricsRegistry
}

// RunPrefix returns the key prefix for a run.
func (e *Exporter) RunPrefix(runID string) string {
	return path.Join(e.Prefix, runID)
}

// Export uploads every non-empty partition of split and a columns manifest.
func (e *Exporter) Export(ctx context.Context, runID string, split models.Split) (*ExportResult, error) {
	if split.Train == nil || split.Train.Len() == 0 {
		return nil, fmt.Errorf("train partition is empty")
	}
	prefix := e.RunPrefix(runID)
	res := &ExportResult{
		RunID:    runID,
		Prefix:   e.Store.URI(prefix),
		Channels: make(map[string]string),
		Objects:  make(map[string]string),
		Columns:  split.Train.Columns,
	}

	parts := []struct {
		name string
		m    *models.Matrix
	}{
		{PartitionTrain, split.Train},
		{PartitionValidation, split.Validation},
		{PartitionTest, split.Test},
	}
	for _, p := range parts {
		if p.m == nil || p.m.Len() == 0 {
			continue
		}
		var buf bytes.Buffer
		if err := WriteCSV(&buf, p.m); err != nil {
			return nil, fmt.Errorf("encode %s: %w", p.name, err)
		}
		dir := path.Join(prefix, p.name)
		uri, err := e.Store.Put(ctx, path.Join(dir, p.name+".csv"), &buf, contentTypeCSV)
		if err != nil {
			return nil, err
		}
		res.Channels[p.name] = e.Store.URI(dir) + "/"
		res.Objects[p.name] = uri
		if e.Metrics != nil {
			e.Metrics.AddExportedRows(p.name, p.m.Len())
		}
		if e.Logger != nil {
			e.Logger.Info("exported partition",
				zap.String("run_id", runID),
				zap.String("partition", p.name),
				zap.Int("rows", p.m.Len()),
				zap.String("uri", uri))
		}
	}

	columns, err := json.Marshal(res.Columns)
	if err != nil {
		return nil, fmt.Errorf("marshal columns: %w", err)
	}
	res.ColumnsURI, err = e.Store.Put(ctx, path.Join(prefix, "columns.json"), bytes.NewReader(columns), contentTypeJSON)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// PutJSON stores v as JSON under the run prefix and returns its URI.
func (e *Exporter) PutJSON(ctx context.Context, runID, name string, v interface{}) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal %s: %w", name, err)
	}
	return e.Store.Put(ctx, path.Join(e.RunPrefix(runID), name), bytes.NewReader(data), contentTypeJSON)
}

// GetJSON decodes the JSON object name under the run prefix into v.
func (e *Exporter) GetJSON(ctx context.Context, runID, name string, v interface{}) error {
	uri := e.Store.URI(path.Join(e.RunPrefix(runID), name))
	rc, err := e.Store.Open(ctx, uri)
	if err != nil {
		return err
	}
	defer func() {
		if err := rc.Close(); err != nil && e.Logger != nil {
			e.Logger.Warn("failed to close object", zap.String("uri", uri), zap.Error(err))
		}
	}()
	if err := json.NewDecoder(rc).Decode(v); err != nil {
		return fmt.Errorf("decode %s: %w", uri, err)
	}
	return nil
}

// OpenMatrix reads an exported partition back into a matrix with columns.
func (e *Exporter) OpenMatrix(ctx context.Context, uri string, columns []string) (*models.Matrix, error) {
	rc, err := e.Store.Open(ctx, uri)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := rc.Close(); err != nil && e.Logger != nil {
			e.Logger.Warn("failed to close object", zap.String("uri", uri), zap.Error(err))
		}
	}()
	m, err := ReadCSV(rc, columns)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", uri, err)
	}
	return m, nil
}

// WriteCSV writes m without a header, one row per line, label first.
func WriteCSV(w io.Writer, m *models.Matrix) error {
	if err := m.Validate(); err != nil {
		return err
	}
	cw := csv.NewWriter(w)
	record := make([]string, m.Width()+1)
	for i, row := range m.Features {
		record[0] = FormatFloat(m.Labels[i])
		for j, v := range row {
			record[j+1] = FormatFloat(v)
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// FormatFloat renders v in the shortest form that parses back exactly.
func FormatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// ReadCSV parses the layout written by WriteCSV.
func ReadCSV(r io.Reader, columns []string) (*models.Matrix, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(columns) + 1
	cr.ReuseRecord = true

	m := &models.Matrix{Columns: append([]string(nil), columns...)}
	for line := 1; ; line++ {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return m, nil
		}
		if err != nil {
			return nil, err
		}
		values := make([]float64, len(record))
		for i, field := range record {
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, fmt.Errorf("line %d column %d: %w", line, i, err)
			}
			values[i] = v
		}
		m.Labels = append(m.Labels, values[0])
		m.Features = append(m.Features, values[1:])
	}
}
