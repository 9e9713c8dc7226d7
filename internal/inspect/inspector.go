package inspect

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/montanaflynn/stats"
	"go.uber.org/zap"

	"github.com/galinamarkova/beeswax-api/internal/dataset"
	"github.com/galinamarkova/beeswax-api/internal/models"
	"github.com/galinamarkova/beeswax-api/internal/storage"
)

// weightArray is the name of the linear layer's coefficient vector.
const weightArray = "fc0_weight"

// Inspector reads fitted coefficients out of training artifacts.
type Inspector struct {
	Store  storage.BlobStore
	Logger *zap.Logger
}

// Weights downloads the artifact at artifactURI and pairs each coefficient
// with its column name. columns must be the exported column order.
func (i *Inspector) Weights(ctx context.Context, artifactURI string, columns []string) ([]models.FeatureWeight, error) {
	rc, err := i.Store.Open(ctx, artifactURI)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := rc.Close(); err != nil && i.Logger != nil {
			i.Logger.Warn("failed to close artifact", zap.String("uri", artifactURI), zap.Error(err))
		}
	}()

	params, err := ExtractParams(rc)
	if err != nil {
		return nil, fmt.Errorf("artifact %s: %w", artifactURI, err)
	}
	return WeightsFromParams(params, columns)
}

// WeightsFromParams maps the coefficient vector in params onto columns.
func WeightsFromParams(params map[string]NDArray, columns []string) ([]models.FeatureWeight, error) {
	arr, ok := findArray(params, weightArray)
	if !ok {
		return nil, fmt.Errorf("%w: no %s array", ErrBadParams, weightArray)
	}
	if len(arr.Data) != len(columns) {
		return nil, fmt.Errorf("model has %d weights but %d columns were exported", len(arr.Data), len(columns))
	}
	out := make([]models.FeatureWeight, len(columns))
	for j, c := range columns {
		out[j] = models.FeatureWeight{Name: c, Group: dataset.GroupOf(c), Weight: arr.Data[j]}
	}
	return out, nil
}

// GroupWeights aggregates weights by group, largest MaxAbs first.
func GroupWeights(weights []models.FeatureWeight) ([]models.GroupWeight, error) {
	byGroup := make(map[string][]float64)
	var order []string
	for _, w := range weights {
		if _, ok := byGroup[w.Group]; !ok {
			order = append(order, w.Group)
		}
		byGroup[w.Group] = append(byGroup[w.Group], w.Weight)
	}

	out := make([]models.GroupWeight, 0, len(order))
	for _, g := range order {
		values := stats.Float64Data(byGroup[g])
		abs := make(stats.Float64Data, len(values))
		for i, v := range values {
			abs[i] = math.Abs(v)
		}

		sum, err := values.Sum()
		if err != nil {
			return nil, fmt.Errorf("group %s: %w", g, err)
		}
		meanAbs, err := abs.Mean()
		if err != nil {
			return nil, fmt.Errorf("group %s: %w", g, err)
		}
		maxAbs, err := abs.Max()
		if err != nil {
			return nil, fmt.Errorf("group %s: %w", g, err)
		}
		stdDev, err := values.StandardDeviation()
		if err != nil {
			return nil, fmt.Errorf("group %s: %w", g, err)
		}
		out = append(out, models.GroupWeight{
			Group:   g,
			Count:   len(values),
			Sum:     sum,
			MeanAbs: meanAbs,
			MaxAbs:  maxAbs,
			StdDev:  stdDev,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].MaxAbs != out[j].MaxAbs {
			return out[i].MaxAbs > out[j].MaxAbs
		}
		return out[i].Group < out[j].Group
	})
	return out, nil
}

// Selection is the outcome of thresholding group weights.
type Selection struct {
	Threshold float64  `json:"threshold"`
	Kept      []string `json:"kept"`
	Dropped   []string `json:"dropped"`
}

// SelectFeatures keeps every group whose largest absolute weight reaches
// threshold.
func SelectFeatures(groups []models.GroupWeight, threshold float64) Selection {
	sel := Selection{Threshold: threshold}
	for _, g := range groups {
		if g.MaxAbs >= threshold {
			sel.Kept = append(sel.Kept, g.Group)
		} else {
			sel.Dropped = append(sel.Dropped, g.Group)
		}
	}
	return sel
}

// Columns returns the columns of weights that belong to a kept group, in
// their original order.
func (s Selection) Columns(weights []models.FeatureWeight) []string {
	kept := make(map[string]bool, len(s.Kept))
	for _, g := range s.Kept {
		kept[g] = true
	}
	var out []string
	for _, w := range weights {
		if kept[w.Group] {
			out = append(out, w.Name)
		}
	}
	return out
}
