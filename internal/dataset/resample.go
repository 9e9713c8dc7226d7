package dataset

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"github.com/galinamarkova/beeswax-api/internal/models"
)

var (
	// ErrInvalidRatio is returned for a target minority ratio outside (0, 1).
	ErrInvalidRatio = errors.New("target ratio must be in (0, 1)")
	// ErrNoMinority is returned when there is no minority row to duplicate.
	ErrNoMinority = errors.New("no minority rows to upsample")
)

// maxUpsampleFactor bounds the rows Upsample may add to this multiple of the
// input size.
const maxUpsampleFactor = 100

// MinorityRatio returns the share of rows whose label exceeds threshold.
func MinorityRatio(m *models.Matrix, threshold float64) float64 {
	if m.Len() == 0 {
		return 0
	}
	return ratio(len(minorityIndices(m, threshold)), m.Len())
}

// Upsample duplicates minority rows, chosen uniformly with replacement, until
// they make up at least target of the result. A row is in the minority class
// when its label is above threshold. The returned matrix is shuffled; the
// second value is the number of rows added. A matrix already at or above the
// target is returned as an unshuffled copy.
func Upsample(m *models.Matrix, threshold, target float64, rng *rand.Rand) (*models.Matrix, int, error) {
	if target <= 0 || target >= 1 || math.IsNaN(target) {
		return nil, 0, fmt.Errorf("%w: %v", ErrInvalidRatio, target)
	}
	if err := m.Validate(); err != nil {
		return nil, 0, err
	}
	n := m.Len()
	minority := minorityIndices(m, threshold)
	if len(minority) == 0 {
		return nil, 0, ErrNoMinority
	}

	extra, err := additionalRows(n, len(minority), target)
	if err != nil {
		return nil, 0, err
	}
	all := make([]int, n, n+extra)
	for i := range all {
		all[i] = i
	}
	if extra == 0 {
		return m.Rows(all), 0, nil
	}
	for i := 0; i < extra; i++ {
		all = append(all, minority[rng.Intn(len(minority))])
	}
	rng.Shuffle(len(all), func(i, j int) { all[i], all[j] = all[j], all[i] })
	return m.Rows(all), extra, nil
}

// additionalRows is the smallest k with (minority+k)/(n+k) >= target. Targets
// needing more than maxUpsampleFactor*n rows are rejected.
func additionalRows(n, minority int, target float64) (int, error) {
	if ratio(minority, n) >= target {
		return 0, nil
	}
	estimate := math.Ceil((target*float64(n) - float64(minority)) / (1 - target))
	if limit := float64(maxUpsampleFactor) * float64(n); estimate > limit {
		return 0, fmt.Errorf("%w: %v needs %.0f extra rows for %d input rows (limit %.0f)", ErrInvalidRatio, target, estimate, n, limit)
	}
	k := int(estimate)
	if k < 0 {
		k = 0
	}
	// float rounding can leave the ratio a hair short
	for ratio(minority+k, n+k) < target {
		k++
	}
	for k > 0 && ratio(minority+k-1, n+k-1) >= target {
		k--
	}
	return k, nil
}

func ratio(part, total int) float64 {
	return float64(part) / float64(total)
}

func minorityIndices(m *models.Matrix, threshold float64) []int {
	var idx []int
	for i, label := range m.Labels {
		if label > threshold {
			idx = append(idx, i)
		}
	}
	return idx
}
