package dataset

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/galinamarkova/beeswax-api/internal/models"
)

func indexedMatrix(n int) *models.Matrix {
	m := &models.Matrix{Columns: []string{"id"}}
	for i := 0; i < n; i++ {
		m.Labels = append(m.Labels, float64(i))
		m.Features = append(m.Features, []float64{float64(i)})
	}
	return m
}

func TestSplitDisjointAndComplete(t *testing.T) {
	m := indexedMatrix(101)
	s, err := Split(m, 0.7, 0.2, rand.New(rand.NewSource(3)))
	require.NoError(t, err)

	assert.Equal(t, 71, s.Train.Len())
	assert.Equal(t, 20, s.Validation.Len())
	assert.Equal(t, 10, s.Test.Len())

	seen := make(map[float64]bool)
	for _, part := range []*models.Matrix{s.Train, s.Validation, s.Test} {
		for _, row := range part.Features {
			assert.False(t, seen[row[0]], "row %v appears in two partitions", row[0])
			seen[row[0]] = true
		}
	}
	assert.Len(t, seen, 101)
}

func TestSplitDeterministicForSeed(t *testing.T) {
	m := indexedMatrix(30)
	a, err := Split(m, 0.5, 0.25, rand.New(rand.NewSource(9)))
	require.NoError(t, err)
	b, err := Split(m, 0.5, 0.25, rand.New(rand.NewSource(9)))
	require.NoError(t, err)
	assert.Equal(t, a.Train.Labels, b.Train.Labels)
}

func TestSplitInvalidFractions(t *testing.T) {
	m := indexedMatrix(10)
	cases := [][2]float64{{-0.1, 0.2}, {0.8, 0.3}, {1.2, 0}, {0.5, -1}}
	for _, c := range cases {
		_, err := Split(m, c[0], c[1], rand.New(rand.NewSource(1)))
		assert.ErrorIs(t, err, ErrInvalidFractions)
	}
}

func TestSplitAllTrain(t *testing.T) {
	s, err := Split(indexedMatrix(5), 1, 0, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	assert.Equal(t, 5, s.Train.Len())
	assert.Zero(t, s.Validation.Len())
	assert.Zero(t, s.Test.Len())
}
