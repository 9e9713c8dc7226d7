package dataset

import (
	"errors"
	"fmt"
	"math/rand"

	"github.com/galinamarkova/beeswax-api/internal/models"
)

// ErrInvalidFractions is returned when split fractions are out of range.
var ErrInvalidFractions = errors.New("split fractions must be in [0, 1] and sum to at most 1")

// Split partitions the matrix rows into train, validation and test subsets
// by sampling without replacement. The test subset receives the remainder.
func Split(m *models.Matrix, trainFrac, validationFrac float64, rng *rand.Rand) (models.Split, error) {
	if trainFrac < 0 || validationFrac < 0 || trainFrac > 1 || validationFrac > 1 || trainFrac+validationFrac > 1 {
		return models.Split{}, fmt.Errorf("%w: train=%v validation=%v", ErrInvalidFractions, trainFrac, validationFrac)
	}
	if err := m.Validate(); err != nil {
		return models.Split{}, err
	}

	n := m.Len()
	perm := rng.Perm(n)
	nTrain := int(trainFrac*float64(n) + 0.5)
	nValidation := int(validationFrac*float64(n) + 0.5)
	if nTrain > n {
		nTrain = n
	}
	if nTrain+nValidation > n {
		nValidation = n - nTrain
	}

	return models.Split{
		Train:      m.Rows(perm[:nTrain]),
		Validation: m.Rows(perm[nTrain : nTrain+nValidation]),
		Test:       m.Rows(perm[nTrain+nValidation:]),
	}, nil
}
