package dataset

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/galinamarkova/beeswax-api/internal/models"
)

// ErrEmptyDataset is returned when neither the cache nor the source yield rows.
var ErrEmptyDataset = errors.New("dataset is empty")

// Loader reads the dataset from the local cache, falling back to the
// upstream source and populating the cache on a miss.
type Loader struct {
	CachePath string
	Source    Source // optional
	Refresh   bool   // ignore the cache and refetch from Source
	Logger    *zap.Logger
}

// Load returns the dataset rows.
func (l *Loader) Load(ctx context.Context) ([]models.Row, error) {
	logger := l.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	if !l.Refresh {
		rows, err := LoadCache(l.CachePath)
		switch {
		case err == nil:
			logger.Info("loaded dataset cache", zap.String("path", l.CachePath), zap.Int("rows", len(rows)))
			if len(rows) == 0 {
				return nil, ErrEmptyDataset
			}
			return rows, nil
		case errors.Is(err, ErrCacheMiss):
			if l.Source == nil {
				return nil, err
			}
			logger.Info("dataset cache miss, fetching from source", zap.String("path", l.CachePath))
		default:
			return nil, err
		}
	} else if l.Source == nil {
		return nil, fmt.Errorf("refresh requested without a source")
	}

	rows, err := l.Source.Fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch dataset: %w", err)
	}
	if len(rows) == 0 {
		return nil, ErrEmptyDataset
	}
	if err := WriteCache(l.CachePath, rows); err != nil {
		return nil, fmt.Errorf("write dataset cache: %w", err)
	}
	logger.Info("fetched dataset", zap.Int("rows", len(rows)), zap.String("cache", l.CachePath))
	return rows, nil
}
