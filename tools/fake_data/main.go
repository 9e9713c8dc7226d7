// Command fake_data writes a synthetic dataset cache for local pipeline runs.
// Most contexts never convert, so the output has the class imbalance the
// resampler is meant to correct.
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/galinamarkova/beeswax-api/internal/config"
	"github.com/galinamarkova/beeswax-api/internal/dataset"
	"github.com/galinamarkova/beeswax-api/internal/models"
	"github.com/galinamarkova/beeswax-api/internal/observability"
)

var (
	rowCount = flag.Int("rows", 5000, "number of bidding contexts")
	baseRate = flag.Float64("base-rate", 0.08, "fraction of contexts with at least one conversion")
	seed     = flag.Int64("seed", time.Now().UnixNano(), "rng seed")
	out      = flag.String("out", "", "cache path (default DATASET_CACHE); a .sz suffix writes snappy")
)

var (
	inventorySources = []string{"adx", "mopub", "applovin", "unity", "ironsource"}
	platforms        = []string{"ios", "android"}
	bandwidths       = []string{"wifi", "4g", "3g", "unknown"}
	placementTypes   = []string{"banner", "interstitial", "native", "video"}
	bannerSizes      = [][2]int{{320, 50}, {300, 250}, {728, 90}, {320, 480}, {480, 320}}
	bundleWords      = []string{"puzzle", "racing", "news", "weather", "chess", "farm", "words", "shooter"}
)

func main() {
	flag.Parse()

	logger, err := observability.InitLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg := config.Load()
	path := *out
	if path == "" {
		path = cfg.DatasetCache
	}
	if *baseRate <= 0 || *baseRate >= 1 {
		logger.Fatal("base rate must be in (0, 1)", zap.Float64("base_rate", *baseRate))
	}

	r := rand.New(rand.NewSource(*seed))
	rows := generate(r, *rowCount, *baseRate)
	if err := dataset.WriteCache(path, rows); err != nil {
		logger.Fatal("write cache", zap.Error(err))
	}

	converting := 0
	for _, row := range rows {
		if row.Conversions > 0 {
			converting++
		}
	}
	logger.Info("wrote synthetic dataset",
		zap.String("path", path),
		zap.Int("rows", len(rows)),
		zap.Int("converting", converting),
		zap.Int64("seed", *seed))
}

// generate draws n contexts. A converting context's rate depends on its
// placement type and rewarded flag so a trained model has signal to find.
func generate(r *rand.Rand, n int, baseRate float64) []models.Row {
	bundles := make([]string, 0, 40)
	for i := 0; i < 40; i++ {
		bundles = append(bundles, fmt.Sprintf("com.%s.app%d", bundleWords[i%len(bundleWords)], i))
	}

	rows := make([]models.Row, n)
	for i := range rows {
		size := bannerSizes[r.Intn(len(bannerSizes))]
		row := models.Row{
			InventorySource: inventorySources[r.Intn(len(inventorySources))],
			AppBundle:       bundles[r.Intn(len(bundles))],
			Platform:        platforms[r.Intn(len(platforms))],
			BannerWidth:     size[0],
			BannerHeight:    size[1],
			PlacementType:   placementTypes[r.Intn(len(placementTypes))],
			Bandwidth:       bandwidths[r.Intn(len(bandwidths))],
			Rewarded:        r.Float64() < 0.2,
			Impressions:     int64(100 + r.Intn(9900)),
		}
		if r.Float64() < baseRate {
			rate := 0.002 + r.Float64()*0.004
			switch row.PlacementType {
			case "video":
				rate *= 3
			case "interstitial":
				rate *= 2
			}
			if row.Rewarded {
				rate *= 1.5
			}
			row.Conversions = int64(float64(row.Impressions)*rate) + 1
		}
		row.ConversionRate = float64(row.Conversions) / float64(row.Impressions)
		rows[i] = row
	}
	return rows
}
