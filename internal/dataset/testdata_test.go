package dataset

import (
	"fmt"
	"math/rand"

	"github.com/galinamarkova/beeswax-api/internal/models"
)

// sampleRows builds n rows where roughly one in ten converts.
func sampleRows(n int, seed int64) []models.Row {
	rng := rand.New(rand.NewSource(seed))
	platforms := []string{"ios", "android"}
	sources := []string{"mopub", "adx", "appnexus"}
	rows := make([]models.Row, n)
	for i := range rows {
		r := models.Row{
			InventorySource: sources[rng.Intn(len(sources))],
			AppBundle:       fmt.Sprintf("com.example.app%d", rng.Intn(4)),
			Platform:        platforms[rng.Intn(len(platforms))],
			BannerWidth:     320,
			BannerHeight:    50,
			PlacementType:   "banner",
			Bandwidth:       "wifi",
			Rewarded:        rng.Intn(2) == 0,
			Impressions:     1000,
		}
		if i%10 == 0 {
			r.Conversions = int64(1 + rng.Intn(20))
		}
		rows[i] = withRate(r, r.Impressions, r.Conversions)
	}
	return rows
}
