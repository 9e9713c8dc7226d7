package inspect

import (
	"bytes"
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/galinamarkova/beeswax-api/internal/models"
	"github.com/galinamarkova/beeswax-api/internal/storage"
)

var testColumns = []string{
	"platform_android",
	"platform_ios",
	"banner_size_320x50",
	"app_bundle_com.game",
	"rewarded",
}

func TestInspectorWeights(t *testing.T) {
	store := storage.NewMemoryStore("b")
	params := encodeParams(testArray{
		name:  "arg:fc0_weight",
		shape: []int64{5, 1},
		data:  []float64{0.5, -0.75, 0.001, 0.002, 0.25},
	})
	uri, err := store.Put(context.Background(), "out/job/output/model.tar.gz", bytes.NewReader(buildArtifact(t, params)), "application/gzip")
	require.NoError(t, err)

	in := &Inspector{Store: store, Logger: zap.NewNop()}
	weights, err := in.Weights(context.Background(), uri, testColumns)
	require.NoError(t, err)

	require.Len(t, weights, 5)
	assert.Equal(t, models.FeatureWeight{Name: "platform_ios", Group: "platform", Weight: -0.75}, weights[1])
	assert.Equal(t, "banner_size", weights[2].Group)
	assert.Equal(t, "rewarded", weights[4].Group)

	_, err = in.Weights(context.Background(), uri, testColumns[:3])
	assert.ErrorContains(t, err, "5 weights but 3 columns")

	_, err = in.Weights(context.Background(), "s3://b/missing", testColumns)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func testWeights() []models.FeatureWeight {
	return []models.FeatureWeight{
		{Name: "platform_android", Group: "platform", Weight: 0.5},
		{Name: "platform_ios", Group: "platform", Weight: -0.75},
		{Name: "banner_size_320x50", Group: "banner_size", Weight: 0.001},
		{Name: "banner_size_728x90", Group: "banner_size", Weight: -0.003},
		{Name: "rewarded", Group: "rewarded", Weight: 0.25},
	}
}

func TestGroupWeights(t *testing.T) {
	groups, err := GroupWeights(testWeights())
	require.NoError(t, err)

	require.Len(t, groups, 3)
	assert.Equal(t, []string{"platform", "rewarded", "banner_size"},
		[]string{groups[0].Group, groups[1].Group, groups[2].Group})

	p := groups[0]
	assert.Equal(t, 2, p.Count)
	assert.InDelta(t, -0.25, p.Sum, 1e-12)
	assert.InDelta(t, 0.625, p.MeanAbs, 1e-12)
	assert.InDelta(t, 0.75, p.MaxAbs, 1e-12)
	assert.InDelta(t, 0.625, p.StdDev, 1e-12)

	assert.Equal(t, 0.0, groups[1].StdDev)
	assert.False(t, math.IsNaN(groups[2].MeanAbs))
}

func TestSelectFeatures(t *testing.T) {
	groups, err := GroupWeights(testWeights())
	require.NoError(t, err)

	sel := SelectFeatures(groups, 0.01)
	assert.Equal(t, []string{"platform", "rewarded"}, sel.Kept)
	assert.Equal(t, []string{"banner_size"}, sel.Dropped)
	assert.Equal(t, []string{"platform_android", "platform_ios", "rewarded"}, sel.Columns(testWeights()))

	all := SelectFeatures(groups, 0)
	assert.Len(t, all.Kept, 3)
	assert.Empty(t, all.Dropped)
}
