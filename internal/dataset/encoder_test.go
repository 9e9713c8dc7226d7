package dataset

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/galinamarkova/beeswax-api/internal/models"
)

func TestEncoderColumns(t *testing.T) {
	rows := []models.Row{
		{InventorySource: "adx", AppBundle: "com.b", Platform: "ios", BannerWidth: 320, BannerHeight: 50, PlacementType: "banner", Bandwidth: "wifi", Rewarded: true, ConversionRate: 0.1},
		{InventorySource: "MoPub", AppBundle: "com.a", Platform: "android", BannerWidth: 300, BannerHeight: 250, PlacementType: "", Bandwidth: "4g"},
	}
	enc := NewEncoder(rows)

	want := []string{
		"inventory_source_adx", "inventory_source_mopub",
		"app_bundle_com.a", "app_bundle_com.b",
		"platform_android", "platform_ios",
		"banner_size_300x250", "banner_size_320x50",
		"placement_type_banner", "placement_type_unknown",
		"bandwidth_4g", "bandwidth_wifi",
		"rewarded",
	}
	assert.Equal(t, want, enc.Columns())

	m := enc.Encode(rows)
	require.NoError(t, m.Validate())
	assert.Equal(t, []float64{0.1, 0}, m.Labels)
	assert.Equal(t, []float64{1, 0, 0, 1, 0, 1, 0, 1, 1, 0, 0, 1, 1}, m.Features[0])
	assert.Equal(t, []float64{0, 1, 1, 0, 1, 0, 1, 0, 0, 1, 1, 0, 0}, m.Features[1])
}

func TestEncoderUnknownValue(t *testing.T) {
	enc := NewEncoder([]models.Row{{Platform: "ios"}})
	m := enc.Encode([]models.Row{{Platform: "windows"}})

	idx := m.ColumnIndex("platform_ios")
	require.GreaterOrEqual(t, idx, 0)
	assert.Zero(t, m.Features[0][idx])
}

func TestEncoderDrop(t *testing.T) {
	enc := NewEncoder(sampleRows(50, 3))

	dropped, err := enc.Drop(FieldAppBundle, FieldRewarded)
	require.NoError(t, err)
	for _, c := range dropped.Columns() {
		assert.NotEqual(t, FieldAppBundle, GroupOf(c))
		assert.NotEqual(t, FieldRewarded, c)
	}
	assert.Less(t, len(dropped.Columns()), len(enc.Columns()))

	_, err = enc.Drop("not_a_field")
	assert.Error(t, err)
}

func TestEncoderForColumns(t *testing.T) {
	enc := NewEncoderForColumns([]string{"platform_ios", "rewarded"})
	m := enc.Encode([]models.Row{{Platform: "ios", Rewarded: true}, {Platform: "android"}})

	assert.Equal(t, [][]float64{{1, 1}, {0, 0}}, m.Features)
}

func TestEncoderKeep(t *testing.T) {
	enc := NewEncoder([]models.Row{{Platform: "ios"}, {Platform: "android"}})

	kept, err := enc.Keep([]string{"rewarded", "platform_ios"})
	require.NoError(t, err)
	assert.Equal(t, []string{"rewarded", "platform_ios"}, kept.Columns())

	_, err = enc.Keep([]string{"platform_windows"})
	assert.Error(t, err)
}

func TestGroupOf(t *testing.T) {
	tests := map[string]string{
		"inventory_source_adx":      FieldInventorySource,
		"app_bundle_com.some_thing": FieldAppBundle,
		"banner_size_320x50":        FieldBannerSize,
		"rewarded":                  FieldRewarded,
		"bandwidth_wifi":            FieldBandwidth,
		"mystery_col":               "mystery_col",
	}
	for column, want := range tests {
		assert.Equal(t, want, GroupOf(column), column)
	}
}
