package models

import "strconv"

// Row is a single aggregated ad-serving context with its observed conversion rate.
// Rows are produced by the dataset loader and are the unit the resampler and
// splitter operate on before encoding.
type Row struct {
	InventorySource string  `csv:"inventory_source" json:"inventory_source"` // Exchange or SSP that sold the impression.
	AppBundle       string  `csv:"app_bundle" json:"app_bundle"`             // App bundle identifier, e.g. com.example.game.
	Platform        string  `csv:"platform" json:"platform"`                 // Device platform (ios, android).
	BannerWidth     int     `csv:"banner_width" json:"banner_width"`
	BannerHeight    int     `csv:"banner_height" json:"banner_height"`
	PlacementType   string  `csv:"placement_type" json:"placement_type"` // banner, interstitial, native, video.
	Bandwidth       string  `csv:"bandwidth" json:"bandwidth"`           // Connection type reported in the bid request.
	Rewarded        bool    `csv:"rewarded" json:"rewarded"`
	Impressions     int64   `csv:"impressions" json:"impressions"`
	Conversions     int64   `csv:"conversions" json:"conversions"`
	ConversionRate  float64 `csv:"conversion_rate" json:"conversion_rate"` // Label: conversions / impressions.
}

// BannerSize renders the banner dimensions as a single categorical value.
func (r Row) BannerSize() string {
	return strconv.Itoa(r.BannerWidth) + "x" + strconv.Itoa(r.BannerHeight)
}
