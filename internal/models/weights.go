package models

import "time"

// FeatureWeight is a single coefficient from a fitted linear model.
type FeatureWeight struct {
	Name   string  `json:"name"`
	Group  string  `json:"group"` // Original categorical field the column was expanded from.
	Weight float64 `json:"weight"`
}

// GroupWeight aggregates the weights of every one-hot column of one field.
type GroupWeight struct {
	Group   string  `json:"group"`
	Count   int     `json:"count"`
	Sum     float64 `json:"sum"`
	MeanAbs float64 `json:"mean_abs"`
	MaxAbs  float64 `json:"max_abs"`
	StdDev  float64 `json:"std_dev"`
}

// Descriptor records the feature selection and the endpoint serving the model
// trained with it. It is written next to the exported data.
type Descriptor struct {
	RunID     string    `json:"run_id"`
	Features  []string  `json:"features"`
	Endpoint  string    `json:"endpoint,omitempty"`
	ModelJob  string    `json:"model_job,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// EvaluationResult summarises predictions against held-out labels.
type EvaluationResult struct {
	Endpoint       string  `json:"endpoint"`
	Rows           int     `json:"rows"`
	MAE            float64 `json:"mae"`
	MeanPrediction float64 `json:"mean_prediction"`
	MeanLabel      float64 `json:"mean_label"`
}
