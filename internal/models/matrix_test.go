package models

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMatrix() *Matrix {
	return &Matrix{
		Columns: []string{"platform_android", "platform_ios", "rewarded"},
		Labels:  []float64{0, 0.5, 0.1},
		Features: [][]float64{
			{1, 0, 0},
			{0, 1, 1},
			{1, 0, 1},
		},
	}
}

func TestMatrixValidate(t *testing.T) {
	m := testMatrix()
	require.NoError(t, m.Validate())

	m.Labels = m.Labels[:2]
	err := m.Validate()
	if !errors.Is(err, ErrNoLabel) {
		t.Fatalf("expected ErrNoLabel, got %v", err)
	}

	m = testMatrix()
	m.Features[1] = []float64{1}
	assert.Error(t, m.Validate())

	var nilMatrix *Matrix
	assert.ErrorIs(t, nilMatrix.Validate(), ErrNoLabel)
	assert.Equal(t, 0, nilMatrix.Len())
}

func TestMatrixRows(t *testing.T) {
	m := testMatrix()
	sub := m.Rows([]int{2, 2, 0})

	assert.Equal(t, 3, sub.Len())
	assert.Equal(t, []float64{0.1, 0.1, 0}, sub.Labels)
	assert.Equal(t, m.Features[2], sub.Features[0])
	assert.Equal(t, m.Columns, sub.Columns)
}

func TestMatrixSelectColumns(t *testing.T) {
	m := testMatrix()
	out, err := m.SelectColumns([]string{"rewarded", "platform_ios"})
	require.NoError(t, err)

	assert.Equal(t, []string{"rewarded", "platform_ios"}, out.Columns)
	assert.Equal(t, []float64{1, 1}, out.Features[1])
	require.NoError(t, out.Validate())

	_, err = m.SelectColumns([]string{"missing"})
	assert.Error(t, err)
}

func TestJobStatus(t *testing.T) {
	tests := []struct {
		status    JobStatus
		terminal  bool
		succeeded bool
	}{
		{JobStatusInProgress, false, false},
		{JobStatusStopping, false, false},
		{JobStatusCreating, false, false},
		{JobStatusCompleted, true, true},
		{JobStatusInService, true, true},
		{JobStatusFailed, true, false},
		{JobStatusStopped, true, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.terminal, tt.status.Terminal())
			assert.Equal(t, tt.succeeded, tt.status.Succeeded())
		})
	}
}

func TestRowBannerSize(t *testing.T) {
	r := Row{BannerWidth: 320, BannerHeight: 50}
	assert.Equal(t, "320x50", r.BannerSize())
}
