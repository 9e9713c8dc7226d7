package inspect

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadParams(t *testing.T) {
	data := encodeParams(
		testArray{name: "arg:fc0_weight", shape: []int64{3, 1}, data: []float64{0.5, -0.25, 2}},
		testArray{name: "arg:fc0_bias", shape: []int64{1}, data: []float64{0.125}, float64: true, v1: true},
	)

	params, err := ReadParams(bytes.NewReader(data))
	require.NoError(t, err)
	require.Len(t, params, 2)

	w := params["arg:fc0_weight"]
	assert.Equal(t, []int64{3, 1}, w.Shape)
	assert.Equal(t, []float64{0.5, -0.25, 2}, w.Data)
	assert.Equal(t, []float64{0.125}, params["arg:fc0_bias"].Data)

	arr, ok := findArray(params, "fc0_bias")
	require.True(t, ok)
	assert.Equal(t, []int64{1}, arr.Shape)
}

func TestReadParamsErrors(t *testing.T) {
	good := encodeParams(testArray{name: "fc0_weight", shape: []int64{2}, data: []float64{1, 2}})

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"bad magic", append([]byte{0x13}, good[1:]...)},
		{"truncated", good[:len(good)-4]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadParams(bytes.NewReader(tt.data))
			assert.ErrorIs(t, err, ErrBadParams)
		})
	}
}

func TestExtractParams(t *testing.T) {
	params := encodeParams(testArray{name: "arg:fc0_weight", shape: []int64{2, 1}, data: []float64{1, -1}})
	artifact := buildArtifact(t, params)

	got, err := ExtractParams(bytes.NewReader(artifact))
	require.NoError(t, err)
	assert.Equal(t, []float64{1, -1}, got["arg:fc0_weight"].Data)

	_, err = ExtractParams(bytes.NewReader([]byte("not gzip")))
	assert.Error(t, err)
}
