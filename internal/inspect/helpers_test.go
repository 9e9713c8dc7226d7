package inspect

import (
	"archive/tar"
	"bytes"
	"encoding/binary"
	"math"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/require"
)

type testArray struct {
	name    string
	shape   []int64
	data    []float64
	float64 bool
	v1      bool
}

func le(buf *bytes.Buffer, v interface{}) {
	if err := binary.Write(buf, binary.LittleEndian, v); err != nil {
		panic(err)
	}
}

// encodeParams writes arrays in the checkpoint list layout.
func encodeParams(arrays ...testArray) []byte {
	var buf bytes.Buffer
	le(&buf, listMagic)
	le(&buf, uint64(0))
	le(&buf, uint64(len(arrays)))
	for _, a := range arrays {
		if a.v1 {
			le(&buf, ndarrayV1)
		} else {
			le(&buf, ndarrayV2)
			le(&buf, stypeDefault)
		}
		le(&buf, uint32(len(a.shape)))
		le(&buf, a.shape)
		le(&buf, [2]int32{1, 0})
		if a.float64 {
			le(&buf, typeFloat64)
			le(&buf, a.data)
		} else {
			le(&buf, typeFloat32)
			for _, v := range a.data {
				le(&buf, math.Float32bits(float32(v)))
			}
		}
	}
	le(&buf, uint64(len(arrays)))
	for _, a := range arrays {
		le(&buf, uint64(len(a.name)))
		buf.WriteString(a.name)
	}
	return buf.Bytes()
}

// buildArtifact wraps params the way the training container packages its output.
func buildArtifact(t *testing.T, params []byte) []byte {
	t.Helper()

	var zbuf bytes.Buffer
	zw := zip.NewWriter(&zbuf)
	f, err := zw.Create("mx-mod-0000.params")
	require.NoError(t, err)
	_, err = f.Write(params)
	require.NoError(t, err)
	f, err = zw.Create("mx-mod-symbol.json")
	require.NoError(t, err)
	_, err = f.Write([]byte("{}"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	var out bytes.Buffer
	gw := gzip.NewWriter(&out)
	tw := tar.NewWriter(gw)
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "model_algo-1", Mode: 0o644, Size: int64(zbuf.Len()), Typeflag: tar.TypeReg}))
	_, err = tw.Write(zbuf.Bytes())
	require.NoError(t, err)
	require.NoError(t, tw.Close())
	require.NoError(t, gw.Close())
	return out.Bytes()
}
