package inspect

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
)

const (
	listMagic    uint64 = 0x112
	ndarrayV1    uint32 = 0xF993FAC8
	ndarrayV2    uint32 = 0xF993FAC9
	stypeDefault int32  = 0

	typeFloat32 int32 = 0
	typeFloat64 int32 = 1

	// guards against allocating from a corrupt header
	maxElements = 1 << 28
)

// ErrBadParams is returned for input that is not an NDArray list.
var ErrBadParams = errors.New("malformed params file")

// NDArray is a dense array decoded from a params file.
type NDArray struct {
	Shape []int64
	Data  []float64
}

// ReadParams decodes an NDArray list as written by the training container's
// model checkpoint. Only dense float32/float64 arrays are supported.
func ReadParams(r io.Reader) (map[string]NDArray, error) {
	var header [2]uint64
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrBadParams, err)
	}
	if header[0] != listMagic {
		return nil, fmt.Errorf("%w: magic %#x", ErrBadParams, header[0])
	}

	var count uint64
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, fmt.Errorf("%w: array count: %v", ErrBadParams, err)
	}
	if count > 1<<20 {
		return nil, fmt.Errorf("%w: %d arrays", ErrBadParams, count)
	}
	arrays := make([]NDArray, count)
	for i := range arrays {
		arr, err := readNDArray(r)
		if err != nil {
			return nil, fmt.Errorf("array %d: %w", i, err)
		}
		arrays[i] = arr
	}

	var nameCount uint64
	if err := binary.Read(r, binary.LittleEndian, &nameCount); err != nil {
		return nil, fmt.Errorf("%w: name count: %v", ErrBadParams, err)
	}
	if nameCount != count {
		return nil, fmt.Errorf("%w: %d names for %d arrays", ErrBadParams, nameCount, count)
	}
	out := make(map[string]NDArray, count)
	for i := range arrays {
		var n uint64
		if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
			return nil, fmt.Errorf("%w: name %d: %v", ErrBadParams, i, err)
		}
		if n > 1<<16 {
			return nil, fmt.Errorf("%w: name %d length %d", ErrBadParams, i, n)
		}
		name := make([]byte, n)
		if _, err := io.ReadFull(r, name); err != nil {
			return nil, fmt.Errorf("%w: name %d: %v", ErrBadParams, i, err)
		}
		out[string(name)] = arrays[i]
	}
	return out, nil
}

func readNDArray(r io.Reader) (NDArray, error) {
	var magic uint32
	if err := binary.Read(r, binary.LittleEndian, &magic); err != nil {
		return NDArray{}, fmt.Errorf("%w: array magic: %v", ErrBadParams, err)
	}
	switch magic {
	case ndarrayV2:
		var stype int32
		if err := binary.Read(r, binary.LittleEndian, &stype); err != nil {
			return NDArray{}, fmt.Errorf("%w: storage type: %v", ErrBadParams, err)
		}
		if stype != stypeDefault {
			return NDArray{}, fmt.Errorf("%w: sparse storage type %d", ErrBadParams, stype)
		}
	case ndarrayV1:
	default:
		return NDArray{}, fmt.Errorf("%w: array magic %#x", ErrBadParams, magic)
	}

	var ndim uint32
	if err := binary.Read(r, binary.LittleEndian, &ndim); err != nil {
		return NDArray{}, fmt.Errorf("%w: ndim: %v", ErrBadParams, err)
	}
	if ndim == 0 {
		return NDArray{}, nil
	}
	if ndim > 32 {
		return NDArray{}, fmt.Errorf("%w: ndim %d", ErrBadParams, ndim)
	}
	shape := make([]int64, ndim)
	if err := binary.Read(r, binary.LittleEndian, shape); err != nil {
		return NDArray{}, fmt.Errorf("%w: shape: %v", ErrBadParams, err)
	}
	size := int64(1)
	for _, d := range shape {
		if d < 0 || (d > 0 && size > maxElements/d) {
			return NDArray{}, fmt.Errorf("%w: shape %v", ErrBadParams, shape)
		}
		size *= d
	}

	// device type and id are irrelevant once loaded
	var device [2]int32
	if err := binary.Read(r, binary.LittleEndian, &device); err != nil {
		return NDArray{}, fmt.Errorf("%w: context: %v", ErrBadParams, err)
	}
	var typeFlag int32
	if err := binary.Read(r, binary.LittleEndian, &typeFlag); err != nil {
		return NDArray{}, fmt.Errorf("%w: dtype: %v", ErrBadParams, err)
	}

	data := make([]float64, size)
	switch typeFlag {
	case typeFloat32:
		raw := make([]uint32, size)
		if err := binary.Read(r, binary.LittleEndian, raw); err != nil {
			return NDArray{}, fmt.Errorf("%w: data: %v", ErrBadParams, err)
		}
		for i, bits := range raw {
			data[i] = float64(math.Float32frombits(bits))
		}
	case typeFloat64:
		if err := binary.Read(r, binary.LittleEndian, data); err != nil {
			return NDArray{}, fmt.Errorf("%w: data: %v", ErrBadParams, err)
		}
	default:
		return NDArray{}, fmt.Errorf("%w: unsupported dtype %d", ErrBadParams, typeFlag)
	}
	return NDArray{Shape: shape, Data: data}, nil
}

// findArray returns the array whose name ends with suffix, ignoring the
// "arg:" / "aux:" prefixes used by checkpoints.
func findArray(params map[string]NDArray, suffix string) (NDArray, bool) {
	for name, arr := range params {
		name = strings.TrimPrefix(strings.TrimPrefix(name, "arg:"), "aux:")
		if name == suffix {
			return arr, true
		}
	}
	return NDArray{}, false
}
