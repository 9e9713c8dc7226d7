package inspect

import (
	"archive/tar"
	"bytes"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
)

// modelEntry is the archive member holding the zipped checkpoint.
const modelEntry = "model_algo-1"

// maxModelSize bounds the checkpoint read into memory.
const maxModelSize = 512 << 20

// ErrNoModel is returned when an artifact does not contain a checkpoint.
var ErrNoModel = errors.New("model checkpoint not found in artifact")

// ExtractParams reads a model.tar.gz stream and decodes the params file of
// the checkpoint inside it.
func ExtractParams(r io.Reader) (map[string]NDArray, error) {
	zr, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("open gzip: %w", err)
	}
	defer zr.Close()

	tr := tar.NewReader(zr)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil, ErrNoModel
		}
		if err != nil {
			return nil, fmt.Errorf("read tar: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg || path.Base(hdr.Name) != modelEntry {
			continue
		}
		if hdr.Size > maxModelSize {
			return nil, fmt.Errorf("%s is %d bytes", modelEntry, hdr.Size)
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", modelEntry, err)
		}
		return paramsFromZip(data)
	}
}

func paramsFromZip(data []byte) (map[string]NDArray, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", modelEntry, err)
	}
	for _, f := range zr.File {
		if !strings.HasSuffix(f.Name, ".params") {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", f.Name, err)
		}
		params, err := ReadParams(rc)
		if cerr := rc.Close(); err == nil && cerr != nil {
			err = cerr
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", f.Name, err)
		}
		return params, nil
	}
	return nil, ErrNoModel
}
