package dataset

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/gocarina/gocsv"
	"github.com/golang/snappy"

	"github.com/galinamarkova/beeswax-api/internal/models"
)

// ErrCacheMiss is returned when the local dataset cache does not exist.
var ErrCacheMiss = errors.New("dataset cache not found")

// snappySuffix marks a cache file as snappy framed.
const snappySuffix = ".sz"

// LoadCache reads rows previously written by WriteCache.
func LoadCache(path string) ([]models.Row, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrCacheMiss, path)
		}
		return nil, fmt.Errorf("open cache: %w", err)
	}
	defer func() { _ = f.Close() }()

	var r io.Reader = bufio.NewReader(f)
	if strings.HasSuffix(path, snappySuffix) {
		r = snappy.NewReader(r)
	}
	return ReadRows(r)
}

// ReadRows decodes CSV rows with a header line.
func ReadRows(r io.Reader) ([]models.Row, error) {
	var rows []models.Row
	if err := gocsv.Unmarshal(r, &rows); err != nil {
		return nil, fmt.Errorf("decode rows: %w", err)
	}
	return rows, nil
}

// WriteCache stores rows at path, creating parent directories as needed.
// The file is written to a temporary name first and renamed into place.
func WriteCache(path string, rows []models.Row) (err error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create cache dir: %w", err)
		}
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create cache: %w", err)
	}
	defer func() {
		if err != nil {
			_ = f.Close()
			_ = os.Remove(tmp)
		}
	}()

	bw := bufio.NewWriter(f)
	var w io.Writer = bw
	var sw *snappy.Writer
	if strings.HasSuffix(path, snappySuffix) {
		sw = snappy.NewBufferedWriter(bw)
		w = sw
	}
	if err := WriteRows(w, rows); err != nil {
		return err
	}
	if sw != nil {
		if err := sw.Close(); err != nil {
			return fmt.Errorf("flush snappy: %w", err)
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("flush cache: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close cache: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename cache: %w", err)
	}
	return nil
}

// WriteRows encodes rows as CSV with a header line.
func WriteRows(w io.Writer, rows []models.Row) error {
	if err := gocsv.Marshal(&rows, w); err != nil {
		return fmt.Errorf("encode rows: %w", err)
	}
	return nil
}
