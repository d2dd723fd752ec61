package record

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pierrec/lz4/v4"
)

// lz4Extension marks inputs stored as lz4 frames.
const lz4Extension = ".lz4"

// ErrNoHeader is returned when an input file is empty.
var ErrNoHeader = errors.New("input has no header line")

// Reader pulls records from a CSV input one at a time. It never reads ahead
// of the caller, so not calling Next is how the pipeline pauses the source.
type Reader struct {
	closer io.Closer
	csv    *csv.Reader
	header bool
}

// Open opens an input file. Paths ending in ".lz4" are decompressed on the fly.
func Open(path string) (*Reader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open input: %w", err)
	}

	var src io.Reader = file
	if strings.HasSuffix(path, lz4Extension) {
		src = lz4.NewReader(file)
	}

	rd := NewReader(src)
	rd.closer = file

	return rd, nil
}

// NewReader wraps an arbitrary stream.
func NewReader(r io.Reader) *Reader {
	cr := csv.NewReader(r)
	// Field count is checked by Schema.Item so a bad row reports its line.
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = false

	return &Reader{csv: cr}
}

// Header reads the first line. It must be called exactly once, before Next.
func (r *Reader) Header() ([]string, error) {
	if r.header {
		return nil, errors.New("header already read")
	}

	r.header = true

	fields, err := r.csv.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrNoHeader
	}

	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	return fields, nil
}

// Next returns the next record and its line number, or io.EOF at the end.
func (r *Reader) Next() ([]string, int, error) {
	fields, err := r.csv.Read()
	if errors.Is(err, io.EOF) {
		return nil, 0, io.EOF
	}

	if err != nil {
		return nil, 0, fmt.Errorf("read record: %w", err)
	}

	line, _ := r.csv.FieldPos(0)

	return fields, line, nil
}

// Close releases the underlying file, if any.
func (r *Reader) Close() error {
	if r.closer == nil {
		return nil
	}

	err := r.closer.Close()
	if err != nil {
		return fmt.Errorf("close input: %w", err)
	}

	return nil
}
