// Package sink writes analysis rows to a batch output file.
//
// Rows go to a hidden partial file next to the destination. Commit renames
// it into place, so a finished output path never holds a truncated batch.
package sink

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/pierrec/lz4/v4"
)

// Sentinel errors.
var (
	ErrHeaderWritten = errors.New("header already written")
	ErrNoHeader      = errors.New("header not written")
	ErrClosed        = errors.New("sink closed")
)

const (
	partialPrefix = "."
	partialSuffix = ".partial"
	filePerm      = 0o644
)

// Options controls the output encoding.
type Options struct {
	// Compress frames the output with lz4. Rows are then durable only once
	// Commit returns.
	Compress bool
}

// CSV is an append-only CSV sink safe for concurrent WriteRow calls.
type CSV struct {
	path    string
	partial string

	mu     sync.Mutex
	file   *os.File
	lz     *lz4.Writer
	csv    *csv.Writer
	header bool
	closed bool
	rows   int
}

// PartialPath returns the temporary file used while path is being written.
func PartialPath(path string) string {
	return filepath.Join(filepath.Dir(path), partialPrefix+filepath.Base(path)+partialSuffix)
}

// Create opens a fresh partial file for path, truncating any leftover one.
func Create(path string, opts Options) (*CSV, error) {
	partial := PartialPath(path)

	file, err := os.OpenFile(partial, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, filePerm)
	if err != nil {
		return nil, fmt.Errorf("create output: %w", err)
	}

	s := &CSV{path: path, partial: partial, file: file}

	var w io.Writer = file
	if opts.Compress {
		s.lz = lz4.NewWriter(file)
		w = s.lz
	}

	s.csv = csv.NewWriter(w)

	return s, nil
}

// Path returns the final output path.
func (s *CSV) Path() string {
	return s.path
}

// WriteHeader writes the column header. It must be called once, first.
func (s *CSV) WriteHeader(cols []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	if s.header {
		return ErrHeaderWritten
	}

	err := s.write(cols)
	if err != nil {
		return err
	}

	s.header = true

	return nil
}

// WriteRow appends one row and flushes it to the file.
func (s *CSV) WriteRow(fields []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	if !s.header {
		return ErrNoHeader
	}

	err := s.write(fields)
	if err != nil {
		return err
	}

	s.rows++

	return nil
}

func (s *CSV) write(fields []string) error {
	err := s.csv.Write(fields)
	if err != nil {
		return fmt.Errorf("write row: %w", err)
	}

	s.csv.Flush()

	err = s.csv.Error()
	if err != nil {
		return fmt.Errorf("flush row: %w", err)
	}

	return nil
}

// Rows returns the number of data rows written.
func (s *CSV) Rows() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.rows
}

// Commit makes the output durable and moves it to its final path.
func (s *CSV) Commit() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	s.closed = true

	err := s.finish()
	if err != nil {
		_ = os.Remove(s.partial)

		return err
	}

	err = os.Rename(s.partial, s.path)
	if err != nil {
		_ = os.Remove(s.partial)

		return fmt.Errorf("rename output: %w", err)
	}

	// Best effort: not every filesystem supports fsync on a directory.
	_ = syncDir(filepath.Dir(s.path))

	return nil
}

func (s *CSV) finish() error {
	s.csv.Flush()

	err := s.csv.Error()
	if err != nil {
		_ = s.file.Close()

		return fmt.Errorf("flush output: %w", err)
	}

	if s.lz != nil {
		err = s.lz.Close()
		if err != nil {
			_ = s.file.Close()

			return fmt.Errorf("close lz4 frame: %w", err)
		}
	}

	err = s.file.Sync()
	if err != nil {
		_ = s.file.Close()

		return fmt.Errorf("sync output: %w", err)
	}

	err = s.file.Close()
	if err != nil {
		return fmt.Errorf("close output: %w", err)
	}

	return nil
}

// Abort discards the partial output. It is a no-op after Commit.
func (s *CSV) Abort() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true

	closeErr := s.file.Close()

	removeErr := os.Remove(s.partial)
	if errors.Is(removeErr, os.ErrNotExist) {
		removeErr = nil
	}

	return errors.Join(closeErr, removeErr)
}

// syncDir flushes a directory entry so a rename survives a crash.
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("open output dir: %w", err)
	}

	return errors.Join(d.Sync(), d.Close())
}
