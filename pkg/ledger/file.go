package ledger

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/Sumatoshi-tech/contractscan/pkg/persist"
)

const manifestSuffix = ".manifest"

// File keeps each manifest as YAML next to its output file:
// <output>.manifest.yaml.
type File struct {
	store *persist.Persister[Manifest]
}

// NewFile creates a filesystem ledger.
func NewFile() *File {
	return &File{store: persist.NewPersister[Manifest](persist.NewYAMLCodec())}
}

// ManifestPath returns where the manifest for output is stored.
func (f *File) ManifestPath(output string) string {
	return f.store.Path(filepath.Dir(output), filepath.Base(output)+manifestSuffix)
}

// Completed implements Ledger.
func (f *File) Completed(_ context.Context, key Key) (bool, error) {
	ok, err := f.store.Exists(filepath.Dir(key.Output), filepath.Base(key.Output)+manifestSuffix)
	if err != nil {
		return false, fmt.Errorf("check manifest: %w", err)
	}

	return ok, nil
}

// MarkComplete implements Ledger.
func (f *File) MarkComplete(_ context.Context, m Manifest) error {
	err := f.store.Save(filepath.Dir(m.Output), filepath.Base(m.Output)+manifestSuffix, &m)
	if err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}

	return nil
}

// Load reads the manifest stored for output.
func (f *File) Load(output string) (*Manifest, error) {
	m, err := f.store.Load(filepath.Dir(output), filepath.Base(output)+manifestSuffix)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	return m, nil
}

// Close implements io.Closer.
func (f *File) Close() error {
	return nil
}
