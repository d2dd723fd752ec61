package persist

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

const stateFilePerm = 0o644

// StatePath returns the file SaveState writes for basename.
func StatePath(dir, basename string, codec Codec) string {
	return filepath.Join(dir, basename+codec.Extension())
}

// SaveState atomically writes state to dir/basename+ext. Readers see either
// the previous file or the complete new one.
func SaveState(dir, basename string, codec Codec, state any) error {
	path := StatePath(dir, basename, codec)

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create state file: %w", err)
	}

	tmpPath := tmp.Name()

	err = codec.Encode(tmp, state)
	if err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)

		return fmt.Errorf("encode state: %w", err)
	}

	err = tmp.Sync()
	if err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)

		return fmt.Errorf("sync state file: %w", err)
	}

	err = tmp.Close()
	if err != nil {
		_ = os.Remove(tmpPath)

		return fmt.Errorf("close state file: %w", err)
	}

	_ = os.Chmod(tmpPath, stateFilePerm)

	err = os.Rename(tmpPath, path)
	if err != nil {
		_ = os.Remove(tmpPath)

		return fmt.Errorf("rename state file: %w", err)
	}

	return nil
}

// LoadState loads state from dir/basename+ext.
// The state parameter must be a pointer to the target struct.
func LoadState(dir, basename string, codec Codec, state any) error {
	file, err := os.Open(StatePath(dir, basename, codec))
	if err != nil {
		return fmt.Errorf("open state file: %w", err)
	}
	defer file.Close()

	err = codec.Decode(file, state)
	if err != nil {
		return fmt.Errorf("decode state: %w", err)
	}

	return nil
}

// StateExists reports whether dir/basename+ext is present.
func StateExists(dir, basename string, codec Codec) (bool, error) {
	_, err := os.Stat(StatePath(dir, basename, codec))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}

	if err != nil {
		return false, fmt.Errorf("stat state file: %w", err)
	}

	return true, nil
}
