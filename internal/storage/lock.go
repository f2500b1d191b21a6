package storage

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/stacklok/toolhive-registry-aggregator/internal/fsutil"
)

const lockFileName = ".lock"

// Lock implements StorageManager. The lock is advisory and held for the
// lifetime of one sync or introspection run.
func (f *fileStorageManager) Lock(source string) (func() error, error) {
	dir := f.sourceDir(source)
	if err := os.MkdirAll(dir, fsutil.DirPerm); err != nil {
		return nil, fmt.Errorf("failed to create source directory: %w", err)
	}

	fl := flock.New(filepath.Join(dir, lockFileName))
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to lock source '%s': %w", source, err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s", ErrSourceLocked, source)
	}

	return fl.Unlock, nil
}
