// Package fsutil provides small filesystem helpers shared by the persistence layers.
package fsutil

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const (
	// DirPerm is the permission used for every directory the aggregator creates
	DirPerm = 0750

	// FilePerm is the permission used for every file the aggregator writes
	FilePerm = 0600
)

// ErrWriteFailed marks every failure to put a file on disk
var ErrWriteFailed = errors.New("storage write failed")

// WriteFileAtomic writes data to a temporary file next to path, syncs it and
// renames it into place, so readers see either the old or the new content.
// Failures wrap ErrWriteFailed.
func WriteFileAtomic(path string, data []byte) error {
	if err := writeFileAtomic(path, data); err != nil {
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, DirPerm); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary file for %s: %w", path, err)
	}
	tempPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to write temporary file for %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to sync temporary file for %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to close temporary file for %s: %w", path, err)
	}
	if err := os.Chmod(tempPath, FilePerm); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to set permissions on %s: %w", path, err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		// Clean up temp file on error
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to rename temporary file to %s: %w", path, err)
	}
	return nil
}

// WriteJSONAtomic marshals v with indentation and writes it with WriteFileAtomic
func WriteJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", filepath.Base(path), err)
	}
	return WriteFileAtomic(path, data)
}

// ReadJSON reads path and unmarshals it into v
func ReadJSON(path string, v any) error {
	// #nosec G304 -- paths are built from the configured data directory and sanitised keys
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}
