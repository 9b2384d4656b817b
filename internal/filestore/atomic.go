// Package filestore holds the file primitives shared by the on-disk stores:
// whole-file atomic replacement and an in-process mutex keyed by name.
package filestore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/brenner/internal/retry"
)

// WriteFileAtomic replaces path with data. The bytes go to a temp file in the
// same directory which is then renamed over path, so readers never observe a
// partially written file.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating directory %s: %w", dir, err)
	}

	tmpFile, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file for %s: %w", path, err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return fmt.Errorf("syncing %s: %w", path, err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("closing temp file for %s: %w", path, err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return fmt.Errorf("setting mode on %s: %w", path, err)
	}

	// a reader holding path open can briefly block the rename on some platforms
	result := retry.Do(context.Background(), retry.FileConfig(), func() error {
		return os.Rename(tmpPath, path)
	}, retry.IsTransientFSError, nil)
	if !result.Success {
		return fmt.Errorf("renaming temp file to %s: %w", path, result.LastError)
	}

	success = true
	return nil
}

// WriteJSONAtomic marshals v with indentation and writes it with WriteFileAtomic
func WriteJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", path, err)
	}
	data = append(data, '\n')
	return WriteFileAtomic(path, data, 0o644)
}
