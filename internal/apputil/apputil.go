// Package apputil has small filesystem helpers shared by config loading and
// the embedded storage backend.
package apputil

import (
	"os"
	"path/filepath"
)

// FileExists reports whether path names a regular, readable file.
func FileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// EnsureDir makes sure the parent directory of path exists.
func EnsureDir(path string) error {
	return os.MkdirAll(filepath.Dir(path), 0o755)
}
