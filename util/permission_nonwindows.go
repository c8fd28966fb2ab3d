//go:build !windows

package util

import (
	"os"
	"path/filepath"
)

// EnforcePermission restricts the parent directory of file to its owner.
func EnforcePermission(file string) error {
	return os.Chmod(filepath.Dir(file), 0o700)
}
