// Package pathx provides small filesystem path utilities used across the project.
package pathx

import (
	"errors"
	"path"
	"path/filepath"
	"strings"
)

// ErrOutsideRoot indicates a relative path that would escape its root directory.
var ErrOutsideRoot = errors.New("path escapes root directory")

// SafeJoin joins name onto root and guarantees the result stays under root.
// Absolute paths are normalized to relative ones; any ".." hop that would
// climb above root is rejected.
func SafeJoin(root, name string) (string, error) {
	if root == "" {
		return "", errors.New("empty root")
	}
	cleaned := path.Clean(strings.TrimPrefix(filepath.ToSlash(name), "/"))
	if cleaned == "." || cleaned == "" {
		return "", ErrOutsideRoot
	}
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", ErrOutsideRoot
	}
	return filepath.Join(root, filepath.FromSlash(cleaned)), nil
}
