// Package tempdir provides scoped temporary directories whose removal is
// confined to the platform temp root.
package tempdir

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrOutsideTempRoot is returned when asked to remove a path that does not
// live under the platform temp root.
var ErrOutsideTempRoot = errors.New("tempdir: path is outside the temp root")

// With creates a temp directory, runs fn inside it and removes the directory
// on every exit path, including when fn fails or panics.
func With(prefix string, fn func(dir string) error) (err error) {
	dir, err := os.MkdirTemp("", prefix+"-*")
	if err != nil {
		return fmt.Errorf("cannot create temp dir: %w", err)
	}
	defer func() {
		if rmErr := Remove(dir); rmErr != nil && err == nil {
			err = rmErr
		}
	}()
	return fn(dir)
}

// Remove deletes path recursively if and only if it is strictly inside the
// platform temp root. Anything else is left untouched.
func Remove(path string) error {
	if !UnderTempRoot(path) {
		return fmt.Errorf("%w: %s", ErrOutsideTempRoot, path)
	}
	return os.RemoveAll(path)
}

// UnderTempRoot reports whether path is strictly below os.TempDir().
func UnderTempRoot(path string) bool {
	if path == "" {
		return false
	}
	root, err := canonical(os.TempDir())
	if err != nil {
		return false
	}
	abs, err := canonical(path)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(root, abs)
	if err != nil || rel == "." {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// canonical resolves symlinks where possible so /tmp and /private/tmp style
// aliases compare equal.
func canonical(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved, nil
	}
	return filepath.Clean(abs), nil
}
