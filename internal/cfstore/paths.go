package cfstore

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrOutsideCache is returned when an index entry names a file outside the
// cache directory.
var ErrOutsideCache = errors.New("path escapes the cache directory")

// checkWithinDir rejects paths that resolve outside dir. The check is
// lexical so it applies equally to the in-memory filesystem.
func checkWithinDir(path, dir string) error {
	rel, err := filepath.Rel(filepath.Clean(dir), filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrOutsideCache, path, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return fmt.Errorf("%w: %s is not under %s", ErrOutsideCache, path, dir)
	}
	return nil
}
