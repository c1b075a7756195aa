package ops

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hpungsan/logsift/internal/errors"
)

// ValidateFileName checks an operator-supplied database file name and
// returns its absolute path inside dataDir. It checks:
// 1. The name is a bare file name (no separators, no ".." components)
// 2. Extension (.db required)
// 3. The file exists directly in dataDir
// 4. Neither dataDir nor the file is a symlink
//
// Files are only ever served from the top level of dataDir, so there is no
// intermediate directory an attacker could swap for a symlink. Combined with
// O_NOFOLLOW on open this covers the final component too.
func ValidateFileName(dataDir, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.NewInvalidRequest("file name is required")
	}
	if containsTraversal(name) || strings.ContainsAny(name, `/\`) || name != filepath.Base(name) {
		return "", errors.NewInvalidRequest("file name must not contain a directory")
	}
	if filepath.Ext(name) != ".db" {
		return "", errors.NewInvalidRequest("file name must have .db extension")
	}

	absDir, err := filepath.Abs(filepath.Clean(dataDir))
	if err != nil {
		return "", errors.NewInternal(fmt.Errorf("invalid data dir: %w", err))
	}
	if info, err := os.Lstat(absDir); err == nil && info.Mode()&os.ModeSymlink != 0 {
		// A symlinked data dir is allowed; match against its target.
		if absDir, err = filepath.EvalSymlinks(absDir); err != nil {
			return "", errors.NewInternal(fmt.Errorf("cannot resolve data dir: %w", err))
		}
	}

	path := filepath.Join(absDir, name)
	info, err := os.Lstat(path)
	if os.IsNotExist(err) {
		return "", errors.NewNotFound(name)
	}
	if err != nil {
		return "", errors.NewInternal(err)
	}
	if info.Mode()&os.ModeSymlink != 0 {
		return "", errors.NewInvalidRequest("file must not be a symlink")
	}
	if !info.Mode().IsRegular() {
		return "", errors.NewInvalidRequest("not a regular file")
	}
	return path, nil
}

// OpenDBFile validates name and opens it read-only for download.
func OpenDBFile(dataDir, name string) (*os.File, error) {
	path, err := ValidateFileName(dataDir, name)
	if err != nil {
		return nil, err
	}
	return openFileNoFollowRead(path)
}

// containsTraversal checks if path contains ".." directory traversal.
func containsTraversal(path string) bool {
	for _, part := range strings.Split(path, string(filepath.Separator)) {
		if part == ".." {
			return true
		}
	}
	// Also check for forward slashes on all platforms (e.g., user input)
	if filepath.Separator != '/' {
		for _, part := range strings.Split(path, "/") {
			if part == ".." {
				return true
			}
		}
	}
	return false
}
