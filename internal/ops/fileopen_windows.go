//go:build windows

package ops

import (
	"os"

	"github.com/hpungsan/logsift/internal/errors"
)

// openFileNoFollowRead opens a file for reading. Windows has no O_NOFOLLOW;
// ValidateFileName has already rejected symlinks.
func openFileNoFollowRead(path string) (*os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewNotFound(path)
		}
		return nil, err
	}
	return f, nil
}
