package ops

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/hpungsan/logsift/internal/errors"
	"github.com/hpungsan/logsift/internal/store"
)

// File kinds found in the data directory.
const (
	FileActive   = "active"
	FileLog      = "log"
	FileSnapshot = "snapshot"
)

var archiveName = regexp.MustCompile(`^(log|snapshot)_(.+)_(\d+)(?:_\d+)?\.db$`)

// FilesInput contains parameters for the Files operation.
type FilesInput struct {
	Origin string // optional filter
	Counts bool   // open each file to count its rows
}

// FileInfo describes one database file.
type FileInfo struct {
	Name      string    `json:"name"`
	Kind      string    `json:"kind"`
	Origin    string    `json:"origin"`
	Size      int64     `json:"size"`
	Modified  time.Time `json:"modified"`
	CreatedAt int64     `json:"created_at,omitempty"` // unix seconds from the archive name
	Rows      *int      `json:"rows,omitempty"`
}

// FilesOutput contains the result of the Files operation.
type FilesOutput struct {
	DataDir string     `json:"data_dir"`
	Files   []FileInfo `json:"files"`
}

// Files lists the database files in dataDir: the active file of every origin
// plus archives and snapshots still waiting for (or kept after) delivery.
func Files(dataDir string, input FilesInput) (*FilesOutput, error) {
	var origin string
	if strings.TrimSpace(input.Origin) != "" {
		var err error
		if origin, err = ValidateOrigin(input.Origin); err != nil {
			return nil, err
		}
	}

	entries, err := os.ReadDir(dataDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewNotFound(dataDir)
		}
		return nil, errors.NewInternal(fmt.Errorf("read data dir: %w", err))
	}

	out := &FilesOutput{DataDir: dataDir, Files: []FileInfo{}}
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		fi, ok := parseFileName(e.Name())
		if !ok || (origin != "" && fi.Origin != origin) {
			continue
		}
		if info, err := e.Info(); err == nil {
			fi.Size = info.Size()
			fi.Modified = info.ModTime().UTC()
		}
		if input.Counts {
			n, err := store.CountRows(filepath.Join(dataDir, e.Name()))
			if err != nil {
				log.Warn().Err(err).Str("file", e.Name()).Msg("failed to count rows")
			} else {
				fi.Rows = &n
			}
		}
		out.Files = append(out.Files, fi)
	}

	sort.Slice(out.Files, func(i, j int) bool {
		a, b := out.Files[i], out.Files[j]
		if a.Origin != b.Origin {
			return a.Origin < b.Origin
		}
		return a.Name < b.Name
	})
	return out, nil
}

func parseFileName(name string) (FileInfo, bool) {
	if m := archiveName.FindStringSubmatch(name); m != nil {
		ts, _ := strconv.ParseInt(m[3], 10, 64)
		return FileInfo{Name: name, Kind: m[1], Origin: m[2], CreatedAt: ts}, true
	}
	if strings.HasSuffix(name, ".db") {
		return FileInfo{Name: name, Kind: FileActive, Origin: strings.TrimSuffix(name, ".db")}, true
	}
	return FileInfo{}, false
}
