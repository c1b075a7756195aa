package ops

import (
	"context"
	"sort"

	"github.com/hpungsan/logsift/internal/store"
)

// StatsInput contains parameters for the Stats operation.
type StatsInput struct {
	Strict bool // wait for every queued command before reading
}

// SiteStat is the live row count of one open database.
type SiteStat struct {
	Origin string `json:"origin"`
	Rows   int    `json:"rows"`
}

// StatsOutput contains the result of the Stats operation.
type StatsOutput struct {
	Sites       []SiteStat `json:"sites"`
	TotalRows   int        `json:"total_rows"`
	RotateLimit int        `json:"rotate_limit"`
	Queued      int        `json:"queued"`
	Strict      bool       `json:"strict"`
}

// Stats reports the open databases sorted by origin.
func Stats(ctx context.Context, eng *store.Engine, input StatsInput) (*StatsOutput, error) {
	var counts map[string]int
	if input.Strict {
		var err error
		if counts, err = eng.SyncActiveSites(ctx); err != nil {
			return nil, err
		}
	} else {
		counts = eng.ActiveSites()
	}

	out := &StatsOutput{
		Sites:       make([]SiteStat, 0, len(counts)),
		RotateLimit: eng.RotateLimit(),
		Queued:      eng.QueueLen(),
		Strict:      input.Strict,
	}
	for origin, n := range counts {
		out.Sites = append(out.Sites, SiteStat{Origin: origin, Rows: n})
		out.TotalRows += n
	}
	sort.Slice(out.Sites, func(i, j int) bool { return out.Sites[i].Origin < out.Sites[j].Origin })
	return out, nil
}
