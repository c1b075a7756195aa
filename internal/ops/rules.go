package ops

import (
	"github.com/hpungsan/logsift/internal/rules"
)

// ReloadOutput contains the result of the ReloadRules operation.
type ReloadOutput struct {
	Path    string   `json:"path"`
	Sites   int      `json:"sites"`
	Origins []string `json:"origins"`
}

// ReloadRules re-reads the rule file. On failure the previous rules stay
// active and the RULES_LOAD_FAILED error is returned.
func ReloadRules(reg *rules.Registry) (*ReloadOutput, error) {
	if err := reg.Reload(); err != nil {
		return nil, err
	}
	origins := reg.Origins()
	return &ReloadOutput{Path: reg.Path(), Sites: len(origins), Origins: origins}, nil
}
