package rules

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/hpungsan/logsift/internal/errors"
	"github.com/hpungsan/logsift/internal/event"
)

// siteRules is one entry of the rule file.
type siteRules struct {
	ImportantMethods     []string `json:"important_methods" yaml:"important_methods"`
	ImportantPaths       []string `json:"important_paths" yaml:"important_paths"`
	VeryImportantMethods []string `json:"very_important_methods" yaml:"very_important_methods"`
	VeryImportantPaths   []string `json:"very_important_paths" yaml:"very_important_paths"`
}

// Registry maps origins to rule sets. Readers always see a complete map:
// reloads build a fresh map and publish it with a single pointer swap.
type Registry struct {
	path  string
	sites atomic.Pointer[map[string]*RuleSet]
}

// NewRegistry returns a registry bound to path with no site rules loaded;
// every origin resolves to Default until Load succeeds.
func NewRegistry(path string) *Registry {
	r := &Registry{path: path}
	empty := map[string]*RuleSet{}
	r.sites.Store(&empty)
	return r
}

// Path returns the rule file the registry reloads from.
func (r *Registry) Path() string { return r.path }

// Get returns the rule set for origin, falling back to Default.
func (r *Registry) Get(origin string) *RuleSet {
	if rs, ok := (*r.sites.Load())[origin]; ok {
		return rs
	}
	return Default()
}

// Sites returns the number of origins with explicit rules.
func (r *Registry) Sites() int {
	return len(*r.sites.Load())
}

// Origins returns the configured origin keys, sorted.
func (r *Registry) Origins() []string {
	sites := *r.sites.Load()
	out := make([]string, 0, len(sites))
	for k := range sites {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Reload re-reads the registry's own rule file.
func (r *Registry) Reload() error {
	return r.Load(r.path)
}

// Load replaces all site rules with the contents of path. It is
// all-or-nothing: on any error the previous rules stay active.
func (r *Registry) Load(path string) error {
	sites, err := ParseFile(path)
	if err != nil {
		lerr := errors.NewRulesLoadFailed(path, err)
		log.Error().Err(err).Str("path", path).Msg("rules load failed; keeping previous rules")
		return lerr
	}

	r.sites.Store(&sites)
	log.Info().Str("path", path).Int("sites", len(sites)).Msg("rules loaded")
	return nil
}

// ParseFile reads and normalizes a rule file without installing it.
// Files ending in .yaml or .yml are decoded as YAML, everything else as JSON.
func ParseFile(path string) (map[string]*RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	raw := map[string]siteRules{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &raw)
	default:
		err = json.Unmarshal(data, &raw)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}

	sites := make(map[string]*RuleSet, len(raw))
	for host, sr := range raw {
		origin := event.NormalizeOrigin(host)
		sites[origin] = New(origin,
			sr.ImportantMethods, sr.ImportantPaths,
			sr.VeryImportantMethods, sr.VeryImportantPaths,
		)
	}
	return sites, nil
}
