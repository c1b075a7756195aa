// Package rules holds per-origin importance rules and the registry that
// swaps them atomically on reload.
package rules

import (
	"strings"
)

// RuleSet is the importance configuration for one origin. Methods are stored
// upper-cased and path substrings lower-cased. A RuleSet is never modified
// after New returns.
type RuleSet struct {
	name string

	importantMethods map[string]struct{}
	importantPaths   []string

	veryImportantMethods map[string]struct{}
	veryImportantPaths   []string
}

// New builds a normalized RuleSet.
func New(name string, importantMethods, importantPaths, veryImportantMethods, veryImportantPaths []string) *RuleSet {
	return &RuleSet{
		name:                 name,
		importantMethods:     methodSet(importantMethods),
		importantPaths:       lowerPaths(importantPaths),
		veryImportantMethods: methodSet(veryImportantMethods),
		veryImportantPaths:   lowerPaths(veryImportantPaths),
	}
}

// Name returns the origin this rule set was configured for ("default" for the built-in set).
func (r *RuleSet) Name() string { return r.name }

// IsImportantMethod reports whether method is in the important tier.
func (r *RuleSet) IsImportantMethod(method string) bool {
	_, ok := r.importantMethods[strings.ToUpper(method)]
	return ok
}

// IsVeryImportantMethod reports whether method is in the very-important tier.
func (r *RuleSet) IsVeryImportantMethod(method string) bool {
	_, ok := r.veryImportantMethods[strings.ToUpper(method)]
	return ok
}

// ImportantPaths returns a copy of the important path substrings, in order.
func (r *RuleSet) ImportantPaths() []string {
	return append([]string(nil), r.importantPaths...)
}

// VeryImportantPaths returns a copy of the very-important path substrings, in order.
func (r *RuleSet) VeryImportantPaths() []string {
	return append([]string(nil), r.veryImportantPaths...)
}

// MatchImportantPath reports whether any important substring occurs in lowerURI.
func (r *RuleSet) MatchImportantPath(lowerURI string) bool {
	return containsAny(lowerURI, r.importantPaths)
}

// MatchVeryImportantPath reports whether any very-important substring occurs in lowerURI.
func (r *RuleSet) MatchVeryImportantPath(lowerURI string) bool {
	return containsAny(lowerURI, r.veryImportantPaths)
}

var defaultRuleSet = New(
	"default",
	[]string{"GET", "POST", "PUT", "DELETE", "PATCH"},
	[]string{
		"admin", "administrator", "manage", "dashboard",
		"user", "home", "homepage", "index",
		"account", "settings", "profile",
		"payment", "checkout", "cart", "order", "buy",
	},
	[]string{"POST", "PUT", "PATCH", "DELETE"},
	[]string{
		"login", "log-in", "signin", "sign-in",
		"signup", "sign-up", "register", "reset", "forgot",
	},
)

// Default returns the built-in rule set used for origins without configuration.
func Default() *RuleSet {
	return defaultRuleSet
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func methodSet(methods []string) map[string]struct{} {
	set := make(map[string]struct{}, len(methods))
	for _, m := range methods {
		m = strings.ToUpper(strings.TrimSpace(m))
		if m != "" {
			set[m] = struct{}{}
		}
	}
	return set
}

func lowerPaths(paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		out = append(out, strings.ToLower(p))
	}
	return out
}
