// Package filtering decides which source records are kept at ingestion time.
package filtering

import (
	"fmt"
	"path/filepath"

	"github.com/gobwas/glob"
)

// NameFilter decides whether a record name is ingested
type NameFilter interface {
	// Allows reports whether name passes the filter, with a human-readable reason
	Allows(name string) (bool, string)
}

type pattern struct {
	source string
	glob   glob.Glob
}

// globNameFilter matches names against precompiled include/exclude globs
type globNameFilter struct {
	include []pattern
	exclude []pattern
}

var _ NameFilter = (*globNameFilter)(nil)

// NewNameFilter compiles include and exclude glob patterns. Unlike filepath.Match,
// "*" matches across "/" so "io.github.*" covers namespaced names.
func NewNameFilter(include, exclude []string) (NameFilter, error) {
	inc, err := compileAll(include)
	if err != nil {
		return nil, fmt.Errorf("invalid include pattern: %w", err)
	}
	exc, err := compileAll(exclude)
	if err != nil {
		return nil, fmt.Errorf("invalid exclude pattern: %w", err)
	}
	return &globNameFilter{include: inc, exclude: exc}, nil
}

// AllowAll returns a filter that accepts every name
func AllowAll() NameFilter {
	return &globNameFilter{}
}

func compileAll(patterns []string) ([]pattern, error) {
	out := make([]pattern, 0, len(patterns))
	for _, p := range patterns {
		// filepath.Match catches malformed bracket expressions gobwas accepts
		if _, err := filepath.Match(p, "test"); err != nil {
			return nil, fmt.Errorf("'%s': %w", p, err)
		}
		g, err := glob.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("'%s': %w", p, err)
		}
		out = append(out, pattern{source: p, glob: g})
	}
	return out, nil
}

// Allows implements NameFilter. Exclude patterns take precedence; when include
// patterns exist a name must match one of them.
func (f *globNameFilter) Allows(name string) (bool, string) {
	for _, p := range f.exclude {
		if p.glob.Match(name) {
			return false, fmt.Sprintf("excluded by pattern '%s'", p.source)
		}
	}

	if len(f.include) == 0 {
		return true, "no include patterns"
	}
	for _, p := range f.include {
		if p.glob.Match(name) {
			return true, fmt.Sprintf("included by pattern '%s'", p.source)
		}
	}
	return false, "no include pattern matched"
}
