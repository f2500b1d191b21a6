// Package identity derives the cross-source grouping key of a server.
//
// The canonical identity is only ever used to group records that describe
// the same logical server. It is never shown as the server's name.
package identity

import (
	"regexp"
	"strings"
)

var (
	// A trailing version: one separator, an optional "v", then dotted digits
	versionSuffixPattern = regexp.MustCompile(`[:_-]v?\d+(\.\d+)*$`)

	// Runs of dash, underscore and slash collapse into a single dash
	separatorPattern = regexp.MustCompile(`[-_/]+`)

	// github.com/owner/repo anywhere in a URL
	githubRepoPattern = regexp.MustCompile(`github\.com[/:]([^/\s]+)/([^/\s?#]+)`)
)

// knownSuffixes are stripped once, longest first
var knownSuffixes = []string{"-mcp-server", "-server", "-mcp"}

// Normalize returns the canonical identity of a native server name.
//
// Examples:
//
//	Normalize("Foo-Bar-MCP-Server-v2.1") returns "foo-bar"
//	Normalize("acme_search_server") returns "acme-search"
//	Normalize("io.github.acme/weather") returns "io.github.acme-weather"
//
// A name that consists of a known suffix only keeps it, so the result is
// empty only for an empty or version-only name.
func Normalize(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	name = versionSuffixPattern.ReplaceAllString(name, "")
	name = separatorPattern.ReplaceAllString(name, "-")

	for _, suffix := range knownSuffixes {
		if trimmed, ok := strings.CutSuffix(name, suffix); ok {
			if trimmed != "" {
				name = trimmed
			}
			break
		}
	}
	return name
}

// ExtractRepoName returns "owner/repo" of a GitHub repository URL in lower
// case, without a ".git" suffix. It returns "" for any other URL.
func ExtractRepoName(url string) string {
	m := githubRepoPattern.FindStringSubmatch(url)
	if m == nil {
		return ""
	}
	owner := strings.ToLower(m[1])
	repo := strings.TrimSuffix(strings.ToLower(m[2]), ".git")
	if repo == "" {
		return ""
	}
	return owner + "/" + repo
}
