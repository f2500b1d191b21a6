// Package validators checks the naming rules of the official MCP registry.
package validators

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

const (
	minServerNameLength = 3
	maxServerNameLength = 200
)

// ErrInvalidServerName wraps every naming rule violation
var ErrInvalidServerName = errors.New("invalid server name")

var (
	namespacePattern = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9.-]*[a-zA-Z0-9])?$`)
	namePattern      = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9._-]*[a-zA-Z0-9])?$`)
)

// ValidateServerName checks a reverse-DNS server name of the form
// namespace/name, e.g. io.github.acme/weather. It returns the trimmed name.
//
// The namespace may contain dots and hyphens, the name additionally
// underscores; both must start and end with an alphanumeric character.
func ValidateServerName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%w: name is empty", ErrInvalidServerName)
	}

	namespace, local, found := strings.Cut(name, "/")
	switch {
	case !found:
		return "", fmt.Errorf("%w: '%s' is not in 'namespace/name' form", ErrInvalidServerName, name)
	case strings.Contains(local, "/"):
		return "", fmt.Errorf("%w: '%s' contains more than one '/'", ErrInvalidServerName, name)
	case namespace == "":
		return "", fmt.Errorf("%w: '%s' has an empty namespace", ErrInvalidServerName, name)
	case local == "":
		return "", fmt.Errorf("%w: '%s' has an empty name part", ErrInvalidServerName, name)
	}

	if len(name) < minServerNameLength || len(name) > maxServerNameLength {
		return "", fmt.Errorf("%w: length of '%s' must be between %d and %d characters",
			ErrInvalidServerName, name, minServerNameLength, maxServerNameLength)
	}
	if !namespacePattern.MatchString(namespace) {
		return "", fmt.Errorf("%w: namespace '%s' must start and end with an alphanumeric character "+
			"and may only contain dots and hyphens in between", ErrInvalidServerName, namespace)
	}
	if !namePattern.MatchString(local) {
		return "", fmt.Errorf("%w: name '%s' must start and end with an alphanumeric character "+
			"and may only contain dots, underscores and hyphens in between", ErrInvalidServerName, local)
	}
	return name, nil
}

// IsValidServerName reports whether ValidateServerName accepts the name
func IsValidServerName(name string) bool {
	_, err := ValidateServerName(name)
	return err == nil
}
