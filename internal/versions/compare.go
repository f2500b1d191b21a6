package versions

import (
	"strings"

	"github.com/Masterminds/semver/v3"
)

// Compare orders two version strings. Semantic versioning applies when both
// parse; otherwise the strings are compared lexically.
func Compare(a, b string) int {
	va, errA := semver.NewVersion(a)
	vb, errB := semver.NewVersion(b)
	if errA != nil || errB != nil {
		return strings.Compare(a, b)
	}
	return va.Compare(vb)
}

// IsNewerVersion reports whether newVersion is strictly greater than oldVersion
func IsNewerVersion(newVersion, oldVersion string) bool {
	return Compare(newVersion, oldVersion) > 0
}

// Latest returns the index of the greatest version, or -1 for an empty slice.
// The first of several equal versions wins.
func Latest(versions []string) int {
	best := -1
	for i, v := range versions {
		if best < 0 || IsNewerVersion(v, versions[best]) {
			best = i
		}
	}
	return best
}
