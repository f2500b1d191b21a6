package registry

import (
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// KeySeparator joins the parts of record and outcome keys
const KeySeparator = ":"

// RecordKey returns the identity of a record within its source: name, or name:version
func RecordKey(name, version string) string {
	if version == "" {
		return name
	}
	return name + KeySeparator + version
}

// OutcomeKey returns the key of an introspection outcome: source:name[:version]
func OutcomeKey(sourceID, recordKey string) string {
	return sourceID + KeySeparator + recordKey
}

// SafeFileName maps a key onto a portable file name (without extension).
// Path and key separators become "__", "@" becomes "_at_", and any other
// character outside [A-Za-z0-9._-] becomes "_". Escaping is lossy, so an
// escaped name carries a hash of the whole key to keep distinct keys apart.
func SafeFileName(key string) string {
	var b strings.Builder
	b.Grow(len(key) + 8)
	for _, r := range key {
		switch {
		case r == '/' || r == ':':
			b.WriteString("__")
		case r == '@':
			b.WriteString("_at_")
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	name := b.String()
	if name == "" || strings.HasPrefix(name, ".") {
		name = "_" + name
	}
	if name != key {
		name = fmt.Sprintf("%s-%08x", name, uint32(xxhash.Sum64String(key)))
	}
	return name
}
