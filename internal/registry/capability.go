package registry

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
)

// Capability is a tool, prompt or resource descriptor. Name is always set;
// the full descriptor received from the source or the live endpoint is kept
// and written back unchanged.
type Capability struct {
	Name        string
	Description string

	descriptor json.RawMessage
}

// ParseCapability builds a Capability from a raw JSON descriptor.
// It returns false when the descriptor is not an object with a name.
func ParseCapability(raw []byte) (Capability, bool) {
	if !gjson.ValidBytes(raw) {
		return Capability{}, false
	}
	obj := gjson.ParseBytes(raw)
	if !obj.IsObject() {
		return Capability{}, false
	}
	name := obj.Get("name").String()
	if name == "" {
		// resources are commonly identified by uri only
		name = obj.Get("uri").String()
	}
	if name == "" {
		return Capability{}, false
	}
	return Capability{
		Name:        name,
		Description: obj.Get("description").String(),
		descriptor:  append(json.RawMessage(nil), raw...),
	}, true
}

// ParseCapabilityList parses a JSON array of descriptors, dropping malformed entries
func ParseCapabilityList(result gjson.Result) []Capability {
	if !result.IsArray() {
		return nil
	}
	items := result.Array()
	out := make([]Capability, 0, len(items))
	for _, item := range items {
		if c, ok := ParseCapability([]byte(item.Raw)); ok {
			out = append(out, c)
		}
	}
	return out
}

// Descriptor returns the original JSON descriptor, if one was captured
func (c Capability) Descriptor() json.RawMessage {
	return c.descriptor
}

// MarshalJSON writes the original descriptor when present
func (c Capability) MarshalJSON() ([]byte, error) {
	if len(c.descriptor) > 0 {
		return c.descriptor, nil
	}
	type plain struct {
		Name        string `json:"name"`
		Description string `json:"description,omitempty"`
	}
	return json.Marshal(plain{Name: c.Name, Description: c.Description})
}

// UnmarshalJSON accepts any descriptor object carrying a name (or uri)
func (c *Capability) UnmarshalJSON(data []byte) error {
	parsed, ok := ParseCapability(data)
	if !ok {
		return fmt.Errorf("invalid capability descriptor: %s", truncate(string(data), 80))
	}
	*c = parsed
	return nil
}

// CapabilityNames returns the names of the given capabilities in order
func CapabilityNames(caps []Capability) []string {
	names := make([]string, 0, len(caps))
	for _, c := range caps {
		names = append(names, c.Name)
	}
	return names
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
