package registry

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestParseCapability(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		raw      string
		wantOK   bool
		wantName string
	}{
		{name: "tool descriptor", raw: `{"name":"search","description":"Search","inputSchema":{}}`, wantOK: true, wantName: "search"},
		{name: "resource identified by uri", raw: `{"uri":"file:///a.txt","mimeType":"text/plain"}`, wantOK: true, wantName: "file:///a.txt"},
		{name: "missing name", raw: `{"description":"anonymous"}`},
		{name: "not an object", raw: `["search"]`},
		{name: "malformed", raw: `{"name":`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c, ok := ParseCapability([]byte(tt.raw))
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantName, c.Name)
		})
	}
}

func TestCapabilityKeepsDescriptor(t *testing.T) {
	t.Parallel()

	raw := `{"name":"search","description":"Search the web","inputSchema":{"type":"object","required":["q"]}}`
	var c Capability
	require.NoError(t, json.Unmarshal([]byte(raw), &c))
	assert.Equal(t, "search", c.Name)
	assert.Equal(t, "Search the web", c.Description)

	out, err := json.Marshal(c)
	require.NoError(t, err)
	assert.JSONEq(t, raw, string(out))

	plain, err := json.Marshal(Capability{Name: "bare"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"bare"}`, string(plain))
}

func TestParseCapabilityListDropsMalformed(t *testing.T) {
	t.Parallel()

	result := gjson.Parse(`[{"name":"a"},{"nope":true},"str",{"name":"b"}]`)
	caps := ParseCapabilityList(result)
	assert.Equal(t, []string{"a", "b"}, CapabilityNames(caps))

	assert.Nil(t, ParseCapabilityList(gjson.Parse(`{"name":"a"}`)))
}

func TestCapabilitiesReportedDistinguishesAbsentFromEmpty(t *testing.T) {
	t.Parallel()

	var absent *Capabilities
	assert.False(t, absent.Reported())

	var decoded Capabilities
	require.NoError(t, json.Unmarshal([]byte(`{"tools":[],"prompts":null,"resources":null}`), &decoded))
	assert.True(t, decoded.Reported())
	assert.Equal(t, 0, decoded.Count())

	rec := NewTestRecord("smithery", "@acme/search", WithEmbeddedTools("a", "b"))
	assert.True(t, rec.HasEmbeddedCapabilities())
	assert.Equal(t, 2, rec.Embedded.Count())
}
