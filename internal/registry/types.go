package registry

import (
	"encoding/json"
	"time"
)

// PublicationState describes where a record sits in its source's release lifecycle
type PublicationState string

const (
	// PublicationLatest marks the newest published version of an entity
	PublicationLatest PublicationState = "latest"

	// PublicationDeprecated marks a version the source has deprecated
	PublicationDeprecated PublicationState = "deprecated"

	// PublicationUnknown is used when the source reports nothing usable
	PublicationUnknown PublicationState = "unknown"
)

// Transport names recognised on endpoints and packages
const (
	TransportStreamableHTTP = "streamable-http"
	TransportSSE            = "sse"
	TransportHTTP           = "http"
	TransportStdio          = "stdio"
)

// Header is a custom header an endpoint expects on every request
type Header struct {
	Name     string `json:"name"`
	Value    string `json:"value,omitempty"`
	IsSecret bool   `json:"isSecret,omitempty"`
}

// Forwardable reports whether the header can be sent as-is. Secret headers
// without a value would need a credential nobody supplied.
func (h Header) Forwardable() bool {
	if h.Name == "" {
		return false
	}
	return !(h.IsSecret && h.Value == "")
}

// Endpoint is one network address at which an entity can be reached
type Endpoint struct {
	Transport string   `json:"transport"`
	URL       string   `json:"url"`
	Headers   []Header `json:"headers,omitempty"`
}

// Probeable reports whether the endpoint speaks a transport the introspector understands
func (e Endpoint) Probeable() bool {
	if e.URL == "" {
		return false
	}
	switch e.Transport {
	case TransportStreamableHTTP, TransportSSE, TransportHTTP:
		return true
	default:
		return false
	}
}

// PackageRef points at local-process packaging for an entity (npm, pypi, oci, ...)
type PackageRef struct {
	RegistryType string `json:"registryType,omitempty"`
	Identifier   string `json:"identifier"`
	Version      string `json:"version,omitempty"`
	Transport    string `json:"transport,omitempty"`
}

// QualitySignals carries the source-reported quality indicators for an entity
type QualitySignals struct {
	Verified bool  `json:"verified"`
	UseCount int64 `json:"useCount"`
}

// Capabilities groups the three capability categories. A nil slice means the
// category was never reported; an empty slice means it was reported as empty.
type Capabilities struct {
	Tools     []Capability `json:"tools"`
	Prompts   []Capability `json:"prompts"`
	Resources []Capability `json:"resources"`
}

// Reported reports whether any category carries data from the source
func (c *Capabilities) Reported() bool {
	if c == nil {
		return false
	}
	return c.Tools != nil || c.Prompts != nil || c.Resources != nil
}

// Count returns the total number of capability descriptors across categories
func (c *Capabilities) Count() int {
	if c == nil {
		return 0
	}
	return len(c.Tools) + len(c.Prompts) + len(c.Resources)
}

// SourceEntityRecord is one server as seen from one source registry.
// SourceID, NativeName and Version uniquely identify a record within a source.
type SourceEntityRecord struct {
	SourceID      string           `json:"sourceId"`
	NativeName    string           `json:"nativeName"`
	Version       string           `json:"version,omitempty"`
	DisplayName   string           `json:"displayName,omitempty"`
	Description   string           `json:"description,omitempty"`
	IconURL       string           `json:"iconUrl,omitempty"`
	RepositoryURL string           `json:"repositoryUrl,omitempty"`
	Endpoints     []Endpoint       `json:"endpoints,omitempty"`
	Packages      []PackageRef     `json:"packages,omitempty"`
	Embedded      *Capabilities    `json:"embedded,omitempty"`
	Quality       QualitySignals   `json:"quality"`
	Publication   PublicationState `json:"publication"`
	Status        string           `json:"status,omitempty"`
	PublishedAt   *time.Time       `json:"publishedAt,omitempty"`
	UpdatedAt     *time.Time       `json:"updatedAt,omitempty"`
	FetchedAt     time.Time        `json:"fetchedAt"`
	Raw           json.RawMessage  `json:"raw,omitempty"`
}

// Key returns the record's identity within its source
func (r *SourceEntityRecord) Key() string {
	return RecordKey(r.NativeName, r.Version)
}

// IsLatest reports whether the source flagged this record as the latest version
func (r *SourceEntityRecord) IsLatest() bool {
	return r.Publication == PublicationLatest
}

// HasEmbeddedCapabilities reports whether the source delivered capability data inline
func (r *SourceEntityRecord) HasEmbeddedCapabilities() bool {
	return r.Embedded.Reported()
}

// ProbeableEndpoints returns the endpoints the introspector can talk to, in source order
func (r *SourceEntityRecord) ProbeableEndpoints() []Endpoint {
	var out []Endpoint
	for _, ep := range r.Endpoints {
		if ep.Probeable() {
			out = append(out, ep)
		}
	}
	return out
}

// OutcomeState is the terminal state of one entity's introspection
type OutcomeState string

const (
	// OutcomeSuccess means at least one capability query returned a non-empty list
	OutcomeSuccess OutcomeState = "success"

	// OutcomePartialFailure means endpoints answered but nothing usable came back
	OutcomePartialFailure OutcomeState = "partial_failure"

	// OutcomeUnreachable means every endpoint failed at the network level
	OutcomeUnreachable OutcomeState = "unreachable"

	// OutcomeNotApplicable means the entity has no network endpoint to probe
	OutcomeNotApplicable OutcomeState = "not_applicable"
)

// IntrospectionOutcome is the result of probing one entity's endpoints.
// A new outcome always replaces the previous one.
type IntrospectionOutcome struct {
	SourceID       string       `json:"sourceId"`
	NativeName     string       `json:"nativeName"`
	Version        string       `json:"version,omitempty"`
	State          OutcomeState `json:"state"`
	Succeeded      bool         `json:"succeeded"`
	TransportUsed  string       `json:"transportUsed,omitempty"`
	EndpointTried  string       `json:"endpointTried,omitempty"`
	Tools          []Capability `json:"tools"`
	Prompts        []Capability `json:"prompts"`
	Resources      []Capability `json:"resources"`
	Error          string       `json:"error,omitempty"`
	EndpointErrors []string     `json:"endpointErrors,omitempty"`
	Packages       []PackageRef `json:"packages,omitempty"`
	IntrospectedAt time.Time    `json:"introspectedAt"`
}

// Key returns the outcome's storage key
func (o *IntrospectionOutcome) Key() string {
	return OutcomeKey(o.SourceID, RecordKey(o.NativeName, o.Version))
}

// Capabilities returns the discovered lists, or nil when the probe did not succeed
func (o *IntrospectionOutcome) Capabilities() *Capabilities {
	if o == nil || !o.Succeeded {
		return nil
	}
	return &Capabilities{Tools: o.Tools, Prompts: o.Prompts, Resources: o.Resources}
}
