package registry

import (
	"encoding/json"
	"time"
)

// RecordOption is a function that configures a SourceEntityRecord for testing
type RecordOption func(*SourceEntityRecord)

// NewTestRecord creates a SourceEntityRecord for testing with default values
// and applies any provided options
func NewTestRecord(sourceID, name string, opts ...RecordOption) *SourceEntityRecord {
	rec := &SourceEntityRecord{
		SourceID:    sourceID,
		NativeName:  name,
		DisplayName: name,
		Description: name + " server",
		Publication: PublicationUnknown,
		FetchedAt:   time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}

	for _, opt := range opts {
		opt(rec)
	}

	return rec
}

// WithRecordVersion sets the record version
func WithRecordVersion(version string) RecordOption {
	return func(r *SourceEntityRecord) {
		r.Version = version
	}
}

// WithDescription sets the record description
func WithDescription(description string) RecordOption {
	return func(r *SourceEntityRecord) {
		r.Description = description
	}
}

// WithRepository sets the repository URL
func WithRepository(url string) RecordOption {
	return func(r *SourceEntityRecord) {
		r.RepositoryURL = url
	}
}

// WithEndpoint appends an endpoint
func WithEndpoint(transport, url string, headers ...Header) RecordOption {
	return func(r *SourceEntityRecord) {
		r.Endpoints = append(r.Endpoints, Endpoint{Transport: transport, URL: url, Headers: headers})
	}
}

// WithPackage appends a package reference
func WithPackage(registryType, identifier string) RecordOption {
	return func(r *SourceEntityRecord) {
		r.Packages = append(r.Packages, PackageRef{
			RegistryType: registryType,
			Identifier:   identifier,
			Transport:    TransportStdio,
		})
	}
}

// WithEmbeddedTools sets embedded tools by name
func WithEmbeddedTools(names ...string) RecordOption {
	return func(r *SourceEntityRecord) {
		if r.Embedded == nil {
			r.Embedded = &Capabilities{}
		}
		r.Embedded.Tools = NewTestCapabilities(names...)
	}
}

// WithLatest marks the record as the latest published version
func WithLatest() RecordOption {
	return func(r *SourceEntityRecord) {
		r.Publication = PublicationLatest
	}
}

// WithQuality sets the quality signals
func WithQuality(verified bool, useCount int64) RecordOption {
	return func(r *SourceEntityRecord) {
		r.Quality = QualitySignals{Verified: verified, UseCount: useCount}
	}
}

// NewTestCapabilities builds capability descriptors with the given names
func NewTestCapabilities(names ...string) []Capability {
	caps := make([]Capability, 0, len(names))
	for _, name := range names {
		raw, _ := json.Marshal(map[string]any{
			"name":        name,
			"description": name + " capability",
			"inputSchema": map[string]any{"type": "object"},
		})
		c, _ := ParseCapability(raw)
		caps = append(caps, c)
	}
	return caps
}
