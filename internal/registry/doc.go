// Package registry defines the entity model shared by every stage of the
// aggregation pipeline.
//
// # Core Types
//
//   - SourceEntityRecord: one server as seen from one source registry. Records
//     are immutable facts; each sync run writes a fresh record that supersedes the
//     previous one on disk.
//   - IntrospectionOutcome: the result of probing one record's network endpoints
//     for tools, prompts and resources.
//   - Capability: a single tool, prompt or resource descriptor. The original
//     descriptor is retained verbatim so capability lists stay complete.
//
// # Keys
//
// Records are identified within a source by native name and optional version.
// RecordKey and OutcomeKey build the string keys used for storage, and
// SafeFileName turns a key into a portable file name:
//
//	key := registry.OutcomeKey("official", rec.Key()) // "official:io.github.acme/search:1.0.0"
//	registry.SafeFileName(key)                         // "official__io.github.acme__search__1.0.0-<hash>"
//
// # Test Utilities
//
// NewTestRecord and its RecordOption helpers build realistic records without
// hand-written struct literals:
//
//	rec := registry.NewTestRecord("smithery", "@acme/search",
//		registry.WithEndpoint(registry.TransportStreamableHTTP, "https://acme.example/mcp"),
//		registry.WithEmbeddedTools("search", "fetch"),
//	)
package registry
