// Package introspection discovers the live capabilities of stored servers.
//
// Each probeable endpoint of a record is asked for its tools, prompts and
// resources with JSON-RPC list calls, in the order the source declared the
// endpoints. The first endpoint that reports any non-empty list wins and the
// walk stops. Replies may be plain JSON or an event stream whose data lines
// carry the JSON-RPC message.
//
// An endpoint that answers every query with an empty list is not
// distinguishable from one that failed to report: both end up as a partial
// failure.
//
// The Runner probes records in fixed-size batches and persists one outcome
// per record through the storage layer.
package introspection
