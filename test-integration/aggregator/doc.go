// Package integration runs the whole aggregator against fake registries and
// MCP servers: sync, introspection, merge and the read API in one process.
package integration
