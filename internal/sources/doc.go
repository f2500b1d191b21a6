// Package sources fetches server records from upstream registries.
//
// A Fetcher walks one source's listing strictly in order, one request at a
// time, and hands every page of normalised records to a PageHandler before
// asking for the next one. Two pagination strategies exist:
//
//   - upstream: cursor pagination against the official MCP registry
//     (GET {endpoint}/servers?limit=&cursor=&updated_since=)
//   - smithery: page pagination (GET {endpoint}/servers?page=&pageSize=)
//     with an optional per-record detail request that carries tool lists
//
// Payloads are decoded into explicit per-source types at this boundary.
// Missing fields take their zero value; a record that cannot be decoded is
// skipped and logged without aborting its page.
package sources
