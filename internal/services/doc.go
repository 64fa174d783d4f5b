// Package services wires lmaudit's components into a registry consumed by
// the HTTP API, the MCP server and the daemon.
//
// Build constructs every component from configuration. Tests and embedders
// that already hold components use NewRegistry directly.
package services
