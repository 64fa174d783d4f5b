// Package mcp serves lmaudit over the Model Context Protocol.
//
// Agent clients get tools to audit single products, start and poll bulk
// category audits, and query stored reports. Every tool calls the same
// services as the HTTP API; handler errors come back to the client as tool
// errors rather than protocol failures.
package mcp
