// Package mcpgateway re-exposes the tools of every connected provider through
// a single Streamable HTTP MCP server. Tool names are namespaced per provider
// (by default "<serverID>__<tool>") and each downstream call is routed to the
// backend's ExecuteTool, so MCP-speaking clients can reach every stdio
// provider through one endpoint.
package mcpgateway
