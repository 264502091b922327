// Package mcpmgr manages Model Context Protocol (MCP) tool providers that run
// as child processes speaking JSON-RPC over stdin/stdout. It spawns each
// provider, performs the MCP handshake through the modelcontextprotocol/go-sdk
// client, snapshots the tools the provider reports, and routes tool calls to
// the right session until the provider is disconnected or exits.
//
// # Core entry points
//
//   - Manager owns the connection table. Initialize connects every registry
//     entry flagged AutoConnect; Connect and ConnectServer attach a single
//     provider; Disconnect and DisconnectAll tear providers down with SIGTERM
//     followed by SIGKILL after ManagerOptions.TerminationGrace.
//   - Registry and ServerConfig declare how each provider is launched and how
//     it is presented (name, description, icon, tags).
//   - ManagerOptions sets the client identity, the handshake, discovery and
//     execution bounds, JSON-RPC tracing and the slog.Logger used for
//     diagnostics.
//
// Tool catalogs are served from memory: ListAllAvailableTools and
// GetConnectedServersInfo never talk to a provider. ExecuteTool is the only
// read path that crosses the wire.
//
// Errors are classified with sentinels (ErrSpawn, ErrHandshake,
// ErrRequestTimeout, ErrNotConnected, ErrInvalidArguments, ErrProcessExited)
// and *RemoteError for error replies, all matchable with errors.Is and
// errors.As.
package mcpmgr
