// Command mcpmgr spawns and manages stdio MCP tool providers. It can serve
// the catalog over a JSON HTTP API and an MCP gateway, or run one-off catalog
// queries and tool calls from the terminal.
package main

import "os"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
