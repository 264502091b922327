package mcpmgr

import (
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Tool is a provider tool as reported by tools/list.
type Tool struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	InputSchema any    `json:"inputSchema"`
}

// ToolCatalogEntry is a Tool tagged with the server that provides it.
type ToolCatalogEntry struct {
	ServerID    string `json:"serverId"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	InputSchema any    `json:"inputSchema"`
}

// ServerSummary is the display view of a connected server.
type ServerSummary struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Icon        string   `json:"icon,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	ToolsCount  int      `json:"toolsCount"`
}

// connection is a live provider: its process, its session and the tools it
// reported at connect time.
type connection struct {
	id          string
	generation  uint64
	proc        *process
	client      *protocolClient
	tools       []Tool
	config      ServerConfig
	connectedAt time.Time
}

func (c *connection) summary() ServerSummary {
	return ServerSummary{
		ID:          c.id,
		Name:        c.config.Name,
		Description: c.config.Description,
		Icon:        c.config.Icon,
		Tags:        append([]string(nil), c.config.Tags...),
		ToolsCount:  len(c.tools),
	}
}

func (c *connection) catalog() []ToolCatalogEntry {
	out := make([]ToolCatalogEntry, 0, len(c.tools))
	for _, t := range c.tools {
		out = append(out, ToolCatalogEntry{
			ServerID:    c.id,
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
		})
	}
	return out
}

func (c *connection) tool(name string) (Tool, bool) {
	for _, t := range c.tools {
		if t.Name == name {
			return t, true
		}
	}
	return Tool{}, false
}

func toolFromSDK(t *mcp.Tool) Tool {
	schema := t.InputSchema
	if schema == nil {
		schema = map[string]any{}
	}
	return Tool{Name: t.Name, Description: t.Description, InputSchema: schema}
}
