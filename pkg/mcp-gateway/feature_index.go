package mcpgateway

import (
	"encoding/json"
	"maps"
	"sort"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/vikashloomba/mcp-stdio-manager-go/pkg/mcpmgr"
)

const (
	metaKeyServerID   = "mcpgateway.server_id"
	metaKeyNativeName = "mcpgateway.native_name"
)

type featureIndex struct {
	ns NamespaceStrategy

	mu sync.RWMutex

	tools       map[string]toolTarget
	serverTools map[string][]string
	// fingerprints detect catalog changes per server so unchanged servers are
	// not re-registered.
	fingerprints map[string]string
}

type toolTarget struct {
	GatewayName string
	ServerID    string
	NativeName  string
}

type toolRegistration struct {
	Tool   *mcp.Tool
	Target toolTarget
}

func newFeatureIndex(ns NamespaceStrategy) *featureIndex {
	return &featureIndex{
		ns:           ns,
		tools:        make(map[string]toolTarget),
		serverTools:  make(map[string][]string),
		fingerprints: make(map[string]string),
	}
}

// Replace reconciles the index with a full catalog. Servers missing from the
// catalog lose their tools; servers whose tools changed are re-registered.
func (f *featureIndex) Replace(catalog []mcpmgr.ToolCatalogEntry) (removed []string, added []toolRegistration) {
	byServer := make(map[string][]mcpmgr.ToolCatalogEntry)
	for _, entry := range catalog {
		byServer[entry.ServerID] = append(byServer[entry.ServerID], entry)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	for serverID := range f.serverTools {
		if _, ok := byServer[serverID]; !ok {
			removed = append(removed, f.removeToolsLocked(serverID)...)
		}
	}
	serverIDs := make([]string, 0, len(byServer))
	for id := range byServer {
		serverIDs = append(serverIDs, id)
	}
	sort.Strings(serverIDs)
	for _, serverID := range serverIDs {
		entries := byServer[serverID]
		fp := fingerprint(entries)
		if prev, ok := f.fingerprints[serverID]; ok && prev == fp {
			continue
		}
		removed = append(removed, f.removeToolsLocked(serverID)...)
		names := make([]string, 0, len(entries))
		for _, entry := range entries {
			gatewayName := f.ns.ToolName(serverID, entry.Name)
			target := toolTarget{GatewayName: gatewayName, ServerID: serverID, NativeName: entry.Name}
			f.tools[gatewayName] = target
			added = append(added, toolRegistration{Tool: toolFromEntry(entry, gatewayName), Target: target})
			names = append(names, gatewayName)
		}
		f.serverTools[serverID] = names
		f.fingerprints[serverID] = fp
	}
	return removed, added
}

func (f *featureIndex) ToolTarget(name string) (toolTarget, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	t, ok := f.tools[name]
	return t, ok
}

func (f *featureIndex) removeToolsLocked(serverID string) []string {
	names := f.serverTools[serverID]
	for _, name := range names {
		delete(f.tools, name)
	}
	delete(f.serverTools, serverID)
	delete(f.fingerprints, serverID)
	return append([]string(nil), names...)
}

func toolFromEntry(entry mcpmgr.ToolCatalogEntry, gatewayName string) *mcp.Tool {
	return &mcp.Tool{
		Name:        gatewayName,
		Description: entry.Description,
		InputSchema: objectSchema(entry.InputSchema),
		Meta: withMeta(nil, map[string]any{
			metaKeyServerID:   entry.ServerID,
			metaKeyNativeName: entry.Name,
		}),
	}
}

// objectSchema returns schema as a JSON object schema. The MCP server rejects
// tools whose input schema is not of type "object".
func objectSchema(schema any) map[string]any {
	m, ok := schema.(map[string]any)
	if !ok && schema != nil {
		if data, err := json.Marshal(schema); err == nil {
			_ = json.Unmarshal(data, &m)
		}
	}
	if m == nil {
		return map[string]any{"type": "object"}
	}
	if m["type"] == "object" {
		return m
	}
	out := maps.Clone(m)
	out["type"] = "object"
	return out
}

func fingerprint(entries []mcpmgr.ToolCatalogEntry) string {
	data, err := json.Marshal(entries)
	if err != nil {
		return ""
	}
	return string(data)
}

func withMeta(base map[string]any, extras map[string]any) map[string]any {
	out := maps.Clone(base)
	if out == nil {
		out = make(map[string]any)
	}
	for k, v := range extras {
		out[k] = v
	}
	return out
}
