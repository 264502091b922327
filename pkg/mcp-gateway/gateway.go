package mcpgateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/vikashloomba/mcp-stdio-manager-go/pkg/facade"
)

// Backend supplies the tool catalog and executes calls. *facade.Facade
// satisfies it.
type Backend interface {
	InitializeAndListTools(ctx context.Context) facade.CatalogSnapshot
	ExecuteTool(ctx context.Context, serverID, toolName string, args map[string]any) (*mcp.CallToolResult, error)
}

// Gateway exposes a Streamable MCP server that fronts every tool of every
// connected provider under a single HTTP endpoint.
type Gateway struct {
	backend Backend
	opts    Options

	features *featureIndex

	server        *mcp.Server
	streamHandler *mcp.StreamableHTTPHandler
	mux           *http.ServeMux

	serverMu     sync.Mutex
	httpServerMu sync.Mutex
	httpServer   *http.Server
}

// NewGateway builds a Gateway over backend. The catalog is synchronized on
// every downstream tools/list and whenever Sync is called.
func NewGateway(backend Backend, opts *Options) (*Gateway, error) {
	if backend == nil {
		return nil, fmt.Errorf("mcpgateway: backend is required")
	}
	options := opts.withDefaults()
	g := &Gateway{
		backend:  backend,
		opts:     options,
		features: newFeatureIndex(options.Namespace),
	}

	g.server = mcp.NewServer(options.Implementation, &mcp.ServerOptions{HasTools: true})
	g.server.AddReceivingMiddleware(g.syncBeforeList)
	g.streamHandler = mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return g.server
	}, &options.Streamable)
	g.mux = g.mountHandler()
	return g, nil
}

// Handler exposes the HTTP handler that serves the Streamable endpoint.
func (g *Gateway) Handler() http.Handler {
	return g.mux
}

// ServeMux exposes the router so callers can mount additional routes before
// serving.
func (g *Gateway) ServeMux() *http.ServeMux {
	return g.mux
}

// Server returns the underlying MCP server, for serving over other transports.
func (g *Gateway) Server() *mcp.Server {
	return g.server
}

// ListenAndServe binds opts.Addr and serves Handler until ctx ends or the
// server fails. A shutdown triggered by ctx returns nil once in-flight
// requests drain or ShutdownTimeout passes.
func (g *Gateway) ListenAndServe(ctx context.Context) error {
	g.httpServerMu.Lock()
	if g.httpServer != nil {
		addr := g.httpServer.Addr
		g.httpServerMu.Unlock()
		return fmt.Errorf("mcpgateway: server already running on %s", addr)
	}
	ln, err := net.Listen("tcp", g.opts.Addr)
	if err != nil {
		g.httpServerMu.Unlock()
		return fmt.Errorf("mcpgateway: listen on %s: %w", g.opts.Addr, err)
	}
	srv := &http.Server{
		Addr:              ln.Addr().String(),
		Handler:           g.Handler(),
		ReadHeaderTimeout: defaultReadHeaderTimeout,
	}
	g.httpServer = srv
	g.httpServerMu.Unlock()
	defer func() {
		g.httpServerMu.Lock()
		if g.httpServer == srv {
			g.httpServer = nil
		}
		g.httpServerMu.Unlock()
	}()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	g.opts.Logger.Info("gateway listening", "addr", srv.Addr, "path", g.opts.Path)
	if g.opts.OnListen != nil {
		g.opts.OnListen(srv.Addr)
	}

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.opts.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Shutdown stops the embedded HTTP server if it is running.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.httpServerMu.Lock()
	srv := g.httpServer
	g.httpServer = nil
	g.httpServerMu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// Sync reconciles the registered tools with the backend's current catalog.
func (g *Gateway) Sync(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, g.opts.SyncTimeout)
	defer cancel()
	snapshot := g.backend.InitializeAndListTools(ctx)
	removed, added := g.features.Replace(snapshot.Tools)

	g.serverMu.Lock()
	defer g.serverMu.Unlock()
	if len(removed) > 0 {
		g.server.RemoveTools(removed...)
	}
	for _, reg := range added {
		g.server.AddTool(reg.Tool, g.makeToolHandler(reg.Target))
	}
	if len(removed) > 0 || len(added) > 0 {
		g.opts.Logger.Info("gateway catalog synchronized", "removed", len(removed), "added", len(added), "servers", snapshot.ConnectedServerIDs)
	}
}

func (g *Gateway) syncBeforeList(next mcp.MethodHandler) mcp.MethodHandler {
	return func(ctx context.Context, method string, req mcp.Request) (mcp.Result, error) {
		if method == "tools/list" {
			g.Sync(ctx)
		}
		return next(ctx, method, req)
	}
}

func (g *Gateway) makeToolHandler(target toolTarget) mcp.ToolHandler {
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var raw any
		if req != nil && req.Params != nil {
			raw = req.Params.Arguments
		}
		args, err := decodeArguments(raw)
		if err != nil {
			return errorResult(fmt.Errorf("mcpgateway: decoding arguments for %s: %w", target.GatewayName, err)), nil
		}
		res, err := g.backend.ExecuteTool(ctx, target.ServerID, target.NativeName, args)
		if err != nil {
			g.logError("execute tool", err, "server", target.ServerID, "tool", target.NativeName)
			return errorResult(err), nil
		}
		return res, nil
	}
}

// decodeArguments accepts the raw JSON or already-decoded forms the SDK may
// hand to a tool handler.
func decodeArguments(raw any) (map[string]any, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		return v, nil
	case json.RawMessage:
		return decodeObject(v)
	case []byte:
		return decodeObject(v)
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	return decodeObject(data)
}

func decodeObject(data []byte) (map[string]any, error) {
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func errorResult(err error) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: err.Error()}},
	}
}

func (g *Gateway) mountHandler() *http.ServeMux {
	path := g.opts.Path
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	mux := http.NewServeMux()
	mux.Handle(path, g.streamHandler)
	if !strings.HasSuffix(path, "/") {
		mux.Handle(path+"/", g.streamHandler)
	}
	return mux
}

func (g *Gateway) logError(msg string, err error, args ...any) {
	if err == nil {
		return
	}
	attrs := append([]any{"error", err}, args...)
	g.opts.Logger.Error(msg, attrs...)
}
