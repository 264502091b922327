package mcpgateway

import (
	"log/slog"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const (
	// DefaultAddr keeps the gateway on the loopback interface; it has no
	// authentication of its own.
	DefaultAddr = "127.0.0.1:8700"
	// DefaultPath is where the Streamable MCP endpoint is mounted.
	DefaultPath = "/mcp"

	defaultSyncTimeout       = 30 * time.Second
	defaultShutdownTimeout   = 10 * time.Second
	defaultReadHeaderTimeout = 10 * time.Second
)

// Options configure a Gateway.
type Options struct {
	// Implementation is reported to downstream clients during initialize.
	Implementation *mcp.Implementation
	// Addr is the listen address used by ListenAndServe. Defaults to
	// DefaultAddr.
	Addr string
	// Path mounts the Streamable endpoint. Defaults to DefaultPath.
	Path string
	// Namespace maps provider tool names to gateway tool names. Defaults to
	// ServerPrefixNamespace.
	Namespace NamespaceStrategy
	// Streamable is passed to mcp.NewStreamableHTTPHandler.
	Streamable mcp.StreamableHTTPOptions
	// SyncTimeout bounds one catalog synchronization, including a first-use
	// initialization of the backend.
	SyncTimeout time.Duration
	// ShutdownTimeout bounds the graceful HTTP shutdown once ListenAndServe's
	// context ends.
	ShutdownTimeout time.Duration
	// OnListen, if set, is called with the bound address once ListenAndServe
	// is accepting connections.
	OnListen func(addr string)
	// Logger receives structured diagnostics.
	Logger *slog.Logger
}

func (o *Options) withDefaults() Options {
	var opts Options
	if o != nil {
		opts = *o
	}
	if opts.Implementation == nil {
		opts.Implementation = &mcp.Implementation{Name: "mcpgateway", Title: "MCP Tool Gateway", Version: "1.0.0"}
	} else {
		impl := *opts.Implementation
		opts.Implementation = &impl
	}
	if opts.Addr == "" {
		opts.Addr = DefaultAddr
	}
	if opts.Path == "" {
		opts.Path = DefaultPath
	}
	if opts.Namespace == nil {
		opts.Namespace = ServerPrefixNamespace{}
	}
	if opts.SyncTimeout <= 0 {
		opts.SyncTimeout = defaultSyncTimeout
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = defaultShutdownTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return opts
}
