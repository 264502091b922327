package mcpmgr

import (
	"log/slog"
	"time"
)

// RPCDirection represents the direction of an observed JSON-RPC message.
type RPCDirection string

const (
	RPCDirectionSend    RPCDirection = "send"
	RPCDirectionReceive RPCDirection = "receive"
)

// RPCLogEvent encapsulates JSON-RPC traffic for custom logging.
type RPCLogEvent struct {
	Direction RPCDirection
	Message   []byte
	ServerID  string
}

// RPCLogger is invoked for each JSON-RPC message when logging is enabled.
type RPCLogger func(RPCLogEvent)

// ProcessConfig describes how a tool provider process is launched.
type ProcessConfig struct {
	Command string            `json:"command" yaml:"command" toml:"command"`
	Args    []string          `json:"args,omitempty" yaml:"args,omitempty" toml:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty" yaml:"env,omitempty" toml:"env,omitempty"`
	// Dir is the working directory of the child. Empty inherits the host's.
	Dir string `json:"cwd,omitempty" yaml:"cwd,omitempty" toml:"cwd,omitempty"`
}

// ServerConfig is a static registry entry for one tool provider.
type ServerConfig struct {
	ID          string        `json:"id" yaml:"id" toml:"id"`
	Name        string        `json:"name" yaml:"name" toml:"name"`
	Description string        `json:"description,omitempty" yaml:"description,omitempty" toml:"description,omitempty"`
	Process     ProcessConfig `json:"process" yaml:"process" toml:"process"`
	Icon        string        `json:"icon,omitempty" yaml:"icon,omitempty" toml:"icon,omitempty"`
	Tags        []string      `json:"tags,omitempty" yaml:"tags,omitempty" toml:"tags,omitempty"`
	AutoConnect bool          `json:"autoConnect" yaml:"auto_connect" toml:"auto_connect"`
}

const (
	DefaultClientName       = "agent-computer-client"
	DefaultClientVersion    = "1.0.0"
	DefaultHandshakeTimeout = 60 * time.Second
	DefaultDiscoveryTimeout = 15 * time.Second
	DefaultExecuteTimeout   = 60 * time.Second
	DefaultTerminationGrace = 200 * time.Millisecond
)

// ManagerOptions configures a Manager instance. Zero durations select the
// package defaults; negative durations disable the bound.
type ManagerOptions struct {
	// ClientName is the client identity advertised during the handshake.
	ClientName string
	// ClientVersion is the version advertised during the handshake.
	ClientVersion string
	// HandshakeTimeout bounds the initialize exchange.
	HandshakeTimeout time.Duration
	// DiscoveryTimeout bounds tools/list, across every page.
	DiscoveryTimeout time.Duration
	// ExecuteTimeout bounds a single tools/call.
	ExecuteTimeout time.Duration
	// TerminationGrace is how long Disconnect waits after SIGTERM before
	// sending SIGKILL.
	TerminationGrace time.Duration
	// MaxConcurrentConnects caps the number of providers Initialize spawns at
	// once. Zero means no cap.
	MaxConcurrentConnects int
	// ValidateArguments checks tool arguments against the tool's input schema
	// before the call is sent.
	ValidateArguments bool
	// Logger receives structured diagnostics.
	Logger *slog.Logger
	// LogJSONRPC traces every JSON-RPC message at debug level on Logger.
	LogJSONRPC bool
	// RPCLogger provides a custom logger for JSON-RPC traffic; it takes
	// precedence over LogJSONRPC.
	RPCLogger RPCLogger
}

func (o *ManagerOptions) withDefaults() ManagerOptions {
	if o == nil {
		o = &ManagerOptions{}
	}
	opts := *o
	if opts.ClientName == "" {
		opts.ClientName = DefaultClientName
	}
	if opts.ClientVersion == "" {
		opts.ClientVersion = DefaultClientVersion
	}
	if opts.HandshakeTimeout == 0 {
		opts.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if opts.DiscoveryTimeout == 0 {
		opts.DiscoveryTimeout = DefaultDiscoveryTimeout
	}
	if opts.ExecuteTimeout == 0 {
		opts.ExecuteTimeout = DefaultExecuteTimeout
	}
	if opts.TerminationGrace <= 0 {
		opts.TerminationGrace = DefaultTerminationGrace
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return opts
}
