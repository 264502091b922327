// Package facade is the process-wide entry point to the connection manager.
// It creates and initializes the manager lazily on first use, shares a single
// in-flight initialization between concurrent callers, and degrades read
// paths to empty results when the manager is unavailable.
package facade

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/sync/singleflight"

	"github.com/vikashloomba/mcp-stdio-manager-go/pkg/mcpmgr"
)

// ErrManagerUnavailable is returned when initialization completed but the
// manager was torn down before the caller could use it.
var ErrManagerUnavailable = errors.New("facade: manager unavailable after initialization")

// DefaultInitTimeout bounds a shared initialization.
const DefaultInitTimeout = 2 * time.Minute

// Manager is the subset of *mcpmgr.Manager the façade drives.
type Manager interface {
	Initialize(ctx context.Context, registry mcpmgr.Registry) error
	IsInitialized() bool
	ListAllAvailableTools() []mcpmgr.ToolCatalogEntry
	ConnectedServerIDs() []string
	GetConnectedServersInfo() []mcpmgr.ServerSummary
	ExecuteTool(ctx context.Context, serverID, toolName string, args map[string]any) (*mcp.CallToolResult, error)
	DisconnectAll(ctx context.Context) error
}

// Options configure a Facade.
type Options struct {
	// Manager is passed to mcpmgr.NewManager when NewManager is nil.
	Manager *mcpmgr.ManagerOptions
	// NewManager overrides how a manager is created.
	NewManager func() Manager
	// InitTimeout bounds a shared initialization. Defaults to 2 minutes.
	InitTimeout time.Duration
	// Logger receives structured diagnostics.
	Logger *slog.Logger
}

func (o *Options) withDefaults() Options {
	if o == nil {
		o = &Options{}
	}
	opts := *o
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.InitTimeout <= 0 {
		opts.InitTimeout = DefaultInitTimeout
	}
	if opts.NewManager == nil {
		mgrOpts := opts.Manager
		opts.NewManager = func() Manager { return mcpmgr.NewManager(mgrOpts) }
	}
	return opts
}

// CatalogSnapshot is the catalog view returned to UI callers.
type CatalogSnapshot struct {
	Tools              []mcpmgr.ToolCatalogEntry `json:"tools"`
	ConnectedServerIDs []string                  `json:"connectedServerIds"`
}

// Facade owns at most one manager at a time.
type Facade struct {
	registry mcpmgr.Registry
	opts     Options
	logger   *slog.Logger

	mu      sync.Mutex
	manager Manager

	inflight singleflight.Group
}

const initKey = "initialize"

// New returns a Facade that will connect the providers of registry on first
// use.
func New(registry mcpmgr.Registry, opts *Options) *Facade {
	options := opts.withDefaults()
	return &Facade{
		registry: registry,
		opts:     options,
		logger:   options.Logger,
	}
}

// Manager returns an initialized manager, creating and initializing one if
// necessary. Concurrent callers share one initialization, which runs detached
// from any single caller's cancellation; a caller whose ctx ends stops waiting
// but does not abort the shared work.
func (f *Facade) Manager(ctx context.Context) (Manager, error) {
	f.mu.Lock()
	if mgr := f.manager; mgr != nil && mgr.IsInitialized() {
		f.mu.Unlock()
		return mgr, nil
	}
	f.mu.Unlock()

	ch := f.inflight.DoChan(initKey, func() (any, error) {
		return nil, f.initialize(context.WithoutCancel(ctx))
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.manager == nil {
		return nil, ErrManagerUnavailable
	}
	return f.manager, nil
}

func (f *Facade) initialize(ctx context.Context) error {
	f.mu.Lock()
	mgr := f.manager
	if mgr == nil {
		f.logger.Info("creating connection manager")
		mgr = f.opts.NewManager()
		f.manager = mgr
	}
	f.mu.Unlock()

	initCtx, cancel := context.WithTimeout(ctx, f.opts.InitTimeout)
	defer cancel()
	if err := mgr.Initialize(initCtx, f.registry); err != nil {
		f.logger.Error("connection manager initialization failed", "error", err)
		f.mu.Lock()
		if f.manager == mgr {
			f.manager = nil
		}
		f.mu.Unlock()
		if derr := mgr.DisconnectAll(ctx); derr != nil {
			f.logger.Warn("tearing down failed manager", "error", derr)
		}
		return fmt.Errorf("facade: initialize: %w", err)
	}

	f.mu.Lock()
	dropped := f.manager != mgr
	f.mu.Unlock()
	if dropped {
		f.logger.Info("manager was disconnected during initialization, tearing it down")
		if derr := mgr.DisconnectAll(ctx); derr != nil {
			f.logger.Warn("tearing down dropped manager", "error", derr)
		}
	}
	return nil
}

// InitializeAndListTools returns the catalog of every connected provider. It
// never fails; an unavailable manager yields an empty snapshot.
func (f *Facade) InitializeAndListTools(ctx context.Context) CatalogSnapshot {
	mgr, err := f.Manager(ctx)
	if err != nil {
		f.logger.Error("listing tools", "error", err)
		return CatalogSnapshot{Tools: []mcpmgr.ToolCatalogEntry{}, ConnectedServerIDs: []string{}}
	}
	return CatalogSnapshot{
		Tools:              mgr.ListAllAvailableTools(),
		ConnectedServerIDs: mgr.ConnectedServerIDs(),
	}
}

// GetConnectedServersInfo returns summaries of the connected providers, or an
// empty list when the manager is unavailable.
func (f *Facade) GetConnectedServersInfo(ctx context.Context) []mcpmgr.ServerSummary {
	mgr, err := f.Manager(ctx)
	if err != nil {
		f.logger.Error("listing servers", "error", err)
		return []mcpmgr.ServerSummary{}
	}
	return mgr.GetConnectedServersInfo()
}

// ExecuteTool forwards to the manager. Every failure is returned to the caller.
func (f *Facade) ExecuteTool(ctx context.Context, serverID, toolName string, args map[string]any) (*mcp.CallToolResult, error) {
	mgr, err := f.Manager(ctx)
	if err != nil {
		return nil, err
	}
	return mgr.ExecuteTool(ctx, serverID, toolName, args)
}

// DisconnectAll tears down the current manager, if any, and forgets it. It
// never creates a manager.
func (f *Facade) DisconnectAll(ctx context.Context) error {
	f.mu.Lock()
	mgr := f.manager
	f.manager = nil
	f.mu.Unlock()
	if mgr == nil {
		f.logger.Info("no connection manager to disconnect")
		return nil
	}
	f.logger.Info("disconnecting all providers")
	return mgr.DisconnectAll(ctx)
}

// Close is DisconnectAll, for shutdown paths.
func (f *Facade) Close(ctx context.Context) error {
	return f.DisconnectAll(ctx)
}
