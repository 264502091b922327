package mcpmgr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/sync/errgroup"
)

// Manager owns the set of live provider connections.
type Manager struct {
	mu sync.Mutex

	options ManagerOptions
	logger  *slog.Logger

	conns       map[string]*connection
	connecting  map[string]*connectAttempt
	initialized bool
	generation  uint64
	// epoch advances on every DisconnectAll. Attempts and initializations
	// started in an older epoch must not publish their results.
	epoch uint64

	// start is swapped in tests to observe spawns.
	start func(serverID string, pc ProcessConfig, logger *slog.Logger) (*process, error)
}

// NewManager constructs an empty Manager. Callers can provide nil options to
// fall back to the package defaults.
func NewManager(opts *ManagerOptions) *Manager {
	options := opts.withDefaults()
	return &Manager{
		options:    options,
		logger:     options.Logger,
		conns:      make(map[string]*connection),
		connecting: make(map[string]*connectAttempt),
		start:      startProcess,
	}
}

// Initialize connects every AutoConnect entry of registry concurrently and
// waits for all attempts to settle. Individual failures are logged and never
// fail the batch. A second call is a no-op.
//
// The returned error is non-nil only when ctx ends before the batch settles or
// DisconnectAll runs meanwhile; the manager is then left uninitialized.
func (m *Manager) Initialize(ctx context.Context, registry Registry) error {
	m.mu.Lock()
	if m.initialized {
		m.mu.Unlock()
		m.logger.Info("manager already initialized")
		return nil
	}
	epoch := m.epoch
	m.mu.Unlock()

	targets := registry.AutoConnect()
	m.logger.Info("initializing manager", "servers", len(registry), "autoConnect", len(targets))

	var g errgroup.Group
	if m.options.MaxConcurrentConnects > 0 {
		g.SetLimit(m.options.MaxConcurrentConnects)
	}
	for _, cfg := range targets {
		g.Go(func() error {
			m.ConnectServer(ctx, cfg)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mcpmgr: initialize: %w", err)
	}
	m.mu.Lock()
	if m.epoch != epoch {
		m.mu.Unlock()
		return fmt.Errorf("mcpmgr: initialize: %w", ErrDisconnected)
	}
	m.initialized = true
	m.mu.Unlock()
	m.logger.Info("manager initialized", "connected", m.ConnectedServerIDs())
	return nil
}

// IsInitialized reports whether Initialize has completed since construction or
// the last DisconnectAll.
func (m *Manager) IsInitialized() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.initialized
}

// ConnectServer attempts to connect cfg and logs, rather than returns, any
// failure. Use Connect to observe the error.
func (m *Manager) ConnectServer(ctx context.Context, cfg ServerConfig) {
	if err := m.Connect(ctx, cfg); err != nil {
		m.logger.Error("failed to connect server", "server", cfg.ID, "name", cfg.Name, "error", err)
	}
}

type connectAttempt struct {
	done   chan struct{}
	cancel context.CancelFunc
	err    error
}

// Connect spawns the provider described by cfg, performs the handshake and
// discovers its tools. It is a no-op when cfg.ID is already connected; when an
// attempt for the same ID is in flight it waits for that attempt and returns
// its result without spawning. On failure no entry is left behind and the
// process is killed.
func (m *Manager) Connect(ctx context.Context, cfg ServerConfig) error {
	if strings.TrimSpace(cfg.ID) == "" {
		return errors.New("mcpmgr: server id is required")
	}

	m.mu.Lock()
	if _, ok := m.conns[cfg.ID]; ok {
		m.mu.Unlock()
		m.logger.Info("server already connected", "server", cfg.ID)
		return nil
	}
	if inflight, ok := m.connecting[cfg.ID]; ok {
		m.mu.Unlock()
		m.logger.Info("connection already in progress", "server", cfg.ID)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-inflight.done:
			return inflight.err
		}
	}
	ctx, cancel := context.WithCancel(ctx)
	attempt := &connectAttempt{done: make(chan struct{}), cancel: cancel}
	m.connecting[cfg.ID] = attempt
	m.generation++
	gen, epoch := m.generation, m.epoch
	m.mu.Unlock()

	defer func() {
		cancel()
		m.mu.Lock()
		if m.connecting[cfg.ID] == attempt {
			delete(m.connecting, cfg.ID)
		}
		m.mu.Unlock()
		close(attempt.done)
	}()
	attempt.err = m.establish(ctx, cfg, gen, epoch)
	return attempt.err
}

func (m *Manager) establish(ctx context.Context, cfg ServerConfig, gen, epoch uint64) (err error) {
	log := m.logger.With("server", cfg.ID)
	log.Info("connecting", "name", cfg.Name, "command", cfg.Process.Command, "args", cfg.Process.Args)

	proc, err := m.start(cfg.ID, cfg.Process, log)
	if err != nil {
		return err
	}
	log.Info("provider spawned", "pid", proc.pid)

	client := newProtocolClient(cfg.ID, m.implementation())
	defer func() {
		if err == nil {
			return
		}
		// Kill first: closing the session waits for outstanding requests,
		// which only fail once the provider's pipes are gone.
		proc.kill()
		proc.closeIO()
		if cerr := client.close(); cerr != nil {
			log.Debug("closing session after failed connect", "error", cerr)
		}
	}()

	go m.watchProcess(cfg.ID, gen, proc, log)

	transport := newTransport(proc, m.rpcLogger())
	err = boundedByProcess(ctx, m.options.HandshakeTimeout, proc, func(ctx context.Context) error {
		return client.connect(ctx, transport)
	})
	if err != nil {
		return err
	}
	var tools []Tool
	err = boundedByProcess(ctx, m.options.DiscoveryTimeout, proc, func(ctx context.Context) error {
		var listErr error
		tools, listErr = client.listTools(ctx)
		return listErr
	})
	if err != nil {
		return err
	}
	log.Info("discovered tools", "count", len(tools))

	conn := &connection{
		id:          cfg.ID,
		generation:  gen,
		proc:        proc,
		client:      client,
		tools:       tools,
		config:      cfg,
		connectedAt: time.Now(),
	}
	m.mu.Lock()
	if m.epoch != epoch {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDisconnected, cfg.ID)
	}
	if !proc.alive() {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s: exited during connect", ErrProcessExited, cfg.ID)
	}
	m.conns[cfg.ID] = conn
	m.mu.Unlock()

	go m.watchSession(conn, log)
	log.Info("server connected", "pid", proc.pid, "tools", len(tools))
	return nil
}

// boundedByProcess runs fn under timeout. If the deadline passes or ctx is
// cancelled first, proc is killed and its pipes closed so that fn, blocked on
// a provider that will never answer, returns.
func boundedByProcess(ctx context.Context, timeout time.Duration, proc *process, fn func(context.Context) error) error {
	ctx, cancel := withTimeout(ctx, timeout)
	defer cancel()

	finished := make(chan struct{})
	watcher := make(chan struct{})
	go func() {
		defer close(watcher)
		select {
		case <-ctx.Done():
			proc.kill()
			proc.closeIO()
		case <-finished:
		}
	}()
	err := fn(ctx)
	close(finished)
	<-watcher
	return err
}

// watchProcess removes the connection of generation gen once its process is
// reaped. Entries of other generations are left alone.
func (m *Manager) watchProcess(id string, gen uint64, proc *process, log *slog.Logger) {
	<-proc.Done()
	if proc.State() == ProcessFailed {
		log.Error("provider process failed", "pid", proc.pid, "error", proc.exitError())
	} else {
		log.Info("provider process exited", "pid", proc.pid, "status", describeExit(proc.exitError()))
	}
	if conn := m.removeIfGeneration(id, gen); conn != nil {
		log.Warn("connection removed after provider exit")
		_ = conn.client.close()
		proc.closeIO()
	}
}

// watchSession tears down the connection if its session ends while the entry
// is still current.
func (m *Manager) watchSession(conn *connection, log *slog.Logger) {
	err := conn.client.wait()
	removed := m.removeIfGeneration(conn.id, conn.generation)
	if removed == nil {
		return
	}
	log.Warn("session closed, removing connection", "error", err)
	conn.proc.terminate(m.options.TerminationGrace)
	conn.proc.closeIO()
}

func (m *Manager) removeIfGeneration(id string, gen uint64) *connection {
	m.mu.Lock()
	defer m.mu.Unlock()
	conn, ok := m.conns[id]
	if !ok || conn.generation != gen {
		return nil
	}
	delete(m.conns, id)
	return conn
}

// ListAllAvailableTools returns the cached tools of every connected server,
// ordered by server ID and then provider order.
func (m *Manager) ListAllAvailableTools() []ToolCatalogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []ToolCatalogEntry{}
	for _, id := range m.connectedIDsLocked() {
		out = append(out, m.conns[id].catalog()...)
	}
	return out
}

// ListTools returns the cached tools of one server.
func (m *Manager) ListTools(serverID string) ([]Tool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conn, ok := m.conns[serverID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotConnected, serverID)
	}
	return append([]Tool(nil), conn.tools...), nil
}

// GetConnectedServersInfo returns a summary of every connected server.
func (m *Manager) GetConnectedServersInfo() []ServerSummary {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []ServerSummary{}
	for _, id := range m.connectedIDsLocked() {
		out = append(out, m.conns[id].summary())
	}
	return out
}

// ConnectedServerIDs returns the IDs of connected servers in sorted order.
func (m *Manager) ConnectedServerIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connectedIDsLocked()
}

// IsConnected reports whether serverID has a live connection.
func (m *Manager) IsConnected(serverID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.conns[serverID]
	return ok
}

func (m *Manager) connectedIDsLocked() []string {
	ids := make([]string, 0, len(m.conns))
	for id := range m.conns {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ExecuteTool invokes toolName on a connected server and returns the provider's
// result unchanged. A result flagged IsError is not a Go error; failures to
// deliver the call or obtain a reply are.
func (m *Manager) ExecuteTool(ctx context.Context, serverID, toolName string, args map[string]any) (*mcp.CallToolResult, error) {
	m.mu.Lock()
	conn, ok := m.conns[serverID]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotConnected, serverID)
	}
	if toolName == "" {
		return nil, fmt.Errorf("%w: %s: tool name is required", ErrInvalidArguments, serverID)
	}
	if m.options.ValidateArguments {
		if tool, found := conn.tool(toolName); found {
			if err := validateArguments(tool, args); err != nil {
				return nil, err
			}
		}
	}

	log := m.logger.With("server", serverID, "tool", toolName)
	log.Info("executing tool")
	res, err := conn.client.callTool(ctx, toolName, args, m.options.ExecuteTimeout)
	if err != nil {
		log.Error("tool execution failed", "error", err)
		return nil, err
	}
	log.Info("tool executed", "isError", res.IsError)
	return res, nil
}

// Disconnect closes the session of serverID and terminates its process:
// SIGTERM first, SIGKILL after the termination grace period. The entry is
// removed before teardown starts. Unknown IDs are a no-op. The only error is
// ctx ending while the session is closing; the process is terminated
// regardless.
func (m *Manager) Disconnect(ctx context.Context, serverID string) error {
	m.mu.Lock()
	conn, ok := m.conns[serverID]
	if ok {
		delete(m.conns, serverID)
	}
	m.mu.Unlock()
	if !ok {
		return nil
	}
	return m.teardown(ctx, conn)
}

func (m *Manager) teardown(ctx context.Context, conn *connection) error {
	log := m.logger.With("server", conn.id)
	log.Info("disconnecting", "pid", conn.proc.pid)

	// Closing the session waits for in-flight requests, so it only gets the
	// grace period before the process is signalled.
	grace := m.options.TerminationGrace
	closed := make(chan error, 1)
	go func() { closed <- conn.client.close() }()
	timer := time.NewTimer(grace)
	defer timer.Stop()
	var ctxErr error
	select {
	case err := <-closed:
		if err != nil {
			log.Warn("error closing session", "error", err)
		}
	case <-timer.C:
		log.Warn("session did not close within grace period", "grace", grace)
	case <-ctx.Done():
		ctxErr = ctx.Err()
		log.Warn("session close interrupted", "error", ctxErr)
	}

	if !conn.proc.terminate(grace) {
		log.Info("provider killed after grace period", "grace", grace)
	}
	conn.proc.closeIO()
	log.Info("disconnected")
	return ctxErr
}

// DisconnectAll cancels connects still in flight, disconnects every server
// concurrently, waits for all of them, clears the table and resets the
// initialized flag. Connects and Initialize calls that were in flight fail
// with ErrDisconnected instead of publishing their results.
func (m *Manager) DisconnectAll(ctx context.Context) error {
	m.mu.Lock()
	m.epoch++
	m.initialized = false
	attempts := make([]*connectAttempt, 0, len(m.connecting))
	for _, attempt := range m.connecting {
		attempt.cancel()
		attempts = append(attempts, attempt)
	}
	m.mu.Unlock()

	var errs []error
wait:
	for _, attempt := range attempts {
		select {
		case <-attempt.done:
		case <-ctx.Done():
			errs = append(errs, fmt.Errorf("mcpmgr: waiting for in-flight connects: %w", ctx.Err()))
			break wait
		}
	}

	ids := m.ConnectedServerIDs()
	m.logger.Info("disconnecting all servers", "count", len(ids), "cancelledConnects", len(attempts))

	results := make([]error, len(ids))
	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = m.Disconnect(ctx, id)
		}()
	}
	wg.Wait()
	errs = append(errs, results...)

	m.mu.Lock()
	var stragglers []*connection
	for id, conn := range m.conns {
		stragglers = append(stragglers, conn)
		delete(m.conns, id)
	}
	m.initialized = false
	m.mu.Unlock()
	for _, conn := range stragglers {
		errs = append(errs, m.teardown(ctx, conn))
	}
	return errors.Join(errs...)
}

func (m *Manager) implementation() *mcp.Implementation {
	return &mcp.Implementation{Name: m.options.ClientName, Version: m.options.ClientVersion}
}

func (m *Manager) rpcLogger() RPCLogger {
	if m.options.RPCLogger != nil {
		return m.options.RPCLogger
	}
	if m.options.LogJSONRPC {
		return func(event RPCLogEvent) {
			m.logger.Debug("jsonrpc", "server", event.ServerID, "direction", string(event.Direction), "message", string(event.Message))
		}
	}
	return nil
}

func describeExit(err error) string {
	if err == nil {
		return "exit status 0"
	}
	return err.Error()
}
