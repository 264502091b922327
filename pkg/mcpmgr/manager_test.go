package mcpmgr

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func countSpawns(m *Manager) *atomic.Int32 {
	var n atomic.Int32
	next := m.start
	m.start = func(serverID string, pc ProcessConfig, logger *slog.Logger) (*process, error) {
		n.Add(1)
		return next(serverID, pc, logger)
	}
	return &n
}

func firstText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, res)
	require.NotEmpty(t, res.Content)
	text, ok := res.Content[0].(*mcp.TextContent)
	require.True(t, ok, "expected text content, got %T", res.Content[0])
	return text.Text
}

func TestNewManagerDefaults(t *testing.T) {
	t.Parallel()

	m := NewManager(nil)
	assert.Equal(t, DefaultClientName, m.options.ClientName)
	assert.Equal(t, DefaultClientVersion, m.options.ClientVersion)
	assert.Equal(t, DefaultDiscoveryTimeout, m.options.DiscoveryTimeout)
	assert.Equal(t, DefaultExecuteTimeout, m.options.ExecuteTimeout)
	assert.Equal(t, DefaultTerminationGrace, m.options.TerminationGrace)
	assert.False(t, m.IsInitialized())
	assert.Empty(t, m.ListAllAvailableTools())
	assert.Empty(t, m.GetConnectedServersInfo())

	custom := NewManager(&ManagerOptions{ExecuteTimeout: -1, ClientName: "custom"})
	assert.Equal(t, "custom", custom.options.ClientName)
	assert.Less(t, custom.options.ExecuteTimeout, time.Duration(0))
}

func TestExecuteToolOnUnknownServerDoesNotSpawn(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, nil)
	spawns := countSpawns(m)

	_, err := m.ExecuteTool(context.Background(), "missing", "echo", nil)
	require.ErrorIs(t, err, ErrNotConnected)
	assert.Zero(t, spawns.Load())

	_, err = m.ListTools("missing")
	require.ErrorIs(t, err, ErrNotConnected)
}

func TestDisconnectUnknownServerIsNoop(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, nil)
	require.NoError(t, m.Disconnect(context.Background(), "missing"))
	require.NoError(t, m.DisconnectAll(context.Background()))
	assert.False(t, m.IsInitialized())
}

func TestConnectSpawnFailureLeavesNoEntry(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, nil)
	cfg := ServerConfig{ID: "ghost", Process: ProcessConfig{Command: "/nonexistent/provider-binary"}}

	err := m.Connect(context.Background(), cfg)
	require.ErrorIs(t, err, ErrSpawn)
	assert.False(t, m.IsConnected("ghost"))

	err = m.Connect(context.Background(), ServerConfig{ID: "empty"})
	require.ErrorIs(t, err, ErrSpawn)

	// ConnectServer swallows the same failure.
	m.ConnectServer(context.Background(), cfg)
	assert.Empty(t, m.ConnectedServerIDs())
}

func TestRemoveIfGenerationIgnoresStaleGeneration(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, nil)
	current := &connection{id: "srv", generation: 2}
	m.conns["srv"] = current

	assert.Nil(t, m.removeIfGeneration("srv", 1))
	assert.True(t, m.IsConnected("srv"))

	assert.Same(t, current, m.removeIfGeneration("srv", 2))
	assert.False(t, m.IsConnected("srv"))
	assert.Nil(t, m.removeIfGeneration("srv", 2))
}

func TestCatalogOrderingFromTable(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, nil)
	m.conns["beta"] = &connection{
		id:     "beta",
		config: ServerConfig{ID: "beta", Name: "Beta", Tags: []string{"b"}},
		tools:  []Tool{{Name: "z"}, {Name: "a"}},
	}
	m.conns["alpha"] = &connection{
		id:     "alpha",
		config: ServerConfig{ID: "alpha", Name: "Alpha"},
		tools:  []Tool{{Name: "only", Description: "the only tool"}},
	}
	t.Cleanup(func() {
		m.mu.Lock()
		clear(m.conns)
		m.mu.Unlock()
	})

	catalog := m.ListAllAvailableTools()
	require.Len(t, catalog, 3)
	assert.Equal(t, ToolCatalogEntry{ServerID: "alpha", Name: "only", Description: "the only tool"}, catalog[0])
	assert.Equal(t, "beta", catalog[1].ServerID)
	assert.Equal(t, "z", catalog[1].Name)
	assert.Equal(t, "a", catalog[2].Name)

	info := m.GetConnectedServersInfo()
	require.Len(t, info, 2)
	assert.Equal(t, ServerSummary{ID: "alpha", Name: "Alpha", Tags: nil, ToolsCount: 1}, info[0])
	assert.Equal(t, 2, info[1].ToolsCount)
	assert.Equal(t, []string{"b"}, info[1].Tags)
}

func TestConnectAndExecute(t *testing.T) {
	requireIntegration(t)
	t.Parallel()

	m := newTestManager(t, nil)
	cfg := helperConfig(t, "helper", "serve", map[string]string{"MCPMGR_PROBE": "override"})
	ctx := context.Background()

	require.NoError(t, m.Connect(ctx, cfg))
	require.True(t, m.IsConnected("helper"))

	tools, err := m.ListTools("helper")
	require.NoError(t, err)
	names := make([]string, 0, len(tools))
	for _, tool := range tools {
		names = append(names, tool.Name)
		assert.NotNil(t, tool.InputSchema)
	}
	// Five tools over a page size of two exercises cursor paging.
	assert.ElementsMatch(t, []string{"echo", "env", "fail", "sleep", "exit"}, names)

	catalog := m.ListAllAvailableTools()
	assert.Len(t, catalog, 5)
	var echo *ToolCatalogEntry
	for i, entry := range catalog {
		assert.Equal(t, "helper", entry.ServerID)
		if entry.Name == "echo" {
			echo = &catalog[i]
		}
	}
	require.NotNil(t, echo)
	assert.Equal(t, ToolCatalogEntry{
		ServerID:    "helper",
		Name:        "echo",
		Description: "Echo the text argument",
		InputSchema: echoSchema,
	}, *echo)

	info := m.GetConnectedServersInfo()
	require.Len(t, info, 1)
	assert.Equal(t, "Helper helper", info[0].Name)
	assert.Equal(t, "flask", info[0].Icon)
	assert.Equal(t, 5, info[0].ToolsCount)

	res, err := m.ExecuteTool(ctx, "helper", "echo", map[string]any{"text": "hi"})
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Equal(t, "echo: hi", firstText(t, res))

	res, err = m.ExecuteTool(ctx, "helper", "env", map[string]any{"key": "MCPMGR_PROBE"})
	require.NoError(t, err)
	assert.Equal(t, "override", firstText(t, res))

	res, err = m.ExecuteTool(ctx, "helper", "fail", nil)
	require.NoError(t, err)
	assert.True(t, res.IsError)

	_, err = m.ExecuteTool(ctx, "helper", "does-not-exist", nil)
	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, "helper", remote.ServerID)
	assert.Equal(t, "does-not-exist", remote.Tool)

	// A second connect for a present ID is a no-op.
	spawns := countSpawns(m)
	require.NoError(t, m.Connect(ctx, cfg))
	assert.Zero(t, spawns.Load())
}

func TestConcurrentConnectSpawnsOnce(t *testing.T) {
	requireIntegration(t)
	t.Parallel()

	m := newTestManager(t, nil)
	spawns := countSpawns(m)
	cfg := helperConfig(t, "shared", "serve", nil)

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = m.Connect(context.Background(), cfg)
		}()
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.EqualValues(t, 1, spawns.Load())
	assert.Equal(t, []string{"shared"}, m.ConnectedServerIDs())
}

func TestInitializeSettlesMixedRegistry(t *testing.T) {
	requireIntegration(t)
	t.Parallel()

	m := newTestManager(t, &ManagerOptions{MaxConcurrentConnects: 2, HandshakeTimeout: 2 * time.Second})
	spawns := countSpawns(m)

	manual := helperConfig(t, "manual", "serve", nil)
	manual.AutoConnect = false
	registry := NewRegistry(
		helperConfig(t, "good", "serve", nil),
		helperConfig(t, "crash", "crash", nil),
		helperConfig(t, "silent", "silent", nil),
		manual,
	)

	require.NoError(t, m.Initialize(context.Background(), registry))
	assert.True(t, m.IsInitialized())
	assert.Equal(t, []string{"good"}, m.ConnectedServerIDs())
	assert.EqualValues(t, 3, spawns.Load())

	// Idempotent.
	require.NoError(t, m.Initialize(context.Background(), registry))
	assert.EqualValues(t, 3, spawns.Load())

	require.NoError(t, m.DisconnectAll(context.Background()))
	assert.False(t, m.IsInitialized())
	assert.Empty(t, m.ConnectedServerIDs())
}

func TestInitializeCancelledContext(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := m.Initialize(ctx, NewRegistry())
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, m.IsInitialized())
}

func TestHandshakeFailureKillsProcess(t *testing.T) {
	requireIntegration(t)
	t.Parallel()

	m := newTestManager(t, &ManagerOptions{HandshakeTimeout: 300 * time.Millisecond})
	var proc *process
	next := m.start
	m.start = func(serverID string, pc ProcessConfig, logger *slog.Logger) (*process, error) {
		p, err := next(serverID, pc, logger)
		proc = p
		return p, err
	}

	err := m.Connect(context.Background(), helperConfig(t, "silent", "silent", nil))
	require.ErrorIs(t, err, ErrHandshake)
	assert.False(t, m.IsConnected("silent"))

	require.NotNil(t, proc)
	select {
	case <-proc.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("provider still running after failed handshake")
	}
}

func TestDiscoveryTimeout(t *testing.T) {
	requireIntegration(t)
	t.Parallel()

	m := newTestManager(t, &ManagerOptions{DiscoveryTimeout: 300 * time.Millisecond})
	start := time.Now()
	err := m.Connect(context.Background(), helperConfig(t, "slow", "slow-list", nil))
	require.ErrorIs(t, err, ErrRequestTimeout)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.False(t, m.IsConnected("slow"))
}

func TestInitializeBoundsUnresponsiveHandshake(t *testing.T) {
	requireIntegration(t)
	t.Parallel()

	m := newTestManager(t, &ManagerOptions{HandshakeTimeout: 300 * time.Millisecond})
	registry := NewRegistry(helperConfig(t, "silent", "silent", nil))

	done := make(chan error, 1)
	start := time.Now()
	go func() { done <- m.Initialize(context.Background(), registry) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Initialize blocked on a provider that never answers initialize")
	}
	assert.Less(t, time.Since(start), 3*time.Second)
	assert.True(t, m.IsInitialized())
	assert.Empty(t, m.ConnectedServerIDs())
}

func TestDisconnectUnblocksHungExecute(t *testing.T) {
	requireIntegration(t)
	t.Parallel()

	m := newTestManager(t, nil)
	require.NoError(t, m.Connect(context.Background(), helperConfig(t, "busy", "serve", nil)))

	m.mu.Lock()
	proc := m.conns["busy"].proc
	m.mu.Unlock()

	execErr := make(chan error, 1)
	go func() {
		_, err := m.ExecuteTool(context.Background(), "busy", "sleep", map[string]any{"millis": 8000})
		execErr <- err
	}()
	time.Sleep(200 * time.Millisecond)

	disconnected := make(chan error, 1)
	start := time.Now()
	go func() { disconnected <- m.Disconnect(context.Background(), "busy") }()

	select {
	case err := <-disconnected:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Disconnect blocked behind an in-flight tool call")
	}
	assert.Less(t, time.Since(start), 3*time.Second)

	select {
	case <-proc.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("provider still running after Disconnect")
	}
	select {
	case err := <-execErr:
		require.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("in-flight ExecuteTool did not return after Disconnect")
	}
}

func TestDisconnectAllDuringInitialize(t *testing.T) {
	requireIntegration(t)
	t.Parallel()

	m := newTestManager(t, nil)
	var proc atomic.Pointer[process]
	next := m.start
	m.start = func(serverID string, pc ProcessConfig, logger *slog.Logger) (*process, error) {
		p, err := next(serverID, pc, logger)
		proc.Store(p)
		return p, err
	}
	registry := NewRegistry(helperConfig(t, "slow", "slow-list", nil))

	initErr := make(chan error, 1)
	go func() { initErr <- m.Initialize(context.Background(), registry) }()
	require.Eventually(t, func() bool { return proc.Load() != nil }, 5*time.Second, 10*time.Millisecond)
	// Let the attempt reach the stalled tools/list.
	time.Sleep(500 * time.Millisecond)

	require.NoError(t, m.DisconnectAll(context.Background()))

	select {
	case err := <-initErr:
		require.ErrorIs(t, err, ErrDisconnected)
	case <-time.After(5 * time.Second):
		t.Fatal("Initialize did not return after DisconnectAll")
	}
	assert.False(t, m.IsInitialized())
	assert.Empty(t, m.ConnectedServerIDs())

	select {
	case <-proc.Load().Done():
	case <-time.After(5 * time.Second):
		t.Fatal("provider of the cancelled connect is still running")
	}
}

func TestConcurrentConnectReturnsSharedFailure(t *testing.T) {
	requireIntegration(t)
	t.Parallel()

	m := newTestManager(t, &ManagerOptions{HandshakeTimeout: 300 * time.Millisecond})
	spawns := countSpawns(m)
	cfg := helperConfig(t, "silent", "silent", nil)

	var wg sync.WaitGroup
	errs := make([]error, 3)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = m.Connect(context.Background(), cfg)
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, spawns.Load())
	for _, err := range errs {
		require.ErrorIs(t, err, ErrHandshake)
	}
	assert.False(t, m.IsConnected("silent"))
}

func TestExecuteTimeout(t *testing.T) {
	requireIntegration(t)
	t.Parallel()

	m := newTestManager(t, &ManagerOptions{ExecuteTimeout: 200 * time.Millisecond})
	require.NoError(t, m.Connect(context.Background(), helperConfig(t, "sleepy", "serve", nil)))

	_, err := m.ExecuteTool(context.Background(), "sleepy", "sleep", map[string]any{"millis": 5000})
	require.ErrorIs(t, err, ErrRequestTimeout)
}

func TestExecuteValidatesArguments(t *testing.T) {
	requireIntegration(t)
	t.Parallel()

	m := newTestManager(t, &ManagerOptions{ValidateArguments: true})
	require.NoError(t, m.Connect(context.Background(), helperConfig(t, "strict", "serve", nil)))

	_, err := m.ExecuteTool(context.Background(), "strict", "echo", map[string]any{"text": 42})
	require.ErrorIs(t, err, ErrInvalidArguments)

	res, err := m.ExecuteTool(context.Background(), "strict", "echo", map[string]any{"text": "ok"})
	require.NoError(t, err)
	assert.Equal(t, "echo: ok", firstText(t, res))
}

func TestProviderExitRemovesConnection(t *testing.T) {
	requireIntegration(t)
	t.Parallel()

	m := newTestManager(t, nil)
	require.NoError(t, m.Connect(context.Background(), helperConfig(t, "mortal", "serve", nil)))

	_, err := m.ExecuteTool(context.Background(), "mortal", "exit", nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return !m.IsConnected("mortal") }, 5*time.Second, 20*time.Millisecond)
	_, err = m.ExecuteTool(context.Background(), "mortal", "echo", map[string]any{"text": "x"})
	require.ErrorIs(t, err, ErrNotConnected)
}

func TestDisconnectSendsSIGTERM(t *testing.T) {
	requireIntegration(t)
	t.Parallel()

	marker := markerPath(t)
	m := newTestManager(t, nil)
	require.NoError(t, m.Connect(context.Background(), helperConfig(t, "graceful", "trap-term", map[string]string{helperMarkerEnv: marker})))

	m.mu.Lock()
	proc := m.conns["graceful"].proc
	m.mu.Unlock()

	require.NoError(t, m.Disconnect(context.Background(), "graceful"))
	assert.False(t, m.IsConnected("graceful"))

	<-proc.Done()
	data, err := os.ReadFile(marker)
	require.NoError(t, err)
	assert.Equal(t, "SIGTERM", string(data))
}

func TestDisconnectEscalatesToSIGKILL(t *testing.T) {
	requireIntegration(t)
	t.Parallel()

	grace := 100 * time.Millisecond
	m := newTestManager(t, &ManagerOptions{TerminationGrace: grace})
	require.NoError(t, m.Connect(context.Background(), helperConfig(t, "stubborn", "ignore-term", nil)))

	m.mu.Lock()
	proc := m.conns["stubborn"].proc
	m.mu.Unlock()

	start := time.Now()
	require.NoError(t, m.Disconnect(context.Background(), "stubborn"))
	assert.Less(t, time.Since(start), 5*time.Second)

	select {
	case <-proc.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("provider survived SIGKILL")
	}
	assert.Equal(t, ProcessExited, proc.State())
}

func TestReconnectAfterDisconnect(t *testing.T) {
	requireIntegration(t)
	t.Parallel()

	m := newTestManager(t, nil)
	cfg := helperConfig(t, "again", "serve", nil)
	ctx := context.Background()

	require.NoError(t, m.Connect(ctx, cfg))
	require.NoError(t, m.Disconnect(ctx, "again"))
	require.NoError(t, m.Connect(ctx, cfg))

	res, err := m.ExecuteTool(ctx, "again", "echo", map[string]any{"text": "back"})
	require.NoError(t, err)
	assert.Equal(t, "echo: back", firstText(t, res))

	// The first generation's exit must not evict the second.
	time.Sleep(200 * time.Millisecond)
	assert.True(t, m.IsConnected("again"))
}

func TestRemoteErrorFormatting(t *testing.T) {
	t.Parallel()

	base := errors.New("tool not found")
	err := &RemoteError{ServerID: "srv", Method: "tools/call", Tool: "x", Err: base}
	assert.Equal(t, `mcpmgr: srv tools/call "x": tool not found`, err.Error())
	assert.ErrorIs(t, err, base)

	listErr := &RemoteError{ServerID: "srv", Method: "tools/list", Err: base}
	assert.Equal(t, "mcpmgr: srv tools/list: tool not found", listErr.Error())
}
