package mcpclient

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/coreagent/controller/internal/config"
)

// Multiplexer manages one MCP SDK session per configured binding for a
// single agent instance (spec §4.7). Thread-safe: tool calls and list
// operations may be invoked concurrently by the reasoning loop (C8) and the
// health monitor.
type Multiplexer struct {
	bindings map[string]config.MCPServerSection
	priority []string // binding names in caller-supplied priority order, for tie-breaking

	mu       sync.RWMutex
	sessions map[string]*mcpsdk.ClientSession
	clients  map[string]*mcpsdk.Client
	failed   map[string]string

	toolCacheMu sync.RWMutex
	toolCache   map[string][]*mcpsdk.Tool

	reinitMu sync.Map // binding name -> *sync.Mutex

	appName    string
	appVersion string
	log        *slog.Logger
}

// New constructs a Multiplexer for the given bindings. priorityOrder fixes
// the tie-break order used by Find when the same tool name is exported by
// more than one server (spec §4.7 "ties break by configured server priority
// order, stable across restarts"); cmd/agentrt passes the manifest's
// mcp_servers ids sorted alphabetically.
func New(bindings map[string]config.MCPServerSection, priorityOrder []string, appName, appVersion string) *Multiplexer {
	return &Multiplexer{
		bindings:   bindings,
		priority:   priorityOrder,
		sessions:   make(map[string]*mcpsdk.ClientSession),
		clients:    make(map[string]*mcpsdk.Client),
		failed:     make(map[string]string),
		toolCache:  make(map[string][]*mcpsdk.Tool),
		appName:    appName,
		appVersion: appVersion,
		log:        slog.Default().With("component", "mcpclient"),
	}
}

// Initialize connects every configured binding. Failures are recorded, not
// fatal — the caller (C8 readiness check) decides whether a partial set of
// bindings is acceptable.
func (m *Multiplexer) Initialize(ctx context.Context) {
	for name := range m.bindings {
		if err := m.InitializeBinding(ctx, name); err != nil {
			m.mu.Lock()
			m.failed[name] = err.Error()
			m.mu.Unlock()
			m.log.Warn("mcp binding failed to initialize", "server", name, "error", err)
		}
	}
}

// InitializeBinding connects a single binding; a no-op if already connected.
func (m *Multiplexer) InitializeBinding(ctx context.Context, name string) error {
	muI, _ := m.reinitMu.LoadOrStore(name, &sync.Mutex{})
	mu := muI.(*sync.Mutex)
	mu.Lock()
	defer mu.Unlock()
	return m.initializeLocked(ctx, name)
}

func (m *Multiplexer) initializeLocked(ctx context.Context, name string) error {
	m.mu.RLock()
	_, exists := m.sessions[name]
	m.mu.RUnlock()
	if exists {
		return nil
	}

	cfg, ok := m.bindings[name]
	if !ok {
		return fmt.Errorf("no mcp binding named %q", name)
	}

	transport, err := createTransport(cfg)
	if err != nil {
		return fmt.Errorf("create transport for %q: %w", name, err)
	}

	initCtx, cancel := context.WithTimeout(ctx, initTimeout)
	defer cancel()

	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: m.appName, Version: m.appVersion}, nil)

	session, err := client.Connect(initCtx, transport, nil)
	if err != nil {
		if closer, ok := transport.(io.Closer); ok {
			_ = closer.Close()
		}
		return fmt.Errorf("connect to %q: %w", name, err)
	}

	m.mu.Lock()
	m.sessions[name] = session
	m.clients[name] = client
	delete(m.failed, name)
	m.mu.Unlock()

	m.log.Info("mcp binding connected", "server", name)
	return nil
}

// ListTools returns the cached tool list for a binding, probing the server
// once via tools/list on first access (spec §4.7 "Cache the list per
// binding"). The initialize reply's capabilities are never mined for tools.
func (m *Multiplexer) ListTools(ctx context.Context, name string) ([]*mcpsdk.Tool, error) {
	m.toolCacheMu.RLock()
	if cached, ok := m.toolCache[name]; ok {
		m.toolCacheMu.RUnlock()
		return cached, nil
	}
	m.toolCacheMu.RUnlock()

	m.mu.RLock()
	session, exists := m.sessions[name]
	m.mu.RUnlock()
	if !exists {
		return nil, fmt.Errorf("no session for mcp binding %q", name)
	}

	opCtx, cancel := context.WithTimeout(ctx, operationTimeout)
	defer cancel()

	result, err := session.ListTools(opCtx, nil)
	if err != nil {
		return nil, fmt.Errorf("list tools from %q: %w", name, err)
	}

	tools := result.Tools
	if tools == nil {
		tools = []*mcpsdk.Tool{}
	}
	m.toolCacheMu.Lock()
	m.toolCache[name] = tools
	m.toolCacheMu.Unlock()
	return tools, nil
}

// ListAllTools probes every connected binding, returning partial results if
// some fail; it errors only when every binding fails.
func (m *Multiplexer) ListAllTools(ctx context.Context) (map[string][]*mcpsdk.Tool, error) {
	m.mu.RLock()
	names := make([]string, 0, len(m.sessions))
	for n := range m.sessions {
		names = append(names, n)
	}
	m.mu.RUnlock()

	out := make(map[string][]*mcpsdk.Tool)
	var lastErr error
	for _, n := range names {
		tools, err := m.ListTools(ctx, n)
		if err != nil {
			lastErr = err
			m.log.Warn("failed to list tools", "server", n, "error", err)
			continue
		}
		out[n] = tools
	}
	if len(out) == 0 && lastErr != nil {
		return nil, fmt.Errorf("all mcp bindings failed to list tools: %w", lastErr)
	}
	return out, nil
}

// CallTool invokes tools/call on a binding, retrying once with a recreated
// session on a connection-level failure (spec §4.7 "On transport failure,
// the binding is marked unhealthy; the multiplexer does not silently
// retry" — the single bounded retry here recreates the session explicitly
// rather than silently resending against a known-broken one).
func (m *Multiplexer) CallTool(ctx context.Context, server, tool string, args map[string]any) (*mcpsdk.CallToolResult, error) {
	params := &mcpsdk.CallToolParams{Name: tool, Arguments: args}

	result, err := m.callOnce(ctx, server, params)
	if err == nil {
		return result, nil
	}

	action := classifyError(err)
	if action == noRetry {
		return nil, err
	}

	backoff := retryBackoffMin + time.Duration(rand.Int64N(int64(retryBackoffMax-retryBackoffMin)))
	select {
	case <-time.After(backoff):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if err := m.recreateSession(ctx, server); err != nil {
		return nil, fmt.Errorf("session recreation failed for %q: %w", server, err)
	}

	result, err = m.callOnce(ctx, server, params)
	if err != nil {
		return nil, fmt.Errorf("retry failed for %q.%s: %w", server, tool, err)
	}
	return result, nil
}

func (m *Multiplexer) callOnce(ctx context.Context, server string, params *mcpsdk.CallToolParams) (*mcpsdk.CallToolResult, error) {
	m.mu.RLock()
	session, exists := m.sessions[server]
	m.mu.RUnlock()
	if !exists {
		return nil, fmt.Errorf("no session for mcp binding %q", server)
	}
	opCtx, cancel := context.WithTimeout(ctx, operationTimeout)
	defer cancel()
	return session.CallTool(opCtx, params)
}

func (m *Multiplexer) recreateSession(ctx context.Context, name string) error {
	muI, _ := m.reinitMu.LoadOrStore(name, &sync.Mutex{})
	mu := muI.(*sync.Mutex)
	mu.Lock()
	defer mu.Unlock()

	m.mu.Lock()
	if session, exists := m.sessions[name]; exists {
		_ = session.Close()
		delete(m.sessions, name)
		delete(m.clients, name)
	}
	m.mu.Unlock()

	m.InvalidateToolCache(name)

	reinitCtx, cancel := context.WithTimeout(ctx, reinitTimeout)
	defer cancel()
	return m.initializeLocked(reinitCtx, name)
}

// InvalidateToolCache forces the next ListTools call to re-probe a binding.
func (m *Multiplexer) InvalidateToolCache(name string) {
	m.toolCacheMu.Lock()
	delete(m.toolCache, name)
	m.toolCacheMu.Unlock()
}

// HasSession reports whether a binding has an active session.
func (m *Multiplexer) HasSession(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.sessions[name]
	return ok
}

// FailedBindings returns the bindings that failed to initialize.
func (m *Multiplexer) FailedBindings() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]string, len(m.failed))
	for k, v := range m.failed {
		out[k] = v
	}
	return out
}

// Close shuts down every session (spec §4.12's shutdown fan-out calls this).
func (m *Multiplexer) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var firstErr error
	for name, session := range m.sessions {
		if err := session.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close %q: %w", name, err)
		}
	}
	m.sessions = make(map[string]*mcpsdk.ClientSession)
	m.clients = make(map[string]*mcpsdk.Client)
	m.failed = make(map[string]string)

	m.toolCacheMu.Lock()
	m.toolCache = make(map[string][]*mcpsdk.Tool)
	m.toolCacheMu.Unlock()

	return firstErr
}
