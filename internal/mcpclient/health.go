package mcpclient

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// BindingHealth is the health-check result for a single binding.
type BindingHealth struct {
	Server    string    `json:"server"`
	Healthy   bool      `json:"healthy"`
	LastCheck time.Time `json:"last_check"`
	Error     string    `json:"error,omitempty"`
	ToolCount int       `json:"tool_count"`
}

// HealthMonitor periodically probes every binding with a tools/list call
// and attempts session recreation on failure, grounded on the teacher's
// pkg/mcp/health.go HealthMonitor.
type HealthMonitor struct {
	mux      *Multiplexer
	interval time.Duration
	timeout  time.Duration

	mu       sync.RWMutex
	statuses map[string]BindingHealth

	cancel context.CancelFunc
	done   chan struct{}
	log    *slog.Logger
}

// NewHealthMonitor returns a monitor using the spec's default probe
// cadence and per-probe timeout.
func NewHealthMonitor(mux *Multiplexer) *HealthMonitor {
	return &HealthMonitor{
		mux:      mux,
		interval: healthCheckInterval,
		timeout:  healthPingTimeout,
		statuses: make(map[string]BindingHealth),
		log:      slog.Default().With("component", "mcp-health"),
	}
}

// Start launches the background probe loop; a no-op if already running.
func (m *HealthMonitor) Start(ctx context.Context) {
	if m.cancel != nil {
		return
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	go m.loop(ctx)
}

// Stop halts the probe loop and blocks until it exits.
func (m *HealthMonitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	if m.done != nil {
		<-m.done
	}
	m.cancel = nil
	m.done = nil
}

func (m *HealthMonitor) loop(ctx context.Context) {
	defer close(m.done)
	m.checkAll(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.checkAll(ctx)
		}
	}
}

func (m *HealthMonitor) checkAll(ctx context.Context) {
	for name := range m.mux.bindings {
		m.checkOne(ctx, name)
	}
}

func (m *HealthMonitor) checkOne(ctx context.Context, name string) {
	m.mux.InvalidateToolCache(name)

	checkCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	tools, err := m.mux.ListTools(checkCtx, name)
	if err != nil {
		m.log.Debug("mcp health check failed, attempting reinit", "server", name, "error", err)
		reconCtx, reconCancel := context.WithTimeout(ctx, m.timeout)
		if reinitErr := m.mux.recreateSession(reconCtx, name); reinitErr != nil {
			m.setStatus(name, false, reinitErr.Error(), 0)
		} else {
			m.setStatus(name, true, "", 0)
		}
		reconCancel()
		return
	}
	m.setStatus(name, true, "", len(tools))
}

func (m *HealthMonitor) setStatus(name string, healthy bool, errMsg string, toolCount int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses[name] = BindingHealth{
		Server:    name,
		Healthy:   healthy,
		LastCheck: time.Now(),
		Error:     errMsg,
		ToolCount: toolCount,
	}
}

// Status returns a snapshot of every binding's last known health.
func (m *HealthMonitor) Status() map[string]BindingHealth {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]BindingHealth, len(m.statuses))
	for k, v := range m.statuses {
		out[k] = v
	}
	return out
}

// AllHealthy reports whether every configured binding is currently healthy
// (spec §4.8 "/health": "200 if LLM reachable and MCP bindings
// initialized").
func (m *HealthMonitor) AllHealthy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.statuses) < len(m.mux.bindings) {
		return false
	}
	for _, s := range m.statuses {
		if !s.Healthy {
			return false
		}
	}
	return true
}
