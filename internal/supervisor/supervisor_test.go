package supervisor

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coreagent/controller/internal/config"
	"github.com/coreagent/controller/internal/observability"
	"github.com/coreagent/controller/internal/ports"
	"github.com/coreagent/controller/internal/storage"
)

// writeFakeAgentRuntime stands a Python script in for the compiled agentrt
// binary at <installDir>/env/bin/agentrt, the exact path doStart execs.
// Skips the test if python3 isn't on PATH, matching the real sandbox the
// provisioner builds (and its own tests already assume the same thing).
func writeFakeAgentRuntime(t *testing.T, installDir, body string) {
	t.Helper()
	if _, err := exec.LookPath("python3"); err != nil {
		t.Skip("python3 not available on PATH")
	}
	binDir := filepath.Join(installDir, "env", "bin")
	require.NoError(t, os.MkdirAll(binDir, 0o755))
	script := "#!/usr/bin/env python3\n" + body
	require.NoError(t, os.WriteFile(filepath.Join(binDir, AgentRuntimeBinary), []byte(script), 0o755))
}

const healthyAgentBody = `
import os, http.server

port = int(os.environ["AGENT_PORT"])

class Handler(http.server.BaseHTTPRequestHandler):
    def do_GET(self):
        self.send_response(200)
        self.end_headers()
    def log_message(self, *args):
        pass

http.server.HTTPServer(("127.0.0.1", port), Handler).serve_forever()
`

const crashBeforeReadyBody = `
import sys
sys.stderr.write("Traceback: ModuleNotFoundError: no module named 'widgets'\n")
sys.exit(2)
`

const hangsForeverBody = `
import time
time.sleep(60)
`

func newTestSupervisor(t *testing.T) (*Supervisor, *storage.Index, string) {
	t.Helper()
	dir := t.TempDir()
	idx, err := storage.Open(filepath.Join(dir, "checksums.json"))
	require.NoError(t, err)
	alloc := ports.New(19100, 20)
	metrics := observability.New()
	super := New(alloc, idx, metrics, false, 30*time.Minute)
	return super, idx, dir
}

func registerAgent(t *testing.T, idx *storage.Index, installDir, name string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(installDir, 0o755))
	require.NoError(t, idx.Insert(storage.Record{
		Name:       name,
		Hash:       name + "-hash",
		InstallDir: installDir,
		Manifest:   "agent.toml",
	}, false))
	require.NoError(t, os.WriteFile(filepath.Join(installDir, "agent.toml"),
		[]byte("[agent]\nname = \""+name+"\"\nentry_point = \"main.py\"\n"), 0o644))
}

func TestStartWaitsForHealthAndReachesRunning(t *testing.T) {
	oldReady := ReadinessTimeout
	ReadinessTimeout = 3 * time.Second
	defer func() { ReadinessTimeout = oldReady }()

	super, idx, dir := newTestSupervisor(t)
	installDir := filepath.Join(dir, "agents", "ok")
	registerAgent(t, idx, installDir, "ok")
	writeFakeAgentRuntime(t, installDir, healthyAgentBody)

	view, err := super.Start(context.Background(), "ok")
	require.NoError(t, err)
	assert.Equal(t, StateRunning, view.State)
	assert.NotZero(t, view.Port)
	assert.NotZero(t, view.PID)

	// Idempotent: starting an already-running instance is a no-op.
	view2, err := super.Start(context.Background(), "ok")
	require.NoError(t, err)
	assert.Equal(t, view.PID, view2.PID)

	view3, err := super.Stop(context.Background(), "ok")
	require.NoError(t, err)
	assert.Equal(t, StateStopped, view3.State)
}

func TestStartReportsRealExitCodeOnReadinessCrash(t *testing.T) {
	oldReady := ReadinessTimeout
	ReadinessTimeout = 3 * time.Second
	defer func() { ReadinessTimeout = oldReady }()

	super, idx, dir := newTestSupervisor(t)
	installDir := filepath.Join(dir, "agents", "crash")
	registerAgent(t, idx, installDir, "crash")
	writeFakeAgentRuntime(t, installDir, crashBeforeReadyBody)

	view, err := super.Start(context.Background(), "crash")
	require.Error(t, err)
	assert.Equal(t, StateFailed, view.State)
	assert.Equal(t, 2, view.ExitCode)
	require.NotNil(t, view.Diagnostic)
	assert.Equal(t, 2, view.Diagnostic.ExitCode)
	assert.Equal(t, ClassMissingDependency, view.Diagnostic.Classification)
}

func TestStartTimesOutAndKillsHungChild(t *testing.T) {
	oldReady := ReadinessTimeout
	ReadinessTimeout = 200 * time.Millisecond
	defer func() { ReadinessTimeout = oldReady }()

	super, idx, dir := newTestSupervisor(t)
	installDir := filepath.Join(dir, "agents", "hang")
	registerAgent(t, idx, installDir, "hang")
	writeFakeAgentRuntime(t, installDir, hangsForeverBody)

	view, err := super.Start(context.Background(), "hang")
	require.Error(t, err)
	assert.Equal(t, StateFailed, view.State)
	assert.Equal(t, -1, view.ExitCode)
	require.NotNil(t, view.Diagnostic)
	assert.Equal(t, -1, view.Diagnostic.ExitCode)
}

func TestWatchRestartsOnPostReadinessCrash(t *testing.T) {
	oldReady := ReadinessTimeout
	ReadinessTimeout = 3 * time.Second
	defer func() { ReadinessTimeout = oldReady }()

	super, idx, dir := newTestSupervisor(t)
	installDir := filepath.Join(dir, "agents", "flaky")
	registerAgent(t, idx, installDir, "flaky")
	require.NoError(t, os.WriteFile(filepath.Join(installDir, "agent.toml"),
		[]byte("[agent]\nname = \"flaky\"\nentry_point = \"main.py\"\n\n[deployment]\nauto_restart = true\nmax_restarts = 2\nrestart_delay = 1\n"), 0o644))

	// Exits 0 right after announcing readiness once, so doStart reaches
	// StateRunning and watch() (not the readiness path) observes the exit.
	writeFakeAgentRuntime(t, installDir, `
import os, threading, time, http.server

port = int(os.environ["AGENT_PORT"])

class Handler(http.server.BaseHTTPRequestHandler):
    def do_GET(self):
        self.send_response(200)
        self.end_headers()
    def log_message(self, *args):
        pass

server = http.server.HTTPServer(("127.0.0.1", port), Handler)
threading.Thread(target=server.handle_request, daemon=True).start()
time.sleep(0.5)
`)

	view, err := super.Start(context.Background(), "flaky")
	require.NoError(t, err)
	assert.Equal(t, StateRunning, view.State)

	require.Eventually(t, func() bool {
		v, _ := super.Status("flaky")
		return v.State == StateFailed
	}, 3*time.Second, 50*time.Millisecond)

	require.Eventually(t, func() bool {
		v, _ := super.Status("flaky")
		return v.Restarts >= 1
	}, 3*time.Second, 50*time.Millisecond)

	failed, err := super.Status("flaky")
	require.NoError(t, err)
	assert.Equal(t, 0, failed.ExitCode)
}

func TestDiagnoseProbesInstallDirectory(t *testing.T) {
	super, _, dir := newTestSupervisor(t)
	installDir := filepath.Join(dir, "install")
	require.NoError(t, os.MkdirAll(installDir, 0o755))

	inst := newInstance("probe", "hash")
	manifest := &config.Manifest{}
	diag := super.diagnose(inst, manifest, installDir, 7)

	assert.Equal(t, 7, diag.ExitCode)
	assert.Equal(t, "manifest: absent", diag.EnvProbes["manifest"])
	assert.Equal(t, "sandbox: absent", diag.EnvProbes["sandbox"])
	assert.Equal(t, "entry_point: absent", diag.EnvProbes["entry_point"])
}

