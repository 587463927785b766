package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/coreagent/controller/internal/apierr"
	"github.com/coreagent/controller/internal/config"
	"github.com/coreagent/controller/internal/observability"
	"github.com/coreagent/controller/internal/ports"
	"github.com/coreagent/controller/internal/storage"
)

// ReadinessTimeout bounds how long Start waits for the child to begin
// answering /health (spec §4.4, default 10s). A var, not a const, so tests
// can shrink it instead of waiting out the real default.
var ReadinessTimeout = 10 * time.Second

// StopGrace is how long Stop waits after a graceful signal before forcing
// termination (spec §4.4, default 30s). A var for the same reason as
// ReadinessTimeout.
var StopGrace = 30 * time.Second

// AgentRuntimeBinary is the entry point spawned for every instance — the
// controller always spawns a *separate process* per agent (spec §9, the
// source's inconsistency is explicitly resolved this way).
var AgentRuntimeBinary = "agentrt"

// Supervisor implements C4. One lane per agent name serializes conflicting
// mutations while independent agents progress in parallel (spec §5).
type Supervisor struct {
	mu        sync.RWMutex
	instances map[string]*Instance

	lanes          *laneRegistry
	ports          *ports.Allocator
	index          *storage.Index
	metrics        *observability.Metrics
	log            *slog.Logger
	restartOn      bool
	sessionTimeout time.Duration
}

// New constructs a Supervisor. restartOnFailure enables automatic restarts
// for every instance (spec §6 startup option); an instance restarts when
// either it or the manifest's deployment.auto_restart is true, so a manifest
// cannot turn restarts off while restartOnFailure is set.
// sessionTimeout is forwarded to every spawned instance as AGENT_SESSION_TIMEOUT
// (spec §6 startup option of the same name) so the agent runtime's own idle
// session sweep stays in sync with the controller's configuration instead of
// defaulting independently.
func New(alloc *ports.Allocator, index *storage.Index, metrics *observability.Metrics, restartOnFailure bool, sessionTimeout time.Duration) *Supervisor {
	return &Supervisor{
		instances:      make(map[string]*Instance),
		lanes:          newLaneRegistry(),
		ports:          alloc,
		index:          index,
		metrics:        metrics,
		log:            observability.For("supervisor"),
		restartOn:      restartOnFailure,
		sessionTimeout: sessionTimeout,
	}
}

func (s *Supervisor) instanceFor(name, hash string) *Instance {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.instances[name]
	if !ok {
		i = newInstance(name, hash)
		s.instances[name] = i
	}
	return i
}

// Status returns a point-in-time view of one agent's instance.
func (s *Supervisor) Status(name string) (View, error) {
	s.mu.RLock()
	i, ok := s.instances[name]
	s.mu.RUnlock()
	if !ok {
		return View{}, apierr.NotFound("agent_not_found", apierr.ErrAgentNotFound)
	}
	return i.View(), nil
}

// List returns every tracked instance (spec §4.4 "list() -> all instances").
func (s *Supervisor) List() []View {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]View, 0, len(s.instances))
	for _, i := range s.instances {
		out = append(out, i.View())
	}
	return out
}

// Start transitions stopped->starting->running (spec §4.4). A start on an
// already-running instance is a no-op (spec §8 idempotence law).
func (s *Supervisor) Start(ctx context.Context, name string) (View, error) {
	rec, ok := s.index.ByName(name)
	if !ok {
		return View{}, apierr.NotFound("agent_not_found", apierr.ErrAgentNotFound)
	}
	manifest, err := config.LoadManifest(rec.InstallDir)
	if err != nil {
		return View{}, apierr.Input("invalid_manifest", err)
	}

	var result View
	var resultErr error
	s.lanes.do(ctx, name, func(ctx context.Context) {
		result, resultErr = s.doStart(ctx, name, rec, manifest)
	})
	return result, resultErr
}

func (s *Supervisor) doStart(ctx context.Context, name string, rec storage.Record, manifest *config.Manifest) (View, error) {
	inst := s.instanceFor(name, rec.Hash)

	if inst.getState() == StateRunning {
		return inst.View(), nil // idempotent no-op, spec §8
	}

	inst.setState(StateStarting)

	port, err := s.ports.Acquire(name)
	if err != nil {
		inst.mu.Lock()
		inst.lastError = err.Error()
		inst.diagnostic = buildDiagnostic(-1, "", "", manifest.Dependencies.RuntimeVersionConstraint)
		inst.diagnostic.Classification = ClassPortInUse
		inst.mu.Unlock()
		inst.setState(StateFailed)
		s.metrics.AgentStartsTotal.WithLabelValues("failure").Inc()
		return inst.View(), err
	}

	cmd := exec.CommandContext(context.Background(), filepath.Join(rec.InstallDir, "env", "bin", AgentRuntimeBinary))
	cmd.Dir = rec.InstallDir
	cmd.Env = append(os.Environ(),
		fmt.Sprintf("AGENT_PORT=%d", port),
		fmt.Sprintf("AGENT_MANIFEST=%s", filepath.Join(rec.InstallDir, rec.Manifest)),
		fmt.Sprintf("VIRTUAL_ENV=%s", filepath.Join(rec.InstallDir, "env")),
		fmt.Sprintf("AGENT_SESSION_TIMEOUT=%s", s.sessionTimeout),
	)
	cmd.Stdout = inst.stdout
	cmd.Stderr = inst.stderr

	if err := cmd.Start(); err != nil {
		s.ports.Release(port)
		inst.mu.Lock()
		inst.lastError = err.Error()
		inst.mu.Unlock()
		inst.setState(StateFailed)
		s.metrics.AgentStartsTotal.WithLabelValues("failure").Inc()
		return inst.View(), apierr.Process("child_failed_to_start", err)
	}

	inst.mu.Lock()
	inst.cmd = cmd
	inst.port = port
	inst.pid = cmd.Process.Pid
	inst.startedAt = time.Now()
	inst.mu.Unlock()

	exited := make(chan error, 1)
	go func() { exited <- cmd.Wait() }()

	if ready, childExited, exitErr := s.waitReady(port, exited); !ready {
		if !childExited && cmd.Process != nil {
			// Still running past the deadline with no readiness signal:
			// kill it rather than leave an orphaned process holding the
			// port we're about to release back to the allocator.
			_ = cmd.Process.Kill()
		}
		s.ports.Release(port)

		exitCode := -1
		if childExited {
			exitCode = exitCodeOf(exitErr)
		}
		diag := s.diagnose(inst, manifest, rec.InstallDir, exitCode)
		inst.mu.Lock()
		inst.exitCode = exitCode
		inst.diagnostic = diag
		inst.mu.Unlock()
		inst.setState(StateFailed)
		s.metrics.AgentStartsTotal.WithLabelValues("failure").Inc()
		s.maybeRestart(name, manifest)
		return inst.View(), apierr.Process("child_crashed_during_readiness", fmt.Errorf("%s", diag.Classification))
	}

	inst.setState(StateRunning)
	s.metrics.AllocatedPortsTotal.Set(float64(s.ports.Count()))
	s.metrics.AgentStartsTotal.WithLabelValues("success").Inc()

	go s.watch(name, inst, manifest, exited)

	return inst.View(), nil
}

// waitReady polls /health up to ReadinessTimeout. ready is true once a 200
// comes back. If the child exits first, childExited is true and exitErr is
// the error cmd.Wait() returned (nil for a clean exit(0)) — the caller needs
// this to populate the instance's real exit code rather than a placeholder.
// If the deadline simply elapses with the child still running, childExited
// is false and exitErr is nil.
func (s *Supervisor) waitReady(port int, exited <-chan error) (ready, childExited bool, exitErr error) {
	deadline := time.After(ReadinessTimeout)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	client := &http.Client{Timeout: 2 * time.Second}
	url := fmt.Sprintf("http://127.0.0.1:%d/health", port)

	for {
		select {
		case err := <-exited:
			return false, true, err
		case <-deadline:
			return false, false, nil
		case <-ticker.C:
			resp, err := client.Get(url)
			if err != nil {
				continue
			}
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return true, false, nil
			}
		}
	}
}

// watch waits for a running instance to exit unexpectedly and applies the
// restart policy (spec §4.4 "Restart policy").
func (s *Supervisor) watch(name string, inst *Instance, manifest *config.Manifest, exited <-chan error) {
	err := <-exited
	if inst.getState() != StateRunning {
		return // stop() already handled this exit
	}

	inst.mu.Lock()
	port := inst.port
	exitCode := exitCodeOf(err)
	inst.exitCode = exitCode
	stderr := inst.stderr.String()
	inst.mu.Unlock()

	s.ports.Release(port)
	tag, remediation := classify(stderr)
	inst.mu.Lock()
	inst.diagnostic = &Diagnostic{
		ExitCode:       exitCode,
		StdoutExcerpt:  inst.stdout.String(),
		StderrExcerpt:  stderr,
		Classification: tag,
		Remediation:    remediation,
	}
	inst.mu.Unlock()
	inst.setState(StateFailed)

	s.maybeRestart(name, manifest)
}

func (s *Supervisor) maybeRestart(name string, manifest *config.Manifest) {
	if !manifest.Deployment.AutoRestart && !s.restartOn {
		return
	}
	maxRestarts := manifest.Deployment.MaxRestarts
	if maxRestarts == 0 {
		maxRestarts = 3
	}

	s.mu.RLock()
	inst := s.instances[name]
	s.mu.RUnlock()
	if inst == nil {
		return
	}

	inst.mu.Lock()
	inst.restarts++
	shouldRestart := inst.restarts <= maxRestarts
	inst.mu.Unlock()

	if !shouldRestart {
		s.log.Warn("restart cap reached, settling in failed", "agent", name)
		return
	}

	delay := time.Duration(manifest.Deployment.RestartDelay) * time.Second
	if delay <= 0 {
		delay = 2 * time.Second
	}
	time.AfterFunc(delay, func() {
		s.metrics.AgentRestartsTotal.WithLabelValues("attempted").Inc()
		_, _ = s.Start(context.Background(), name)
	})
}

// Stop sends a graceful termination signal; if still alive after StopGrace
// it forces termination (spec §4.4). Idempotent on an already-stopped
// instance.
func (s *Supervisor) Stop(ctx context.Context, name string) (View, error) {
	var result View
	var resultErr error
	s.lanes.do(ctx, name, func(ctx context.Context) {
		result, resultErr = s.doStop(name)
	})
	return result, resultErr
}

func (s *Supervisor) doStop(name string) (View, error) {
	s.mu.RLock()
	inst, ok := s.instances[name]
	s.mu.RUnlock()
	if !ok {
		return View{}, apierr.NotFound("agent_not_found", apierr.ErrAgentNotFound)
	}

	if inst.getState() != StateRunning {
		return inst.View(), nil // idempotent, spec §8
	}
	inst.setState(StateStopping)

	inst.mu.RLock()
	cmd := inst.cmd
	port := inst.port
	inst.mu.RUnlock()

	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Signal(os.Interrupt)
		done := make(chan struct{})
		go func() { _ = cmd.Wait(); close(done) }()
		select {
		case <-done:
		case <-time.After(StopGrace):
			_ = cmd.Process.Kill()
		}
	}

	s.ports.Release(port)
	s.metrics.AllocatedPortsTotal.Set(float64(s.ports.Count()))
	inst.setState(StateStopped)
	s.metrics.AgentStopsTotal.WithLabelValues("success").Inc()
	return inst.View(), nil
}

// Restart is stop-then-start (spec §4.4).
func (s *Supervisor) Restart(ctx context.Context, name string) (View, error) {
	if _, err := s.Stop(ctx, name); err != nil {
		return View{}, err
	}
	v, err := s.Start(ctx, name)
	if err == nil {
		s.metrics.AgentRestartsTotal.WithLabelValues("success").Inc()
	}
	return v, err
}

// diagnose assembles the full structured diagnostic on a readiness failure
// (spec §4.4 items 1-4), including the install-directory presence probes.
func (s *Supervisor) diagnose(inst *Instance, manifest *config.Manifest, installDir string, exitCode int) *Diagnostic {
	inst.mu.RLock()
	stdout := inst.stdout.String()
	stderr := inst.stderr.String()
	inst.mu.RUnlock()

	d := buildDiagnostic(exitCode, stdout, stderr, manifest.Dependencies.RuntimeVersionConstraint)

	manifestPresent := manifestFileExists(installDir)
	sandboxPresent := dirExists(filepath.Join(installDir, "env"))
	d.EnvProbes["manifest"] = ensureAbsent("manifest", manifestPresent)
	d.EnvProbes["sandbox"] = ensureAbsent("sandbox", sandboxPresent)
	d.EnvProbes["entry_point"] = ensureAbsent("entry_point", manifest.Agent.EntryPoint != "")
	d.EnvProbes["dependencies_declared"] = ensureAbsent("dependencies", len(manifest.Dependencies.Packages) > 0)
	return d
}

func manifestFileExists(installDir string) bool {
	for _, name := range config.ManifestFilenames {
		if _, err := os.Stat(filepath.Join(installDir, name)); err == nil {
			return true
		}
	}
	return false
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func exitCodeOf(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if ok := asExitError(err, &exitErr); ok {
		return exitErr.ExitCode()
	}
	return -1
}

func asExitError(err error, target **exec.ExitError) bool {
	ee, ok := err.(*exec.ExitError)
	if ok {
		*target = ee
	}
	return ok
}
