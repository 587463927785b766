// Package shutdown implements C12: a phase-ordered coordinator that drains
// the controller on SIGINT/SIGTERM. Grounded on haasonsaas-nexus's
// internal/infra shutdown coordinator (the teacher's own cmd/tarsy/main.go
// has no signal handling at all — it blocks directly on router.Run) and
// generalized with a watchdog that forces exit when phases overrun.
package shutdown

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

// Phase orders shutdown work. Handlers in an earlier phase complete (or
// time out) before the next phase starts; handlers within a phase run
// concurrently.
type Phase int

const (
	// PhaseStopAccepting closes the management API's listener first so no
	// new work is admitted while the rest of the sequence runs.
	PhaseStopAccepting Phase = iota
	// PhaseInstances fans the stop signal out to every running agent
	// instance (spec §4.4 stop semantics).
	PhaseInstances
	// PhaseConnections closes MCP bindings held open by agent runtimes.
	PhaseConnections
	// PhasePersist flushes durable state (the checksum index) and the log
	// sink last, once nothing else can mutate them.
	PhasePersist
	phaseCount
)

func (p Phase) String() string {
	switch p {
	case PhaseStopAccepting:
		return "stop-accepting"
	case PhaseInstances:
		return "instances"
	case PhaseConnections:
		return "connections"
	case PhasePersist:
		return "persist"
	default:
		return fmt.Sprintf("phase-%d", int(p))
	}
}

// Func performs one unit of shutdown work. It receives a context that is
// cancelled if its handler's timeout (or the watchdog) expires.
type Func func(ctx context.Context) error

type handler struct {
	name string
	fn   Func
}

// Coordinator sequences shutdown handlers across phases and bounds the
// total shutdown time with a watchdog.
type Coordinator struct {
	mu       sync.Mutex
	handlers [phaseCount][]handler

	phaseTimeout   time.Duration
	watchdogBudget time.Duration
	log            *slog.Logger

	timedOut atomic.Bool // set when any handler overran its timeout during Run
}

// New returns a Coordinator. phaseTimeout bounds each individual phase;
// watchdogBudget bounds the whole sequence (spec §4.12's default is 2x the
// instance stop grace period — callers pass that in explicitly).
func New(phaseTimeout, watchdogBudget time.Duration, log *slog.Logger) *Coordinator {
	if phaseTimeout <= 0 {
		phaseTimeout = 30 * time.Second
	}
	if watchdogBudget <= 0 {
		watchdogBudget = 2 * phaseTimeout
	}
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{phaseTimeout: phaseTimeout, watchdogBudget: watchdogBudget, log: log}
}

// Register adds a named handler to a phase.
func (c *Coordinator) Register(phase Phase, name string, fn Func) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if phase < 0 || phase >= phaseCount {
		phase = PhasePersist
	}
	c.handlers[phase] = append(c.handlers[phase], handler{name: name, fn: fn})
}

// WaitForSignal blocks until SIGINT or SIGTERM arrives, then runs the
// registered shutdown sequence. It returns true if every handler completed
// within the watchdog budget ("clean" shutdown) and false if the watchdog
// fired and forced the process through ("forced" shutdown) — the caller
// uses this to choose an exit code.
func (c *Coordinator) WaitForSignal(ctx context.Context) bool {
	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-sigCtx.Done()
	c.log.Info("shutdown signal received")
	return c.Run()
}

// Run executes every registered phase in order and returns whether it
// completed cleanly within the watchdog budget. A handler that had to be
// abandoned at its timeout also makes the run not clean.
func (c *Coordinator) Run() bool {
	c.timedOut.Store(false)
	watchdogCtx, cancel := context.WithTimeout(context.Background(), c.watchdogBudget)
	defer cancel()

	done := make(chan struct{})
	go func() {
		c.runPhases(watchdogCtx)
		close(done)
	}()

	select {
	case <-done:
		if c.timedOut.Load() {
			c.log.Warn("shutdown complete with abandoned handlers, forcing exit")
			return false
		}
		c.log.Info("shutdown complete")
		return true
	case <-watchdogCtx.Done():
		c.log.Warn("shutdown watchdog expired, forcing exit", "budget", c.watchdogBudget)
		return false
	}
}

func (c *Coordinator) runPhases(ctx context.Context) {
	for phase := Phase(0); phase < phaseCount; phase++ {
		c.mu.Lock()
		hs := c.handlers[phase]
		c.mu.Unlock()
		if len(hs) == 0 {
			continue
		}
		c.log.Info("shutdown phase starting", "phase", phase.String(), "handlers", len(hs))
		c.runPhase(ctx, phase, hs)
		if ctx.Err() != nil {
			return
		}
	}
}

func (c *Coordinator) runPhase(ctx context.Context, phase Phase, hs []handler) {
	var wg sync.WaitGroup
	for _, h := range hs {
		wg.Add(1)
		go func(h handler) {
			defer wg.Done()
			c.runHandler(ctx, phase, h)
		}(h)
	}
	wg.Wait()
}

func (c *Coordinator) runHandler(ctx context.Context, phase Phase, h handler) {
	handlerCtx, cancel := context.WithTimeout(ctx, c.phaseTimeout)
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- h.fn(handlerCtx) }()

	select {
	case err := <-errCh:
		if err != nil {
			c.log.Warn("shutdown handler failed", "phase", phase.String(), "handler", h.name, "error", err)
			return
		}
		c.log.Debug("shutdown handler complete", "phase", phase.String(), "handler", h.name)
	case <-handlerCtx.Done():
		c.timedOut.Store(true)
		c.log.Warn("shutdown handler timed out", "phase", phase.String(), "handler", h.name, "timeout", c.phaseTimeout)
	}
}

// ExitCode maps a clean/forced outcome onto the process exit codes the
// controller's entrypoint reports (spec §4.12 "exit with a distinct code
// on clean vs. forced shutdown").
func ExitCode(clean bool) int {
	if clean {
		return 0
	}
	return 1
}

// FlushStdout best-effort syncs the process's stdout log sink. os.Stdout
// may be a pipe or terminal that doesn't support fsync; that error is not
// actionable and is ignored.
func FlushStdout() error {
	_ = os.Stdout.Sync()
	return nil
}
