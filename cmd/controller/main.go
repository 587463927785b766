// Command controller is the deployment controller entry point: it wires
// C1 (port allocation), C2 (checksum index), C3 (provisioning), C4
// (supervision), C5 (management API), C6 (auth), C11 (observability) and
// C12 (graceful shutdown). Grounded on the teacher's cmd/tarsy/main.go
// wiring order (load config, init dependencies, start server) with its
// shutdown sequencing replaced entirely — see the design ledger.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/coreagent/controller/internal/api"
	"github.com/coreagent/controller/internal/config"
	"github.com/coreagent/controller/internal/observability"
	"github.com/coreagent/controller/internal/ports"
	"github.com/coreagent/controller/internal/provision"
	"github.com/coreagent/controller/internal/security"
	"github.com/coreagent/controller/internal/shutdown"
	"github.com/coreagent/controller/internal/storage"
	"github.com/coreagent/controller/internal/supervisor"
	"github.com/coreagent/controller/pkg/version"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONTROLLER_CONFIG"), "Path to controller startup YAML config")
	envPath := flag.String("env", os.Getenv("CONTROLLER_ENV_FILE"), "Path to a .env file to layer over defaults")
	debug := flag.Bool("debug", os.Getenv("CONTROLLER_DEBUG") != "", "Enable debug logging")
	flag.Parse()

	observability.Init(*debug)
	log := observability.For("controller")

	cfg, err := config.LoadStartup(*configPath, *envPath)
	if err != nil {
		log.Error("failed to load startup configuration", "error", err)
		os.Exit(1)
	}

	if err := os.MkdirAll(cfg.AgentsDirectory, 0o755); err != nil {
		log.Error("failed to create agents directory", "dir", cfg.AgentsDirectory, "error", err)
		os.Exit(1)
	}

	index, err := storage.Open(filepath.Join(cfg.AgentsDirectory, "checksums.json"))
	if err != nil {
		log.Error("failed to open checksum index", "error", err)
		os.Exit(1)
	}

	metrics := observability.New()
	alloc := ports.New(cfg.BasePort, cfg.MaxAgents)
	super := supervisor.New(alloc, index, metrics, cfg.RestartOnFailure, cfg.SessionTimeout)
	prov := provision.New(cfg.AgentsDirectory, index, observability.For("provision"))
	auth := security.NewAuthenticator(cfg.AuthCredential)

	api.Version = version.Full()
	server := api.NewServer(prov, super, index, auth, metrics, cfg.MetricsEnabled)

	addr := cfg.Host + ":" + strconv.Itoa(cfg.APIPort)
	go func() {
		if err := server.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("management API server exited", "error", err)
		}
	}()
	log.Info("controller listening", "addr", addr, "auth_enabled", auth.Enabled(), "metrics_enabled", cfg.MetricsEnabled)

	coord := shutdown.New(supervisor.StopGrace+5*time.Second, 2*(supervisor.StopGrace+5*time.Second), log)
	coord.Register(shutdown.PhaseStopAccepting, "management-api", func(ctx context.Context) error {
		return server.Shutdown(ctx)
	})
	coord.Register(shutdown.PhaseInstances, "running-instances", func(ctx context.Context) error {
		var lastErr error
		for _, v := range super.List() {
			if v.State != supervisor.StateRunning {
				continue
			}
			if _, err := super.Stop(ctx, v.AgentName); err != nil {
				log.Warn("failed to stop instance during shutdown", "agent", v.AgentName, "error", err)
				lastErr = err
			}
		}
		return lastErr
	})
	coord.Register(shutdown.PhasePersist, "checksum-index", func(ctx context.Context) error {
		return index.Flush()
	})
	coord.Register(shutdown.PhasePersist, "log-sink", func(ctx context.Context) error {
		return shutdown.FlushStdout()
	})

	clean := coord.WaitForSignal(context.Background())
	log.Info("controller shutdown complete", "clean", clean)
	os.Exit(shutdown.ExitCode(clean))
}

