// Command agentrt is the per-instance agent runtime binary: the process
// the controller (cmd/controller) spawns for every started agent (spec
// §4.4, §9 "the controller always spawns a separate process per agent").
// It wires C7 (MCP multiplexer), C8 (the HTTP surface), C9 (hierarchy) and
// shuts itself down gracefully on the SIGINT the supervisor sends it.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/coreagent/controller/internal/agentrt"
	"github.com/coreagent/controller/internal/config"
	"github.com/coreagent/controller/internal/hierarchy"
	"github.com/coreagent/controller/internal/mcpclient"
	"github.com/coreagent/controller/internal/observability"
	"github.com/coreagent/controller/internal/shutdown"
	"github.com/coreagent/controller/pkg/version"
)

func main() {
	observability.Init(os.Getenv("AGENT_DEBUG") != "")
	log := observability.For("agentrt")

	port, err := strconv.Atoi(os.Getenv("AGENT_PORT"))
	if err != nil {
		log.Error("AGENT_PORT missing or invalid", "error", err)
		os.Exit(1)
	}

	manifest, err := config.LoadManifest(".")
	if err != nil {
		log.Error("failed to load manifest", "error", err)
		os.Exit(1)
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		log.Error("failed to bind allocated port", "port", port, "error", err)
		os.Exit(1)
	}

	// Binding priority follows sorted server ids: the manifest's
	// mcp_servers table has no ordinal field of its own, so tie-breaking
	// among tools with the same name falls back to a stable, declaration-
	// independent order rather than map iteration order (spec §4.7
	// "stable across restarts").
	priority := make([]string, 0, len(manifest.MCPServers))
	for id := range manifest.MCPServers {
		priority = append(priority, id)
	}
	sort.Strings(priority)

	mux := mcpclient.New(manifest.MCPServers, priority, manifest.Agent.Name, manifest.Agent.Version)
	initCtx, initCancel := context.WithTimeout(context.Background(), 30*time.Second)
	mux.Initialize(initCtx)
	initCancel()
	if failed := mux.FailedBindings(); len(failed) > 0 {
		log.Warn("some mcp bindings failed to connect at startup", "failed", failed)
	}

	router := mcpclient.NewRouter(mux, priority)
	refreshCtx, refreshCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := router.Refresh(refreshCtx); err != nil {
		log.Warn("initial tool registry refresh incomplete", "error", err)
	}
	refreshCancel()

	health := mcpclient.NewHealthMonitor(mux)
	healthCtx, healthCancel := context.WithCancel(context.Background())
	health.Start(healthCtx)

	requestTimeout := time.Duration(manifest.LLM.RequestTimeout) * time.Second
	llm := agentrt.NewLLMClient(manifest.LLM.BaseURL, manifest.LLM.Model, manifest.LLM.Temperature, manifest.LLM.MaxTokens, requestTimeout)

	sessionTimeout := 30 * time.Minute
	if v := os.Getenv("AGENT_SESSION_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			sessionTimeout = d
		}
	}

	// This node's local branch is a single root with no in-process
	// children — every declared sub_agent in this manifest is a
	// distributed child reached over HTTP (spec §4.9 "Delegation
	// (distributed)"), not a local switch_to/back target. The navigator
	// still models the root so /api/hierarchy/path and future local
	// branches have somewhere to live.
	tree, err := hierarchy.NewTree(manifest.Agent.Name, map[string]*hierarchy.Node{
		manifest.Agent.Name: {Name: manifest.Agent.Name},
	})
	if err != nil {
		log.Error("failed to build hierarchy root", "error", err)
		os.Exit(1)
	}
	nav := hierarchy.NewNavigator(tree, func(msg string) { log.Warn("navigation warning", "detail", msg) })

	subAgents := make(map[string]string, len(manifest.SubAgents))
	for id, sub := range manifest.SubAgents {
		subAgents[id] = sub.URL
	}

	srv := agentrt.NewServer(manifest.Agent.Name, llm, mux, router, health, sessionTimeout, nav, subAgents)

	go func() {
		if err := srv.Start(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("agent runtime server exited", "error", err)
		}
	}()
	log.Info("agent runtime listening", "agent", manifest.Agent.Name, "port", port, "version", version.Full())

	sweepDone := make(chan struct{})
	if sessionTimeout > 0 {
		sweepTicker := time.NewTicker(sessionTimeout / 2)
		go func() {
			defer sweepTicker.Stop()
			for {
				select {
				case <-sweepTicker.C:
					if n := srv.Sweep(); n > 0 {
						log.Debug("swept idle sessions", "count", n)
					}
				case <-sweepDone:
					return
				}
			}
		}()
	} else {
		// A non-positive timeout means every request gets a fresh session
		// (spec §8 boundary case): there is nothing idle to sweep
		// periodically, and sessionTimeout/2 would panic NewTicker anyway.
		log.Debug("session timeout is non-positive; skipping periodic idle sweep")
	}

	coord := shutdown.New(15*time.Second, 30*time.Second, log)
	coord.Register(shutdown.PhaseStopAccepting, "http-server", func(ctx context.Context) error {
		return srv.Shutdown(ctx)
	})
	coord.Register(shutdown.PhaseConnections, "health-monitor", func(ctx context.Context) error {
		healthCancel()
		health.Stop()
		return nil
	})
	coord.Register(shutdown.PhaseConnections, "mcp-multiplexer", func(ctx context.Context) error {
		return mux.Close()
	})
	coord.Register(shutdown.PhasePersist, "log-sink", func(ctx context.Context) error {
		return shutdown.FlushStdout()
	})

	clean := coord.WaitForSignal(context.Background())
	close(sweepDone)
	os.Exit(shutdown.ExitCode(clean))
}
