// Package config implements the bundle manifest parser (C10, §4.10) and the
// controller's own startup configuration (§6). Manifest parsing follows the
// teacher's pkg/config loader idiom: concrete typed sections, environment
// interpolation at load time, defaults merged in with dario.cat/mergo.
package config

import (
	"fmt"
)

// Manifest is the fully-resolved bundle manifest (spec §4.10 section table).
type Manifest struct {
	Agent        AgentSection                `toml:"agent" json:"agent"`
	LLM          LLMSection                  `toml:"llm" json:"llm"`
	Dependencies DependenciesSection         `toml:"dependencies" json:"dependencies"`
	Resources    ResourcesSection            `toml:"resources" json:"resources"`
	Deployment   DeploymentSection           `toml:"deployment" json:"deployment"`
	MCPServers   map[string]MCPServerSection `toml:"mcp_servers" json:"mcp_servers"`
	SubAgents    map[string]SubAgentSection  `toml:"sub_agents" json:"sub_agents"`
}

// AgentSection identifies the agent and its declared skills.
type AgentSection struct {
	Name         string   `toml:"name" json:"name"`
	Version      string   `toml:"version" json:"version"`
	Description  string   `toml:"description" json:"description"`
	Capabilities []string `toml:"capabilities" json:"capabilities"`
	EntryPoint   string   `toml:"entry_point" json:"entry_point"`
}

// LLMSection is the agent-local LLM configuration. It is read from this
// agent's own manifest only; an empty base_url is not filled in from any
// parent agent's configuration.
type LLMSection struct {
	BaseURL        string  `toml:"base_url" json:"base_url"`
	Port           int     `toml:"port" json:"port"`
	Model          string  `toml:"model" json:"model"`
	Temperature    float64 `toml:"temperature" json:"temperature"`
	MaxTokens      int     `toml:"max_tokens" json:"max_tokens"`
	RequestTimeout int     `toml:"request_timeout" json:"request_timeout"` // seconds
}

// DependenciesSection feeds C3's dependency sandbox install step.
type DependenciesSection struct {
	RuntimeVersionConstraint string   `toml:"runtime_version_constraint" json:"runtime_version_constraint"`
	Packages                 []string `toml:"packages" json:"packages"`
}

// ResourcesSection is advisory only — enforcement is out of scope (spec §9).
type ResourcesSection struct {
	CPULimit             string `toml:"cpu_limit" json:"cpu_limit"`
	MemoryLimit          string `toml:"memory_limit" json:"memory_limit"`
	MaxConcurrentRequests int   `toml:"max_concurrent_requests" json:"max_concurrent_requests"`
	HealthCheckInterval  int    `toml:"health_check_interval" json:"health_check_interval"` // seconds
}

// DeploymentSection is C4's restart policy input.
type DeploymentSection struct {
	Port         int  `toml:"port" json:"port"` // 0 = auto
	AutoRestart  bool `toml:"auto_restart" json:"auto_restart"`
	MaxRestarts  int  `toml:"max_restarts" json:"max_restarts"`
	RestartDelay int  `toml:"restart_delay" json:"restart_delay"` // seconds
}

// MCPServerSection declares one C7 binding.
type MCPServerSection struct {
	Transport string            `toml:"transport" json:"transport"` // stdio|http|sse
	Command   string            `toml:"command" json:"command"`
	Args      []string          `toml:"args" json:"args"`
	Env       map[string]string `toml:"env" json:"env"`
	URL       string            `toml:"url" json:"url"`
	Headers   map[string]string `toml:"headers" json:"headers"`
	Timeout   int               `toml:"timeout" json:"timeout"` // seconds
}

// SubAgentSection declares a C9 distributed child.
type SubAgentSection struct {
	Name      string `toml:"name" json:"name"`
	URL       string `toml:"url" json:"url"`
	AuthToken string `toml:"auth_token" json:"auth_token"` // env-interpolated
}

// defaultManifest supplies the fallback values merged under a parsed
// manifest so unset sections never surface as zero values downstream.
func defaultManifest() Manifest {
	return Manifest{
		Deployment: DeploymentSection{
			AutoRestart:  false,
			MaxRestarts:  3,
			RestartDelay: 2,
		},
		LLM: LLMSection{
			Temperature:    0.2,
			RequestTimeout: 60,
		},
	}
}

// Validate enforces spec §4.10: missing agent.name is fatal; everything
// else is typed and defaulted rather than loosely interpreted.
func (m *Manifest) Validate() error {
	if m.Agent.Name == "" {
		return fmt.Errorf("%w: agent.name is required", ErrInvalidManifest)
	}
	for id, srv := range m.MCPServers {
		switch srv.Transport {
		case "stdio":
			if srv.Command == "" {
				return fmt.Errorf("%w: mcp_servers.%s: stdio transport requires command", ErrInvalidManifest, id)
			}
		case "http", "sse":
			if srv.URL == "" {
				return fmt.Errorf("%w: mcp_servers.%s: %s transport requires url", ErrInvalidManifest, id, srv.Transport)
			}
		case "":
			return fmt.Errorf("%w: mcp_servers.%s: missing transport", ErrInvalidManifest, id)
		default:
			return fmt.Errorf("%w: mcp_servers.%s: unknown transport %q", ErrInvalidManifest, id, srv.Transport)
		}
	}
	return nil
}
