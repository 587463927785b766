package config

import (
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Startup is the controller's own startup configuration (spec §6 table).
type Startup struct {
	Host                 string        `yaml:"host"`
	APIPort              int           `yaml:"api_port"`
	BasePort             int           `yaml:"base_port"`
	MaxAgents            int           `yaml:"max_agents"`
	AgentsDirectory      string        `yaml:"agents_directory"`
	AuthCredential       string        `yaml:"auth_credential"`
	MetricsEnabled       bool          `yaml:"metrics_enabled"`
	RestartOnFailure     bool          `yaml:"restart_on_failure"`
	HealthCheckInterval  time.Duration `yaml:"health_check_interval"`
	SessionTimeout       time.Duration `yaml:"session_timeout"`
}

// DefaultStartup mirrors the defaults implied by spec §3/§6/§8.
func DefaultStartup() *Startup {
	return &Startup{
		Host:                "0.0.0.0",
		APIPort:             8080,
		BasePort:            9000,
		MaxAgents:           100,
		AgentsDirectory:     "./data/agents",
		MetricsEnabled:      true,
		RestartOnFailure:    false,
		HealthCheckInterval: 10 * time.Second,
		SessionTimeout:      30 * time.Minute,
	}
}

// LoadStartup reads an optional YAML file layered under the defaults, then
// layers .env + process environment on top, the same precedence order as
// the teacher's cmd/tarsy/main.go (godotenv.Load then os.Getenv overrides).
func LoadStartup(configPath, envPath string) (*Startup, error) {
	cfg := DefaultStartup()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err == nil {
			var fromFile Startup
			if err := yaml.Unmarshal(ExpandEnv(data), &fromFile); err != nil {
				return nil, &LoadError{File: configPath, Err: err}
			}
			overlayStartup(cfg, &fromFile)
		} else if !os.IsNotExist(err) {
			return nil, &LoadError{File: configPath, Err: err}
		}
	}

	if envPath != "" {
		_ = godotenv.Load(envPath) // best-effort, matches teacher's warn-and-continue behavior
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// overlayStartup copies every non-zero field from src onto dst. The two
// booleans (MetricsEnabled, RestartOnFailure) are always copied, so a file
// that omits them sets them to false.
func overlayStartup(dst, src *Startup) {
	if src.Host != "" {
		dst.Host = src.Host
	}
	if src.APIPort != 0 {
		dst.APIPort = src.APIPort
	}
	if src.BasePort != 0 {
		dst.BasePort = src.BasePort
	}
	if src.MaxAgents != 0 {
		dst.MaxAgents = src.MaxAgents
	}
	if src.AgentsDirectory != "" {
		dst.AgentsDirectory = src.AgentsDirectory
	}
	if src.AuthCredential != "" {
		dst.AuthCredential = src.AuthCredential
	}
	dst.MetricsEnabled = src.MetricsEnabled
	dst.RestartOnFailure = src.RestartOnFailure
	if src.HealthCheckInterval != 0 {
		dst.HealthCheckInterval = src.HealthCheckInterval
	}
	if src.SessionTimeout != 0 {
		dst.SessionTimeout = src.SessionTimeout
	}
}

func applyEnvOverrides(cfg *Startup) {
	if v := os.Getenv("AUTH_CREDENTIAL"); v != "" {
		cfg.AuthCredential = v
	}
	if v := os.Getenv("AGENTS_DIRECTORY"); v != "" {
		cfg.AgentsDirectory = v
	}
	if v := os.Getenv("HOST"); v != "" {
		cfg.Host = v
	}
}
