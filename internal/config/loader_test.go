package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadManifestTOML(t *testing.T) {
	dir := t.TempDir()
	const doc = `
[agent]
name = "echo"
version = "1.0.0"

[llm]
model = "llama3"

[deployment]
port = 0
auto_restart = true
max_restarts = 5

[mcp_servers.fs]
transport = "stdio"
command = "mcp-fs"
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "agent.toml"), []byte(doc), 0o644))

	m, err := LoadManifest(dir)
	require.NoError(t, err)
	assert.Equal(t, "echo", m.Agent.Name)
	assert.True(t, m.Deployment.AutoRestart)
	assert.Equal(t, 5, m.Deployment.MaxRestarts)
	assert.Equal(t, "stdio", m.MCPServers["fs"].Transport)
}

func TestLoadManifestMissingIsFatal(t *testing.T) {
	dir := t.TempDir()
	_, err := LoadManifest(dir)
	assert.ErrorIs(t, err, ErrManifestNotFound)
}

func TestLoadManifestMissingAgentNameIsFatal(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "agent.json"), []byte(`{"agent":{}}`), 0o644))

	_, err := LoadManifest(dir)
	assert.ErrorIs(t, err, ErrInvalidManifest)
}

func TestLoadManifestEnvInterpolation(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("ECHO_MODEL", "mistral")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "agent.toml"), []byte(`
[agent]
name = "echo"
[llm]
model = "${ECHO_MODEL}"
`), 0o644))

	m, err := LoadManifest(dir)
	require.NoError(t, err)
	assert.Equal(t, "mistral", m.LLM.Model)
}
