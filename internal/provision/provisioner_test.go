package provision

import (
	"archive/zip"
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/coreagent/controller/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildZip(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range files {
		f, err := w.Create(name)
		require.NoError(t, err)
		_, err = f.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func newProvisioner(t *testing.T) (*Provisioner, *storage.Index) {
	t.Helper()
	dir := t.TempDir()
	idx, err := storage.Open(filepath.Join(dir, "checksums.json"))
	require.NoError(t, err)
	return New(filepath.Join(dir, "agents"), idx, slog.Default()), idx
}

func TestProvisionMissingManifest(t *testing.T) {
	p, _ := newProvisioner(t)
	data := buildZip(t, map[string]string{"main.py": "print('hi')"})

	_, err := p.Provision("", data, false)
	assert.ErrorContains(t, err, "missing_manifest")
}

func TestProvisionDeployThenCached(t *testing.T) {
	p, idx := newProvisioner(t)
	data := buildZip(t, map[string]string{
		"agent.toml": "[agent]\nname = \"echo\"\n",
		"main.py":    "print('hi')",
	})

	res, err := p.Provision("", data, false)
	require.NoError(t, err)
	assert.Equal(t, "deployed", res.Status)
	assert.True(t, idx.RecordExists("echo"))

	res2, err := p.Provision("", data, false)
	require.NoError(t, err)
	assert.Equal(t, "exists", res2.Status)
	assert.Equal(t, res.Record.Hash, res2.Record.Hash)
}

func TestProvisionRemoveThenRedeploySameHash(t *testing.T) {
	p, idx := newProvisioner(t)
	data := buildZip(t, map[string]string{
		"agent.toml": "[agent]\nname = \"echo\"\n",
	})

	res, err := p.Provision("", data, false)
	require.NoError(t, err)
	require.NoError(t, idx.Remove("echo"))

	res2, err := p.Provision("", data, false)
	require.NoError(t, err)
	assert.Equal(t, res.Record.Hash, res2.Record.Hash)
}

func TestExtractZipRejectsPathEscape(t *testing.T) {
	dir := t.TempDir()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	f, _ := w.Create("../evil.txt")
	_, _ = f.Write([]byte("pwned"))
	require.NoError(t, w.Close())

	err := extractZip(buf.Bytes(), filepath.Join(dir, "install"))
	assert.Error(t, err)
	_, statErr := os.Stat(filepath.Join(dir, "evil.txt"))
	assert.True(t, os.IsNotExist(statErr))
}
