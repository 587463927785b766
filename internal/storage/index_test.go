package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInsertLookupRoundTrip(t *testing.T) {
	dir := t.TempDir()
	idx, err := Open(filepath.Join(dir, "checksums.json"))
	require.NoError(t, err)

	rec := Record{Name: "echo", Hash: "abc123", InstallDir: dir, CreatedAt: time.Now()}
	require.NoError(t, idx.Insert(rec, false))

	got, ok := idx.Lookup("abc123")
	require.True(t, ok)
	assert.Equal(t, "echo", got.Name)

	// Re-opening from disk must reflect the atomic write.
	reopened, err := Open(filepath.Join(dir, "checksums.json"))
	require.NoError(t, err)
	got2, ok := reopened.Lookup("abc123")
	require.True(t, ok)
	assert.Equal(t, "echo", got2.Name)
}

func TestInsertDuplicateHashRejectedWithoutForce(t *testing.T) {
	dir := t.TempDir()
	idx, err := Open(filepath.Join(dir, "checksums.json"))
	require.NoError(t, err)

	rec := Record{Name: "echo", Hash: "abc123"}
	require.NoError(t, idx.Insert(rec, false))

	err = idx.Insert(Record{Name: "echo2", Hash: "abc123"}, false)
	assert.Error(t, err)

	// force overwrites
	require.NoError(t, idx.Insert(Record{Name: "echo2", Hash: "abc123"}, true))
	got, _ := idx.Lookup("abc123")
	assert.Equal(t, "echo2", got.Name)
}

func TestRemoveUnknownAgentFails(t *testing.T) {
	dir := t.TempDir()
	idx, err := Open(filepath.Join(dir, "checksums.json"))
	require.NoError(t, err)

	assert.Error(t, idx.Remove("nope"))
}
