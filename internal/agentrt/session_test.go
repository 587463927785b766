package agentrt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionManagerCreateAndGet(t *testing.T) {
	m := NewSessionManager(time.Minute)
	s := m.Create("be helpful", "hello")
	got, err := m.Get(s.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, len(got.Snapshot()))
}

func TestSessionManagerGetUnknownFails(t *testing.T) {
	m := NewSessionManager(time.Minute)
	_, err := m.Get("missing")
	assert.Error(t, err)
}

func TestSessionManagerSweepEvictsIdleSessions(t *testing.T) {
	m := NewSessionManager(10 * time.Millisecond)
	s := m.Create("", "hello")
	time.Sleep(20 * time.Millisecond)

	evicted := m.Sweep()
	assert.Equal(t, 1, evicted)

	_, err := m.Get(s.ID)
	assert.Error(t, err)
}

func TestSessionManagerCleanupAllEvictsEverything(t *testing.T) {
	m := NewSessionManager(time.Hour)
	m.Create("", "a")
	m.Create("", "b")

	n := m.CleanupAll()
	assert.Equal(t, 2, n)

	count, _ := m.Stats()
	assert.Equal(t, 0, count)
}
