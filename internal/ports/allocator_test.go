package ports

import (
	"testing"

	"github.com/coreagent/controller/internal/apierr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireReleaseRoundTrip(t *testing.T) {
	a := New(19000, 2)

	p1, err := a.Acquire("agent-a")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, p1, 19000)
	assert.Less(t, p1, 19002)

	p2, err := a.Acquire("agent-b")
	require.NoError(t, err)
	assert.NotEqual(t, p1, p2)

	_, err = a.Acquire("agent-c")
	assert.ErrorIs(t, err, apierr.ErrNoAvailablePort)

	a.Release(p1)
	p3, err := a.Acquire("agent-c")
	require.NoError(t, err)
	assert.Equal(t, p1, p3)
}

func TestReleaseIsIdempotent(t *testing.T) {
	a := New(19100, 1)
	p, err := a.Acquire("agent-a")
	require.NoError(t, err)

	a.Release(p)
	a.Release(p) // must not panic or error

	assert.Equal(t, 0, a.Count())
}
