package mcpclient

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRouterFindSingleCandidate(t *testing.T) {
	r := NewRouter(nil, []string{"a", "b"})
	r.byTool = map[string][]Descriptor{
		"search": {{Server: "a", Name: "search"}},
	}
	d, err := r.Find("search")
	require.NoError(t, err)
	assert.Equal(t, "a", d.Server)
}

func TestRouterFindBreaksTiesByPriority(t *testing.T) {
	r := NewRouter(nil, []string{"primary", "secondary"})
	r.byTool = map[string][]Descriptor{
		"search": {
			{Server: "secondary", Name: "search"},
			{Server: "primary", Name: "search"},
		},
	}
	d, err := r.Find("search")
	require.NoError(t, err)
	assert.Equal(t, "primary", d.Server)
}

func TestRouterFindUnknownToolErrors(t *testing.T) {
	r := NewRouter(nil, nil)
	_, err := r.Find("missing")
	assert.Error(t, err)
}

func TestRouterFindUnrankedServerLosesToRanked(t *testing.T) {
	r := NewRouter(nil, []string{"ranked"})
	r.byTool = map[string][]Descriptor{
		"search": {
			{Server: "unranked", Name: "search"},
			{Server: "ranked", Name: "search"},
		},
	}
	d, err := r.Find("search")
	require.NoError(t, err)
	assert.Equal(t, "ranked", d.Server)
}
