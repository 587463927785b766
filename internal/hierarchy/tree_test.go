package hierarchy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildTestTree(t *testing.T) *Tree {
	t.Helper()
	nodes := map[string]*Node{
		"root":  {Name: "root", Children: []string{"billing", "infra"}},
		"billing": {Name: "billing"},
		"infra":   {Name: "infra", Children: []string{"network"}},
		"network": {Name: "network"},
	}
	tree, err := NewTree("root", nodes)
	require.NoError(t, err)
	return tree
}

func TestNewTreeRejectsUnknownRoot(t *testing.T) {
	_, err := NewTree("missing", map[string]*Node{"root": {Name: "root"}})
	assert.Error(t, err)
}

func TestNewTreeRejectsUnknownChild(t *testing.T) {
	nodes := map[string]*Node{
		"root": {Name: "root", Children: []string{"ghost"}},
	}
	_, err := NewTree("root", nodes)
	assert.Error(t, err)
}

func TestIsChildDirectOnly(t *testing.T) {
	tree := buildTestTree(t)
	assert.True(t, tree.IsChild("root", "billing"))
	assert.True(t, tree.IsChild("infra", "network"))
	assert.False(t, tree.IsChild("root", "network"))
}

func TestNavigatorSwitchToAndBack(t *testing.T) {
	tree := buildTestTree(t)
	var warnings []string
	nav := NewNavigator(tree, func(msg string) { warnings = append(warnings, msg) })

	assert.Equal(t, "root", nav.Current())

	require.NoError(t, nav.SwitchTo("infra"))
	assert.Equal(t, "infra", nav.Current())

	require.NoError(t, nav.SwitchTo("network"))
	assert.Equal(t, "network", nav.Current())
	assert.Equal(t, []string{"root", "infra", "network"}, nav.Path())

	nav.Back()
	assert.Equal(t, "infra", nav.Current())

	nav.Back()
	nav.Back() // at root: no-op with warning
	assert.Equal(t, "root", nav.Current())
	assert.Len(t, warnings, 1)
}

func TestNavigatorSwitchToRejectsNonChild(t *testing.T) {
	tree := buildTestTree(t)
	nav := NewNavigator(tree, nil)
	err := nav.SwitchTo("network")
	assert.Error(t, err)
}

func TestNavigatorMemoryIsolation(t *testing.T) {
	tree := buildTestTree(t)
	nav := NewNavigator(tree, nil)

	nav.CurrentMemory().Append("root message")
	require.NoError(t, nav.SwitchTo("billing"))
	nav.CurrentMemory().Append("billing message")

	nav.Back()
	assert.Equal(t, []string{"root message"}, nav.CurrentMemory().Snapshot())
}
