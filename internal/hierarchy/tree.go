// Package hierarchy implements the Agent Hierarchy / Router (C9, spec
// §4.9): the rooted agent tree, per-instance navigation stack, and
// distributed child delegation. New domain logic — the teacher has no
// equivalent tree concept — built in the teacher's idiom (explicit
// structs, mutex-guarded maps, name-based dereferencing rather than
// parent/child pointers, per spec §4.9's "declare children by name").
package hierarchy

import (
	"fmt"
	"sync"
)

// Node is one agent in the hierarchy. Children are referenced by name, not
// by pointer, so the tree can be rebuilt from a manifest reload without
// invalidating cross-references (spec §4.9 "each node may declare children
// by name in its manifest").
type Node struct {
	Name         string
	Children     []string // declared child names, manifest order
	DelegateURL  string   // non-empty if this node runs as a distributed child (spec §4.9 "Delegation")
}

// Tree is the full agent hierarchy for one controller instance.
type Tree struct {
	mu    sync.RWMutex
	root  string
	nodes map[string]*Node
}

// NewTree builds a tree from root and every reachable node, keyed by name.
func NewTree(root string, nodes map[string]*Node) (*Tree, error) {
	if _, ok := nodes[root]; !ok {
		return nil, fmt.Errorf("root agent %q not found among declared nodes", root)
	}
	t := &Tree{root: root, nodes: make(map[string]*Node, len(nodes))}
	for name, n := range nodes {
		t.nodes[name] = n
	}
	if err := t.validateChildren(); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Tree) validateChildren() error {
	for name, n := range t.nodes {
		for _, child := range n.Children {
			if _, ok := t.nodes[child]; !ok {
				return fmt.Errorf("agent %q declares unknown child %q", name, child)
			}
		}
	}
	return nil
}

// Root returns the root agent's name.
func (t *Tree) Root() string { return t.root }

// Node looks up a node by name.
func (t *Tree) Node(name string) (*Node, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n, ok := t.nodes[name]
	if !ok {
		return nil, fmt.Errorf("unknown agent %q", name)
	}
	return n, nil
}

// IsChild reports whether candidate is a declared child of parent (spec
// §4.9 "switch_to(child) fails if child is not a declared descendant").
func (t *Tree) IsChild(parent, candidate string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n, ok := t.nodes[parent]
	if !ok {
		return false
	}
	for _, c := range n.Children {
		if c == candidate {
			return true
		}
	}
	return false
}
