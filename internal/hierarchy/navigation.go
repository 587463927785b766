package hierarchy

import (
	"fmt"
	"sync"
)

// MemoryBuffer holds one node's isolated conversation memory. Switching
// nodes neither copies nor clears a peer's buffer (spec §4.9 "Memory
// isolation"); returning to a previously visited node restores it intact.
type MemoryBuffer struct {
	mu       sync.Mutex
	Messages []string
}

func (b *MemoryBuffer) Append(msg string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Messages = append(b.Messages, msg)
}

func (b *MemoryBuffer) Snapshot() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.Messages))
	copy(out, b.Messages)
	return out
}

// Navigator holds a path from root to the currently addressed node, plus
// every visited node's isolated memory (spec §4.9 "Navigation", "Memory
// isolation"). The agent runtime holds a single Navigator, so every request
// to that instance shares the same path; it is not scoped per chat session.
type Navigator struct {
	tree *Tree

	mu      sync.Mutex
	path    []string // root ... current, always non-empty after construction
	memory  map[string]*MemoryBuffer
	onWarn  func(string)
}

// NewNavigator starts a navigator addressed at the tree's root.
func NewNavigator(tree *Tree, onWarn func(string)) *Navigator {
	if onWarn == nil {
		onWarn = func(string) {}
	}
	return &Navigator{
		tree:   tree,
		path:   []string{tree.Root()},
		memory: make(map[string]*MemoryBuffer),
		onWarn: onWarn,
	}
}

// Current returns the name of the currently addressed node.
func (n *Navigator) Current() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.path[len(n.path)-1]
}

// SwitchTo moves to a declared child of the current node (spec §4.9
// "switch_to(child) fails if child is not a declared descendant").
func (n *Navigator) SwitchTo(child string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	current := n.path[len(n.path)-1]
	if !n.tree.IsChild(current, child) {
		return fmt.Errorf("%q is not a declared child of %q", child, current)
	}
	n.path = append(n.path, child)
	return nil
}

// Back pops one level; a no-op with a warning at the root (spec §4.9 "back
// at the root is a no-op with a warning").
func (n *Navigator) Back() {
	n.mu.Lock()
	defer n.mu.Unlock()

	if len(n.path) == 1 {
		n.onWarn(fmt.Sprintf("already at root agent %q, cannot go back", n.path[0]))
		return
	}
	n.path = n.path[:len(n.path)-1]
}

// Path returns the full root-to-current path.
func (n *Navigator) Path() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.path))
	copy(out, n.path)
	return out
}

// MemoryFor returns the isolated memory buffer for a node, creating it on
// first access.
func (n *Navigator) MemoryFor(name string) *MemoryBuffer {
	n.mu.Lock()
	defer n.mu.Unlock()
	buf, ok := n.memory[name]
	if !ok {
		buf = &MemoryBuffer{}
		n.memory[name] = buf
	}
	return buf
}

// CurrentMemory is shorthand for MemoryFor(Current()).
func (n *Navigator) CurrentMemory() *MemoryBuffer {
	return n.MemoryFor(n.Current())
}
