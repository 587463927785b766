// Package ports implements the controller's port registry (C1, §4.1): an
// ordered set of TCP ports in a configured range, each either free or held
// by a running instance.
package ports

import (
	"fmt"
	"net"
	"sync"

	"github.com/coreagent/controller/internal/apierr"
)

// Allocator hands out ports within [Base, Base+Size) to the process
// supervisor. Mutated only under a single mutex, per spec §5.
type Allocator struct {
	mu      sync.Mutex
	base    int
	size    int
	held    map[int]string // port -> agent name holding it
}

// New constructs an Allocator over the half-open range [base, base+size).
func New(base, size int) *Allocator {
	return &Allocator{base: base, size: size, held: make(map[int]string)}
}

// Acquire probes sequentially from base upward, binding and immediately
// releasing each candidate (the supervisor passes the chosen port to the
// child in AGENT_PORT and the child binds it — see internal/supervisor). Returns
// apierr.ErrNoAvailablePort if the entire range is already held.
func (a *Allocator) Acquire(owner string) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for p := a.base; p < a.base+a.size; p++ {
		if _, taken := a.held[p]; taken {
			continue
		}
		if !probe(p) {
			continue
		}
		a.held[p] = owner
		return p, nil
	}
	return 0, apierr.New(apierr.ClassResource, 500, "no_available_port", apierr.ErrNoAvailablePort)
}

// AcquireSpecific honours a requested port if it is free and bindable.
func (a *Allocator) AcquireSpecific(owner string, port int) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, taken := a.held[port]; taken {
		return 0, fmt.Errorf("port %d already held", port)
	}
	if !probe(port) {
		return 0, fmt.Errorf("port %d not bindable", port)
	}
	a.held[port] = owner
	return port, nil
}

// Release frees a port. Idempotent: releasing an already-free port is a
// no-op, matching the contract in spec §4.1.
func (a *Allocator) Release(port int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.held, port)
}

// InUse reports whether a port is currently leased to any instance.
func (a *Allocator) InUse(port int) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.held[port]
	return ok
}

// Count returns the number of leased ports (for the allocated_ports_total
// gauge, §4.11).
func (a *Allocator) Count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.held)
}

// probe attempts a bind-then-close on localhost:port, the standard
// readiness-probe idiom used elsewhere in this codebase for health checks.
func probe(port int) bool {
	l, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return false
	}
	_ = l.Close()
	return true
}
