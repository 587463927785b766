package mcpclient

import (
	"context"
	"fmt"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// Descriptor is the routing-relevant projection of an MCP tool (spec §4.7
// "an ordered array of {name, description, inputSchema} objects").
type Descriptor struct {
	Server      string
	Name        string
	Description string
	InputSchema any
}

// Router provides the global find(tool_name) -> (server, descriptor) view
// across every binding's cached tool list (spec §4.7 "Cross-server
// registry"). Built fresh from ListAllTools on each Refresh so it always
// reflects the multiplexer's current cache.
type Router struct {
	mux      *Multiplexer
	priority []string
	byTool   map[string][]Descriptor // tool name -> all servers exporting it
}

// NewRouter returns a Router bound to mux, breaking ties by priority (the
// binding order supplied by the caller; cmd/agentrt uses the sorted
// mcp_servers ids).
func NewRouter(mux *Multiplexer, priority []string) *Router {
	return &Router{mux: mux, priority: priority, byTool: make(map[string][]Descriptor)}
}

// Refresh rebuilds the registry from every binding's current tool cache.
func (r *Router) Refresh(ctx context.Context) error {
	all, err := r.mux.ListAllTools(ctx)
	if err != nil {
		return err
	}
	byTool := make(map[string][]Descriptor)
	for server, tools := range all {
		for _, t := range tools {
			d := Descriptor{Server: server, Name: t.Name, Description: t.Description}
			if t.InputSchema != nil {
				d.InputSchema = t.InputSchema
			}
			byTool[t.Name] = append(byTool[t.Name], d)
		}
	}
	r.byTool = byTool
	return nil
}

// Find resolves a bare tool name to the server that should handle it. When
// more than one binding exports the same tool name, the binding earliest in
// the configured priority order wins — a tie-break that is stable across
// restarts because priority is fixed at manifest-load time.
func (r *Router) Find(tool string) (Descriptor, error) {
	candidates, ok := r.byTool[tool]
	if !ok || len(candidates) == 0 {
		return Descriptor{}, fmt.Errorf("no mcp binding exports tool %q", tool)
	}
	if len(candidates) == 1 {
		return candidates[0], nil
	}

	rank := make(map[string]int, len(r.priority))
	for i, name := range r.priority {
		rank[name] = i
	}
	best := candidates[0]
	bestRank, ok := rank[best.Server]
	if !ok {
		bestRank = len(r.priority)
	}
	for _, c := range candidates[1:] {
		cr, ok := rank[c.Server]
		if !ok {
			cr = len(r.priority)
		}
		if cr < bestRank {
			best, bestRank = c, cr
		}
	}
	return best, nil
}

// Call resolves tool to its owning server and invokes it.
func (r *Router) Call(ctx context.Context, tool string, args map[string]any) (*mcpsdk.CallToolResult, error) {
	d, err := r.Find(tool)
	if err != nil {
		return nil, err
	}
	return r.mux.CallTool(ctx, d.Server, tool, args)
}
