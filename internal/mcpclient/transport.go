// Package mcpclient implements the MCP Client Multiplexer (C7, spec §4.7):
// stdio/HTTP/SSE transports to MCP servers, the initialize/tools-list/
// tools-call handshake, per-binding health, and the cross-server tool
// registry. Grounded on the teacher's pkg/mcp package.
package mcpclient

import (
	"crypto/tls"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/coreagent/controller/internal/config"
)

// createTransport builds the SDK transport for one mcp_servers.* binding,
// dispatching on the declared transport type (spec §4.7 "Transports").
func createTransport(cfg config.MCPServerSection) (mcpsdk.Transport, error) {
	switch cfg.Transport {
	case "stdio":
		return createStdioTransport(cfg)
	case "http":
		return createHTTPTransport(cfg)
	case "sse":
		return createSSETransport(cfg)
	default:
		return nil, fmt.Errorf("unsupported mcp transport: %q", cfg.Transport)
	}
}

func createStdioTransport(cfg config.MCPServerSection) (*mcpsdk.CommandTransport, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("stdio transport requires command")
	}

	cmd := exec.Command(cfg.Command, cfg.Args...)

	env := os.Environ()
	for k, v := range cfg.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	cmd.Env = env

	return &mcpsdk.CommandTransport{Command: cmd}, nil
}

func createHTTPTransport(cfg config.MCPServerSection) (*mcpsdk.StreamableClientTransport, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("http transport requires url")
	}
	transport := &mcpsdk.StreamableClientTransport{Endpoint: cfg.URL}
	if len(cfg.Headers) > 0 || cfg.Timeout > 0 {
		transport.HTTPClient = buildHTTPClient(cfg)
	}
	return transport, nil
}

func createSSETransport(cfg config.MCPServerSection) (*mcpsdk.SSEClientTransport, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("sse transport requires url")
	}
	transport := &mcpsdk.SSEClientTransport{Endpoint: cfg.URL}
	if len(cfg.Headers) > 0 || cfg.Timeout > 0 {
		transport.HTTPClient = buildHTTPClient(cfg)
	}
	return transport, nil
}

// buildHTTPClient wraps http.DefaultTransport with the binding's declared
// headers and timeout (spec §4.7 "session-level headers preserved").
func buildHTTPClient(cfg config.MCPServerSection) *http.Client {
	base := http.DefaultTransport.(*http.Transport).Clone()
	base.TLSClientConfig = &tls.Config{MinVersion: tls.VersionTLS12}

	client := &http.Client{Transport: base}
	if len(cfg.Headers) > 0 {
		client.Transport = &headerTransport{base: client.Transport, headers: cfg.Headers}
	}
	if cfg.Timeout > 0 {
		client.Timeout = time.Duration(cfg.Timeout) * time.Second
	}
	return client
}

// headerTransport injects the manifest's declared static headers (e.g. an
// Authorization bearer value) on every outbound request.
type headerTransport struct {
	base    http.RoundTripper
	headers map[string]string
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}
	return t.base.RoundTrip(req)
}
