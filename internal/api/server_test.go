package api

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coreagent/controller/internal/observability"
	"github.com/coreagent/controller/internal/ports"
	"github.com/coreagent/controller/internal/provision"
	"github.com/coreagent/controller/internal/security"
	"github.com/coreagent/controller/internal/storage"
	"github.com/coreagent/controller/internal/supervisor"
)

func newTestServer(t *testing.T, credential string) *Server {
	t.Helper()
	dir := t.TempDir()
	idx, err := storage.Open(filepath.Join(dir, "checksums.json"))
	require.NoError(t, err)

	metrics := observability.New()
	alloc := ports.New(9100, 50)
	super := supervisor.New(alloc, idx, metrics, false, 30*time.Minute)
	prov := provision.New(filepath.Join(dir, "agents"), idx, observability.For("test"))
	auth := security.NewAuthenticator(credential)

	return NewServer(prov, super, idx, auth, metrics, true)
}

func TestHealthHandlerUnauthenticated(t *testing.T) {
	s := newTestServer(t, "s3cret")
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAgentsRequiresCredentialWhenEnabled(t *testing.T) {
	s := newTestServer(t, "s3cret")
	req := httptest.NewRequest(http.MethodGet, "/agents", nil)
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAgentsSucceedsWithCorrectCredential(t *testing.T) {
	s := newTestServer(t, "s3cret")
	req := httptest.NewRequest(http.MethodGet, "/agents", nil)
	req.Header.Set(security.CredentialHeader, "s3cret")
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAgentsOpenWhenAuthDisabled(t *testing.T) {
	s := newTestServer(t, "")
	req := httptest.NewRequest(http.MethodGet, "/agents", nil)
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCheckUnknownAgentReportsNotExists(t *testing.T) {
	s := newTestServer(t, "")
	req := httptest.NewRequest(http.MethodGet, "/agents/check/ghost", nil)
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"exists":false`)
}

func TestStatusUnknownAgentReturns404(t *testing.T) {
	s := newTestServer(t, "")
	req := httptest.NewRequest(http.MethodGet, "/status/ghost", nil)
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
