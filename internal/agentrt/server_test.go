package agentrt

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coreagent/controller/internal/hierarchy"
	"github.com/coreagent/controller/internal/mcpclient"
)

func newTestHierarchyServer(t *testing.T, subAgents map[string]string) *Server {
	t.Helper()
	llm := NewLLMClient("http://127.0.0.1:1", "test-model", 0.2, 256, time.Second)
	router := mcpclient.NewRouter(nil, nil)

	tree, err := hierarchy.NewTree("root", map[string]*hierarchy.Node{
		"root":    {Name: "root", Children: []string{"billing"}},
		"billing": {Name: "billing"},
	})
	require.NoError(t, err)
	nav := hierarchy.NewNavigator(tree, nil)

	return NewServer("root", llm, nil, router, nil, time.Minute, nav, subAgents)
}

func TestHierarchyPathHandlerReportsRoot(t *testing.T) {
	s := newTestHierarchyServer(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/hierarchy/path", nil)
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"root"`)
}

func TestHierarchyNavigateSwitchToAndBack(t *testing.T) {
	s := newTestHierarchyServer(t, nil)

	body := bytes.NewBufferString(`{"action":"switch_to","child":"billing"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/hierarchy/navigate", body)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"billing"`)

	body = bytes.NewBufferString(`{"action":"back"}`)
	req = httptest.NewRequest(http.MethodPost, "/api/hierarchy/navigate", body)
	req.Header.Set("Content-Type", "application/json")
	w = httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHierarchyNavigateRejectsUnknownChild(t *testing.T) {
	s := newTestHierarchyServer(t, nil)

	body := bytes.NewBufferString(`{"action":"switch_to","child":"ghost"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/hierarchy/navigate", body)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHierarchyDelegateUnknownChildReturns404(t *testing.T) {
	s := newTestHierarchyServer(t, map[string]string{"known": "http://127.0.0.1:9"})

	body := bytes.NewBufferString(`{"child":"ghost","prompt":"hi"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/hierarchy/delegate", body)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTagsHandlerAdvertisesAgentNameAsModel(t *testing.T) {
	s := newTestHierarchyServer(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/tags", nil)
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"root"`)
}
