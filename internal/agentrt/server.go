package agentrt

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/coreagent/controller/internal/hierarchy"
	"github.com/coreagent/controller/internal/mcpclient"
)

// Server is the per-agent-instance HTTP surface (spec §4.8 "Surface").
type Server struct {
	engine     *gin.Engine
	httpServer *http.Server

	agentName string
	llm       *LLMClient
	router    *mcpclient.Router
	health    *mcpclient.HealthMonitor
	sessions  *SessionManager
	loop      *ReasoningLoop

	nav        *hierarchy.Navigator
	delegator  *hierarchy.Delegator
	subAgents  map[string]string // child name -> base URL (spec §4.9 "Delegation (distributed)")
}

// NewServer wires the full agent runtime surface for one deployed instance.
// nav models this node's local (in-process) branch of the hierarchy tree;
// subAgents lists the distributed children reachable over HTTP.
func NewServer(agentName string, llm *LLMClient, mux *mcpclient.Multiplexer, router *mcpclient.Router, health *mcpclient.HealthMonitor, sessionTimeout time.Duration, nav *hierarchy.Navigator, subAgents map[string]string) *Server {
	s := &Server{
		agentName: agentName,
		llm:       llm,
		router:    router,
		health:    health,
		sessions:  NewSessionManager(sessionTimeout),
		loop:      NewReasoningLoop(llm, router),
		nav:       nav,
		delegator: hierarchy.NewDelegator(),
		subAgents: subAgents,
	}
	s.engine = gin.New()
	s.engine.Use(gin.Recovery())
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.engine.GET("/health", s.healthHandler)
	s.engine.GET("/api/tags", s.tagsHandler)
	s.engine.POST("/api/generate", s.generateHandler)
	s.engine.POST("/api/chat", s.chatHandler)
	s.engine.GET("/api/sessions/stats", s.sessionStatsHandler)
	s.engine.POST("/api/sessions/cleanup", s.sessionCleanupHandler)
	s.engine.GET("/api/hierarchy/path", s.hierarchyPathHandler)
	s.engine.POST("/api/hierarchy/navigate", s.hierarchyNavigateHandler)
	s.engine.POST("/api/hierarchy/delegate", s.hierarchyDelegateHandler)
}

// Start serves on ln, which cmd/agentrt binds on the port C4 hands it in
// AGENT_PORT.
func (s *Server) Start(ln net.Listener) error {
	s.httpServer = &http.Server{Handler: s.engine}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Sweep evicts idle sessions; called periodically by a ticker in cmd/agentrt
// in addition to the per-request sweep (spec §4.8).
func (s *Server) Sweep() int {
	return s.sessions.Sweep()
}

func (s *Server) healthHandler(c *gin.Context) {
	llmOK := s.llm.Reachable(c.Request.Context())
	mcpOK := s.health == nil || s.health.AllHealthy()
	if !llmOK || !mcpOK {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":        "unhealthy",
			"llm_reachable": llmOK,
			"mcp_ready":     mcpOK,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

// tagsHandler advertises the agent as an LLM "model" under its own name
// (spec §4.8 "Advertise the agent as an LLM model (name = agent name)").
func (s *Server) tagsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"models": []gin.H{{"name": s.agentName}}})
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type chatAPIRequest struct {
	Model     string    `json:"model"`
	Messages  []Message `json:"messages"`
	SessionID string    `json:"session_id"`
	Stream    bool      `json:"stream"`
}

type generateFrame struct {
	Model    string `json:"model"`
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// generateHandler implements POST /api/generate: single-shot completion,
// with no session attached.
func (s *Server) generateHandler(c *gin.Context) {
	s.sessions.Sweep()

	var req generateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	messages := []Message{{Role: RoleUser, Content: req.Prompt}}
	reply, err := s.loop.Run(c.Request.Context(), &messages)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}

	if req.Stream {
		s.streamSingleFrame(c, reply.Content)
		return
	}
	c.JSON(http.StatusOK, generateFrame{Model: s.agentName, Response: reply.Content, Done: true})
}

// chatHandler implements POST /api/chat: multi-turn, session-aware.
func (s *Server) chatHandler(c *gin.Context) {
	s.sessions.Sweep()

	var req chatAPIRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(req.Messages) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "messages must not be empty"})
		return
	}

	var sess *Session
	if req.SessionID != "" {
		found, err := s.sessions.Get(req.SessionID)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		sess = found
		last := req.Messages[len(req.Messages)-1]
		sess.AddMessage(last.Role, last.Content)
	} else {
		last := req.Messages[len(req.Messages)-1]
		sess = s.sessions.Create("", last.Content)
	}

	messages := sess.Snapshot()
	reply, err := s.loop.Run(c.Request.Context(), &messages)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	sess.AddMessage(reply.Role, reply.Content)

	c.Header("X-Session-Id", sess.ID)
	if req.Stream {
		s.streamSingleFrame(c, reply.Content)
		return
	}
	c.JSON(http.StatusOK, generateFrame{Model: s.agentName, Response: reply.Content, Done: true})
}

// streamSingleFrame emits the (already-computed) response as a single
// newline-delimited JSON frame, satisfying the streaming wire shape (spec
// §4.8 "stream=true framed as newline-delimited JSON") without requiring a
// token-level streaming LLM backend.
func (s *Server) streamSingleFrame(c *gin.Context, content string) {
	c.Status(http.StatusOK)
	c.Header("Content-Type", "application/x-ndjson")
	w := bufio.NewWriter(c.Writer)
	defer w.Flush()

	encoded, err := json.Marshal(generateFrame{Model: s.agentName, Response: content, Done: true})
	if err != nil {
		return
	}
	fmt.Fprintf(w, "%s\n", encoded)
}

func (s *Server) sessionStatsHandler(c *gin.Context) {
	count, timeout := s.sessions.Stats()
	c.JSON(http.StatusOK, gin.H{"active_sessions": count, "timeout_seconds": int(timeout.Seconds())})
}

func (s *Server) sessionCleanupHandler(c *gin.Context) {
	evicted := s.sessions.CleanupAll()
	c.JSON(http.StatusOK, gin.H{"evicted": evicted})
}

// hierarchyPathHandler implements GET /api/hierarchy/path: the current
// root-to-current navigation stack (spec §4.9).
func (s *Server) hierarchyPathHandler(c *gin.Context) {
	if s.nav == nil {
		c.JSON(http.StatusOK, gin.H{"path": []string{s.agentName}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"path": s.nav.Path()})
}

type hierarchyNavigateRequest struct {
	Action string `json:"action" binding:"required"` // "switch_to" or "back"
	Child  string `json:"child"`
}

// hierarchyNavigateHandler implements POST /api/hierarchy/navigate:
// switch_to/back over this node's local in-process branch (spec §4.9).
func (s *Server) hierarchyNavigateHandler(c *gin.Context) {
	if s.nav == nil {
		c.JSON(http.StatusConflict, gin.H{"error": "this node has no local hierarchy branch"})
		return
	}
	var req hierarchyNavigateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	switch req.Action {
	case "switch_to":
		if err := s.nav.SwitchTo(req.Child); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	case "back":
		s.nav.Back()
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "action must be switch_to or back"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"path": s.nav.Path()})
}

type hierarchyDelegateRequest struct {
	Child  string `json:"child" binding:"required"`
	Prompt string `json:"prompt" binding:"required"`
}

// hierarchyDelegateHandler implements POST /api/hierarchy/delegate: a
// single-turn call into a distributed child by name, surfacing the
// child's error intact on failure (spec §4.9 "Delegation (distributed)").
func (s *Server) hierarchyDelegateHandler(c *gin.Context) {
	var req hierarchyDelegateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	childURL, ok := s.subAgents[req.Child]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("no sub_agent named %q", req.Child)})
		return
	}
	raw, err := s.delegator.Chat(c.Request.Context(), childURL, req.Child, req.Prompt)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "application/json", raw)
}
