// Package api implements the Management API (C5, spec §4.5): the single
// externally visible entry point to the provisioner (C3) and supervisor
// (C4), authenticated via C6 and instrumented via C11. Grounded on the
// teacher's pkg/api/server.go wiring shape, standardized on gin rather than
// the teacher's stale echo/v5 dependency (see the design ledger).
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/coreagent/controller/internal/observability"
	"github.com/coreagent/controller/internal/provision"
	"github.com/coreagent/controller/internal/security"
	"github.com/coreagent/controller/internal/storage"
	"github.com/coreagent/controller/internal/supervisor"
)

// version.AppName-equivalent for this repo; set once at startup.
var Version = "dev"

// Server is the controller's HTTP management surface.
type Server struct {
	engine     *gin.Engine
	httpServer *http.Server

	provisioner *provision.Provisioner
	super       *supervisor.Supervisor
	index       *storage.Index
	auth        *security.Authenticator
	redactor    *security.Redactor
	metrics     *observability.Metrics

	authEnabled    bool
	metricsEnabled bool
}

// NewServer wires the management API against its five dependencies.
func NewServer(
	provisioner *provision.Provisioner,
	super *supervisor.Supervisor,
	index *storage.Index,
	auth *security.Authenticator,
	metrics *observability.Metrics,
	metricsEnabled bool,
) *Server {
	s := &Server{
		provisioner:    provisioner,
		super:          super,
		index:          index,
		auth:           auth,
		redactor:       security.NewRedactor(),
		metrics:        metrics,
		authEnabled:    auth.Enabled(),
		metricsEnabled: metricsEnabled,
	}
	s.engine = gin.New()
	s.engine.Use(gin.Recovery(), s.metricsMiddleware())
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.engine.GET("/health", s.healthHandler)
	if s.metricsEnabled {
		s.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{})))
	}

	authed := s.engine.Group("/")
	authed.Use(s.authMiddleware())
	{
		authed.GET("/agents", s.listAgentsHandler)
		authed.GET("/agents/check/:name", s.checkAgentHandler)
		authed.POST("/agents/upload", s.uploadAgentHandler)
		authed.POST("/agents/start", s.startAgentHandler)
		authed.POST("/agents/stop", s.stopAgentHandler)
		authed.POST("/agents/restart", s.restartAgentHandler)
		authed.GET("/status/:name", s.statusHandler)
		authed.GET("/agents/:name/diagnostics", s.diagnosticsHandler)
	}
}

// authMiddleware enforces spec §4.5's constant-time credential check on
// every route except /health and /metrics (already excluded by not being in
// this group).
func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.authEnabled {
			c.Next()
			return
		}
		presented := c.GetHeader(security.CredentialHeader)
		if !s.auth.Check(presented) {
			s.metrics.AuthAttemptsTotal.WithLabelValues("failure").Inc()
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "unauthorized"})
			return
		}
		s.metrics.AuthAttemptsTotal.WithLabelValues("success").Inc()
		c.Next()
	}
}

// metricsMiddleware records request counts and latency for every route
// (spec §4.11 api_requests_total / api_request_duration_seconds).
func (s *Server) metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := statusBucket(c.Writer.Status())
		s.metrics.APIRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		s.metrics.APIRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

func statusBucket(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}

// Start serves on addr and blocks until the server stops; the returned error
// follows ListenAndServe's usual semantics (http.ErrServerClosed after
// Shutdown).
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.engine}
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server (spec §4.12).
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
