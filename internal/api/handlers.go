package api

import (
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/coreagent/controller/internal/apierr"
)

type healthResponse struct {
	Status         string `json:"status"`
	Version        string `json:"version"`
	AuthEnabled    bool   `json:"auth_enabled"`
	MetricsEnabled bool   `json:"metrics_enabled"`
}

func (s *Server) healthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, healthResponse{
		Status:         "healthy",
		Version:        Version,
		AuthEnabled:    s.authEnabled,
		MetricsEnabled: s.metricsEnabled,
	})
}

type agentListEntry struct {
	Name     string `json:"name"`
	Hash     string `json:"hash"`
	State    string `json:"state,omitempty"`
	Port     int    `json:"port,omitempty"`
	Restarts int    `json:"restarts,omitempty"`
}

// listAgentsHandler implements GET /agents: every record plus its current
// instance state, if any (spec §4.5).
func (s *Server) listAgentsHandler(c *gin.Context) {
	records := s.index.All()
	out := make([]agentListEntry, 0, len(records))
	for _, r := range records {
		entry := agentListEntry{Name: r.Name, Hash: r.Hash}
		if v, err := s.super.Status(r.Name); err == nil {
			entry.State = string(v.State)
			entry.Port = v.Port
			entry.Restarts = v.Restarts
		}
		out = append(out, entry)
	}
	c.JSON(http.StatusOK, gin.H{"agents": out})
}

// checkAgentHandler implements GET /agents/check/{name}: existence + hash.
func (s *Server) checkAgentHandler(c *gin.Context) {
	name := c.Param("name")
	rec, ok := s.index.ByName(name)
	if !ok {
		c.JSON(http.StatusOK, gin.H{"exists": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"exists": true, "hash": rec.Hash})
}

// uploadAgentHandler implements POST /agents/upload (multipart: file,
// optional name, optional force).
func (s *Server) uploadAgentHandler(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, apierr.Detail{Detail: "multipart field 'file' is required"})
		return
	}

	name := c.PostForm("name")
	if name == "" {
		name = fileHeader.Filename
	}
	force := c.PostForm("force") == "true"

	data, err := readMultipartFile(fileHeader)
	if err != nil {
		c.JSON(http.StatusBadRequest, apierr.Detail{Detail: "could not read uploaded file"})
		return
	}

	start := time.Now()
	result, err := s.provisioner.Provision(name, data, force)
	s.metrics.DeploymentDuration.WithLabelValues("total").Observe(time.Since(start).Seconds())
	if err != nil {
		status, detail := apierr.AsError(err)
		s.metrics.AgentDeploymentsTotal.WithLabelValues("failure").Inc()
		c.JSON(status, apierr.Detail{Detail: detail})
		return
	}

	outcome := "success"
	if result.Status == "exists" {
		outcome = "cached"
	}
	s.metrics.AgentDeploymentsTotal.WithLabelValues(outcome).Inc()
	c.JSON(http.StatusOK, gin.H{
		"status": result.Status,
		"name":   result.Record.Name,
		"hash":   result.Record.Hash,
	})
}

func readMultipartFile(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

type agentNameRequest struct {
	AgentName string `json:"agent_name" binding:"required"`
}

// startAgentHandler implements POST /agents/start. The underlying
// supervisor operation is already serialized per agent name via C4's lane
// registry, so the API layer needs no mutex of its own (spec §4.5
// "Concurrency").
func (s *Server) startAgentHandler(c *gin.Context) {
	var req agentNameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, apierr.Detail{Detail: "agent_name is required"})
		return
	}
	view, err := s.super.Start(c.Request.Context(), req.AgentName)
	if err != nil {
		status, detail := apierr.AsError(err)
		c.JSON(status, apierr.Detail{Detail: detail})
		return
	}
	c.JSON(http.StatusOK, view)
}

// stopAgentHandler implements POST /agents/stop.
func (s *Server) stopAgentHandler(c *gin.Context) {
	var req agentNameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, apierr.Detail{Detail: "agent_name is required"})
		return
	}
	view, err := s.super.Stop(c.Request.Context(), req.AgentName)
	if err != nil {
		status, detail := apierr.AsError(err)
		c.JSON(status, apierr.Detail{Detail: detail})
		return
	}
	c.JSON(http.StatusOK, view)
}

// restartAgentHandler implements POST /agents/restart.
func (s *Server) restartAgentHandler(c *gin.Context) {
	var req agentNameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, apierr.Detail{Detail: "agent_name is required"})
		return
	}
	view, err := s.super.Restart(c.Request.Context(), req.AgentName)
	if err != nil {
		status, detail := apierr.AsError(err)
		c.JSON(status, apierr.Detail{Detail: detail})
		return
	}
	c.JSON(http.StatusOK, view)
}

// statusHandler implements GET /status/{name}.
func (s *Server) statusHandler(c *gin.Context) {
	view, err := s.super.Status(c.Param("name"))
	if err != nil {
		status, detail := apierr.AsError(err)
		c.JSON(status, apierr.Detail{Detail: detail})
		return
	}
	c.JSON(http.StatusOK, view)
}

// diagnosticsHandler implements GET /agents/{name}/diagnostics: sanitized
// captured stdio plus the last crash classification (spec §4.5, §4.6
// sanitization contract applied before emission).
func (s *Server) diagnosticsHandler(c *gin.Context) {
	view, err := s.super.Status(c.Param("name"))
	if err != nil {
		status, detail := apierr.AsError(err)
		c.JSON(status, apierr.Detail{Detail: detail})
		return
	}
	if view.Diagnostic == nil {
		c.JSON(http.StatusOK, gin.H{"agent_name": view.AgentName, "diagnostic": nil})
		return
	}

	sanitized := gin.H{
		"exit_code":      view.Diagnostic.ExitCode,
		"stdout_excerpt": s.redactor.SanitizeAny(view.Diagnostic.StdoutExcerpt),
		"stderr_excerpt": s.redactor.SanitizeAny(view.Diagnostic.StderrExcerpt),
		"classification": view.Diagnostic.Classification,
		"remediation":    view.Diagnostic.Remediation,
		"env_probes":     view.Diagnostic.EnvProbes,
	}
	c.JSON(http.StatusOK, gin.H{"agent_name": view.AgentName, "diagnostic": sanitized})
}
